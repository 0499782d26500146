package testkit

import (
	"bytes"
	"encoding/binary"

	"github.com/tolelom/tolchain-testkit/crypto"
)

// Propose is the consensus message a validator broadcasts to announce the
// transactions it wants included in the next block. The testkit always
// fixes Round at 1 and always has validator 0 act as leader, since there is
// no real network over which a later round could be negotiated.
type Propose struct {
	ValidatorID int      `json:"validator_id"`
	Height      int64    `json:"height"`
	Round       int      `json:"round"`
	PrevHash    string   `json:"prev_hash"`
	TxHashes    []string `json:"tx_hashes"`
	Signature   string   `json:"signature"`
}

func (p *Propose) signingBytes() string {
	var buf bytes.Buffer
	var lenBuf [4]byte
	buf.WriteString(p.PrevHash)
	for _, h := range p.TxHashes {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(h)))
		buf.Write(lenBuf[:])
		buf.WriteString(h)
	}
	return buf.String()
}

// Hash returns a deterministic hash identifying this exact proposal.
func (p *Propose) Hash() string {
	return crypto.Hash([]byte(p.signingBytes()))
}

// Verify checks the propose signature against the claimed validator's
// consensus public key.
func (p *Propose) Verify(consensusPub crypto.PublicKey) error {
	return crypto.Verify(consensusPub, []byte(p.signingBytes()), p.Signature)
}

// Precommit is a validator's vote that it accepted the block resulting from
// a given Propose.
type Precommit struct {
	ValidatorID int    `json:"validator_id"`
	Height      int64  `json:"height"`
	Round       int    `json:"round"`
	ProposeHash string `json:"propose_hash"`
	BlockHash   string `json:"block_hash"`
	Signature   string `json:"signature"`
}

func (pc *Precommit) signingBytes() string {
	return pc.ProposeHash + ":" + pc.BlockHash
}

// Verify checks the precommit signature against the claimed validator's
// consensus public key.
func (pc *Precommit) Verify(consensusPub crypto.PublicKey) error {
	return crypto.Verify(consensusPub, []byte(pc.signingBytes()), pc.Signature)
}
