// Package testkit provides an in-process, single-binary harness for testing
// blockchain services without networking or real consensus: a fixed leader
// proposes, every configured validator precommits, and blocks are produced
// synchronously by direct method calls instead of a timer-driven loop.
package testkit

import (
	"github.com/tolelom/tolchain-testkit/chain"
	"github.com/tolelom/tolchain-testkit/crypto"
)

// PanicError marks a violation of the testkit's own calling contract (for
// example, asking a non-validator node to sign a propose) rather than an
// ordinary runtime failure. Tests that exercise these contracts recover the
// panic and assert on its message.
type PanicError struct {
	Msg string
}

func (e *PanicError) Error() string { return e.Msg }

// Node is a single simulated network participant. Every node, validator or
// auditor, holds two independent ed25519 key pairs: a consensus key used to
// sign Propose/Precommit messages, and a service key used as the "from"
// address of transactions and as the block proposer identity. Only
// validators may sign consensus messages; auditors hold keys but never
// propose or precommit.
type Node struct {
	consensusPriv crypto.PrivateKey
	consensusPub  crypto.PublicKey
	servicePriv   crypto.PrivateKey
	servicePub    crypto.PublicKey
	validatorID   *int
}

// NewAuditor creates a node with freshly generated keys that does not
// participate in consensus.
func NewAuditor() *Node {
	cpriv, cpub, err := crypto.GenerateKeyPair()
	if err != nil {
		panic(err) // entropy source failure; nothing a caller can recover from
	}
	spriv, spub, err := crypto.GenerateKeyPair()
	if err != nil {
		panic(err)
	}
	return &Node{
		consensusPriv: cpriv,
		consensusPub:  cpub,
		servicePriv:   spriv,
		servicePub:    spub,
	}
}

// NewValidator creates a node with freshly generated keys and assigns it
// validator slot id.
func NewValidator(id int) *Node {
	n := NewAuditor()
	n.validatorID = &id
	return n
}

// PublicKeys returns the pair of public keys that identify this node within
// a stored configuration.
func (n *Node) PublicKeys() chain.ValidatorKeys {
	return chain.ValidatorKeys{
		ConsensusKey: n.consensusPub.Hex(),
		ServiceKey:   n.servicePub.Hex(),
	}
}

// ValidatorID returns this node's validator slot and true, or (0, false) if
// the node is currently an auditor.
func (n *Node) ValidatorID() (int, bool) {
	if n.validatorID == nil {
		return 0, false
	}
	return *n.validatorID, true
}

// ChangeRole reassigns the node's validator slot. Pass nil to demote the
// node to auditor.
func (n *Node) ChangeRole(id *int) {
	n.validatorID = id
}

// ServicePublicKey returns the hex-encoded service public key, used as the
// "from"/proposer address on transactions and blocks.
func (n *Node) ServicePublicKey() string { return n.servicePub.Hex() }

// ConsensusPublicKey returns the hex-encoded consensus public key.
func (n *Node) ConsensusPublicKey() string { return n.consensusPub.Hex() }

// ServicePrivateKey exposes the node's service signing key, e.g. for
// building test wallets around a validator's own identity.
func (n *Node) ServicePrivateKey() crypto.PrivateKey { return n.servicePriv }

// CreatePropose builds and signs a Propose message for the block at height,
// built atop lastHash, carrying txHashes. It panics with a *PanicError if n
// is not currently a validator: only validators may author proposals.
func (n *Node) CreatePropose(height int64, lastHash string, txHashes []string) *Propose {
	id, ok := n.ValidatorID()
	if !ok {
		panic(&PanicError{Msg: "testkit: node is not a validator, cannot create a propose"})
	}
	p := &Propose{
		ValidatorID: id,
		Height:      height,
		Round:       1,
		PrevHash:    lastHash,
		TxHashes:    append([]string(nil), txHashes...),
	}
	p.Signature = crypto.Sign(n.consensusPriv, []byte(p.signingBytes()))
	return p
}

// CreatePrecommit builds and signs a Precommit for propose, attesting to
// blockHash as the result of executing it. It panics with a *PanicError if n
// is not currently a validator.
func (n *Node) CreatePrecommit(propose *Propose, blockHash string) *Precommit {
	id, ok := n.ValidatorID()
	if !ok {
		panic(&PanicError{Msg: "testkit: node is not a validator, cannot create a precommit"})
	}
	pc := &Precommit{
		ValidatorID: id,
		Height:      propose.Height,
		Round:       propose.Round,
		ProposeHash: propose.Hash(),
		BlockHash:   blockHash,
	}
	pc.Signature = crypto.Sign(n.consensusPriv, []byte(pc.signingBytes()))
	return pc
}
