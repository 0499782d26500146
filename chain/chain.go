// Package chain adapts the core blockchain and state layers into the single
// collaborator contract the testkit engine drives: fork a speculative view,
// turn it into a patch, and merge the patch back once a block is accepted.
package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/tolelom/tolchain-testkit/config"
	"github.com/tolelom/tolchain-testkit/core"
	"github.com/tolelom/tolchain-testkit/crypto"
	"github.com/tolelom/tolchain-testkit/events"
	"github.com/tolelom/tolchain-testkit/storage"
	"github.com/tolelom/tolchain-testkit/vm"
)

const (
	schemaKeyActiveConfig  = "config:active"
	schemaKeyPendingConfig = "config:pending"
)

// ValidatorKeys pairs the two public keys a validator uses: one for the
// consensus/testkit layer (propose and precommit signing) and one for
// service-level transactions submitted on the validator's behalf.
type ValidatorKeys struct {
	ConsensusKey string `json:"consensus_key"`
	ServiceKey   string `json:"service_key"`
}

// StoredConfiguration is the durable representation of a network
// configuration: the validator set plus the height it takes effect at.
// ActualFrom of 0 marks the genesis configuration.
type StoredConfiguration struct {
	PreviousCfgHash string          `json:"previous_cfg_hash"`
	ActualFrom      int64           `json:"actual_from"`
	Validators      []ValidatorKeys `json:"validators"`
}

// Hash returns a deterministic hash of the configuration, used to link a
// successor configuration back to the one it replaces.
func (c *StoredConfiguration) Hash() string {
	data, _ := json.Marshal(c)
	return crypto.Hash(data)
}

// Blockchain is the single write path the testkit engine produces blocks
// through: it couples the append-only block store with the forkable world
// state, and runs the transaction-execution VM over a fork in CreatePatch.
type Blockchain struct {
	mu      sync.RWMutex
	Core    *core.Blockchain
	State   *storage.StateDB
	Emitter *events.Emitter
}

// New wires a Blockchain from already-constructed collaborators.
func New(bc *core.Blockchain, state *storage.StateDB, emitter *events.Emitter) *Blockchain {
	return &Blockchain{
		Core:    bc,
		State:   state,
		Emitter: emitter,
	}
}

// Height returns the height of the last committed block (0 before genesis).
func (bc *Blockchain) Height() int64 {
	return bc.Core.Height()
}

// LastHash returns the hash of the current tip, or the canonical genesis
// hash if the chain has no blocks yet.
func (bc *Blockchain) LastHash() string {
	if tip := bc.Core.Tip(); tip != nil {
		return tip.Hash
	}
	return config.GenesisHash
}

// Fork returns a new, independent view of world state for speculative
// execution. Writes against the fork never reach the underlying DB until
// its patch is merged; dropping the fork discards the writes.
func (bc *Blockchain) Fork() *storage.StateDB {
	return bc.State.Fork()
}

// CreatePatch executes every transaction in txs against fork, stamps the
// resulting state root into the block header, and returns the block ready
// to be signed together with the patch that must be merged to make its
// effects durable. It never touches the underlying DB or bc.State directly.
func (bc *Blockchain) CreatePatch(fork *storage.StateDB, height int64, proposer string, txs []*core.Transaction) (*core.Block, *storage.Patch, error) {
	block := core.NewBlock(height, bc.LastHash(), proposer, txs)

	executor := vm.NewExecutor(fork, bc.Emitter)
	for _, tx := range txs {
		if err := executor.ExecuteTx(block, tx); err != nil {
			return nil, nil, fmt.Errorf("execute tx %s: %w", tx.ID, err)
		}
		fork.SetCommittedTx(tx.ID)
	}

	block.Header.StateRoot = fork.ComputeRoot()
	return block, fork.CreatePatch(), nil
}

// Merge durably applies patch to the underlying DB and then appends block
// to the canonical chain. This is the only place writes become visible to
// readers of bc.State.
func (bc *Blockchain) Merge(patch *storage.Patch, block *core.Block) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if err := bc.State.Merge(patch); err != nil {
		return fmt.Errorf("merge state patch: %w", err)
	}
	if err := bc.Core.AddBlock(block); err != nil {
		return fmt.Errorf("append block: %w", err)
	}
	if bc.Emitter != nil {
		bc.Emitter.Emit(events.Event{
			Type:        events.EventBlockCommit,
			BlockHeight: block.Header.Height,
			Data:        map[string]any{"hash": block.Hash, "txs": len(block.Transactions)},
		})
	}
	return nil
}

// HasCommittedTx reports whether a transaction has already been included in
// a committed block, independent of mempool membership.
func (bc *Blockchain) HasCommittedTx(id string) bool {
	return bc.State.HasCommittedTx(id)
}

// ---- configuration schema ----

// ActiveConfig returns the configuration currently in effect, or nil if
// none has been committed yet (a fresh chain before genesis).
func (bc *Blockchain) ActiveConfig() (*StoredConfiguration, error) {
	return bc.readConfig(schemaKeyActiveConfig)
}

// PendingConfig returns the configuration awaiting activation, or nil if
// none is scheduled.
func (bc *Blockchain) PendingConfig() (*StoredConfiguration, error) {
	return bc.readConfig(schemaKeyPendingConfig)
}

func (bc *Blockchain) readConfig(key string) (*StoredConfiguration, error) {
	data, err := bc.State.GetSchemaValue(key)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var cfg StoredConfiguration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode stored configuration: %w", err)
	}
	return &cfg, nil
}

// ProposeConfiguration schedules cfg to take effect at cfg.ActualFrom,
// committing the write immediately outside of any block patch (mirroring
// the way the original testkit's configuration schema is updated directly
// on a throwaway fork).
func (bc *Blockchain) ProposeConfiguration(cfg *StoredConfiguration) error {
	return bc.writeConfig(schemaKeyPendingConfig, cfg)
}

// CommitConfiguration makes cfg the active configuration and clears any
// pending proposal.
func (bc *Blockchain) CommitConfiguration(cfg *StoredConfiguration) error {
	fork := bc.Fork()
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	fork.SetSchemaValue(schemaKeyActiveConfig, data)
	fork.DeleteSchemaValue(schemaKeyPendingConfig)
	patch := fork.CreatePatch()
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.State.Merge(patch)
}

// ClearPendingConfiguration removes a scheduled-but-not-yet-active proposal.
func (bc *Blockchain) ClearPendingConfiguration() error {
	fork := bc.Fork()
	fork.DeleteSchemaValue(schemaKeyPendingConfig)
	patch := fork.CreatePatch()
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.State.Merge(patch)
}

func (bc *Blockchain) writeConfig(key string, cfg *StoredConfiguration) error {
	fork := bc.Fork()
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	fork.SetSchemaValue(key, data)
	patch := fork.CreatePatch()
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.State.Merge(patch)
}
