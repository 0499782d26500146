package testkit

import (
	"fmt"
	"sync"

	"github.com/tolelom/tolchain-testkit/chain"
	"github.com/tolelom/tolchain-testkit/core"
	"github.com/tolelom/tolchain-testkit/indexer"
)

// TestKit is the assembled in-process harness: a chain, the simulated
// network of validators, a mempool, and an event pump, plus the bookkeeping
// a test needs to inspect the outcome of the last block it created.
type TestKit struct {
	mu sync.Mutex

	Chain   *chain.Blockchain
	Network *Network
	Mempool *core.Mempool
	Pump    *EventPump

	cfgState     configProposalState
	indexer      *indexer.Indexer
	serviceNames []string
	api          *TestKitApi

	lastPropose    *Propose
	lastPrecommits []*Precommit
}

// LastPropose returns the Propose message produced by the most recent
// CreateBlock* call, or nil if no block has been created yet.
func (tk *TestKit) LastPropose() *Propose {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.lastPropose
}

// LastPrecommits returns the set of Precommit messages produced by the most
// recent CreateBlock* call, or nil if no block has been created yet.
func (tk *TestKit) LastPrecommits() []*Precommit {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	out := make([]*Precommit, len(tk.lastPrecommits))
	copy(out, tk.lastPrecommits)
	return out
}

// Api returns the HTTP test façade mounted over this testkit's services.
func (tk *TestKit) Api() *TestKitApi {
	return tk.api
}

// CommitConfigurationChange schedules cfg as a pending configuration
// proposal. It takes effect once CreateBlock* advances the chain to a
// height at or past cfg.ActualFrom; until then the current validator set
// keeps proposing and precommitting blocks. It panics with a *PanicError if
// a change is already pending or if cfg.ActualFrom is not above the height
// of the next block.
func (tk *TestKit) CommitConfigurationChange(cfg *chain.StoredConfiguration) error {
	tk.mu.Lock()
	defer tk.mu.Unlock()

	if _, ok := tk.cfgState.(cfgNone); !ok {
		panic(&PanicError{Msg: "testkit: a configuration change is already pending"})
	}
	if next := tk.Chain.Height() + 1; cfg.ActualFrom <= next {
		panic(&PanicError{Msg: fmt.Sprintf("testkit: configuration actual_from %d must be above the next block height %d", cfg.ActualFrom, next)})
	}
	if err := tk.Chain.ProposeConfiguration(cfg); err != nil {
		return fmt.Errorf("propose configuration: %w", err)
	}
	tk.cfgState = cfgUncommitted{cfg: cfg}
	return nil
}

// updateConfiguration advances the configuration state machine by one
// block: an Uncommitted proposal becomes Committed as soon as one block has
// elapsed since it was scheduled, and a Committed proposal activates -
// updating the live Network - once the chain reaches its ActualFrom height.
func (tk *TestKit) updateConfiguration(nextHeight int64) error {
	switch st := tk.cfgState.(type) {
	case cfgUncommitted:
		tk.cfgState = cfgCommitted{cfg: st.cfg}
	case cfgCommitted:
		if nextHeight >= st.cfg.ActualFrom {
			if err := tk.Chain.CommitConfiguration(st.cfg); err != nil {
				return err
			}
			tk.Network.Update(tk.Network.Us(), st.cfg.Validators)
			tk.cfgState = cfgNone{}
		}
	}
	return nil
}
