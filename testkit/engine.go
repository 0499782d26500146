package testkit

import (
	"fmt"

	"github.com/tolelom/tolchain-testkit/core"
)

// Probe executes txs against a disposable fork of current state without
// creating a block and reports whether execution succeeded. The fork and
// its post-execution state are discarded; Probe does not return them, so
// the would-be effects of the transactions cannot be inspected. The
// underlying chain is left untouched.
func (tk *TestKit) Probe(txs ...*core.Transaction) error {
	fork := tk.Chain.Fork()
	_, _, err := tk.Chain.CreatePatch(fork, tk.Chain.Height()+1, tk.Network.Leader().ServicePublicKey(), txs)
	return err
}

// ProbeAll is like Probe but also validates the same duplicate-hash check
// CreateBlockWithTxHashes applies, so a test can distinguish "rejected
// by execution" from "rejected before even reaching execution". Inputs
// already present in committed state are filtered out silently rather than
// rejected: re-probing a transaction that made it into an earlier block is
// not a contract violation, it just has nothing left to execute.
func (tk *TestKit) ProbeAll(txs []*core.Transaction) error {
	seen := make(map[string]bool, len(txs))
	live := make([]*core.Transaction, 0, len(txs))
	for _, tx := range txs {
		if seen[tx.ID] {
			panic(&PanicError{Msg: fmt.Sprintf("testkit: duplicate transaction hash %s in probe set", tx.ID)})
		}
		seen[tx.ID] = true
		if tk.Chain.HasCommittedTx(tx.ID) {
			continue
		}
		live = append(live, tx)
	}
	return tk.Probe(live...)
}

// CreateBlockWithTransactions commits exactly the given transactions as the
// next block, bypassing the mempool's own hash-sorted selection. Unlike
// ProbeAll, an already-committed input here is a caller contract violation,
// not something to filter: the caller asked for a specific set of
// transactions to be the next block's contents, and one of them already
// belongs to an earlier block. Each input is inserted into the mempool
// before block creation; a transaction already sitting in the mempool is
// left as-is rather than treated as an error.
func (tk *TestKit) CreateBlockWithTransactions(txs ...*core.Transaction) (*core.Block, error) {
	for _, tx := range txs {
		if tk.Chain.HasCommittedTx(tx.ID) {
			panic(&PanicError{Msg: fmt.Sprintf("testkit: transaction %s already committed", tx.ID)})
		}
	}
	for _, tx := range txs {
		if err := tk.Mempool.Add(tx); err != nil {
			if _, already := tk.Mempool.Get(tx.ID); already {
				continue
			}
			return nil, fmt.Errorf("insert transaction %s into mempool: %w", tx.ID, err)
		}
	}
	return tk.doCreateBlock(txs)
}

// CreateBlockWithTxHashes commits the next block from the named mempool
// entries, in the order given. It panics with a *PanicError if hashes
// contains a duplicate, and returns an error if a hash is not present in
// the mempool. The event pump is drained first, so a transaction submitted
// through it just before this call is already in the mempool by the time
// hashes is looked up.
func (tk *TestKit) CreateBlockWithTxHashes(hashes ...string) (*core.Block, error) {
	tk.Pump.Poll(tk.Mempool, tk.Chain)

	seen := make(map[string]bool, len(hashes))
	txs := make([]*core.Transaction, 0, len(hashes))
	for _, h := range hashes {
		if seen[h] {
			panic(&PanicError{Msg: fmt.Sprintf("testkit: duplicate transaction hash %s requested for block", h)})
		}
		seen[h] = true
		tx, ok := tk.Mempool.Get(h)
		if !ok {
			return nil, fmt.Errorf("transaction %s not found in mempool", h)
		}
		txs = append(txs, tx)
	}
	return tk.doCreateBlock(txs)
}

// CreateBlock commits every transaction currently pending in the mempool,
// in deterministic sorted-hash order, skipping any that have already been
// committed by an earlier block (which can happen if the same transaction
// was added to the pool twice before either was confirmed). The event pump
// is drained first, so a transaction submitted through it just before this
// call is included rather than missed until the next one.
func (tk *TestKit) CreateBlock() (*core.Block, error) {
	tk.Pump.Poll(tk.Mempool, tk.Chain)

	var txs []*core.Transaction
	for _, h := range tk.Mempool.SortedHashes() {
		if tk.Chain.HasCommittedTx(h) {
			continue
		}
		if tx, ok := tk.Mempool.Get(h); ok {
			txs = append(txs, tx)
		}
	}
	return tk.doCreateBlock(txs)
}

// CreateBlocksUntil repeatedly calls CreateBlock until the chain reaches
// height, draining the mempool block by block. It is a no-op if the chain
// is already at or past height.
func (tk *TestKit) CreateBlocksUntil(height int64) error {
	for tk.Chain.Height() < height {
		if _, err := tk.CreateBlock(); err != nil {
			return err
		}
	}
	return nil
}

// doCreateBlock runs the seven-step block manufacturing procedure: read the
// current tip, tick the configuration state machine, execute txs on a
// fork to produce a patch, have the leader sign a propose and every
// validator the testkit holds keys for precommit, merge the patch and append
// the block, prune the mempool, and finally drain the event pump. A
// validator known only by its public keys contributes no precommit.
func (tk *TestKit) doCreateBlock(txs []*core.Transaction) (*core.Block, error) {
	tk.mu.Lock()
	defer tk.mu.Unlock()

	height := tk.Chain.Height() + 1
	lastHash := tk.Chain.LastHash()

	if err := tk.updateConfiguration(height); err != nil {
		return nil, fmt.Errorf("tick configuration: %w", err)
	}

	leader := tk.Network.Leader()
	if leader == nil {
		return nil, fmt.Errorf("no validators configured, cannot create a block")
	}

	fork := tk.Chain.Fork()
	block, patch, err := tk.Chain.CreatePatch(fork, height, leader.ServicePublicKey(), txs)
	if err != nil {
		return nil, fmt.Errorf("create patch: %w", err)
	}
	block.Sign(leader.ServicePrivateKey())

	txHashes := make([]string, len(txs))
	for i, tx := range txs {
		txHashes[i] = tx.ID
	}
	propose := leader.CreatePropose(height, lastHash, txHashes)

	precommits := make([]*Precommit, 0, len(tk.Network.Validators()))
	for _, v := range tk.Network.Validators() {
		if v.consensusPriv == nil {
			// A remote validator (see remoteNode) has no key to sign with.
			continue
		}
		precommits = append(precommits, v.CreatePrecommit(propose, block.Hash))
	}

	if err := tk.Chain.Merge(patch, block); err != nil {
		return nil, fmt.Errorf("merge block: %w", err)
	}

	tk.Mempool.Remove(txHashes)
	tk.Pump.Poll(tk.Mempool, tk.Chain)

	tk.lastPropose = propose
	tk.lastPrecommits = precommits

	return block, nil
}
