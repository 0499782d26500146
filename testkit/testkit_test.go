package testkit

import (
	"testing"

	"github.com/tolelom/tolchain-testkit/chain"
	"github.com/tolelom/tolchain-testkit/core"
	"github.com/tolelom/tolchain-testkit/wallet"

	_ "github.com/tolelom/tolchain-testkit/vm/modules/economy"
)

// TestHeightProgression covers spec scenario 1: building a single-validator
// network starts the chain at height 1 (the genesis block), and each
// CreateBlock/CreateBlocksUntil call advances it exactly as requested.
func TestHeightProgression(t *testing.T) {
	tk, err := Validator().Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got := tk.Chain.Height() + 1; got != 1 {
		t.Fatalf("initial height: got %d want 1", got)
	}

	if _, err := tk.CreateBlock(); err != nil {
		t.Fatalf("CreateBlock: %v", err)
	}
	if got := tk.Chain.Height() + 1; got != 2 {
		t.Fatalf("height after one block: got %d want 2", got)
	}

	if err := tk.CreateBlocksUntil(6); err != nil {
		t.Fatalf("CreateBlocksUntil: %v", err)
	}
	if got := tk.Chain.Height() + 1; got != 7 {
		t.Fatalf("height after CreateBlocksUntil(6): got %d want 7", got)
	}
}

// TestAuditorFixture covers spec scenario 2: an auditor-built testkit holds
// no validator slot for "us", while the single configured validator still
// occupies slot 0.
func TestAuditorFixture(t *testing.T) {
	tk, err := Auditor().Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, ok := tk.Network.Us().ValidatorID(); ok {
		t.Error("auditor's own node should have no validator id")
	}
	validators := tk.Network.Validators()
	if len(validators) != 1 {
		t.Fatalf("validator count: got %d want 1", len(validators))
	}
	if id, ok := validators[0].ValidatorID(); !ok || id != 0 {
		t.Errorf("validators[0].ValidatorID(): got (%d, %v) want (0, true)", id, ok)
	}
}

// TestGenesisAlloc covers WithGenesisAlloc: an account credited at genesis
// has its balance set before any transaction runs.
func TestGenesisAlloc(t *testing.T) {
	w, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	tk, err := Validator().WithGenesisAlloc(w.PubKey(), 100).Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	acc, err := tk.Chain.State.GetAccount(w.PubKey())
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acc.Balance != 100 {
		t.Errorf("genesis balance: got %d want 100", acc.Balance)
	}
}

// TestProbeIsolation covers spec scenario 3: Probe must report a
// transaction's execution outcome without changing chain height or mempool
// contents.
func TestProbeIsolation(t *testing.T) {
	tk, err := Validator().Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	w, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	tx, err := w.NewTx(core.TxTransfer, 0, 0, core.TransferPayload{To: "deadbeef", Amount: 1})
	if err != nil {
		t.Fatal(err)
	}
	tk.Pump.SendTx(tx)
	tk.Pump.Poll(tk.Mempool, tk.Chain)

	heightBefore := tk.Chain.Height()
	sizeBefore := tk.Mempool.Size()

	if err := tk.Probe(tx); err == nil {
		t.Log("probe ran without reporting the expected insufficient-balance failure; continuing to check isolation")
	}

	if tk.Chain.Height() != heightBefore {
		t.Errorf("height changed by Probe: got %d want %d", tk.Chain.Height(), heightBefore)
	}
	if tk.Mempool.Size() != sizeBefore {
		t.Errorf("mempool size changed by Probe: got %d want %d", tk.Mempool.Size(), sizeBefore)
	}
	if _, ok := tk.Mempool.Get(tx.ID); !ok {
		t.Error("tx should remain in mempool after Probe")
	}
}

// TestMempoolPruning covers spec scenario 4: creating a block from a subset
// of mempool transactions removes only that subset.
func TestMempoolPruning(t *testing.T) {
	w1, _ := wallet.Generate()
	w2, _ := wallet.Generate()
	tk, err := Validator().WithGenesisAlloc(w1.PubKey(), 10).WithGenesisAlloc(w2.PubKey(), 10).Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	tx1, err := w1.NewTx(core.TxTransfer, 0, 0, core.TransferPayload{To: "deadbeef", Amount: 1})
	if err != nil {
		t.Fatal(err)
	}
	tx2, err := w2.NewTx(core.TxTransfer, 0, 0, core.TransferPayload{To: "deadbeef", Amount: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := tk.Mempool.Add(tx1); err != nil {
		t.Fatalf("Add tx1: %v", err)
	}
	if err := tk.Mempool.Add(tx2); err != nil {
		t.Fatalf("Add tx2: %v", err)
	}

	if _, err := tk.CreateBlockWithTxHashes(tx1.ID); err != nil {
		t.Fatalf("CreateBlockWithTxHashes: %v", err)
	}

	if _, ok := tk.Mempool.Get(tx1.ID); ok {
		t.Error("tx1 should have been pruned from mempool")
	}
	if _, ok := tk.Mempool.Get(tx2.ID); !ok {
		t.Error("tx2 should remain in mempool")
	}
}

// TestDuplicateProbeHashPanics covers spec scenario 5: probing the same
// transaction twice in one call is a caller-contract violation, not an
// ordinary error.
func TestDuplicateProbeHashPanics(t *testing.T) {
	tk, err := Validator().Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	w, _ := wallet.Generate()
	tx, err := w.NewTx(core.TxTransfer, 0, 0, core.TransferPayload{To: "deadbeef", Amount: 1})
	if err != nil {
		t.Fatal(err)
	}

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a panic for duplicate transaction hashes")
		}
		if _, ok := r.(*PanicError); !ok {
			t.Fatalf("expected *PanicError, got %T: %v", r, r)
		}
	}()
	_ = tk.ProbeAll([]*core.Transaction{tx, tx})
}

// TestConfigurationActivationTiming covers spec scenario 6: a configuration
// change scheduled two blocks out is committed (but not yet live) after one
// block, and live after the second.
func TestConfigurationActivationTiming(t *testing.T) {
	tk, err := Validator().Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	extra := NewValidator(1)
	active, err := tk.Chain.ActiveConfig()
	if err != nil {
		t.Fatalf("ActiveConfig: %v", err)
	}

	targetHeight := tk.Chain.Height() + 2
	proposal := NewConfigurationProposal(active, targetHeight).
		SetValidators([]chain.ValidatorKeys{
			tk.Network.Leader().PublicKeys(),
			extra.PublicKeys(),
		}).
		StoredConfiguration()

	if err := tk.CommitConfigurationChange(proposal); err != nil {
		t.Fatalf("CommitConfigurationChange: %v", err)
	}

	if _, err := tk.CreateBlock(); err != nil {
		t.Fatalf("CreateBlock (1st): %v", err)
	}
	if len(tk.Network.Validators()) != 1 {
		t.Fatalf("validator set changed too early: got %d want 1", len(tk.Network.Validators()))
	}

	if _, err := tk.CreateBlock(); err != nil {
		t.Fatalf("CreateBlock (2nd): %v", err)
	}
	if len(tk.Network.Validators()) != 2 {
		t.Fatalf("validator set after activation: got %d want 2", len(tk.Network.Validators()))
	}
}

// TestPumpDropsCommittedTx covers spec scenario: a transaction re-sent
// through the event pump after it is already committed is dropped silently
// rather than re-added to the mempool.
func TestPumpDropsCommittedTx(t *testing.T) {
	w, _ := wallet.Generate()
	tk, err := Validator().WithGenesisAlloc(w.PubKey(), 10).Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	tx, err := w.NewTx(core.TxTransfer, 0, 0, core.TransferPayload{To: "deadbeef", Amount: 1})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := tk.CreateBlockWithTransactions(tx); err != nil {
		t.Fatalf("CreateBlockWithTransactions: %v", err)
	}
	if !tk.Chain.HasCommittedTx(tx.ID) {
		t.Fatal("tx should be committed")
	}

	tk.Pump.SendTx(tx)
	errs := tk.Pump.Poll(tk.Mempool, tk.Chain)
	if len(errs) != 0 {
		t.Fatalf("Poll on a re-sent committed tx should report no errors, got %v", errs)
	}
	if _, ok := tk.Mempool.Get(tx.ID); ok {
		t.Error("a re-sent committed tx must not be re-inserted into the mempool")
	}
}

// TestCreateBlockWithTransactionsPanicsOnCommitted covers spec scenario: a
// transaction already committed to the chain is a caller contract
// violation when passed to CreateBlockWithTransactions, which panics rather
// than silently re-executing it.
func TestCreateBlockWithTransactionsPanicsOnCommitted(t *testing.T) {
	w, _ := wallet.Generate()
	tk, err := Validator().WithGenesisAlloc(w.PubKey(), 10).Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	tx, err := w.NewTx(core.TxTransfer, 0, 0, core.TransferPayload{To: "deadbeef", Amount: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tk.CreateBlockWithTransactions(tx); err != nil {
		t.Fatalf("CreateBlockWithTransactions: %v", err)
	}

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a panic for an already-committed transaction")
		}
		if _, ok := r.(*PanicError); !ok {
			t.Fatalf("expected *PanicError, got %T: %v", r, r)
		}
	}()
	_, _ = tk.CreateBlockWithTransactions(tx)
}

// TestProbeAllFiltersCommittedTx covers spec scenario: ProbeAll silently
// drops an already-committed input rather than reporting it as an error.
func TestProbeAllFiltersCommittedTx(t *testing.T) {
	w, _ := wallet.Generate()
	tk, err := Validator().WithGenesisAlloc(w.PubKey(), 10).Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	tx, err := w.NewTx(core.TxTransfer, 0, 0, core.TransferPayload{To: "deadbeef", Amount: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tk.CreateBlockWithTransactions(tx); err != nil {
		t.Fatalf("CreateBlockWithTransactions: %v", err)
	}

	if err := tk.ProbeAll([]*core.Transaction{tx}); err != nil {
		t.Fatalf("ProbeAll on an already-committed tx should be silently filtered, got error: %v", err)
	}
}

// TestCreateBlockDrainsPumpFirst covers spec scenario: a transaction
// submitted via the event pump before a CreateBlock/CreateBlockWithTxHashes
// call is present at commit time, even if nothing polled the pump in
// between.
func TestCreateBlockDrainsPumpFirst(t *testing.T) {
	w, _ := wallet.Generate()
	tk, err := Validator().WithGenesisAlloc(w.PubKey(), 10).Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	tx, err := w.NewTx(core.TxTransfer, 0, 0, core.TransferPayload{To: "deadbeef", Amount: 1})
	if err != nil {
		t.Fatal(err)
	}

	tk.Pump.SendTx(tx)
	if _, err := tk.CreateBlock(); err != nil {
		t.Fatalf("CreateBlock: %v", err)
	}
	if !tk.Chain.HasCommittedTx(tx.ID) {
		t.Fatal("a tx submitted via the pump before CreateBlock should be committed in that block")
	}
}

// TestCreateBlockWithTxHashesDrainsPumpFirst is TestCreateBlockDrainsPumpFirst
// for the hash-addressed entry point.
func TestCreateBlockWithTxHashesDrainsPumpFirst(t *testing.T) {
	w, _ := wallet.Generate()
	tk, err := Validator().WithGenesisAlloc(w.PubKey(), 10).Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	tx, err := w.NewTx(core.TxTransfer, 0, 0, core.TransferPayload{To: "deadbeef", Amount: 1})
	if err != nil {
		t.Fatal(err)
	}

	tk.Pump.SendTx(tx)
	if _, err := tk.CreateBlockWithTxHashes(tx.ID); err != nil {
		t.Fatalf("CreateBlockWithTxHashes: %v", err)
	}
	if !tk.Chain.HasCommittedTx(tx.ID) {
		t.Fatal("a tx submitted via the pump before CreateBlockWithTxHashes should be committed in that block")
	}
}

// TestApiSendConvergesWithPostRoute covers spec scenario: both
// Api().Send(tx) and an HTTP POST to the explorer transactions endpoint
// feed the same event pump, so either route makes a transaction available
// to the next CreateBlock.
func TestApiSendConvergesWithPostRoute(t *testing.T) {
	w1, _ := wallet.Generate()
	w2, _ := wallet.Generate()
	tk, err := Validator().WithGenesisAlloc(w1.PubKey(), 10).WithGenesisAlloc(w2.PubKey(), 10).Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	txViaSend, err := w1.NewTx(core.TxTransfer, 0, 0, core.TransferPayload{To: "deadbeef", Amount: 1})
	if err != nil {
		t.Fatal(err)
	}
	txViaPost, err := w2.NewTx(core.TxTransfer, 0, 0, core.TransferPayload{To: "deadbeef", Amount: 1})
	if err != nil {
		t.Fatal(err)
	}

	tk.Api().Send(txViaSend)

	resp, err := tk.Api().Post(ApiKindExplorer, "/transactions", txViaPost, nil)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if resp.StatusCode != 201 {
		t.Fatalf("Post status: got %d want 201", resp.StatusCode)
	}

	if _, err := tk.CreateBlock(); err != nil {
		t.Fatalf("CreateBlock: %v", err)
	}
	if !tk.Chain.HasCommittedTx(txViaSend.ID) {
		t.Error("tx submitted via Api().Send should be committed")
	}
	if !tk.Chain.HasCommittedTx(txViaPost.ID) {
		t.Error("tx submitted via HTTP POST should be committed")
	}
}
