package testkit

import (
	"fmt"

	"github.com/tolelom/tolchain-testkit/chain"
	"github.com/tolelom/tolchain-testkit/config"
	"github.com/tolelom/tolchain-testkit/core"
	"github.com/tolelom/tolchain-testkit/events"
	"github.com/tolelom/tolchain-testkit/indexer"
	"github.com/tolelom/tolchain-testkit/internal/testutil"
	"github.com/tolelom/tolchain-testkit/service"
	"github.com/tolelom/tolchain-testkit/storage"
)

const defaultEventPumpBuffer = 256

// Builder configures and assembles a TestKit. The zero value is not usable;
// start from Validator() or Auditor().
type Builder struct {
	asValidator    bool
	validatorCount int
	serviceNames   []string
	genesisAlloc   map[string]uint64
}

// Validator starts a Builder whose own node ("us") will be a validator.
func Validator() *Builder {
	return &Builder{asValidator: true, validatorCount: 1}
}

// Auditor starts a Builder whose own node observes consensus without
// participating in it.
func Auditor() *Builder {
	return &Builder{asValidator: false, validatorCount: 1}
}

// WithValidators sets the total number of validators in the simulated
// network, including "us" if this Builder was started with Validator().
// It panics with a *PanicError if n is less than 1.
func (b *Builder) WithValidators(n int) *Builder {
	if n < 1 {
		panic(&PanicError{Msg: fmt.Sprintf("testkit: validator count must be at least 1, got %d", n)})
	}
	b.validatorCount = n
	return b
}

// WithService registers a service by name to be wired into the TestKit's
// API façade. The name must match a service already registered via
// service.Register (typically through a module's init()).
func (b *Builder) WithService(name string) *Builder {
	b.serviceNames = append(b.serviceNames, name)
	return b
}

// WithGenesisAlloc credits pubkeyHex with balance in the genesis block,
// before any transaction executes. Useful for tests that need a funded
// sender without first routing a mint/transfer through a block.
func (b *Builder) WithGenesisAlloc(pubkeyHex string, balance uint64) *Builder {
	if b.genesisAlloc == nil {
		b.genesisAlloc = make(map[string]uint64)
	}
	b.genesisAlloc[pubkeyHex] = balance
	return b
}

// Create assembles the TestKit: it wires an in-memory store, builds and
// signs a genesis block, commits the genesis configuration, and mounts
// every requested service.
func (b *Builder) Create() (*TestKit, error) {
	if b.validatorCount < 1 {
		return nil, fmt.Errorf("testkit: validator count must be at least 1")
	}
	for _, name := range b.serviceNames {
		if _, ok := service.Lookup(name); !ok {
			return nil, fmt.Errorf("testkit: no service registered under %q", name)
		}
	}

	validators := make([]*Node, b.validatorCount)
	for i := range validators {
		validators[i] = NewValidator(i)
	}

	var us *Node
	if b.asValidator {
		us = validators[0]
	} else {
		us = NewAuditor()
	}

	net := &Network{validators: validators, us: us}

	memDB := testutil.NewMemDB()
	state := storage.NewStateDB(memDB)
	blockStore := testutil.NewMemBlockStore()
	coreBC := core.NewBlockchain(blockStore)
	if err := coreBC.Init(); err != nil {
		return nil, fmt.Errorf("init block store: %w", err)
	}
	emitter := events.NewEmitter()
	idx := indexer.New(memDB, emitter)

	bc := chain.New(coreBC, state, emitter)

	genesisCfg := net.GenesisConfig()
	if err := bc.CommitConfiguration(genesisCfg); err != nil {
		return nil, fmt.Errorf("commit genesis configuration: %w", err)
	}

	leader := net.Leader()
	genesisCoreCfg := &config.Config{Genesis: config.GenesisConfig{ChainID: "testkit", Alloc: b.genesisAlloc}}
	genesisBlock, err := config.CreateGenesisBlock(genesisCoreCfg, state, leader.ServicePrivateKey())
	if err != nil {
		return nil, fmt.Errorf("create genesis block: %w", err)
	}
	if err := coreBC.AddBlock(genesisBlock); err != nil {
		return nil, fmt.Errorf("add genesis block: %w", err)
	}

	tk := &TestKit{
		Chain:        bc,
		Network:      net,
		Mempool:      core.NewMempool(),
		Pump:         NewEventPump(defaultEventPumpBuffer),
		cfgState:     cfgNone{},
		indexer:      idx,
		serviceNames: b.serviceNames,
	}
	tk.api = newTestKitApi(tk)
	return tk, nil
}
