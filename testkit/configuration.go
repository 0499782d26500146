package testkit

import "github.com/tolelom/tolchain-testkit/chain"

// configProposalState is the testkit's in-memory mirror of its pending
// configuration change, modeled as a tagged union of three states rather
// than a nilable pointer plus a boolean: None (nothing proposed),
// Uncommitted (proposed but not yet written to a block), and Committed
// (written to a block, waiting for its ActualFrom height to arrive). Go has
// no native sum type, so the union is emulated with an unexported interface
// implemented by three private structs.
type configProposalState interface {
	isConfigProposalState()
}

type cfgNone struct{}

type cfgUncommitted struct {
	cfg *chain.StoredConfiguration
}

type cfgCommitted struct {
	cfg *chain.StoredConfiguration
}

func (cfgNone) isConfigProposalState()        {}
func (cfgUncommitted) isConfigProposalState() {}
func (cfgCommitted) isConfigProposalState()   {}

// TestNetworkConfiguration is a builder for a configuration change proposal,
// letting a test describe the next validator set before committing it with
// TestKit.CommitConfigurationChange.
type TestNetworkConfiguration struct {
	cfg *chain.StoredConfiguration
}

// NewConfigurationProposal starts a configuration change that links back to
// current and takes effect at actualFrom.
func NewConfigurationProposal(current *chain.StoredConfiguration, actualFrom int64) *TestNetworkConfiguration {
	prevHash := ""
	if current != nil {
		prevHash = current.Hash()
	}
	return &TestNetworkConfiguration{
		cfg: &chain.StoredConfiguration{
			PreviousCfgHash: prevHash,
			ActualFrom:      actualFrom,
		},
	}
}

// SetValidators replaces the proposed validator set.
func (b *TestNetworkConfiguration) SetValidators(keys []chain.ValidatorKeys) *TestNetworkConfiguration {
	b.cfg.Validators = append([]chain.ValidatorKeys(nil), keys...)
	return b
}

// StoredConfiguration returns the configuration built so far.
func (b *TestNetworkConfiguration) StoredConfiguration() *chain.StoredConfiguration {
	return b.cfg
}
