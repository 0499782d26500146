package testkit

import (
	"sync"

	"github.com/tolelom/tolchain-testkit/chain"
	"github.com/tolelom/tolchain-testkit/crypto"
)

// Network is the simulated set of consensus participants: an ordered list
// of validators plus a pointer to whichever node represents "us" (the node
// whose viewpoint the testkit is built from). Us may or may not be one of
// the validators.
type Network struct {
	mu         sync.RWMutex
	validators []*Node
	us         *Node
}

// Validators returns the current validator list, ordered by slot.
func (net *Network) Validators() []*Node {
	net.mu.RLock()
	defer net.mu.RUnlock()
	out := make([]*Node, len(net.validators))
	copy(out, net.validators)
	return out
}

// Us returns the node representing this testkit's own viewpoint.
func (net *Network) Us() *Node {
	net.mu.RLock()
	defer net.mu.RUnlock()
	return net.us
}

// Leader returns the fixed block proposer: validator slot 0, or nil if the
// network currently has no validators.
func (net *Network) Leader() *Node {
	net.mu.RLock()
	defer net.mu.RUnlock()
	if len(net.validators) == 0 {
		return nil
	}
	return net.validators[0]
}

// ServicePublicKeyOf returns the service public key of the validator
// occupying slot id.
func (net *Network) ServicePublicKeyOf(id int) (string, bool) {
	net.mu.RLock()
	defer net.mu.RUnlock()
	for _, n := range net.validators {
		if vid, ok := n.ValidatorID(); ok && vid == id {
			return n.servicePub.Hex(), true
		}
	}
	return "", false
}

// ConsensusPublicKeyOf returns the consensus public key of the validator
// occupying slot id.
func (net *Network) ConsensusPublicKeyOf(id int) (string, bool) {
	net.mu.RLock()
	defer net.mu.RUnlock()
	for _, n := range net.validators {
		if vid, ok := n.ValidatorID(); ok && vid == id {
			return n.consensusPub.Hex(), true
		}
	}
	return "", false
}

// GenesisConfig builds the StoredConfiguration for the network's current
// validator set, to be committed as the chain's configuration at height 0.
func (net *Network) GenesisConfig() *chain.StoredConfiguration {
	net.mu.RLock()
	defer net.mu.RUnlock()
	keys := make([]chain.ValidatorKeys, len(net.validators))
	for i, n := range net.validators {
		keys[i] = n.PublicKeys()
	}
	return &chain.StoredConfiguration{ActualFrom: 0, Validators: keys}
}

// Update applies a newly activated configuration to the live network: the
// validator list is rebuilt from keys, and each node's validator_id is
// recomputed by matching its SERVICE public key against the new
// configuration, not its consensus key. This mirrors the original
// testkit's update_our_role, which performs the same service-key lookup; it
// is surprising (a consensus-layer property keyed by a service-layer
// identity) but preserved deliberately rather than "fixed" — see
// DESIGN.md.
func (net *Network) Update(us *Node, validators []chain.ValidatorKeys) {
	net.mu.Lock()
	defer net.mu.Unlock()

	known := make(map[string]*Node, len(net.validators)+1)
	for _, n := range net.validators {
		known[n.servicePub.Hex()] = n
	}
	if net.us != nil {
		known[net.us.servicePub.Hex()] = net.us
	}
	if us != nil {
		known[us.servicePub.Hex()] = us
	}

	newValidators := make([]*Node, len(validators))
	for i, vk := range validators {
		n, ok := known[vk.ServiceKey]
		if !ok {
			n = remoteNode(vk)
		}
		id := i
		n.validatorID = &id
		newValidators[i] = n
	}
	net.validators = newValidators

	if us != nil {
		net.us = us
	}
	if net.us != nil {
		net.us.validatorID = nil
		for i, n := range newValidators {
			if n.servicePub.Hex() == net.us.servicePub.Hex() {
				id := i
				net.us.validatorID = &id
				break
			}
		}
	}
}

// remoteNode materializes a placeholder Node for a validator this testkit
// does not hold private keys for: it represents another participant's
// public identity in a configuration, never one we can sign on behalf of.
func remoteNode(vk chain.ValidatorKeys) *Node {
	n := &Node{}
	if pub, err := crypto.PubKeyFromHex(vk.ServiceKey); err == nil {
		n.servicePub = pub
	}
	if pub, err := crypto.PubKeyFromHex(vk.ConsensusKey); err == nil {
		n.consensusPub = pub
	}
	return n
}
