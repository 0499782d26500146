package testkit

import (
	"github.com/tolelom/tolchain-testkit/core"
)

// TxMessage carries a transaction submitted outside of direct test calls
// (e.g. through a wired API handler) into the testkit's mempool.
type TxMessage struct {
	Tx *core.Transaction
}

// PeerAddMessage records a peer-connection notification. The testkit has no
// real peer layer, so this is observational only: it lets service code that
// expects to report peer events keep working without a network.
type PeerAddMessage struct {
	Addr string
}

// EventPump is a non-blocking inbox for messages that would, in a real
// node, arrive from the network or other goroutines. CreateBlock* calls
// drain it via Poll with a greedy fold: every message currently queued is
// applied, but Poll never blocks waiting for more to arrive.
type EventPump struct {
	ch chan any
}

// NewEventPump creates an EventPump with the given inbox capacity. Sends
// beyond capacity block the sender; testkit users are expected to drain via
// CreateBlock* between bursts of activity.
func NewEventPump(capacity int) *EventPump {
	return &EventPump{ch: make(chan any, capacity)}
}

// SendTx enqueues a transaction to be added to the mempool on the next
// Poll.
func (p *EventPump) SendTx(tx *core.Transaction) {
	p.ch <- TxMessage{Tx: tx}
}

// SendPeerAdd enqueues a peer-connection notification.
func (p *EventPump) SendPeerAdd(addr string) {
	p.ch <- PeerAddMessage{Addr: addr}
}

// committedChecker is satisfied by *chain.Blockchain. Poll takes the
// narrower interface instead of the concrete type to keep this file free of
// a chain import.
type committedChecker interface {
	HasCommittedTx(id string) bool
}

// Poll drains every message currently queued, adding any TxMessage payload
// to mempool, and returns once the channel is empty. A transaction whose
// hash is already present in committed (i.e. already part of a block) is
// dropped silently rather than re-added to the pool — a re-sent committed
// transaction is not an error, per spec. Errors from transactions the
// mempool itself rejects are collected and returned rather than aborting
// the drain: one bad transaction from a test client must not hide the rest.
func (p *EventPump) Poll(mempool *core.Mempool, committed committedChecker) []error {
	var errs []error
	for {
		select {
		case msg := <-p.ch:
			switch m := msg.(type) {
			case TxMessage:
				if committed.HasCommittedTx(m.Tx.ID) {
					continue
				}
				if err := mempool.Add(m.Tx); err != nil {
					errs = append(errs, err)
				}
			case PeerAddMessage:
				// No peer table to update; recorded for API parity only.
			}
		default:
			return errs
		}
	}
}
