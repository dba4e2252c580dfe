package exchange

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/shanmukanaks/protocol/consensus"
)

// changes are the post-commit snapshots one operation reports.
type changes struct {
	vaults []consensus.DepositVault
	swaps  []consensus.ProposedSwap
}

func (c changes) empty() bool { return len(c.vaults) == 0 && len(c.swaps) == 0 }

// outbox hands committed changes to the notifiers outside the ledger lock,
// one operation at a time and in commit order.
type outbox struct {
	mu        sync.Mutex
	cond      *sync.Cond
	issued    uint64
	delivered uint64
}

func newOutbox() *outbox {
	o := &outbox{}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// reserve takes the next delivery turn. Callers hold the ledger lock, so
// turns follow commit order.
func (o *outbox) reserve() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	turn := o.issued
	o.issued++
	return turn
}

func (o *outbox) deliver(turn uint64, fn func()) {
	o.mu.Lock()
	for o.delivered != turn {
		o.cond.Wait()
	}
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.delivered++
		o.cond.Broadcast()
		o.mu.Unlock()
	}()
	fn()
}

// run applies one operation under the ledger lock and records its outcome.
// Notifiers see the committed changes once the lock is released, so a slow
// broker or database never stalls the ledger.
func (e *Exchange) run(ctx context.Context, op string, apply func() (changes, logrus.Fields, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	c, fields, err := apply()
	err = e.finish(op, err, fields)
	var turn uint64
	deliver := err == nil && !c.empty() && len(e.notifiers) > 0
	if deliver {
		turn = e.outbox.reserve()
	}
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if deliver {
		e.outbox.deliver(turn, func() {
			for _, v := range c.vaults {
				e.emitVault(ctx, v)
			}
			for _, s := range c.swaps {
				e.emitSwap(ctx, s)
			}
		})
	}
	return nil
}
