// Package expiry runs the background sweep that enforces validity
// windows. Tokens and pending operations both carry an expires_at
// written at creation; nothing in the request path extends it, so a
// periodic sweep is enough to guarantee that an abandoned handshake
// always reaches a terminal state.
package expiry

import (
	"context"
	"log"
	"time"

	"github.com/iliyamo/proximity-ticket-handshake/internal/model"
)

// TokenSweeper revokes transfer tokens whose window has closed.
type TokenSweeper interface {
	ExpireDue(ctx context.Context) (int64, error)
}

// OperationSweeper moves overdue non-terminal operations to expired
// and returns only the operations this call moved.
type OperationSweeper interface {
	ExpireDue(ctx context.Context) ([]model.PendingOperation, error)
}

// Publisher pushes a moved operation's terminal event to listeners.
type Publisher interface {
	PublishState(ctx context.Context, op model.PendingOperation) error
}

// Enforcer is the sweep loop. Redundant runs are harmless: the
// store's compare-and-set moves each row at most once, and only the
// winning run sees the row in its result set.
type Enforcer struct {
	tokens   TokenSweeper
	ops      OperationSweeper
	pub      Publisher
	interval time.Duration
}

func NewEnforcer(tokens TokenSweeper, ops OperationSweeper, pub Publisher, interval time.Duration) *Enforcer {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Enforcer{tokens: tokens, ops: ops, pub: pub, interval: interval}
}

// Run sweeps once immediately, then on every tick until the context
// is cancelled. Errors are logged and the loop keeps going; a failed
// sweep just leaves work for the next tick.
func (e *Enforcer) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Println("expiry: enforcer stopped")
			return
		case <-ticker.C:
			e.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs one pass over tokens and operations. Exposed so
// tests and admin tooling can drive the sweep without the ticker.
func (e *Enforcer) SweepOnce(ctx context.Context) {
	if n, err := e.tokens.ExpireDue(ctx); err != nil {
		log.Printf("expiry: token sweep failed: %v", err)
	} else if n > 0 {
		log.Printf("expiry: revoked %d overdue transfer tokens", n)
	}

	moved, err := e.ops.ExpireDue(ctx)
	if err != nil {
		log.Printf("expiry: operation sweep failed: %v", err)
	}
	for _, op := range moved {
		if e.pub == nil {
			continue
		}
		if err := e.pub.PublishState(ctx, op); err != nil {
			// The store already holds the terminal state; a lost event
			// is recovered by the subscriber's next snapshot.
			log.Printf("expiry: publish for %s failed: %v", op.OperationID, err)
		}
	}
	if len(moved) > 0 {
		log.Printf("expiry: expired %d overdue operations", len(moved))
	}
}
