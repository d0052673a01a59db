package realtime

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/proximity-ticket-handshake/internal/model"
)

// SnapshotFetcher loads an operation's current state from the
// authoritative store. The subscriber fetches a snapshot after the
// channel subscription is established, so a transition that happened
// before the subscription completed is never missed: it is either in
// the snapshot or in the stream (possibly both, which the order
// filter collapses).
type SnapshotFetcher interface {
	Get(ctx context.Context, operationID string) (model.PendingOperation, error)
}

// Subscriber attaches initiator devices to their operations' status
// streams.
type Subscriber struct {
	rdb   *redis.Client
	store SnapshotFetcher
}

func NewSubscriber(rdb *redis.Client, store SnapshotFetcher) *Subscriber {
	if store == nil {
		panic("nil snapshot fetcher passed to NewSubscriber")
	}
	return &Subscriber{rdb: rdb, store: store}
}

// Subscribe returns a channel of ordered state events for one
// operation. The first event is always the current snapshot. The
// channel closes when a terminal state has been delivered or when
// ctx is cancelled; cancellation is always safe and never affects
// the operation itself. Without Redis the subscription degrades to
// the snapshot alone (callers poll for the rest).
func (s *Subscriber) Subscribe(ctx context.Context, operationID string) (<-chan StateChangedEvent, error) {
	out := make(chan StateChangedEvent, 8)

	var pubsub *redis.PubSub
	if s.rdb != nil {
		// Subscribe before the snapshot fetch: anything published
		// from here on is in the stream, anything before is in the
		// snapshot.
		pubsub = s.rdb.Subscribe(ctx, channelFor(operationID))
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			return nil, err
		}
	}

	snap, err := s.store.Get(ctx, operationID)
	if err != nil {
		if pubsub != nil {
			_ = pubsub.Close()
		}
		return nil, err
	}

	go func() {
		defer close(out)
		if pubsub != nil {
			defer func() { _ = pubsub.Close() }()
		}

		filter := newOrderFilter()
		snapEv := EventFromOperation(snap)
		if filter.Admit(snapEv) {
			select {
			case out <- snapEv:
			case <-ctx.Done():
				return
			}
		}
		if snap.State.IsTerminal() || pubsub == nil {
			return
		}

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev StateChangedEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Printf("realtime: drop unparseable event on %s: %v", operationID, err)
					continue
				}
				if !filter.Admit(ev) {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				if ev.State.IsTerminal() {
					return
				}
			}
		}
	}()
	return out, nil
}

// orderFilter enforces per-operation ordering on an at-least-once
// stream: an event is admitted only if it advances the state rank.
// Duplicates and stale reorderings are dropped; the terminal
// transition is admitted exactly once (all terminal states share the
// top rank, and at most one is ever published).
type orderFilter struct {
	lastRank int
}

func newOrderFilter() *orderFilter { return &orderFilter{lastRank: -1} }

func (f *orderFilter) Admit(ev StateChangedEvent) bool {
	r := ev.State.Rank()
	if r < 0 || r <= f.lastRank {
		return false
	}
	f.lastRank = r
	return true
}
