package service

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/proximity-ticket-handshake/internal/model"
	"github.com/iliyamo/proximity-ticket-handshake/internal/payload"
	"github.com/iliyamo/proximity-ticket-handshake/internal/repository"
)

// Relay drives the pending-operation state machine. Every handshake
// attempt is one durable operation row; the relay is the only writer
// besides the claim endpoint and the expiry enforcer, and all three
// go through the store's CAS transitions, so transitions for one
// operation are totally ordered no matter how many devices poke at
// it. Each successful transition is pushed to the operation's
// realtime channel.
type Relay struct {
	ops    OperationStore
	tokens TokenLedger
	issuer *TransferTokenIssuer
	actors ActorDirectory
	pub    StatusPublisher
	events CompletionNotifier
	opTTL  time.Duration
}

// NewRelay constructs the relay. All dependencies must be non-nil.
func NewRelay(ops OperationStore, tokens TokenLedger, issuer *TransferTokenIssuer, actors ActorDirectory, pub StatusPublisher, events CompletionNotifier, opTTL time.Duration) *Relay {
	if ops == nil || tokens == nil || issuer == nil || actors == nil || pub == nil || events == nil {
		panic("nil dependency passed to NewRelay")
	}
	if opTTL <= 0 {
		opTTL = 5 * time.Minute
	}
	return &Relay{ops: ops, tokens: tokens, issuer: issuer, actors: actors, pub: pub, events: events, opTTL: opTTL}
}

// CreateTransfer starts a ticket transfer handshake: it issues the
// backing transfer token and creates the operation row referencing
// it. When the counterparty is already known (read from a proximity
// broadcast before the call) the operation starts in pending;
// otherwise it starts in waiting and AttachCounterparty moves it
// forward on discovery. If the operation row cannot be created the
// freshly issued token is revoked again so the ticket is not left
// listed with no operation to track it.
func (r *Relay) CreateTransfer(ctx context.Context, initiatorID, ticketID uint64, counterpartyID *uint64) (model.PendingOperation, model.TransferToken, error) {
	token, err := r.issuer.Issue(ctx, ticketID, initiatorID, 0)
	if err != nil {
		return model.PendingOperation{}, model.TransferToken{}, err
	}
	opID, err := repository.NewOperationID()
	if err != nil {
		return model.PendingOperation{}, model.TransferToken{}, err
	}
	state := model.StateWaiting
	if counterpartyID != nil {
		state = model.StatePending
	}
	now := time.Now().UTC()
	op := model.PendingOperation{
		OperationID:    opID,
		Kind:           model.KindTransfer,
		InitiatorID:    initiatorID,
		CounterpartyID: counterpartyID,
		TicketID:       &ticketID,
		TokenID:        &token.TokenID,
		State:          state,
		CreatedAt:      now,
		ExpiresAt:      now.Add(r.opTTL),
	}
	if err := r.ops.Create(ctx, &op); err != nil {
		if revErr := r.tokens.RevokeToken(ctx, token.TokenID); revErr != nil {
			log.Printf("relay: revoke token after failed operation create: %v", revErr)
		}
		return model.PendingOperation{}, model.TransferToken{}, err
	}
	r.publish(ctx, op)
	return op, token, nil
}

// CreatePayment starts a payment handshake. No token is involved:
// the counterparty authorizes directly against the reference and
// amount once acknowledged.
func (r *Relay) CreatePayment(ctx context.Context, initiatorID uint64, counterpartyID *uint64, amountCents uint32, reference string) (model.PendingOperation, error) {
	opID, err := repository.NewOperationID()
	if err != nil {
		return model.PendingOperation{}, err
	}
	state := model.StateWaiting
	if counterpartyID != nil {
		state = model.StatePending
	}
	now := time.Now().UTC()
	op := model.PendingOperation{
		OperationID:    opID,
		Kind:           model.KindPayment,
		InitiatorID:    initiatorID,
		CounterpartyID: counterpartyID,
		AmountCents:    &amountCents,
		Reference:      reference,
		State:          state,
		CreatedAt:      now,
		ExpiresAt:      now.Add(r.opTTL),
	}
	if err := r.ops.Create(ctx, &op); err != nil {
		return model.PendingOperation{}, err
	}
	r.publish(ctx, op)
	return op, nil
}

// Discovered reports a proximity read to a waiting operation: the
// payload is resolved to a registered actor and attached as the
// counterparty, moving waiting -> pending. Only the initiator may
// report discovery for its own operation.
func (r *Relay) Discovered(ctx context.Context, operationID string, initiatorID uint64, p payload.Payload) (model.PendingOperation, error) {
	op, err := r.ops.Get(ctx, operationID)
	if err != nil {
		return model.PendingOperation{}, err
	}
	if op.InitiatorID != initiatorID {
		return model.PendingOperation{}, repository.ErrNotAuthorized
	}
	actor, err := r.ResolveCounterparty(ctx, p)
	if err != nil {
		return model.PendingOperation{}, err
	}
	if err := r.ops.AttachCounterparty(ctx, operationID, actor.ID); err != nil {
		return model.PendingOperation{}, err
	}
	return r.reload(ctx, operationID)
}

// ResolveCounterparty maps a decoded proximity payload to an actor.
// Customer-identity payloads carry either a numeric actor id, an
// email, or a mailto: URI. Ticket-claim payloads identify a token,
// not an actor, and are rejected here.
func (r *Relay) ResolveCounterparty(ctx context.Context, p payload.Payload) (model.Actor, error) {
	if p.Kind != payload.KindCustomerIdentity {
		return model.Actor{}, repository.ErrNotFound
	}
	subject := strings.TrimPrefix(p.SubjectID, "mailto:")
	if id, err := strconv.ParseUint(subject, 10, 64); err == nil {
		return r.actors.ActorByID(ctx, id)
	}
	if strings.Contains(subject, "@") {
		return r.actors.ActorByEmail(ctx, subject)
	}
	return model.Actor{}, repository.ErrNotFound
}

// Acknowledge records that the counterparty has opened their
// confirmation flow, moving pending -> processing. Only the attached
// counterparty may acknowledge. No ledger mutation happens here.
func (r *Relay) Acknowledge(ctx context.Context, operationID string, counterpartyID uint64) (model.PendingOperation, error) {
	op, err := r.ops.Get(ctx, operationID)
	if err != nil {
		return model.PendingOperation{}, err
	}
	if op.CounterpartyID == nil || *op.CounterpartyID != counterpartyID {
		return model.PendingOperation{}, repository.ErrNotAuthorized
	}
	if err := r.ops.Transition(ctx, operationID, model.StatePending, model.StateProcessing, ""); err != nil {
		return model.PendingOperation{}, err
	}
	return r.reload(ctx, operationID)
}

// Complete records the counterparty's successful side of a payment
// operation, moving processing -> completed. A duplicate completion
// signal for an already-completed operation is a no-op, not an
// error: payment providers deliver success callbacks at least once.
// The queue event for the completed payment is emitted exactly once,
// by the call that wins the transition. Transfer operations complete
// through the claim endpoint instead.
func (r *Relay) Complete(ctx context.Context, operationID string, counterpartyID uint64) (model.PendingOperation, error) {
	op, err := r.ops.Get(ctx, operationID)
	if err != nil {
		return model.PendingOperation{}, err
	}
	if op.CounterpartyID == nil || *op.CounterpartyID != counterpartyID {
		return model.PendingOperation{}, repository.ErrNotAuthorized
	}
	if op.Kind != model.KindPayment {
		return model.PendingOperation{}, repository.ErrNotAuthorized
	}
	if op.State == model.StateCompleted {
		return op, nil
	}
	if err := r.ops.Transition(ctx, operationID, model.StateProcessing, model.StateCompleted, ""); err != nil {
		// A racing duplicate may have completed it between the read
		// and the CAS; re-check before reporting failure.
		if cur, curErr := r.ops.Get(ctx, operationID); curErr == nil && cur.State == model.StateCompleted {
			return cur, nil
		}
		return model.PendingOperation{}, err
	}
	cur, err := r.reload(ctx, operationID)
	if err != nil {
		return model.PendingOperation{}, err
	}
	r.events.NotifyCompleted(ctx, &cur, model.Ticket{}, "")
	return cur, nil
}

// Fail records a counterparty-side error (charge declined, claim
// rejected), moving pending|processing -> failed with the reason
// preserved for the initiator's display.
func (r *Relay) Fail(ctx context.Context, operationID string, counterpartyID uint64, reason string) (model.PendingOperation, error) {
	op, err := r.ops.Get(ctx, operationID)
	if err != nil {
		return model.PendingOperation{}, err
	}
	if op.CounterpartyID == nil || *op.CounterpartyID != counterpartyID {
		return model.PendingOperation{}, repository.ErrNotAuthorized
	}
	if reason == "" {
		reason = model.ReasonCounterparty
	}
	if err := r.ops.Transition(ctx, operationID, op.State, model.StateFailed, reason); err != nil {
		return model.PendingOperation{}, err
	}
	return r.reload(ctx, operationID)
}

// Cancel aborts a non-terminal operation. Only the initiator may
// cancel. For transfer operations the backing token is revoked
// first, in the same call: a cancelled handshake must not leave a
// live credential behind; two artifacts with divergent validity is
// how double-grants happen. If a claimant already redeemed the
// token, the redemption won and the cancel fails with
// repository.ErrAlreadyRedeemed.
func (r *Relay) Cancel(ctx context.Context, operationID string, initiatorID uint64) (model.PendingOperation, error) {
	op, err := r.ops.Get(ctx, operationID)
	if err != nil {
		return model.PendingOperation{}, err
	}
	if op.InitiatorID != initiatorID {
		return model.PendingOperation{}, repository.ErrNotAuthorized
	}
	if op.State.IsTerminal() {
		return model.PendingOperation{}, repository.ErrTerminal
	}
	if op.Kind == model.KindTransfer && op.TokenID != nil {
		if err := r.tokens.RevokeToken(ctx, *op.TokenID); err != nil {
			return model.PendingOperation{}, err
		}
	}
	from := op.State
	if from == model.StateWaiting {
		// A waiting broadcast has no counterparty intent to cancel;
		// the row simply expires. Initiators may still abandon it
		// explicitly, which we record as expiry of the window.
		if err := r.ops.Transition(ctx, operationID, from, model.StateExpired, "cancelled_before_discovery"); err != nil {
			return model.PendingOperation{}, err
		}
		return r.reload(ctx, operationID)
	}
	if err := r.ops.Transition(ctx, operationID, from, model.StateCancelled, ""); err != nil {
		return model.PendingOperation{}, err
	}
	return r.reload(ctx, operationID)
}

// Snapshot returns the operation's current state. Initiator and
// counterparty may both read it; nobody else.
func (r *Relay) Snapshot(ctx context.Context, operationID string, actorID uint64) (model.PendingOperation, error) {
	op, err := r.ops.Get(ctx, operationID)
	if err != nil {
		return model.PendingOperation{}, err
	}
	if op.InitiatorID != actorID && (op.CounterpartyID == nil || *op.CounterpartyID != actorID) {
		return model.PendingOperation{}, repository.ErrNotAuthorized
	}
	return op, nil
}

// ActiveOperations lists the initiator's in-flight handshakes so a
// restarted device can resubscribe to them.
func (r *Relay) ActiveOperations(ctx context.Context, initiatorID uint64) ([]model.PendingOperation, error) {
	return r.ops.ListActiveByInitiator(ctx, initiatorID)
}

// reload fetches the post-transition row and publishes it.
func (r *Relay) reload(ctx context.Context, operationID string) (model.PendingOperation, error) {
	op, err := r.ops.Get(ctx, operationID)
	if err != nil {
		return model.PendingOperation{}, err
	}
	r.publish(ctx, op)
	return op, nil
}

func (r *Relay) publish(ctx context.Context, op model.PendingOperation) {
	if err := r.pub.PublishState(ctx, op); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("relay: publish state %s for op %s: %v", op.State, op.OperationID, err)
	}
}
