package service

import (
	"context"
	"errors"
	"log"

	"github.com/iliyamo/proximity-ticket-handshake/internal/model"
	"github.com/iliyamo/proximity-ticket-handshake/internal/repository"
)

// CounterpartyBranch tells the initiator which confirmation to show:
// an in-band ownership transfer to a registered actor, or a deferred
// delivery to an address with no account yet.
type CounterpartyBranch string

const (
	BranchRegistered   CounterpartyBranch = "registered"
	BranchUnregistered CounterpartyBranch = "unregistered"
)

// ClaimResult is the outcome of a successful token redemption.
type ClaimResult struct {
	Ticket    model.Ticket
	Token     model.TransferToken
	Operation *model.PendingOperation // nil when the token has no tracked operation
}

// EmailTransferResult reports which branch an email-lookup transfer
// took and, for the registered branch, the handshake it started.
type EmailTransferResult struct {
	Branch    CounterpartyBranch
	Actor     *model.Actor            // resolved recipient (registered branch)
	Operation *model.PendingOperation // created handshake (registered branch)
	Token     *model.TransferToken    // issued token (registered branch)
}

// ClaimService is the receiving party's entry point: it redeems
// transfer tokens exactly once and resolves counterparties by email
// when proximity discovery is impossible.
type ClaimService struct {
	issuer *TransferTokenIssuer
	relay  *Relay
	ops    OperationStore
	actors ActorDirectory
	ticks  TicketLedger
	pub    StatusPublisher
	events CompletionNotifier
}

// CompletionNotifier delivers terminal handshake outcomes to the
// asynchronous event channel (queue) for logging and notification.
// Implementations must be safe to call from request goroutines.
type CompletionNotifier interface {
	NotifyCompleted(ctx context.Context, op *model.PendingOperation, ticket model.Ticket, recipientEmail string)
}

// NewClaimService constructs the claim endpoint logic.
func NewClaimService(issuer *TransferTokenIssuer, relay *Relay, ops OperationStore, actors ActorDirectory, ticks TicketLedger, pub StatusPublisher, events CompletionNotifier) *ClaimService {
	if issuer == nil || relay == nil || ops == nil || actors == nil || ticks == nil || pub == nil || events == nil {
		panic("nil dependency passed to NewClaimService")
	}
	return &ClaimService{issuer: issuer, relay: relay, ops: ops, actors: actors, ticks: ticks, pub: pub, events: events}
}

// ClaimByToken redeems tokenID for the claimant. Redemption is
// idempotently exactly-once: the first call wins, every later or
// concurrent call gets repository.ErrAlreadyRedeemed (or ErrExpired
// / ErrRevoked / ErrNotFound), and the ticket owner never changes
// twice. On success the associated pending operation, if any, is
// advanced to completed and the transition is published; a claim is
// implicit discovery and acknowledgment, so a still-waiting operation
// gets the claimant attached as counterparty and a still-pending one
// passes through processing on its way.
func (s *ClaimService) ClaimByToken(ctx context.Context, tokenID string, claimantID uint64) (ClaimResult, error) {
	token, ticket, err := s.issuer.Redeem(ctx, tokenID, claimantID)
	if err != nil {
		s.failOperationForRejectedClaim(ctx, tokenID, err)
		return ClaimResult{}, err
	}
	res := ClaimResult{Ticket: ticket, Token: token}
	op, opErr := s.ops.GetByToken(ctx, tokenID)
	if opErr != nil {
		if !errors.Is(opErr, repository.ErrNotFound) {
			log.Printf("claim: load operation for token: %v", opErr)
		}
		s.events.NotifyCompleted(ctx, nil, ticket, "")
		return res, nil
	}
	s.completeOperation(ctx, &op, claimantID)
	res.Operation = &op
	s.events.NotifyCompleted(ctx, &op, ticket, "")
	return res, nil
}

// completeOperation drives op to completed, tolerating every race:
// the claim may arrive while the operation is still waiting (the
// token was read off a broadcast before any discovery report),
// pending (counterparty skipped the ack), processing, or already
// completed via a duplicate delivery. A claim is implicit discovery
// and acknowledgment: a waiting operation gets the claimant attached
// as its counterparty on the way through. Whatever transitions this
// call wins are published; transitions it loses were published by
// the winner.
func (s *ClaimService) completeOperation(ctx context.Context, op *model.PendingOperation, claimantID uint64) {
	if op.State == model.StateWaiting {
		if err := s.ops.AttachCounterparty(ctx, op.OperationID, claimantID); err != nil && !errors.Is(err, repository.ErrTerminal) {
			log.Printf("claim: attach claimant to %s: %v", op.OperationID, err)
		}
	}
	if op.State == model.StateWaiting || op.State == model.StatePending {
		if err := s.ops.Transition(ctx, op.OperationID, model.StatePending, model.StateProcessing, ""); err != nil && !errors.Is(err, repository.ErrTerminal) {
			log.Printf("claim: advance %s to processing: %v", op.OperationID, err)
		}
	}
	if err := s.ops.Transition(ctx, op.OperationID, model.StateProcessing, model.StateCompleted, ""); err != nil && !errors.Is(err, repository.ErrTerminal) {
		log.Printf("claim: complete %s: %v", op.OperationID, err)
	}
	cur, err := s.ops.Get(ctx, op.OperationID)
	if err != nil {
		log.Printf("claim: reload %s: %v", op.OperationID, err)
		return
	}
	*op = cur
	if err := s.pub.PublishState(ctx, cur); err != nil {
		log.Printf("claim: publish %s: %v", op.OperationID, err)
	}
}

// failOperationForRejectedClaim marks the tracked operation failed
// when a claim was rejected for a reason the initiator should see
// (another claimant won). Expired and revoked tokens are left to the
// enforcer and the cancel path, which already produced the terminal
// transition.
func (s *ClaimService) failOperationForRejectedClaim(ctx context.Context, tokenID string, cause error) {
	if !errors.Is(cause, repository.ErrAlreadyRedeemed) {
		return
	}
	op, err := s.ops.GetByToken(ctx, tokenID)
	if err != nil || op.State.IsTerminal() {
		return
	}
	from := op.State
	if from == model.StateWaiting {
		// failed is not reachable from waiting; step the row through
		// pending first. Losing this CAS means a discovery or another
		// claim raced in, and that winner owns the outcome.
		if err := s.ops.Transition(ctx, op.OperationID, model.StateWaiting, model.StatePending, ""); err != nil {
			return
		}
		from = model.StatePending
	}
	if err := s.ops.Transition(ctx, op.OperationID, from, model.StateFailed, model.ReasonAlreadyRedeemed); err != nil {
		return
	}
	if cur, err := s.ops.Get(ctx, op.OperationID); err == nil {
		if err := s.pub.PublishState(ctx, cur); err != nil {
			log.Printf("claim: publish %s: %v", cur.OperationID, err)
		}
	}
}

// LookupByEmail resolves an actor for the email fallback path.
// Returns (actor, BranchRegistered) for a known address and (zero,
// BranchUnregistered) with no error for an unknown one; an
// unregistered counterparty is an expected branch, not a failure.
func (s *ClaimService) LookupByEmail(ctx context.Context, email string) (model.Actor, CounterpartyBranch, error) {
	actor, err := s.actors.ActorByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Actor{}, BranchUnregistered, nil
	}
	if err != nil {
		return model.Actor{}, "", err
	}
	return actor, BranchRegistered, nil
}

// TransferByEmail transfers a ticket when proximity discovery is
// impossible. For a registered recipient it starts a normal transfer
// handshake addressed to them. For an unregistered address the
// ticket is parked for deferred delivery and the notification
// channel is told; no actor is provisioned, identity creation waits
// for the recipient's first login.
func (s *ClaimService) TransferByEmail(ctx context.Context, initiatorID, ticketID uint64, email string) (EmailTransferResult, error) {
	actor, branch, err := s.LookupByEmail(ctx, email)
	if err != nil {
		return EmailTransferResult{}, err
	}
	if branch == BranchRegistered {
		op, token, err := s.relay.CreateTransfer(ctx, initiatorID, ticketID, &actor.ID)
		if err != nil {
			return EmailTransferResult{}, err
		}
		return EmailTransferResult{Branch: BranchRegistered, Actor: &actor, Operation: &op, Token: &token}, nil
	}
	ticket, err := s.ticks.GetTicket(ctx, ticketID)
	if err != nil {
		return EmailTransferResult{}, err
	}
	if err := s.ticks.ParkForDelivery(ctx, ticketID, initiatorID, email); err != nil {
		return EmailTransferResult{}, err
	}
	ticket.OwnerActorID = nil
	ticket.Status = model.TicketStatusPendingDelivery
	s.events.NotifyCompleted(ctx, nil, ticket, email)
	return EmailTransferResult{Branch: BranchUnregistered}, nil
}
