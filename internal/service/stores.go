// Package service contains the protocol services: the transfer token
// issuer, the pending-operation relay and the claim endpoint logic.
// Services are plain structs constructed once at process start and
// passed by reference; there is no ambient global state. They depend
// on the narrow store interfaces below so the protocol logic can be
// exercised against in-memory fakes, while production wires in the
// MySQL-backed ledger adapter.
package service

import (
	"context"
	"time"

	"github.com/iliyamo/proximity-ticket-handshake/internal/model"
)

// TokenLedger is the durable home of transfer tokens. Issue and
// Redeem are atomic with respect to concurrent callers: Issue never
// double-lists a ticket, and of N concurrent Redeem calls for one
// token exactly one returns success.
type TokenLedger interface {
	// IssueToken checks ownership and the absence of a live
	// credential, then persists a fresh token with the given window.
	IssueToken(ctx context.Context, ticketID, holderID uint64, ttl time.Duration) (model.TransferToken, error)
	// RedeemToken atomically redeems the token and transfers the
	// ticket to the claimant, returning both updated records.
	RedeemToken(ctx context.Context, tokenID string, claimantID uint64) (model.TransferToken, model.Ticket, error)
	// RevokeToken invalidates a still-live token. Returns
	// repository.ErrAlreadyRedeemed if a redemption already won.
	RevokeToken(ctx context.Context, tokenID string) error
	// GetToken fetches a token by its opaque string.
	GetToken(ctx context.Context, tokenID string) (model.TransferToken, error)
}

// TicketLedger is the slice of the ticket ledger the handshake core
// touches outside of redemption.
type TicketLedger interface {
	GetTicket(ctx context.Context, ticketID uint64) (model.Ticket, error)
	// ParkForDelivery detaches a ticket for an unregistered recipient
	// and records the email for the external notification channel.
	ParkForDelivery(ctx context.Context, ticketID, holderID uint64, email string) error
}

// OperationStore persists pending operations. Transition applies a
// compare-and-swap guarded on the expected current state; a lost
// race surfaces as repository.ErrTerminal.
type OperationStore interface {
	Create(ctx context.Context, op *model.PendingOperation) error
	Get(ctx context.Context, operationID string) (model.PendingOperation, error)
	GetByToken(ctx context.Context, tokenID string) (model.PendingOperation, error)
	AttachCounterparty(ctx context.Context, operationID string, counterpartyID uint64) error
	Transition(ctx context.Context, operationID string, from, to model.OperationState, reason string) error
	ListActiveByInitiator(ctx context.Context, initiatorID uint64) ([]model.PendingOperation, error)
}

// ActorDirectory resolves actor identities, including the email
// fallback used when proximity discovery is unavailable.
type ActorDirectory interface {
	ActorByID(ctx context.Context, id uint64) (model.Actor, error)
	ActorByEmail(ctx context.Context, email string) (model.Actor, error)
}

// StatusPublisher pushes a state transition to the operation's
// realtime channel. Publishing is best-effort: the store is the
// source of truth and a resubscribing client always receives a
// snapshot first, so a lost publish delays the initiator's display
// but never loses the outcome.
type StatusPublisher interface {
	PublishState(ctx context.Context, op model.PendingOperation) error
}
