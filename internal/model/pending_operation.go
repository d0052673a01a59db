package model

import "time"

// OperationState is the lifecycle state of a pending operation. The
// legal transitions form a small DAG:
//
//	waiting -> pending -> processing -> completed
//	                 \         \-----> failed
//	                  \--------------> failed
//	pending|processing ------> cancelled
//	any non-terminal --------> expired
//
// completed, failed, cancelled and expired are terminal; no
// transition ever leaves a terminal state.
type OperationState string

const (
	StateWaiting    OperationState = "waiting"
	StatePending    OperationState = "pending"
	StateProcessing OperationState = "processing"
	StateCompleted  OperationState = "completed"
	StateFailed     OperationState = "failed"
	StateCancelled  OperationState = "cancelled"
	StateExpired    OperationState = "expired"
)

// OperationKind distinguishes the two handshake flavours. A transfer
// operation references exactly one transfer token; a payment
// operation carries an amount and no token; the counterparty
// authorizes directly against the subject reference.
type OperationKind string

const (
	KindPayment  OperationKind = "payment"
	KindTransfer OperationKind = "transfer"
)

// Terminal reasons recorded on failed operations and surfaced
// verbatim to the initiator's display. The relay never collapses
// these into a generic error.
const (
	ReasonDeclined        = "declined"
	ReasonAlreadyRedeemed = "already_redeemed"
	ReasonNotOwner        = "not_owner"
	ReasonCounterparty    = "counterparty_error"
)

// IsTerminal reports whether s admits no further transitions.
func (s OperationState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateExpired:
		return true
	}
	return false
}

// Rank orders states along the lifecycle so that the realtime
// subscriber can discard stale deliveries: a state is never delivered
// after a state of higher rank for the same operation. All terminal
// states share the highest rank because at most one of them is ever
// reached.
func (s OperationState) Rank() int {
	switch s {
	case StateWaiting:
		return 0
	case StatePending:
		return 1
	case StateProcessing:
		return 2
	case StateCompleted, StateFailed, StateCancelled, StateExpired:
		return 3
	}
	return -1
}

// Valid reports whether s is a known state.
func (s OperationState) Valid() bool { return s.Rank() >= 0 }

// CanTransition reports whether moving from state `from` to state
// `to` is legal. This is the single source of truth for the state
// machine; the repository encodes the same rules in its CAS guards
// and the relay consults it before touching the store.
func CanTransition(from, to OperationState) bool {
	if from.IsTerminal() || !from.Valid() || !to.Valid() {
		return false
	}
	switch to {
	case StatePending:
		return from == StateWaiting
	case StateProcessing:
		return from == StatePending
	case StateCompleted:
		return from == StateProcessing
	case StateFailed:
		return from == StatePending || from == StateProcessing
	case StateCancelled:
		return from == StatePending || from == StateProcessing
	case StateExpired:
		return true // any non-terminal state may expire
	}
	return false
}

// PendingOperation is the relay-tracked record of one handshake
// attempt. It is created by the initiating vendor, advanced only by
// the relay and the claim endpoint, and immutable once terminal.
//
// Fields:
//  ID             – primary key of the pending_operations row.
//  OperationID    – opaque correlation id used by the realtime channel.
//  Kind           – payment or transfer.
//  InitiatorID    – vendor who started the handshake.
//  CounterpartyID – discovered customer; null while waiting.
//  TicketID       – subject ticket for transfer operations (nullable).
//  TokenID        – transfer token string for transfer operations.
//  AmountCents    – charge amount for payment operations (nullable).
//  Reference      – free-form subject reference (charge intent, memo).
//  State          – current lifecycle state.
//  TerminalReason – why a failed/expired operation ended (nullable).
//  CreatedAt      – creation timestamp.
//  ExpiresAt      – end of the validity window.
//  UpdatedAt      – timestamp of the last state transition.
type PendingOperation struct {
	ID             uint64         // pending_operations.id
	OperationID    string         // pending_operations.operation_id
	Kind           OperationKind  // pending_operations.kind
	InitiatorID    uint64         // pending_operations.initiator_actor_id
	CounterpartyID *uint64        // pending_operations.counterparty_actor_id (nullable)
	TicketID       *uint64        // pending_operations.ticket_id (nullable)
	TokenID        *string        // pending_operations.token_id (nullable)
	AmountCents    *uint32        // pending_operations.amount_cents (nullable)
	Reference      string         // pending_operations.reference
	State          OperationState // pending_operations.state
	TerminalReason *string        // pending_operations.terminal_reason (nullable)
	CreatedAt      time.Time      // pending_operations.created_at
	ExpiresAt      time.Time      // pending_operations.expires_at
	UpdatedAt      time.Time      // pending_operations.updated_at
}
