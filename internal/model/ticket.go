package model

import "time"

// Ticket statuses as stored in tickets.status. A ticket is ISSUED
// while held normally, PENDING_DELIVERY while a transfer to an
// unregistered email is waiting for the recipient's first login, and
// VOID once invalidated by an operator.
const (
	TicketStatusIssued          = "ISSUED"
	TicketStatusPendingDelivery = "PENDING_DELIVERY"
	TicketStatusVoid            = "VOID"
)

// Ticket represents one admission ticket in the ledger. Ownership is
// the only mutable aspect the handshake core touches: a successful
// token redemption moves OwnerActorID to the claimant. Everything
// else (pricing, seating, event metadata) lives outside this core.
//
// Fields:
//  ID           – primary key identifier.
//  EventID      – event this ticket admits to.
//  TicketNumber – human-readable serial printed on the ticket.
//  OwnerActorID – current owner; nullable while PENDING_DELIVERY.
//  Status       – see the TicketStatus constants.
//  CreatedAt    – timestamp of creation.
//  UpdatedAt    – timestamp of last ownership or status change.
type Ticket struct {
	ID           uint64    // tickets.id
	EventID      uint64    // tickets.event_id
	TicketNumber string    // tickets.ticket_number
	OwnerActorID *uint64   // tickets.owner_actor_id (nullable)
	Status       string    // tickets.status
	CreatedAt    time.Time // tickets.created_at
	UpdatedAt    time.Time // tickets.updated_at
}

// PendingDelivery parks a ticket transferred to an email address with
// no registered actor. The external notification channel emails the
// recipient; the ticket is attached to their account on first login.
// Identity creation is deliberately deferred until that login; the
// handshake core never provisions actors.
//
// Fields:
//  ID        – primary key identifier.
//  TicketID  – ticket awaiting delivery.
//  Email     – recipient address recorded at transfer time.
//  CreatedAt – when the deferred transfer was recorded.
//  ClaimedAt – when the recipient picked the ticket up (null until then).
type PendingDelivery struct {
	ID        uint64     // pending_deliveries.id
	TicketID  uint64     // pending_deliveries.ticket_id
	Email     string     // pending_deliveries.email
	CreatedAt time.Time  // pending_deliveries.created_at
	ClaimedAt *time.Time // pending_deliveries.claimed_at (nullable)
}
