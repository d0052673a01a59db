// Package queue defines message payloads exchanged over the message broker.
package queue

// HandshakeCompletedEvent is published when a handshake reaches its
// terminal outcome: a ticket changed hands, a payment completed, or a
// ticket was parked for deferred email delivery. It carries enough
// for downstream consumers to log and notify without querying the
// primary database. OperationID is empty for deferred deliveries,
// which have no tracked operation; RecipientEmail is set only on the
// deferred-delivery branch.
type HandshakeCompletedEvent struct {
	OperationID    string `json:"operation_id,omitempty"`
	Kind           string `json:"kind"`
	TicketID       uint64 `json:"ticket_id,omitempty"`
	TicketNumber   string `json:"ticket_number,omitempty"`
	EventID        uint64 `json:"event_id,omitempty"`
	InitiatorID    uint64 `json:"initiator_id,omitempty"`
	CounterpartyID uint64 `json:"counterparty_id,omitempty"`
	AmountCents    uint32 `json:"amount_cents,omitempty"`
	RecipientEmail string `json:"recipient_email,omitempty"`
	CompletedAt    string `json:"completed_at"`
}
