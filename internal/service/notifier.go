package service

import (
	"context"
	"time"

	"github.com/iliyamo/proximity-ticket-handshake/internal/model"
	"github.com/iliyamo/proximity-ticket-handshake/internal/queue"
)

// QueueNotifier delivers completion events to the message broker. It
// satisfies CompletionNotifier; publish failures never surface to the
// request path, the handshake outcome is already durable in the
// primary store.
type QueueNotifier struct{}

var _ CompletionNotifier = QueueNotifier{}

// NotifyCompleted builds the broker event for a finished handshake
// and publishes it. op is nil for outcomes with no tracked operation
// (deferred email deliveries and bare-token redemptions).
func (QueueNotifier) NotifyCompleted(ctx context.Context, op *model.PendingOperation, ticket model.Ticket, recipientEmail string) {
	ev := queue.HandshakeCompletedEvent{
		Kind:           string(model.KindTransfer),
		TicketID:       ticket.ID,
		TicketNumber:   ticket.TicketNumber,
		EventID:        ticket.EventID,
		RecipientEmail: recipientEmail,
		CompletedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if op != nil {
		ev.OperationID = op.OperationID
		ev.Kind = string(op.Kind)
		ev.InitiatorID = op.InitiatorID
		if op.CounterpartyID != nil {
			ev.CounterpartyID = *op.CounterpartyID
		}
		if op.AmountCents != nil {
			ev.AmountCents = *op.AmountCents
		}
	}
	// Fire and forget: the publisher logs its own failures.
	_ = queue.PublishHandshakeCompleted(ctx, ev)
}
