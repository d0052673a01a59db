// Package realtime delivers pending-operation state transitions to
// the initiating device as they occur. Transitions are published to
// a Redis channel keyed by operation id; subscribers receive an
// initial snapshot followed by the live stream, with a rank filter
// guaranteeing that later states are never delivered before earlier
// ones for the same operation. Delivery is at-least-once: the store
// remains the source of truth and a resubscribing client always
// starts from a fresh snapshot, so the final terminal transition
// cannot be lost across reconnects.
package realtime

import (
	"time"

	"github.com/iliyamo/proximity-ticket-handshake/internal/model"
)

// StateChangedEvent is the message pushed for every state
// transition. TerminalReason is only set on failed and expired
// operations and is surfaced verbatim to the initiator's display.
type StateChangedEvent struct {
	OperationID    string               `json:"operation_id"`
	State          model.OperationState `json:"state"`
	TerminalReason string               `json:"terminal_reason,omitempty"`
	UpdatedAt      string               `json:"updated_at"`
}

// EventFromOperation builds the wire event for an operation's
// current state.
func EventFromOperation(op model.PendingOperation) StateChangedEvent {
	ev := StateChangedEvent{
		OperationID: op.OperationID,
		State:       op.State,
		UpdatedAt:   op.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if op.TerminalReason != nil {
		ev.TerminalReason = *op.TerminalReason
	}
	return ev
}
