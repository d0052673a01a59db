package payload

import (
	"encoding/json"
	"fmt"
)

// QR fallback: when neither device has a working proximity radio the
// vendor renders this JSON as a QR code and the counterparty scans
// it. The schema is versioned and closed: decoders reject unknown
// type or version values instead of guessing, so a reader can never
// misinterpret a foreign QR code as a ticket.

// QRType is the fixed discriminator for ticket transfer QR payloads.
const QRType = "ticket_transfer"

// QRVersion is the current schema version.
const QRVersion = 1

// QRTicketRef is the QR fallback payload identifying one ticket.
type QRTicketRef struct {
	Type         string `json:"type"`
	Version      int    `json:"version"`
	TicketID     string `json:"ticket_id"`
	TicketNumber string `json:"ticket_number"`
	EventID      string `json:"event_id"`
}

// EncodeQRFallback renders a stable JSON string for the given ticket
// reference. Field order is fixed by the struct, so the output is
// deterministic for a given input.
func EncodeQRFallback(ticketID, ticketNumber, eventID string) (string, error) {
	if ticketID == "" {
		return "", fmt.Errorf("payload: ticket id is required")
	}
	ref := QRTicketRef{
		Type:         QRType,
		Version:      QRVersion,
		TicketID:     ticketID,
		TicketNumber: ticketNumber,
		EventID:      eventID,
	}
	b, err := json.Marshal(ref)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeQRFallback parses a scanned QR string. Unknown type or
// version values are rejected with ErrMalformed rather than
// interpreted; so is any string that is not a JSON object of the
// expected shape or that lacks a ticket id.
func DecodeQRFallback(s string) (QRTicketRef, error) {
	var ref QRTicketRef
	if err := json.Unmarshal([]byte(s), &ref); err != nil {
		return QRTicketRef{}, ErrMalformed
	}
	if ref.Type != QRType || ref.Version != QRVersion {
		return QRTicketRef{}, ErrMalformed
	}
	if ref.TicketID == "" {
		return QRTicketRef{}, ErrMalformed
	}
	return ref, nil
}
