// Package proximity runs the short-range exchange between two
// devices held together. The server side never touches radio
// hardware; a Transport adapter bridges whatever channel the device
// gateway exposes (NFC frames relayed over a socket, a BLE
// characteristic, a test pipe) and this package turns raw frames
// into decoded payloads and back.
package proximity

import (
	"context"
	"log"

	"github.com/iliyamo/proximity-ticket-handshake/internal/payload"
)

// Transport is one bidirectional proximity channel. Read blocks for
// the next inbound frame; Write pushes one outbound frame. Both honor
// context cancellation. Implementations are not assumed safe for
// concurrent Reads.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, frame []byte) error
}

// Handler receives each successfully decoded payload from the peer.
type Handler func(ctx context.Context, p payload.Payload)

// Listener drains a transport, decodes each frame and hands valid
// payloads to its handler. Malformed or oversized frames are logged
// and skipped: a misread tap must not kill the session, the peer
// simply re-presents the device.
type Listener struct {
	tr      Transport
	handler Handler
}

func NewListener(tr Transport, handler Handler) *Listener {
	return &Listener{tr: tr, handler: handler}
}

// Run loops until the context is cancelled or the transport reports
// a non-recoverable error. It always returns the reason it stopped.
func (l *Listener) Run(ctx context.Context) error {
	for {
		frame, err := l.tr.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		p, err := payload.Decode(frame)
		if err != nil {
			log.Printf("proximity: skipping malformed frame (%d bytes): %v", len(frame), err)
			continue
		}
		l.handler(ctx, p)
	}
}

// Broadcast encodes a payload and writes it to the transport. It is
// the outbound half of the tap: the initiator presents its identity
// or claim credential for the peer's listener to pick up.
func Broadcast(ctx context.Context, tr Transport, p payload.Payload) error {
	frame, err := payload.Encode(p)
	if err != nil {
		return err
	}
	return tr.Write(ctx, frame)
}
