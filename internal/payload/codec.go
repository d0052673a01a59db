// Package payload implements the proximity payload codec: the small
// identity and claim records exchanged between two co-located devices
// over the short-range channel, plus the QR JSON fallback used when
// no proximity transport is available.
//
// Three wire formats are supported, tried by the decoder in a fixed
// priority order:
//
//  1. tagged text: "<namespace>:<subject>" with an optional
//     "#<hint>" suffix; the namespace carries the payload kind.
//  2. URI record: first byte is an index (0 to 35) into a fixed
//     table of common URI prefixes, remaining bytes are the suffix;
//     the decoder reconstructs prefix+suffix.
//  3. raw text: plain UTF-8 accepted as-is when nothing else
//     matches.
//
// Decoding never panics and never fails the discovery loop: any
// input that matches none of the formats yields ErrMalformed and the
// caller keeps listening.
package payload

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Kind tells a reader what the broadcasting device is advertising.
type Kind string

const (
	// KindCustomerIdentity is broadcast by a customer device so a
	// vendor can address a payment request to it.
	KindCustomerIdentity Kind = "customer-identity"
	// KindTicketClaim is broadcast by a vendor device and carries a
	// transfer token the counterparty may redeem.
	KindTicketClaim Kind = "ticket-claim"
)

// Format records which wire format a payload was (or will be)
// carried in. Encode switches on it; Decode reports the format that
// actually matched so round-trips are exact.
type Format int

const (
	FormatTagged Format = iota // namespace-tagged text record
	FormatURI                  // prefix-table URI record
	FormatRaw                  // raw UTF-8 text record
)

// Namespace tags for the tagged text format. Short on purpose: the
// proximity frame budget is small.
const (
	nsCustomerIdentity = "cust"
	nsTicketClaim      = "tclaim"
)

// MaxPayloadBytes bounds the encoded size of any payload. Proximity
// transports have a practical frame limit well under a kilobyte; a
// payload that does not fit is an encoding error, not a truncation.
const MaxPayloadBytes = 1024

// ErrMalformed is returned by Decode for any input that matches no
// known sub-format. It is an expected outcome for garbage reads;
// discovery loops skip the frame and keep listening.
var ErrMalformed = errors.New("payload: malformed")

// Payload is the decoded form of one proximity record. Only the
// tagged format carries Kind and CorrelationHint on the wire; URI
// and raw records always decode as customer identities with no hint.
type Payload struct {
	Kind            Kind
	SubjectID       string // actor id, token string, or URI depending on Kind/Format
	CorrelationHint string // optional operation correlation hint (tagged format only)
	Format          Format
}

// uriPrefixes is the fixed 36-entry table of URI prefixes. The index
// byte of a URI record selects an entry; index 0 means "no prefix".
// The table is append-only by contract: reordering it would break
// every deployed reader.
var uriPrefixes = [36]string{
	"",
	"http://www.",
	"https://www.",
	"http://",
	"https://",
	"tel:",
	"mailto:",
	"ftp://anonymous:anonymous@",
	"ftp://ftp.",
	"ftps://",
	"sftp://",
	"smb://",
	"nfs://",
	"ftp://",
	"dav://",
	"news:",
	"telnet://",
	"imap:",
	"rtsp://",
	"urn:",
	"pop:",
	"sip:",
	"sips:",
	"tftp:",
	"btspp://",
	"btl2cap://",
	"btgoep://",
	"tcpobex://",
	"irdaobex://",
	"file://",
	"urn:epc:id:",
	"urn:epc:tag:",
	"urn:epc:pat:",
	"urn:epc:raw:",
	"urn:epc:",
	"urn:nfc:",
}

// Encode serializes p into its wire form. The output is
// deterministic for a given payload, and everything Encode accepts
// Decode accepts back. Errors indicate a payload that cannot be
// represented (empty subject, control bytes, reserved characters in
// the tagged format, kinds/hints the chosen format cannot carry, or
// an encoding that exceeds MaxPayloadBytes).
func Encode(p Payload) ([]byte, error) {
	if p.SubjectID == "" {
		return nil, fmt.Errorf("payload: empty subject")
	}
	if !utf8.ValidString(p.SubjectID) || !utf8.ValidString(p.CorrelationHint) {
		return nil, fmt.Errorf("payload: subject and hint must be valid UTF-8")
	}
	// Records are single-line by contract; Decode rejects control
	// bytes in every format, so producing them would break the
	// round-trip guarantee.
	if containsControl([]byte(p.SubjectID)) || containsControl([]byte(p.CorrelationHint)) {
		return nil, fmt.Errorf("payload: subject and hint must not contain control bytes")
	}
	var out []byte
	switch p.Format {
	case FormatTagged:
		ns, err := namespaceFor(p.Kind)
		if err != nil {
			return nil, err
		}
		if strings.ContainsRune(p.SubjectID, '#') {
			return nil, fmt.Errorf("payload: subject must not contain '#'")
		}
		if strings.ContainsRune(p.CorrelationHint, '#') {
			return nil, fmt.Errorf("payload: hint must not contain '#'")
		}
		s := ns + ":" + p.SubjectID
		if p.CorrelationHint != "" {
			s += "#" + p.CorrelationHint
		}
		out = []byte(s)
	case FormatURI:
		if p.Kind != KindCustomerIdentity || p.CorrelationHint != "" {
			return nil, fmt.Errorf("payload: URI format carries only a bare customer identity")
		}
		idx, suffix := splitURIPrefix(p.SubjectID)
		// A bare prefix leaves nothing after the index byte, and
		// Decode requires a non-empty suffix.
		if suffix == "" {
			return nil, fmt.Errorf("payload: URI subject is a bare prefix")
		}
		out = append([]byte{byte(idx)}, suffix...)
	case FormatRaw:
		if p.Kind != KindCustomerIdentity || p.CorrelationHint != "" {
			return nil, fmt.Errorf("payload: raw format carries only a bare customer identity")
		}
		// A raw record whose text collides with a tagged namespace or
		// whose first byte sits in the URI index range would decode as
		// a different format; refuse to produce such ambiguity.
		if hasNamespaceTag(p.SubjectID) {
			return nil, fmt.Errorf("payload: raw text collides with a namespace tag")
		}
		if p.SubjectID[0] < 0x24 {
			return nil, fmt.Errorf("payload: raw text must not start with a URI index byte")
		}
		out = []byte(p.SubjectID)
	default:
		return nil, fmt.Errorf("payload: unknown format %d", p.Format)
	}
	if len(out) > MaxPayloadBytes {
		return nil, fmt.Errorf("payload: encoded size %d exceeds limit %d", len(out), MaxPayloadBytes)
	}
	return out, nil
}

// Decode parses a proximity frame. Formats are attempted in priority
// order: namespace tag first, URI prefix table second, raw text
// last. The first successful parse wins. Garbage of any shape
// (empty, truncated, invalid UTF-8, stray control bytes) yields
// ErrMalformed.
func Decode(b []byte) (Payload, error) {
	if len(b) == 0 || len(b) > MaxPayloadBytes {
		return Payload{}, ErrMalformed
	}
	// 1. Tagged text record.
	if p, ok := decodeTagged(b); ok {
		return p, nil
	}
	// 2. URI record: the index byte range (0x00–0x23) is disjoint
	// from printable text, so this cannot shadow a tagged record.
	if b[0] < byte(len(uriPrefixes)) {
		suffix := b[1:]
		if len(suffix) == 0 || !utf8.Valid(suffix) || containsControl(suffix) {
			return Payload{}, ErrMalformed
		}
		return Payload{
			Kind:      KindCustomerIdentity,
			SubjectID: uriPrefixes[b[0]] + string(suffix),
			Format:    FormatURI,
		}, nil
	}
	// 3. Raw UTF-8 text fallback.
	if !utf8.Valid(b) || containsControl(b) {
		return Payload{}, ErrMalformed
	}
	return Payload{
		Kind:      KindCustomerIdentity,
		SubjectID: string(b),
		Format:    FormatRaw,
	}, nil
}

func decodeTagged(b []byte) (Payload, bool) {
	if !utf8.Valid(b) || containsControl(b) {
		return Payload{}, false
	}
	s := string(b)
	var kind Kind
	var rest string
	switch {
	case strings.HasPrefix(s, nsCustomerIdentity+":"):
		kind = KindCustomerIdentity
		rest = s[len(nsCustomerIdentity)+1:]
	case strings.HasPrefix(s, nsTicketClaim+":"):
		kind = KindTicketClaim
		rest = s[len(nsTicketClaim)+1:]
	default:
		return Payload{}, false
	}
	subject, hint, _ := strings.Cut(rest, "#")
	if subject == "" {
		return Payload{}, false
	}
	return Payload{Kind: kind, SubjectID: subject, CorrelationHint: hint, Format: FormatTagged}, true
}

func namespaceFor(k Kind) (string, error) {
	switch k {
	case KindCustomerIdentity:
		return nsCustomerIdentity, nil
	case KindTicketClaim:
		return nsTicketClaim, nil
	}
	return "", fmt.Errorf("payload: unknown kind %q", k)
}

// splitURIPrefix picks the longest table prefix matching the URI and
// returns its index together with the remaining suffix. Index 0 (no
// prefix) always matches, so every string is encodable.
func splitURIPrefix(uri string) (int, string) {
	best := 0
	for i := 1; i < len(uriPrefixes); i++ {
		p := uriPrefixes[i]
		if strings.HasPrefix(uri, p) && len(p) > len(uriPrefixes[best]) {
			best = i
		}
	}
	return best, uri[len(uriPrefixes[best]):]
}

func hasNamespaceTag(s string) bool {
	return strings.HasPrefix(s, nsCustomerIdentity+":") || strings.HasPrefix(s, nsTicketClaim+":")
}

// containsControl rejects frames with ASCII control bytes. Text and
// URI suffix records are single-line by contract; a control byte is
// always a sign of a corrupt or foreign read.
func containsControl(b []byte) bool {
	return bytes.IndexFunc(b, func(r rune) bool { return r < 0x20 || r == 0x7f }) >= 0
}
