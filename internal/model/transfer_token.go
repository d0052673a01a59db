package model

import "time"

// TransferToken is a single-use, time-bounded credential authorizing
// exactly one ownership change for one ticket. The token id is an
// opaque random hex string handed to the counterparty over the
// proximity channel (or its QR fallback); possession plus a valid
// session is sufficient to redeem. A token is terminal once redeemed
// or expired and is never accepted again.
//
// Fields:
//  ID         – primary key of the transfer_tokens row.
//  TokenID    – opaque unguessable token string (unique).
//  TicketID   – ticket whose ownership the token authorizes moving.
//  IssuerID   – actor who held the ticket at issue time.
//  IssuedAt   – when the token was minted.
//  ExpiresAt  – end of the validity window; always after IssuedAt.
//  Redeemed   – true once a claimant has won the redemption race.
//  RedeemedBy – actor who redeemed the token (null until redemption).
//  RevokedAt  – set when the token is invalidated without redemption,
//               by expiry sweep or by cancelling its operation.
type TransferToken struct {
	ID         uint64     // transfer_tokens.id
	TokenID    string     // transfer_tokens.token_id
	TicketID   uint64     // transfer_tokens.ticket_id
	IssuerID   uint64     // transfer_tokens.issuer_actor_id
	IssuedAt   time.Time  // transfer_tokens.issued_at
	ExpiresAt  time.Time  // transfer_tokens.expires_at
	Redeemed   bool       // transfer_tokens.redeemed
	RedeemedBy *uint64    // transfer_tokens.redeemed_by (nullable)
	RevokedAt  *time.Time // transfer_tokens.revoked_at (nullable)
}

// Live reports whether the token can still win a redemption at the
// given instant: not redeemed, not revoked, and inside its validity
// window. The repository enforces the same predicate in SQL; this
// helper exists for in-memory checks and tests.
func (t *TransferToken) Live(now time.Time) bool {
	return !t.Redeemed && t.RevokedAt == nil && now.Before(t.ExpiresAt)
}
