package service

import (
	"context"
	"fmt"
	"time"

	"github.com/iliyamo/proximity-ticket-handshake/internal/model"
)

// TransferTokenIssuer mints and redeems transfer tokens. It owns the
// token lifecycle end to end: nothing else in the system writes a
// token row. Redemption doubles as the ticket ownership change, so a
// winning claim and the ledger mutation are one atomic step.
type TransferTokenIssuer struct {
	tokens TokenLedger
	ttl    time.Duration
}

// NewTransferTokenIssuer constructs an issuer with the deployment's
// default validity window. The window is a tunable, not a contract;
// in-person handoff deployments keep it in the order of minutes.
func NewTransferTokenIssuer(tokens TokenLedger, ttl time.Duration) *TransferTokenIssuer {
	if tokens == nil {
		panic("nil token ledger passed to NewTransferTokenIssuer")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TransferTokenIssuer{tokens: tokens, ttl: ttl}
}

// TTL returns the issuer's validity window.
func (i *TransferTokenIssuer) TTL() time.Duration { return i.ttl }

// Issue mints a time-bounded, single-use token binding ticketID to a
// transfer intent of holderID. Fails with repository.ErrNotOwner if
// the holder does not currently own the ticket and with
// repository.ErrAlreadyListedOrPending if the ticket already has a
// live token or a non-terminal transfer operation. A zero ttl uses
// the issuer default.
func (i *TransferTokenIssuer) Issue(ctx context.Context, ticketID, holderID uint64, ttl time.Duration) (model.TransferToken, error) {
	if ttl <= 0 {
		ttl = i.ttl
	}
	t, err := i.tokens.IssueToken(ctx, ticketID, holderID, ttl)
	if err != nil {
		return model.TransferToken{}, err
	}
	if !t.ExpiresAt.After(t.IssuedAt) {
		// The store violated the window invariant; refuse to hand the
		// token out.
		return model.TransferToken{}, fmt.Errorf("issuer: token window is empty (issued %s, expires %s)",
			t.IssuedAt, t.ExpiresAt)
	}
	return t, nil
}

// Redeem is the only mutating entry point for a token. Exactly one
// of any number of concurrent callers observes success; the others
// receive repository.ErrAlreadyRedeemed, ErrRevoked or ErrExpired.
// On success the ticket now belongs to the claimant and the token is
// terminal.
func (i *TransferTokenIssuer) Redeem(ctx context.Context, tokenID string, claimantID uint64) (model.TransferToken, model.Ticket, error) {
	return i.tokens.RedeemToken(ctx, tokenID, claimantID)
}
