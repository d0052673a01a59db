package repository

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"

	"github.com/iliyamo/proximity-ticket-handshake/internal/model"
)

// TransferTokenRepo provides data access to the transfer_tokens
// table. Redemption is the single most safety-critical write in the
// system: it must resolve N concurrent attempts to exactly one
// winner. All validity comparisons are made against the database
// clock (UTC_TIMESTAMP()), never against client clocks, so expiry
// races resolve deterministically at the authoritative store.
type TransferTokenRepo struct{ db *sql.DB }

func NewTransferTokenRepo(db *sql.DB) *TransferTokenRepo { return &TransferTokenRepo{db: db} }

func (r *TransferTokenRepo) DB() *sql.DB { return r.db }

// NewTokenID returns a 64-character hex string from 32 bytes of
// cryptographically secure randomness. Unguessable by construction.
func NewTokenID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

const tokenColumns = "id, token_id, ticket_id, issuer_actor_id, issued_at, expires_at, redeemed, redeemed_by, revoked_at"

func scanToken(scan func(dest ...any) error) (model.TransferToken, error) {
	var t model.TransferToken
	var redeemedBy sql.NullInt64
	var revokedAt sql.NullTime
	err := scan(&t.ID, &t.TokenID, &t.TicketID, &t.IssuerID, &t.IssuedAt, &t.ExpiresAt, &t.Redeemed, &redeemedBy, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TransferToken{}, ErrNotFound
	}
	if err != nil {
		return model.TransferToken{}, err
	}
	if redeemedBy.Valid {
		v := uint64(redeemedBy.Int64)
		t.RedeemedBy = &v
	}
	if revokedAt.Valid {
		v := revokedAt.Time
		t.RevokedAt = &v
	}
	return t, nil
}

// HasLiveCredentialTx reports whether the ticket already has a live
// transfer token or a non-terminal transfer operation. Issuance uses
// this (under the ticket row lock) to refuse double-listing.
func (r *TransferTokenRepo) HasLiveCredentialTx(ctx context.Context, tx *sql.Tx, ticketID uint64) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM transfer_tokens
		     WHERE ticket_id=? AND redeemed=0 AND revoked_at IS NULL AND expires_at > UTC_TIMESTAMP())
		 + (SELECT COUNT(*) FROM pending_operations
		     WHERE ticket_id=? AND kind=? AND state NOT IN (?,?,?,?))`,
		ticketID, ticketID, string(model.KindTransfer),
		string(model.StateCompleted), string(model.StateFailed),
		string(model.StateCancelled), string(model.StateExpired),
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CreateTx inserts a token row inside tx. IssuedAt/ExpiresAt are
// supplied by the caller in UTC.
func (r *TransferTokenRepo) CreateTx(ctx context.Context, tx *sql.Tx, t *model.TransferToken) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO transfer_tokens (token_id, ticket_id, issuer_actor_id, issued_at, expires_at)
		 VALUES (?,?,?,?,?)`,
		t.TokenID, t.TicketID, t.IssuerID, t.IssuedAt.UTC(), t.ExpiresAt.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	return nil
}

// GetByTokenID fetches a token by its opaque token string.
func (r *TransferTokenRepo) GetByTokenID(ctx context.Context, tokenID string) (model.TransferToken, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM transfer_tokens WHERE token_id=? LIMIT 1", tokenID)
	return scanToken(row.Scan)
}

// RedeemTx atomically marks the token redeemed by the claimant. The
// UPDATE is a compare-and-swap guarded on "still live": of N
// concurrent redemption attempts exactly one affects a row; the rest
// fall through to the diagnosis query and receive the precise
// rejection (ErrNotFound, ErrAlreadyRedeemed, ErrRevoked or
// ErrExpired). On success the fresh token row is returned so the
// caller can apply the ownership change within the same transaction.
func (r *TransferTokenRepo) RedeemTx(ctx context.Context, tx *sql.Tx, tokenID string, claimantID uint64) (model.TransferToken, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE transfer_tokens SET redeemed=1, redeemed_by=?
		 WHERE token_id=? AND redeemed=0 AND revoked_at IS NULL AND expires_at > UTC_TIMESTAMP()`,
		claimantID, tokenID)
	if err != nil {
		return model.TransferToken{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.TransferToken{}, err
	}
	row := tx.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM transfer_tokens WHERE token_id=? LIMIT 1", tokenID)
	t, scanErr := scanToken(row.Scan)
	if scanErr != nil {
		return model.TransferToken{}, scanErr
	}
	if n == 1 {
		return t, nil
	}
	// The CAS lost; report why.
	switch {
	case t.Redeemed:
		return model.TransferToken{}, ErrAlreadyRedeemed
	case t.RevokedAt != nil:
		return model.TransferToken{}, ErrRevoked
	default:
		return model.TransferToken{}, ErrExpired
	}
}

// RevokeTx invalidates a still-live token, used when its operation
// is cancelled. A token that was already redeemed cannot be revoked:
// the redemption won the race and the cancel must fail instead.
func (r *TransferTokenRepo) RevokeTx(ctx context.Context, tx *sql.Tx, tokenID string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE transfer_tokens SET revoked_at=UTC_TIMESTAMP()
		 WHERE token_id=? AND redeemed=0 AND revoked_at IS NULL`,
		tokenID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	t, err := r.getByTokenIDTx(ctx, tx, tokenID)
	if err != nil {
		return err
	}
	if t.Redeemed {
		return ErrAlreadyRedeemed
	}
	// Already revoked (e.g. by a concurrent expiry sweep): no-op.
	return nil
}

func (r *TransferTokenRepo) getByTokenIDTx(ctx context.Context, tx *sql.Tx, tokenID string) (model.TransferToken, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM transfer_tokens WHERE token_id=? LIMIT 1", tokenID)
	return scanToken(row.Scan)
}

// ExpireDue marks every unredeemed, unrevoked token past its window
// as revoked and returns how many rows changed. The guard makes the
// sweep idempotent: a concurrent or repeated run finds nothing left
// to revoke. Once this has run, "now > expiresAt" is enforced twice
// over (the row is revoked and RedeemTx independently checks the
// window), so no later redemption can succeed even if it raced the
// sweep.
func (r *TransferTokenRepo) ExpireDue(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transfer_tokens SET revoked_at=UTC_TIMESTAMP()
		 WHERE redeemed=0 AND revoked_at IS NULL AND expires_at <= UTC_TIMESTAMP()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
