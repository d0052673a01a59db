package repository

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"

	"github.com/iliyamo/proximity-ticket-handshake/internal/model"
)

// PendingOperationRepo provides data access to the
// pending_operations table. All state changes go through
// compare-and-swap UPDATEs guarded on the current state, which makes
// the database the single authoritative writer per operation: two
// concurrent transition attempts resolve to one winner and one
// ErrTerminal, and a terminal row can never move again regardless of
// caller bugs, because no guard matches a terminal state.
type PendingOperationRepo struct{ db *sql.DB }

func NewPendingOperationRepo(db *sql.DB) *PendingOperationRepo {
	return &PendingOperationRepo{db: db}
}

func (r *PendingOperationRepo) DB() *sql.DB { return r.db }

// NewOperationID returns a 32-character hex correlation id.
func NewOperationID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

const opColumns = `id, operation_id, kind, initiator_actor_id, counterparty_actor_id,
	ticket_id, token_id, amount_cents, reference, state, terminal_reason,
	created_at, expires_at, updated_at`

func scanOperation(scan func(dest ...any) error) (model.PendingOperation, error) {
	var op model.PendingOperation
	var kind, state string
	var counterparty, ticketID sql.NullInt64
	var tokenID, reason sql.NullString
	var amount sql.NullInt64
	err := scan(&op.ID, &op.OperationID, &kind, &op.InitiatorID, &counterparty,
		&ticketID, &tokenID, &amount, &op.Reference, &state, &reason,
		&op.CreatedAt, &op.ExpiresAt, &op.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PendingOperation{}, ErrNotFound
	}
	if err != nil {
		return model.PendingOperation{}, err
	}
	op.Kind = model.OperationKind(kind)
	op.State = model.OperationState(state)
	if counterparty.Valid {
		v := uint64(counterparty.Int64)
		op.CounterpartyID = &v
	}
	if ticketID.Valid {
		v := uint64(ticketID.Int64)
		op.TicketID = &v
	}
	if tokenID.Valid {
		v := tokenID.String
		op.TokenID = &v
	}
	if amount.Valid {
		v := uint32(amount.Int64)
		op.AmountCents = &v
	}
	if reason.Valid {
		v := reason.String
		op.TerminalReason = &v
	}
	return op, nil
}

// Create inserts the operation row and fills in its numeric ID. The
// caller sets the initial state: StateWaiting for an operation
// created at broadcast time with no counterparty yet, StatePending
// when the counterparty was already resolved at creation.
func (r *PendingOperationRepo) Create(ctx context.Context, op *model.PendingOperation) error {
	return r.createExec(ctx, r.db.ExecContext, op)
}

// CreateTx is Create inside an existing transaction, used when the
// operation row must appear atomically with its transfer token.
func (r *PendingOperationRepo) CreateTx(ctx context.Context, tx *sql.Tx, op *model.PendingOperation) error {
	return r.createExec(ctx, tx.ExecContext, op)
}

type execFunc func(ctx context.Context, query string, args ...any) (sql.Result, error)

func (r *PendingOperationRepo) createExec(ctx context.Context, exec execFunc, op *model.PendingOperation) error {
	var counterparty, ticketID, amount any
	if op.CounterpartyID != nil {
		counterparty = *op.CounterpartyID
	}
	if op.TicketID != nil {
		ticketID = *op.TicketID
	}
	if op.AmountCents != nil {
		amount = *op.AmountCents
	}
	var tokenID any
	if op.TokenID != nil {
		tokenID = *op.TokenID
	}
	res, err := exec(ctx,
		`INSERT INTO pending_operations
		 (operation_id, kind, initiator_actor_id, counterparty_actor_id, ticket_id, token_id,
		  amount_cents, reference, state, expires_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		op.OperationID, string(op.Kind), op.InitiatorID, counterparty, ticketID, tokenID,
		amount, op.Reference, string(op.State), op.ExpiresAt.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	op.ID = uint64(id)
	return nil
}

// GetByOperationID fetches one operation by its correlation id.
func (r *PendingOperationRepo) GetByOperationID(ctx context.Context, operationID string) (model.PendingOperation, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+opColumns+" FROM pending_operations WHERE operation_id=? LIMIT 1", operationID)
	return scanOperation(row.Scan)
}

// GetByTokenID fetches the transfer operation referencing a token.
func (r *PendingOperationRepo) GetByTokenID(ctx context.Context, tokenID string) (model.PendingOperation, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+opColumns+" FROM pending_operations WHERE token_id=? LIMIT 1", tokenID)
	return scanOperation(row.Scan)
}

// AttachCounterparty records the discovered counterparty and moves
// waiting -> pending in one CAS. Guarded on the validity window so a
// discovery report racing the expiry sweep loses cleanly.
func (r *PendingOperationRepo) AttachCounterparty(ctx context.Context, operationID string, counterpartyID uint64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE pending_operations
		 SET counterparty_actor_id=?, state=?, updated_at=UTC_TIMESTAMP()
		 WHERE operation_id=? AND state=? AND expires_at > UTC_TIMESTAMP()`,
		counterpartyID, string(model.StatePending), operationID, string(model.StateWaiting))
	if err != nil {
		return err
	}
	return r.casOutcome(ctx, res, operationID)
}

// Transition performs one CAS state change from -> to, recording the
// terminal reason when to is failed or expired. Legality is checked
// against the model's transition table before touching the store.
func (r *PendingOperationRepo) Transition(ctx context.Context, operationID string, from, to model.OperationState, reason string) error {
	return r.transitionExec(ctx, r.db.ExecContext, operationID, from, to, reason)
}

// TransitionTx is Transition inside an existing transaction, used by
// the claim endpoint so the operation completes atomically with the
// token redemption and the ownership change.
func (r *PendingOperationRepo) TransitionTx(ctx context.Context, tx *sql.Tx, operationID string, from, to model.OperationState, reason string) error {
	return r.transitionExec(ctx, tx.ExecContext, operationID, from, to, reason)
}

func (r *PendingOperationRepo) transitionExec(ctx context.Context, exec execFunc, operationID string, from, to model.OperationState, reason string) error {
	if !model.CanTransition(from, to) {
		return ErrTerminal
	}
	var reasonArg any
	if reason != "" {
		reasonArg = reason
	}
	res, err := exec(ctx,
		`UPDATE pending_operations
		 SET state=?, terminal_reason=?, updated_at=UTC_TIMESTAMP()
		 WHERE operation_id=? AND state=?`,
		string(to), reasonArg, operationID, string(from))
	if err != nil {
		return err
	}
	return r.casOutcome(ctx, res, operationID)
}

// casOutcome maps an affected-rows result to the caller-visible
// error: success, ErrNotFound for a missing row, ErrTerminal when
// the row exists but the guard did not match (someone else moved it
// first).
func (r *PendingOperationRepo) casOutcome(ctx context.Context, res sql.Result, operationID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := r.GetByOperationID(ctx, operationID); err != nil {
		return err
	}
	return ErrTerminal
}

// ExpireDue transitions every non-terminal operation past its window
// to expired and returns the operations that this call actually
// moved, so the caller can publish their terminal events exactly
// once. The per-row CAS keeps redundant sweeps from double-expiring:
// a row already moved by a concurrent run affects zero rows here and
// is not returned.
func (r *PendingOperationRepo) ExpireDue(ctx context.Context) ([]model.PendingOperation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT operation_id, state FROM pending_operations
		 WHERE state IN (?,?,?) AND expires_at <= UTC_TIMESTAMP()`,
		string(model.StateWaiting), string(model.StatePending), string(model.StateProcessing))
	if err != nil {
		return nil, err
	}
	type due struct {
		id    string
		state model.OperationState
	}
	var candidates []due
	for rows.Next() {
		var d due
		var state string
		if scanErr := rows.Scan(&d.id, &state); scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		d.state = model.OperationState(state)
		candidates = append(candidates, d)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	var expired []model.PendingOperation
	for _, d := range candidates {
		res, err := r.db.ExecContext(ctx,
			`UPDATE pending_operations
			 SET state=?, terminal_reason='expired', updated_at=UTC_TIMESTAMP()
			 WHERE operation_id=? AND state=? AND expires_at <= UTC_TIMESTAMP()`,
			string(model.StateExpired), d.id, string(d.state))
		if err != nil {
			return expired, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return expired, err
		}
		if n != 1 {
			continue // lost to a claim, cancel or concurrent sweep
		}
		op, err := r.GetByOperationID(ctx, d.id)
		if err != nil {
			return expired, err
		}
		expired = append(expired, op)
	}
	return expired, nil
}

// ListActiveByInitiator returns the initiator's non-terminal
// operations, oldest first. Used by the status surface so a vendor
// device can recover its in-flight handshakes after a restart.
func (r *PendingOperationRepo) ListActiveByInitiator(ctx context.Context, initiatorID uint64) ([]model.PendingOperation, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+opColumns+` FROM pending_operations
		 WHERE initiator_actor_id=? AND state IN (?,?,?) ORDER BY created_at`,
		initiatorID, string(model.StateWaiting), string(model.StatePending), string(model.StateProcessing))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ops []model.PendingOperation
	for rows.Next() {
		op, err := scanOperation(rows.Scan)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ops, nil
}
