package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/proximity-ticket-handshake/internal/model"
)

// TicketRepo provides data access to the tickets and
// pending_deliveries tables. The handshake core only ever mutates a
// ticket's owner and status; everything else about a ticket is
// external display data.
type TicketRepo struct{ db *sql.DB }

func NewTicketRepo(db *sql.DB) *TicketRepo { return &TicketRepo{db: db} }

// DB exposes the underlying handle so that callers can open
// transactions spanning multiple repositories.
func (r *TicketRepo) DB() *sql.DB { return r.db }

const ticketColumns = "id, event_id, ticket_number, owner_actor_id, status, created_at, updated_at"

func scanTicket(row *sql.Row) (model.Ticket, error) {
	var t model.Ticket
	var owner sql.NullInt64
	err := row.Scan(&t.ID, &t.EventID, &t.TicketNumber, &owner, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Ticket{}, ErrNotFound
	}
	if err != nil {
		return model.Ticket{}, err
	}
	if owner.Valid {
		v := uint64(owner.Int64)
		t.OwnerActorID = &v
	}
	return t, nil
}

// GetByID fetches a ticket by id.
func (r *TicketRepo) GetByID(ctx context.Context, id uint64) (model.Ticket, error) {
	return scanTicket(r.db.QueryRowContext(ctx,
		"SELECT "+ticketColumns+" FROM tickets WHERE id=? LIMIT 1", id))
}

// GetByIDForUpdateTx fetches a ticket inside tx with a row lock.
// Token issuance locks the ticket row so the ownership check and the
// live-credential check cannot race with a concurrent transfer.
func (r *TicketRepo) GetByIDForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Ticket, error) {
	return scanTicket(tx.QueryRowContext(ctx,
		"SELECT "+ticketColumns+" FROM tickets WHERE id=? LIMIT 1 FOR UPDATE", id))
}

// TransferOwnershipTx moves the ticket to the new owner. The guard
// on the current owner makes the write a compare-and-swap: if the
// ticket changed hands since the caller read it, no row is updated
// and ErrNotOwner is returned.
func (r *TicketRepo) TransferOwnershipTx(ctx context.Context, tx *sql.Tx, ticketID, fromActorID, toActorID uint64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE tickets SET owner_actor_id=?, status=?, updated_at=UTC_TIMESTAMP()
		 WHERE id=? AND owner_actor_id=?`,
		toActorID, model.TicketStatusIssued, ticketID, fromActorID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotOwner
	}
	return nil
}

// ParkForDeliveryTx detaches the ticket from its current owner and
// records a pending delivery to an unregistered email address. The
// ticket is attached to the recipient's account on their first
// login; no actor row is created here.
func (r *TicketRepo) ParkForDeliveryTx(ctx context.Context, tx *sql.Tx, ticketID, fromActorID uint64, email string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE tickets SET owner_actor_id=NULL, status=?, updated_at=UTC_TIMESTAMP()
		 WHERE id=? AND owner_actor_id=?`,
		model.TicketStatusPendingDelivery, ticketID, fromActorID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotOwner
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO pending_deliveries (ticket_id, email) VALUES (?,?)",
		ticketID, email)
	return err
}

// ClaimPendingDeliveries attaches all parked tickets for the given
// email to the actor. Called by the identity provider on first
// login. Returns the number of tickets delivered.
func (r *TicketRepo) ClaimPendingDeliveries(ctx context.Context, actorID uint64, email string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tickets t
		 JOIN pending_deliveries pd ON pd.ticket_id = t.id
		 SET t.owner_actor_id=?, t.status=?, t.updated_at=UTC_TIMESTAMP(), pd.claimed_at=UTC_TIMESTAMP()
		 WHERE pd.email=? AND pd.claimed_at IS NULL AND t.status=?`,
		actorID, model.TicketStatusIssued, email, model.TicketStatusPendingDelivery)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
