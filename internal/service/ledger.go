package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/proximity-ticket-handshake/internal/model"
	"github.com/iliyamo/proximity-ticket-handshake/internal/repository"
)

// Ledger is the production store: it composes the MySQL repositories
// behind the service interfaces and supplies the transaction
// boundaries. Multi-row mutations (issue, redeem, park) run inside
// explicit transactions so a partial write can never leak: a token
// without its guard checks, or a redeemed token without its
// ownership change, would break the at-most-once contract.
type Ledger struct {
	db      *sql.DB
	tickets *repository.TicketRepo
	tokens  *repository.TransferTokenRepo
	ops     *repository.PendingOperationRepo
	actors  *repository.ActorRepo
}

// NewLedger builds the ledger over one shared database handle.
func NewLedger(db *sql.DB, tickets *repository.TicketRepo, tokens *repository.TransferTokenRepo, ops *repository.PendingOperationRepo, actors *repository.ActorRepo) *Ledger {
	if db == nil || tickets == nil || tokens == nil || ops == nil || actors == nil {
		panic("nil repository passed to NewLedger")
	}
	return &Ledger{db: db, tickets: tickets, tokens: tokens, ops: ops, actors: actors}
}

var _ TokenLedger = (*Ledger)(nil)
var _ TicketLedger = (*Ledger)(nil)
var _ OperationStore = (*Ledger)(nil)
var _ ActorDirectory = (*Ledger)(nil)

// IssueToken locks the ticket row, verifies ownership and the
// absence of a live credential, and inserts the token, all in one
// transaction, so two concurrent issue calls for the same ticket
// serialize on the row lock and the second one fails the live check.
func (l *Ledger) IssueToken(ctx context.Context, ticketID, holderID uint64, ttl time.Duration) (model.TransferToken, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return model.TransferToken{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	ticket, err := l.tickets.GetByIDForUpdateTx(ctx, tx, ticketID)
	if err != nil {
		return model.TransferToken{}, err
	}
	if ticket.Status != model.TicketStatusIssued || ticket.OwnerActorID == nil || *ticket.OwnerActorID != holderID {
		return model.TransferToken{}, repository.ErrNotOwner
	}
	live, err := l.tokens.HasLiveCredentialTx(ctx, tx, ticketID)
	if err != nil {
		return model.TransferToken{}, err
	}
	if live {
		return model.TransferToken{}, repository.ErrAlreadyListedOrPending
	}
	tokenID, err := repository.NewTokenID()
	if err != nil {
		return model.TransferToken{}, err
	}
	now := time.Now().UTC()
	token := model.TransferToken{
		TokenID:   tokenID,
		TicketID:  ticketID,
		IssuerID:  holderID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := l.tokens.CreateTx(ctx, tx, &token); err != nil {
		return model.TransferToken{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.TransferToken{}, err
	}
	committed = true
	return token, nil
}

// RedeemToken wins (or loses) the redemption CAS and, on a win,
// applies the ownership change in the same transaction. Either both
// rows change or neither does.
func (l *Ledger) RedeemToken(ctx context.Context, tokenID string, claimantID uint64) (model.TransferToken, model.Ticket, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return model.TransferToken{}, model.Ticket{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	token, err := l.tokens.RedeemTx(ctx, tx, tokenID, claimantID)
	if err != nil {
		return model.TransferToken{}, model.Ticket{}, err
	}
	if err := l.tickets.TransferOwnershipTx(ctx, tx, token.TicketID, token.IssuerID, claimantID); err != nil {
		return model.TransferToken{}, model.Ticket{}, err
	}
	ticket, err := l.tickets.GetByIDForUpdateTx(ctx, tx, token.TicketID)
	if err != nil {
		return model.TransferToken{}, model.Ticket{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.TransferToken{}, model.Ticket{}, err
	}
	committed = true
	return token, ticket, nil
}

// RevokeToken invalidates a live token (cancel path).
func (l *Ledger) RevokeToken(ctx context.Context, tokenID string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := l.tokens.RevokeTx(ctx, tx, tokenID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// GetToken fetches a token by its opaque string.
func (l *Ledger) GetToken(ctx context.Context, tokenID string) (model.TransferToken, error) {
	return l.tokens.GetByTokenID(ctx, tokenID)
}

// GetTicket fetches a ticket.
func (l *Ledger) GetTicket(ctx context.Context, ticketID uint64) (model.Ticket, error) {
	return l.tickets.GetByID(ctx, ticketID)
}

// ParkForDelivery detaches a ticket for an unregistered recipient.
func (l *Ledger) ParkForDelivery(ctx context.Context, ticketID, holderID uint64, email string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	live, err := l.tokens.HasLiveCredentialTx(ctx, tx, ticketID)
	if err != nil {
		return err
	}
	if live {
		return repository.ErrAlreadyListedOrPending
	}
	if err := l.tickets.ParkForDeliveryTx(ctx, tx, ticketID, holderID, email); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// OperationStore delegation.

func (l *Ledger) Create(ctx context.Context, op *model.PendingOperation) error {
	return l.ops.Create(ctx, op)
}

func (l *Ledger) Get(ctx context.Context, operationID string) (model.PendingOperation, error) {
	return l.ops.GetByOperationID(ctx, operationID)
}

func (l *Ledger) GetByToken(ctx context.Context, tokenID string) (model.PendingOperation, error) {
	return l.ops.GetByTokenID(ctx, tokenID)
}

func (l *Ledger) AttachCounterparty(ctx context.Context, operationID string, counterpartyID uint64) error {
	return l.ops.AttachCounterparty(ctx, operationID, counterpartyID)
}

func (l *Ledger) Transition(ctx context.Context, operationID string, from, to model.OperationState, reason string) error {
	return l.ops.Transition(ctx, operationID, from, to, reason)
}

func (l *Ledger) ListActiveByInitiator(ctx context.Context, initiatorID uint64) ([]model.PendingOperation, error) {
	return l.ops.ListActiveByInitiator(ctx, initiatorID)
}

// ActorDirectory delegation.

func (l *Ledger) ActorByID(ctx context.Context, id uint64) (model.Actor, error) {
	return l.actors.GetByID(ctx, id)
}

func (l *Ledger) ActorByEmail(ctx context.Context, email string) (model.Actor, error) {
	return l.actors.GetByEmail(ctx, email)
}
