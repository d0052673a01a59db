package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iliyamo/proximity-ticket-handshake/internal/model"
	"github.com/iliyamo/proximity-ticket-handshake/internal/repository"
)

// memStore is an in-memory stand-in for the MySQL ledger. It
// reproduces the store contract exactly (CAS transitions, the
// single-winner redemption, validity checks against the store's own
// clock) so the services are tested against the same semantics they
// see in production. The clock is injectable to exercise expiry.
type memStore struct {
	mu      sync.Mutex
	now     func() time.Time
	seq     int
	tickets map[uint64]*model.Ticket
	tokens  map[string]*model.TransferToken
	ops     map[string]*model.PendingOperation
	actors  map[uint64]model.Actor
	parked  map[uint64]string // ticketID -> recipient email
}

func newMemStore() *memStore {
	return &memStore{
		now:     func() time.Time { return time.Now().UTC() },
		tickets: map[uint64]*model.Ticket{},
		tokens:  map[string]*model.TransferToken{},
		ops:     map[string]*model.PendingOperation{},
		actors:  map[uint64]model.Actor{},
		parked:  map[uint64]string{},
	}
}

func (m *memStore) addActor(id uint64, email, role string) {
	m.actors[id] = model.Actor{ID: id, Email: email, Role: role, IsActive: true}
}

func (m *memStore) addTicket(id, owner uint64) {
	m.tickets[id] = &model.Ticket{ID: id, EventID: 1, TicketNumber: fmt.Sprintf("TCK-%04d", id), OwnerActorID: &owner, Status: model.TicketStatusIssued}
}

func (m *memStore) IssueToken(_ context.Context, ticketID, holderID uint64, ttl time.Duration) (model.TransferToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketID]
	if !ok {
		return model.TransferToken{}, repository.ErrNotFound
	}
	if t.Status != model.TicketStatusIssued || t.OwnerActorID == nil || *t.OwnerActorID != holderID {
		return model.TransferToken{}, repository.ErrNotOwner
	}
	now := m.now()
	for _, tok := range m.tokens {
		if tok.TicketID == ticketID && tok.Live(now) {
			return model.TransferToken{}, repository.ErrAlreadyListedOrPending
		}
	}
	for _, op := range m.ops {
		if op.Kind == model.KindTransfer && op.TicketID != nil && *op.TicketID == ticketID && !op.State.IsTerminal() {
			return model.TransferToken{}, repository.ErrAlreadyListedOrPending
		}
	}
	m.seq++
	tok := &model.TransferToken{
		ID:        uint64(m.seq),
		TokenID:   fmt.Sprintf("tok-%04d", m.seq),
		TicketID:  ticketID,
		IssuerID:  holderID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	m.tokens[tok.TokenID] = tok
	return *tok, nil
}

func (m *memStore) RedeemToken(_ context.Context, tokenID string, claimantID uint64) (model.TransferToken, model.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[tokenID]
	if !ok {
		return model.TransferToken{}, model.Ticket{}, repository.ErrNotFound
	}
	switch {
	case tok.Redeemed:
		return model.TransferToken{}, model.Ticket{}, repository.ErrAlreadyRedeemed
	case tok.RevokedAt != nil:
		return model.TransferToken{}, model.Ticket{}, repository.ErrRevoked
	case !m.now().Before(tok.ExpiresAt):
		return model.TransferToken{}, model.Ticket{}, repository.ErrExpired
	}
	ticket, ok := m.tickets[tok.TicketID]
	if !ok || ticket.OwnerActorID == nil || *ticket.OwnerActorID != tok.IssuerID {
		return model.TransferToken{}, model.Ticket{}, repository.ErrNotOwner
	}
	tok.Redeemed = true
	tok.RedeemedBy = &claimantID
	owner := claimantID
	ticket.OwnerActorID = &owner
	return *tok, *ticket, nil
}

func (m *memStore) RevokeToken(_ context.Context, tokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[tokenID]
	if !ok {
		return repository.ErrNotFound
	}
	if tok.Redeemed {
		return repository.ErrAlreadyRedeemed
	}
	if tok.RevokedAt == nil {
		now := m.now()
		tok.RevokedAt = &now
	}
	return nil
}

func (m *memStore) GetToken(_ context.Context, tokenID string) (model.TransferToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[tokenID]
	if !ok {
		return model.TransferToken{}, repository.ErrNotFound
	}
	return *tok, nil
}

func (m *memStore) GetTicket(_ context.Context, ticketID uint64) (model.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketID]
	if !ok {
		return model.Ticket{}, repository.ErrNotFound
	}
	return *t, nil
}

func (m *memStore) ParkForDelivery(_ context.Context, ticketID, holderID uint64, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketID]
	if !ok {
		return repository.ErrNotFound
	}
	if t.OwnerActorID == nil || *t.OwnerActorID != holderID {
		return repository.ErrNotOwner
	}
	t.OwnerActorID = nil
	t.Status = model.TicketStatusPendingDelivery
	m.parked[ticketID] = email
	return nil
}

func (m *memStore) Create(_ context.Context, op *model.PendingOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	op.ID = uint64(m.seq)
	cp := *op
	m.ops[op.OperationID] = &cp
	return nil
}

func (m *memStore) Get(_ context.Context, operationID string) (model.PendingOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[operationID]
	if !ok {
		return model.PendingOperation{}, repository.ErrNotFound
	}
	return *op, nil
}

func (m *memStore) GetByToken(_ context.Context, tokenID string) (model.PendingOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range m.ops {
		if op.TokenID != nil && *op.TokenID == tokenID {
			return *op, nil
		}
	}
	return model.PendingOperation{}, repository.ErrNotFound
}

func (m *memStore) AttachCounterparty(_ context.Context, operationID string, counterpartyID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[operationID]
	if !ok {
		return repository.ErrNotFound
	}
	if op.State != model.StateWaiting || !m.now().Before(op.ExpiresAt) {
		return repository.ErrTerminal
	}
	op.CounterpartyID = &counterpartyID
	op.State = model.StatePending
	op.UpdatedAt = m.now()
	return nil
}

func (m *memStore) Transition(_ context.Context, operationID string, from, to model.OperationState, reason string) error {
	if !model.CanTransition(from, to) {
		return repository.ErrTerminal
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[operationID]
	if !ok {
		return repository.ErrNotFound
	}
	if op.State != from {
		return repository.ErrTerminal
	}
	op.State = to
	if reason != "" {
		r := reason
		op.TerminalReason = &r
	}
	op.UpdatedAt = m.now()
	return nil
}

func (m *memStore) ListActiveByInitiator(_ context.Context, initiatorID uint64) ([]model.PendingOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PendingOperation
	for _, op := range m.ops {
		if op.InitiatorID == initiatorID && !op.State.IsTerminal() {
			out = append(out, *op)
		}
	}
	return out, nil
}

func (m *memStore) ActorByID(_ context.Context, id uint64) (model.Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actors[id]
	if !ok {
		return model.Actor{}, repository.ErrNotFound
	}
	return a, nil
}

func (m *memStore) ActorByEmail(_ context.Context, email string) (model.Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.actors {
		if a.Email == email {
			return a, nil
		}
	}
	return model.Actor{}, repository.ErrNotFound
}

// capturePublisher records published transitions in order.
type capturePublisher struct {
	mu     sync.Mutex
	events []model.PendingOperation
}

func (p *capturePublisher) PublishState(_ context.Context, op model.PendingOperation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, op)
	return nil
}

func (p *capturePublisher) states(operationID string) []model.OperationState {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.OperationState
	for _, ev := range p.events {
		if ev.OperationID == operationID {
			out = append(out, ev.State)
		}
	}
	return out
}

// captureNotifier records completion notifications.
type captureNotifier struct {
	mu     sync.Mutex
	emails []string
	count  int
}

func (n *captureNotifier) NotifyCompleted(_ context.Context, _ *model.PendingOperation, _ model.Ticket, recipientEmail string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
	if recipientEmail != "" {
		n.emails = append(n.emails, recipientEmail)
	}
}

// fixture bundles a fully wired service set over one memStore.
type fixture struct {
	store    *memStore
	pub      *capturePublisher
	notifier *captureNotifier
	issuer   *TransferTokenIssuer
	relay    *Relay
	claims   *ClaimService
}

func newFixture(tokenTTL, opTTL time.Duration) *fixture {
	store := newMemStore()
	pub := &capturePublisher{}
	notifier := &captureNotifier{}
	issuer := NewTransferTokenIssuer(store, tokenTTL)
	relay := NewRelay(store, store, issuer, store, pub, notifier, opTTL)
	claims := NewClaimService(issuer, relay, store, store, store, pub, notifier)
	return &fixture{store: store, pub: pub, notifier: notifier, issuer: issuer, relay: relay, claims: claims}
}
