package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iliyamo/proximity-ticket-handshake/internal/model"
	"github.com/iliyamo/proximity-ticket-handshake/internal/repository"
)

func TestClaimByTokenCompletesOperation(t *testing.T) {
	f := newFixture(2*time.Minute, 5*time.Minute)
	f.store.addTicket(ticketID, vendorID)
	ctx := context.Background()

	cp := uint64(customerID)
	op, token, err := f.relay.CreateTransfer(ctx, vendorID, ticketID, &cp)
	if err != nil {
		t.Fatal(err)
	}

	res, err := f.claims.ClaimByToken(ctx, token.TokenID, customerID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Ticket.OwnerActorID == nil || *res.Ticket.OwnerActorID != customerID {
		t.Fatalf("ticket owner after claim: %+v", res.Ticket)
	}
	if res.Operation == nil || res.Operation.State != model.StateCompleted {
		t.Fatalf("operation after claim: %+v", res.Operation)
	}
	// The claim is implicit acknowledgment: the pending operation
	// passed through processing on its way to completed, and the
	// published sequence never regresses.
	states := f.pub.states(op.OperationID)
	if states[len(states)-1] != model.StateCompleted {
		t.Fatalf("last published state = %v", states)
	}
	for i := 1; i < len(states); i++ {
		if states[i].Rank() < states[i-1].Rank() {
			t.Fatalf("published states regress: %v", states)
		}
	}
	if f.notifier.count != 1 {
		t.Fatalf("completion notifications = %d, want 1", f.notifier.count)
	}
}

// A broadcast transfer may be claimed before the initiator ever
// reports a discovery: the claim is the discovery. The waiting
// operation must end up completed with the claimant attached as its
// counterparty, not stuck in waiting for the enforcer to expire.
func TestClaimOfBroadcastTransferCompletesWaitingOperation(t *testing.T) {
	f := newFixture(2*time.Minute, 5*time.Minute)
	f.store.addTicket(ticketID, vendorID)
	ctx := context.Background()

	op, token, err := f.relay.CreateTransfer(ctx, vendorID, ticketID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if op.State != model.StateWaiting {
		t.Fatalf("broadcast transfer state = %s, want waiting", op.State)
	}

	res, err := f.claims.ClaimByToken(ctx, token.TokenID, customerID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Ticket.OwnerActorID == nil || *res.Ticket.OwnerActorID != customerID {
		t.Fatalf("ticket owner after claim: %+v", res.Ticket)
	}
	if res.Operation == nil || res.Operation.State != model.StateCompleted {
		t.Fatalf("operation after claim: %+v", res.Operation)
	}
	if res.Operation.CounterpartyID == nil || *res.Operation.CounterpartyID != customerID {
		t.Fatalf("claimant not attached as counterparty: %+v", res.Operation)
	}
	states := f.pub.states(op.OperationID)
	if states[len(states)-1] != model.StateCompleted {
		t.Fatalf("last published state = %v", states)
	}
}

// A rejected claim against a broadcast still in waiting (token spent
// at the ledger, operation never advanced) must still surface the
// already_redeemed outcome to the initiator instead of leaving the
// row to be reported as expired.
func TestRejectedClaimFailsWaitingOperation(t *testing.T) {
	f := newFixture(2*time.Minute, 5*time.Minute)
	f.store.addTicket(ticketID, vendorID)
	ctx := context.Background()

	op, token, err := f.relay.CreateTransfer(ctx, vendorID, ticketID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.store.RedeemToken(ctx, token.TokenID, customerID); err != nil {
		t.Fatal(err)
	}

	if _, err := f.claims.ClaimByToken(ctx, token.TokenID, strangerID); !errors.Is(err, repository.ErrAlreadyRedeemed) {
		t.Fatalf("claim of spent token = %v, want ErrAlreadyRedeemed", err)
	}
	got, err := f.store.Get(ctx, op.OperationID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != model.StateFailed || got.TerminalReason == nil || *got.TerminalReason != model.ReasonAlreadyRedeemed {
		t.Fatalf("operation after rejected claim: %+v", got)
	}
}

func TestSecondClaimRejectedOperationStaysCompleted(t *testing.T) {
	f := newFixture(2*time.Minute, 5*time.Minute)
	f.store.addTicket(ticketID, vendorID)
	ctx := context.Background()

	cp := uint64(customerID)
	_, token, err := f.relay.CreateTransfer(ctx, vendorID, ticketID, &cp)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.claims.ClaimByToken(ctx, token.TokenID, customerID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.claims.ClaimByToken(ctx, token.TokenID, strangerID); !errors.Is(err, repository.ErrAlreadyRedeemed) {
		t.Fatalf("second claim = %v, want ErrAlreadyRedeemed", err)
	}
	op, err := f.store.GetByToken(ctx, token.TokenID)
	if err != nil {
		t.Fatal(err)
	}
	if op.State != model.StateCompleted {
		t.Fatalf("operation state after rejected duplicate = %s, want completed", op.State)
	}
}

// A claim rejected because another claimant won, against an
// operation that somehow has not completed yet, marks the operation
// failed with the already_redeemed reason so the initiator sees the
// specific outcome.
func TestRejectedClaimFailsStuckOperation(t *testing.T) {
	f := newFixture(2*time.Minute, 5*time.Minute)
	f.store.addTicket(ticketID, vendorID)
	ctx := context.Background()

	cp := uint64(customerID)
	op, token, err := f.relay.CreateTransfer(ctx, vendorID, ticketID, &cp)
	if err != nil {
		t.Fatal(err)
	}
	// Redeem at the ledger directly: the token is spent but no claim
	// service call completed the operation (e.g. crash between the
	// two steps).
	if _, _, err := f.store.RedeemToken(ctx, token.TokenID, customerID); err != nil {
		t.Fatal(err)
	}

	if _, err := f.claims.ClaimByToken(ctx, token.TokenID, strangerID); !errors.Is(err, repository.ErrAlreadyRedeemed) {
		t.Fatalf("claim of spent token = %v, want ErrAlreadyRedeemed", err)
	}
	got, err := f.store.Get(ctx, op.OperationID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != model.StateFailed || got.TerminalReason == nil || *got.TerminalReason != model.ReasonAlreadyRedeemed {
		t.Fatalf("operation after rejected claim: %+v", got)
	}
}

func TestClaimExpiredToken(t *testing.T) {
	f := newFixture(2*time.Minute, 5*time.Minute)
	f.store.addTicket(ticketID, vendorID)
	ctx := context.Background()

	now := time.Now().UTC()
	f.store.now = func() time.Time { return now }
	cp := uint64(customerID)
	op, token, err := f.relay.CreateTransfer(ctx, vendorID, ticketID, &cp)
	if err != nil {
		t.Fatal(err)
	}

	f.store.now = func() time.Time { return now.Add(3 * time.Minute) }
	if _, err := f.claims.ClaimByToken(ctx, token.TokenID, customerID); !errors.Is(err, repository.ErrExpired) {
		t.Fatalf("claim after window = %v, want ErrExpired", err)
	}
	// The operation is the enforcer's to expire, not the claim's.
	got, _ := f.store.Get(ctx, op.OperationID)
	if got.State != model.StatePending {
		t.Fatalf("operation state = %s, want pending (enforcer owns expiry)", got.State)
	}
}

func TestLookupByEmailBranches(t *testing.T) {
	f := newFixture(2*time.Minute, 5*time.Minute)
	f.store.addActor(customerID, "known@example.com", "CUSTOMER")
	ctx := context.Background()

	actor, branch, err := f.claims.LookupByEmail(ctx, "known@example.com")
	if err != nil || branch != BranchRegistered || actor.ID != customerID {
		t.Fatalf("registered lookup: actor=%+v branch=%s err=%v", actor, branch, err)
	}

	_, branch, err = f.claims.LookupByEmail(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("unregistered lookup must not error: %v", err)
	}
	if branch != BranchUnregistered {
		t.Fatalf("branch = %s, want unregistered", branch)
	}
}

func TestTransferByEmailRegistered(t *testing.T) {
	f := newFixture(2*time.Minute, 5*time.Minute)
	f.store.addTicket(ticketID, vendorID)
	f.store.addActor(customerID, "known@example.com", "CUSTOMER")
	ctx := context.Background()

	res, err := f.claims.TransferByEmail(ctx, vendorID, ticketID, "known@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if res.Branch != BranchRegistered || res.Operation == nil || res.Token == nil {
		t.Fatalf("registered transfer result: %+v", res)
	}
	if res.Operation.State != model.StatePending {
		t.Fatalf("operation state = %s", res.Operation.State)
	}
}

func TestTransferByEmailUnregisteredParksTicket(t *testing.T) {
	f := newFixture(2*time.Minute, 5*time.Minute)
	f.store.addTicket(ticketID, vendorID)
	ctx := context.Background()

	res, err := f.claims.TransferByEmail(ctx, vendorID, ticketID, "nobody@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if res.Branch != BranchUnregistered {
		t.Fatalf("branch = %s", res.Branch)
	}
	ticket, _ := f.store.GetTicket(ctx, ticketID)
	if ticket.Status != model.TicketStatusPendingDelivery || ticket.OwnerActorID != nil {
		t.Fatalf("ticket not parked: %+v", ticket)
	}
	if len(f.notifier.emails) != 1 || f.notifier.emails[0] != "nobody@example.com" {
		t.Fatalf("notification emails = %v", f.notifier.emails)
	}
}
