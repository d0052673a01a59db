package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iliyamo/proximity-ticket-handshake/internal/model"
	"github.com/iliyamo/proximity-ticket-handshake/internal/payload"
	"github.com/iliyamo/proximity-ticket-handshake/internal/repository"
)

func TestCreateTransferWithKnownCounterparty(t *testing.T) {
	f := newFixture(2*time.Minute, 5*time.Minute)
	f.store.addTicket(ticketID, vendorID)
	f.store.addActor(customerID, "c@example.com", "CUSTOMER")

	cp := uint64(customerID)
	op, token, err := f.relay.CreateTransfer(context.Background(), vendorID, ticketID, &cp)
	if err != nil {
		t.Fatal(err)
	}
	if op.State != model.StatePending {
		t.Fatalf("state = %s, want pending", op.State)
	}
	if op.TokenID == nil || *op.TokenID != token.TokenID {
		t.Fatalf("operation does not reference its token: %+v", op)
	}
	if got := f.pub.states(op.OperationID); len(got) != 1 || got[0] != model.StatePending {
		t.Fatalf("published states = %v", got)
	}
}

func TestDiscoveryAttachesCounterparty(t *testing.T) {
	f := newFixture(2*time.Minute, 5*time.Minute)
	f.store.addTicket(ticketID, vendorID)
	f.store.addActor(customerID, "c@example.com", "CUSTOMER")

	op, _, err := f.relay.CreateTransfer(context.Background(), vendorID, ticketID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if op.State != model.StateWaiting {
		t.Fatalf("state = %s, want waiting", op.State)
	}

	p := payload.Payload{Kind: payload.KindCustomerIdentity, SubjectID: "20", Format: payload.FormatTagged}
	op, err = f.relay.Discovered(context.Background(), op.OperationID, vendorID, p)
	if err != nil {
		t.Fatal(err)
	}
	if op.State != model.StatePending || op.CounterpartyID == nil || *op.CounterpartyID != customerID {
		t.Fatalf("after discovery: %+v", op)
	}
}

func TestDiscoveryResolvesEmailAndMailtoPayloads(t *testing.T) {
	f := newFixture(2*time.Minute, 5*time.Minute)
	f.store.addActor(customerID, "c@example.com", "CUSTOMER")

	for _, subject := range []string{"c@example.com", "mailto:c@example.com"} {
		p := payload.Payload{Kind: payload.KindCustomerIdentity, SubjectID: subject, Format: payload.FormatRaw}
		actor, err := f.relay.ResolveCounterparty(context.Background(), p)
		if err != nil {
			t.Fatalf("resolve %q: %v", subject, err)
		}
		if actor.ID != customerID {
			t.Fatalf("resolve %q = actor %d, want %d", subject, actor.ID, customerID)
		}
	}

	claim := payload.Payload{Kind: payload.KindTicketClaim, SubjectID: "sometoken", Format: payload.FormatTagged}
	if _, err := f.relay.ResolveCounterparty(context.Background(), claim); err == nil {
		t.Fatal("ticket-claim payload must not resolve to a counterparty")
	}
}

func TestPaymentLifecycle(t *testing.T) {
	f := newFixture(2*time.Minute, 5*time.Minute)
	f.store.addActor(customerID, "c@example.com", "CUSTOMER")
	ctx := context.Background()

	cp := uint64(customerID)
	op, err := f.relay.CreatePayment(ctx, vendorID, &cp, 2500, "table 4")
	if err != nil {
		t.Fatal(err)
	}
	if op.AmountCents == nil || *op.AmountCents != 2500 {
		t.Fatalf("amount not carried: %+v", op)
	}

	if op, err = f.relay.Acknowledge(ctx, op.OperationID, customerID); err != nil {
		t.Fatal(err)
	}
	if op.State != model.StateProcessing {
		t.Fatalf("after ack: %s", op.State)
	}

	if op, err = f.relay.Complete(ctx, op.OperationID, customerID); err != nil {
		t.Fatal(err)
	}
	if op.State != model.StateCompleted {
		t.Fatalf("after complete: %s", op.State)
	}

	// Duplicate completion signal is a no-op, not an error, and does
	// not emit a second queue event.
	again, err := f.relay.Complete(ctx, op.OperationID, customerID)
	if err != nil {
		t.Fatalf("duplicate complete: %v", err)
	}
	if again.State != model.StateCompleted {
		t.Fatalf("duplicate complete state: %s", again.State)
	}
	if f.notifier.count != 1 {
		t.Fatalf("completion notifications = %d, want 1", f.notifier.count)
	}

	states := f.pub.states(op.OperationID)
	for i := 1; i < len(states); i++ {
		if states[i].Rank() < states[i-1].Rank() {
			t.Fatalf("published states regress: %v", states)
		}
	}
}

func TestAcknowledgeRequiresCounterparty(t *testing.T) {
	f := newFixture(2*time.Minute, 5*time.Minute)
	ctx := context.Background()
	cp := uint64(customerID)
	op, err := f.relay.CreatePayment(ctx, vendorID, &cp, 100, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.relay.Acknowledge(ctx, op.OperationID, strangerID); !errors.Is(err, repository.ErrNotAuthorized) {
		t.Fatalf("ack by stranger = %v, want ErrNotAuthorized", err)
	}
}

func TestFailCarriesReason(t *testing.T) {
	f := newFixture(2*time.Minute, 5*time.Minute)
	ctx := context.Background()
	cp := uint64(customerID)
	op, err := f.relay.CreatePayment(ctx, vendorID, &cp, 100, "")
	if err != nil {
		t.Fatal(err)
	}
	op, err = f.relay.Fail(ctx, op.OperationID, customerID, model.ReasonDeclined)
	if err != nil {
		t.Fatal(err)
	}
	if op.State != model.StateFailed || op.TerminalReason == nil || *op.TerminalReason != model.ReasonDeclined {
		t.Fatalf("failed op does not carry reason: %+v", op)
	}
}

// Cancellation: the initiator cancels a pending transfer; the token
// is revoked with it, so a later claim is rejected with the
// operation-cancelled class error, not AlreadyRedeemed.
func TestCancelRevokesToken(t *testing.T) {
	f := newFixture(2*time.Minute, 5*time.Minute)
	f.store.addTicket(ticketID, vendorID)
	ctx := context.Background()

	cp := uint64(customerID)
	op, token, err := f.relay.CreateTransfer(ctx, vendorID, ticketID, &cp)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.relay.Cancel(ctx, op.OperationID, strangerID); !errors.Is(err, repository.ErrNotAuthorized) {
		t.Fatalf("cancel by stranger = %v, want ErrNotAuthorized", err)
	}
	op, err = f.relay.Cancel(ctx, op.OperationID, vendorID)
	if err != nil {
		t.Fatal(err)
	}
	if op.State != model.StateCancelled {
		t.Fatalf("state after cancel = %s", op.State)
	}
	if _, _, err := f.issuer.Redeem(ctx, token.TokenID, customerID); !errors.Is(err, repository.ErrRevoked) {
		t.Fatalf("claim after cancel = %v, want ErrRevoked", err)
	}
	// Terminal is final: a second cancel is rejected.
	if _, err := f.relay.Cancel(ctx, op.OperationID, vendorID); !errors.Is(err, repository.ErrTerminal) {
		t.Fatalf("cancel of terminal op = %v, want ErrTerminal", err)
	}
}

// A redemption that already won beats a cancel: the operation stays
// on its way to completed and the initiator is told the transfer
// already happened.
func TestCancelLosesToRedemption(t *testing.T) {
	f := newFixture(2*time.Minute, 5*time.Minute)
	f.store.addTicket(ticketID, vendorID)
	ctx := context.Background()

	cp := uint64(customerID)
	op, token, err := f.relay.CreateTransfer(ctx, vendorID, ticketID, &cp)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.issuer.Redeem(ctx, token.TokenID, customerID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.relay.Cancel(ctx, op.OperationID, vendorID); !errors.Is(err, repository.ErrAlreadyRedeemed) {
		t.Fatalf("cancel after redemption = %v, want ErrAlreadyRedeemed", err)
	}
}

func TestSnapshotAuthorization(t *testing.T) {
	f := newFixture(2*time.Minute, 5*time.Minute)
	ctx := context.Background()
	cp := uint64(customerID)
	op, err := f.relay.CreatePayment(ctx, vendorID, &cp, 100, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, actor := range []uint64{vendorID, customerID} {
		if _, err := f.relay.Snapshot(ctx, op.OperationID, actor); err != nil {
			t.Fatalf("snapshot by participant %d: %v", actor, err)
		}
	}
	if _, err := f.relay.Snapshot(ctx, op.OperationID, strangerID); !errors.Is(err, repository.ErrNotAuthorized) {
		t.Fatalf("snapshot by stranger = %v, want ErrNotAuthorized", err)
	}
}
