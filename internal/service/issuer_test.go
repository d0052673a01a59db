package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/proximity-ticket-handshake/internal/repository"
)

const (
	vendorID   = 10
	customerID = 20
	strangerID = 30
	ticketID   = 100
)

func TestIssueRejectsNonOwner(t *testing.T) {
	f := newFixture(2*time.Minute, 5*time.Minute)
	f.store.addTicket(ticketID, vendorID)

	if _, err := f.issuer.Issue(context.Background(), ticketID, strangerID, 0); !errors.Is(err, repository.ErrNotOwner) {
		t.Fatalf("Issue by non-owner = %v, want ErrNotOwner", err)
	}
}

func TestIssueRejectsDoubleListing(t *testing.T) {
	f := newFixture(2*time.Minute, 5*time.Minute)
	f.store.addTicket(ticketID, vendorID)

	if _, err := f.issuer.Issue(context.Background(), ticketID, vendorID, 0); err != nil {
		t.Fatalf("first issue: %v", err)
	}
	if _, err := f.issuer.Issue(context.Background(), ticketID, vendorID, 0); !errors.Is(err, repository.ErrAlreadyListedOrPending) {
		t.Fatalf("second issue = %v, want ErrAlreadyListedOrPending", err)
	}
}

// Happy path: issue with a 120s window, claim within it, ownership
// moves and the token is terminal.
func TestRedeemHappyPath(t *testing.T) {
	f := newFixture(2*time.Minute, 5*time.Minute)
	f.store.addTicket(ticketID, vendorID)

	token, err := f.issuer.Issue(context.Background(), ticketID, vendorID, 120*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !token.ExpiresAt.After(token.IssuedAt) {
		t.Fatalf("empty validity window: issued %s expires %s", token.IssuedAt, token.ExpiresAt)
	}

	got, ticket, err := f.issuer.Redeem(context.Background(), token.TokenID, customerID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Redeemed || got.RedeemedBy == nil || *got.RedeemedBy != customerID {
		t.Fatalf("token not terminal after redeem: %+v", got)
	}
	if ticket.OwnerActorID == nil || *ticket.OwnerActorID != customerID {
		t.Fatalf("ticket owner = %v, want %d", ticket.OwnerActorID, customerID)
	}
}

// Expired claim: the window elapses before the claim arrives; the
// redeem is rejected and ownership is unchanged.
func TestRedeemExpired(t *testing.T) {
	f := newFixture(2*time.Minute, 5*time.Minute)
	f.store.addTicket(ticketID, vendorID)

	now := time.Now().UTC()
	f.store.now = func() time.Time { return now }
	token, err := f.issuer.Issue(context.Background(), ticketID, vendorID, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	f.store.now = func() time.Time { return now.Add(2 * time.Second) }
	if _, _, err := f.issuer.Redeem(context.Background(), token.TokenID, customerID); !errors.Is(err, repository.ErrExpired) {
		t.Fatalf("redeem after window = %v, want ErrExpired", err)
	}
	ticket, _ := f.store.GetTicket(context.Background(), ticketID)
	if ticket.OwnerActorID == nil || *ticket.OwnerActorID != vendorID {
		t.Fatalf("ownership changed on expired claim: %+v", ticket)
	}
}

// Expiry monotonicity: once past the window, no later attempt ever
// succeeds, even interleaved with sweeps.
func TestExpiryIsMonotonic(t *testing.T) {
	f := newFixture(2*time.Minute, 5*time.Minute)
	f.store.addTicket(ticketID, vendorID)

	now := time.Now().UTC()
	f.store.now = func() time.Time { return now }
	token, err := f.issuer.Issue(context.Background(), ticketID, vendorID, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 5; i++ {
		f.store.now = func() time.Time { return now.Add(time.Second + time.Duration(i)*time.Millisecond) }
		if _, _, err := f.issuer.Redeem(context.Background(), token.TokenID, customerID); !errors.Is(err, repository.ErrExpired) {
			t.Fatalf("attempt %d after expiry = %v, want ErrExpired", i, err)
		}
	}
}

// Double claim: the second claimant is told the transfer already
// happened and the first claimant keeps the ticket.
func TestRedeemDoubleClaim(t *testing.T) {
	f := newFixture(2*time.Minute, 5*time.Minute)
	f.store.addTicket(ticketID, vendorID)

	token, err := f.issuer.Issue(context.Background(), ticketID, vendorID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.issuer.Redeem(context.Background(), token.TokenID, customerID); err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.issuer.Redeem(context.Background(), token.TokenID, strangerID); !errors.Is(err, repository.ErrAlreadyRedeemed) {
		t.Fatalf("second redeem = %v, want ErrAlreadyRedeemed", err)
	}
	ticket, _ := f.store.GetTicket(context.Background(), ticketID)
	if ticket.OwnerActorID == nil || *ticket.OwnerActorID != customerID {
		t.Fatalf("owner = %v, want first claimant %d", ticket.OwnerActorID, customerID)
	}
}

// At-most-once under contention: N concurrent redemption attempts
// yield exactly one success, everyone else sees AlreadyRedeemed.
func TestConcurrentRedeemSingleWinner(t *testing.T) {
	f := newFixture(2*time.Minute, 5*time.Minute)
	f.store.addTicket(ticketID, vendorID)

	token, err := f.issuer.Issue(context.Background(), ticketID, vendorID, 0)
	if err != nil {
		t.Fatal(err)
	}

	const n = 64
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, results[i] = f.issuer.Redeem(context.Background(), token.TokenID, uint64(1000+i))
		}(i)
	}
	wg.Wait()

	wins, rejects := 0, 0
	for i, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, repository.ErrAlreadyRedeemed):
			rejects++
		default:
			t.Fatalf("attempt %d: unexpected error %v", i, err)
		}
	}
	if wins != 1 || rejects != n-1 {
		t.Fatalf("got %d winners and %d rejects, want exactly 1 and %d", wins, rejects, n-1)
	}
}
