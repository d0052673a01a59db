package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/proximity-ticket-handshake/internal/model"
	"github.com/iliyamo/proximity-ticket-handshake/internal/payload"
	"github.com/iliyamo/proximity-ticket-handshake/internal/repository"
)

// Every lifecycle and claim endpoint funnels rejections through
// writeDomainError; the codes below are the contract client devices
// switch on.
func TestWriteDomainErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{repository.ErrNotFound, http.StatusNotFound, "not_found"},
		{repository.ErrNotAuthorized, http.StatusForbidden, "forbidden"},
		{repository.ErrNotOwner, http.StatusForbidden, "forbidden"},
		{repository.ErrAlreadyRedeemed, http.StatusConflict, "already_redeemed"},
		{repository.ErrAlreadyListedOrPending, http.StatusConflict, "already_listed"},
		{repository.ErrTerminal, http.StatusConflict, "operation_finished"},
		{repository.ErrExpired, http.StatusGone, "expired"},
		{repository.ErrRevoked, http.StatusGone, "revoked"},
		{payload.ErrMalformed, http.StatusBadRequest, "malformed_payload"},
		{errors.New("driver: bad connection"), http.StatusInternalServerError, "internal"},
	}
	e := echo.New()
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		if err := writeDomainError(c, tc.err); err != nil {
			t.Fatalf("writeDomainError(%v): %v", tc.err, err)
		}
		if rec.Code != tc.status {
			t.Errorf("%v: status = %d, want %d", tc.err, rec.Code, tc.status)
		}
		if body := rec.Body.String(); !strings.Contains(body, tc.code) {
			t.Errorf("%v: body %q missing code %q", tc.err, body, tc.code)
		}
	}
}

func TestOperationRespOmitsEmptyOptionals(t *testing.T) {
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	op := model.PendingOperation{
		OperationID: "op1",
		Kind:        model.KindPayment,
		State:       model.StateWaiting,
		InitiatorID: 10,
		CreatedAt:   now,
		ExpiresAt:   now.Add(5 * time.Minute),
		UpdatedAt:   now,
	}
	resp := toOperationResp(op)
	if resp.CounterpartyID != nil || resp.TicketID != nil || resp.TerminalReason != nil {
		t.Fatalf("optionals not nil: %+v", resp)
	}
	if resp.ExpiresAt != "2026-06-01T09:05:00Z" {
		t.Fatalf("expires_at = %q", resp.ExpiresAt)
	}
}
