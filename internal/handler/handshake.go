package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/proximity-ticket-handshake/internal/model"
	"github.com/iliyamo/proximity-ticket-handshake/internal/payload"
	"github.com/iliyamo/proximity-ticket-handshake/internal/realtime"
	"github.com/iliyamo/proximity-ticket-handshake/internal/repository"
	"github.com/iliyamo/proximity-ticket-handshake/internal/service"
)

// HandshakeHandler exposes the pending-operation lifecycle: creation,
// discovery, acknowledgment, completion, failure, cancellation, and
// the status surfaces (snapshot, active list, live event stream).
type HandshakeHandler struct {
	Relay *service.Relay
	Subs  *realtime.Subscriber
}

func NewHandshakeHandler(relay *service.Relay, subs *realtime.Subscriber) *HandshakeHandler {
	return &HandshakeHandler{Relay: relay, Subs: subs}
}

// ----- DTOs -----

type createTransferReq struct {
	TicketID       uint64  `json:"ticket_id"`
	CounterpartyID *uint64 `json:"counterparty_id,omitempty"`
}
type createPaymentReq struct {
	CounterpartyID *uint64 `json:"counterparty_id,omitempty"`
	AmountCents    uint32  `json:"amount_cents"`
	Reference      string  `json:"reference"`
}
type discoveredReq struct {
	Frame string `json:"frame"` // base64 proximity frame as read from the transport
}
type failReq struct {
	Reason string `json:"reason"`
}

type operationResp struct {
	OperationID    string  `json:"operation_id"`
	Kind           string  `json:"kind"`
	State          string  `json:"state"`
	InitiatorID    uint64  `json:"initiator_id"`
	CounterpartyID *uint64 `json:"counterparty_id,omitempty"`
	TicketID       *uint64 `json:"ticket_id,omitempty"`
	AmountCents    *uint32 `json:"amount_cents,omitempty"`
	Reference      string  `json:"reference,omitempty"`
	TerminalReason *string `json:"terminal_reason,omitempty"`
	CreatedAt      string  `json:"created_at"`
	ExpiresAt      string  `json:"expires_at"`
	UpdatedAt      string  `json:"updated_at"`
}

func toOperationResp(op model.PendingOperation) operationResp {
	return operationResp{
		OperationID:    op.OperationID,
		Kind:           string(op.Kind),
		State:          string(op.State),
		InitiatorID:    op.InitiatorID,
		CounterpartyID: op.CounterpartyID,
		TicketID:       op.TicketID,
		AmountCents:    op.AmountCents,
		Reference:      op.Reference,
		TerminalReason: op.TerminalReason,
		CreatedAt:      op.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt:      op.ExpiresAt.UTC().Format(time.RFC3339),
		UpdatedAt:      op.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// writeDomainError maps the repository sentinels onto HTTP responses
// with a stable machine-readable error code. Every handshake and
// claim endpoint funnels rejections through here so clients see one
// vocabulary.
func writeDomainError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found"})
	case errors.Is(err, repository.ErrNotAuthorized), errors.Is(err, repository.ErrNotOwner):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, repository.ErrAlreadyRedeemed):
		return c.JSON(http.StatusConflict, echo.Map{"error": "already_redeemed"})
	case errors.Is(err, repository.ErrAlreadyListedOrPending):
		return c.JSON(http.StatusConflict, echo.Map{"error": "already_listed"})
	case errors.Is(err, repository.ErrTerminal):
		return c.JSON(http.StatusConflict, echo.Map{"error": "operation_finished"})
	case errors.Is(err, repository.ErrExpired):
		return c.JSON(http.StatusGone, echo.Map{"error": "expired"})
	case errors.Is(err, repository.ErrRevoked):
		return c.JSON(http.StatusGone, echo.Map{"error": "revoked"})
	case errors.Is(err, payload.ErrMalformed):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed_payload"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal"})
	}
}

func actorFromContext(c echo.Context) (uint64, bool) {
	aid, ok := c.Get("actor_id").(uint64)
	return aid, ok && aid != 0
}

// CreateTransfer starts a ticket-transfer handshake. The counterparty
// may be named up front or left empty until proximity discovery.
// The response carries both the operation and the transfer token the
// vendor device will broadcast.
func (h *HandshakeHandler) CreateTransfer(c echo.Context) error {
	aid, ok := actorFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req createTransferReq
	if err := c.Bind(&req); err != nil || req.TicketID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "ticket_id required"})
	}
	op, token, err := h.Relay.CreateTransfer(c.Request().Context(), aid, req.TicketID, req.CounterpartyID)
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"operation": toOperationResp(op),
		"transfer_token": echo.Map{
			"token_id":   token.TokenID,
			"expires_at": token.ExpiresAt.UTC().Format(time.RFC3339),
		},
	})
}

// CreatePayment starts a payment-request handshake.
func (h *HandshakeHandler) CreatePayment(c echo.Context) error {
	aid, ok := actorFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req createPaymentReq
	if err := c.Bind(&req); err != nil || req.AmountCents == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "amount_cents required"})
	}
	op, err := h.Relay.CreatePayment(c.Request().Context(), aid, req.CounterpartyID, req.AmountCents, req.Reference)
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"operation": toOperationResp(op)})
}

// Discovered reports a proximity read: the initiator device posts the
// frame it picked up from the counterparty and the operation moves
// waiting -> pending with the resolved counterparty attached.
func (h *HandshakeHandler) Discovered(c echo.Context) error {
	aid, ok := actorFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req discoveredReq
	if err := c.Bind(&req); err != nil || req.Frame == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "frame required"})
	}
	frame, err := base64.StdEncoding.DecodeString(req.Frame)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "frame must be base64"})
	}
	p, err := payload.Decode(frame)
	if err != nil {
		return writeDomainError(c, err)
	}
	op, err := h.Relay.Discovered(c.Request().Context(), c.Param("id"), aid, p)
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"operation": toOperationResp(op)})
}

// Acknowledge is the counterparty's confirmation: pending -> processing.
func (h *HandshakeHandler) Acknowledge(c echo.Context) error {
	return h.lifecycle(c, func(ctx echo.Context, aid uint64) (model.PendingOperation, error) {
		return h.Relay.Acknowledge(ctx.Request().Context(), ctx.Param("id"), aid)
	})
}

// Complete records the counterparty's payment authorization:
// processing -> completed. Transfers complete through the claim
// endpoint instead.
func (h *HandshakeHandler) Complete(c echo.Context) error {
	return h.lifecycle(c, func(ctx echo.Context, aid uint64) (model.PendingOperation, error) {
		return h.Relay.Complete(ctx.Request().Context(), ctx.Param("id"), aid)
	})
}

// Fail records the counterparty's decline or a device-reported error.
func (h *HandshakeHandler) Fail(c echo.Context) error {
	var req failReq
	_ = c.Bind(&req)
	return h.lifecycle(c, func(ctx echo.Context, aid uint64) (model.PendingOperation, error) {
		return h.Relay.Fail(ctx.Request().Context(), ctx.Param("id"), aid, req.Reason)
	})
}

// Cancel lets the initiator abort a handshake that has not finished.
func (h *HandshakeHandler) Cancel(c echo.Context) error {
	return h.lifecycle(c, func(ctx echo.Context, aid uint64) (model.PendingOperation, error) {
		return h.Relay.Cancel(ctx.Request().Context(), ctx.Param("id"), aid)
	})
}

// Snapshot returns the operation's current state to a participant.
func (h *HandshakeHandler) Snapshot(c echo.Context) error {
	return h.lifecycle(c, func(ctx echo.Context, aid uint64) (model.PendingOperation, error) {
		return h.Relay.Snapshot(ctx.Request().Context(), ctx.Param("id"), aid)
	})
}

func (h *HandshakeHandler) lifecycle(c echo.Context, fn func(echo.Context, uint64) (model.PendingOperation, error)) error {
	aid, ok := actorFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	op, err := fn(c, aid)
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"operation": toOperationResp(op)})
}

// Active lists the caller's in-flight operations, oldest first.
func (h *HandshakeHandler) Active(c echo.Context) error {
	aid, ok := actorFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ops, err := h.Relay.ActiveOperations(c.Request().Context(), aid)
	if err != nil {
		return writeDomainError(c, err)
	}
	out := make([]operationResp, 0, len(ops))
	for _, op := range ops {
		out = append(out, toOperationResp(op))
	}
	return c.JSON(http.StatusOK, echo.Map{"operations": out})
}

// Events streams the operation's state transitions as server-sent
// events. The first event is always the current snapshot; the stream
// ends after a terminal state or when the client disconnects.
// Disconnecting never affects the operation itself.
func (h *HandshakeHandler) Events(c echo.Context) error {
	aid, ok := actorFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	opID := c.Param("id")
	// Participant check before attaching to the stream.
	if _, err := h.Relay.Snapshot(c.Request().Context(), opID, aid); err != nil {
		return writeDomainError(c, err)
	}

	ctx := c.Request().Context()
	events, err := h.Subs.Subscribe(ctx, opID)
	if err != nil {
		return writeDomainError(c, err)
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	for ev := range events {
		body, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(res, "data: %s\n\n", body); err != nil {
			return nil // client went away
		}
		res.Flush()
	}
	return nil
}
