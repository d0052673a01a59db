package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/proximity-ticket-handshake/internal/model"
	"github.com/iliyamo/proximity-ticket-handshake/internal/payload"
	"github.com/iliyamo/proximity-ticket-handshake/internal/service"
)

// ClaimHandler exposes the receiving side of a transfer: redeeming a
// broadcast token, the email fallback when proximity discovery is
// impossible, and the QR fallback for devices without a radio.
type ClaimHandler struct {
	Claims  *service.ClaimService
	Tickets service.TicketLedger
}

func NewClaimHandler(claims *service.ClaimService, tickets service.TicketLedger) *ClaimHandler {
	return &ClaimHandler{Claims: claims, Tickets: tickets}
}

// ----- DTOs -----

type claimReq struct {
	TransferToken string `json:"transfer_token"`
}
type transferByEmailReq struct {
	Email string `json:"email"`
}

type ticketPart struct {
	ID           uint64  `json:"id"`
	EventID      uint64  `json:"event_id"`
	TicketNumber string  `json:"ticket_number"`
	OwnerActorID *uint64 `json:"owner_actor_id,omitempty"`
	Status       string  `json:"status"`
}

func toTicketPart(t model.Ticket) ticketPart {
	return ticketPart{
		ID:           t.ID,
		EventID:      t.EventID,
		TicketNumber: t.TicketNumber,
		OwnerActorID: t.OwnerActorID,
		Status:       t.Status,
	}
}

// Claim redeems a transfer token for the authenticated actor. The
// first claim wins; every later one gets the structured rejection
// (already_redeemed, expired, revoked, not_found) so the device can
// show the exact outcome.
func (h *ClaimHandler) Claim(c echo.Context) error {
	aid, ok := actorFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req claimReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.TransferToken) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "transfer_token required"})
	}
	res, err := h.Claims.ClaimByToken(c.Request().Context(), strings.TrimSpace(req.TransferToken), aid)
	if err != nil {
		return writeDomainError(c, err)
	}
	out := echo.Map{"ticket": toTicketPart(res.Ticket)}
	if res.Operation != nil {
		out["operation"] = toOperationResp(*res.Operation)
	}
	return c.JSON(http.StatusOK, out)
}

// LookupEmail resolves an email for the fallback transfer path and
// tells the vendor which confirmation to show. An unknown address is
// a normal branch, not an error.
func (h *ClaimHandler) LookupEmail(c echo.Context) error {
	if _, ok := actorFromContext(c); !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	email := strings.ToLower(strings.TrimSpace(c.QueryParam("email")))
	if email == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email required"})
	}
	actor, branch, err := h.Claims.LookupByEmail(c.Request().Context(), email)
	if err != nil {
		return writeDomainError(c, err)
	}
	out := echo.Map{"branch": branch}
	if branch == service.BranchRegistered {
		out["actor"] = echo.Map{"id": actor.ID, "display_name": actor.DisplayName}
	}
	return c.JSON(http.StatusOK, out)
}

// TransferByEmail transfers a ticket to an email address. Registered
// recipients get a normal handshake; unregistered ones get the ticket
// parked until their first login.
func (h *ClaimHandler) TransferByEmail(c echo.Context) error {
	aid, ok := actorFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ticketID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || ticketID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid ticket id"})
	}
	var req transferByEmailReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email required"})
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	res, err := h.Claims.TransferByEmail(c.Request().Context(), aid, ticketID, email)
	if err != nil {
		return writeDomainError(c, err)
	}
	out := echo.Map{"branch": res.Branch}
	if res.Operation != nil {
		out["operation"] = toOperationResp(*res.Operation)
	}
	if res.Token != nil {
		out["transfer_token"] = echo.Map{
			"token_id":   res.Token.TokenID,
			"expires_at": res.Token.ExpiresAt.UTC().Format(time.RFC3339),
		}
	}
	return c.JSON(http.StatusOK, out)
}

// TicketQR renders the QR fallback payload for a ticket the caller
// owns. The counterparty scans it when neither device has a working
// proximity radio.
func (h *ClaimHandler) TicketQR(c echo.Context) error {
	aid, ok := actorFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ticketID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || ticketID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid ticket id"})
	}
	ticket, err := h.Tickets.GetTicket(c.Request().Context(), ticketID)
	if err != nil {
		return writeDomainError(c, err)
	}
	if ticket.OwnerActorID == nil || *ticket.OwnerActorID != aid {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	qr, err := payload.EncodeQRFallback(
		strconv.FormatUint(ticket.ID, 10),
		ticket.TicketNumber,
		strconv.FormatUint(ticket.EventID, 10),
	)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal"})
	}
	return c.JSON(http.StatusOK, echo.Map{"qr_payload": qr})
}
