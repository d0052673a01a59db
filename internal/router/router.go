package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/iliyamo/proximity-ticket-handshake/internal/handler"    // import the handlers that implement business logic
	"github.com/iliyamo/proximity-ticket-handshake/internal/middleware" // import middleware for JWT authentication and role enforcement
)

// RegisterRoutes registers routes that do not require authentication on the
// provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	// Used by load balancers and monitoring to verify the service is up.
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers all authentication-related routes and applies the
// necessary middleware.  Unauthenticated operations live under /v1/auth,
// while protected endpoints live under /v1.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	// Rotating refresh: invalidates the presented token, returns a new pair.
	g.POST("/refresh", a.Refresh)
	// Non-rotating variant: new access token only.
	g.POST("/refresh-access", a.RefreshAccess)
	// Logout with a refresh token in the body requires no JWT.
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))
	auth.GET("/me", a.Me)
	// Bearer-only logout revokes every session of the actor.
	auth.POST("/logout", a.Logout)
}

// RegisterHandshake registers the pending-operation lifecycle under
// /v1/handshakes.  Creation is vendor-only; discovery, cancellation
// and the status surfaces belong to whoever the service authorizes
// per operation, so those routes only require a valid token.
func RegisterHandshake(e *echo.Echo, h *handler.HandshakeHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/handshakes")
	g.Use(middleware.JWTAuth(jwtSecret))
	if limit != nil {
		g.Use(limit)
	}

	g.POST("/transfer", h.CreateTransfer, middleware.RequireRole("VENDOR"))
	g.POST("/payment", h.CreatePayment, middleware.RequireRole("VENDOR"))

	g.GET("", h.Active)
	g.GET("/:id", h.Snapshot)
	g.GET("/:id/events", h.Events)
	g.POST("/:id/discovered", h.Discovered)
	g.POST("/:id/acknowledge", h.Acknowledge)
	g.POST("/:id/complete", h.Complete)
	g.POST("/:id/fail", h.Fail)
	g.POST("/:id/cancel", h.Cancel)
}

// RegisterClaim registers the receiving-side routes: token
// redemption, the email fallback and the QR fallback.  The claim
// endpoint is rate limited: it is the one surface an attacker can
// probe with guessed tokens.
func RegisterClaim(e *echo.Echo, h *handler.ClaimHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group("/v1")
	g.Use(middleware.JWTAuth(jwtSecret))
	if limit != nil {
		g.Use(limit)
	}

	g.POST("/claim", h.Claim, middleware.RequireRole("CUSTOMER", "VENDOR"))
	g.GET("/actors/lookup", h.LookupEmail, middleware.RequireRole("VENDOR"))
	g.POST("/tickets/:id/transfer-by-email", h.TransferByEmail, middleware.RequireRole("VENDOR"))
	g.GET("/tickets/:id/qr", h.TicketQR)
}
