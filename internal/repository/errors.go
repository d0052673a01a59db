// Package repository defines error types that are reused across
// multiple repositories. These sentinel values allow higher layers
// such as the relay, the claim endpoint and the HTTP handlers to
// distinguish between different failure scenarios without parsing
// error strings. They represent expected, user-visible outcomes of
// the handshake protocol ("this transfer already happened"), never
// programming errors.
package repository

import "errors"

// ErrNotFound is returned when a ticket, token or operation does not
// exist. Handlers translate this into an HTTP 404 response and the
// claim endpoint into the structured "not_found" error.
var ErrNotFound = errors.New("not found")

// ErrNotOwner is returned when an actor attempts to issue a transfer
// token for a ticket they do not currently own.
var ErrNotOwner = errors.New("not owner")

// ErrAlreadyListedOrPending is returned when a ticket already has a
// live transfer token or a non-terminal transfer operation; issuing
// a second credential for the same ticket would invite double-grant.
var ErrAlreadyListedOrPending = errors.New("already listed or pending")

// ErrAlreadyRedeemed is returned when a token has already been
// redeemed by another claimant. Exactly one concurrent redeemer ever
// sees success; all others see this.
var ErrAlreadyRedeemed = errors.New("already redeemed")

// ErrExpired is returned when a token or operation is past its
// validity window. Expiry is decided against the database clock, not
// the client's.
var ErrExpired = errors.New("expired")

// ErrRevoked is returned when a token was invalidated without being
// redeemed, which happens when its operation is cancelled. Handlers
// translate this into an operation-cancelled error, distinct from
// ErrAlreadyRedeemed.
var ErrRevoked = errors.New("revoked")

// ErrNotAuthorized is returned when the caller is not permitted to
// act on an operation, e.g. a cancel attempt by anyone other than
// the initiator. Handlers should translate this into HTTP 403.
var ErrNotAuthorized = errors.New("not authorized")

// ErrTerminal is returned when a state transition is requested on an
// operation that is already in a terminal state, or when the
// requested transition is otherwise illegal. Duplicate completion
// signals are filtered out before this error is raised.
var ErrTerminal = errors.New("operation is terminal")
