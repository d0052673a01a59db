package model

import "time"

// Actor represents a device-holding participant as stored in the
// `actors` table. Vendors initiate handshakes (broadcast, issue
// tokens, request payments); customers claim tokens and authorize
// payments. The json tags are omitted because these structs are used
// internally by the repository layer; handlers define separate
// response types with appropriate JSON tags.
//
// Fields:
//  ID           – primary key identifier of the actor.
//  Email        – unique email address, also the fallback lookup key
//                 when proximity discovery is unavailable.
//  PasswordHash – bcrypt hashed password.
//  DisplayName  – name shown to the counterparty during a handshake.
//  Role         – role name (VENDOR or CUSTOMER).
//  IsActive     – whether the account is active.
//  CreatedAt    – timestamp of creation.
//  UpdatedAt    – timestamp of last update.
type Actor struct {
	ID           uint64    // actors.id
	Email        string    // actors.email
	PasswordHash string    // actors.password_hash
	DisplayName  string    // actors.display_name
	Role         string    // actors.role
	IsActive     bool      // actors.is_active
	CreatedAt    time.Time // actors.created_at
	UpdatedAt    time.Time // actors.updated_at
}

// RefreshToken models an entry in the `refresh_tokens` table. Each
// refresh token belongs to an actor and contains metadata for expiry
// and revocation. The plain token is not stored; only its SHA-256
// hash.
//
// Fields:
//  ID        – primary key identifier.
//  ActorID   – owner of the token.
//  TokenHash – SHA-256 hex digest of the token value.
//  ExpiresAt – expiration timestamp of the token.
//  RevokedAt – when the token was revoked (null if still active).
//  CreatedAt – timestamp of creation.
type RefreshToken struct {
	ID        uint64     // refresh_tokens.id
	ActorID   uint64     // refresh_tokens.actor_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
	CreatedAt time.Time  // refresh_tokens.created_at
}
