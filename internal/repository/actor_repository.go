package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/proximity-ticket-handshake/internal/model"
	"github.com/iliyamo/proximity-ticket-handshake/internal/utils"
)

// ActorRepo provides access to the 'actors' table. Actors are the
// identity records behind both sides of a handshake; the repository
// also backs the email-lookup fallback used when proximity discovery
// is unavailable.
type ActorRepo struct{ DB *sql.DB }

func NewActorRepo(db *sql.DB) *ActorRepo { return &ActorRepo{DB: db} }

var ErrEmailExists = errors.New("email already exists")

// Create inserts an actor and returns its ID.
func (r *ActorRepo) Create(ctx context.Context, email, password, displayName, role string, cost int) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO actors (email, password_hash, display_name, role) VALUES (?,?,?,?)",
		email, hash, displayName, role)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByEmail fetches an actor by normalized email. This is the
// fallback identity-resolution path: callers receive ErrNotFound for
// an unregistered address and proceed with the deferred-delivery
// branch instead of failing the transfer.
func (r *ActorRepo) GetByEmail(ctx context.Context, email string) (model.Actor, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var a model.Actor
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,email,password_hash,display_name,role,is_active,created_at,updated_at FROM actors WHERE email=? LIMIT 1",
		email).Scan(&a.ID, &a.Email, &a.PasswordHash, &a.DisplayName, &a.Role, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Actor{}, ErrNotFound
	}
	return a, err
}

// GetByID fetches an actor by id.
func (r *ActorRepo) GetByID(ctx context.Context, id uint64) (model.Actor, error) {
	var a model.Actor
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,email,password_hash,display_name,role,is_active,created_at,updated_at FROM actors WHERE id=? LIMIT 1",
		id).Scan(&a.ID, &a.Email, &a.PasswordHash, &a.DisplayName, &a.Role, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Actor{}, ErrNotFound
	}
	return a, err
}
