package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orema/pos-backend/internal/metrics"
)

// Common errors
var (
	ErrUserNotFound = errors.New("user not found")
)

// UserRepository defines the interface for user data access
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdateLastLogin(ctx context.Context, id string) error
}

// userRepository implements UserRepository using PostgreSQL
type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository instance
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const userColumns = `id, email, password_hash, pin_hash, role::text, etablissement_id,
		nom, prenom, actif, derniere_connexion, created_at, updated_at`

// GetByEmail retrieves a user by email address (case-insensitive)
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	defer metrics.TimeQuery("select_utilisateur_by_email")()

	query := `SELECT ` + userColumns + `
		FROM utilisateurs
		WHERE LOWER(email) = LOWER($1)
	`
	return r.scanOne(ctx, query, email)
}

func (r *userRepository) scanOne(ctx context.Context, query string, arg any) (*User, error) {
	user := &User{}
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.PinHash,
		&user.Role,
		&user.EtablissementID,
		&user.Nom,
		&user.Prenom,
		&user.Actif,
		&user.DerniereConnexion,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("query utilisateur: %w", err)
	}
	return user, nil
}

// UpdateLastLogin sets derniere_connexion to now
func (r *userRepository) UpdateLastLogin(ctx context.Context, id string) error {
	defer metrics.TimeQuery("update_derniere_connexion")()

	query := `
		UPDATE utilisateurs
		SET derniere_connexion = $1, updated_at = $1
		WHERE id = $2
	`

	result, err := r.pool.Exec(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update derniere_connexion: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
