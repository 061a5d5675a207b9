package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mensa-erp/mensa-erp/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindTokenByPrefix(ctx context.Context, prefix string) (*APIToken, error)
	CreateToken(ctx context.Context, token APIToken) (int64, error)
	DeleteToken(ctx context.Context, id int64) error
	TouchToken(ctx context.Context, id int64, usedAt time.Time) error
	GetUser(ctx context.Context, id int64) (*User, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) FindTokenByPrefix(ctx context.Context, prefix string) (*APIToken, error) {
	var t APIToken
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, label, prefix, secret_hash, expires_at, last_used_at, created_at
		 FROM api_tokens WHERE prefix = $1`, prefix).
		Scan(&t.ID, &t.UserID, &t.Label, &t.Prefix, &t.SecretHash, &t.ExpiresAt, &t.LastUsedAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *PGRepository) CreateToken(ctx context.Context, token APIToken) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO api_tokens (user_id, label, prefix, secret_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		token.UserID, token.Label, token.Prefix, token.SecretHash, token.ExpiresAt, token.CreatedAt).
		Scan(&id)
	return id, err
}

func (r *PGRepository) DeleteToken(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM api_tokens WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// TouchToken records last use. Best effort, callers may ignore the error.
func (r *PGRepository) TouchToken(ctx context.Context, id int64, usedAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE api_tokens SET last_used_at = $2 WHERE id = $1`, id, usedAt)
	return err
}

func (r *PGRepository) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, name, is_active, created_at, updated_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.Name, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

var _ Repository = (*PGRepository)(nil)
