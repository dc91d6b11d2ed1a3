package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hwrig/testbed/coordinator"
)

// ErrUserNotFound is returned by UserDirectory.Email when no row matches.
var ErrUserNotFound = errors.New("pgstore: user not found")

// UserDirectory resolves user ids to notification addresses against the
// users table Postgres already owns.
type UserDirectory struct {
	pool *pgxpool.Pool
}

func NewUserDirectory(pool *pgxpool.Pool) *UserDirectory {
	return &UserDirectory{pool: pool}
}

func (d *UserDirectory) Email(ctx context.Context, userID int64) (string, error) {
	var email string
	err := d.pool.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("pgstore: user email: %w", err)
	}
	return email, nil
}

var _ coordinator.UserDirectory = (*UserDirectory)(nil)
