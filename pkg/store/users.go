package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, display_name, email, password_hash, is_admin, created_at`

// UserRow represents a row from the users table.
type UserRow struct {
	ID           uuid.UUID
	DisplayName  string
	Email        *string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
}

func scanUserRow(row pgx.Row) (UserRow, error) {
	var u UserRow
	err := row.Scan(&u.ID, &u.DisplayName, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt)
	return u, err
}

// CreateUserParams holds parameters for creating a user.
type CreateUserParams struct {
	DisplayName  string
	Email        *string
	PasswordHash string
	IsAdmin      bool
}

// CreateUser inserts a new user. display_name has a unique constraint;
// pgx's unique-violation error is wrapped with %w, so the handler layer
// can still reach it with errors.As and map it to errs.Conflict.
func (s *Store) CreateUser(ctx context.Context, p CreateUserParams) (UserRow, error) {
	query := `INSERT INTO users (display_name, email, password_hash, is_admin)
	VALUES ($1, $2, $3, $4)
	RETURNING ` + userColumns
	row := s.pool.QueryRow(ctx, query, p.DisplayName, p.Email, p.PasswordHash, p.IsAdmin)
	u, err := scanUserRow(row)
	if err != nil {
		return UserRow{}, fmt.Errorf("creating user: %w", err)
	}
	return u, nil
}

// GetUser returns a single user by ID.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (UserRow, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(s.pool.QueryRow(ctx, query, id))
}

// GetUserByDisplayName returns a single user by display name, used by login.
func (s *Store) GetUserByDisplayName(ctx context.Context, displayName string) (UserRow, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE display_name = $1`
	return scanUserRow(s.pool.QueryRow(ctx, query, displayName))
}

// GetUserByEmail returns a single user by email, the other half of login's
// "email or username" identifier.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (UserRow, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUserRow(s.pool.QueryRow(ctx, query, email))
}

// UpdatePasswordHash overwrites a user's stored password verifier, used for
// opportunistic bcrypt-to-argon2id rehash on successful login.
func (s *Store) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	_, err := s.pool.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("updating password hash: %w", err)
	}
	return nil
}

// ListUsers returns every user, ordered by display name, for the admin
// users listing.
func (s *Store) ListUsers(ctx context.Context) ([]UserRow, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY display_name`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()
	var items []UserRow
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		items = append(items, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}
	return items, nil
}

// SetUserAdmin flips a user's is_admin flag.
func (s *Store) SetUserAdmin(ctx context.Context, id uuid.UUID, isAdmin bool) error {
	if _, err := s.pool.Exec(ctx, `UPDATE users SET is_admin = $2 WHERE id = $1`, id, isAdmin); err != nil {
		return fmt.Errorf("setting user admin=%v: %w", isAdmin, err)
	}
	return nil
}

// DeleteUser removes a user permanently. Memberships cascade per the
// schema's foreign key.
func (s *Store) DeleteUser(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return nil
}

// CountUsers returns the total number of users, for GET /api/admin/stats's
// db.users field.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}
