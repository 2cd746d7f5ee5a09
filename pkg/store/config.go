package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetConfigEntry returns the JSON value for key, or found = false if no
// config_entries row exists for it. Satisfies pkg/configcache.Store.
func (s *Store) GetConfigEntry(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var value json.RawMessage
	err := s.pool.QueryRow(ctx, `SELECT value FROM config_entries WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("getting config entry %q: %w", key, err)
	}
	return value, true, nil
}

// SetConfigEntry writes key's value, inserting or overwriting the existing
// row. Satisfies pkg/configcache.Store.
func (s *Store) SetConfigEntry(ctx context.Context, key string, value json.RawMessage) error {
	query := `INSERT INTO config_entries (key, value, updated_at) VALUES ($1, $2, now())
	ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = now()`
	if _, err := s.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("setting config entry %q: %w", key, err)
	}
	return nil
}
