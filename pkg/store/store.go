// Package store is the persistence adapter (C3): typed pgx/v5 operations
// against the relational store for every entity in the data model. Callers
// above this package never see SQL or raw pgx types.
package store

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations across all entities, backed by a
// single shared pool. Domain packages embed or hold a *Store rather than
// each owning their own connection.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}
