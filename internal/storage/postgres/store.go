// Package postgres implements the concrete, Postgres-backed storage layer
// for every core entity (spec.md §4.A–§4.F): molecules, keywords, the
// output store, records of all kinds, the task queue, and the manager
// registry.
package postgres

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// Store is the shared handle every entity-specific file in this package
// hangs its methods off, mirroring the teacher's one-PostgresStore-per-
// aggregate pattern but consolidated behind the storage.WithTx session scope.
type Store struct {
	db  *sql.DB
	sdb *sqlx.DB
}

// New wraps an already-open, already-migrated *sql.DB.
func New(db *sql.DB) *Store {
	return &Store{db: db, sdb: sqlx.NewDb(db, "postgres")}
}

// DB exposes the underlying *sql.DB for callers that need to open their own
// transactions (the Claim and Return engines both do, since their critical
// sections span several stores).
func (s *Store) DB() *sql.DB { return s.db }
