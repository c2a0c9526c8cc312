// Package server is the Go API surface a transport layer (out of scope
// here) would marshal to/from JSON: manager lifecycle, task claim/return,
// and record submission, each wired atomically to the storage layer
// (spec.md §6).
package server

import (
	"database/sql"

	"github.com/MolSSI/QCFractal-sub005/internal/claimengine"
	"github.com/MolSSI/QCFractal-sub005/internal/config"
	"github.com/MolSSI/QCFractal-sub005/internal/managerregistry"
	"github.com/MolSSI/QCFractal-sub005/internal/notify"
	"github.com/MolSSI/QCFractal-sub005/internal/platform/logging"
	"github.com/MolSSI/QCFractal-sub005/internal/returnengine"
	"github.com/MolSSI/QCFractal-sub005/internal/storage/postgres"
)

// Server aggregates every engine a manager or submission request drives.
type Server struct {
	db       *sql.DB
	store    *postgres.Store
	managers *managerregistry.Registry
	claims   *claimengine.Engine
	returns  *returnengine.Engine
	notifier *notify.Registry
	limits   config.APILimitsConfig
	log      *logging.Logger
}

// New wires a Server over an already-migrated database and its engines.
// A zero-value limits disables batch-size enforcement entirely.
func New(db *sql.DB, store *postgres.Store, managers *managerregistry.Registry, claims *claimengine.Engine, returns *returnengine.Engine, notifier *notify.Registry, limits config.APILimitsConfig, log *logging.Logger) *Server {
	if log == nil {
		log = logging.NewDefault("server")
	}
	return &Server{db: db, store: store, managers: managers, claims: claims, returns: returns, notifier: notifier, limits: limits, log: log}
}
