// Package periodic drives the server's background jobs: a stats snapshot,
// a stale-manager sweep, and the service tick (spec.md §4.J). All jobs are
// registered on one shared robfig/cron scheduler, each with its own
// "@every" interval, inside a lifecycle adapted from the teacher's
// Worker/WorkerGroup pattern.
package periodic

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/MolSSI/QCFractal-sub005/internal/config"
	"github.com/MolSSI/QCFractal-sub005/internal/managerregistry"
	"github.com/MolSSI/QCFractal-sub005/internal/metrics"
	"github.com/MolSSI/QCFractal-sub005/internal/platform/logging"
	"github.com/MolSSI/QCFractal-sub005/internal/serviceengine"
	"github.com/MolSSI/QCFractal-sub005/internal/storage"
	"github.com/MolSSI/QCFractal-sub005/internal/storage/postgres"
)

const serverStatsSpec = "@every 60s"

// Runner owns the lifecycle of the three periodic jobs.
type Runner struct {
	db       *sql.DB
	store    *postgres.Store
	managers *managerregistry.Registry
	services *serviceengine.Engine
	cfg      *config.Config
	log      *logging.Logger

	group *workerGroup
}

// New builds a Runner over an already-migrated database and wired engines.
// managers.HeartbeatTimeout is set here from cfg.Queue so the stale sweep
// matches the frequency this runner actually drives it at (spec.md §4.J:
// "stale if modified_on < now - 5*heartbeat_frequency").
func New(db *sql.DB, store *postgres.Store, managers *managerregistry.Registry, services *serviceengine.Engine, cfg *config.Config, log *logging.Logger) *Runner {
	if log == nil {
		log = logging.NewDefault("periodic")
	}
	managers.HeartbeatTimeout = time.Duration(cfg.Queue.HeartbeatFrequencySeconds*cfg.Queue.StaleManagerMultiplier) * time.Second

	r := &Runner{
		db:       db,
		store:    store,
		managers: managers,
		services: services,
		cfg:      cfg,
		log:      log,
		group:    newWorkerGroup(),
	}

	r.group.add(newJob("server_stats", serverStatsSpec, log, r.runServerStats))
	r.group.add(newJob("manager_heartbeat_check", everySeconds(cfg.Queue.HeartbeatFrequencySeconds), log, r.runHeartbeatCheck))
	r.group.add(newJob("service_tick", everySeconds(cfg.Service.ServiceFrequencySeconds), log, r.runServiceTick))

	return r
}

// Start launches all three jobs. It returns once every job's goroutine is
// running; the jobs themselves keep running until Stop is called or ctx is
// cancelled.
func (r *Runner) Start(ctx context.Context) error {
	return r.group.start(ctx)
}

// Stop signals every job to exit and waits for them to finish their current
// tick.
func (r *Runner) Stop() {
	r.group.stop()
}

// IsRunning reports whether the scheduler is currently active.
func (r *Runner) IsRunning() bool {
	return r.group.isRunning()
}

// everySeconds builds a robfig/cron "@every" spec, floored at one second so
// a misconfigured zero-second frequency doesn't busy-loop the scheduler.
func everySeconds(n int) string {
	if n <= 0 {
		n = 1
	}
	return fmt.Sprintf("@every %ds", n)
}

func (r *Runner) runServerStats(ctx context.Context) error {
	var stats postgres.ServerStats
	err := storage.WithReadTx(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		stats, err = r.store.CollectServerStats(ctx, tx)
		return err
	})
	if err != nil {
		return err
	}
	metrics.SetQueueDepth(int(stats.Counts["task_queue"]))
	metrics.SetActiveManagers(int(stats.Counts["queue_manager"]))
	return storage.WithTx(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		return r.store.RecordServerStats(ctx, tx, stats)
	})
}

func (r *Runner) runHeartbeatCheck(ctx context.Context) error {
	stale, err := r.managers.SweepStale(ctx)
	if err != nil {
		return err
	}
	if len(stale) > 0 {
		r.log.WithField("managers", stale).Info("deactivated stale managers")
	}
	return nil
}

func (r *Runner) runServiceTick(ctx context.Context) error {
	n, err := r.services.IterateDue(ctx, r.cfg.Service.MaxActiveServices)
	if err != nil {
		return err
	}
	if n > 0 {
		r.log.WithField("services_ticked", n).Debug("service tick")
	}
	return nil
}
