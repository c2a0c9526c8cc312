// Command qcfractal-server runs the QCFractal-Go compute orchestration
// daemon: the HTTP-free API facade, the periodic runner, and a /metrics
// endpoint for Prometheus scraping.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MolSSI/QCFractal-sub005/internal/claimengine"
	"github.com/MolSSI/QCFractal-sub005/internal/config"
	"github.com/MolSSI/QCFractal-sub005/internal/managerregistry"
	"github.com/MolSSI/QCFractal-sub005/internal/metrics"
	"github.com/MolSSI/QCFractal-sub005/internal/notify"
	"github.com/MolSSI/QCFractal-sub005/internal/periodic"
	"github.com/MolSSI/QCFractal-sub005/internal/platform/database"
	"github.com/MolSSI/QCFractal-sub005/internal/platform/logging"
	"github.com/MolSSI/QCFractal-sub005/internal/platform/migrations"
	"github.com/MolSSI/QCFractal-sub005/internal/returnengine"
	"github.com/MolSSI/QCFractal-sub005/internal/server"
	"github.com/MolSSI/QCFractal-sub005/internal/serviceengine"
	"github.com/MolSSI/QCFractal-sub005/internal/storage/postgres"
)

func main() {
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve /metrics on")
	runMigrations := flag.Bool("migrate", true, "apply embedded database migrations on startup")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	log4 := logging.New(cfg.Logging)
	log4.Info("starting qcfractal-server")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dsn := cfg.Database.DSN
	if dsn == "" {
		dsn = cfg.Database.ConnectionString()
	}
	db, err := database.Open(rootCtx, dsn)
	if err != nil {
		log4.WithError(err).Fatal("connect to postgres")
	}
	defer db.Close()
	database.ConfigurePool(db, cfg.Database)

	if *runMigrations && cfg.Database.MigrateOnStart {
		if err := migrations.Apply(db); err != nil {
			log4.WithError(err).Fatal("apply migrations")
		}
	}

	store := postgres.New(db)
	notifier := notify.New()
	managers := managerregistry.New(db, store, log4)
	claims := claimengine.New(db, store, log4)
	returns := returnengine.New(db, store, notifier, log4)
	services := serviceengine.New(db, store, notifier, log4)
	runner := periodic.New(db, store, managers, services, cfg, log4)
	_ = server.New(db, store, managers, claims, returns, notifier, cfg.Limits, log4)

	if err := runner.Start(rootCtx); err != nil {
		log4.WithError(err).Fatal("start periodic runner")
	}

	metricsSrv := &http.Server{
		Addr:    *metricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log4.WithError(err).Error("metrics server stopped")
		}
	}()
	log4.WithField("addr", *metricsAddr).Info("metrics server listening")

	<-rootCtx.Done()
	log4.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log4.WithError(err).Warn("metrics server shutdown")
	}
	runner.Stop()
	log4.Info("shutdown complete")
	os.Exit(0)
}
