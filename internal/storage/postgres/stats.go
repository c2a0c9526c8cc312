package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
)

// ServerStats is one snapshot of record counts and table sizes, written to
// server_stats_log by the periodic runner's server_stats job (spec.md
// §4.J).
type ServerStats struct {
	Counts  map[string]int64
	DBSizes map[string]int64
}

// statsCountQueries names every count this deployment tracks in a snapshot.
// Keys become the JSON keys under server_stats_log.counts.
var statsCountQueries = map[string]string{
	"molecules":            `SELECT count(*) FROM molecules`,
	"base_record":          `SELECT count(*) FROM base_record`,
	"base_record_waiting":  `SELECT count(*) FROM base_record WHERE status = 'waiting'`,
	"base_record_running":  `SELECT count(*) FROM base_record WHERE status = 'running'`,
	"base_record_complete": `SELECT count(*) FROM base_record WHERE status = 'complete'`,
	"base_record_error":    `SELECT count(*) FROM base_record WHERE status = 'error'`,
	"task_queue":           `SELECT count(*) FROM task_queue`,
	"queue_manager":        `SELECT count(*) FROM queue_manager WHERE status = 'active'`,
	"service_queue":        `SELECT count(*) FROM service_queue`,
	"output_store":         `SELECT count(*) FROM output_store`,
}

// statsSizeTables names every table whose on-disk size is sampled via
// pg_total_relation_size.
var statsSizeTables = []string{
	"molecules",
	"base_record",
	"task_queue",
	"compute_history",
	"output_store",
}

// CollectServerStats snapshots row counts and table sizes in one read-only
// transaction.
func (s *Store) CollectServerStats(ctx context.Context, tx *sql.Tx) (ServerStats, error) {
	stats := ServerStats{Counts: map[string]int64{}, DBSizes: map[string]int64{}}
	for key, q := range statsCountQueries {
		var n int64
		if err := tx.QueryRowContext(ctx, q).Scan(&n); err != nil {
			return ServerStats{}, err
		}
		stats.Counts[key] = n
	}
	for _, table := range statsSizeTables {
		var n int64
		if err := tx.QueryRowContext(ctx, `SELECT pg_total_relation_size($1)`, table).Scan(&n); err != nil {
			return ServerStats{}, err
		}
		stats.DBSizes[table] = n
	}
	return stats, nil
}

// RecordServerStats appends one snapshot row to server_stats_log.
func (s *Store) RecordServerStats(ctx context.Context, tx *sql.Tx, stats ServerStats) error {
	counts, err := json.Marshal(stats.Counts)
	if err != nil {
		return err
	}
	dbSizes, err := json.Marshal(stats.DBSizes)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO server_stats_log (counts, db_sizes)
		VALUES ($1, $2)`, counts, dbSizes)
	return err
}
