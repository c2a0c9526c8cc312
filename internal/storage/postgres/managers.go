package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/lib/pq"

	"github.com/MolSSI/QCFractal-sub005/internal/apierrors"
	"github.com/MolSSI/QCFractal-sub005/internal/domain"
)

// ActivateManager inserts a queue_manager row (spec.md §4.F's activate).
func (s *Store) ActivateManager(ctx context.Context, tx *sql.Tx, m domain.ComputeManager) (int64, error) {
	programs, _ := json.Marshal(nonNilStringMap(m.Programs))
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO queue_manager (name, cluster, hostname, username, uuid, tags, programs, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'active')
		RETURNING id
	`, m.Name, m.Cluster, m.Hostname, m.Username, m.UUID, pq.Array(m.Tags), programs).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return 0, apierrors.AlreadyExists("queue_manager", m.Name)
		}
		return 0, err
	}
	return id, nil
}

// GetManager loads a manager by name, locking it FOR UPDATE when forUpdate
// is set (the claim engine's per-manager critical section, spec.md §4.G).
func (s *Store) GetManager(ctx context.Context, tx *sql.Tx, name string, forUpdate bool) (domain.ComputeManager, error) {
	query := `
		SELECT id, name, cluster, hostname, username, uuid, tags, programs, status,
		       claimed, successes, failures, rejected, returned, total_cpu_hours,
		       active_tasks, active_cores, active_memory, created_on, modified_on
		FROM queue_manager WHERE name = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var m domain.ComputeManager
	var status string
	var programs []byte
	err := tx.QueryRowContext(ctx, query, name).Scan(
		&m.ID, &m.Name, &m.Cluster, &m.Hostname, &m.Username, &m.UUID, pq.Array(&m.Tags), &programs, &status,
		&m.Claimed, &m.Successes, &m.Failures, &m.Rejected, &m.Returned, &m.TotalCPUHours,
		&m.ActiveTasks, &m.ActiveCores, &m.ActiveMemory, &m.CreatedOn, &m.ModifiedOn,
	)
	if err == sql.ErrNoRows {
		return domain.ComputeManager{}, apierrors.MissingData("queue_manager", name)
	}
	if err != nil {
		return domain.ComputeManager{}, err
	}
	m.Status = domain.ManagerStatus(status)
	_ = json.Unmarshal(programs, &m.Programs)
	return m, nil
}

// Heartbeat applies one HeartbeatStats report: it updates the manager's
// live gauges, bumps its running totals, refreshes modified_on, and appends
// a ManagerLog row (spec.md §3, §4.F).
func (s *Store) Heartbeat(ctx context.Context, tx *sql.Tx, name string, stats domain.HeartbeatStats, claimedDelta, successesDelta, failuresDelta, rejectedDelta int64) error {
	var managerID int64
	err := tx.QueryRowContext(ctx, `
		UPDATE queue_manager SET
			active_tasks = $2, active_cores = $3, active_memory = $4,
			total_cpu_hours = total_cpu_hours + $5,
			claimed = claimed + $6, successes = successes + $7, failures = failures + $8, rejected = rejected + $9,
			modified_on = now()
		WHERE name = $1
		RETURNING id
	`, name, stats.ActiveTasks, stats.ActiveCores, stats.ActiveMemory, stats.TotalCPUHours,
		claimedDelta, successesDelta, failuresDelta, rejectedDelta).Scan(&managerID)
	if err == sql.ErrNoRows {
		return apierrors.MissingData("queue_manager", name)
	}
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO queue_manager_log (manager_id, claimed, successes, failures, rejected, active_tasks, active_cores, active_memory, total_cpu_hours)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, managerID, claimedDelta, successesDelta, failuresDelta, rejectedDelta, stats.ActiveTasks, stats.ActiveCores, stats.ActiveMemory, stats.TotalCPUHours)
	return err
}

// DeactivateManager transitions a manager to inactive.
func (s *Store) DeactivateManager(ctx context.Context, tx *sql.Tx, name string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE queue_manager SET status = 'inactive', modified_on = now() WHERE name = $1 AND status = 'active'
	`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierrors.MissingData("queue_manager", name)
	}
	return nil
}

// StaleManagers returns the names of active managers not heard from since
// before cutoff, used by the periodic heartbeat-check sweep (spec.md
// §4.J's manager_heartbeat_check job).
func (s *Store) StaleManagers(ctx context.Context, tx *sql.Tx, cutoffSeconds int) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT name FROM queue_manager
		WHERE status = 'active' AND modified_on < now() - ($1 || ' seconds')::interval
	`, cutoffSeconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
