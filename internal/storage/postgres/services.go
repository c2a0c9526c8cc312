package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/MolSSI/QCFractal-sub005/internal/apierrors"
	"github.com/MolSSI/QCFractal-sub005/internal/domain"
)

// CreateServiceQueueEntry inserts the service_queue row that drives a
// service record's iterate() calls (spec.md §4.I).
func (s *Store) CreateServiceQueueEntry(ctx context.Context, tx *sql.Tx, e domain.ServiceQueueEntry) (int64, error) {
	state, _ := json.Marshal(nonNilMap(e.State))
	priority := e.Priority
	if priority == 0 {
		priority = domain.PriorityNormal
	}
	tag := e.ComputeTag
	if tag == "" {
		tag = "*"
	}
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO service_queue (procedure_id, compute_tag, priority, service_state)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, e.ProcedureID, tag, int(priority), state).Scan(&id)
	if err != nil {
		return 0, err
	}
	for _, d := range e.Dependencies {
		if err := s.upsertDependencyRow(ctx, tx, id, d); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// GetServiceQueueEntry loads a service_queue row by its own id, locking it
// FOR UPDATE when forUpdate is set (the periodic service runner's critical
// section, spec.md §4.I/§4.J).
func (s *Store) GetServiceQueueEntry(ctx context.Context, tx *sql.Tx, id int64, forUpdate bool) (domain.ServiceQueueEntry, error) {
	query := `SELECT id, procedure_id, compute_tag, priority, service_state, created_on, modified_on FROM service_queue WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var e domain.ServiceQueueEntry
	var priority int
	var state []byte
	err := tx.QueryRowContext(ctx, query, id).Scan(&e.ID, &e.ProcedureID, &e.ComputeTag, &priority, &state, &e.CreatedOn, &e.ModifiedOn)
	if err == sql.ErrNoRows {
		return domain.ServiceQueueEntry{}, apierrors.MissingData("service_queue", fmt.Sprint(id))
	}
	if err != nil {
		return domain.ServiceQueueEntry{}, err
	}
	e.Priority = domain.Priority(priority)
	_ = json.Unmarshal(state, &e.State)
	deps, err := s.listDependenciesByServiceID(ctx, tx, e.ID)
	if err != nil {
		return domain.ServiceQueueEntry{}, err
	}
	e.Dependencies = deps
	return e, nil
}

// GetServiceQueueEntryByProcedure resolves a service record's id to its
// service_queue row.
func (s *Store) GetServiceQueueEntryByProcedure(ctx context.Context, tx *sql.Tx, procedureID int64, forUpdate bool) (domain.ServiceQueueEntry, error) {
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM service_queue WHERE procedure_id = $1`, procedureID).Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return domain.ServiceQueueEntry{}, apierrors.MissingData("service_queue", fmt.Sprint(procedureID))
		}
		return domain.ServiceQueueEntry{}, err
	}
	return s.GetServiceQueueEntry(ctx, tx, id, forUpdate)
}

// ReplaceState overwrites a service's opaque iteration state wholesale —
// per spec.md §9 the state is always replaced, never mutated in place, so
// there is no partial-update path here.
func (s *Store) ReplaceState(ctx context.Context, tx *sql.Tx, serviceID int64, state map[string]interface{}) error {
	data, _ := json.Marshal(nonNilMap(state))
	_, err := tx.ExecContext(ctx, `
		UPDATE service_queue SET service_state = $2, modified_on = now() WHERE id = $1
	`, serviceID, data)
	return err
}

// ListDependencies returns the dependency rows attached to the service
// whose service record id is procedureID.
func (s *Store) ListDependencies(ctx context.Context, tx *sql.Tx, procedureID int64) ([]domain.ServiceDependency, error) {
	var serviceID int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM service_queue WHERE procedure_id = $1`, procedureID).Scan(&serviceID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.listDependenciesByServiceID(ctx, tx, serviceID)
}

func (s *Store) listDependenciesByServiceID(ctx context.Context, tx *sql.Tx, serviceID int64) ([]domain.ServiceDependency, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT procedure_id, key, position, extras FROM service_queue_tasks WHERE service_id = $1 ORDER BY position
	`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deps []domain.ServiceDependency
	for rows.Next() {
		var d domain.ServiceDependency
		var extras []byte
		if err := rows.Scan(&d.ChildRecordID, &d.Key, &d.Position, &extras); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(extras, &d.Extras)
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// SetDependency upserts one dependency row for the service whose service
// record id is procedureID, used by the per-record-type state updates
// (torsiondrive grid points, gridoptimization scan points) to record a
// freshly-spawned child record against its logical key.
func (s *Store) SetDependency(ctx context.Context, tx *sql.Tx, procedureID int64, d domain.ServiceDependency) error {
	var serviceID int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM service_queue WHERE procedure_id = $1`, procedureID).Scan(&serviceID)
	if err == sql.ErrNoRows {
		return apierrors.MissingData("service_queue", fmt.Sprint(procedureID))
	}
	if err != nil {
		return err
	}
	return s.upsertDependencyRow(ctx, tx, serviceID, d)
}

func (s *Store) upsertDependencyRow(ctx context.Context, tx *sql.Tx, serviceID int64, d domain.ServiceDependency) error {
	extras, _ := json.Marshal(nonNilMap(d.Extras))
	_, err := tx.ExecContext(ctx, `
		INSERT INTO service_queue_tasks (service_id, procedure_id, key, position, extras)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (service_id, procedure_id) DO UPDATE SET key = EXCLUDED.key, position = EXCLUDED.position, extras = EXCLUDED.extras
	`, serviceID, d.ChildRecordID, d.Key, d.Position, extras)
	return err
}

// DeleteServiceQueueEntry removes a service's driver row once its record
// completes (cascades to service_queue_tasks).
func (s *Store) DeleteServiceQueueEntry(ctx context.Context, tx *sql.Tx, serviceID int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM service_queue WHERE id = $1`, serviceID)
	return err
}

// ListDueServices returns ids of service_queue rows eligible for the next
// periodic iteration pass, highest priority and oldest first (spec.md
// §4.J's service_tick job).
func (s *Store) ListDueServices(ctx context.Context, tx *sql.Tx, limit int) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT sq.id FROM service_queue sq
		JOIN base_record br ON br.id = sq.procedure_id
		WHERE br.status IN ('waiting', 'running')
		ORDER BY sq.priority DESC, sq.created_on ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
