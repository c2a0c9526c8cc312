package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/MolSSI/QCFractal-sub005/internal/apierrors"
	"github.com/MolSSI/QCFractal-sub005/internal/domain"
)

// CreateTask inserts a task_queue row for a waiting record (spec.md §4.E).
// required_programs keys must already be lower-cased: the schema's check
// constraint rejects anything else.
func (s *Store) CreateTask(ctx context.Context, tx *sql.Tx, t domain.Task) (int64, error) {
	required, _ := json.Marshal(nonNilStringMap(t.RequiredPrograms))
	tag := t.ComputeTag
	if tag == "" {
		tag = "*"
	}
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO task_queue (base_result_id, spec, compute_tag, required_programs, priority)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, t.RecordID, t.Spec, tag, required, int(t.Priority)).Scan(&id)
	return id, err
}

func nonNilStringMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// GetTaskByRecord loads a task by its owning record id.
func (s *Store) GetTaskByRecord(ctx context.Context, tx *sql.Tx, recordID int64) (domain.Task, error) {
	var t domain.Task
	var required []byte
	var priority int
	var managerName sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT id, base_result_id, spec, compute_tag, required_programs, priority, created_on, COALESCE(manager, '')
		FROM task_queue WHERE base_result_id = $1
	`, recordID).Scan(&t.ID, &t.RecordID, &t.Spec, &t.ComputeTag, &required, &priority, &t.CreatedOn, &managerName)
	if err == sql.ErrNoRows {
		return domain.Task{}, apierrors.MissingData("task_queue", fmt.Sprint(recordID))
	}
	if err != nil {
		return domain.Task{}, err
	}
	t.Priority = domain.Priority(priority)
	t.ManagerName = managerName.String
	_ = json.Unmarshal(required, &t.RequiredPrograms)
	return t, nil
}

// GetTask loads a task by id, locking it FOR UPDATE when forUpdate is set
// (the return engine's per-task critical section, spec.md §4.H step 2).
func (s *Store) GetTask(ctx context.Context, tx *sql.Tx, id int64, forUpdate bool) (domain.Task, error) {
	query := `
		SELECT id, base_result_id, spec, compute_tag, required_programs, priority, created_on, COALESCE(manager, '')
		FROM task_queue WHERE id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var t domain.Task
	var required []byte
	var priority int
	var managerName sql.NullString
	err := tx.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.RecordID, &t.Spec, &t.ComputeTag, &required, &priority, &t.CreatedOn, &managerName)
	if err == sql.ErrNoRows {
		return domain.Task{}, apierrors.MissingData("task_queue", fmt.Sprint(id))
	}
	if err != nil {
		return domain.Task{}, err
	}
	t.Priority = domain.Priority(priority)
	t.ManagerName = managerName.String
	_ = json.Unmarshal(required, &t.RequiredPrograms)
	return t, nil
}

// ClaimCandidates selects claimable task rows for a tag/program filter,
// locking them FOR UPDATE SKIP LOCKED so concurrent managers never contend
// on the same row (spec.md §4.G, invariant 7). The program-containment
// predicate (task.required_programs ⊂ have) runs inside the query, before
// LIMIT, so a batch of mixed-program candidates never under-fills the
// manager's limit (spec.md §4.G's algorithm, invariant 2): an empty
// required version matches any version the manager advertises for that
// program, which is why this can't be a plain jsonb `<@` containment test
// and instead walks required_programs key by key.
func (s *Store) ClaimCandidates(ctx context.Context, tx *sql.Tx, tags []string, limit int, have domain.RequiredPrograms) ([]domain.Task, error) {
	haveJSON, _ := json.Marshal(nonNilStringMap(have))
	rows, err := tx.QueryContext(ctx, `
		SELECT id, base_result_id, spec, compute_tag, required_programs, priority, created_on
		FROM task_queue
		WHERE manager IS NULL AND (compute_tag = ANY($1) OR compute_tag = '*')
		  AND NOT EXISTS (
		    SELECT 1 FROM jsonb_each_text(required_programs) req(name, version)
		    WHERE NOT ($3::jsonb ? req.name)
		       OR (req.version <> '' AND ($3::jsonb ->> req.name) <> req.version)
		  )
		ORDER BY priority DESC, created_on ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, pq.Array(tags), limit, haveJSON)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		var t domain.Task
		var required []byte
		var priority int
		if err := rows.Scan(&t.ID, &t.RecordID, &t.Spec, &t.ComputeTag, &required, &priority, &t.CreatedOn); err != nil {
			return nil, err
		}
		t.Priority = domain.Priority(priority)
		_ = json.Unmarshal(required, &t.RequiredPrograms)
		out = append(out, t)
	}
	return out, rows.Err()
}

// AssignTask marks a task claimed by a manager.
func (s *Store) AssignTask(ctx context.Context, tx *sql.Tx, taskID int64, managerName string) error {
	_, err := tx.ExecContext(ctx, `UPDATE task_queue SET manager = $2 WHERE id = $1`, taskID, managerName)
	return err
}

// ReleaseTask clears a task's manager assignment, returning it to the
// claimable pool — used for orphan recovery when a manager deactivates with
// outstanding tasks (spec.md §4.F).
func (s *Store) ReleaseTask(ctx context.Context, tx *sql.Tx, taskID int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE task_queue SET manager = NULL WHERE id = $1`, taskID)
	return err
}

// DeleteTask removes a task row, called when its record completes, errors,
// or is cancelled (the task only exists while a record is waiting/running).
func (s *Store) DeleteTask(ctx context.Context, tx *sql.Tx, recordID int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM task_queue WHERE base_result_id = $1`, recordID)
	return err
}

// TasksForManager lists every task currently assigned to a manager, along
// with the record each one belongs to, so orphan recovery on deactivation
// can transition both the task_queue row and its owning base_record.
func (s *Store) TasksForManager(ctx context.Context, tx *sql.Tx, managerName string) ([]domain.Task, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, base_result_id FROM task_queue WHERE manager = $1 FOR UPDATE`, managerName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		var t domain.Task
		if err := rows.Scan(&t.ID, &t.RecordID); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
