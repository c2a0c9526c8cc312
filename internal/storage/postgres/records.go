package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/MolSSI/QCFractal-sub005/internal/apierrors"
	"github.com/MolSSI/QCFractal-sub005/internal/domain"
)

// CreateBaseRecord inserts a new record header in status waiting (or
// running, for records created directly by a service iteration).
func (s *Store) CreateBaseRecord(ctx context.Context, tx *sql.Tx, r domain.BaseRecord) (int64, error) {
	extras, _ := json.Marshal(nonNilMap(r.Extras))
	provenance, _ := json.Marshal(nonNilMap(r.Provenance))
	comments, _ := json.Marshal(r.Comments)

	now := time.Now().UTC()
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO base_record (record_type, status, is_service, owner, created_on, modified_on, extras, provenance, comments)
		VALUES ($1, $2, $3, $4, $5, $5, $6, $7, $8)
		RETURNING id
	`, string(r.RecordType), string(r.Status), r.IsService, r.Owner, now, extras, provenance, comments).Scan(&id)
	return id, err
}

func nonNilMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

// GetBaseRecord implements get_general for the base_record header,
// locking the row FOR UPDATE when forUpdate is set (used by the claim and
// return engines' critical sections, spec.md §4.G/§4.H).
func (s *Store) GetBaseRecord(ctx context.Context, tx *sql.Tx, id int64, forUpdate bool) (domain.BaseRecord, error) {
	query := `
		SELECT id, record_type, status, COALESCE(prior_status, ''), is_service, COALESCE(manager_name, ''), owner,
		       created_on, modified_on, extras, provenance, comments,
		       COALESCE(stdout, 0), COALESCE(stderr, 0), COALESCE(error_output, 0)
		FROM base_record WHERE id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var r domain.BaseRecord
	var recordType, status, priorStatus, managerName string
	var extras, provenance, comments []byte
	err := tx.QueryRowContext(ctx, query, id).Scan(
		&r.ID, &recordType, &status, &priorStatus, &r.IsService, &managerName, &r.Owner,
		&r.CreatedOn, &r.ModifiedOn, &extras, &provenance, &comments,
		&r.StdoutID, &r.StderrID, &r.ErrorOutputID,
	)
	if err == sql.ErrNoRows {
		return domain.BaseRecord{}, apierrors.MissingData("record", fmt.Sprint(id))
	}
	if err != nil {
		return domain.BaseRecord{}, err
	}
	r.RecordType = domain.RecordType(recordType)
	r.Status = domain.RecordStatus(status)
	r.PriorStatus = domain.RecordStatus(priorStatus)
	r.ManagerName = managerName
	_ = json.Unmarshal(extras, &r.Extras)
	_ = json.Unmarshal(provenance, &r.Provenance)
	_ = json.Unmarshal(comments, &r.Comments)
	return r, nil
}

// GetBaseRecords implements get_general for multiple record headers.
func (s *Store) GetBaseRecords(ctx context.Context, tx *sql.Tx, ids []int64, missingOK bool) ([]domain.BaseRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT id, record_type, status, COALESCE(prior_status, ''), is_service, COALESCE(manager_name, ''), owner,
		       created_on, modified_on, extras, provenance, comments,
		       COALESCE(stdout, 0), COALESCE(stderr, 0), COALESCE(error_output, 0)
		FROM base_record WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[int64]domain.BaseRecord, len(ids))
	for rows.Next() {
		var r domain.BaseRecord
		var recordType, status, priorStatus, managerName string
		var extras, provenance, comments []byte
		if err := rows.Scan(&r.ID, &recordType, &status, &priorStatus, &r.IsService, &managerName, &r.Owner,
			&r.CreatedOn, &r.ModifiedOn, &extras, &provenance, &comments,
			&r.StdoutID, &r.StderrID, &r.ErrorOutputID); err != nil {
			return nil, err
		}
		r.RecordType = domain.RecordType(recordType)
		r.Status = domain.RecordStatus(status)
		r.PriorStatus = domain.RecordStatus(priorStatus)
		r.ManagerName = managerName
		_ = json.Unmarshal(extras, &r.Extras)
		_ = json.Unmarshal(provenance, &r.Provenance)
		_ = json.Unmarshal(comments, &r.Comments)
		found[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.BaseRecord, 0, len(ids))
	for _, id := range ids {
		r, ok := found[id]
		if !ok {
			if missingOK {
				continue
			}
			return nil, apierrors.MissingData("record", fmt.Sprint(id))
		}
		out = append(out, r)
	}
	return out, nil
}

// SetStatus updates a record's status, manager_name and modified_on,
// enforcing the transition table (invariant 6 of spec.md §3). Passing an
// empty managerName clears it.
func (s *Store) SetStatus(ctx context.Context, tx *sql.Tx, id int64, from, to domain.RecordStatus, managerName string) error {
	if !domain.CanTransition(from, to) {
		return apierrors.InvalidTransition(string(from), string(to))
	}
	var mgr interface{}
	if managerName != "" {
		mgr = managerName
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE base_record SET status = $2, manager_name = $3, modified_on = now()
		WHERE id = $1 AND status = $4
	`, id, string(to), mgr, string(from))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierrors.InvalidTransition(string(from), string(to))
	}
	return nil
}

// SoftDelete transitions a record to deleted, preserving its prior status
// for Revert (invariant 6 of spec.md §3).
func (s *Store) SoftDelete(ctx context.Context, tx *sql.Tx, id int64) error {
	rec, err := s.GetBaseRecord(ctx, tx, id, true)
	if err != nil {
		return err
	}
	if rec.Status == domain.StatusDeleted {
		return nil
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE base_record SET status = 'deleted', prior_status = $2, modified_on = now() WHERE id = $1
	`, id, string(rec.Status))
	return err
}

// Revert restores a soft-deleted record to its prior non-deleted status.
func (s *Store) Revert(ctx context.Context, tx *sql.Tx, id int64) error {
	rec, err := s.GetBaseRecord(ctx, tx, id, true)
	if err != nil {
		return err
	}
	if rec.Status != domain.StatusDeleted {
		return apierrors.InvalidTransition(string(rec.Status), "waiting")
	}
	restore := rec.PriorStatus
	if restore == "" {
		restore = domain.StatusWaiting
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE base_record SET status = $2, prior_status = NULL, modified_on = now() WHERE id = $1
	`, id, string(restore))
	return err
}

// AddComment appends a comment to a record (append-only, spec.md §3).
func (s *Store) AddComment(ctx context.Context, tx *sql.Tx, id int64, c domain.Comment) error {
	rec, err := s.GetBaseRecord(ctx, tx, id, true)
	if err != nil {
		return err
	}
	rec.Comments = append(rec.Comments, c)
	data, _ := json.Marshal(rec.Comments)
	_, err = tx.ExecContext(ctx, `UPDATE base_record SET comments = $2 WHERE id = $1`, id, data)
	return err
}

// SetOutputs rewrites a record's stdout/stderr/error output ids, deleting
// whichever previous ids are replaced (spec.md §4.H).
func (s *Store) SetOutputs(ctx context.Context, tx *sql.Tx, id int64, stdout, stderr, errOut int64) error {
	rec, err := s.GetBaseRecord(ctx, tx, id, true)
	if err != nil {
		return err
	}
	for old, next := range map[int64]int64{rec.StdoutID: stdout, rec.StderrID: stderr, rec.ErrorOutputID: errOut} {
		if old != 0 && old != next {
			if err := s.DeleteOutput(ctx, tx, old); err != nil {
				return err
			}
		}
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE base_record SET stdout = NULLIF($2,0), stderr = NULLIF($3,0), error_output = NULLIF($4,0) WHERE id = $1
	`, id, stdout, stderr, errOut)
	return err
}
