package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/MolSSI/QCFractal-sub005/internal/domain"
)

// AppendHistory inserts one append-only compute_history row plus its output
// links (spec.md §3: "every completed or failed attempt is appended, never
// overwritten").
func (s *Store) AppendHistory(ctx context.Context, tx *sql.Tx, h domain.ComputeHistoryRow) (int64, error) {
	provenance, _ := json.Marshal(nonNilMap(h.Provenance))
	var mgr interface{}
	if h.ManagerName != "" {
		mgr = h.ManagerName
	}
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO compute_history (record_id, status, manager_name, provenance)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, h.RecordID, string(h.Status), mgr, provenance).Scan(&id)
	if err != nil {
		return 0, err
	}
	for outputType, outputID := range h.OutputIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO compute_history_outputs (history_id, output_type, output_id) VALUES ($1, $2, $3)
		`, id, outputType, outputID); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// ListHistory returns every attempt recorded for a record, oldest first.
func (s *Store) ListHistory(ctx context.Context, tx *sql.Tx, recordID int64) ([]domain.ComputeHistoryRow, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, record_id, status, COALESCE(manager_name, ''), modified_on, provenance
		FROM compute_history WHERE record_id = $1 ORDER BY modified_on ASC, id ASC
	`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ComputeHistoryRow
	for rows.Next() {
		var h domain.ComputeHistoryRow
		var status string
		var provenance []byte
		if err := rows.Scan(&h.ID, &h.RecordID, &status, &h.ManagerName, &h.ModifiedOn, &provenance); err != nil {
			return nil, err
		}
		h.Status = domain.RecordStatus(status)
		_ = json.Unmarshal(provenance, &h.Provenance)
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		outputs, err := s.outputsForHistory(ctx, tx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].OutputIDs = outputs
	}
	return out, nil
}

func (s *Store) outputsForHistory(ctx context.Context, tx *sql.Tx, historyID int64) (map[string]int64, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT output_type, output_id FROM compute_history_outputs WHERE history_id = $1
	`, historyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var outputType string
		var outputID int64
		if err := rows.Scan(&outputType, &outputID); err != nil {
			return nil, err
		}
		out[outputType] = outputID
	}
	return out, rows.Err()
}
