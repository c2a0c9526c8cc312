package server

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/MolSSI/QCFractal-sub005/internal/apierrors"
	"github.com/MolSSI/QCFractal-sub005/internal/domain"
	"github.com/MolSSI/QCFractal-sub005/internal/storage"
	"github.com/MolSSI/QCFractal-sub005/internal/taskqueue"
)

// optimizationHashIndex mirrors the canonicalize-then-hash dedup key every
// specialized-record table keys on (spec.md §3 invariant 4).
func optimizationHashIndex(spec domain.OptimizationSpecification, initialMoleculeID int64) string {
	h := sha256.New()
	for _, p := range []interface{}{spec.Program, spec.QCSpec.Program, spec.QCSpec.Driver, spec.QCSpec.Method, spec.QCSpec.Basis, spec.QCSpec.KeywordsID, initialMoleculeID} {
		fmt.Fprintf(h, "%v|", p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SubmitSinglepointRequest is one requested singlepoint calculation.
type SubmitSinglepointRequest struct {
	Owner      string
	ComputeTag string
	Priority   domain.Priority
	Spec       domain.QCSpecification
	MoleculeID int64
}

// SubmitSinglepointResult reports whether a submission deduplicated against
// an existing record.
type SubmitSinglepointResult struct {
	RecordID int64
	Existing bool
}

// SubmitSinglepoints inserts or dedups a batch of singlepoint records,
// creating a task_queue row for each newly inserted one in the same
// transaction (spec.md §4.E).
func (s *Server) SubmitSinglepoints(ctx context.Context, reqs []SubmitSinglepointRequest) ([]SubmitSinglepointResult, error) {
	if limit := s.limits.RecordSubmit; limit > 0 && len(reqs) > limit {
		return nil, apierrors.LimitExceeded("record_submit", limit, len(reqs))
	}
	out := make([]SubmitSinglepointResult, len(reqs))
	err := storage.WithTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		for i, req := range reqs {
			spec := req.Spec.Normalize()
			existingID, found, err := s.store.FindSinglepoint(ctx, tx, spec, req.MoleculeID)
			if err != nil {
				return err
			}
			if found {
				out[i] = SubmitSinglepointResult{RecordID: existingID, Existing: true}
				continue
			}

			id, err := s.store.CreateSinglepoint(ctx, tx, domain.SinglepointRecord{
				BaseRecord: domain.BaseRecord{Owner: req.Owner},
				Spec:       spec,
				MoleculeID: req.MoleculeID,
			})
			if err != nil {
				return err
			}
			programs := domain.RequiredPrograms{spec.Program: ""}
			if _, err := taskqueue.CreateSinglepointTask(ctx, tx, s.store, id, req.ComputeTag, programs, req.Priority); err != nil {
				return err
			}
			out[i] = SubmitSinglepointResult{RecordID: id, Existing: false}
		}
		return nil
	})
	return out, err
}

// SubmitOptimizationRequest is one requested geometry optimization.
type SubmitOptimizationRequest struct {
	Owner             string
	ComputeTag        string
	Priority          domain.Priority
	Spec              domain.OptimizationSpecification
	InitialMoleculeID int64
}

// SubmitOptimizations inserts or dedups a batch of optimization records,
// creating a task_queue row for each newly inserted one (spec.md §4.E).
func (s *Server) SubmitOptimizations(ctx context.Context, reqs []SubmitOptimizationRequest) ([]SubmitSinglepointResult, error) {
	if limit := s.limits.RecordSubmit; limit > 0 && len(reqs) > limit {
		return nil, apierrors.LimitExceeded("record_submit", limit, len(reqs))
	}
	out := make([]SubmitSinglepointResult, len(reqs))
	err := storage.WithTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		for i, req := range reqs {
			spec := req.Spec.Normalize()
			hash := optimizationHashIndex(spec, req.InitialMoleculeID)

			existingID, found, err := s.store.FindOptimization(ctx, tx, hash)
			if err != nil {
				return err
			}
			if found {
				out[i] = SubmitSinglepointResult{RecordID: existingID, Existing: true}
				continue
			}

			id, err := s.store.CreateOptimization(ctx, tx, domain.OptimizationRecord{
				BaseRecord:        domain.BaseRecord{Owner: req.Owner},
				HashIndex:         hash,
				Spec:              spec,
				InitialMoleculeID: req.InitialMoleculeID,
			})
			if err != nil {
				return err
			}
			programs := domain.RequiredPrograms{spec.Program: "", spec.QCSpec.Program: ""}
			if _, err := taskqueue.CreateProcedureTask(ctx, tx, s.store, id, req.ComputeTag, programs, req.Priority); err != nil {
				return err
			}
			out[i] = SubmitSinglepointResult{RecordID: id, Existing: false}
		}
		return nil
	})
	return out, err
}
