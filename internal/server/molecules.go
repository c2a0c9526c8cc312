package server

import (
	"context"
	"database/sql"

	"github.com/MolSSI/QCFractal-sub005/internal/apierrors"
	"github.com/MolSSI/QCFractal-sub005/internal/domain"
	"github.com/MolSSI/QCFractal-sub005/internal/storage"
)

// SubmitMolecules deduplicates and inserts a batch of molecules, returning
// one id per input in input order (spec.md §4.A insert_general contract).
func (s *Server) SubmitMolecules(ctx context.Context, mols []domain.Molecule) ([]int64, storage.InsertMetadata, error) {
	if limit := s.limits.MoleculeInsert; limit > 0 && len(mols) > limit {
		return nil, storage.InsertMetadata{}, apierrors.LimitExceeded("molecule_insert", limit, len(mols))
	}
	var ids []int64
	var meta storage.InsertMetadata
	err := storage.WithTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		ids, meta, err = s.store.InsertMolecules(ctx, tx, mols, storage.DefaultBatchSize)
		return err
	})
	return ids, meta, err
}

// GetMolecules loads molecules by id.
func (s *Server) GetMolecules(ctx context.Context, ids []int64) ([]domain.Molecule, error) {
	var mols []domain.Molecule
	err := storage.WithReadTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		mols, err = s.store.GetMolecules(ctx, tx, ids, false)
		return err
	})
	return mols, err
}

// SubmitKeywords deduplicates and inserts a batch of keyword sets.
func (s *Server) SubmitKeywords(ctx context.Context, sets []domain.KeywordSet) ([]int64, storage.InsertMetadata, error) {
	var ids []int64
	var meta storage.InsertMetadata
	err := storage.WithTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		ids, meta, err = s.store.InsertKeywords(ctx, tx, sets, storage.DefaultBatchSize)
		return err
	})
	return ids, meta, err
}
