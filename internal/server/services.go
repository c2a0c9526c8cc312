package server

import (
	"context"
	"database/sql"

	"github.com/MolSSI/QCFractal-sub005/internal/domain"
	"github.com/MolSSI/QCFractal-sub005/internal/storage"
)

// submitService inserts a fresh service_queue row pointed at an
// already-created service record. The service starts in StatusWaiting;
// the periodic runner's service_tick is what performs its first iteration
// and transitions it to running (spec.md §4.I/§4.J).
func (s *Server) submitService(ctx context.Context, tx *sql.Tx, recordID int64, computeTag string, priority domain.Priority) error {
	_, err := s.store.CreateServiceQueueEntry(ctx, tx, domain.ServiceQueueEntry{
		ProcedureID: recordID,
		ComputeTag:  computeTag,
		Priority:    priority,
	})
	return err
}

// SubmitTorsiondriveRequest is one requested torsion-drive scan.
type SubmitTorsiondriveRequest struct {
	Owner              string
	ComputeTag         string
	Priority           domain.Priority
	OptSpec            domain.OptimizationSpecification
	InitialMoleculeIDs []int64
	Dihedrals          [][4]int
	GridSpacing        []float64
	DihedralRanges     [][2]float64
}

// SubmitTorsiondrives inserts a batch of torsion-drive service records.
func (s *Server) SubmitTorsiondrives(ctx context.Context, reqs []SubmitTorsiondriveRequest) ([]int64, error) {
	ids := make([]int64, len(reqs))
	err := storage.WithTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		for i, req := range reqs {
			spec := req.OptSpec.Normalize()
			id, err := s.store.CreateTorsiondrive(ctx, tx, domain.TorsiondriveRecord{
				BaseRecord:         domain.BaseRecord{Owner: req.Owner, IsService: true},
				HashIndex:          optimizationHashIndex(spec, firstOrZero(req.InitialMoleculeIDs)),
				OptSpec:            spec,
				InitialMoleculeIDs: req.InitialMoleculeIDs,
				Dihedrals:          req.Dihedrals,
				GridSpacing:        req.GridSpacing,
				DihedralRanges:     req.DihedralRanges,
			})
			if err != nil {
				return err
			}
			if err := s.submitService(ctx, tx, id, req.ComputeTag, req.Priority); err != nil {
				return err
			}
			ids[i] = id
		}
		return nil
	})
	return ids, err
}

// SubmitGridoptimizationRequest is one requested grid optimization.
type SubmitGridoptimizationRequest struct {
	Owner              string
	ComputeTag         string
	Priority           domain.Priority
	OptSpec            domain.OptimizationSpecification
	StartingMoleculeID int64
	ScanDimensions     []domain.ScanDimension
	Preoptimization    bool
}

// SubmitGridoptimizations inserts a batch of grid-optimization service
// records.
func (s *Server) SubmitGridoptimizations(ctx context.Context, reqs []SubmitGridoptimizationRequest) ([]int64, error) {
	ids := make([]int64, len(reqs))
	err := storage.WithTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		for i, req := range reqs {
			spec := req.OptSpec.Normalize()
			id, err := s.store.CreateGridoptimization(ctx, tx, domain.GridoptimizationRecord{
				BaseRecord:         domain.BaseRecord{Owner: req.Owner, IsService: true},
				HashIndex:          optimizationHashIndex(spec, req.StartingMoleculeID),
				OptSpec:            spec,
				StartingMoleculeID: req.StartingMoleculeID,
				ScanDimensions:     req.ScanDimensions,
				Preoptimization:    req.Preoptimization,
			})
			if err != nil {
				return err
			}
			if err := s.submitService(ctx, tx, id, req.ComputeTag, req.Priority); err != nil {
				return err
			}
			ids[i] = id
		}
		return nil
	})
	return ids, err
}

// SubmitReactionRequest is one requested reaction energy.
type SubmitReactionRequest struct {
	Owner      string
	ComputeTag string
	Priority   domain.Priority
	QCSpec     *domain.QCSpecification
	OptSpec    *domain.OptimizationSpecification
	Components []domain.ReactionComponent
}

// SubmitReactions inserts a batch of reaction service records.
func (s *Server) SubmitReactions(ctx context.Context, reqs []SubmitReactionRequest) ([]int64, error) {
	ids := make([]int64, len(reqs))
	err := storage.WithTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		for i, req := range reqs {
			id, err := s.store.CreateReaction(ctx, tx, domain.ReactionRecord{
				BaseRecord: domain.BaseRecord{Owner: req.Owner, IsService: true},
				QCSpec:     req.QCSpec,
				OptSpec:    req.OptSpec,
				Components: req.Components,
			})
			if err != nil {
				return err
			}
			if err := s.submitService(ctx, tx, id, req.ComputeTag, req.Priority); err != nil {
				return err
			}
			ids[i] = id
		}
		return nil
	})
	return ids, err
}

// SubmitManybodyRequest is one requested many-body expansion.
type SubmitManybodyRequest struct {
	Owner              string
	ComputeTag         string
	Priority           domain.Priority
	QCSpec             domain.QCSpecification
	StartingMoleculeID int64
	MaxNBody           int
	BSSECorrection     domain.BSSECorrection
	Clusters           []domain.ManybodyCluster
}

// SubmitManybodies inserts a batch of many-body service records.
func (s *Server) SubmitManybodies(ctx context.Context, reqs []SubmitManybodyRequest) ([]int64, error) {
	ids := make([]int64, len(reqs))
	err := storage.WithTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		for i, req := range reqs {
			spec := req.QCSpec.Normalize()
			id, err := s.store.CreateManybody(ctx, tx, domain.ManybodyRecord{
				BaseRecord:         domain.BaseRecord{Owner: req.Owner, IsService: true},
				QCSpec:             spec,
				StartingMoleculeID: req.StartingMoleculeID,
				MaxNBody:           req.MaxNBody,
				BSSECorrection:     req.BSSECorrection,
				Clusters:           req.Clusters,
			})
			if err != nil {
				return err
			}
			if err := s.submitService(ctx, tx, id, req.ComputeTag, req.Priority); err != nil {
				return err
			}
			ids[i] = id
		}
		return nil
	})
	return ids, err
}

// SubmitNEBRequest is one requested nudged-elastic-band pathway.
type SubmitNEBRequest struct {
	Owner            string
	ComputeTag       string
	Priority         domain.Priority
	SPSpec           domain.QCSpecification
	OptSpec          *domain.OptimizationSpecification
	OptimizeTS       bool
	ChainMoleculeIDs []int64
}

// SubmitNEBs inserts a batch of NEB service records.
func (s *Server) SubmitNEBs(ctx context.Context, reqs []SubmitNEBRequest) ([]int64, error) {
	ids := make([]int64, len(reqs))
	err := storage.WithTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		for i, req := range reqs {
			spSpec := req.SPSpec.Normalize()
			var optSpec *domain.OptimizationSpecification
			if req.OptSpec != nil {
				normalized := req.OptSpec.Normalize()
				optSpec = &normalized
			}
			id, err := s.store.CreateNEB(ctx, tx, domain.NEBRecord{
				BaseRecord:       domain.BaseRecord{Owner: req.Owner, IsService: true},
				SPSpec:           spSpec,
				OptSpec:          optSpec,
				OptimizeTS:       req.OptimizeTS,
				ChainMoleculeIDs: req.ChainMoleculeIDs,
			})
			if err != nil {
				return err
			}
			if err := s.submitService(ctx, tx, id, req.ComputeTag, req.Priority); err != nil {
				return err
			}
			ids[i] = id
		}
		return nil
	})
	return ids, err
}

func firstOrZero(ids []int64) int64 {
	if len(ids) == 0 {
		return 0
	}
	return ids[0]
}
