package server

import (
	"context"

	"github.com/google/uuid"

	"github.com/MolSSI/QCFractal-sub005/internal/apierrors"
	"github.com/MolSSI/QCFractal-sub005/internal/domain"
	"github.com/MolSSI/QCFractal-sub005/internal/returnengine"
)

// ClaimRequest is the body of POST /compute/v1/tasks/claim.
type ClaimRequest struct {
	Fullname string
	Limit    int
}

// Claim runs the claim critical section for one manager. Each call's log
// lines carry a fresh correlation id; Return mints its own, so the id does
// not link a claim to its later return.
func (s *Server) Claim(ctx context.Context, req ClaimRequest) ([]domain.RecordTask, error) {
	if limit := s.limits.ManagerTasksClaim; limit > 0 && req.Limit > limit {
		return nil, apierrors.LimitExceeded("manager_tasks_claim", limit, req.Limit)
	}
	requestID := uuid.NewString()
	tasks, err := s.claims.Claim(ctx, req.Fullname, req.Limit)
	log := s.log.WithField("request_id", requestID).WithField("manager", req.Fullname)
	if err != nil {
		log.WithError(err).Warn("claim failed")
		return nil, err
	}
	log.WithField("claimed", len(tasks)).Debug("claim completed")
	return tasks, nil
}

// ReturnRequest is the body of POST /compute/v1/tasks/return, already
// decompressed/decoded from results_compressed into plain TaskResult values.
type ReturnRequest struct {
	Fullname string
	Results  map[int64]domain.TaskResult
}

// Return runs update_completed for one manager's batch of task results.
func (s *Server) Return(ctx context.Context, req ReturnRequest) (returnengine.Outcome, error) {
	requestID := uuid.NewString()
	outcome, err := s.returns.UpdateCompleted(ctx, req.Fullname, req.Results)
	log := s.log.WithField("request_id", requestID).WithField("manager", req.Fullname)
	if err != nil {
		log.WithError(err).Warn("return failed")
		return outcome, err
	}
	log.WithField("accepted", len(outcome.AcceptedIDs)).WithField("rejected", len(outcome.RejectedInfo)).Debug("return completed")
	return outcome, nil
}
