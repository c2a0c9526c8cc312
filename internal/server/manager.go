package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/MolSSI/QCFractal-sub005/internal/apierrors"
	"github.com/MolSSI/QCFractal-sub005/internal/domain"
)

// ManagerName builds a manager's fullname from its name_data triple
// (spec.md §6's `{fullname}` path parameter), the standard
// cluster-hostname-uuid join.
func ManagerName(cluster, hostname, uuid string) string {
	return fmt.Sprintf("%s-%s-%s", cluster, hostname, uuid)
}

// ActivateManagerRequest is the body of POST /compute/v1/managers.
type ActivateManagerRequest struct {
	Cluster        string
	Hostname       string
	UUID           string
	ManagerVersion string
	Username       string
	Programs       map[string]string
	ComputeTags    []string
}

// ActivateManager registers a new live manager, lower-casing tags and
// program names and enforcing the non-empty minimums spec.md §6 requires.
func (s *Server) ActivateManager(ctx context.Context, req ActivateManagerRequest) (domain.ComputeManager, error) {
	tags := lowerNonEmpty(req.ComputeTags)
	if len(tags) == 0 {
		return domain.ComputeManager{}, apierrors.UserReportable("compute_tags must contain at least one non-empty tag")
	}
	programs := lowerProgramMap(req.Programs)
	if len(programs) == 0 {
		return domain.ComputeManager{}, apierrors.UserReportable("programs must contain at least one non-empty program name")
	}

	m := domain.ComputeManager{
		Name:     ManagerName(req.Cluster, req.Hostname, req.UUID),
		Cluster:  req.Cluster,
		Hostname: req.Hostname,
		Username: req.Username,
		UUID:     req.UUID,
		Tags:     tags,
		Programs: programs,
	}
	return s.managers.Activate(ctx, m)
}

// UpdateManagerRequest is the body of PATCH /compute/v1/managers/{fullname}.
type UpdateManagerRequest struct {
	Status        string
	ActiveTasks   int
	ActiveCores   int
	ActiveMemory  float64
	TotalCPUHours float64
}

// UpdateManager applies a heartbeat, or deactivates the manager (and
// releases its outstanding tasks) when Status is "inactive".
func (s *Server) UpdateManager(ctx context.Context, fullname string, req UpdateManagerRequest) (int, error) {
	if strings.EqualFold(req.Status, string(domain.ManagerInactive)) {
		return s.managers.Deactivate(ctx, fullname)
	}
	stats := domain.HeartbeatStats{
		ActiveTasks:   req.ActiveTasks,
		ActiveCores:   req.ActiveCores,
		ActiveMemory:  req.ActiveMemory,
		TotalCPUHours: req.TotalCPUHours,
	}
	return 0, s.managers.Heartbeat(ctx, fullname, stats, 0, 0, 0, 0)
}

func lowerNonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func lowerProgramMap(in map[string]string) domain.RequiredPrograms {
	out := make(domain.RequiredPrograms, len(in))
	for name, version := range in {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		out[name] = strings.ToLower(strings.TrimSpace(version))
	}
	return out
}
