// Package flows manages flow definitions and their immutable versioned
// snapshots.
package flows

import (
	"context"
	"errors"
	"strings"

	apperr "github.com/flowforge/platform/infrastructure/errors"
	"github.com/flowforge/platform/internal/app/domain/execution"
	"github.com/flowforge/platform/internal/app/domain/flow"
	"github.com/flowforge/platform/internal/app/services/engine"
	"github.com/flowforge/platform/internal/app/storage"
	"github.com/flowforge/platform/pkg/logger"
)

// Starter launches executions on deploy. Implemented by the engine.
type Starter interface {
	StartExecution(ctx context.Context, orgID, flowID string, trigger execution.TriggerType, triggerData map[string]any) (engine.StartResult, error)
}

// Service owns flow CRUD and versioning.
type Service struct {
	store   storage.FlowStore
	starter Starter
	log     *logger.Logger
}

// New creates the service. starter may be nil; status activation then skips
// the deploy execution.
func New(store storage.FlowStore, starter Starter, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("flows")
	}
	return &Service{store: store, starter: starter, log: log}
}

// Create registers a new draft flow.
func (s *Service) Create(ctx context.Context, orgID, createdBy, name string) (flow.Flow, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return flow.Flow{}, apperr.Validation("flow name is required")
	}
	fl, err := s.store.CreateFlow(ctx, flow.Flow{
		OrgID:     orgID,
		Name:      name,
		Status:    flow.StatusDraft,
		CreatedBy: createdBy,
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return flow.Flow{}, apperr.Conflict("a flow with this name already exists")
		}
		return flow.Flow{}, apperr.Internal(err)
	}
	return fl, nil
}

// Get returns an org-scoped flow. Soft-deleted flows are invisible.
func (s *Service) Get(ctx context.Context, orgID, id string) (flow.Flow, error) {
	fl, err := s.store.GetFlow(ctx, id)
	if err != nil || fl.IsDeleted || fl.OrgID != orgID {
		return flow.Flow{}, apperr.NotFound("flow")
	}
	return fl, nil
}

// List returns the org's live flows.
func (s *Service) List(ctx context.Context, orgID string) ([]flow.Flow, error) {
	return s.store.ListFlows(ctx, orgID)
}

// Delete soft-deletes a flow; executions and versions remain for audit.
func (s *Service) Delete(ctx context.Context, orgID, id string) error {
	if _, err := s.Get(ctx, orgID, id); err != nil {
		return err
	}
	if err := s.store.SoftDeleteFlow(ctx, id); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// SaveVersion validates the graph and appends the next version.
func (s *Service) SaveVersion(ctx context.Context, orgID, flowID string, g flow.Graph, variables map[string]any) (flow.Version, error) {
	if _, err := s.Get(ctx, orgID, flowID); err != nil {
		return flow.Version{}, err
	}
	if err := g.Validate(); err != nil {
		return flow.Version{}, apperr.InvalidGraph(err.Error())
	}
	ver, err := s.store.CreateVersion(ctx, flow.Version{
		FlowID:    flowID,
		Graph:     g,
		Variables: variables,
	})
	if err != nil {
		return flow.Version{}, apperr.Internal(err)
	}
	return ver, nil
}

// ListVersions returns every version in ascending order.
func (s *Service) ListVersions(ctx context.Context, orgID, flowID string) ([]flow.Version, error) {
	if _, err := s.Get(ctx, orgID, flowID); err != nil {
		return nil, err
	}
	return s.store.ListVersions(ctx, flowID)
}

// GetVersion returns one version.
func (s *Service) GetVersion(ctx context.Context, orgID, flowID string, version int) (flow.Version, error) {
	if _, err := s.Get(ctx, orgID, flowID); err != nil {
		return flow.Version{}, err
	}
	ver, err := s.store.GetVersion(ctx, flowID, version)
	if err != nil {
		return flow.Version{}, apperr.NotFound("flow version")
	}
	return ver, nil
}

// SetStatus transitions the flow's status. Activation starts a deploy
// execution of the latest version.
func (s *Service) SetStatus(ctx context.Context, orgID, flowID string, status flow.Status) (flow.Flow, *engine.StartResult, error) {
	if !flow.ValidStatus(status) {
		return flow.Flow{}, nil, apperr.Validation("status must be draft, active, or inactive")
	}
	fl, err := s.Get(ctx, orgID, flowID)
	if err != nil {
		return flow.Flow{}, nil, err
	}

	if status == flow.StatusActive {
		if _, err := s.store.GetLatestVersion(ctx, flowID); err != nil {
			return flow.Flow{}, nil, apperr.Validation("flow has no versions to activate")
		}
	}

	fl.Status = status
	updated, err := s.store.UpdateFlow(ctx, fl)
	if err != nil {
		return flow.Flow{}, nil, apperr.Internal(err)
	}

	var started *engine.StartResult
	if status == flow.StatusActive && s.starter != nil {
		result, err := s.starter.StartExecution(ctx, orgID, flowID, execution.TriggerDeploy, map[string]any{
			"reason": "deploy",
		})
		if err != nil {
			s.log.WithError(err).WithField("flow_id", flowID).Warn("deploy execution failed to start")
		} else {
			started = &result
		}
	}
	return updated, started, nil
}
