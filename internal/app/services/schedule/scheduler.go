// Package schedule starts executions for active flows whose trigger node
// carries a cron expression.
package schedule

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowforge/platform/internal/app/domain/execution"
	"github.com/flowforge/platform/internal/app/domain/flow"
	"github.com/flowforge/platform/internal/app/services/engine"
	"github.com/flowforge/platform/internal/app/storage"
	"github.com/flowforge/platform/pkg/logger"
)

// Starter launches scheduled executions. Implemented by the engine.
type Starter interface {
	StartExecution(ctx context.Context, orgID, flowID string, trigger execution.TriggerType, triggerData map[string]any) (engine.StartResult, error)
}

// refreshInterval controls how often registered entries are rebuilt from the
// store, picking up flows activated or deactivated since the last pass.
const refreshInterval = time.Minute

// Scheduler owns the cron runner.
type Scheduler struct {
	flows   storage.FlowStore
	orgs    orgLister
	starter Starter
	log     *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	specs   map[string]string
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// orgLister enumerates the orgs whose flows are scanned. The accounts side of
// the store satisfies it.
type orgLister interface {
	ListOrganizationIDs(ctx context.Context) ([]string, error)
}

// New creates the scheduler.
func New(flows storage.FlowStore, orgs orgLister, starter Starter, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("schedule")
	}
	return &Scheduler{
		flows:   flows,
		orgs:    orgs,
		starter: starter,
		log:     log,
		entries: make(map[string]cron.EntryID),
		specs:   make(map[string]string),
	}
}

func (s *Scheduler) Name() string { return "flow-scheduler" }

// Start launches the cron runner and the refresh loop.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.cron = cron.New()
	s.cron.Start()
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		s.Refresh(runCtx)
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.Refresh(runCtx)
			}
		}
	}()

	s.log.Info("flow scheduler started")
	return nil
}

// Stop halts the runner, waiting for an in-flight trigger to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	runner := s.cron
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	stopCtx := runner.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("flow scheduler stopped")
	return nil
}

// Refresh rebuilds cron entries from the store: active flows whose latest
// version has a trigger node with config.schedule gain an entry; everything
// else loses theirs.
func (s *Scheduler) Refresh(ctx context.Context) {
	orgIDs, err := s.orgs.ListOrganizationIDs(ctx)
	if err != nil {
		s.log.WithError(err).Warn("scheduler refresh: list orgs")
		return
	}

	wanted := make(map[string]scheduledFlow)
	for _, orgID := range orgIDs {
		flws, err := s.flows.ListFlows(ctx, orgID)
		if err != nil {
			s.log.WithError(err).WithField("org_id", orgID).Warn("scheduler refresh: list flows")
			continue
		}
		for _, fl := range flws {
			if fl.Status != flow.StatusActive {
				continue
			}
			ver, err := s.flows.GetLatestVersion(ctx, fl.ID)
			if err != nil {
				continue
			}
			if spec := scheduleSpec(ver.Graph); spec != "" {
				wanted[fl.ID] = scheduledFlow{orgID: orgID, spec: spec}
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}

	for flowID, entryID := range s.entries {
		want, ok := wanted[flowID]
		if ok && want.spec == s.specs[flowID] {
			continue
		}
		s.cron.Remove(entryID)
		delete(s.entries, flowID)
		delete(s.specs, flowID)
	}

	for flowID, want := range wanted {
		if _, ok := s.entries[flowID]; ok {
			continue
		}
		flowID := flowID
		orgID := want.orgID
		entryID, err := s.cron.AddFunc(want.spec, func() {
			s.fire(orgID, flowID)
		})
		if err != nil {
			s.log.WithField("flow_id", flowID).WithField("spec", want.spec).
				WithError(err).Warn("invalid schedule expression")
			continue
		}
		s.entries[flowID] = entryID
		s.specs[flowID] = want.spec
	}
}

type scheduledFlow struct {
	orgID string
	spec  string
}

func (s *Scheduler) fire(orgID, flowID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := s.starter.StartExecution(ctx, orgID, flowID, execution.TriggerSchedule, map[string]any{
		"scheduled_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.log.WithError(err).WithField("flow_id", flowID).Warn("scheduled execution failed to start")
	}
}

// scheduleSpec pulls the cron expression from the graph's trigger node.
func scheduleSpec(g flow.Graph) string {
	for _, n := range g.Nodes {
		if n.Type != flow.NodeTrigger || n.Config == nil {
			continue
		}
		if spec, ok := n.Config["schedule"].(string); ok {
			return strings.TrimSpace(spec)
		}
	}
	return ""
}
