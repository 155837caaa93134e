// Package engine interprets versioned flow graphs: it computes an execution
// plan, runs nodes in dependency order, persists steps and logs, and surfaces
// results to the org's event stream.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	apperr "github.com/flowforge/platform/infrastructure/errors"
	"github.com/flowforge/platform/infrastructure/httputil"
	"github.com/flowforge/platform/infrastructure/metrics"
	"github.com/flowforge/platform/internal/app/domain/execution"
	"github.com/flowforge/platform/internal/app/domain/flow"
	"github.com/flowforge/platform/internal/app/domain/notification"
	"github.com/flowforge/platform/internal/app/mailer"
	"github.com/flowforge/platform/internal/app/netguard"
	"github.com/flowforge/platform/internal/app/providers"
	"github.com/flowforge/platform/internal/app/services/notifications"
	"github.com/flowforge/platform/internal/app/storage"
	"github.com/flowforge/platform/internal/app/vault"
	"github.com/flowforge/platform/pkg/logger"
)

// RecentLimit caps org-wide recent execution reads.
const RecentLimit = 100

// DefaultLogLimit bounds log reads when the caller does not.
const DefaultLogLimit = 200

// Service is the flow execution engine.
type Service struct {
	flows       storage.FlowStore
	execs       storage.ExecutionStore
	connections storage.IntegrationStore
	vault       *vault.Vault
	notifier    *notifications.Service
	mail        mailer.Sender
	mtn         *providers.MTN
	flutterwave *providers.Flutterwave
	scripts     *ScriptRunner
	httpClient  *http.Client
	validateURL func(string) (*url.URL, error)
	log         *logger.Logger
	grace       time.Duration

	mu       sync.Mutex
	handles  map[string]*handle
	draining bool
	wg       sync.WaitGroup
}

// handle tracks one in-flight execution for cooperative cancellation.
type handle struct {
	cancelled chan struct{}
	once      sync.Once
}

func (h *handle) signal() {
	h.once.Do(func() { close(h.cancelled) })
}

func (h *handle) isCancelled() bool {
	select {
	case <-h.cancelled:
		return true
	default:
		return false
	}
}

// New creates the engine.
func New(flows storage.FlowStore, execs storage.ExecutionStore, connections storage.IntegrationStore, vlt *vault.Vault, notifier *notifications.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("engine")
	}
	if vlt == nil {
		vlt = vault.Disabled()
	}
	return &Service{
		flows:       flows,
		execs:       execs,
		connections: connections,
		vault:       vlt,
		notifier:    notifier,
		scripts:     NewScriptRunner(),
		httpClient:  httputil.NewGuardedClient(HTTPActionTimeout, netguard.ResolveAndCheck),
		validateURL: netguard.ValidateURL,
		log:         log,
		grace:       30 * time.Second,
		handles:     make(map[string]*handle),
	}
}

// WithMailer wires the sender used by email action nodes.
func (s *Service) WithMailer(mail mailer.Sender) {
	s.mail = mail
}

// WithProviders wires the payment adapters used by dotted action nodes.
func (s *Service) WithProviders(mtn *providers.MTN, flutterwave *providers.Flutterwave) {
	s.mtn = mtn
	s.flutterwave = flutterwave
}

// WithHTTPClient overrides the action HTTP client. Tests use this.
func (s *Service) WithHTTPClient(client *http.Client) {
	if client != nil {
		s.httpClient = client
	}
}

// WithURLValidator overrides the outbound target guard. Tests use this to
// point actions at loopback fixtures.
func (s *Service) WithURLValidator(validate func(string) (*url.URL, error)) {
	if validate != nil {
		s.validateURL = validate
	}
}

// WithShutdownGrace overrides the drain window applied on Stop.
func (s *Service) WithShutdownGrace(grace time.Duration) {
	if grace > 0 {
		s.grace = grace
	}
}

// StartResult is the immediate response to StartExecution.
type StartResult struct {
	ExecutionID string           `json:"execution_id"`
	FlowName    string           `json:"flow_name"`
	Version     int              `json:"version"`
	Status      execution.Status `json:"status"`
}

// StartExecution writes a running FlowExecution for the flow's latest version
// and launches interpretation asynchronously. It returns as soon as the row
// is committed.
func (s *Service) StartExecution(ctx context.Context, orgID, flowID string, trigger execution.TriggerType, triggerData map[string]any) (StartResult, error) {
	fl, err := s.scopedFlow(ctx, orgID, flowID)
	if err != nil {
		return StartResult{}, err
	}

	ver, err := s.flows.GetLatestVersion(ctx, fl.ID)
	if err != nil {
		return StartResult{}, apperr.NotFound("flow version")
	}

	exec, err := s.execs.CreateExecution(ctx, execution.Execution{
		FlowID:      fl.ID,
		FlowVersion: ver.Version,
		Status:      execution.StatusRunning,
		TriggerType: trigger,
		TriggerData: triggerData,
		StartedAt:   time.Now().UTC(),
	})
	if err != nil {
		return StartResult{}, apperr.Internal(err)
	}

	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		s.finalize(context.Background(), exec.ID, execution.StatusFailed, "shutdown")
		return StartResult{}, apperr.UpstreamUnavailable(fmt.Errorf("engine is draining"))
	}
	h := &handle{cancelled: make(chan struct{})}
	s.handles[exec.ID] = h
	s.wg.Add(1)
	s.mu.Unlock()

	metrics.ExecutionsStarted.WithLabelValues(string(trigger)).Inc()

	go s.run(exec, fl, ver, h)

	return StartResult{
		ExecutionID: exec.ID,
		FlowName:    fl.Name,
		Version:     ver.Version,
		Status:      execution.StatusRunning,
	}, nil
}

// run drives one execution to a terminal state. It owns the node_outputs map;
// nothing else reads it.
func (s *Service) run(exec execution.Execution, fl flow.Flow, ver flow.Version, h *handle) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.handles, exec.ID)
		s.mu.Unlock()
	}()

	ctx := context.Background()
	start := time.Now()

	plan, err := BuildPlan(ver.Graph)
	if err != nil {
		s.appendLog(ctx, exec.ID, "", execution.LogError, err.Error(), nil)
		s.finalize(ctx, exec.ID, execution.StatusFailed, "invalid graph: cycle or disconnected node")
		s.notify(ctx, fl, notification.TypeError, "Flow execution failed",
			fmt.Sprintf("%s: invalid graph (cycle or disconnected node)", fl.Name), exec.ID)
		return
	}

	nc := nodeContext{orgID: fl.OrgID, userID: fl.CreatedBy, triggerData: exec.TriggerData}
	outputs := make(map[string]map[string]any, len(plan))

	for _, nodeID := range plan {
		if h.isCancelled() {
			s.appendLog(ctx, exec.ID, "", execution.LogInfo, "Execution cancelled; halting plan", nil)
			s.finalize(ctx, exec.ID, execution.StatusCancelled, "")
			return
		}

		node, _ := ver.Graph.NodeByID(nodeID)
		if failed := s.runNode(ctx, nc, exec, fl, node, ver.Graph, outputs); failed {
			return
		}
	}

	s.appendLog(ctx, exec.ID, "", execution.LogInfo, "Flow execution completed", nil)
	s.finalize(ctx, exec.ID, execution.StatusCompleted, "")
	metrics.ExecutionDuration.Observe(time.Since(start).Seconds())
	s.notify(ctx, fl, notification.TypeInfo, "Flow execution completed",
		fmt.Sprintf("%s completed in %s", fl.Name, time.Since(start).Round(time.Millisecond)), exec.ID)
}

// runNode executes a single node through its lifecycle. Returns true when the
// node failed and the plan must halt.
func (s *Service) runNode(ctx context.Context, nc nodeContext, exec execution.Execution, fl flow.Flow, node flow.Node, g flow.Graph, outputs map[string]map[string]any) bool {
	now := time.Now().UTC()
	step, err := s.execs.CreateStep(ctx, execution.Step{
		ExecutionID: exec.ID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		NodeKind:    node.Kind,
		Status:      execution.StepRunning,
		StartedAt:   &now,
	})
	if err != nil {
		s.log.WithError(err).WithField("execution_id", exec.ID).Error("create step failed")
		s.finalize(ctx, exec.ID, execution.StatusFailed, fmt.Sprintf("persist step %s: %v", node.ID, err))
		return true
	}

	s.appendLog(ctx, exec.ID, step.ID, execution.LogInfo, fmt.Sprintf("Executing node: %s", node.ID),
		map[string]any{"node_type": node.Type})

	if !knownNodeType(node) {
		s.appendLog(ctx, exec.ID, step.ID, execution.LogWarn,
			fmt.Sprintf("Unknown node type %q; treating as action", node.Type), nil)
	}

	inputs := make(map[string]any)
	for _, pred := range g.Predecessors(node.ID) {
		if out, ok := outputs[pred]; ok {
			inputs[pred] = out
		}
	}

	output, nodeErr := s.executeNode(ctx, nc, node, inputs)
	completed := time.Now().UTC()
	elapsed := completed.Sub(now).Milliseconds()

	if nodeErr != nil {
		metrics.NodeRuns.WithLabelValues(node.Type, "failed").Inc()
		step.Status = execution.StepFailed
		step.CompletedAt = &completed
		step.InputData = inputs
		step.ErrorMessage = nodeErr.Error()
		step.DurationMS = &elapsed
		if _, err := s.execs.UpdateStep(ctx, step); err != nil {
			s.log.WithError(err).WithField("step_id", step.ID).Error("update failed step")
		}
		s.appendLog(ctx, exec.ID, step.ID, execution.LogError,
			fmt.Sprintf("Node %s failed: %v", node.ID, nodeErr),
			map[string]any{"node_type": node.Type})
		s.finalize(ctx, exec.ID, execution.StatusFailed, nodeErr.Error())
		s.notify(ctx, fl, notification.TypeError, "Flow execution failed",
			fmt.Sprintf("%s failed at node %s: %v", fl.Name, node.ID, nodeErr), exec.ID)
		return true
	}

	metrics.NodeRuns.WithLabelValues(node.Type, "completed").Inc()
	outputs[node.ID] = output

	step.Status = execution.StepCompleted
	step.CompletedAt = &completed
	step.InputData = inputs
	step.OutputData = output
	step.DurationMS = &elapsed
	if _, err := s.execs.UpdateStep(ctx, step); err != nil {
		s.log.WithError(err).WithField("step_id", step.ID).Error("update completed step")
	}
	return false
}

func knownNodeType(node flow.Node) bool {
	switch node.Type {
	case flow.NodeStart, flow.NodeEnd, flow.NodeTrigger, flow.NodeCondition, flow.NodeTransform:
		return true
	}
	if strings.Contains(node.Type, ".") {
		return true
	}
	switch node.Kind {
	case flow.KindHTTP, flow.KindEmail, flow.KindDatabase, flow.KindSalesforce, flow.KindScript:
		return true
	}
	return false
}

// finalize moves the execution to a terminal state. Terminal states are
// sticky: if another writer (cancel, shutdown) got there first, the update is
// skipped.
func (s *Service) finalize(ctx context.Context, execID string, status execution.Status, errMsg string) {
	current, err := s.execs.GetExecution(ctx, execID)
	if err != nil {
		s.log.WithError(err).WithField("execution_id", execID).Error("load execution for finalize")
		return
	}
	if current.Status.Terminal() {
		return
	}
	now := time.Now().UTC()
	elapsed := now.Sub(current.StartedAt).Milliseconds()
	current.Status = status
	current.CompletedAt = &now
	current.ErrorMessage = errMsg
	current.DurationMS = &elapsed
	if _, err := s.execs.UpdateExecution(ctx, current); err != nil {
		s.log.WithError(err).WithField("execution_id", execID).Error("finalize execution")
		return
	}
	metrics.ExecutionsFinished.WithLabelValues(string(status)).Inc()
}

func (s *Service) appendLog(ctx context.Context, execID, stepID string, level execution.LogLevel, message string, metadata map[string]any) {
	_, err := s.execs.AppendLog(ctx, execution.Log{
		ExecutionID: execID,
		StepID:      stepID,
		Level:       level,
		Message:     message,
		Metadata:    metadata,
	})
	if err != nil {
		s.log.WithError(err).WithField("execution_id", execID).Warn("append execution log failed")
	}
}

func (s *Service) notify(ctx context.Context, fl flow.Flow, typ notification.Type, title, message, relatedID string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, fl.OrgID, typ, title, message, relatedID)
}

// --- reads ------------------------------------------------------------------

func (s *Service) scopedFlow(ctx context.Context, orgID, flowID string) (flow.Flow, error) {
	fl, err := s.flows.GetFlow(ctx, flowID)
	if err != nil || fl.IsDeleted || (orgID != "" && fl.OrgID != orgID) {
		return flow.Flow{}, apperr.NotFound("flow")
	}
	return fl, nil
}

func (s *Service) scopedExecution(ctx context.Context, orgID, execID string) (execution.Execution, flow.Flow, error) {
	exec, err := s.execs.GetExecution(ctx, execID)
	if err != nil {
		return execution.Execution{}, flow.Flow{}, apperr.NotFound("execution")
	}
	fl, err := s.flows.GetFlow(ctx, exec.FlowID)
	if err != nil || (orgID != "" && fl.OrgID != orgID) {
		return execution.Execution{}, flow.Flow{}, apperr.NotFound("execution")
	}
	return exec, fl, nil
}

// GetExecution returns one execution, org-scoped through its flow.
func (s *Service) GetExecution(ctx context.Context, orgID, execID string) (execution.Execution, error) {
	exec, _, err := s.scopedExecution(ctx, orgID, execID)
	return exec, err
}

// GetSteps returns the execution's step records.
func (s *Service) GetSteps(ctx context.Context, orgID, execID string) ([]execution.Step, error) {
	if _, _, err := s.scopedExecution(ctx, orgID, execID); err != nil {
		return nil, err
	}
	return s.execs.ListSteps(ctx, execID)
}

// GetLogs returns up to limit log lines in append order.
func (s *Service) GetLogs(ctx context.Context, orgID, execID string, limit int) ([]execution.Log, error) {
	if _, _, err := s.scopedExecution(ctx, orgID, execID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = DefaultLogLimit
	}
	return s.execs.ListLogs(ctx, execID, limit)
}

// ListFlowExecutions returns recent executions of one flow.
func (s *Service) ListFlowExecutions(ctx context.Context, orgID, flowID string, limit int) ([]execution.Execution, error) {
	if _, err := s.scopedFlow(ctx, orgID, flowID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > RecentLimit {
		limit = 20
	}
	return s.execs.ListFlowExecutions(ctx, flowID, limit)
}

// ListRecent returns the org's most recent executions across flows.
func (s *Service) ListRecent(ctx context.Context, orgID string, limit int) ([]execution.Execution, error) {
	if limit <= 0 || limit > RecentLimit {
		limit = 20
	}
	return s.execs.ListRecentExecutions(ctx, orgID, limit)
}

// CancelExecution transitions running → cancelled. It is a no-op on terminal
// states. Cancellation is cooperative: an in-flight node runs to its own
// timeout; the engine checks the flag between nodes.
func (s *Service) CancelExecution(ctx context.Context, orgID, execID string) (execution.Execution, error) {
	exec, _, err := s.scopedExecution(ctx, orgID, execID)
	if err != nil {
		return execution.Execution{}, err
	}
	if exec.Status.Terminal() {
		return exec, nil
	}

	now := time.Now().UTC()
	elapsed := now.Sub(exec.StartedAt).Milliseconds()
	exec.Status = execution.StatusCancelled
	exec.CompletedAt = &now
	exec.DurationMS = &elapsed
	updated, err := s.execs.UpdateExecution(ctx, exec)
	if err != nil {
		return execution.Execution{}, apperr.Internal(err)
	}
	metrics.ExecutionsFinished.WithLabelValues(string(execution.StatusCancelled)).Inc()

	s.mu.Lock()
	h := s.handles[execID]
	s.mu.Unlock()
	if h != nil {
		h.signal()
	}
	return updated, nil
}

// DeleteExecution removes logs, then steps, then the execution row, only when
// the execution's flow belongs to orgID.
func (s *Service) DeleteExecution(ctx context.Context, orgID, execID string) error {
	if _, _, err := s.scopedExecution(ctx, orgID, execID); err != nil {
		return err
	}
	if err := s.execs.DeleteExecution(ctx, execID); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// --- lifecycle --------------------------------------------------------------

func (s *Service) Name() string { return "flow-engine" }

func (s *Service) Start(_ context.Context) error {
	s.log.Info("flow engine started")
	return nil
}

// Stop drains in-flight executions for the grace window, then marks survivors
// failed with error_message="shutdown".
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	survivors := make([]string, 0, len(s.handles))
	for id := range s.handles {
		survivors = append(survivors, id)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	grace := s.grace
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < grace {
			grace = until
		}
	}

	select {
	case <-done:
		s.log.Info("flow engine drained")
		return nil
	case <-time.After(grace):
	}

	for _, id := range survivors {
		s.finalize(context.Background(), id, execution.StatusFailed, "shutdown")
	}
	s.log.WithField("survivors", len(survivors)).Warn("flow engine stopped before drain completed")
	return nil
}
