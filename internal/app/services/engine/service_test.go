package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/flowforge/platform/infrastructure/errors"
	"github.com/flowforge/platform/infrastructure/httputil"
	"github.com/flowforge/platform/internal/app/bus"
	"github.com/flowforge/platform/internal/app/domain/execution"
	"github.com/flowforge/platform/internal/app/domain/flow"
	"github.com/flowforge/platform/internal/app/netguard"
	"github.com/flowforge/platform/internal/app/services/notifications"
	"github.com/flowforge/platform/internal/app/storage"
)

type engineFixture struct {
	svc   *Service
	mem   *storage.Memory
	hub   *bus.Hub
	orgID string
	fl    flow.Flow
}

func newFixture(t *testing.T, g flow.Graph) *engineFixture {
	t.Helper()
	ctx := context.Background()
	mem := storage.NewMemory()
	hub := bus.NewHub(nil)
	t.Cleanup(hub.Close)

	org, err := mem.CreateOrganization(ctx, storageOrg("acme"))
	require.NoError(t, err)
	fl, err := mem.CreateFlow(ctx, flow.Flow{OrgID: org.ID, Name: "Pay", Status: flow.StatusDraft})
	require.NoError(t, err)
	_, err = mem.CreateVersion(ctx, flow.Version{FlowID: fl.ID, Graph: g})
	require.NoError(t, err)

	notifier := notifications.New(mem, hub, nil)
	svc := New(mem, mem, mem, nil, notifier, nil)
	svc.WithURLValidator(permissiveValidator)
	svc.WithHTTPClient(httputil.NewClient(HTTPActionTimeout))
	return &engineFixture{svc: svc, mem: mem, hub: hub, orgID: org.ID, fl: fl}
}

func (f *engineFixture) waitTerminal(t *testing.T, execID string) execution.Execution {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		exec, err := f.svc.GetExecution(context.Background(), f.orgID, execID)
		require.NoError(t, err)
		if exec.Status.Terminal() {
			return exec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("execution did not reach a terminal state")
	return execution.Execution{}
}

func linearGraph(middle flow.Node) flow.Graph {
	return flow.Graph{
		Nodes: []flow.Node{
			{ID: "start", Type: flow.NodeStart},
			middle,
			{ID: "end", Type: flow.NodeEnd},
		},
		Edges: []flow.Edge{
			{From: "start", To: middle.ID},
			{From: middle.ID, To: "end"},
		},
	}
}

func TestHappyPathDeploy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	f := newFixture(t, linearGraph(flow.Node{
		ID: "call", Type: "action", Kind: flow.KindHTTP,
		Config: map[string]any{"url": server.URL, "method": "GET"},
	}))
	sub := f.hub.Subscribe(f.orgID)

	result, err := f.svc.StartExecution(context.Background(), f.orgID, f.fl.ID, execution.TriggerDeploy, map[string]any{"source": "deploy"})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusRunning, result.Status)
	assert.Equal(t, "Pay", result.FlowName)
	assert.Equal(t, 1, result.Version)

	exec := f.waitTerminal(t, result.ExecutionID)
	assert.Equal(t, execution.StatusCompleted, exec.Status)
	assert.Equal(t, execution.TriggerDeploy, exec.TriggerType)
	require.NotNil(t, exec.CompletedAt)
	require.NotNil(t, exec.DurationMS)

	steps, err := f.svc.GetSteps(context.Background(), f.orgID, result.ExecutionID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	for _, step := range steps {
		assert.Equal(t, execution.StepCompleted, step.Status, step.NodeID)
		require.NotNil(t, step.CompletedAt)
		assert.False(t, step.CompletedAt.After(*exec.CompletedAt), step.NodeID)
	}

	logs, err := f.svc.GetLogs(context.Background(), f.orgID, result.ExecutionID, 0)
	require.NoError(t, err)
	infoCount := 0
	for _, entry := range logs {
		if entry.Level == execution.LogInfo {
			infoCount++
		}
	}
	assert.GreaterOrEqual(t, infoCount, 3)

	// The completion notification fans out on the org room.
	select {
	case ev := <-sub.C:
		assert.Equal(t, bus.EventNotifications, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no bus event after completion")
	}
}

func TestCycleRejectedBeforeAnyStep(t *testing.T) {
	g := flow.Graph{
		Nodes: []flow.Node{
			{ID: "a", Type: flow.NodeStart},
			{ID: "b", Type: flow.NodeTransform},
			{ID: "c", Type: flow.NodeEnd},
		},
		Edges: []flow.Edge{
			{From: "a", To: "b"},
			{From: "b", To: "a"},
			{From: "b", To: "c"},
		},
	}
	f := newFixture(t, g)

	result, err := f.svc.StartExecution(context.Background(), f.orgID, f.fl.ID, execution.TriggerManual, nil)
	require.NoError(t, err)

	exec := f.waitTerminal(t, result.ExecutionID)
	assert.Equal(t, execution.StatusFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "cycle")

	steps, err := f.svc.GetSteps(context.Background(), f.orgID, result.ExecutionID)
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestHTTPNon2xxIsDataNotFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream broke"))
	}))
	defer server.Close()

	f := newFixture(t, linearGraph(flow.Node{
		ID: "call", Type: "action", Kind: flow.KindHTTP,
		Config: map[string]any{"url": server.URL},
	}))

	result, err := f.svc.StartExecution(context.Background(), f.orgID, f.fl.ID, execution.TriggerManual, nil)
	require.NoError(t, err)
	exec := f.waitTerminal(t, result.ExecutionID)
	assert.Equal(t, execution.StatusCompleted, exec.Status)

	steps, err := f.svc.GetSteps(context.Background(), f.orgID, result.ExecutionID)
	require.NoError(t, err)
	var callStep *execution.Step
	for i := range steps {
		if steps[i].NodeID == "call" {
			callStep = &steps[i]
		}
	}
	require.NotNil(t, callStep)
	assert.Equal(t, execution.StepCompleted, callStep.Status)
	assert.EqualValues(t, 502, callStep.OutputData["status"])
	assert.Equal(t, "upstream broke", callStep.OutputData["error"])
}

func TestTransportErrorFailsFast(t *testing.T) {
	dead := httptest.NewServer(nil)
	dead.Close()

	g := flow.Graph{
		Nodes: []flow.Node{
			{ID: "start", Type: flow.NodeStart},
			{ID: "call", Type: "action", Kind: flow.KindHTTP, Config: map[string]any{"url": dead.URL}},
			{ID: "after", Type: flow.NodeTransform},
			{ID: "end", Type: flow.NodeEnd},
		},
		Edges: []flow.Edge{
			{From: "start", To: "call"},
			{From: "call", To: "after"},
			{From: "after", To: "end"},
		},
	}
	f := newFixture(t, g)

	result, err := f.svc.StartExecution(context.Background(), f.orgID, f.fl.ID, execution.TriggerManual, nil)
	require.NoError(t, err)
	exec := f.waitTerminal(t, result.ExecutionID)
	assert.Equal(t, execution.StatusFailed, exec.Status)
	assert.NotEmpty(t, exec.ErrorMessage)

	// Downstream nodes never started.
	steps, err := f.svc.GetSteps(context.Background(), f.orgID, result.ExecutionID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, execution.StepFailed, steps[1].Status)
}

func TestSSRFGuardBlocksActionTargets(t *testing.T) {
	f := newFixture(t, linearGraph(flow.Node{
		ID: "call", Type: "action", Kind: flow.KindHTTP,
		Config: map[string]any{"url": "http://169.254.169.254/latest/meta-data"},
	}))
	f.svc.WithURLValidator(netguard.ValidateURL)

	result, err := f.svc.StartExecution(context.Background(), f.orgID, f.fl.ID, execution.TriggerManual, nil)
	require.NoError(t, err)
	exec := f.waitTerminal(t, result.ExecutionID)
	assert.Equal(t, execution.StatusFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "not allowed")
}

func TestCancellationIsCooperative(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		w.Write([]byte(`{}`))
	}))
	defer server.Close()
	defer close(release)

	g := flow.Graph{
		Nodes: []flow.Node{
			{ID: "start", Type: flow.NodeStart},
			{ID: "slow", Type: "action", Kind: flow.KindHTTP, Config: map[string]any{"url": server.URL}},
			{ID: "after", Type: flow.NodeTransform},
			{ID: "end", Type: flow.NodeEnd},
		},
		Edges: []flow.Edge{
			{From: "start", To: "slow"},
			{From: "slow", To: "after"},
			{From: "after", To: "end"},
		},
	}
	f := newFixture(t, g)

	result, err := f.svc.StartExecution(context.Background(), f.orgID, f.fl.ID, execution.TriggerManual, nil)
	require.NoError(t, err)

	<-started
	cancelled, err := f.svc.CancelExecution(context.Background(), f.orgID, result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CompletedAt)

	// Let the in-flight node return; no further nodes run.
	release <- struct{}{}
	time.Sleep(200 * time.Millisecond)

	exec, err := f.svc.GetExecution(context.Background(), f.orgID, result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCancelled, exec.Status)

	steps, err := f.svc.GetSteps(context.Background(), f.orgID, result.ExecutionID)
	require.NoError(t, err)
	for _, step := range steps {
		assert.NotEqual(t, "after", step.NodeID)
		assert.NotEqual(t, "end", step.NodeID)
	}

	// Cancel on a terminal execution is a no-op.
	again, err := f.svc.CancelExecution(context.Background(), f.orgID, result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCancelled, again.Status)
}

func TestStartExecutionNotFoundCases(t *testing.T) {
	f := newFixture(t, linearGraph(flow.Node{ID: "mid", Type: flow.NodeTransform}))
	ctx := context.Background()

	// Unknown flow.
	_, err := f.svc.StartExecution(ctx, f.orgID, "missing", execution.TriggerManual, nil)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	// Flow in another org.
	_, err = f.svc.StartExecution(ctx, "other-org", f.fl.ID, execution.TriggerManual, nil)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	// Deleted flow.
	require.NoError(t, f.mem.SoftDeleteFlow(ctx, f.fl.ID))
	_, err = f.svc.StartExecution(ctx, f.orgID, f.fl.ID, execution.TriggerManual, nil)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestStartExecutionRequiresAVersion(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	org, err := mem.CreateOrganization(ctx, storageOrg("empty"))
	require.NoError(t, err)
	fl, err := mem.CreateFlow(ctx, flow.Flow{OrgID: org.ID, Name: "bare"})
	require.NoError(t, err)

	svc := New(mem, mem, mem, nil, nil, nil)
	_, err = svc.StartExecution(ctx, org.ID, fl.ID, execution.TriggerManual, nil)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestDeleteExecutionScopedToOrg(t *testing.T) {
	f := newFixture(t, linearGraph(flow.Node{ID: "mid", Type: flow.NodeTransform}))
	ctx := context.Background()

	result, err := f.svc.StartExecution(ctx, f.orgID, f.fl.ID, execution.TriggerManual, nil)
	require.NoError(t, err)
	f.waitTerminal(t, result.ExecutionID)

	err = f.svc.DeleteExecution(ctx, "other-org", result.ExecutionID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	require.NoError(t, f.svc.DeleteExecution(ctx, f.orgID, result.ExecutionID))
	_, err = f.svc.GetExecution(ctx, f.orgID, result.ExecutionID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestConditionAndTransformNodes(t *testing.T) {
	g := flow.Graph{
		Nodes: []flow.Node{
			{ID: "start", Type: flow.NodeStart},
			{ID: "check", Type: flow.NodeCondition, Config: map[string]any{"condition": "true"}},
			{ID: "shape", Type: flow.NodeTransform, Config: map[string]any{
				"transformation": "extract",
				"fields":         []any{"passed"},
			}},
			{ID: "end", Type: flow.NodeEnd},
		},
		Edges: []flow.Edge{
			{From: "start", To: "check"},
			{From: "check", To: "shape"},
			{From: "shape", To: "end"},
		},
	}
	f := newFixture(t, g)

	result, err := f.svc.StartExecution(context.Background(), f.orgID, f.fl.ID, execution.TriggerManual, map[string]any{"seed": 1})
	require.NoError(t, err)
	exec := f.waitTerminal(t, result.ExecutionID)
	require.Equal(t, execution.StatusCompleted, exec.Status)

	steps, err := f.svc.GetSteps(context.Background(), f.orgID, result.ExecutionID)
	require.NoError(t, err)
	byNode := map[string]execution.Step{}
	for _, step := range steps {
		byNode[step.NodeID] = step
	}
	assert.Equal(t, true, byNode["check"].OutputData["passed"])
	assert.Equal(t, true, byNode["shape"].OutputData["passed"])
}

func TestUnrecognizedActionFailsStep(t *testing.T) {
	f := newFixture(t, linearGraph(flow.Node{ID: "mystery", Type: "wat", Kind: "unknown"}))

	result, err := f.svc.StartExecution(context.Background(), f.orgID, f.fl.ID, execution.TriggerManual, nil)
	require.NoError(t, err)
	exec := f.waitTerminal(t, result.ExecutionID)
	assert.Equal(t, execution.StatusFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "unrecognized action")

	logs, err := f.svc.GetLogs(context.Background(), f.orgID, result.ExecutionID, 0)
	require.NoError(t, err)
	var sawWarn bool
	for _, entry := range logs {
		if entry.Level == execution.LogWarn {
			sawWarn = true
		}
	}
	assert.True(t, sawWarn, "unknown node type should log a warning")
}
