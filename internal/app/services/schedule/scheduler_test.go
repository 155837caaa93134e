package schedule

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/platform/internal/app/domain/account"
	"github.com/flowforge/platform/internal/app/domain/execution"
	"github.com/flowforge/platform/internal/app/domain/flow"
	"github.com/flowforge/platform/internal/app/services/engine"
	"github.com/flowforge/platform/internal/app/storage"
)

type countingStarter struct {
	mu    sync.Mutex
	calls int
}

func (c *countingStarter) StartExecution(_ context.Context, _, _ string, trigger execution.TriggerType, _ map[string]any) (engine.StartResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if trigger != execution.TriggerSchedule {
		panic("unexpected trigger")
	}
	c.calls++
	return engine.StartResult{}, nil
}

func scheduledGraph(spec string) flow.Graph {
	g := flow.Graph{
		Nodes: []flow.Node{
			{ID: "t", Type: flow.NodeTrigger},
			{ID: "end", Type: flow.NodeEnd},
		},
		Edges: []flow.Edge{{From: "t", To: "end"}},
	}
	if spec != "" {
		g.Nodes[0].Config = map[string]any{"schedule": spec}
	}
	return g
}

func TestScheduleSpecExtraction(t *testing.T) {
	assert.Equal(t, "*/5 * * * *", scheduleSpec(scheduledGraph("*/5 * * * *")))
	assert.Empty(t, scheduleSpec(scheduledGraph("")))
}

func TestRefreshRegistersActiveScheduledFlows(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	org, err := mem.CreateOrganization(ctx, account.Organization{Name: "acme"})
	require.NoError(t, err)

	active, err := mem.CreateFlow(ctx, flow.Flow{OrgID: org.ID, Name: "scheduled", Status: flow.StatusActive})
	require.NoError(t, err)
	_, err = mem.CreateVersion(ctx, flow.Version{FlowID: active.ID, Graph: scheduledGraph("0 * * * *")})
	require.NoError(t, err)

	idle, err := mem.CreateFlow(ctx, flow.Flow{OrgID: org.ID, Name: "draft", Status: flow.StatusDraft})
	require.NoError(t, err)
	_, err = mem.CreateVersion(ctx, flow.Version{FlowID: idle.ID, Graph: scheduledGraph("0 * * * *")})
	require.NoError(t, err)

	starter := &countingStarter{}
	sched := New(mem, mem, starter, nil)
	require.NoError(t, sched.Start(ctx))
	defer sched.Stop(context.Background())

	sched.Refresh(ctx)
	sched.mu.Lock()
	_, activeRegistered := sched.entries[active.ID]
	_, idleRegistered := sched.entries[idle.ID]
	sched.mu.Unlock()

	assert.True(t, activeRegistered)
	assert.False(t, idleRegistered)
}

func TestRefreshDropsDeactivatedFlows(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	org, err := mem.CreateOrganization(ctx, account.Organization{Name: "acme"})
	require.NoError(t, err)

	fl, err := mem.CreateFlow(ctx, flow.Flow{OrgID: org.ID, Name: "scheduled", Status: flow.StatusActive})
	require.NoError(t, err)
	_, err = mem.CreateVersion(ctx, flow.Version{FlowID: fl.ID, Graph: scheduledGraph("0 * * * *")})
	require.NoError(t, err)

	sched := New(mem, mem, &countingStarter{}, nil)
	require.NoError(t, sched.Start(ctx))
	defer sched.Stop(context.Background())

	sched.Refresh(ctx)
	sched.mu.Lock()
	require.Contains(t, sched.entries, fl.ID)
	sched.mu.Unlock()

	fl.Status = flow.StatusInactive
	_, err = mem.UpdateFlow(ctx, fl)
	require.NoError(t, err)

	sched.Refresh(ctx)
	sched.mu.Lock()
	assert.NotContains(t, sched.entries, fl.ID)
	sched.mu.Unlock()
}

func TestRefreshRejectsInvalidSpec(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	org, err := mem.CreateOrganization(ctx, account.Organization{Name: "acme"})
	require.NoError(t, err)

	fl, err := mem.CreateFlow(ctx, flow.Flow{OrgID: org.ID, Name: "bad", Status: flow.StatusActive})
	require.NoError(t, err)
	_, err = mem.CreateVersion(ctx, flow.Version{FlowID: fl.ID, Graph: scheduledGraph("not a cron spec")})
	require.NoError(t, err)

	sched := New(mem, mem, &countingStarter{}, nil)
	require.NoError(t, sched.Start(ctx))
	defer sched.Stop(context.Background())

	sched.Refresh(ctx)
	sched.mu.Lock()
	assert.Empty(t, sched.entries)
	sched.mu.Unlock()
}
