package controlplane_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallr-dev/tallrd/internal/controlplane"
)

func newTestTask(agent controlplane.Agent, project controlplane.ProjectID, state controlplane.TaskState) *controlplane.Task {
	task := controlplane.NewTask(controlplane.TaskSpec{
		Agent:     agent,
		ProjectID: project,
		RepoPath:  "/tmp/" + string(project),
	})
	task.State = state
	return task
}

func TestRegistry_PutGet(t *testing.T) {
	ctx := context.Background()
	reg := controlplane.NewInMemoryRegistry()

	task := newTestTask(controlplane.AgentClaude, "proj-a", controlplane.StateIdle)
	require.NoError(t, reg.Put(ctx, task))

	got, err := reg.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, controlplane.StateIdle, got.State)
}

func TestRegistry_GetMissingReturnsErrTaskNotFound(t *testing.T) {
	reg := controlplane.NewInMemoryRegistry()
	_, err := reg.Get(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, controlplane.ErrTaskNotFound)
}

func TestRegistry_PutIsolatesCallerFromInternalState(t *testing.T) {
	ctx := context.Background()
	reg := controlplane.NewInMemoryRegistry()
	task := newTestTask(controlplane.AgentClaude, "proj-a", controlplane.StateIdle)
	require.NoError(t, reg.Put(ctx, task))

	task.State = controlplane.StateError // mutate caller's copy after Put
	got, err := reg.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, controlplane.StateIdle, got.State, "registry must not alias the caller's struct")
}

func TestRegistry_UpdateAppliesAndPersists(t *testing.T) {
	ctx := context.Background()
	reg := controlplane.NewInMemoryRegistry()
	task := newTestTask(controlplane.AgentClaude, "proj-a", controlplane.StateIdle)
	require.NoError(t, reg.Put(ctx, task))

	updated, err := reg.Update(ctx, task.ID, func(t *controlplane.Task) error {
		t.Pinned = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, updated.Pinned)

	got, err := reg.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, got.Pinned)
}

func TestRegistry_UpdateMissingReturnsErrTaskNotFound(t *testing.T) {
	reg := controlplane.NewInMemoryRegistry()
	_, err := reg.Update(context.Background(), "missing", func(*controlplane.Task) error { return nil })
	assert.ErrorIs(t, err, controlplane.ErrTaskNotFound)
}

func TestRegistry_ListFiltersByStateAndProject(t *testing.T) {
	ctx := context.Background()
	reg := controlplane.NewInMemoryRegistry()

	require.NoError(t, reg.Put(ctx, newTestTask(controlplane.AgentClaude, "proj-a", controlplane.StateWorking)))
	require.NoError(t, reg.Put(ctx, newTestTask(controlplane.AgentGemini, "proj-a", controlplane.StateIdle)))
	require.NoError(t, reg.Put(ctx, newTestTask(controlplane.AgentCodex, "proj-b", controlplane.StateWorking)))

	results, err := reg.List(ctx, controlplane.ListQuery{States: []controlplane.TaskState{controlplane.StateWorking}})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = reg.List(ctx, controlplane.ListQuery{ProjectID: "proj-a"})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRegistry_ListRespectsLimitAndOffset(t *testing.T) {
	ctx := context.Background()
	reg := controlplane.NewInMemoryRegistry()

	for i := 0; i < 5; i++ {
		require.NoError(t, reg.Put(ctx, newTestTask(controlplane.AgentClaude, "proj-a", controlplane.StateIdle)))
	}

	results, err := reg.List(ctx, controlplane.ListQuery{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = reg.List(ctx, controlplane.ListQuery{Offset: 4})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestRegistry_RemoveAndCount(t *testing.T) {
	ctx := context.Background()
	reg := controlplane.NewInMemoryRegistry()
	task := newTestTask(controlplane.AgentClaude, "proj-a", controlplane.StateIdle)
	require.NoError(t, reg.Put(ctx, task))

	count, err := reg.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, reg.Remove(ctx, task.ID))
	count, err = reg.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
