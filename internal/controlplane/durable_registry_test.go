package controlplane_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallr-dev/tallrd/internal/controlplane"
)

func TestDurableRegistry_PutSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "tasks.db")

	reg, err := controlplane.NewDurableRegistry(ctx, dbPath)
	require.NoError(t, err)

	task := newTestTask(controlplane.AgentClaude, "proj-a", controlplane.StateWorking)
	require.NoError(t, reg.Put(ctx, task))
	require.NoError(t, reg.Close())

	reopened, err := controlplane.NewDurableRegistry(ctx, dbPath)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, err := reopened.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, controlplane.StateWorking, got.State)
}

func TestDurableRegistry_UpdatePersists(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "tasks.db")

	reg, err := controlplane.NewDurableRegistry(ctx, dbPath)
	require.NoError(t, err)

	task := newTestTask(controlplane.AgentClaude, "proj-a", controlplane.StateIdle)
	require.NoError(t, reg.Put(ctx, task))

	_, err = reg.Update(ctx, task.ID, func(t *controlplane.Task) error {
		t.Details = "updated"
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, reg.Close())

	reopened, err := controlplane.NewDurableRegistry(ctx, dbPath)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, err := reopened.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Details)
}

func TestDurableRegistry_RemoveDeletesRow(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "tasks.db")

	reg, err := controlplane.NewDurableRegistry(ctx, dbPath)
	require.NoError(t, err)
	defer func() { _ = reg.Close() }()

	task := newTestTask(controlplane.AgentClaude, "proj-a", controlplane.StateIdle)
	require.NoError(t, reg.Put(ctx, task))
	require.NoError(t, reg.Remove(ctx, task.ID))

	_, err = reg.Get(ctx, task.ID)
	assert.ErrorIs(t, err, controlplane.ErrTaskNotFound)
}
