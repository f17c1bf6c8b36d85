package shim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tallr-dev/tallrd/internal/pty"
)

// TestLaunch_SpawnsChildWithShimWired verifies the happy path: the child
// spawns successfully and a Bridge is returned wired to its descriptors.
func TestLaunch_SpawnsChildWithShimWired(t *testing.T) {
	h, b, cleanup, err := Launch(context.Background(), pty.Options{
		Command: "/bin/sh",
		Args:    []string{"-c", "exit 0"},
	}, nil)
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, b)
	info := h.Wait()
	require.Equal(t, 0, info.Code)
}

// TestLaunch_MissingBinaryStillReturnsCleanup verifies Launch always hands
// back a safe-to-call cleanup even when the underlying spawn fails.
func TestLaunch_MissingBinaryStillReturnsCleanup(t *testing.T) {
	_, _, cleanup, err := Launch(context.Background(), pty.Options{
		Command: "/no/such/binary-tallr-test",
	}, nil)
	require.Error(t, err)
	require.NotNil(t, cleanup)
	cleanup()
}
