package pty

import (
	"bytes"
	"context"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestSpawn_MissingBinary_ReturnsError verifies that spawning a nonexistent
// binary surfaces an error rather than hanging.
func TestSpawn_MissingBinary_ReturnsError(t *testing.T) {
	_, err := Spawn(context.Background(), Options{Command: "/no/such/binary-tallr-test"}, nil)
	require.Error(t, err)
}

// TestSpawn_EmptyCommand_ReturnsError verifies the precondition check.
func TestSpawn_EmptyCommand_ReturnsError(t *testing.T) {
	_, err := Spawn(context.Background(), Options{}, nil)
	require.Error(t, err)
}

// TestSpawn_EchoCommand_ProducesOutputAndExitsClean verifies the basic
// spawn → onData → exit flow against a real child.
func TestSpawn_EchoCommand_ProducesOutputAndExitsClean(t *testing.T) {
	var mu sync.Mutex
	var got bytes.Buffer

	h, err := Spawn(context.Background(), Options{
		Command: "/bin/echo",
		Args:    []string{"hello-tallr"},
		Cols:    80,
		Rows:    24,
	}, func(b []byte) {
		mu.Lock()
		got.Write(b)
		mu.Unlock()
	})
	require.NoError(t, err)

	info := h.Wait()
	require.Equal(t, 0, info.Code)
	require.Nil(t, info.Err)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, got.String(), "hello-tallr")
}

// TestSpawn_NonZeroExit_ReportsCode verifies exit-code propagation for the
// terminal ERROR transition.
func TestSpawn_NonZeroExit_ReportsCode(t *testing.T) {
	h, err := Spawn(context.Background(), Options{
		Command: "/bin/sh",
		Args:    []string{"-c", "exit 7"},
	}, nil)
	require.NoError(t, err)

	info := h.Wait()
	require.Equal(t, 7, info.Code)
}

// TestHost_Write_DeliversBytesToChild verifies the TTY→child pump using
// `cat`, which echoes stdin back to stdout through the PTY.
func TestHost_Write_DeliversBytesToChild(t *testing.T) {
	done := make(chan struct{})
	var mu sync.Mutex
	var got bytes.Buffer

	h, err := Spawn(context.Background(), Options{
		Command: "/bin/cat",
	}, func(b []byte) {
		mu.Lock()
		got.Write(b)
		if bytes.Contains(got.Bytes(), []byte("ping")) {
			select {
			case <-done:
			default:
				close(done)
			}
		}
		mu.Unlock()
	})
	require.NoError(t, err)

	_, err = h.Write([]byte("ping\n"))
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("did not observe echoed input")
	}

	_ = h.Signal(syscall.SIGTERM)
	h.Wait()
}

// TestHost_Resize_Succeeds verifies Resize does not error against a live PTY.
func TestHost_Resize_Succeeds(t *testing.T) {
	h, err := Spawn(context.Background(), Options{Command: "/bin/sleep", Args: []string{"1"}}, nil)
	require.NoError(t, err)
	defer h.Wait()
	defer func() { _ = h.Signal(syscall.SIGTERM) }()

	require.NoError(t, h.Resize(100, 40))
}

// TestHost_WriteAfterExit_ReturnsError verifies the ErrAlreadyExited guard.
func TestHost_WriteAfterExit_ReturnsError(t *testing.T) {
	h, err := Spawn(context.Background(), Options{Command: "/bin/true"}, nil)
	require.NoError(t, err)
	h.Wait()

	_, err = h.Write([]byte("x"))
	require.ErrorIs(t, err, ErrAlreadyExited)
}

// TestHost_WaitTimeout_TimesOutForLongRunningChild verifies the bounded wait
// used during graceful shutdown.
func TestHost_WaitTimeout_TimesOutForLongRunningChild(t *testing.T) {
	h, err := Spawn(context.Background(), Options{Command: "/bin/sleep", Args: []string{"5"}}, nil)
	require.NoError(t, err)
	defer func() {
		_ = h.Signal(syscall.SIGKILL)
		h.Wait()
	}()

	_, ok := h.WaitTimeout(50 * time.Millisecond)
	require.False(t, ok)
}
