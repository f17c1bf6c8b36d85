package pty_test

import (
	"testing"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"

	"github.com/tallr-dev/tallrd/internal/pty"
)

func TestNoColorEnv_RespectsNoColorEnvVar(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.Equal(t, termenv.Ascii, pty.ColorProfile())
	assert.Equal(t, "NO_COLOR=1", pty.NoColorEnv())
}

func TestNoColorEnv_EmptyWhenColorSupported(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	t.Setenv("COLORTERM", "truecolor")
	t.Setenv("TERM", "xterm-256color")
	// Force color even when the test's stdout is not a terminal.
	t.Setenv("CLICOLOR_FORCE", "1")
	assert.Equal(t, "", pty.NoColorEnv())
}
