package agents

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tallr-dev/tallrd/internal/controlplane"
)

func TestDetect_RecognizesKnownAgents(t *testing.T) {
	require.Equal(t, controlplane.AgentClaude, Detect("claude"))
	require.Equal(t, controlplane.AgentClaude, Detect("/usr/local/bin/claude"))
	require.Equal(t, controlplane.AgentGemini, Detect("gemini"))
	require.Equal(t, controlplane.AgentCodex, Detect("codex"))
}

func TestDetect_FallsBackToGenericForUnknownCommand(t *testing.T) {
	require.Equal(t, controlplane.AgentGeneric, Detect("some-other-tool"))
}

func TestLookup_ClaudeSupportsShimAndHooks(t *testing.T) {
	p := Lookup(controlplane.AgentClaude)
	require.True(t, p.SupportsShim)
	require.True(t, p.SupportsHooks)
	require.Equal(t, "claude", p.ClassifierRuleSet)
}

func TestLookup_GeminiHasNoShimOrHooks(t *testing.T) {
	p := Lookup(controlplane.AgentGemini)
	require.False(t, p.SupportsShim)
	require.False(t, p.SupportsHooks)
}

func TestLookup_UnknownAgentFallsBackToGenericProfile(t *testing.T) {
	p := Lookup(controlplane.Agent("unlisted"))
	require.Equal(t, "generic", p.ClassifierRuleSet)
}
