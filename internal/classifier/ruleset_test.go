package classifier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoader_LoadsEmbeddedDefaultForKnownAgent(t *testing.T) {
	l := NewLoader("")
	rs, err := l.Load("claude")
	require.NoError(t, err)
	require.Equal(t, "claude", rs.Agent)
	require.NotEmpty(t, rs.Rules)
}

func TestLoader_UnknownAgentFallsBackToGeneric(t *testing.T) {
	l := NewLoader("")
	rs, err := l.Load("some-unknown-agent")
	require.NoError(t, err)
	require.Equal(t, "generic", rs.Agent)
}

func TestLoader_OnDiskOverrideWins(t *testing.T) {
	dir := t.TempDir()
	override := []byte("agent: claude\nrules:\n  - pattern: 'CUSTOM_MARKER'\n    expectedState: PENDING\n    description: custom\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "claude.yaml"), override, 0o644))

	l := NewLoader(dir)
	rs, err := l.Load("claude")
	require.NoError(t, err)
	require.Len(t, rs.Rules, 1)
	require.Equal(t, "CUSTOM_MARKER", rs.Rules[0].Pattern)
}

func TestLoader_MalformedOverrideFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "claude.yaml"), []byte("not: [valid"), 0o644))

	l := NewLoader(dir)
	rs, err := l.Load("claude")
	require.NoError(t, err)
	require.Greater(t, len(rs.Rules), 1)
}

func TestParseRuleSet_SkipsMalformedRegexButKeepsOthers(t *testing.T) {
	data := []byte(`agent: test
rules:
  - pattern: '('
    expectedState: PENDING
    description: broken
  - pattern: 'ok'
    expectedState: IDLE
    description: fine
`)
	rs, err := parseRuleSet(data)
	require.NoError(t, err)
	require.Len(t, rs.Rules, 1)
	require.Equal(t, "ok", rs.Rules[0].Pattern)
}
