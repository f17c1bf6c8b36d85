// Package agents names the CLI coding agents Tallr knows how to supervise
// and which detection paths apply to each: the network shim (C3) and hook
// bridge (C4) are Claude-only, every agent gets the text classifier (C2).
package agents

import (
	"path/filepath"

	"github.com/tallr-dev/tallrd/internal/controlplane"
)

// Profile describes one supervisable agent's identity and capabilities.
type Profile struct {
	Agent controlplane.Agent

	// ClassifierRuleSet names the rule-set file internal/classifier
	// loads for this agent (see internal/classifier/rules).
	ClassifierRuleSet string

	// SupportsShim is true only for Claude: the network interceptor
	// shim is Node-specific and wraps fetch calls Tallr knows the shape
	// of for Claude's API only.
	SupportsShim bool

	// SupportsHooks is true only for Claude: the hook bridge merges into
	// ~/.claude/settings.json, a file format specific to the Claude CLI.
	SupportsHooks bool
}

var profiles = map[controlplane.Agent]Profile{
	controlplane.AgentClaude: {
		Agent:             controlplane.AgentClaude,
		ClassifierRuleSet: "claude",
		SupportsShim:      true,
		SupportsHooks:     true,
	},
	controlplane.AgentGemini: {
		Agent:             controlplane.AgentGemini,
		ClassifierRuleSet: "gemini",
	},
	controlplane.AgentCodex: {
		Agent:             controlplane.AgentCodex,
		ClassifierRuleSet: "codex",
	},
	controlplane.AgentGeneric: {
		Agent:             controlplane.AgentGeneric,
		ClassifierRuleSet: "generic",
	},
}

// Lookup returns the profile for agent, falling back to the generic
// profile (classifier-only detection) for anything unrecognized so an
// unknown agent command still gets supervised, just with weaker detection.
func Lookup(agent controlplane.Agent) Profile {
	if p, ok := profiles[agent]; ok {
		return p
	}
	return profiles[controlplane.AgentGeneric]
}

// Detect maps a command line's binary name to a known Agent, defaulting to
// generic for anything it doesn't recognize (a wrapped shell script, an
// unlisted agent CLI, etc).
func Detect(command string) controlplane.Agent {
	switch filepath.Base(command) {
	case "claude":
		return controlplane.AgentClaude
	case "gemini":
		return controlplane.AgentGemini
	case "codex":
		return controlplane.AgentCodex
	default:
		return controlplane.AgentGeneric
	}
}
