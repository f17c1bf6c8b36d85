// Package classifier implements the Text Classifier (C2): it consumes the
// raw byte stream teed off the PTY host, normalizes it into a small rolling
// window of plain text, and evaluates a per-agent pattern set against that
// window to propose task states when the network interceptor and
// permission hooks are unavailable or silent.
package classifier

import "regexp"

// ProposedState is the classifier's output vocabulary, kept distinct from
// controlplane.TaskState so this package has no dependency on the tracker.
type ProposedState string

const (
	StateIdle    ProposedState = "IDLE"
	StateWorking ProposedState = "WORKING"
	StatePending ProposedState = "PENDING"
)

// Rule maps one compiled regular expression to a proposed state. Rules are
// evaluated in the order they appear in their RuleSet; the first match wins.
type Rule struct {
	Pattern       string        `yaml:"pattern"`
	ExpectedState ProposedState `yaml:"expectedState"`
	Description   string        `yaml:"description"`

	compiled *regexp.Regexp
}

// RuleSet is one agent's complete, ordered pattern family.
type RuleSet struct {
	Agent string `yaml:"agent"`
	Rules []Rule `yaml:"rules"`
}

// MatchResult records which rule fired (or didn't) for one window
// evaluation; a Match carries the full set to the onMatch callback.
// /v1/debug does not include them.
type MatchResult struct {
	Rule    Rule
	Matched bool
	Line    string
}
