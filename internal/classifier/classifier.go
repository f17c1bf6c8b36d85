package classifier

import (
	"strings"
	"sync"
	"time"
)

// tickInterval is the classifier timer's evaluation cadence. The spec
// allows up to 250ms; 200ms leaves headroom under that ceiling.
const tickInterval = 200 * time.Millisecond

// persistenceWindow is the minimum elapsed time between the first and a
// repeated sighting of the same proposed state before it is emitted, which
// dampens flicker from rapid repaint.
const persistenceWindow = 250 * time.Millisecond

// bufCap bounds the raw byte accumulator the window is derived from.
const bufCap = 8192

// Match pairs an emitted proposal with the window and rule evaluations that
// produced it, used for both the DetectionEvent payload and /v1/debug.
type Match struct {
	State   ProposedState
	Window  []string
	Results []MatchResult
}

// Classifier owns one task's rolling detection window and pattern
// evaluation. It is fed raw bytes from the PTY host's onData callback and
// periodically (via Run) evaluates the current window against its agent's
// RuleSet, emitting at most one Match per stabilized proposal.
type Classifier struct {
	mu      sync.Mutex
	buf     []byte
	ruleSet *RuleSet

	lastWindowHash string
	pendingState   ProposedState
	pendingSince   time.Time
	pendingCount   int
	emittedState   ProposedState

	onMatch func(Match)
}

// New creates a Classifier for the given rule set. onMatch is invoked from
// the Run goroutine; it must not block.
func New(ruleSet *RuleSet, onMatch func(Match)) *Classifier {
	return &Classifier{ruleSet: ruleSet, onMatch: onMatch}
}

// Feed appends raw child output. Safe to call concurrently with Run.
func (c *Classifier) Feed(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = append(c.buf, p...)
	if len(c.buf) > bufCap {
		c.buf = c.buf[len(c.buf)-bufCap:]
	}
}

// SetRuleSet swaps the active rule set atomically, used when the watcher
// detects an on-disk override change.
func (c *Classifier) SetRuleSet(rs *RuleSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ruleSet = rs
}

// Run evaluates the window every tickInterval until stop is closed.
func (c *Classifier) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			c.tick(now)
		case <-stop:
			return
		}
	}
}

// tick performs one evaluation cycle. Kept as a separate method (rather
// than inlined in Run) so tests can drive it deterministically without
// relying on wall-clock ticks.
func (c *Classifier) tick(now time.Time) {
	c.mu.Lock()
	window := DetectionWindow(c.buf)
	ruleSet := c.ruleSet
	c.mu.Unlock()

	hash := strings.Join(window, "\x00")

	c.mu.Lock()
	unchanged := hash == c.lastWindowHash
	c.lastWindowHash = hash
	c.mu.Unlock()
	if unchanged {
		return
	}

	if ruleSet == nil {
		return
	}
	state, results := evaluateRules(ruleSet, window)

	c.mu.Lock()
	defer c.mu.Unlock()

	if state == "" {
		c.pendingState = ""
		c.pendingCount = 0
		c.emittedState = ""
		return
	}

	if state != c.pendingState {
		c.pendingState = state
		c.pendingSince = now
		c.pendingCount = 1
		return
	}

	c.pendingCount++
	if c.emittedState == state {
		return
	}
	if c.pendingCount < 2 || now.Sub(c.pendingSince) < persistenceWindow {
		return
	}

	c.emittedState = state
	if c.onMatch != nil {
		c.onMatch(Match{State: state, Window: window, Results: results})
	}
}

// evaluateRules runs every rule against every line in window, in rule
// order; the first matching rule across the whole window wins. A malformed
// rule was already skipped at load time, so every rule here has a compiled
// regexp.
func evaluateRules(rs *RuleSet, window []string) (ProposedState, []MatchResult) {
	var state ProposedState
	results := make([]MatchResult, 0, len(rs.Rules))
	for _, rule := range rs.Rules {
		result := MatchResult{Rule: rule}
		for _, line := range window {
			if rule.compiled != nil && rule.compiled.MatchString(line) {
				result.Matched = true
				result.Line = line
				break
			}
		}
		results = append(results, result)
		if result.Matched && state == "" {
			state = rule.ExpectedState
		}
	}
	return state, results
}

// Snapshot returns the current detection window and the last proposed
// state, used to answer /v1/debug without waiting for the next tick.
func (c *Classifier) Snapshot() (window []string, pending ProposedState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return DetectionWindow(c.buf), c.pendingState
}
