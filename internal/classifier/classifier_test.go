package classifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testRuleSet() *RuleSet {
	rs, err := parseRuleSet([]byte(`agent: test
rules:
  - pattern: '\[y/N\]'
    expectedState: PENDING
    description: confirm
  - pattern: '(?i)^idle>'
    expectedState: IDLE
    description: idle prompt
`))
	if err != nil {
		panic(err)
	}
	return rs
}

func TestClassifier_DoesNotEmitOnFirstSighting(t *testing.T) {
	var matches []Match
	c := New(testRuleSet(), func(m Match) { matches = append(matches, m) })

	c.Feed([]byte("continue? [y/N]\n"))
	base := time.Now()
	c.tick(base)

	require.Empty(t, matches)
}

func TestClassifier_EmitsAfterPersistingAcrossDebounceWindow(t *testing.T) {
	var matches []Match
	c := New(testRuleSet(), func(m Match) { matches = append(matches, m) })

	base := time.Now()
	c.Feed([]byte("continue? [y/N]\n"))
	c.tick(base)
	require.Empty(t, matches)

	// Same content: hash unchanged, no re-evaluation, still no emit.
	c.tick(base.Add(50 * time.Millisecond))
	require.Empty(t, matches)

	// New content carrying the same proposed state, but under the 250ms
	// persistence window: still no emit.
	c.Feed([]byte("still continue? [y/N]\n"))
	c.tick(base.Add(100 * time.Millisecond))
	require.Empty(t, matches)

	// Past the persistence window: now it emits.
	c.Feed([]byte("again continue? [y/N]\n"))
	c.tick(base.Add(300 * time.Millisecond))
	require.Len(t, matches, 1)
	require.Equal(t, StatePending, matches[0].State)
}

func TestClassifier_EmitsOnlyOncePerStabilizedState(t *testing.T) {
	var matches []Match
	c := New(testRuleSet(), func(m Match) { matches = append(matches, m) })

	base := time.Now()
	c.Feed([]byte("continue? [y/N]\n"))
	c.tick(base)
	c.Feed([]byte("still? [y/N]\n"))
	c.tick(base.Add(300 * time.Millisecond))
	require.Len(t, matches, 1)

	c.Feed([]byte("again? [y/N]\n"))
	c.tick(base.Add(400 * time.Millisecond))
	require.Len(t, matches, 1, "should not re-emit the same stabilized state")
}

func TestClassifier_StateChangeResetsDebounce(t *testing.T) {
	var matches []Match
	c := New(testRuleSet(), func(m Match) { matches = append(matches, m) })

	base := time.Now()
	c.Feed([]byte("continue? [y/N]\n"))
	c.tick(base)
	c.Feed([]byte("still? [y/N]\n"))
	c.tick(base.Add(300 * time.Millisecond))
	require.Len(t, matches, 1)

	c.Feed([]byte("a\nb\nc\nd\nidle>\n"))
	c.tick(base.Add(400 * time.Millisecond))
	require.Len(t, matches, 1, "new state needs its own two sightings")

	c.Feed([]byte("p\nq\nr\ns\nidle>\n"))
	c.tick(base.Add(700 * time.Millisecond))
	require.Len(t, matches, 2)
	require.Equal(t, StateIdle, matches[1].State)
}

func TestClassifier_NoMatchClearsPendingState(t *testing.T) {
	var matches []Match
	c := New(testRuleSet(), func(m Match) { matches = append(matches, m) })

	base := time.Now()
	c.Feed([]byte("continue? [y/N]\n"))
	c.tick(base)

	// Push enough unrelated lines to age the matching line out of the
	// 5-line window entirely.
	c.Feed([]byte("a\nb\nc\nd\ne\n"))
	c.tick(base.Add(10 * time.Millisecond))
	window, pending := c.Snapshot()
	require.NotContains(t, window, "continue? [y/N]")
	require.Empty(t, pending)

	// Re-sighting the prompt now has to restart its own persistence count.
	c.Feed([]byte("continue? [y/N]\n"))
	c.tick(base.Add(20 * time.Millisecond))
	require.Empty(t, matches, "state had to restart its persistence count")
}

func TestClassifier_SetRuleSetSwapsAtomically(t *testing.T) {
	c := New(testRuleSet(), nil)
	newRS := testRuleSet()
	newRS.Rules[0].ExpectedState = StateWorking
	c.SetRuleSet(newRS)
	require.Same(t, newRS, c.ruleSet)

	window, _ := c.Snapshot()
	require.Empty(t, window)
}
