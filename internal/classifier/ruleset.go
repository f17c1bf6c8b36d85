package classifier

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/tallr-dev/tallrd/internal/log"
)

// Loader resolves an agent's RuleSet, preferring an on-disk override over
// the embedded default. Swaps are atomic: callers get back an immutable
// RuleSet value and never observe a partially-loaded set.
type Loader struct {
	overrideDir string
}

// NewLoader creates a Loader that checks overrideDir (e.g.
// ~/.config/tallr/rules) for a "<agent>.yaml" override before falling back
// to the embedded default for that agent.
func NewLoader(overrideDir string) *Loader {
	return &Loader{overrideDir: overrideDir}
}

// Load returns the compiled RuleSet for agent. A malformed override file is
// logged and the embedded default is used instead, rather than failing the
// whole classifier.
func (l *Loader) Load(agent string) (*RuleSet, error) {
	if l.overrideDir != "" {
		path := filepath.Join(l.overrideDir, agent+".yaml")
		if data, err := os.ReadFile(path); err == nil {
			rs, err := parseRuleSet(data)
			if err != nil {
				log.Warn(log.CatPattern, "ignoring malformed rule override", "agent", agent, "path", path, "error", err)
			} else {
				log.Info(log.CatPattern, "loaded rule override", "agent", agent, "path", path)
				return rs, nil
			}
		}
	}

	data, err := defaultRules.ReadFile("rules/" + agent + ".yaml")
	if err != nil {
		data, err = defaultRules.ReadFile("rules/generic.yaml")
		if err != nil {
			return nil, fmt.Errorf("classifier: no rule set for agent %q and no generic fallback: %w", agent, err)
		}
	}
	return parseRuleSet(data)
}

// OverridePath returns the path Load would check for agent's override,
// used by the hot-reload watcher.
func (l *Loader) OverridePath(agent string) string {
	if l.overrideDir == "" {
		return ""
	}
	return filepath.Join(l.overrideDir, agent+".yaml")
}

func parseRuleSet(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("classifier: parse rule set: %w", err)
	}

	compiled := make([]Rule, 0, len(rs.Rules))
	for _, r := range rs.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			log.Warn(log.CatPattern, "skipping malformed rule", "pattern", r.Pattern, "error", err)
			continue
		}
		r.compiled = re
		compiled = append(compiled, r)
	}
	rs.Rules = compiled
	return &rs, nil
}
