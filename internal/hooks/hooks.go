// Package hooks installs Tallr's own entries into Claude's hook
// configuration file, so PreToolUse/Notification/Stop events reach the
// Control Plane even when the network shim (C3) is unavailable. It never
// touches entries it did not write.
package hooks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tallr-dev/tallrd/internal/log"
)

// Kind names a Claude hook event. Only the ones Tallr cares about.
type Kind string

const (
	KindPreToolUse   Kind = "PreToolUse"
	KindNotification Kind = "Notification"
	KindStop         Kind = "Stop"
)

// keyPrefix marks every hook entry Tallr owns, so a merge can tell its own
// entries apart from the user's without relying on command-string equality.
const keyPrefix = "tallr:"

// HookEntry is one matcher block within a Kind's array, e.g.
// {"matcher": "*", "hooks": [{"type": "command", "command": "..."}]}.
type HookEntry struct {
	Matcher string       `json:"matcher,omitempty"`
	Hooks   []HookAction `json:"hooks"`
}

// HookAction is a single command Claude runs when the matcher fires.
type HookAction struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// settingsDoc is the subset of Claude's settings.json this package touches.
// Unknown top-level keys are preserved via rest.
type settingsDoc struct {
	Hooks map[Kind][]HookEntry
	rest  map[string]json.RawMessage
}

// Install merges Tallr's hook entries into the settings file at path,
// preserving every existing entry (Tallr's own or the user's). It is
// idempotent: installing twice produces byte-identical output, and a
// pre-existing Tallr entry with a stale gateway/token is replaced in place
// rather than duplicated.
func Install(path, gateway, token string) error {
	doc, err := readSettings(path)
	if err != nil {
		return fmt.Errorf("hooks: read settings: %w", err)
	}

	if doc.Hooks == nil {
		doc.Hooks = make(map[Kind][]HookEntry)
	}

	for kind, entry := range desiredEntries(gateway, token) {
		doc.Hooks[kind] = mergeEntry(doc.Hooks[kind], entry)
	}

	return writeSettings(path, doc)
}

// desiredEntries builds the hook entries Tallr wants present for each kind,
// one command per kind that POSTs the event to the Control Plane.
func desiredEntries(gateway, token string) map[Kind]HookEntry {
	return map[Kind]HookEntry{
		KindPreToolUse:   {Matcher: "*", Hooks: []HookAction{commandFor(KindPreToolUse, gateway, token)}},
		KindNotification: {Matcher: "*", Hooks: []HookAction{commandFor(KindNotification, gateway, token)}},
		KindStop:         {Matcher: "*", Hooks: []HookAction{commandFor(KindStop, gateway, token)}},
	}
}

// commandFor renders the shell one-liner that posts the current task's
// state to the control plane. CLAUDE_TASK_ID is whatever environment
// variable Claude exposes for its own session identity; tallrd correlates
// it against the task it registered at spawn time.
func commandFor(kind Kind, gateway, token string) HookAction {
	cmd := fmt.Sprintf(
		`curl -s -o /dev/null -X POST %q -H "Authorization: Bearer %s" -H "Content-Type: application/json" -d '{"taskId":"'"$CLAUDE_TASK_ID"'","hook":"%s"}'`,
		gateway+"/v1/tasks/state", token, kind,
	)
	return HookAction{Type: "command", Command: keyPrefix + string(kind) + "\n" + cmd}
}

// mergeEntry replaces any existing Tallr-owned action within existing that
// shares wanted's key, appends wanted if none matched, and leaves every
// user-authored action untouched.
func mergeEntry(existing []HookEntry, wanted HookEntry) []HookEntry {
	for i, e := range existing {
		if e.Matcher != wanted.Matcher {
			continue
		}
		replaced := false
		actions := make([]HookAction, 0, len(e.Hooks))
		for _, a := range e.Hooks {
			if isTallrOwned(a.Command) {
				if !replaced {
					actions = append(actions, wanted.Hooks[0])
					replaced = true
				}
				continue
			}
			actions = append(actions, a)
		}
		if !replaced {
			actions = append(actions, wanted.Hooks[0])
		}
		existing[i].Hooks = actions
		return existing
	}
	return append(existing, wanted)
}

func isTallrOwned(command string) bool {
	return len(command) >= len(keyPrefix) && command[:len(keyPrefix)] == keyPrefix
}

func readSettings(path string) (settingsDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settingsDoc{Hooks: map[Kind][]HookEntry{}, rest: map[string]json.RawMessage{}}, nil
		}
		return settingsDoc{}, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return settingsDoc{}, fmt.Errorf("parse existing settings: %w", err)
	}

	doc := settingsDoc{Hooks: map[Kind][]HookEntry{}, rest: raw}
	if hooksRaw, ok := raw["hooks"]; ok {
		if err := json.Unmarshal(hooksRaw, &doc.Hooks); err != nil {
			log.Warn(log.CatHook, "existing hooks block unparsable, starting fresh", "error", err)
			doc.Hooks = map[Kind][]HookEntry{}
		}
	}
	delete(doc.rest, "hooks")

	return doc, nil
}

func writeSettings(path string, doc settingsDoc) error {
	out := make(map[string]json.RawMessage, len(doc.rest)+1)
	for k, v := range doc.rest {
		out[k] = v
	}

	hooksJSON, err := json.MarshalIndent(doc.Hooks, "", "  ")
	if err != nil {
		return err
	}
	out["hooks"] = hooksJSON

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if existing, err := os.ReadFile(path); err == nil && string(existing) == string(data) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// DefaultSettingsPath returns ~/.claude/settings.json.
func DefaultSettingsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".claude", "settings.json"), nil
}
