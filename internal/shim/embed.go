// Package shim pre-loads the network interceptor into Claude's Node
// runtime before its entry point executes, and speaks the NDJSON
// descriptor protocol (fd 3 telemetry, fd 4 control) with the running
// shim. It is Claude-only: other agents never get a shim and fall back to
// the text classifier exclusively.
package shim

import (
	"embed"
	"fmt"
	"os"
)

//go:embed assets/intercept.js
var assets embed.FS

// shimVersion is bumped whenever assets/intercept.js's wire contract
// changes, so a stale extracted copy on disk is never reused silently.
const shimVersion = "1"

// Extract writes the embedded interceptor to a process-private temp file
// and returns its path, suitable for NODE_OPTIONS="--require <path>".
// The file is recreated on every call rather than cached across runs so a
// binary upgrade always ships the matching shim.
func Extract() (path string, cleanup func(), err error) {
	data, err := assets.ReadFile("assets/intercept.js")
	if err != nil {
		return "", nil, fmt.Errorf("shim: read embedded asset: %w", err)
	}

	f, err := os.CreateTemp("", fmt.Sprintf("tallr-intercept-%s-*.js", shimVersion))
	if err != nil {
		return "", nil, fmt.Errorf("shim: create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", nil, fmt.Errorf("shim: write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", nil, fmt.Errorf("shim: close temp file: %w", err)
	}

	name := f.Name()
	return name, func() { _ = os.Remove(name) }, nil
}

// NodeOptionsEnv returns the NODE_OPTIONS environment entry that preloads
// the shim at path, appending to any pre-existing NODE_OPTIONS the user has
// set rather than clobbering it.
func NodeOptionsEnv(path string, existing string) string {
	opt := fmt.Sprintf(`--require %q`, path)
	if existing == "" {
		return "NODE_OPTIONS=" + opt
	}
	return "NODE_OPTIONS=" + existing + " " + opt
}
