package shim

import (
	"context"
	"fmt"
	"os"

	"github.com/tallr-dev/tallrd/internal/log"
	"github.com/tallr-dev/tallrd/internal/pty"
)

// IsClaude reports whether agent names the Claude CLI, the only agent the
// network interceptor supports. Other agents never get a shim.
func IsClaude(agent string) bool {
	return agent == "claude"
}

// Launch wires the interceptor into opts before handing it to pty.Spawn,
// wrapping the resulting Host's byte stream in onData exactly as Spawn
// would. If the shim can't be prepared (embedded asset unreadable, temp
// file unwritable), Launch logs the cause and spawns the child unmodified:
// detection then falls back to the text classifier alone.
//
// The returned cleanup must be called once the child has exited to remove
// the extracted shim file and close the supervisor's descriptor ends; it is
// always non-nil, even on the fallback path.
func Launch(ctx context.Context, opts pty.Options, onData func([]byte)) (*pty.Host, *Bridge, func(), error) {
	path, removeShim, err := Extract()
	if err != nil {
		log.Warn(log.CatNetwork, "shim unavailable, falling back to text classification only", "error", err)
		h, spawnErr := pty.Spawn(ctx, opts, onData)
		return h, nil, func() {}, spawnErr
	}

	telemetryR, telemetryW, err := os.Pipe()
	if err != nil {
		removeShim()
		log.Warn(log.CatNetwork, "shim telemetry pipe unavailable, falling back to text classification only", "error", err)
		h, spawnErr := pty.Spawn(ctx, opts, onData)
		return h, nil, func() {}, spawnErr
	}

	controlR, controlW, err := os.Pipe()
	if err != nil {
		removeShim()
		_ = telemetryR.Close()
		_ = telemetryW.Close()
		log.Warn(log.CatNetwork, "shim control pipe unavailable, falling back to text classification only", "error", err)
		h, spawnErr := pty.Spawn(ctx, opts, onData)
		return h, nil, func() {}, spawnErr
	}

	opts.ExtraFiles = append(opts.ExtraFiles, telemetryW, controlR)
	opts.Env = append(opts.Env, NodeOptionsEnv(path, envLookup(opts.Env, "NODE_OPTIONS")))

	bridge := NewBridge(telemetryR, controlW)

	cleanup := func() {
		removeShim()
		_ = telemetryR.Close()
		_ = telemetryW.Close()
		_ = controlR.Close()
		_ = controlW.Close()
	}

	h, err := pty.Spawn(ctx, opts, onData)
	if err != nil {
		cleanup()
		return nil, nil, func() {}, fmt.Errorf("shim: spawn with interceptor: %w", err)
	}

	// The child owns the write end of fd 3 and the read end of fd 4; the
	// supervisor's copies would otherwise keep those pipes half-open after
	// the child exits.
	_ = telemetryW.Close()
	_ = controlR.Close()

	return h, bridge, cleanup, nil
}

// envLookup returns the value of key within env (KEY=value entries),
// or "" if absent, so Launch can preserve a caller-supplied NODE_OPTIONS.
func envLookup(env []string, key string) string {
	prefix := key + "="
	for _, kv := range env {
		if len(kv) > len(prefix) && kv[:len(prefix)] == prefix {
			return kv[len(prefix):]
		}
	}
	return ""
}
