// Package cmd implements tallr's command-line surface: a wrapper command
// that supervises one long-lived interactive CLI coding agent, plus a
// standalone daemon form of the same control plane.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tallr-dev/tallrd/internal/agents"
	"github.com/tallr-dev/tallrd/internal/classifier"
	"github.com/tallr-dev/tallrd/internal/config"
	"github.com/tallr-dev/tallrd/internal/controlplane"
	"github.com/tallr-dev/tallrd/internal/controlplane/api"
	"github.com/tallr-dev/tallrd/internal/hooks"
	"github.com/tallr-dev/tallrd/internal/log"
	"github.com/tallr-dev/tallrd/internal/pty"
	"github.com/tallr-dev/tallrd/internal/shim"
	"github.com/tallr-dev/tallrd/internal/tracing"
	"github.com/tallr-dev/tallrd/internal/watcher"
)

var version = "dev"

// SetVersion is called from main with build-time version information.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

var rootCmd = &cobra.Command{
	Use:                "tallr <agent-command> [agent-args...]",
	Short:              "Supervise a long-lived interactive CLI coding agent",
	Long:               `tallr wraps a CLI coding agent (claude, gemini, codex, ...) behind a pseudo-terminal, derives its lifecycle state from network, hook, and text-pattern detection, and exposes it over a local HTTP control plane.`,
	DisableFlagParsing: true,
	SilenceUsage:       true,
	SilenceErrors:      true,
	RunE:               runSupervise,
}

var runCmd = &cobra.Command{
	Use:                "run -- <agent-command> [agent-args...]",
	Short:              "Supervise one agent invocation and exit with its exit code",
	DisableFlagParsing: true,
	SilenceUsage:       true,
	SilenceErrors:      true,
	RunE: func(_ *cobra.Command, args []string) error {
		return runSupervise(rootCmd, stripLeadingDoubleDash(args))
	},
}

var daemonCmd = &cobra.Command{
	Use:           "daemon",
	Short:         "Run the control plane standalone, with no supervised child",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd, daemonCmd)
}

// stripLeadingDoubleDash drops the "--" cobra's own parser leaves in place
// for `tallr run -- claude ...`, since run's RunE bypasses flag parsing
// entirely (DisableFlagParsing) and receives the raw argv.
func stripLeadingDoubleDash(args []string) []string {
	if len(args) > 0 && args[0] == "--" {
		return args[1:]
	}
	return args
}

// Execute runs the root command and returns its error.
func Execute() error {
	return rootCmd.Execute()
}

// supervisorDeps bundles the control plane dependencies shared by
// `tallr run` and `tallr daemon`, so both build and tear them down
// identically.
type supervisorDeps struct {
	cp       controlplane.ControlPlane
	server   *api.Server
	provider *tracing.Provider
	token    string
	closer   io.Closer // the durable registry, when TALLR_DURABLE is set
}

// bootstrap loads daemon config and builds a control plane, its HTTP
// server (not yet started), and its tracing provider. Shared by both
// `tallr run` and `tallr daemon`.
func bootstrap(ctx context.Context) (*supervisorDeps, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	provider, err := buildTracingProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("configuring tracing: %w", err)
	}

	token := os.Getenv("TALLR_TOKEN")
	if token == "" {
		token = cfg.Token
	}
	if token == "" {
		if token, err = api.GenerateToken(); err != nil {
			return nil, fmt.Errorf("generating control plane token: %w", err)
		}
	}

	addr := os.Getenv("TALLR_GATEWAY")
	if addr == "" {
		addr = cfg.Addr
	}

	var registry controlplane.Registry
	var closer io.Closer
	if cfg.Durable {
		dbPath := cfg.DurableDBPath
		if dbPath == "" {
			dbPath = config.DefaultDurableDBPath()
		}
		durable, err := controlplane.NewDurableRegistry(ctx, dbPath)
		if err != nil {
			return nil, fmt.Errorf("opening durable registry: %w", err)
		}
		registry, closer = durable, durable
		log.Info(log.CatState, "durable registry enabled", "path", dbPath)
	}

	cp := controlplane.New(controlplane.Config{Registry: registry, Tracer: provider.Tracer()})

	server, err := api.NewServer(api.ServerConfig{
		Addr:         addr,
		ControlPlane: cp,
		Token:        token,
	})
	if err != nil {
		return nil, fmt.Errorf("starting control plane: %w", err)
	}

	return &supervisorDeps{cp: cp, server: server, provider: provider, token: token, closer: closer}, nil
}

// buildTracingProvider derives a tracing.Config from the daemon config,
// with TALLR_OTLP_ENDPOINT overriding the exporter to otlp when set.
func buildTracingProvider(cfg config.Config) (*tracing.Provider, error) {
	tc := tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		Exporter:     cfg.Tracing.Exporter,
		FilePath:     cfg.Tracing.FilePath,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
		ServiceName:  "tallr-supervisor",
	}
	if endpoint := os.Getenv("TALLR_OTLP_ENDPOINT"); endpoint != "" {
		tc.Enabled = true
		tc.Exporter = "otlp"
		tc.OTLPEndpoint = endpoint
	}
	if tc.Exporter == "file" && tc.FilePath == "" {
		tc.FilePath = config.DefaultTracesFilePath()
	}
	if tc.SampleRate <= 0 {
		tc.SampleRate = 1.0
	}
	return tracing.NewProvider(tc)
}

func (d *supervisorDeps) shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_ = d.server.Stop(shutdownCtx)
	_ = d.cp.Shutdown(ctx)
	_ = d.provider.Shutdown(ctx)
	if d.closer != nil {
		_ = d.closer.Close()
	}
}

// runSupervise is the operation behind `tallr <agent-command> [args...]`
// and `tallr run -- <agent-command> [args...]`: it spawns the agent under
// a PTY, wires up whichever detectors apply to it, serves the Control
// Plane, and exits with the child's exit code.
func runSupervise(_ *cobra.Command, args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		return rootCmd.Help()
	}

	if debug := os.Getenv("DEBUG"); debug != "" {
		logPath := filepath.Join(os.TempDir(), "tallr-debug.log")
		if cleanup, err := log.Init(logPath); err == nil {
			defer cleanup()
			all, cats := log.ParseNamespaces(debug)
			log.SetNamespaces(all, cats)
		}
	}

	command := args[0]
	childArgs := args[1:]

	agent := controlplane.Agent(os.Getenv("TL_AGENT"))
	if agent == "" {
		agent = agents.Detect(command)
	}
	profile := agents.Lookup(agent)

	repoPath := os.Getenv("TL_REPO")
	if repoPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving working directory: %w", err)
		}
		repoPath = wd
	}

	ctx := context.Background()
	deps, err := bootstrap(ctx)
	if err != nil {
		return err
	}

	task, err := deps.cp.Upsert(ctx, controlplane.TaskSpec{
		Agent:        agent,
		ProjectID:    controlplane.ProjectID(os.Getenv("TL_PROJECT")),
		RepoPath:     repoPath,
		Title:        os.Getenv("TL_TITLE"),
		PreferredIDE: os.Getenv("TL_IDE"),
	})
	if err != nil {
		return fmt.Errorf("registering task: %w", err)
	}

	serverErrs := make(chan error, 1)
	go func() { serverErrs <- deps.server.Start() }()

	exitCode, superviseErr := superviseChild(deps.cp, task, profile, command, childArgs)

	deps.shutdown(context.Background())

	select {
	case err := <-serverErrs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(log.CatAPI, "control plane server error", "error", err)
		}
	default:
	}

	if superviseErr != nil {
		log.ErrorErr(log.CatCLI, "supervise failed", superviseErr, "taskId", task.ID)
		return superviseErr
	}
	os.Exit(exitCode)
	return nil
}

// runDaemon is the operation behind `tallr daemon`: it starts the control
// plane with no supervised child, for sharing across multiple `tallr run`
// invocations pointed at the same TALLR_GATEWAY, until it receives
// SIGINT/SIGTERM.
func runDaemon(_ *cobra.Command, _ []string) error {
	if debug := os.Getenv("DEBUG"); debug != "" {
		logPath := filepath.Join(os.TempDir(), "tallr-debug.log")
		if cleanup, err := log.Init(logPath); err == nil {
			defer cleanup()
			all, cats := log.ParseNamespaces(debug)
			log.SetNamespaces(all, cats)
		}
	}

	ctx := context.Background()
	deps, err := bootstrap(ctx)
	if err != nil {
		return err
	}

	serverErrs := make(chan error, 1)
	go func() { serverErrs <- deps.server.Start() }()
	fmt.Fprintf(os.Stderr, "tallrd daemon listening on :%d\n", deps.server.Port())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	deps.shutdown(context.Background())

	select {
	case err := <-serverErrs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	default:
	}
	return nil
}

// superviseChild spawns command under a PTY, wires the classifier (and,
// for Claude, the network shim and hook bridge) into cp for task, forwards
// terminal signals/resizes, and blocks until the child exits. It returns
// the child's exit code.
func superviseChild(cp controlplane.ControlPlane, task *controlplane.Task, profile agents.Profile, command string, args []string) (int, error) {
	ctx := context.Background()

	loader := classifier.NewLoader(rulesOverrideDir())
	ruleSet, err := loader.Load(profile.ClassifierRuleSet)
	if err != nil {
		log.Warn(log.CatPattern, "classifier running without a rule set", "error", err)
	}

	var mu sync.Mutex
	emitDetection := func(kind controlplane.DetectionKind, source controlplane.DetectionSource, confidence controlplane.Confidence, payload any) {
		mu.Lock()
		defer mu.Unlock()
		if err := cp.ApplyDetection(ctx, controlplane.DetectionEvent{
			TaskID:     task.ID,
			Source:     source,
			Kind:       kind,
			Confidence: confidence,
			Timestamp:  time.Now(),
			Payload:    payload,
		}); err != nil {
			log.Warn(log.CatState, "detection event rejected", "error", err)
		}
	}

	c := classifier.New(ruleSet, func(m classifier.Match) {
		emitDetection(controlplane.KindPatternMatch, controlplane.SourcePattern, controlplane.ConfidenceMedium, controlplane.TaskState(m.State))
	})
	classifierStop := make(chan struct{})
	go c.Run(classifierStop)
	defer close(classifierStop)

	ruleWatcher := watchRuleOverride(loader, profile.ClassifierRuleSet, c)
	if ruleWatcher != nil {
		defer func() { _ = ruleWatcher.Stop() }()
	}

	opts := pty.Options{Command: command, Args: args, Cols: 80, Rows: 24}
	if cols, rows, err := pty.Size(os.Stdin); err == nil {
		opts.Cols, opts.Rows = cols, rows
	}
	if v := pty.NoColorEnv(); v != "" {
		opts.Env = append(opts.Env, v)
	}

	onData := func(b []byte) {
		c.Feed(b)
		_, _ = os.Stdout.Write(b)
	}

	var host *pty.Host
	var bridge *shim.Bridge
	var shimCleanup func()

	if profile.SupportsShim {
		host, bridge, shimCleanup, err = shim.Launch(ctx, opts, onData)
	} else {
		shimCleanup = func() {}
		host, err = pty.Spawn(ctx, opts, onData)
	}
	if err != nil {
		return 1, fmt.Errorf("spawning %s: %w", command, err)
	}
	defer shimCleanup()

	if bridge != nil {
		go func() {
			_ = bridge.Run(func(ev shim.Event) {
				switch ev.Type {
				case shim.TypeFetchStart:
					emitDetection(controlplane.KindFetchStart, controlplane.SourceNetwork, controlplane.ConfidenceHigh, nil)
				case shim.TypeFetchEnd:
					emitDetection(controlplane.KindFetchEnd, controlplane.SourceNetwork, controlplane.ConfidenceHigh, nil)
				case shim.TypePermissionPrompt:
					emitDetection(controlplane.KindPermissionPrompt, controlplane.SourceNetwork, controlplane.ConfidenceHigh, nil)
				case shim.TypePermissionRequest:
					emitDetection(controlplane.KindPermissionRequest, controlplane.SourceNetwork, controlplane.ConfidenceHigh, nil)
				}
			})
		}()
	}

	if profile.SupportsHooks {
		if settingsPath, err := hooks.DefaultSettingsPath(); err == nil {
			gateway := os.Getenv("TALLR_GATEWAY")
			if gateway == "" {
				gateway = "http://" + config.DefaultConfig().Addr
			}
			token := os.Getenv("TALLR_TOKEN")
			if err := hooks.Install(settingsPath, gateway, token); err != nil {
				log.Warn(log.CatHook, "failed to install hooks", "error", err)
			} else if hookWatcher, err := hooks.WatchAndReinstall(settingsPath, gateway, token); err == nil {
				defer func() { _ = hookWatcher.Stop() }()
			} else {
				log.Warn(log.CatHook, "failed to watch hook settings for external edits", "error", err)
			}
		}
	}

	rawMode, rawErr := pty.EnableRawMode(os.Stdin)
	if rawErr == nil {
		defer func() { _ = rawMode.Restore() }()
	}

	stopForwarding := make(chan struct{})
	host.ForwardSignals(stopForwarding)
	host.ForwardResize(os.Stdin, stopForwarding)
	defer close(stopForwarding)

	go copyStdinToHost(host)

	info := host.Wait()
	if bridge != nil {
		bridge.DenyAll()
	}

	if info.Err != nil || info.Code != 0 {
		var payload any
		if info.Err != nil {
			payload = info.Err.Error()
		} else {
			payload = info.Code
		}
		emitDetection(controlplane.KindChildExit, controlplane.SourceHook, controlplane.ConfidenceHigh, payload)
		if info.Err != nil {
			return 1, nil
		}
		return info.Code, nil
	}

	emitDetection(controlplane.KindChildExit, controlplane.SourceHook, controlplane.ConfidenceHigh, 0)
	if _, err := cp.MarkDone(ctx, task.ID, ""); err != nil {
		log.Warn(log.CatState, "failed to mark task done", "error", err)
	}
	return 0, nil
}

// watchRuleOverride starts a debounced watch of agent's on-disk rule
// override, if loader has one configured, hot-swapping the classifier's
// active RuleSet whenever the file changes. Returns nil if there is no
// override path to watch, or if watching it fails (e.g. the rules
// directory doesn't exist yet) — the classifier keeps running with
// whatever rule set it already loaded.
func watchRuleOverride(loader *classifier.Loader, agent string, c *classifier.Classifier) *watcher.Watcher {
	overridePath := loader.OverridePath(agent)
	if overridePath == "" {
		return nil
	}
	if _, err := os.Stat(filepath.Dir(overridePath)); err != nil {
		return nil
	}

	w, err := watcher.New(watcher.DefaultConfig(overridePath))
	if err != nil {
		log.Warn(log.CatPattern, "failed to watch rule override", "error", err)
		return nil
	}
	changes, err := w.Start()
	if err != nil {
		log.Warn(log.CatPattern, "failed to watch rule override", "error", err)
		return nil
	}

	go func() {
		for range changes {
			rs, err := loader.Load(agent)
			if err != nil {
				log.Warn(log.CatPattern, "failed to reload rule override", "agent", agent, "error", err)
				continue
			}
			c.SetRuleSet(rs)
			log.Info(log.CatPattern, "reloaded rule override", "agent", agent)
		}
	}()
	return w
}

// rulesOverrideDir returns ~/.config/tallr/rules, the directory
// classifier.Loader checks for a per-agent override before falling back to
// its embedded defaults.
func rulesOverrideDir() string {
	dir, err := config.ConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "rules")
}

func copyStdinToHost(host *pty.Host) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if _, werr := host.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}
