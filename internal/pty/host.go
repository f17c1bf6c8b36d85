// Package pty hosts the child agent process behind a pseudo-terminal so it
// behaves identically to a direct invocation: job control, signals, resize,
// and raw keystrokes all pass through unmodified. It is the innermost layer
// the rest of the supervisor builds on.
package pty

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	creackpty "github.com/creack/pty"

	"github.com/tallr-dev/tallrd/internal/log"
)

// ErrAlreadyExited is returned by operations attempted after the child has
// exited.
var ErrAlreadyExited = errors.New("pty: child already exited")

// Options configures a Host's child process.
type Options struct {
	// Command and Args name the binary to spawn and its arguments.
	Command string
	Args    []string

	// Env is appended to os.Environ(). Entries shadow earlier ones with
	// the same key via the usual exec.Cmd last-wins semantics.
	Env []string

	// Dir is the child's working directory; empty means the supervisor's own.
	Dir string

	// ExtraFiles exposes additional open ends numbered 3 and optionally 4
	// for out-of-band IPC (the network shim's descriptor protocol). Index 0
	// becomes fd 3 in the child, index 1 becomes fd 4.
	ExtraFiles []*os.File

	// Cols and Rows set the PTY's initial window size.
	Cols int
	Rows int
}

// ExitInfo describes how the child terminated.
type ExitInfo struct {
	Code   int
	Signal os.Signal
	Err    error
}

// Host owns one child's pseudo-terminal pair and pumps bytes between it and
// the supervisor. One Host exists per supervised task.
type Host struct {
	cmd  *exec.Cmd
	ptmx *os.File

	onData func([]byte)

	mu       sync.Mutex
	exited   bool
	exitInfo ExitInfo
	exitCh   chan struct{}

	wg sync.WaitGroup
}

// Spawn allocates a PTY pair and starts the child with the slave as its
// controlling terminal. The child is placed in its own session (which, per
// creack/pty's Start, makes it its own process group leader too — pgid ==
// pid), so signal delivery can target -pgid without a separate Setpgid call.
//
// onData is invoked from a dedicated goroutine for every chunk of bytes read
// from the child; it must not block. Spawn returns once the child process
// has started; callers should call Wait to observe its exit.
func Spawn(ctx context.Context, opts Options, onData func([]byte)) (*Host, error) {
	if opts.Command == "" {
		return nil, fmt.Errorf("pty: command is required")
	}

	// #nosec G204 -- opts.Command/Args come from the CLI invocation, not
	// untrusted network input.
	cmd := exec.CommandContext(ctx, opts.Command, opts.Args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	if len(opts.ExtraFiles) > 0 {
		cmd.ExtraFiles = opts.ExtraFiles
	}

	size := &creackpty.Winsize{
		Cols: uint16(opts.Cols),
		Rows: uint16(opts.Rows),
	}
	if size.Cols == 0 {
		size.Cols = 80
	}
	if size.Rows == 0 {
		size.Rows = 24
	}

	ptmx, err := creackpty.StartWithSize(cmd, size)
	if err != nil {
		return nil, fmt.Errorf("pty: spawn %s: %w", opts.Command, err)
	}

	log.Debug(log.CatPTY, "child spawned", "command", opts.Command, "pid", cmd.Process.Pid)

	h := &Host{
		cmd:    cmd,
		ptmx:   ptmx,
		onData: onData,
		exitCh: make(chan struct{}),
	}

	h.wg.Add(1)
	go h.readLoop()
	go h.waitLoop()

	return h, nil
}

// readLoop is the child→TTY pump described in §5: it reads raw bytes from
// the PTY master and tees them to onData. It never decodes the stream as
// UTF-8; stripping and classification are the caller's concern.
func (h *Host) readLoop() {
	defer h.wg.Done()
	buf := make([]byte, 32*1024)
	for {
		n, err := h.ptmx.Read(buf)
		if n > 0 && h.onData != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			h.onData(chunk)
		}
		if err != nil {
			return
		}
	}
}

// waitLoop is the child-exit waiter: it blocks on cmd.Wait and records the
// terminal outcome once.
func (h *Host) waitLoop() {
	err := h.cmd.Wait()

	info := ExitInfo{}
	if err == nil {
		info.Code = 0
	} else {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			info.Code = exitErr.ExitCode()
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				info.Signal = status.Signal()
			}
		} else {
			info.Err = err
			info.Code = -1
		}
	}

	h.mu.Lock()
	h.exited = true
	h.exitInfo = info
	h.mu.Unlock()
	close(h.exitCh)

	_ = h.ptmx.Close()
}

// Write sends bytes from the user's TTY into the child, verbatim.
func (h *Host) Write(p []byte) (int, error) {
	h.mu.Lock()
	exited := h.exited
	h.mu.Unlock()
	if exited {
		return 0, ErrAlreadyExited
	}
	return h.ptmx.Write(p)
}

// Resize propagates a window-size change to the PTY master; the child
// receives SIGWINCH as a side effect of the ioctl.
func (h *Host) Resize(cols, rows int) error {
	return creackpty.Setsize(h.ptmx, &creackpty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
}

// Signal delivers sig to the child's entire process group rather than just
// the child itself, so that interactive key sequences (Ctrl-C, Ctrl-Z) reach
// whatever foreground subprocess the agent itself may have spawned. The
// supervisor never consumes these signals for itself.
func (h *Host) Signal(sig syscall.Signal) error {
	h.mu.Lock()
	exited := h.exited
	h.mu.Unlock()
	if exited {
		return ErrAlreadyExited
	}
	pid := h.cmd.Process.Pid
	return syscall.Kill(-pid, sig)
}

// Pid returns the child's process ID, or -1 if the process never started.
func (h *Host) Pid() int {
	if h.cmd.Process == nil {
		return -1
	}
	return h.cmd.Process.Pid
}

// Done returns a channel closed once the child has exited.
func (h *Host) Done() <-chan struct{} {
	return h.exitCh
}

// Wait blocks until the child exits and the read pump has drained, then
// returns how it terminated. Safe to call from multiple goroutines.
func (h *Host) Wait() ExitInfo {
	<-h.exitCh
	h.wg.Wait()
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitInfo
}

// WaitTimeout is Wait bounded by a deadline, used during graceful shutdown
// so the supervisor does not hang forever on a wedged child.
func (h *Host) WaitTimeout(d time.Duration) (ExitInfo, bool) {
	select {
	case <-h.exitCh:
		return h.Wait(), true
	case <-time.After(d):
		return ExitInfo{}, false
	}
}

// Close releases the PTY master. Safe to call after the child has already
// exited; idempotent.
func (h *Host) Close() error {
	return h.ptmx.Close()
}
