package pty

import (
	"os"
	"os/signal"
	"syscall"

	creackpty "github.com/creack/pty"

	"github.com/tallr-dev/tallrd/internal/log"
)

// ForwardSignals relays SIGINT, SIGQUIT, SIGTSTP, SIGCONT and SIGTERM
// received by the supervisor to the child's process group, so interactive
// key sequences and job control behave as if the agent were run directly.
// It returns at once; the relaying goroutine runs until stop is closed.
func (h *Host) ForwardSignals(stop <-chan struct{}) {
	sigCh := make(chan os.Signal, 16)
	signal.Notify(sigCh,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTSTP,
		syscall.SIGCONT,
		syscall.SIGTERM,
	)
	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case sig := <-sigCh:
				s, ok := sig.(syscall.Signal)
				if !ok {
					continue
				}
				if err := h.Signal(s); err != nil {
					log.Debug(log.CatPTY, "signal forward failed", "signal", s, "error", err)
				}
			case <-h.exitCh:
				return
			case <-stop:
				return
			}
		}
	}()
}

// ForwardResize watches for SIGWINCH on the supervisor's own controlling
// terminal and mirrors the new size onto the child's PTY. tty is the
// supervisor's stdin/stdout (whichever is the real terminal).
func (h *Host) ForwardResize(tty *os.File, stop <-chan struct{}) {
	winch := make(chan os.Signal, 4)
	signal.Notify(winch, syscall.SIGWINCH)

	apply := func() {
		cols, rows, err := Size(tty)
		if err != nil {
			return
		}
		_ = creackpty.Setsize(h.ptmx, &creackpty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	}
	apply()

	go func() {
		defer signal.Stop(winch)
		for {
			select {
			case <-winch:
				apply()
			case <-h.exitCh:
				return
			case <-stop:
				return
			}
		}
	}()
}
