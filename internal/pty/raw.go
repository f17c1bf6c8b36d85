package pty

import (
	"os"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// RawMode puts the user's controlling terminal into raw mode for the
// lifetime of the supervised child, forwarding every keystroke to the PTY
// master unprocessed (no line buffering, no local echo, no signal
// generation from the controlling tty — the child's own job control takes
// over that role). If f is not a terminal, RawMode is a no-op and Restore
// does nothing.
type RawMode struct {
	fd      int
	prev    *term.State
	isATerm bool
}

// EnableRawMode switches f into raw mode if it is a terminal.
func EnableRawMode(f *os.File) (*RawMode, error) {
	fd := int(f.Fd())
	if !isatty.IsTerminal(uintptr(fd)) && !isatty.IsCygwinTerminal(uintptr(fd)) {
		return &RawMode{fd: fd, isATerm: false}, nil
	}

	prev, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return &RawMode{fd: fd, prev: prev, isATerm: true}, nil
}

// Restore returns the terminal to cooked mode. It must be called on every
// exit path, including crash and signal, or the user's shell is left in
// raw mode after the supervisor exits.
func (r *RawMode) Restore() error {
	if r == nil || !r.isATerm || r.prev == nil {
		return nil
	}
	return term.Restore(r.fd, r.prev)
}

// Size reports the controlling terminal's current dimensions in columns and
// rows, used to give the child PTY its initial size and on SIGWINCH.
func Size(f *os.File) (cols, rows int, err error) {
	cols, rows, err = term.GetSize(int(f.Fd()))
	return cols, rows, err
}
