package pty

import "github.com/muesli/termenv"

// ColorProfile reports the supervisor's own controlling terminal's color
// capability. It never touches the child's PTY, whose output is always
// forwarded byte-for-byte regardless of what this process's stdout can
// render; it's used only to decide whether to ask the child to avoid
// colors it would otherwise garble.
func ColorProfile() termenv.Profile {
	return termenv.EnvColorProfile()
}

// NoColorEnv returns the "NO_COLOR=1" environment assignment to add to the
// child's environment when the controlling terminal can't render ANSI
// color, or "" when color is supported.
func NoColorEnv() string {
	if ColorProfile() == termenv.Ascii {
		return "NO_COLOR=1"
	}
	return ""
}
