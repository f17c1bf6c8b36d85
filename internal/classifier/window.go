package classifier

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"
	"github.com/rivo/uniseg"
)

// windowLines bounds the detection window to the last N non-empty lines of
// decoded child output, per spec: the classifier's sole input.
const windowLines = 5

// windowCellCap bounds the window's total display width regardless of line
// count, so a single enormous unbroken line can't make classification
// expensive.
const windowCellCap = 2048

// boxDrawingGlyphs lists the common box-drawing and bullet glyphs that
// are normalized to spaces so pattern rules don't need to special-case terminal chrome.
var boxDrawingGlyphs = []rune{
	'─', '│', '┌', '┐', '└', '┘', '├', '┤', '┬', '┴', '┼',
	'═', '║', '╔', '╗', '╚', '╝', '╠', '╣', '╦', '╩', '╬',
	'•', '●', '○', '▪', '▸', '›', '»',
}

// DetectionWindow builds the classifier's input from a raw byte chunk:
// strip ANSI escape sequences, normalize box-drawing/bullet glyphs to
// spaces, split on newlines, and keep the last windowLines non-empty
// lines (each truncated at a grapheme-and-width-aware boundary to
// windowCellCap/windowLines display cells so multi-byte and wide runes are
// never split).
func DetectionWindow(raw []byte) []string {
	text := ansi.Strip(string(raw))
	text = normalizeGlyphs(text)

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(trimmed) == "" {
			continue
		}
		lines = append(lines, truncateGraphemes(trimmed, windowCellCap/windowLines))
	}

	if len(lines) > windowLines {
		lines = lines[len(lines)-windowLines:]
	}
	return lines
}

func normalizeGlyphs(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isBoxDrawing(r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isBoxDrawing reports only the glyphs we normalize away. Braille spinner
// glyphs (U+2800-U+28FF) are deliberately left alone: the spinner-presence
// rule in the default pattern sets matches on them.
func isBoxDrawing(r rune) bool {
	for _, g := range boxDrawingGlyphs {
		if r == g {
			return true
		}
	}
	return false
}

// truncateGraphemes trims s to at most maxWidth terminal display cells,
// cutting only at grapheme cluster boundaries so combining marks and wide
// CJK/emoji sequences are never split mid-cluster or mid-column.
func truncateGraphemes(s string, maxWidth int) string {
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}

	var b strings.Builder
	width := 0
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		cluster := gr.Str()
		w := runewidth.StringWidth(cluster)
		if width+w > maxWidth {
			break
		}
		b.WriteString(cluster)
		width += w
	}
	return b.String()
}
