package classifier

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectionWindow_StripsANSIAndKeepsLastFiveNonEmptyLines(t *testing.T) {
	raw := []byte("\x1b[2J\x1b[1;1Hline1\n\nline2\n\x1b[31mline3\x1b[0m\nline4\nline5\nline6\n")
	window := DetectionWindow(raw)

	require.Equal(t, []string{"line2", "line3", "line4", "line5", "line6"}, window)
}

func TestDetectionWindow_NormalizesBoxDrawingGlyphs(t *testing.T) {
	raw := []byte("│ Do you want to proceed? │\n")
	window := DetectionWindow(raw)

	require.Len(t, window, 1)
	require.NotContains(t, window[0], "│")
	require.Contains(t, window[0], "Do you want to proceed?")
}

func TestDetectionWindow_EmptyInputYieldsNoLines(t *testing.T) {
	require.Empty(t, DetectionWindow(nil))
	require.Empty(t, DetectionWindow([]byte("\n\n\n")))
}

func TestDetectionWindow_PreservesSpinnerGlyph(t *testing.T) {
	raw := []byte("⠋ Thinking...\n")
	window := DetectionWindow(raw)

	require.Len(t, window, 1)
	require.Contains(t, window[0], "⠋")
}

func TestTruncateGraphemes_IsWidthAwareNotByteAware(t *testing.T) {
	// Each CJK character is one grapheme cluster but two display cells, so
	// a byte-length truncation and a width truncation diverge here.
	wide := "文文文文文文文文文文"
	got := truncateGraphemes(wide, 4)
	require.Equal(t, "文文", got)
}

func TestTruncateGraphemes_UnderBudgetIsUnchanged(t *testing.T) {
	require.Equal(t, "short", truncateGraphemes("short", 100))
}
