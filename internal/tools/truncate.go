package tools

import (
	"fmt"
	"strings"
)

// TruncationMode selects which part of oversized output survives.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// Limits bounds the output a tool hands back to the model. Zero fields are
// unlimited.
type Limits struct {
	MaxChars int
	MaxLines int
	Mode     TruncationMode
}

var (
	readLimits = Limits{MaxChars: 50000, Mode: TruncateHeadTail}
	bashLimits = Limits{MaxChars: 30000, MaxLines: 256, Mode: TruncateHeadTail}
	// streamed partial output keeps only the most recent lines.
	progressLimits = Limits{MaxChars: 8000, MaxLines: 40, Mode: TruncateTail}
)

// Truncate applies character then line truncation and reports whether
// anything was removed.
func Truncate(output string, l Limits) (string, bool) {
	truncated := false
	if l.MaxChars > 0 && len(output) > l.MaxChars {
		output = TruncateOutput(output, l.MaxChars, l.Mode)
		truncated = true
	}
	if l.MaxLines > 0 {
		var cut bool
		if output, cut = truncateLines(output, l.MaxLines, l.Mode); cut {
			truncated = true
		}
	}
	return output, truncated
}

// TruncateOutput cuts output to maxChars, keeping the head and tail or just
// the tail, and marks the cut in place.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if len(output) <= maxChars {
		return output
	}
	removed := len(output) - maxChars

	if mode == TruncateTail {
		return fmt.Sprintf("[Output truncated: first %d characters removed.]\n\n", removed) +
			output[len(output)-maxChars:]
	}
	half := maxChars / 2
	return output[:half] +
		fmt.Sprintf("\n\n[Output truncated: %d characters removed from the middle. "+
			"Re-run with more targeted parameters to see specific parts.]\n\n", removed) +
		output[len(output)-half:]
}

// TruncateLines keeps at most maxLines lines, split between head and tail.
func TruncateLines(output string, maxLines int) string {
	out, _ := truncateLines(output, maxLines, TruncateHeadTail)
	return out
}

func truncateLines(output string, maxLines int, mode TruncationMode) (string, bool) {
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output, false
	}

	if mode == TruncateTail {
		omitted := len(lines) - maxLines
		return fmt.Sprintf("[... %d lines omitted ...]\n", omitted) +
			strings.Join(lines[omitted:], "\n"), true
	}
	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount
	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n"), true
}
