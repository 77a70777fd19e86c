package reporter

import "strings"

// ProgressBar renders percent (clamped to 0-100) as a bar of the given inner
// width, e.g. ProgressBar(50, 10) is "[=====     ]".
func ProgressBar(percent, width int) string {
	percent = max(0, min(percent, 100))
	filled := percent * width / 100
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}
