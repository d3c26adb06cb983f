package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// ANSI color codes for terminal output
const (
	ansiDim    = "\033[2m"
	ansiBold   = "\033[1m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiRed    = "\033[31m"
	ansiCyan   = "\033[36m"
	ansiReset  = "\033[0m"
)

// useColor reports whether stdout is a terminal.
func useColor() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

// colorize wraps s in the given ANSI code when stdout is a terminal.
func colorize(code, s string) string {
	if !useColor() {
		return s
	}
	return code + s + ansiReset
}

// statusColor picks a color for a run status.
func statusColor(status string) string {
	switch status {
	case "completed":
		return ansiGreen
	case "failed", "timed_out":
		return ansiRed
	case "paused", "blocked", "queued":
		return ansiYellow
	default:
		return ansiCyan
	}
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatTime renders a nullable RFC3339-ish timestamp for table output.
func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// printCommandResult renders a pause/resume/cancel/retry outcome. Rejections
// are reported on stdout, not as errors: the run simply was not in a state
// that allows the command.
func printCommandResult(action string, ok bool, errMsg string) {
	if ok {
		fmt.Printf("%s %s\n", colorize(ansiGreen, "ok"), action)
		return
	}
	fmt.Printf("%s %s: %s\n", colorize(ansiRed, "rejected"), action, errMsg)
}
