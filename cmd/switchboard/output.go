package main

import (
	"fmt"
	"io"
	"os"

	"github.com/kalambet/switchboard/internal/tracing"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// Notices and status lines go to stderr so that command output on stdout
// stays pipeable.
var stderr io.Writer = os.Stderr

func colorize(color, text string) string {
	if noColor || color == "" {
		return text
	}
	return color + text + colorReset
}

type tone struct {
	mark  string
	color string
}

var (
	toneOK   = tone{"✓", colorGreen}
	toneFail = tone{"✗", colorRed}
	toneWarn = tone{"⚠", colorYellow}
)

func announce(w io.Writer, t tone, format string, args ...any) {
	fmt.Fprintln(w, colorize(t.color, t.mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { announce(stderr, toneOK, format, args...) }
func printError(format string, args ...any)   { announce(stderr, toneFail, format, args...) }
func printWarning(format string, args ...any) { announce(stderr, toneWarn, format, args...) }

// statusLabelWidth aligns the values of the status command.
const statusLabelWidth = 23

func printStatus(label, format string, args ...any) {
	pad := max(statusLabelWidth-len([]rune(label)), 1)
	fmt.Fprintf(stderr, "  %s%*s%s\n", colorize(colorBold, label+":"), pad, "", fmt.Sprintf(format, args...))
}

func statusColor(s tracing.Status) string {
	switch s {
	case tracing.StatusCompleted:
		return colorGreen
	case tracing.StatusFailed, tracing.StatusTimedOut:
		return colorRed
	case tracing.StatusStarted, tracing.StatusInProgress:
		return colorYellow
	default:
		return ""
	}
}
