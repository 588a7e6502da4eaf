package main

import (
	"fmt"
	"os"
)

// ANSI escape codes for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, s string) string {
	if noColor {
		return s
	}
	return color + s + colorReset
}

// printLine writes a prefixed, colorized message to stderr so command
// output on stdout stays clean for piping.
func printLine(color, prefix, format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(color, prefix+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) {
	printLine(colorGreen, "✓ ", format, args...)
}

func printError(format string, args ...any) {
	printLine(colorRed, "✗ ", format, args...)
}

func printWarning(format string, args ...any) {
	printLine(colorYellow, "⚠ ", format, args...)
}

func printStep(format string, args ...any) {
	printLine(colorCyan, "→ ", format, args...)
}

// printStatus prints one "label: value" line of status output.
func printStatus(label, format string, args ...any) {
	value := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), value)
}
