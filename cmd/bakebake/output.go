package main

import (
	"fmt"
	"io"
	"os"

	"github.com/bakebake-xr/bakebake/internal/concept"
)

const (
	colorReset   = "\033[0m"
	colorRed     = "\033[31m"
	colorGreen   = "\033[32m"
	colorYellow  = "\033[33m"
	colorMagenta = "\033[35m"
	colorCyan    = "\033[36m"
	colorDim     = "\033[2m"
	colorBold    = "\033[1m"
)

// Replaced in tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

func printStep(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorCyan, "→ "+fmt.Sprintf(format, args...)))
}

// printConcepts renders candidates for a terminal, retrieval hits first as
// the service returns them.
func printConcepts(cs []concept.Candidate) {
	for i, c := range cs {
		tag := colorize(colorMagenta, "["+c.Label+"]")
		if c.Source == concept.SourceRetrieval {
			tag = colorize(colorCyan, "["+c.Label+"]")
		}

		name := c.Name
		if c.Reading != "" {
			name += "（" + c.Reading + "）"
		}
		fmt.Fprintf(stdout, "%d. %s %s\n", i+1, colorize(colorBold, name), tag)
		if c.Description != "" {
			fmt.Fprintf(stdout, "   %s\n", c.Description)
		}
		switch {
		case c.FolkloreRef != "":
			fmt.Fprintf(stdout, "   %s\n", colorize(colorDim, "ref: "+c.FolkloreRef))
		case c.NamingType != "":
			fmt.Fprintf(stdout, "   %s\n", colorize(colorDim, "type: "+c.NamingType))
		}
	}
}
