// Package printer renders CLI output with color. Every function takes the
// destination writer so commands can print to cobra's configured streams.
package printer

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// Success prints a success message in green with a checkmark prefix.
func Success(w io.Writer, format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(w, msg)
}

// Info prints an informational message in the default color.
func Info(w io.Writer, format string, a ...any) {
	fmt.Fprintf(w, format, a...)
}

// Warning prints a warning message in yellow.
func Warning(w io.Writer, format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(w, msg)
}

// Heading prints a section title in cyan.
func Heading(w io.Writer, format string, a ...any) {
	cyan.Fprintf(w, "→ %s\n", fmt.Sprintf(format, a...))
}

// Field prints one aligned name/value line. Empty values render faint.
func Field(w io.Writer, indent int, width int, name string, value any) {
	pad := strings.Repeat(" ", indent)
	text := fmt.Sprint(value)
	if value == nil || text == "" {
		fmt.Fprintf(w, "%s%-*s  ", pad, width, name)
		faint.Fprintln(w, "-")
		return
	}
	fmt.Fprintf(w, "%s%-*s  %s\n", pad, width, name, text)
}

// Error prints a formatted error with title, explanation and suggestions and
// returns an error carrying only the title.
func Error(w io.Writer, title string, explanation string, suggestions []string) error {
	red.Fprintf(w, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(w, "%s\n", explanation)
	}

	if len(suggestions) > 0 {
		fmt.Fprintf(w, "\n")
		if len(suggestions) == 1 {
			fmt.Fprintf(w, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(w, "Either:\n")
			for i, suggestion := range suggestions {
				fmt.Fprintf(w, "  %d. %s\n", i+1, suggestion)
			}
		}
	}

	return fmt.Errorf("%s", title)
}
