// Package output renders command results for people (default) or
// machines (json). Every printer writes to the current os.Stdout.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Format selects how results are printed.
type Format string

const (
	FormatDefault Format = "default"
	FormatJSON    Format = "json"
)

// ANSI styles.
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	blue   = "\033[34m"
	cyan   = "\033[36m"
	gray   = "\033[90m"
)

var (
	mu      sync.RWMutex
	current = FormatDefault

	printer = message.NewPrinter(language.English)
)

// SetFormat sets the global output format. An empty string selects the default.
func SetFormat(format string) error {
	f := Format(strings.ToLower(strings.TrimSpace(format)))
	if f == "" {
		f = FormatDefault
	}
	if f != FormatDefault && f != FormatJSON {
		return fmt.Errorf("invalid output format %q: must be %q or %q", format, FormatDefault, FormatJSON)
	}

	mu.Lock()
	current = f
	mu.Unlock()
	return nil
}

// GetFormat returns the global output format.
func GetFormat() Format {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// IsJSON reports whether output is JSON.
func IsJSON() bool {
	return GetFormat() == FormatJSON
}

// PrintJSON writes v as indented JSON.
func PrintJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON output: %w", err)
	}
	return nil
}

// PrintJSONLine writes v as one line of compact JSON, for streams.
func PrintJSONLine(v any) error {
	if err := json.NewEncoder(os.Stdout).Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON output: %w", err)
	}
	return nil
}

// PrintDefault runs formatter unless output is JSON.
func PrintDefault(formatter func()) {
	if IsJSON() {
		return
	}
	formatter()
}

// Print writes data as JSON in JSON mode and runs formatter otherwise.
func Print(data any, formatter func()) error {
	if IsJSON() {
		return PrintJSON(data)
	}
	formatter()
	return nil
}

func colorEnabled() bool {
	_, noColor := os.LookupEnv("NO_COLOR")
	return !noColor && os.Getenv("TERM") != "dumb"
}

func style(code, s string) string {
	if !colorEnabled() {
		return s
	}
	return code + s + reset
}

func writeLine(s string) {
	fmt.Fprintln(os.Stdout, s)
}

// Section prints an icon and a bold section title.
func Section(icon, title string) {
	writeLine("")
	writeLine(icon + " " + style(bold, title))
}

// Success prints a success line.
func Success(format string, args ...any) {
	writeLine(style(green, "✓") + " " + fmt.Sprintf(format, args...))
}

// Error prints an error line.
func Error(format string, args ...any) {
	writeLine(style(red, "✗") + " " + fmt.Sprintf(format, args...))
}

// Warning prints a warning line.
func Warning(format string, args ...any) {
	writeLine(style(yellow, "⚠") + " " + fmt.Sprintf(format, args...))
}

// Info prints an informational line.
func Info(format string, args ...any) {
	writeLine(style(blue, "ℹ") + " " + fmt.Sprintf(format, args...))
}

// Item prints an indented bullet.
func Item(format string, args ...any) {
	writeLine("  • " + fmt.Sprintf(format, args...))
}

// Newline prints an empty line.
func Newline() {
	writeLine("")
}

// Label prints "name: value" with the name muted.
func Label(name, value string) {
	writeLine(style(gray, name+":") + " " + value)
}

// Highlight returns text styled for attention.
func Highlight(format string, args ...any) string {
	return style(cyan, fmt.Sprintf(format, args...))
}

// Muted returns dimmed text.
func Muted(format string, args ...any) string {
	return style(dim, fmt.Sprintf(format, args...))
}

// URL returns a styled URL.
func URL(url string) string {
	return style(blue, url)
}

// Count returns n with thousands separators, highlighted.
func Count(n int) string {
	return style(bold, printer.Sprintf("%d", n))
}
