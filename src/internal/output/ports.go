package output

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jongio/portwatch/src/internal/portscan"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const maxCommandWidth = 48

// processColors are assigned to process names in order of first appearance.
var processColors = []string{
	"\033[36m", // Cyan
	"\033[33m", // Yellow
	"\033[35m", // Magenta
	"\033[32m", // Green
	"\033[34m", // Blue
	"\033[96m", // Bright Cyan
	"\033[93m", // Bright Yellow
	"\033[95m", // Bright Magenta
}

var titleCaser = cases.Title(language.English)

// PortTable prints records as an aligned table, or a note when there are none.
func PortTable(records []portscan.PortRecord) {
	if len(records) == 0 {
		Info("No processes are listening in this range")
		return
	}

	fmt.Fprintf(os.Stdout, "%s\n", style(bold, fmt.Sprintf("%-6s %-5s %-8s %-20s %-12s %-16s %-14s %s",
		"PORT", "PROTO", "PID", "PROCESS", "STATE", "ADDRESS", "FRAMEWORK", "COMMAND")))
	for _, r := range records {
		fmt.Fprintf(os.Stdout, "%-6d %-5s %-8d %-20s %-12s %-16s %-14s %s\n",
			r.Port,
			r.Protocol,
			r.PID,
			truncate(r.ProcessName, 20),
			orDash(r.State),
			truncate(orDash(r.LocalAddress), 16),
			orDash(r.Framework),
			Muted("%s", truncate(r.Command, maxCommandWidth)))
	}
	fmt.Fprintf(os.Stdout, "\n%s endpoints\n", Count(len(records)))
}

// PortDetail prints one record as labeled lines.
func PortDetail(r portscan.PortRecord) {
	Label("Port", fmt.Sprintf("%d/%s", r.Port, r.Protocol))
	Label("Process", fmt.Sprintf("%s (PID %d)", r.ProcessName, r.PID))
	if r.State != "" {
		Label("State", r.State)
	}
	Label("Local address", orDash(r.LocalAddress))
	if r.RemoteAddress != "" {
		Label("Remote address", r.RemoteAddress)
	}
	if r.Framework != "" {
		Label("Framework", r.Framework)
	}
	if r.Command != "" {
		Label("Command", r.Command)
	}
}

// EventPrinter prints monitor events, one line each, giving every process
// name a stable color.
type EventPrinter struct {
	mu         sync.Mutex
	colors     map[string]string
	colorIndex int
	now        func() time.Time
}

// NewEventPrinter creates an EventPrinter.
func NewEventPrinter() *EventPrinter {
	return &EventPrinter{
		colors: make(map[string]string),
		now:    time.Now,
	}
}

// processColor returns a consistent color for a process name.
func (p *EventPrinter) processColor(name string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if color, ok := p.colors[name]; ok {
		return color
	}
	color := processColors[p.colorIndex%len(processColors)]
	p.colors[name] = color
	p.colorIndex++
	return color
}

// FormatEvent renders one event.
//
//	15:04:05 + Added    3000/TCP  node         PID 1234  LISTEN
func (p *EventPrinter) FormatEvent(eventType string, r portscan.PortRecord) string {
	marker, markerColor := "~", yellow
	switch eventType {
	case "added":
		marker, markerColor = "+", green
	case "removed":
		marker, markerColor = "-", red
	}

	return fmt.Sprintf("%s %s %-8s %-9s %s PID %-7d %s",
		style(gray, p.now().Format(time.TimeOnly)),
		style(markerColor, marker),
		titleCaser.String(eventType),
		fmt.Sprintf("%d/%s", r.Port, r.Protocol),
		style(p.processColor(r.ProcessName), fmt.Sprintf("%-15s", truncate(r.ProcessName, 15))),
		r.PID,
		orDash(r.State))
}

// PrintEvent writes one event line to stdout.
func (p *EventPrinter) PrintEvent(eventType string, r portscan.PortRecord) {
	writeLine(p.FormatEvent(eventType, r))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:width-1])) + "…"
}
