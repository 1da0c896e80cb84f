package monitor

import (
	"github.com/jongio/portwatch/src/internal/portscan"
)

// EventType names a kind of change between two snapshots.
type EventType string

const (
	EventAdded   EventType = "added"
	EventRemoved EventType = "removed"
	EventUpdated EventType = "updated"
)

// Event is one change between two snapshots. Previous is set for updates.
type Event struct {
	Type     EventType            `json:"type"`
	Record   portscan.PortRecord  `json:"record"`
	Previous *portscan.PortRecord `json:"previous,omitempty"`
}

// Diff compares two snapshots. Removals come first, then additions and
// updates; each group is ordered by key. A record whose key survives but
// whose state, process name, command or addresses changed is an update.
// A pid change is a different key, so it is a removal plus an addition.
func Diff(previous, current portscan.Snapshot) []Event {
	var events []Event

	for _, k := range previous.Keys() {
		if _, ok := current[k]; !ok {
			events = append(events, Event{Type: EventRemoved, Record: previous[k]})
		}
	}

	for _, k := range current.Keys() {
		rec := current[k]
		old, ok := previous[k]
		switch {
		case !ok:
			events = append(events, Event{Type: EventAdded, Record: rec})
		case changed(old, rec):
			prev := old
			events = append(events, Event{Type: EventUpdated, Record: rec, Previous: &prev})
		}
	}
	return events
}

func changed(a, b portscan.PortRecord) bool {
	return a.State != b.State ||
		a.ProcessName != b.ProcessName ||
		a.Command != b.Command ||
		a.LocalAddress != b.LocalAddress ||
		a.RemoteAddress != b.RemoteAddress
}
