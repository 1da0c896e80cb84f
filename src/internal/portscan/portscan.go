// Package portscan defines the canonical endpoint record shared by the
// platform adapters, the scanner, the monitor and every presentation surface.
package portscan

import (
	"fmt"
	"sort"
	"strings"
)

// Port bounds.
const (
	MinPort = 1
	MaxPort = 65535
)

// Protocol is the transport protocol of an endpoint.
type Protocol string

const (
	// ProtocolTCP identifies TCP endpoints.
	ProtocolTCP Protocol = "TCP"
	// ProtocolUDP identifies UDP endpoints.
	ProtocolUDP Protocol = "UDP"
)

// ParseProtocol normalizes protocol tokens as printed by lsof, netstat and ss
// ("tcp", "TCP6", "udp4", ...). The second return value is false for anything
// that is not TCP or UDP.
func ParseProtocol(token string) (Protocol, bool) {
	t := strings.ToUpper(strings.TrimSpace(token))
	t = strings.TrimRight(t, "46")
	switch t {
	case "TCP":
		return ProtocolTCP, true
	case "UDP":
		return ProtocolUDP, true
	default:
		return "", false
	}
}

// PortRecord is one active network endpoint and the process that owns it.
type PortRecord struct {
	Port          int      `json:"port"`
	Protocol      Protocol `json:"protocol"`
	PID           int      `json:"pid"`
	ProcessName   string   `json:"processName"`
	Command       string   `json:"command,omitempty"`
	State         string   `json:"state,omitempty"`
	LocalAddress  string   `json:"localAddress"`
	RemoteAddress string   `json:"remoteAddress,omitempty"`
	Framework     string   `json:"framework,omitempty"`
}

// Key returns the identity of the record.
func (r PortRecord) Key() Key {
	return Key{Port: r.Port, Protocol: r.Protocol, PID: r.PID}
}

// Valid reports whether the record has a usable port, protocol and owner.
// Parsers drop records that are not valid.
func (r PortRecord) Valid() bool {
	if r.Port < MinPort || r.Port > MaxPort {
		return false
	}
	if r.Protocol != ProtocolTCP && r.Protocol != ProtocolUDP {
		return false
	}
	return r.PID > 0
}

// Key identifies an endpoint across observations. The port alone is not
// enough: a port reused by a restarted process gets a new key.
type Key struct {
	Port     int      `json:"port"`
	Protocol Protocol `json:"protocol"`
	PID      int      `json:"pid"`
}

// String renders the key as port/protocol/pid.
func (k Key) String() string {
	return fmt.Sprintf("%d/%s/%d", k.Port, k.Protocol, k.PID)
}

// Less orders keys by port, protocol and pid.
func (k Key) Less(other Key) bool {
	if k.Port != other.Port {
		return k.Port < other.Port
	}
	if k.Protocol != other.Protocol {
		return k.Protocol < other.Protocol
	}
	return k.PID < other.PID
}

// Range is an inclusive port range. The zero Range means "unranged".
type Range struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// IsZero reports whether r is the unranged value.
func (r Range) IsZero() bool {
	return r.Start == 0 && r.End == 0
}

// Contains reports whether port falls inside r. Every port is inside the
// zero Range.
func (r Range) Contains(port int) bool {
	if r.IsZero() {
		return true
	}
	return port >= r.Start && port <= r.End
}

func (r Range) String() string {
	if r.IsZero() {
		return "all"
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Filter returns the records whose port falls inside r.
func Filter(records []PortRecord, r Range) []PortRecord {
	filtered := make([]PortRecord, 0, len(records))
	for _, rec := range records {
		if r.Contains(rec.Port) {
			filtered = append(filtered, rec)
		}
	}
	return filtered
}

// SortRecords sorts records in place by key.
func SortRecords(records []PortRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Key().Less(records[j].Key())
	})
}

// Snapshot is one observation of every endpoint, keyed by identity.
type Snapshot map[Key]PortRecord

// NewSnapshot keys records by identity. When several records share a key,
// such as a process listening on both IPv4 and IPv6, the first one is kept.
func NewSnapshot(records []PortRecord) Snapshot {
	snap := make(Snapshot, len(records))
	for _, rec := range records {
		k := rec.Key()
		if _, exists := snap[k]; exists {
			continue
		}
		snap[k] = rec
	}
	return snap
}

// Records returns the snapshot's records sorted by key.
func (s Snapshot) Records() []PortRecord {
	records := make([]PortRecord, 0, len(s))
	for _, rec := range s {
		records = append(records, rec)
	}
	SortRecords(records)
	return records
}

// Keys returns the snapshot's keys in sorted order.
func (s Snapshot) Keys() []Key {
	keys := make([]Key, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}
