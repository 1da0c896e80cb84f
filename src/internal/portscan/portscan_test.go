package portscan

import (
	"testing"
)

func TestParseProtocol(t *testing.T) {
	tests := []struct {
		token  string
		want   Protocol
		wantOK bool
	}{
		{"tcp", ProtocolTCP, true},
		{"TCP", ProtocolTCP, true},
		{"tcp6", ProtocolTCP, true},
		{"UDP4", ProtocolUDP, true},
		{" udp ", ProtocolUDP, true},
		{"sctp", "", false},
		{"", "", false},
		{"Active", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, ok := ParseProtocol(tt.token)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ParseProtocol(%q) = (%q, %v), want (%q, %v)", tt.token, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestPortRecordValid(t *testing.T) {
	tests := []struct {
		name string
		rec  PortRecord
		want bool
	}{
		{"valid tcp", PortRecord{Port: 3000, Protocol: ProtocolTCP, PID: 1}, true},
		{"valid udp", PortRecord{Port: 65535, Protocol: ProtocolUDP, PID: 42}, true},
		{"zero port", PortRecord{Port: 0, Protocol: ProtocolTCP, PID: 1}, false},
		{"port too high", PortRecord{Port: 70000, Protocol: ProtocolTCP, PID: 1}, false},
		{"missing protocol", PortRecord{Port: 3000, PID: 1}, false},
		{"missing pid", PortRecord{Port: 3000, Protocol: ProtocolTCP}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRangeContains(t *testing.T) {
	r := Range{Start: 3000, End: 3010}
	if !r.Contains(3000) || !r.Contains(3010) {
		t.Error("range bounds should be inclusive")
	}
	if r.Contains(2999) || r.Contains(3011) {
		t.Error("ports outside range should not be contained")
	}

	var all Range
	if !all.Contains(1) || !all.Contains(65535) {
		t.Error("zero range should contain every port")
	}
	if all.String() != "all" {
		t.Errorf("String() = %q, want %q", all.String(), "all")
	}
}

func TestFilter(t *testing.T) {
	records := []PortRecord{
		{Port: 80, Protocol: ProtocolTCP, PID: 1},
		{Port: 3000, Protocol: ProtocolTCP, PID: 2},
		{Port: 9999, Protocol: ProtocolUDP, PID: 3},
		{Port: 10000, Protocol: ProtocolTCP, PID: 4},
	}

	got := Filter(records, Range{Start: 3000, End: 9999})
	if len(got) != 2 {
		t.Fatalf("len(Filter()) = %d, want 2", len(got))
	}
	if got[0].Port != 3000 || got[1].Port != 9999 {
		t.Errorf("Filter() ports = %d, %d", got[0].Port, got[1].Port)
	}
}

func TestNewSnapshotKeepsFirstDuplicate(t *testing.T) {
	records := []PortRecord{
		{Port: 3000, Protocol: ProtocolTCP, PID: 7, LocalAddress: "0.0.0.0"},
		{Port: 3000, Protocol: ProtocolTCP, PID: 7, LocalAddress: "::"},
		{Port: 3000, Protocol: ProtocolUDP, PID: 7, LocalAddress: "0.0.0.0"},
	}

	snap := NewSnapshot(records)
	if len(snap) != 2 {
		t.Fatalf("len(snapshot) = %d, want 2", len(snap))
	}

	rec := snap[Key{Port: 3000, Protocol: ProtocolTCP, PID: 7}]
	if rec.LocalAddress != "0.0.0.0" {
		t.Errorf("LocalAddress = %q, want first record's address", rec.LocalAddress)
	}
}

func TestSnapshotRecordsSorted(t *testing.T) {
	snap := NewSnapshot([]PortRecord{
		{Port: 8080, Protocol: ProtocolTCP, PID: 3},
		{Port: 3000, Protocol: ProtocolUDP, PID: 1},
		{Port: 3000, Protocol: ProtocolTCP, PID: 2},
		{Port: 3000, Protocol: ProtocolTCP, PID: 1},
	})

	records := snap.Records()
	want := []Key{
		{Port: 3000, Protocol: ProtocolTCP, PID: 1},
		{Port: 3000, Protocol: ProtocolTCP, PID: 2},
		{Port: 3000, Protocol: ProtocolUDP, PID: 1},
		{Port: 8080, Protocol: ProtocolTCP, PID: 3},
	}
	for i, k := range want {
		if records[i].Key() != k {
			t.Errorf("records[%d] = %v, want %v", i, records[i].Key(), k)
		}
	}
}

func TestKeyString(t *testing.T) {
	k := Key{Port: 3000, Protocol: ProtocolTCP, PID: 111}
	if got := k.String(); got != "3000/TCP/111" {
		t.Errorf("String() = %q", got)
	}
}

func TestDetectFramework(t *testing.T) {
	tests := []struct {
		name    string
		process string
		command string
		want    string
	}{
		{"next dev", "node", "node /app/node_modules/.bin/next dev -p 3000", "Next.js"},
		{"vite", "node", "node /app/node_modules/.bin/vite --port 5173", "Vite"},
		{"django", "python3", "python3 manage.py runserver 8000", "Django"},
		{"uvicorn", "python3.12", "/usr/bin/python3.12 -m uvicorn main:app", "FastAPI"},
		{"plain node", "node", "node server.js", "Node.js"},
		{"versioned python", "python3.11", "", "Python"},
		{"windows dotnet", "dotnet.exe", "", ".NET"},
		{"postgres", "postgres", "/usr/lib/postgresql/16/bin/postgres -D /var/lib", "PostgreSQL"},
		{"unknown", "myserver", "/usr/local/bin/myserver", ""},
		{"empty", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectFramework(tt.process, tt.command); got != tt.want {
				t.Errorf("DetectFramework(%q, %q) = %q, want %q", tt.process, tt.command, got, tt.want)
			}
		})
	}
}
