package platform

import (
	"context"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/jongio/portwatch/src/internal/executor"
	"github.com/jongio/portwatch/src/internal/logging"
	"github.com/jongio/portwatch/src/internal/portscan"

	"golang.org/x/sync/errgroup"
)

// Linux enumeration utilities, in order of preference.
const (
	utilitySS      = "ss"
	utilityNetstat = "netstat"
)

// enrichConcurrency caps concurrent /proc reads.
const enrichConcurrency = 8

var ssUserPattern = regexp.MustCompile(`\("([^"]*)",pid=(\d+)`)

// LinuxAdapter enumerates sockets with ss, or netstat when ss is not
// installed, and reads command lines from procfs.
type LinuxAdapter struct {
	base
	lookPath func(string) (string, error)
	readFile func(string) ([]byte, error)
	procRoot string

	mu      sync.Mutex
	utility string
}

// Name implements Adapter.
func (a *LinuxAdapter) Name() string { return "linux" }

// Utility returns the detected enumeration utility, detecting it on first use.
func (a *LinuxAdapter) Utility() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.utility == "" {
		a.utility = utilitySS
		if _, err := a.lookPath(utilitySS); err != nil {
			if _, err := a.lookPath(utilityNetstat); err == nil {
				a.utility = utilityNetstat
			}
		}
		logging.Debug("linux enumeration utility detected", "utility", a.utility)
	}
	return a.utility
}

// Redetect implements Redetector. The next ListCommand detects the utility again.
func (a *LinuxAdapter) Redetect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.utility = ""
}

// ListCommand implements Adapter. Neither utility filters by port range here.
func (a *LinuxAdapter) ListCommand(portscan.Range) executor.Command {
	if a.Utility() == utilityNetstat {
		return executor.Command{Name: utilityNetstat, Args: []string{"-tunap"}}
	}
	return executor.Command{Name: utilitySS, Args: []string{"-tunap"}}
}

// Parse implements Adapter. The output format is recognized from its header,
// so output from either utility parses regardless of which one was detected.
func (a *LinuxAdapter) Parse(ctx context.Context, output string) []portscan.PortRecord {
	var records []portscan.PortRecord
	if looksLikeLinuxNetstat(output) {
		records = parseNetstatLinux(output)
	} else {
		records = parseSS(output)
	}
	if len(records) == 0 {
		return records
	}

	commands := a.commandLines(ctx, uniquePIDs(records))
	for i := range records {
		cmd := commands[records[i].PID]
		records[i].Command = cmd.command
		if records[i].ProcessName == "" {
			records[i].ProcessName = cmd.comm
		}
	}
	labelFrameworks(records)
	return records
}

// Terminate implements Adapter.
func (a *LinuxAdapter) Terminate(ctx context.Context, pid int, force bool) bool {
	return a.signal(ctx, pid, force)
}

type procCommand struct {
	command string
	comm    string
}

// commandLines reads /proc/<pid>/cmdline and comm for each pid. A process
// that exited in the meantime simply has no entry.
func (a *LinuxAdapter) commandLines(ctx context.Context, pids []int) map[int]procCommand {
	var mu sync.Mutex
	result := make(map[int]procCommand, len(pids))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichConcurrency)
	for _, pid := range pids {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			dir := filepath.Join(a.procRoot, strconv.Itoa(pid))

			var pc procCommand
			if data, err := a.readFile(filepath.Join(dir, "cmdline")); err == nil {
				pc.command = strings.TrimSpace(strings.ReplaceAll(string(data), "\x00", " "))
			}
			if data, err := a.readFile(filepath.Join(dir, "comm")); err == nil {
				pc.comm = strings.TrimSpace(string(data))
			}

			mu.Lock()
			result[pid] = pc
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return result
}

func looksLikeLinuxNetstat(output string) bool {
	for _, line := range lines(output) {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "Active Internet") || strings.HasPrefix(trimmed, "Proto ") {
			return true
		}
		if strings.HasPrefix(trimmed, "Netid") {
			return false
		}
	}
	return false
}

// parseSS parses `ss -tunap`:
//
//	Netid State  Recv-Q Send-Q Local Address:Port Peer Address:Port Process
//	tcp   LISTEN 0      511    0.0.0.0:3000       0.0.0.0:*         users:(("node",pid=1234,fd=20))
//	udp   UNCONN 0      0      127.0.0.53%lo:53   0.0.0.0:*         users:(("systemd-resolve",pid=555,fd=13))
//
// Sockets without a users:(...) column belong to processes we may not
// inspect and are skipped.
func parseSS(output string) []portscan.PortRecord {
	var records []portscan.PortRecord
	for _, line := range lines(output) {
		fields := strings.Fields(line)
		if len(fields) < 7 {
			continue
		}

		proto, ok := portscan.ParseProtocol(fields[0])
		if !ok {
			continue
		}
		host, port, ok := splitHostPort(fields[4])
		if !ok || port == 0 {
			continue
		}

		m := ssUserPattern.FindStringSubmatch(strings.Join(fields[6:], " "))
		if m == nil {
			continue
		}
		pid, ok := parsePID(m[2])
		if !ok {
			continue
		}

		rec := portscan.PortRecord{
			Port:          port,
			Protocol:      proto,
			PID:           pid,
			ProcessName:   m[1],
			State:         normalizeState(fields[1]),
			LocalAddress:  host,
			RemoteAddress: remoteAddress(fields[5]),
		}
		if rec.Valid() {
			records = append(records, rec)
		}
	}
	return records
}

// parseNetstatLinux parses `netstat -tunap`:
//
//	Proto Recv-Q Send-Q Local Address  Foreign Address  State   PID/Program name
//	tcp        0      0 0.0.0.0:3000   0.0.0.0:*        LISTEN  1234/node
//	udp        0      0 0.0.0.0:5353   0.0.0.0:*                700/avahi-daemon: r
//
// UDP sockets usually have no state column, and program names may contain spaces.
func parseNetstatLinux(output string) []portscan.PortRecord {
	var records []portscan.PortRecord
	for _, line := range lines(output) {
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}

		proto, ok := portscan.ParseProtocol(fields[0])
		if !ok {
			continue
		}

		var state string
		rest := fields[5:]
		if !strings.Contains(rest[0], "/") && rest[0] != "-" {
			state = rest[0]
			rest = rest[1:]
		}
		if len(rest) == 0 {
			continue
		}

		pidStr, program, found := strings.Cut(strings.Join(rest, " "), "/")
		if !found {
			continue
		}
		pid, ok := parsePID(pidStr)
		if !ok {
			continue
		}
		host, port, ok := splitHostPort(fields[3])
		if !ok || port == 0 {
			continue
		}

		rec := portscan.PortRecord{
			Port:          port,
			Protocol:      proto,
			PID:           pid,
			ProcessName:   strings.TrimSpace(program),
			State:         normalizeState(state),
			LocalAddress:  host,
			RemoteAddress: remoteAddress(fields[4]),
		}
		if rec.Valid() {
			records = append(records, rec)
		}
	}
	return records
}
