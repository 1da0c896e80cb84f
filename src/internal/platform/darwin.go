package platform

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jongio/portwatch/src/internal/executor"
	"github.com/jongio/portwatch/src/internal/logging"
	"github.com/jongio/portwatch/src/internal/portscan"
)

// DarwinAdapter enumerates sockets with lsof and resolves command lines with ps.
type DarwinAdapter struct {
	base
}

// Name implements Adapter.
func (a *DarwinAdapter) Name() string { return "darwin" }

// ListCommand implements Adapter. lsof exits 1 when nothing matches, which
// is an empty result rather than a failure.
func (a *DarwinAdapter) ListCommand(r portscan.Range) executor.Command {
	tcp, udp := "-iTCP", "-iUDP"
	if !r.IsZero() {
		tcp = fmt.Sprintf("-iTCP:%d-%d", r.Start, r.End)
		udp = fmt.Sprintf("-iUDP:%d-%d", r.Start, r.End)
	}
	return executor.Command{
		Name:        "lsof",
		Args:        []string{"-nP", tcp, udp},
		OKExitCodes: []int{1},
	}
}

// Parse implements Adapter.
func (a *DarwinAdapter) Parse(ctx context.Context, output string) []portscan.PortRecord {
	records := parseLsof(output)
	if len(records) == 0 {
		return records
	}

	commands := a.commandLines(ctx, uniquePIDs(records))
	for i := range records {
		records[i].Command = commands[records[i].PID]
	}
	labelFrameworks(records)
	return records
}

// Terminate implements Adapter.
func (a *DarwinAdapter) Terminate(ctx context.Context, pid int, force bool) bool {
	return a.signal(ctx, pid, force)
}

// commandLines resolves full command lines for pids with a single ps call.
// A failed call leaves every command empty.
func (a *DarwinAdapter) commandLines(ctx context.Context, pids []int) map[int]string {
	ids := make([]string, len(pids))
	for i, pid := range pids {
		ids[i] = strconv.Itoa(pid)
	}

	out, err := executor.Output(ctx, a.runner, executor.Command{
		Name: "ps",
		Args: []string{"-o", "pid=,command=", "-p", strings.Join(ids, ",")},
		// ps exits 1 when some of the pids have already exited.
		OKExitCodes: []int{1},
	})
	if err != nil {
		logging.Debug("ps lookup failed", "pids", len(pids), "error", err)
		return map[int]string{}
	}
	return parsePsCommands(out)
}

// parseLsof parses `lsof -nP -i` output:
//
//	COMMAND   PID  USER  FD  TYPE DEVICE             SIZE/OFF NODE NAME
//	node      1234 alice 23u IPv4 0x5f1c2b7a1d0e3a11 0t0      TCP  *:3000 (LISTEN)
//	node      1234 alice 24u IPv6 0x5f1c2b7a1d0e3a12 0t0      TCP  [::1]:3000->[::1]:51234 (ESTABLISHED)
//	rapportd  456  alice 5u  IPv4 0x5f1c2b7a1d0e3a13 0t0      UDP  *:61234
func parseLsof(output string) []portscan.PortRecord {
	var records []portscan.PortRecord
	for _, line := range lines(output) {
		fields := strings.Fields(line)
		if len(fields) < 9 {
			continue
		}

		pid, ok := parsePID(fields[1])
		if !ok {
			continue
		}
		proto, ok := portscan.ParseProtocol(fields[7])
		if !ok {
			continue
		}

		local, remote, _ := strings.Cut(fields[8], "->")
		host, port, ok := splitHostPort(local)
		if !ok || port == 0 {
			continue
		}

		var state string
		if len(fields) > 9 {
			state = normalizeState(fields[9])
		}

		rec := portscan.PortRecord{
			Port:          port,
			Protocol:      proto,
			PID:           pid,
			ProcessName:   unescapeLsof(fields[0]),
			State:         state,
			LocalAddress:  host,
			RemoteAddress: remoteAddress(remote),
		}
		if rec.Valid() {
			records = append(records, rec)
		}
	}
	return records
}

// parsePsCommands parses `ps -o pid=,command=` output into pid -> command.
func parsePsCommands(output string) map[int]string {
	commands := make(map[int]string)
	for _, line := range lines(output) {
		trimmed := strings.TrimSpace(line)
		pidStr, command, found := strings.Cut(trimmed, " ")
		if !found {
			continue
		}
		pid, ok := parsePID(pidStr)
		if !ok {
			continue
		}
		commands[pid] = strings.TrimSpace(command)
	}
	return commands
}

// unescapeLsof undoes lsof's \xNN escaping of command names.
func unescapeLsof(name string) string {
	if !strings.Contains(name, `\x`) {
		return name
	}
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		if name[i] == '\\' && i+3 < len(name) && name[i+1] == 'x' {
			if v, err := strconv.ParseUint(name[i+2:i+4], 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(name[i])
	}
	return b.String()
}
