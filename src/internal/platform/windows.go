package platform

import (
	"context"
	"strconv"
	"strings"

	"github.com/jongio/portwatch/src/internal/executor"
	"github.com/jongio/portwatch/src/internal/logging"
	"github.com/jongio/portwatch/src/internal/portscan"
)

// processListScript prints "pid<TAB>name<TAB>commandline" for every process.
const processListScript = "Get-CimInstance Win32_Process | ForEach-Object { \"$($_.ProcessId)`t$($_.Name)`t$($_.CommandLine)\" }"

// WindowsAdapter enumerates sockets with netstat -ano and resolves process
// names and command lines through PowerShell's Win32_Process view.
type WindowsAdapter struct {
	base
}

// Name implements Adapter.
func (a *WindowsAdapter) Name() string { return "windows" }

// ListCommand implements Adapter. netstat has no port filter; the range is ignored.
func (a *WindowsAdapter) ListCommand(portscan.Range) executor.Command {
	return executor.Command{Name: "netstat", Args: []string{"-ano"}}
}

// Parse implements Adapter.
func (a *WindowsAdapter) Parse(ctx context.Context, output string) []portscan.PortRecord {
	records := parseNetstatWindows(output)
	if len(records) == 0 {
		return records
	}

	procs := a.processes(ctx)
	for i := range records {
		info, ok := procs[records[i].PID]
		if !ok {
			records[i].ProcessName = "unknown"
			continue
		}
		records[i].ProcessName = info.name
		records[i].Command = info.command
		if records[i].Command == "" {
			records[i].Command = info.name
		}
	}
	labelFrameworks(records)
	return records
}

// Terminate implements Adapter using taskkill; /F forces termination.
func (a *WindowsAdapter) Terminate(ctx context.Context, pid int, force bool) bool {
	args := []string{"/PID", strconv.Itoa(pid)}
	if force {
		args = append(args, "/F")
	}
	if _, err := a.runner.Run(ctx, executor.Command{Name: "taskkill", Args: args}); err != nil {
		logging.Debug("taskkill failed", "pid", pid, "force", force, "error", err)
		return false
	}
	return true
}

type windowsProcess struct {
	name    string
	command string
}

// processes lists running processes. A failed lookup returns an empty map
// and every record falls back to "unknown".
func (a *WindowsAdapter) processes(ctx context.Context) map[int]windowsProcess {
	out, err := executor.Output(ctx, a.runner, executor.Command{
		Name: "powershell",
		Args: []string{"-NoProfile", "-NonInteractive", "-Command", processListScript},
	})
	if err != nil {
		logging.Debug("process list lookup failed", "error", err)
		return map[int]windowsProcess{}
	}
	return parseWindowsProcesses(out)
}

// parseNetstatWindows parses `netstat -ano`:
//
//	Proto  Local Address          Foreign Address        State           PID
//	TCP    0.0.0.0:3000           0.0.0.0:0              LISTENING       4321
//	UDP    0.0.0.0:5353           *:*                                    2012
//
// TCP lines have five fields and UDP lines four.
func parseNetstatWindows(output string) []portscan.PortRecord {
	var records []portscan.PortRecord
	for _, line := range lines(output) {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}

		proto, ok := portscan.ParseProtocol(fields[0])
		if !ok {
			continue
		}

		var state, pidStr string
		switch {
		case proto == portscan.ProtocolTCP && len(fields) == 5:
			state, pidStr = fields[3], fields[4]
		case proto == portscan.ProtocolUDP && len(fields) == 4:
			pidStr = fields[3]
		default:
			continue
		}

		pid, ok := parsePID(pidStr)
		if !ok {
			continue
		}
		host, port, ok := splitHostPort(fields[1])
		if !ok || port == 0 {
			continue
		}

		rec := portscan.PortRecord{
			Port:          port,
			Protocol:      proto,
			PID:           pid,
			State:         normalizeState(state),
			LocalAddress:  host,
			RemoteAddress: remoteAddress(fields[2]),
		}
		if rec.Valid() {
			records = append(records, rec)
		}
	}
	return records
}

// parseWindowsProcesses parses the tab-separated output of processListScript.
func parseWindowsProcesses(output string) map[int]windowsProcess {
	procs := make(map[int]windowsProcess)
	for _, line := range lines(output) {
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) < 2 {
			continue
		}
		pid, ok := parsePID(parts[0])
		if !ok {
			continue
		}
		p := windowsProcess{name: strings.TrimSpace(parts[1])}
		if len(parts) == 3 {
			p.command = strings.TrimSpace(parts[2])
		}
		procs[pid] = p
	}
	return procs
}
