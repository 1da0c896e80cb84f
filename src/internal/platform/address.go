package platform

import (
	"net"
	"strconv"
	"strings"

	"github.com/jongio/portwatch/src/internal/portscan"
)

// splitHostPort parses the address forms the utilities print:
// "127.0.0.1:3000", "*:3000", "[::1]:3000", ":::3000", "127.0.0.53%lo:53",
// "[fe80::1%4]:1900" and "[fe80::1]%eth0:546". A wildcard or non-numeric port
// yields ok=false.
func splitHostPort(addr string) (host string, port int, ok bool) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", 0, false
	}

	var portStr string
	if strings.HasPrefix(addr, "[") {
		end := strings.LastIndex(addr, "]")
		if end < 0 {
			return "", 0, false
		}
		host = addr[1:end]
		rest := addr[end+1:]
		// newer ss prints the zone after the bracket
		if strings.HasPrefix(rest, "%") {
			colon := strings.Index(rest, ":")
			if colon < 0 {
				return "", 0, false
			}
			rest = rest[colon:]
		}
		if !strings.HasPrefix(rest, ":") {
			return "", 0, false
		}
		portStr = rest[1:]
	} else {
		idx := strings.LastIndex(addr, ":")
		if idx < 0 {
			return "", 0, false
		}
		host = addr[:idx]
		portStr = addr[idx+1:]
	}

	if zone := strings.Index(host, "%"); zone >= 0 {
		host = host[:zone]
	}

	p, err := strconv.Atoi(portStr)
	if err != nil || p < 0 || p > portscan.MaxPort {
		return host, 0, false
	}
	return host, p, true
}

// remoteAddress renders a peer address, or "" for the placeholder peers
// listening sockets report ("0.0.0.0:0", "*:*", "[::]:0", "0.0.0.0:*").
func remoteAddress(addr string) string {
	host, port, ok := splitHostPort(addr)
	if !ok || port == 0 {
		return ""
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// normalizeState maps the utilities' spellings onto one vocabulary:
// LISTENING and LISTEN become LISTEN, ESTAB becomes ESTABLISHED, hyphens
// become underscores and UNCONN, which only says a UDP socket has no peer,
// becomes empty.
func normalizeState(state string) string {
	s := strings.ToUpper(strings.Trim(strings.TrimSpace(state), "()"))
	switch s {
	case "LISTENING":
		return "LISTEN"
	case "ESTAB":
		return "ESTABLISHED"
	case "UNCONN", "-":
		return ""
	}
	return strings.ReplaceAll(s, "-", "_")
}

// parsePID parses a positive process id.
func parsePID(s string) (int, bool) {
	pid, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// lines splits command output into non-empty lines, accepting CRLF.
func lines(output string) []string {
	raw := strings.Split(strings.ReplaceAll(output, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

// uniquePIDs lists the distinct pids of records in first-seen order.
func uniquePIDs(records []portscan.PortRecord) []int {
	seen := make(map[int]bool, len(records))
	pids := make([]int, 0, len(records))
	for _, r := range records {
		if !seen[r.PID] {
			seen[r.PID] = true
			pids = append(pids, r.PID)
		}
	}
	return pids
}

// labelFrameworks fills in the framework label of every record.
func labelFrameworks(records []portscan.PortRecord) {
	for i := range records {
		records[i].Framework = portscan.DetectFramework(records[i].ProcessName, records[i].Command)
	}
}
