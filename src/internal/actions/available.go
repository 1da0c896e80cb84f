package actions

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/jongio/portwatch/src/internal/logging"
	"github.com/jongio/portwatch/src/internal/portscan"
)

// RangeScanner lists the records in a port range.
type RangeScanner interface {
	Scan(ctx context.Context, start, end int) ([]portscan.PortRecord, error)
}

// PortChecker reports whether a port can be bound right now.
type PortChecker func(port int) bool

// BindCheck binds localhost:port and releases it immediately.
func BindCheck(port int) bool {
	listener, err := net.Listen("tcp", net.JoinHostPort("localhost", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	if err := listener.Close(); err != nil {
		logging.Debug("failed to close bind-check listener", "port", port, "error", err)
	}
	return true
}

// NextAvailable returns the lowest port in [start, end] that no process
// holds. When check is non-nil a candidate must also pass it, which catches
// sockets the enumeration cannot see.
func NextAvailable(ctx context.Context, scanner RangeScanner, start, end int, check PortChecker) (int, error) {
	records, err := scanner.Scan(ctx, start, end)
	if err != nil {
		return 0, fmt.Errorf("scanning %d-%d: %w", start, end, err)
	}

	held := make(map[int]bool, len(records))
	for _, rec := range records {
		held[rec.Port] = true
	}

	for port := start; port <= end; port++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if held[port] {
			continue
		}
		if check != nil && !check(port) {
			continue
		}
		return port, nil
	}
	return 0, fmt.Errorf("no available ports in range %d-%d", start, end)
}
