package platform

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessInspector resolves process ownership and delivers termination
// signals.
type ProcessInspector interface {
	Username(ctx context.Context, pid int) (string, error)
	Signal(ctx context.Context, pid int, force bool) error
}

type gopsutilInspector struct{}

// NewProcessInspector returns the gopsutil-backed inspector.
func NewProcessInspector() ProcessInspector {
	return gopsutilInspector{}
}

func (gopsutilInspector) Username(ctx context.Context, pid int) (string, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return "", fmt.Errorf("process %d: %w", pid, err)
	}
	return p.UsernameWithContext(ctx)
}

func (gopsutilInspector) Signal(ctx context.Context, pid int, force bool) error {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return fmt.Errorf("process %d: %w", pid, err)
	}
	if force {
		return p.KillWithContext(ctx)
	}
	return p.TerminateWithContext(ctx)
}
