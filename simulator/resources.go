package simulator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

var ErrInsufficientResources = errors.New("insufficient system resources")

// Throttle refuses new work when the host is short on idle CPU, memory or disk.
// A zero threshold disables that check.
type Throttle struct {
	IdleCPU  float64 // minimum idle CPU, percent
	FreeMem  int64
	FreeDisk int64
	Dir      string // filesystem whose free space is checked
	Log      zerolog.Logger
}

// Admit verifies that the system has enough free resources to accept a new job.
func (t *Throttle) Admit(ctx context.Context) error {
	// CPU
	if t.IdleCPU > 0 {
		p, err := cpu.PercentWithContext(ctx, time.Second, false)
		if err != nil {
			t.Log.Warn().Err(err).Msg("could not get CPU usage")
		} else if len(p) > 0 && p[0] > 100.0-t.IdleCPU {
			return fmt.Errorf("%w: not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%",
				ErrInsufficientResources, p[0], t.IdleCPU)
		}
	}

	// Memory
	if t.FreeMem > 0 {
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			t.Log.Warn().Err(err).Msg("could not get memory usage")
		} else if vm.Available < uint64(t.FreeMem) {
			return fmt.Errorf("%w: not enough free memory. Available: %d, Required: %d",
				ErrInsufficientResources, vm.Available, t.FreeMem)
		}
	}

	// Disk
	if t.FreeDisk > 0 && t.Dir != "" {
		d, err := disk.UsageWithContext(ctx, t.Dir)
		if err != nil {
			t.Log.Warn().Err(err).Str("dir", t.Dir).Msg("could not get disk usage")
		} else if d.Free < uint64(t.FreeDisk) {
			return fmt.Errorf("%w: not enough free disk space. Available: %d, Required: %d",
				ErrInsufficientResources, d.Free, t.FreeDisk)
		}
	}
	return nil
}
