package service

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessMetrics is a point-in-time resource sample for one pid.
type ProcessMetrics struct {
	CPU      float64
	Memory   uint64
	Username string
}

type MetricsSource interface {
	Sample(pid int) (ProcessMetrics, error)
}

type psMetrics struct{}

// Sample reads CPU percent, resident memory and owner of pid. Fields that
// cannot be read are left zero.
func (psMetrics) Sample(pid int) (ProcessMetrics, error) {
	if pid <= 0 {
		return ProcessMetrics{}, fmt.Errorf("invalid pid %d", pid)
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return ProcessMetrics{}, err
	}

	var m ProcessMetrics
	if cpu, err := p.CPUPercent(); err == nil {
		m.CPU = cpu
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		m.Memory = mem.RSS
	}
	if user, err := p.Username(); err == nil {
		m.Username = user
	}
	return m, nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)

	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour

	hours := d / time.Hour
	d -= hours * time.Hour

	minutes := d / time.Minute
	d -= minutes * time.Minute

	seconds := d / time.Second

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
