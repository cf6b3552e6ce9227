package observability

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/process"
)

// ProcessStats is the self-reported resource snapshot served by /health.
type ProcessStats struct {
	PID        int32   `json:"pid"`
	RSSBytes   uint64  `json:"rssBytes"`
	CPUPercent float64 `json:"cpuPercent"`
	Goroutines int     `json:"goroutines"`
	Uptime     string  `json:"uptime"`
}

// ProcessSampler reads resource usage of the current process.
type ProcessSampler struct {
	proc    *process.Process
	started time.Time
}

// NewProcessSampler attaches to the running process.
func NewProcessSampler() (*ProcessSampler, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &ProcessSampler{proc: p, started: time.Now()}, nil
}

// Sample returns memory, CPU and goroutine figures for the process.
func (s *ProcessSampler) Sample() (ProcessStats, error) {
	memInfo, err := s.proc.MemoryInfo()
	if err != nil {
		return ProcessStats{}, err
	}
	cpuPercent, err := s.proc.CPUPercent()
	if err != nil {
		return ProcessStats{}, err
	}
	return ProcessStats{
		PID:        s.proc.Pid,
		RSSBytes:   memInfo.RSS,
		CPUPercent: cpuPercent,
		Goroutines: runtime.NumGoroutine(),
		Uptime:     time.Since(s.started).Round(time.Second).String(),
	}, nil
}
