package resource

import (
	"time"

	gps "github.com/shirou/gopsutil/v4/process"
)

// Sample is one point-in-time resource reading for a supervised process.
type Sample struct {
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sampler reads current CPU and resident memory for an OS pid.
type Sampler interface {
	Sample(pid int) (Sample, error)
}

// GopsutilSampler implements Sampler via gopsutil.
type GopsutilSampler struct{}

func (GopsutilSampler) Sample(pid int) (Sample, error) {
	proc, err := gps.NewProcess(int32(pid)) // #nosec G115 -- pids fit in int32
	if err != nil {
		return Sample{}, err
	}
	s := Sample{Timestamp: time.Now()}
	if cpu, err := proc.CPUPercent(); err == nil {
		s.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil {
		s.MemoryRSS = mem.RSS
	}
	return s, nil
}
