package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// RecorderSample is one resource reading of a recorder process.
type RecorderSample struct {
	CPUPercent float64
	RSS        uint64
}

// SampleProcess reads CPU and memory usage of pid.
func SampleProcess(pid int) (RecorderSample, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return RecorderSample{}, err
	}
	cpu, err := proc.CPUPercent()
	if err != nil {
		cpu = 0
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return RecorderSample{}, err
	}
	return RecorderSample{CPUPercent: cpu, RSS: mem.RSS}, nil
}

// WatchRecorder samples pid every interval until ctx ends, then clears
// the room's recorder gauges.
func WatchRecorder(ctx context.Context, room string, pid int, every time.Duration) {
	if !regOK.Load() || pid <= 0 {
		return
	}
	if every <= 0 {
		every = 15 * time.Second
	}
	defer func() {
		recorderCPU.DeleteLabelValues(room)
		recorderRSS.DeleteLabelValues(room)
	}()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		if s, err := SampleProcess(pid); err == nil {
			recorderCPU.WithLabelValues(room).Set(s.CPUPercent)
			recorderRSS.WithLabelValues(room).Set(float64(s.RSS))
		} else {
			slog.Debug("recorder sample failed", "room", room, "pid", pid, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
