package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"github.com/asynctalk/chatroom/hub"
)

// TelemetryWorker logs health metrics of the hub process (CPU, RSS, open
// delivery channels, live participants) on a fixed interval.
type TelemetryWorker struct {
	log      *slog.Logger
	hub      *hub.Hub
	interval time.Duration
}

func NewTelemetryWorker(log *slog.Logger, h *hub.Hub, interval time.Duration) *TelemetryWorker {
	return &TelemetryWorker{log: log, hub: h, interval: interval}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	w.log.Info("Starting telemetry worker", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rss, cpu, status, err := getSelfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "err", err)
				continue
			}
			w.log.Info("Hub status",
				"pid_status", status,
				"cpu_percent", cpu,
				"ram_bytes", rss,
				"live_users", len(w.hub.ListActive()),
				"open_channels", w.hub.OpenChannels(),
				"recent_speakers", w.hub.RecentSpeakers(time.Minute))
		}
	}
}

// getSelfStats retrieves technical metrics (Memory, CPU, and OS Status) for
// the given process.
func getSelfStats(p *process.Process) (uint64, float64, string, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, "", err
	}

	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, "", err
	}

	status, err := p.Status()
	if err != nil {
		return 0, 0, "", err
	}
	return memInfo.RSS, cpuPercent, status, nil
}
