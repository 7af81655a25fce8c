package cmd

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/jmylchreest/esplayer/internal/player"
)

// reportStats logs process usage and player progress every interval until
// ctx is done.
func reportStats(ctx context.Context, pb *playback, interval time.Duration) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		slog.Warn("process stats unavailable", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		attrs := []any{
			slog.String("state", pb.player.Status().String()),
			slog.String("sync", pb.player.SyncState().String()),
			slog.Int64("frames", pb.player.FrameCount()),
			slog.Int("video_queued", pb.player.QueueLen(player.StreamVideo)),
			slog.Int("audio_queued", pb.player.QueueLen(player.StreamAudio)),
		}
		if _, cur, err := pb.player.MediaTime(); err == nil {
			attrs = append(attrs, slog.Int64("media_time", cur))
		}
		if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
			attrs = append(attrs, slog.Float64("system_cpu_percent", pct[0]))
		}
		if proc != nil {
			if pct, err := proc.CPUPercentWithContext(ctx); err == nil {
				attrs = append(attrs, slog.Float64("process_cpu_percent", pct))
			}
			if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
				attrs = append(attrs, slog.Uint64("process_rss_bytes", mem.RSS))
			}
		}

		stats := pb.feeder.Stats()
		attrs = append(attrs,
			slog.Int64("video_buffers_fed", stats.VideoBuffers),
			slog.Int64("audio_buffers_fed", stats.AudioBuffers),
		)
		slog.Info("playback stats", attrs...)
	}
}
