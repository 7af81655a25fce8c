package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/esplayer/internal/codec"
	"github.com/jmylchreest/esplayer/internal/observability"
	"github.com/jmylchreest/esplayer/internal/player"
)

// Source yields stream buffers until io.EOF.
type Source interface {
	Next() (*player.StreamBuffer, error)
}

// Sink accepts stream buffers. *player.Player is a Sink.
type Sink interface {
	FeedData(buf *player.StreamBuffer) (int, error)
	QueueLen(s player.Stream) int
}

// FeederConfig configures a Feeder.
type FeederConfig struct {
	// Streams lists the streams that receive an end-of-stream buffer once
	// the source is exhausted.
	Streams []player.Stream
	// Unit is the timestamp unit the sink was loaded with. Source
	// timestamps are 90 kHz ticks.
	Unit player.PTSUnit
	// MaxQueued pauses feeding while the sink holds this many unwritten
	// buffers for a stream.
	MaxQueued int
	// RetryBackoff is the wait before retrying a full sink.
	RetryBackoff time.Duration
	// ChannelSize is the read-ahead between the reader and feeder goroutines.
	ChannelSize int
	Logger      *slog.Logger
}

// DefaultFeederConfig returns the default feeder settings.
func DefaultFeederConfig() FeederConfig {
	return FeederConfig{
		Unit:         player.PTSTicks,
		MaxQueued:    32,
		RetryBackoff: 10 * time.Millisecond,
		ChannelSize:  16,
	}
}

// FeederStats counts what a Feeder has delivered.
type FeederStats struct {
	VideoBuffers int64 `json:"video_buffers"`
	VideoBytes   int64 `json:"video_bytes"`
	AudioBuffers int64 `json:"audio_buffers"`
	AudioBytes   int64 `json:"audio_bytes"`
	Retries      int64 `json:"retries"`
}

// Feeder pumps a Source into a Sink. A reader goroutine pulls buffers from
// the source while a feeder goroutine delivers them, backing off while the
// sink is full.
type Feeder struct {
	src    Source
	sink   Sink
	cfg    FeederConfig
	logger *slog.Logger

	videoBuffers atomic.Int64
	videoBytes   atomic.Int64
	audioBuffers atomic.Int64
	audioBytes   atomic.Int64
	retries      atomic.Int64
}

// NewFeeder returns a feeder from src to sink.
func NewFeeder(src Source, sink Sink, cfg FeederConfig) *Feeder {
	def := DefaultFeederConfig()
	if cfg.MaxQueued <= 0 {
		cfg.MaxQueued = def.MaxQueued
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.ChannelSize <= 0 {
		cfg.ChannelSize = def.ChannelSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Feeder{
		src:    src,
		sink:   sink,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "feeder")),
	}
}

// Run feeds until the source is exhausted, then sends end-of-stream
// buffers. It returns early on ctx cancellation or a feed error.
func (f *Feeder) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	bufs := make(chan *player.StreamBuffer, f.cfg.ChannelSize)

	g.Go(func() error {
		defer close(bufs)
		for {
			buf, err := f.src.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			select {
			case bufs <- buf:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	g.Go(func() error {
		for buf := range bufs {
			if err := f.deliver(ctx, buf); err != nil {
				return err
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		for _, s := range f.cfg.Streams {
			eos := &player.StreamBuffer{Stream: s, Flags: player.FlagEndOfStream}
			if err := f.deliver(ctx, eos); err != nil {
				return fmt.Errorf("sending %s end of stream: %w", s, err)
			}
			observability.WithStream(f.logger, s.String()).Debug("end of stream sent")
		}
		return nil
	})

	return g.Wait()
}

// deliver hands buf to the sink, waiting while the sink is saturated.
func (f *Feeder) deliver(ctx context.Context, buf *player.StreamBuffer) error {
	if f.cfg.Unit == player.PTSMicroseconds {
		buf.Timestamp = buf.Timestamp * 100 / 9
	}
	for {
		if f.sink.QueueLen(buf.Stream) < f.cfg.MaxQueued {
			_, err := f.sink.FeedData(buf)
			if err == nil {
				f.count(buf)
				f.logger.Log(ctx, observability.LevelTrace, "buffer fed",
					slog.String(observability.KeyStream, buf.Stream.String()),
					slog.Int64("pts", buf.Timestamp),
					slog.Int("size", buf.Len()))
				return nil
			}
			if !errors.Is(err, player.ErrFeedFull) {
				return fmt.Errorf("feeding %s buffer: %w", buf.Stream, err)
			}
		}
		f.retries.Add(1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.cfg.RetryBackoff):
		}
	}
}

func (f *Feeder) count(buf *player.StreamBuffer) {
	if buf.Stream == player.StreamVideo {
		f.videoBuffers.Add(1)
		f.videoBytes.Add(int64(buf.Len()))
		return
	}
	f.audioBuffers.Add(1)
	f.audioBytes.Add(int64(buf.Len()))
}

// Stats returns the delivery counters.
func (f *Feeder) Stats() FeederStats {
	return FeederStats{
		VideoBuffers: f.videoBuffers.Load(),
		VideoBytes:   f.videoBytes.Load(),
		AudioBuffers: f.audioBuffers.Load(),
		AudioBytes:   f.audioBytes.Load(),
		Retries:      f.retries.Load(),
	}
}

// StreamsOf returns the streams present in meta.
func StreamsOf(meta player.Metadata) []player.Stream {
	var out []player.Stream
	if meta.VideoCodec != codec.VideoNone {
		out = append(out, player.StreamVideo)
	}
	if meta.AudioCodec != codec.AudioNone {
		out = append(out, player.StreamAudio)
	}
	return out
}
