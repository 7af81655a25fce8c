package player

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/esplayer/internal/omx"
)

// SyncState is the video feed gate.
type SyncState int

// Sync states.
const (
	SyncAllow SyncState = iota
	SyncHold
	SyncSkip
)

func (s SyncState) String() string {
	switch s {
	case SyncHold:
		return "hold"
	case SyncSkip:
		return "skip"
	default:
		return "allow"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s SyncState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// SyncConfig holds the feed gating thresholds. Deltas are video minus
// audio presentation time.
type SyncConfig struct {
	SkipThreshold  time.Duration `mapstructure:"skip_threshold"`
	LowThreshold   time.Duration `mapstructure:"low_threshold"`
	HighThreshold  time.Duration `mapstructure:"high_threshold"`
	VideoHighCount int           `mapstructure:"video_high_count"`
	VideoLowCount  int           `mapstructure:"video_low_count"`
	AudioLowCount  int           `mapstructure:"audio_low_count"`
}

// DefaultSyncConfig returns the default thresholds.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		SkipThreshold:  -100 * time.Millisecond,
		LowThreshold:   250 * time.Millisecond,
		HighThreshold:  time.Second,
		VideoHighCount: 30,
		VideoLowCount:  10,
		AudioLowCount:  10,
	}
}

// syncController gates video on its distance from audio. Only Hold/Allow
// transitions produce a client event.
type syncController struct {
	skip, low, high int64
	highCount       int
	logger          *slog.Logger

	mu        sync.Mutex
	state     SyncState
	lastVideo int64
	lastAudio int64
}

func newSyncController(cfg SyncConfig, logger *slog.Logger) *syncController {
	return &syncController{
		skip:      cfg.SkipThreshold.Microseconds(),
		low:       cfg.LowThreshold.Microseconds(),
		high:      cfg.HighThreshold.Microseconds(),
		highCount: cfg.VideoHighCount,
		logger:    logger,
	}
}

func (c *syncController) State() SyncState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *syncController) SetState(s SyncState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Allow forces the gate open and reports whether it was closed.
func (c *syncController) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.state
	c.state = SyncAllow
	return was != SyncAllow
}

// ResetAudio forgets the last audio timestamp.
func (c *syncController) ResetAudio() {
	c.mu.Lock()
	c.lastAudio = 0
	c.mu.Unlock()
}

// Reset forgets both timestamps.
func (c *syncController) Reset() {
	c.mu.Lock()
	c.lastAudio = 0
	c.lastVideo = 0
	c.mu.Unlock()
}

// Flags computes the buffer flags for a sample of stream s at pts (µs).
// videoUsed is the number of video input buffers held by the decoder. When
// the gate crosses between Hold and Allow, notify is true and event names
// the crossing.
func (c *syncController) Flags(s Stream, pts int64, flags omx.BufferFlags, videoUsed int) (_ omx.BufferFlags, event Event, notify bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var delta int64
	if c.lastVideo != 0 && c.lastAudio != 0 {
		delta = c.lastVideo - c.lastAudio
	}
	next := c.state

	switch s {
	case StreamVideo:
		switch {
		case c.lastVideo == 0:
			c.state = SyncAllow
			next = SyncAllow
			flags |= omx.BufferFlagStartTime
		case delta < c.skip:
			c.state = SyncSkip
			next = SyncSkip
			flags |= omx.BufferFlagDecodeOnly
			c.logger.Debug("video skipped", slog.Int64("av_delta", delta), slog.Int64("pts", pts))
		case c.state != SyncHold && delta > c.high:
			next = SyncHold
		case c.state == SyncSkip && delta < c.low:
			next = SyncAllow
		}
		if c.state == SyncAllow && videoUsed > c.highCount {
			next = SyncHold
		}
		c.lastVideo = pts

	case StreamAudio:
		if c.lastAudio == 0 {
			flags |= omx.BufferFlagStartTime
		}
		if c.state != SyncAllow && delta > c.skip && delta < c.low && videoUsed <= c.highCount {
			next = SyncAllow
		}
		c.lastAudio = pts
	}

	switch {
	case c.state != SyncHold && next == SyncHold:
		c.state = SyncHold
		c.logger.Debug("video held",
			slog.Int64("av_delta", delta),
			slog.Int("video_used", videoUsed))
		return flags, EventHighThresholdCrossedVideo, true
	case c.state == SyncHold && next == SyncAllow:
		c.state = SyncAllow
		c.logger.Debug("video allowed",
			slog.Int64("av_delta", delta),
			slog.Int("video_used", videoUsed))
		return flags, EventLowThresholdCrossedVideo, true
	case c.state == SyncSkip && next == SyncAllow:
		c.state = SyncAllow
	}
	return flags, 0, false
}
