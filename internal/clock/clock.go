// Package clock drives the shared media clock that gates audio and video
// presentation.
package clock

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/esplayer/internal/omx"
)

// Playback rates are expressed in thousandths of normal speed.
const (
	NormalPlaybackRate = 1000
	MaxPlaybackRate    = 2000
	// MaxClockTolerance is the drift in microseconds tolerated before the
	// reference clock is updated.
	MaxClockTolerance = 50000
)

// Wait mask bits select which streams must deliver a first timestamp
// before the clock starts.
const (
	WaitAudio uint32 = 1 << iota
	WaitVideo
)

// DefaultPreroll is how far the clock starts ahead of the first timestamp.
const DefaultPreroll = 200 * time.Millisecond

var (
	// ErrNotCreated is returned by operations on a clock without a stage.
	ErrNotCreated = errors.New("clock: not created")
	// ErrState is returned when the clock state cannot be read or changed.
	ErrState = errors.New("clock: state error")
	// ErrPort is returned for a port the clock does not drive.
	ErrPort = errors.New("clock: unknown port")
)

// RateToScale converts a playback rate to the Q16 clock scale.
func RateToScale(rate int) int32 {
	return int32(0x10000 * rate / NormalPlaybackRate)
}

// WaitMask returns the wait mask for the enabled streams.
func WaitMask(audio, video bool) uint32 {
	var mask uint32
	if audio {
		mask |= WaitAudio
	}
	if video {
		mask |= WaitVideo
	}
	return mask
}

// Clock is the shared presentation clock of a player.
type Clock interface {
	Create() error
	Destroy()
	Component() *omx.Component

	SetState(state omx.State, timeout time.Duration) error
	EnablePort(port int, enable bool, timeout time.Duration) error
	// Connect tunnels clockPort to compPort of comp.
	Connect(clockPort int, comp *omx.Component, compPort int) error

	SetPlaybackRate(rate int) error
	PlaybackRate() int
	SetTrickMode(enable bool)

	SetWaitingForStartTime(mask uint32) error
	SetStopped() error
	StepFrame(port int) error
	MediaTime() (start, current int64, err error)
}

// Config configures the hardware clock.
type Config struct {
	Preroll   time.Duration
	Component omx.Config
}

// Option configures an OMX clock.
type Option func(*OMX)

// WithLogger sets the clock's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *OMX) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithConfig sets the clock's configuration.
func WithConfig(cfg Config) Option {
	return func(c *OMX) { c.cfg = cfg }
}

// OMX is the Clock backed by the clock stage of the pipeline runtime.
type OMX struct {
	core   omx.Core
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	comp        *omx.Component
	rate        int
	targetScale int32
	refClock    omx.RefClock
	trickMode   bool
}

// NewOMX returns a clock bound to core. Create must be called before use.
func NewOMX(core omx.Core, opts ...Option) *OMX {
	c := &OMX{
		core:   core,
		logger: slog.Default(),
		cfg: Config{
			Preroll:   DefaultPreroll,
			Component: omx.DefaultConfig(),
		},
		rate:        NormalPlaybackRate,
		targetScale: RateToScale(NormalPlaybackRate),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "clock"))
	return c
}

var _ Clock = (*OMX)(nil)

// Create instantiates the clock stage.
func (c *OMX) Create() error {
	comp := omx.NewComponent(c.core,
		omx.WithLogger(c.logger),
		omx.WithConfig(c.cfg.Component),
		omx.WithListener(c.onEvent))
	if err := comp.Create(omx.KindClock); err != nil {
		return fmt.Errorf("creating clock: %w", err)
	}
	c.mu.Lock()
	c.comp = comp
	c.mu.Unlock()
	return nil
}

// Destroy frees the clock stage.
func (c *OMX) Destroy() {
	c.mu.Lock()
	comp := c.comp
	c.comp = nil
	c.refClock = omx.RefClockNone
	c.mu.Unlock()
	if comp != nil {
		comp.Destroy()
	}
}

// Component returns the clock stage, or nil before Create.
func (c *OMX) Component() *omx.Component {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.comp
}

func (c *OMX) component() (*omx.Component, error) {
	comp := c.Component()
	if comp == nil {
		return nil, ErrNotCreated
	}
	return comp, nil
}

// SetState changes the stage state of the clock.
func (c *OMX) SetState(state omx.State, timeout time.Duration) error {
	comp, err := c.component()
	if err != nil {
		return err
	}
	return comp.SetState(state, timeout)
}

// EnablePort enables or disables a clock output.
func (c *OMX) EnablePort(port int, enable bool, timeout time.Duration) error {
	comp, err := c.component()
	if err != nil {
		return err
	}
	if enable {
		return comp.EnablePort(port, timeout)
	}
	return comp.DisablePort(port, timeout)
}

// Connect tunnels a clock output to a stage's clock input.
func (c *OMX) Connect(clockPort int, other *omx.Component, otherPort int) error {
	comp, err := c.component()
	if err != nil {
		return err
	}
	return comp.SetupTunnel(clockPort, other, otherPort)
}

// SetPlaybackRate sets the clock scale for rate.
func (c *OMX) SetPlaybackRate(rate int) error {
	c.mu.Lock()
	c.rate = rate
	c.targetScale = RateToScale(rate)
	scale := c.targetScale
	c.mu.Unlock()
	return c.setScale(scale)
}

// PlaybackRate returns the last requested rate.
func (c *OMX) PlaybackRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

// SetTrickMode records whether trick play is active.
func (c *OMX) SetTrickMode(enable bool) {
	c.mu.Lock()
	c.trickMode = enable
	c.mu.Unlock()
}

// TrickMode reports whether trick play is active.
func (c *OMX) TrickMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trickMode
}

func (c *OMX) setScale(scale int32) error {
	comp, err := c.component()
	if err != nil {
		return err
	}
	c.logger.Debug("setting clock scale", slog.Int("scale", int(scale)))
	if err := comp.Handle().SetConfig(&omx.TimeScale{Scale: scale}); err != nil {
		return fmt.Errorf("setting clock scale: %w: %w", ErrState, err)
	}
	return nil
}

func (c *OMX) setReferenceClock(ref omx.RefClock) error {
	c.mu.Lock()
	if ref == c.refClock {
		c.mu.Unlock()
		return nil
	}
	c.refClock = ref
	comp := c.comp
	c.mu.Unlock()

	if comp == nil {
		return ErrNotCreated
	}
	if err := comp.Handle().SetConfig(&omx.ActiveRefClock{Clock: ref}); err != nil {
		return fmt.Errorf("setting reference clock: %w", err)
	}
	c.logger.Debug("reference clock selected", slog.Int("ref", int(ref)))
	return nil
}

// SetWaitingForStartTime stops the clock and arms it to start once every
// stream in mask has delivered its first timestamp.
func (c *OMX) SetWaitingForStartTime(mask uint32) error {
	comp, err := c.component()
	if err != nil {
		return err
	}
	if err := c.setReferenceClock(omx.RefClockAudio); err != nil {
		c.logger.Error("selecting audio reference clock failed", slog.String("error", err.Error()))
	}
	if err := c.SetStopped(); err != nil {
		return err
	}

	state := omx.TimeClockState{
		State:     omx.ClockWaitingForStartTime,
		StartTime: 0,
		Offset:    -c.cfg.Preroll.Microseconds(),
		WaitMask:  mask,
	}
	c.logger.Debug("clock waiting for start time", slog.Uint64("wait_mask", uint64(mask)))
	if err := comp.Handle().SetConfig(&state); err != nil {
		return fmt.Errorf("arming clock: %w", err)
	}
	return nil
}

// SetStopped stops the clock unless it is already stopped.
func (c *OMX) SetStopped() error {
	comp, err := c.component()
	if err != nil {
		return err
	}
	var state omx.TimeClockState
	if err := comp.Handle().GetConfig(&state); err != nil {
		return fmt.Errorf("reading clock state: %w: %w", ErrState, err)
	}
	if state.State == omx.ClockStopped {
		return nil
	}
	state.State = omx.ClockStopped
	if err := comp.Handle().SetConfig(&state); err != nil {
		return fmt.Errorf("stopping clock: %w: %w", ErrState, err)
	}
	return nil
}

// StepFrame re-arms the clock to start on the next frame delivered through
// port.
func (c *OMX) StepFrame(port int) error {
	var mask uint32
	switch port {
	case omx.PortClockVideo:
		mask = WaitVideo
	case omx.PortClockAudio:
		mask = WaitAudio
	default:
		return fmt.Errorf("%w: %d", ErrPort, port)
	}
	return c.SetWaitingForStartTime(mask)
}

// MediaTime returns the start time and current media time of the clock in
// microseconds. Both are -1 until the clock has started.
func (c *OMX) MediaTime() (start, current int64, err error) {
	comp, err := c.component()
	if err != nil {
		return -1, -1, err
	}
	var state omx.TimeClockState
	if err := comp.Handle().GetConfig(&state); err != nil {
		return -1, -1, fmt.Errorf("reading clock state: %w: %w", ErrState, err)
	}
	if state.State != omx.ClockRunning {
		return -1, -1, nil
	}
	mt := omx.MediaTime{Port: omx.PortClockVideo}
	if err := comp.Handle().GetConfig(&mt); err != nil {
		return -1, -1, fmt.Errorf("reading media time: %w: %w", ErrState, err)
	}
	return state.StartTime, mt.Timestamp, nil
}

func (c *OMX) onEvent(e omx.Event) {
	if e.Type != omx.NotifyClockStateChanged {
		return
	}
	update, ok := e.Data.(*omx.ClockUpdate)
	if !ok || update.State != omx.ClockRunning {
		return
	}
	c.mu.Lock()
	target := c.targetScale
	c.mu.Unlock()
	if update.Scale == target {
		return
	}
	c.logger.Debug("clock running at stale scale",
		slog.Int("scale", int(update.Scale)),
		slog.Int("target", int(target)))
	if err := c.setScale(target); err != nil {
		c.logger.Warn("re-applying clock scale failed", slog.String("error", err.Error()))
	}
}
