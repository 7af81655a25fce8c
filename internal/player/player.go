// Package player implements the elementary-stream player engine: a state
// machine driving a tunneled hardware decode pipeline, the per-stream feed
// loopers that move client buffers into it, and the A/V sync gate.
package player

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/esplayer/internal/audiodec"
	"github.com/jmylchreest/esplayer/internal/clock"
	"github.com/jmylchreest/esplayer/internal/looper"
	"github.com/jmylchreest/esplayer/internal/observability"
	"github.com/jmylchreest/esplayer/internal/omx"
	"github.com/jmylchreest/esplayer/internal/resource"
)

// ClockFactory builds the player's presentation clock.
type ClockFactory func(core omx.Core, cfg clock.Config, logger *slog.Logger) clock.Clock

// DefaultClockFactory builds a clock on the pipeline runtime's clock stage.
func DefaultClockFactory(core omx.Core, cfg clock.Config, logger *slog.Logger) clock.Clock {
	return clock.NewOMX(core, clock.WithLogger(logger), clock.WithConfig(cfg))
}

// Option configures a Player.
type Option func(*Player)

// WithLogger sets the player's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Player) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithEventHandler sets the receiver of client events.
func WithEventHandler(fn EventHandler) Option {
	return func(p *Player) { p.handler = fn }
}

// WithStateHandler sets the subscriber told about every new state.
func WithStateHandler(fn StateHandler) Option {
	return func(p *Player) { p.state.handler = fn }
}

// WithAudioDecoderFactory replaces the software audio decoder.
func WithAudioDecoderFactory(f audiodec.Factory) Option {
	return func(p *Player) {
		if f != nil {
			p.newDecoder = f
		}
	}
}

// WithClockFactory replaces the presentation clock.
func WithClockFactory(f ClockFactory) Option {
	return func(p *Player) {
		if f != nil {
			p.newClock = f
		}
	}
}

// pipeline is the set of stages built by one load.
type pipeline struct {
	meta  Metadata
	video bool
	audio bool

	vcodec    *omx.Component
	vrenderer *omx.Component
	scheduler *omx.Component
	acodec    *omx.Component
	arenderer *omx.Component
	clock     clock.Clock
	swdec     audiodec.Decoder
}

// Player plays one audio and one video elementary stream.
type Player struct {
	cfg    Config
	core   omx.Core
	rm     resource.Requestor
	logger *slog.Logger

	handler    EventHandler
	newDecoder audiodec.Factory
	newClock   ClockFactory

	state    stateMachine
	loaded   atomic.Bool
	unloadMu sync.Mutex
	pl       atomic.Pointer[pipeline]

	pts  *ptsCorrector
	sync *syncController

	videoMsg    *looper.Looper
	videoRender *looper.Looper
	audioMsg    *looper.Looper
	audioRender *looper.Looper

	queues [2]streamQueue

	mu        sync.Mutex
	rate      int
	trickMode bool
	threeD    ThreeDType
	videoInfo VideoInfo
	planeID   int32

	eosMu       sync.Mutex
	eos         [2]bool
	eosNotified bool

	waitingFirstFrame atomic.Bool
	firstPortSetting  atomic.Bool
	audioLowArmed     atomic.Bool
	frameCount        atomic.Int64

	stepping atomic.Bool
	stepDone chan struct{}

	closeOnce sync.Once
}

// New returns an idle player. The connection id of rm identifies it for
// its whole life.
func New(cfg Config, core omx.Core, rm resource.Requestor, opts ...Option) *Player {
	cfg.applyDefaults()
	p := &Player{
		cfg:        cfg,
		core:       core,
		rm:         rm,
		logger:     slog.Default(),
		newDecoder: audiodec.New,
		newClock:   DefaultClockFactory,
		rate:       cfg.PlaybackRate,
		trickMode:  cfg.TrickMode,
		stepDone:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = observability.WithConnectionID(
		observability.WithComponent(p.logger, "player"), rm.ConnectionID())

	p.pts = newPTSCorrector(cfg.PTSUnit, p.logger)
	p.sync = newSyncController(cfg.Sync, p.logger)

	newLooper := func(name string) *looper.Looper {
		return looper.New(name,
			looper.WithLogger(p.logger),
			looper.WithRetryBackoff(cfg.RetryBackoff),
			looper.WithWarnThreshold(cfg.QueueWarnThreshold))
	}
	p.videoMsg = newLooper("VCodecLooper")
	p.videoRender = newLooper("VRenderLooper")
	p.audioMsg = newLooper("ACodecLooper")
	p.audioRender = newLooper("ARenderLooper")
	return p
}

// Close flushes and unloads a loaded player and stops its loopers.
func (p *Player) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.loaded.Load() {
			if ferr := p.Flush(); ferr != nil {
				p.logger.Warn("flush on close failed", slog.String("error", ferr.Error()))
			}
			if uerr := p.Unload(); uerr != nil {
				p.logger.Warn("unload on close failed", slog.String("error", uerr.Error()))
			}
		}
		p.clearBufQueue(StreamVideo)
		p.clearBufQueue(StreamAudio)

		var g errgroup.Group
		for _, l := range p.loopers() {
			g.Go(l.Close)
		}
		err = g.Wait()
	})
	return err
}

func (p *Player) loopers() []*looper.Looper {
	return []*looper.Looper{p.videoMsg, p.videoRender, p.audioMsg, p.audioRender}
}

func (p *Player) setLoopersRunning(run bool) {
	for _, l := range p.loopers() {
		l.SetRunning(run)
	}
}

// clearFrameQueues drops feed tasks that have not run yet.
func (p *Player) clearFrameQueues() {
	p.videoRender.ClearAll()
	p.audioRender.ClearAll()
}

// notify delivers e to the client on the calling goroutine.
func (p *Player) notify(e Event, data any) {
	p.logger.Debug("client event", slog.String("event", e.String()))
	if p.handler != nil {
		p.handler(e, data)
	}
}

// post delivers e to the client from a message looper.
func (p *Player) post(l *looper.Looper, e Event, data any) {
	l.AppendFunc(func() looper.Status {
		p.notify(e, data)
		return looper.Done
	})
}

// Status returns the player's current state.
func (p *Player) Status() State { return p.state.get() }

// Loaded reports whether a pipeline is loaded.
func (p *Player) Loaded() bool { return p.loaded.Load() }

// ConnectionID returns the resource-manager connection id.
func (p *Player) ConnectionID() string { return p.rm.ConnectionID() }

// CopyConnectionID writes the NUL terminated connection id into dst.
func (p *Player) CopyConnectionID(dst []byte) error {
	id := p.rm.ConnectionID()
	if id == "" || len(dst) <= len(id) {
		return wrap(ErrFail, "connection id needs %d bytes, have %d", len(id)+1, len(dst))
	}
	n := copy(dst, id)
	dst[n] = 0
	return nil
}

// BufferLevel returns the number of input buffers of stream s held by the
// decoder.
func (p *Player) BufferLevel(s Stream) (int, error) {
	pl := p.pl.Load()
	if pl == nil {
		return 0, wrap(ErrFail, "buffer level: not loaded")
	}
	var comp *omx.Component
	switch s {
	case StreamAudio:
		comp = pl.acodec
	case StreamVideo:
		comp = pl.vcodec
	}
	if comp == nil {
		return 0, wrap(ErrFail, "buffer level: no %s decoder", s)
	}
	return comp.UsedBufferCount(), nil
}

// MediaTime returns the clock's start and current media time.
func (p *Player) MediaTime() (start, current int64, err error) {
	pl := p.pl.Load()
	if pl == nil || pl.clock == nil {
		return 0, 0, wrap(ErrFail, "media time: no clock")
	}
	start, current, err = pl.clock.MediaTime()
	if err != nil {
		return 0, 0, wrapErr(ErrFail, err, "media time")
	}
	return start, current, nil
}

// SyncState returns the state of the video feed gate.
func (p *Player) SyncState() SyncState { return p.sync.State() }

// VideoInfo returns the last video description reported by the decoder.
func (p *Player) VideoInfo() VideoInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.videoInfo
}

// FrameCount returns the number of video buffers consumed and frames
// rendered since the last pause.
func (p *Player) FrameCount() int64 { return p.frameCount.Load() }

// PlaybackRate returns the requested playback rate.
func (p *Player) PlaybackRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

// SetPlaybackRate sets the rate in thousandths of normal speed. The clock
// is updated only while Loaded or Playing; otherwise the rate applies on
// the next play.
func (p *Player) SetPlaybackRate(rate int) error {
	p.logger.Info("set playback rate", slog.Int("rate", rate))
	if rate < 0 || rate > clock.MaxPlaybackRate {
		return wrap(ErrFail, "playback rate %d out of range", rate)
	}
	p.mu.Lock()
	p.rate = rate
	p.mu.Unlock()

	st := p.state.get()
	pl := p.pl.Load()
	if pl != nil && pl.clock != nil && (st == StatePlaying || st == StateLoaded) {
		if err := pl.clock.SetPlaybackRate(rate); err != nil {
			p.logger.Warn("clock rate not applied", slog.String("error", err.Error()), slog.Int("code", int(ErrClock)))
		}
	}
	return nil
}

// SetTrickMode enables or disables trick play. Disabling when not enabled
// is ignored.
func (p *Player) SetTrickMode(enable bool) error {
	p.mu.Lock()
	if !p.trickMode && !enable {
		p.mu.Unlock()
		return nil
	}
	p.trickMode = enable
	p.mu.Unlock()

	if pl := p.pl.Load(); pl != nil && pl.clock != nil {
		pl.clock.SetTrickMode(enable)
	}
	return nil
}

// SetVolume sets the audio renderer volume in percent. The ease
// parameters are accepted for compatibility; the change is immediate.
func (p *Player) SetVolume(volume, easeMs int, ease EaseType) error {
	p.logger.Info("set volume",
		slog.Int("volume", volume),
		slog.Int("ease_ms", easeMs),
		slog.Int("ease", int(ease)))
	if volume < 0 || volume > 100 {
		return wrap(ErrFail, "volume %d out of range", volume)
	}
	if pl := p.pl.Load(); pl != nil && pl.arenderer != nil {
		if err := pl.arenderer.SetVolume(volume); err != nil {
			p.logger.Warn("renderer volume not applied", slog.String("error", err.Error()))
		}
	}
	return nil
}

// Set3DType forces the stereoscopic layout reported in video info. It
// fails once playback has started.
func (p *Player) Set3DType(t ThreeDType) error {
	if p.state.get() >= StatePlaying {
		return wrap(ErrFail, "3d type cannot change in state %s", p.state.get())
	}
	p.mu.Lock()
	p.threeD = t
	p.mu.Unlock()
	return nil
}

// SetVideoDisplayWindow positions the video on screen.
func (p *Player) SetVideoDisplayWindow(dst Window, fullscreen bool) error {
	p.logger.Info("set display window",
		slog.Int("left", dst.Left), slog.Int("top", dst.Top),
		slog.Int("width", dst.Width), slog.Int("height", dst.Height),
		slog.Bool("fullscreen", fullscreen))
	if err := p.rm.SetVideoDisplayWindow(resource.Window(dst), fullscreen); err != nil {
		return wrapErr(ErrFail, err, "display window")
	}
	return nil
}

// SetVideoCustomDisplayWindow crops the video to src and positions it at
// dst.
func (p *Player) SetVideoCustomDisplayWindow(src, dst Window, fullscreen bool) error {
	if err := p.rm.SetVideoCustomDisplayWindow(resource.Window(src), resource.Window(dst), fullscreen); err != nil {
		return wrapErr(ErrFail, err, "custom display window")
	}
	return nil
}

// NotifyForegroundState tells the resource manager whether the owning
// application is visible.
func (p *Player) NotifyForegroundState(s AppState) error {
	var err error
	switch s {
	case AppStateForeground:
		err = p.rm.NotifyForeground()
	case AppStateBackground:
		err = p.rm.NotifyBackground()
	default:
		return nil
	}
	if err != nil {
		return wrapErr(ErrSetState, err, "app state %d", int(s))
	}
	return nil
}

// MuteAudio mutes or unmutes audio output.
func (p *Player) MuteAudio(mute bool) error {
	if err := p.rm.MuteAudio(mute); err != nil {
		return wrapErr(ErrFail, err, "mute audio")
	}
	return nil
}

// MuteVideo blanks or restores video output.
func (p *Player) MuteVideo(mute bool) error {
	if err := p.rm.MuteVideo(mute); err != nil {
		return wrapErr(ErrFail, err, "mute video")
	}
	return nil
}

func (p *Player) String() string {
	return fmt.Sprintf("player(%s, %s)", p.rm.ConnectionID(), p.state.get())
}
