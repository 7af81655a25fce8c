package omx

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/esplayer/internal/codec"
)

// Kind identifies the role of a hardware stage.
type Kind int

// Stage kinds.
const (
	KindClock Kind = iota
	KindVideoDecoder
	KindVideoScheduler
	KindVideoRenderer
	KindAudioDecoder
	KindAudioRenderer
	KindAudioMixer
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindClock:
		return "clock"
	case KindVideoDecoder:
		return "video_decoder"
	case KindVideoScheduler:
		return "video_scheduler"
	case KindVideoRenderer:
		return "video_renderer"
	case KindAudioDecoder:
		return "audio_decoder"
	case KindAudioRenderer:
		return "audio_renderer"
	case KindAudioMixer:
		return "audio_mixer"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) domain() Domain {
	switch k {
	case KindVideoDecoder, KindVideoScheduler, KindVideoRenderer:
		return DomainVideo
	case KindAudioDecoder, KindAudioRenderer, KindAudioMixer:
		return DomainAudio
	default:
		return DomainOther
	}
}

// DefaultComponentNames are the runtime names of each stage kind.
var DefaultComponentNames = map[Kind]string{
	KindClock:          "OMX.broadcom.clock",
	KindVideoDecoder:   "OMX.broadcom.video_decode",
	KindVideoScheduler: "OMX.broadcom.video_scheduler",
	KindVideoRenderer:  "OMX.drm.video_render",
	KindAudioDecoder:   "OMX.broadcom.audio_decode",
	KindAudioRenderer:  "OMX.broadcom.audio_render",
	KindAudioMixer:     "OMX.broadcom.audio_mixer",
}

// Fixed port numbers of the stages.
const (
	PortVideoDecoderInput  = 130
	PortVideoDecoderOutput = 131
	PortVideoRendererInput = 90

	PortVideoSchedulerInput  = 10
	PortVideoSchedulerOutput = 11
	PortVideoSchedulerClock  = 12

	PortAudioDecoderInput  = 120
	PortAudioDecoderOutput = 121

	PortAudioRendererInput = 100
	PortAudioRendererClock = 101

	PortAudioMixerInput  = 232
	PortAudioMixerOutput = 231
	PortAudioMixerClock  = 230

	PortClockAudio = 80
	PortClockVideo = 81
	PortClockMixer = 82
)

// videoFramerateQ16 is the fixed input framerate hint given to the decoder.
const videoFramerateQ16 = 1966080

// roundedUpChannelsShift maps a channel count to log2 of the channel count
// rounded up to a power of two.
var roundedUpChannelsShift = [...]uint{0, 0, 1, 2, 2, 3, 3, 3, 3}

// ChannelsShift returns log2 of channels rounded up to a power of two.
// Counts outside 0..8 are clamped.
func ChannelsShift(channels int) uint {
	if channels < 0 {
		channels = 0
	}
	if channels >= len(roundedUpChannelsShift) {
		channels = len(roundedUpChannelsShift) - 1
	}
	return roundedUpChannelsShift[channels]
}

const (
	audioDecodeOutputBuffer = 32 * 1024
	audioBufferSeconds      = 3
	audioMinInputBuffers    = 16
)

// BufferGeometry is a buffer count and size pair.
type BufferGeometry struct {
	Count int
	Size  int
}

// Config holds the component wrapper's timeouts and default buffer geometry.
type Config struct {
	StateTimeout      time.Duration
	PortTimeout       time.Duration
	FlushTimeout      time.Duration
	FreeBufferTimeout time.Duration
	EventQueueSize    int

	VideoInput    BufferGeometry
	VideoOutput   BufferGeometry
	AudioInput    BufferGeometry
	AudioOutput   BufferGeometry
	AudioRenderer BufferGeometry
}

// DefaultConfig returns the default component configuration.
func DefaultConfig() Config {
	return Config{
		StateTimeout:      3 * time.Second,
		PortTimeout:       3 * time.Second,
		FlushTimeout:      3 * time.Second,
		FreeBufferTimeout: time.Second,
		EventQueueSize:    64,
		VideoInput:        BufferGeometry{Count: 60, Size: 81920},
		VideoOutput:       BufferGeometry{Count: 4, Size: 4096},
		AudioInput:        BufferGeometry{Count: 16, Size: 65536},
		AudioOutput:       BufferGeometry{Count: 16, Size: audioDecodeOutputBuffer},
		AudioRenderer:     BufferGeometry{Count: 16, Size: 4096},
	}
}

// Notification is an event forwarded to the component's listener.
type Notification int

// Listener notifications.
const (
	NotifyUnderflow Notification = iota + 1
	NotifyPortSettingChanged
	NotifyEndOfStream
	NotifyResourceAcquired
	NotifyRender
	NotifyVideoInfo
	NotifyAudioInfo
	NotifyEmptyBufferDone
	NotifyFillBufferDone
	NotifyClockStateChanged
)

// String returns the notification name.
func (n Notification) String() string {
	switch n {
	case NotifyUnderflow:
		return "underflow"
	case NotifyPortSettingChanged:
		return "port_setting_changed"
	case NotifyEndOfStream:
		return "end_of_stream"
	case NotifyResourceAcquired:
		return "resource_acquired"
	case NotifyRender:
		return "render"
	case NotifyVideoInfo:
		return "video_info"
	case NotifyAudioInfo:
		return "audio_info"
	case NotifyEmptyBufferDone:
		return "empty_buffer_done"
	case NotifyFillBufferDone:
		return "fill_buffer_done"
	case NotifyClockStateChanged:
		return "clock_state_changed"
	default:
		return fmt.Sprintf("notification(%d)", int(n))
	}
}

// Event is delivered to a component's Listener from the component's
// dispatch goroutine. Listeners must not wait on their own component.
type Event struct {
	Type   Notification
	Data1  uint32
	Data2  uint32
	Buffer *BufferHeader
	Data   any
}

// Listener receives component events.
type Listener func(Event)

type owner int

const (
	ownedByClient owner = iota
	ownedByComponent
)

type buffer struct {
	hdr   *BufferHeader
	owner owner
}

// Component wraps one hardware stage: its ports, buffers and state.
type Component struct {
	core     Core
	cfg      Config
	logger   *slog.Logger
	listener Listener

	kind   Kind
	name   string
	handle Handle

	events chan Callback
	done   chan struct{}
	wg     sync.WaitGroup

	// state lock
	mu       sync.Mutex
	state    State
	cmdErr   error
	ports    map[int]bool
	flushing []int
	stateSig broadcaster

	inPort, outPort, clockPort int
	inCount, inSize            int
	outCount, outSize          int

	// buffer lock
	bufMu   sync.Mutex
	buffers map[int][]*buffer
	bufSig  broadcaster
}

// Option configures a Component.
type Option func(*Component)

// WithLogger sets the component's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Component) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithListener sets the receiver of component events.
func WithListener(fn Listener) Option {
	return func(c *Component) { c.listener = fn }
}

// WithConfig sets the component's timeouts and buffer geometry.
func WithConfig(cfg Config) Option {
	return func(c *Component) { c.cfg = cfg }
}

// NewComponent returns an unconfigured component bound to core.
func NewComponent(core Core, opts ...Option) *Component {
	c := &Component{
		core:      core,
		cfg:       DefaultConfig(),
		logger:    slog.Default(),
		ports:     make(map[int]bool),
		buffers:   make(map[int][]*buffer),
		inPort:    -1,
		outPort:   -1,
		clockPort: -1,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.EventQueueSize <= 0 {
		c.cfg.EventQueueSize = DefaultConfig().EventQueueSize
	}
	return c
}

// Create instantiates a stage of the given kind and disables all its ports.
func (c *Component) Create(kind Kind) error {
	if err := c.open(kind); err != nil {
		return err
	}

	pp := PortParam{Domain: kind.domain()}
	if err := c.handle.GetParameter(&pp); err != nil {
		c.logger.Error("reading port range failed", slog.String("error", err.Error()))
	}

	switch kind {
	case KindVideoScheduler:
		pp.Ports++
		c.clockPort = PortVideoSchedulerClock
	case KindAudioRenderer:
		for _, port := range []int{pp.StartPort, pp.StartPort + 1} {
			def := PortDefinition{Port: port}
			if err := c.handle.GetParameter(&def); err == nil {
				c.logger.Info("audio renderer port",
					slog.Int("port", port),
					slog.Int("count", def.BufferCountActual),
					slog.Int("size", def.BufferSize))
			}
		}
		c.clockPort = PortAudioRendererClock
		c.inCount = c.cfg.AudioRenderer.Count
		c.inSize = c.cfg.AudioRenderer.Size
		pp.Ports++
	}

	c.disablePorts(pp)

	c.inPort = pp.StartPort
	if kind != KindAudioRenderer {
		c.outPort = clampPort(c.inPort+1, pp)
	}
	if kind == KindAudioMixer {
		c.inPort = PortAudioMixerInput
		c.outPort = PortAudioMixerOutput
		c.clockPort = PortAudioMixerClock
	}

	c.logger.Info("component created",
		slog.Int("input_port", c.inPort),
		slog.Int("output_port", c.outPort),
		slog.Int("clock_port", c.clockPort))
	return nil
}

// CreateVideoDecoder instantiates a decoder for v. MPEG-2 and H.264 are
// decoded; H.265 returns ErrUnsupportedCodec; any other codec succeeds
// without creating a stage.
func (c *Component) CreateVideoDecoder(v codec.Video) error {
	switch v {
	case codec.VideoH262, codec.VideoH264:
	case codec.VideoH265:
		return fmt.Errorf("video decoder for %s: %w", v, ErrUnsupportedCodec)
	default:
		return nil
	}

	if err := c.open(KindVideoDecoder); err != nil {
		return err
	}
	pp := PortParam{Domain: DomainVideo}
	if err := c.handle.GetParameter(&pp); err != nil {
		c.logger.Error("reading port range failed", slog.String("error", err.Error()))
	}
	c.disablePorts(pp)

	c.inPort = pp.StartPort
	c.outPort = clampPort(c.inPort+1, pp)
	c.inCount, c.inSize = c.cfg.VideoInput.Count, c.cfg.VideoInput.Size
	c.outCount, c.outSize = c.cfg.VideoOutput.Count, c.cfg.VideoOutput.Size
	return nil
}

// CreateAudioDecoder instantiates the audio decode stage for a.
func (c *Component) CreateAudioDecoder(a codec.Audio) error {
	switch a {
	case codec.AudioMP2, codec.AudioMP3, codec.AudioAC3, codec.AudioEAC3,
		codec.AudioAAC, codec.AudioHEAAC, codec.AudioPCM44100, codec.AudioPCM48000:
	default:
		return fmt.Errorf("audio decoder for %s: %w", a, ErrUnsupportedCodec)
	}

	if err := c.open(KindAudioDecoder); err != nil {
		return err
	}
	pp := PortParam{Domain: DomainAudio}
	if err := c.handle.GetParameter(&pp); err != nil {
		c.logger.Error("reading port range failed", slog.String("error", err.Error()))
	}
	c.disablePorts(pp)

	c.inPort = pp.StartPort
	c.outPort = clampPort(c.inPort+1, pp)

	if err := c.handle.SetParameter(&DecoderPassThrough{Enabled: true}); err != nil {
		c.logger.Warn("enabling decoder pass-through failed", slog.String("error", err.Error()))
	}

	c.inCount, c.inSize = c.cfg.AudioInput.Count, c.cfg.AudioInput.Size
	c.outCount, c.outSize = c.cfg.AudioOutput.Count, c.cfg.AudioOutput.Size
	return nil
}

func clampPort(port int, pp PortParam) int {
	last := pp.StartPort + pp.Ports - 1
	if port > last {
		return last
	}
	return port
}

func (c *Component) open(kind Kind) error {
	if c.handle != nil {
		return fmt.Errorf("component %s already created", c.name)
	}
	name := c.core.ComponentName(kind)
	events := make(chan Callback, c.cfg.EventQueueSize)
	h, err := c.core.GetHandle(name, events)
	if err != nil {
		return fmt.Errorf("creating %s: %w", name, err)
	}

	c.kind = kind
	c.name = name
	c.handle = h
	c.events = events
	c.done = make(chan struct{})
	c.logger = c.logger.With(slog.String("component", name))

	c.mu.Lock()
	c.state = StateLoaded
	c.mu.Unlock()

	c.wg.Add(1)
	go c.dispatch()
	return nil
}

func (c *Component) disablePorts(pp PortParam) {
	for i := 0; i < pp.Ports; i++ {
		port := pp.StartPort + i
		def := PortDefinition{Port: port}
		if err := c.handle.GetParameter(&def); err != nil && !def.Enabled {
			continue
		}

		c.mu.Lock()
		c.ports[port] = def.Enabled
		c.mu.Unlock()

		if err := c.handle.SendCommand(CommandPortDisable, port); err != nil {
			c.logger.Error("disabling port failed",
				slog.Int("port", port),
				slog.String("error", err.Error()))
			continue
		}
		c.logger.Debug("port disabled", slog.Int("port", port))
	}
}

// Destroy frees the stage. The component cannot be reused afterwards.
func (c *Component) Destroy() {
	if c.handle == nil {
		return
	}
	if err := c.core.FreeHandle(c.handle); err != nil {
		c.logger.Error("freeing handle failed", slog.String("error", err.Error()))
	}
	close(c.done)
	c.wg.Wait()
	c.handle = nil

	c.bufMu.Lock()
	c.buffers = make(map[int][]*buffer)
	c.bufMu.Unlock()
	c.bufSig.broadcast()
}

// Created reports whether the component holds a stage.
func (c *Component) Created() bool { return c.handle != nil }

// Handle returns the underlying stage handle.
func (c *Component) Handle() Handle { return c.handle }

// Kind returns the stage kind.
func (c *Component) Kind() Kind { return c.kind }

// Name returns the runtime name of the stage.
func (c *Component) Name() string { return c.name }

// InputPort returns the data input port, or -1.
func (c *Component) InputPort() int { return c.inPort }

// OutputPort returns the data output port, or -1.
func (c *Component) OutputPort() int { return c.outPort }

// ClockPort returns the clock input port, or -1.
func (c *Component) ClockPort() int { return c.clockPort }

// InputBufferCount returns the configured input buffer count.
func (c *Component) InputBufferCount() int { return c.inCount }

// InputBufferSize returns the configured input buffer size.
func (c *Component) InputBufferSize() int { return c.inSize }

// OutputBufferCount returns the configured output buffer count.
func (c *Component) OutputBufferCount() int { return c.outCount }

// OutputBufferSize returns the configured output buffer size.
func (c *Component) OutputBufferSize() int { return c.outSize }

func (c *Component) dispatch() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case cb := <-c.events:
			c.handleCallback(cb)
		}
	}
}

func (c *Component) handleCallback(cb Callback) {
	switch cb.Kind {
	case CallbackEvent:
		c.handleEvent(cb)
	case CallbackEmptyBufferDone:
		c.bufferDone(cb.Buffer, NotifyEmptyBufferDone)
	case CallbackFillBufferDone:
		c.bufferDone(cb.Buffer, NotifyFillBufferDone)
	}
}

func (c *Component) handleEvent(cb Callback) {
	switch cb.Event {
	case EventCmdComplete:
		c.commandComplete(Command(cb.Data1), int(int32(cb.Data2)))
	case EventError:
		status := Status(cb.Data1)
		switch status {
		case ErrorSameState, ErrorIncorrectStateTransition, ErrorIncorrectStateOperation:
			c.mu.Lock()
			c.cmdErr = &Error{Op: "command", Status: status}
			c.mu.Unlock()
			c.stateSig.broadcast()
			c.logger.Warn("command rejected", slog.String("status", status.String()))
		default:
			c.logger.Warn("stage error", slog.String("status", status.String()), slog.Uint64("data2", uint64(cb.Data2)))
			c.notify(Event{Type: NotifyUnderflow, Data1: cb.Data1, Data2: cb.Data2})
		}
	case EventPortSettingsChanged:
		c.notify(Event{Type: NotifyPortSettingChanged, Data1: cb.Data1, Data2: cb.Data2})
	case EventBufferFlag:
		if BufferFlags(cb.Data2).Has(BufferFlagEOS) {
			c.notify(Event{Type: NotifyEndOfStream, Data1: cb.Data1, Data2: cb.Data2})
		}
	case EventResourcesAcquired:
		c.notify(Event{Type: NotifyResourceAcquired, Data1: cb.Data1, Data2: cb.Data2})
	case EventRender:
		c.notify(Event{Type: NotifyRender, Data1: cb.Data1, Data2: cb.Data2, Data: cb.Data})
	case EventVideoInfo:
		c.notify(Event{Type: NotifyVideoInfo, Data1: cb.Data1, Data2: cb.Data2, Data: cb.Data})
	case EventAudioInfo:
		c.notify(Event{Type: NotifyAudioInfo, Data1: cb.Data1, Data2: cb.Data2, Data: cb.Data})
	case EventClockStateChanged:
		c.notify(Event{Type: NotifyClockStateChanged, Data1: cb.Data1, Data2: cb.Data2, Data: cb.Data})
	default:
		c.logger.Debug("unhandled event", slog.String("event", cb.Event.String()))
	}
}

func (c *Component) commandComplete(cmd Command, param int) {
	c.mu.Lock()
	switch cmd {
	case CommandStateSet:
		c.state = State(param)
		c.cmdErr = nil
	case CommandFlush:
		if param == AllPorts {
			c.flushing = nil
		} else {
			for i, p := range c.flushing {
				if p == param {
					c.flushing = append(c.flushing[:i], c.flushing[i+1:]...)
					break
				}
			}
		}
	case CommandPortEnable:
		c.ports[param] = true
	case CommandPortDisable:
		c.ports[param] = false
	}
	c.mu.Unlock()
	c.stateSig.broadcast()
}

func (c *Component) bufferDone(hdr *BufferHeader, n Notification) {
	if hdr == nil {
		return
	}
	c.bufMu.Lock()
	if b := c.findBufferLocked(hdr); b != nil {
		b.owner = ownedByClient
	}
	c.bufMu.Unlock()
	c.bufSig.broadcast()

	c.mu.Lock()
	enabled := c.ports[hdr.Port]
	state := c.state
	c.mu.Unlock()

	if enabled && (state == StateExecuting || state == StatePause) {
		c.notify(Event{Type: n, Data1: uint32(hdr.Port), Buffer: hdr})
	}
}

func (c *Component) findBufferLocked(hdr *BufferHeader) *buffer {
	for _, b := range c.buffers[hdr.Port] {
		if b.hdr == hdr {
			return b
		}
	}
	return nil
}

func (c *Component) notify(e Event) {
	if c.listener != nil {
		c.listener(e)
	}
}

// SetState requests a state change. It is a no-op when the stage is
// already in state. With timeout > 0 it waits for confirmation.
func (c *Component) SetState(state State, timeout time.Duration) error {
	if c.handle == nil {
		return ErrNotCreated
	}
	cur, err := c.handle.GetState()
	if err != nil {
		return fmt.Errorf("reading state: %w", err)
	}
	if cur == state {
		return nil
	}

	c.mu.Lock()
	c.cmdErr = nil
	c.mu.Unlock()

	if err := c.handle.SendCommand(CommandStateSet, int(state)); err != nil {
		return fmt.Errorf("setting state %s: %w", state, err)
	}
	if timeout <= 0 {
		return nil
	}

	var cmdErr error
	err = c.stateSig.waitUntil(func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		cmdErr = c.cmdErr
		return c.state == state || cmdErr != nil
	}, timeout)
	if err != nil {
		return fmt.Errorf("waiting for state %s: %w", state, err)
	}
	if cmdErr != nil {
		return fmt.Errorf("setting state %s: %w", state, cmdErr)
	}
	return nil
}

// State returns the stage's current state.
func (c *Component) State() (State, error) {
	if c.handle == nil {
		return StateInvalid, ErrNotCreated
	}
	return c.handle.GetState()
}

// EnablePort enables port, waiting up to timeout when timeout > 0.
func (c *Component) EnablePort(port int, timeout time.Duration) error {
	return c.setPortEnabled(port, true, timeout)
}

// DisablePort disables port, waiting up to timeout when timeout > 0.
func (c *Component) DisablePort(port int, timeout time.Duration) error {
	return c.setPortEnabled(port, false, timeout)
}

func (c *Component) setPortEnabled(port int, enable bool, timeout time.Duration) error {
	if c.handle == nil {
		return ErrNotCreated
	}
	if port < 0 {
		return ErrNoPort
	}
	cmd := CommandPortDisable
	if enable {
		cmd = CommandPortEnable
	}
	if err := c.handle.SendCommand(cmd, port); err != nil {
		return fmt.Errorf("%s port %d: %w", cmd, port, err)
	}
	if timeout <= 0 {
		return nil
	}
	return c.WaitPortEnabled(port, enable, timeout)
}

// WaitPortEnabled waits until port reaches the enabled state.
func (c *Component) WaitPortEnabled(port int, enabled bool, timeout time.Duration) error {
	err := c.stateSig.waitUntil(func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.ports[port] == enabled
	}, timeout)
	if err != nil {
		return fmt.Errorf("waiting for port %d enabled=%t: %w", port, enabled, err)
	}
	return nil
}

// PortEnabled reports the last confirmed enable state of port.
func (c *Component) PortEnabled(port int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ports[port]
}

// DisableAllPorts disables every known port without waiting.
func (c *Component) DisableAllPorts() {
	c.mu.Lock()
	ports := make([]int, 0, len(c.ports))
	for p := range c.ports {
		ports = append(ports, p)
	}
	c.mu.Unlock()
	for _, p := range ports {
		if err := c.DisablePort(p, 0); err != nil {
			c.logger.Warn("disabling port failed", slog.Int("port", p), slog.String("error", err.Error()))
		}
	}
}

// Flush flushes port, or every enabled port for AllPorts. It waits up to
// timeout for every flushed port to confirm.
func (c *Component) Flush(port int, timeout time.Duration) error {
	if c.handle == nil {
		return ErrNotCreated
	}

	c.mu.Lock()
	if len(c.flushing) > 0 {
		c.mu.Unlock()
		return ErrFlushInProgress
	}
	if port == AllPorts {
		for p, enabled := range c.ports {
			if enabled {
				c.flushing = append(c.flushing, p)
			}
		}
	} else {
		c.flushing = append(c.flushing, port)
	}
	pending := len(c.flushing)
	c.mu.Unlock()

	if pending == 0 {
		return nil
	}

	if err := c.handle.SendCommand(CommandFlush, port); err != nil {
		c.clearFlushing()
		return fmt.Errorf("flushing port %d: %w", port, err)
	}
	if timeout <= 0 {
		return nil
	}

	err := c.stateSig.waitUntil(func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.flushing) == 0
	}, timeout)
	if err != nil {
		c.clearFlushing()
		return fmt.Errorf("waiting for flush of port %d: %w", port, err)
	}
	return nil
}

func (c *Component) clearFlushing() {
	c.mu.Lock()
	c.flushing = nil
	c.mu.Unlock()
}

// SetupTunnel links srcPort of this stage to dstPort of dst and enables
// both ports.
func (c *Component) SetupTunnel(srcPort int, dst *Component, dstPort int) error {
	if c.handle == nil || dst == nil || dst.handle == nil {
		return ErrNotCreated
	}
	if err := c.core.SetupTunnel(c.handle, srcPort, dst.handle, dstPort); err != nil {
		return fmt.Errorf("tunnel %s:%d -> %s:%d: %w", c.name, srcPort, dst.name, dstPort, err)
	}
	if err := c.EnablePort(srcPort, 0); err != nil {
		return err
	}
	return dst.EnablePort(dstPort, 0)
}

// ConfigureInputBuffers sets the input port's buffer count and size.
func (c *Component) ConfigureInputBuffers(count, size int) error {
	if err := c.configurePort(c.inPort, count, size); err != nil {
		return err
	}
	c.inCount, c.inSize = count, size
	return nil
}

// ConfigureOutputBuffers sets the output port's buffer count and size.
func (c *Component) ConfigureOutputBuffers(count, size int) error {
	if err := c.configurePort(c.outPort, count, size); err != nil {
		return err
	}
	c.outCount, c.outSize = count, size
	return nil
}

func (c *Component) configurePort(port, count, size int) error {
	if c.handle == nil {
		return ErrNotCreated
	}
	if port < 0 {
		return ErrNoPort
	}
	def := PortDefinition{Port: port}
	if err := c.handle.GetParameter(&def); err != nil {
		return fmt.Errorf("reading port %d definition: %w", port, err)
	}
	def.BufferCountActual = count
	def.BufferSize = size
	if err := c.handle.SetParameter(&def); err != nil {
		return fmt.Errorf("writing port %d definition: %w", port, err)
	}
	return nil
}

// AllocateInputBuffers enables the input port and allocates its buffers.
func (c *Component) AllocateInputBuffers() error {
	return c.allocate(c.inPort, c.inCount, c.inSize)
}

// AllocateOutputBuffers enables the output port and allocates its buffers.
func (c *Component) AllocateOutputBuffers() error {
	return c.allocate(c.outPort, c.outCount, c.outSize)
}

func (c *Component) allocate(port, count, size int) error {
	if err := c.EnablePort(port, 0); err != nil {
		return err
	}
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	for i := 0; i < count; i++ {
		hdr, err := c.handle.AllocateBuffer(port, size)
		if err != nil {
			return fmt.Errorf("allocating buffer %d on port %d: %w", i, port, err)
		}
		hdr.Port = port
		hdr.Index = i
		c.buffers[port] = append(c.buffers[port], &buffer{hdr: hdr, owner: ownedByClient})
	}
	c.logger.Debug("buffers allocated", slog.Int("port", port), slog.Int("count", count), slog.Int("size", size))
	return nil
}

// UseBuffers enables port and shares the buffers of other's otherPort
// with it.
func (c *Component) UseBuffers(port int, other *Component, otherPort int) error {
	if err := c.EnablePort(port, 0); err != nil {
		return err
	}

	other.bufMu.Lock()
	shared := make([][]byte, 0, len(other.buffers[otherPort]))
	for _, b := range other.buffers[otherPort] {
		shared = append(shared, b.hdr.Data)
	}
	other.bufMu.Unlock()

	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	for i, data := range shared {
		hdr, err := c.handle.UseBuffer(port, data)
		if err != nil {
			return fmt.Errorf("using buffer %d on port %d: %w", i, port, err)
		}
		hdr.Port = port
		hdr.Index = i
		c.buffers[port] = append(c.buffers[port], &buffer{hdr: hdr, owner: ownedByClient})
	}
	return nil
}

// ConnectOutputComponent sizes this stage's output and next's input to
// the larger of both requirements, allocates the output buffers and
// lets next use them.
func (c *Component) ConnectOutputComponent(next *Component) error {
	count := max(next.InputBufferCount(), c.outCount)
	size := max(next.InputBufferSize(), c.outSize)
	c.logger.Debug("connecting output",
		slog.String("next", next.Name()),
		slog.Int("count", count),
		slog.Int("size", size))

	if err := next.ConfigureInputBuffers(count, size); err != nil {
		return fmt.Errorf("reconfiguring input of %s: %w", next.Name(), err)
	}
	if err := c.ConfigureOutputBuffers(count, size); err != nil {
		return fmt.Errorf("reconfiguring output: %w", err)
	}
	if err := c.AllocateOutputBuffers(); err != nil {
		return err
	}
	return next.UseBuffers(next.InputPort(), c, c.outPort)
}

// FreeBuffers disables port and frees its buffers, waiting up to the free
// buffer timeout for each buffer to return from the stage.
func (c *Component) FreeBuffers(port int) error {
	if c.handle == nil {
		return ErrNotCreated
	}
	if err := c.DisablePort(port, 0); err != nil {
		c.logger.Warn("disabling port before free failed", slog.Int("port", port), slog.String("error", err.Error()))
	}

	c.bufMu.Lock()
	bufs := c.buffers[port]
	c.bufMu.Unlock()

	for _, b := range bufs {
		err := c.bufSig.waitUntil(func() bool {
			c.bufMu.Lock()
			defer c.bufMu.Unlock()
			return b.owner == ownedByClient
		}, c.cfg.FreeBufferTimeout)
		if err != nil {
			c.logger.Warn("buffer still owned by stage", slog.Int("port", port), slog.Int("index", b.hdr.Index))
		}
	}

	c.bufMu.Lock()
	delete(c.buffers, port)
	c.bufMu.Unlock()

	var errs []error
	for _, b := range bufs {
		if err := c.handle.FreeBuffer(port, b.hdr); err != nil {
			errs = append(errs, fmt.Errorf("freeing buffer %d on port %d: %w", b.hdr.Index, port, err))
		}
	}
	return errors.Join(errs...)
}

// FreeInputBuffers frees the input port's buffers.
func (c *Component) FreeInputBuffers() error { return c.FreeBuffers(c.inPort) }

// FreeOutputBuffers frees the output port's buffers.
func (c *Component) FreeOutputBuffers() error { return c.FreeBuffers(c.outPort) }

// WriteToFreeBuffer copies data into the first client-owned input buffer
// and submits it. Data larger than the buffer is truncated and loses the
// end-of-frame flag. It returns the number of bytes consumed, or
// ErrNoFreeBuffer when every input buffer is with the stage.
func (c *Component) WriteToFreeBuffer(data []byte, pts int64, flags BufferFlags) (int, error) {
	if c.handle == nil {
		return 0, ErrNotCreated
	}

	c.bufMu.Lock()
	var b *buffer
	for _, cand := range c.buffers[c.inPort] {
		if cand.owner == ownedByClient {
			b = cand
			break
		}
	}
	if b == nil {
		c.bufMu.Unlock()
		return 0, ErrNoFreeBuffer
	}

	n := len(data)
	if n > len(b.hdr.Data) {
		c.logger.Warn("payload truncated to buffer size",
			slog.Int("len", n),
			slog.Int("size", len(b.hdr.Data)))
		n = len(b.hdr.Data)
		flags &^= BufferFlagEndOfFrame
	}
	copy(b.hdr.Data, data[:n])
	b.hdr.FilledLen = n
	b.hdr.Offset = 0
	b.hdr.Timestamp = pts
	b.hdr.Flags = flags
	b.owner = ownedByComponent
	hdr := b.hdr
	c.bufMu.Unlock()

	if err := c.handle.EmptyThisBuffer(hdr); err != nil {
		c.bufMu.Lock()
		b.owner = ownedByClient
		c.bufMu.Unlock()
		c.bufSig.broadcast()
		return 0, fmt.Errorf("submitting buffer %d: %w", hdr.Index, err)
	}
	return n, nil
}

// WriteToConfigBuffer submits out-of-band codec configuration.
func (c *Component) WriteToConfigBuffer(data []byte) (int, error) {
	return c.WriteToFreeBuffer(data, 0, BufferFlagCodecConfig|BufferFlagEndOfFrame)
}

// FreeBufferCount returns the number of client-owned input buffers.
func (c *Component) FreeBufferCount() int {
	return c.countInput(ownedByClient)
}

// UsedBufferCount returns the number of input buffers held by the stage.
func (c *Component) UsedBufferCount() int {
	return c.countInput(ownedByComponent)
}

func (c *Component) countInput(o owner) int {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	n := 0
	for _, b := range c.buffers[c.inPort] {
		if b.owner == o {
			n++
		}
	}
	return n
}

// PortDefinition reads the definition of port.
func (c *Component) PortDefinition(port int) (PortDefinition, error) {
	if c.handle == nil {
		return PortDefinition{}, ErrNotCreated
	}
	def := PortDefinition{Port: port}
	if err := c.handle.GetParameter(&def); err != nil {
		return PortDefinition{}, fmt.Errorf("reading port %d definition: %w", port, err)
	}
	return def, nil
}

// SetVideoFormat selects the compression format and picture size on the
// input port.
func (c *Component) SetVideoFormat(v codec.Video, width, height int) error {
	if c.handle == nil {
		return ErrNotCreated
	}
	var coding VideoCoding
	switch v {
	case codec.VideoH262:
		coding = VideoCodingMPEG2
	case codec.VideoH264:
		coding = VideoCodingAVC
	default:
		return fmt.Errorf("video format %s: %w", v, ErrUnsupportedCodec)
	}

	if err := c.handle.SetParameter(&VideoPortFormat{
		Port:        c.inPort,
		Compression: coding,
		Framerate:   videoFramerateQ16,
	}); err != nil {
		return fmt.Errorf("setting video port format: %w", err)
	}

	def, err := c.PortDefinition(c.inPort)
	if err != nil {
		return err
	}
	def.BufferCountActual = max(def.BufferCountMin, c.cfg.VideoInput.Count)
	def.Video.Width = width
	def.Video.Height = height
	if err := c.handle.SetParameter(&def); err != nil {
		return fmt.Errorf("setting video input definition: %w", err)
	}
	c.inCount = def.BufferCountActual
	return nil
}

// SetAudioCodecFormat configures the decoder's encoding and sizes its
// input and output buffers for the stream's channel layout.
func (c *Component) SetAudioCodecFormat(a codec.Audio, channels, bitsPerSample, sampleRate int) error {
	if c.handle == nil {
		return ErrNotCreated
	}
	var encoding AudioCoding
	switch a {
	case codec.AudioMP2, codec.AudioMP3:
		encoding = AudioCodingMP3
	case codec.AudioAAC, codec.AudioHEAAC:
		encoding = AudioCodingAAC
	case codec.AudioPCM44100, codec.AudioPCM48000:
		encoding = AudioCodingPCM
	default:
		return fmt.Errorf("audio format %s: %w", a, ErrUnsupportedCodec)
	}

	if err := c.handle.SetParameter(&DecoderPassThrough{Enabled: true}); err != nil {
		return fmt.Errorf("enabling pass-through: %w", err)
	}

	shift := ChannelsShift(channels)
	in, err := c.PortDefinition(c.inPort)
	if err != nil {
		return err
	}
	in.Audio.Encoding = encoding
	in.BufferSize = audioDecodeOutputBuffer * (channels * bitsPerSample) >> (shift + 4)
	in.BufferCountActual = max(in.BufferCountMin, audioMinInputBuffers)
	if err := c.handle.SetParameter(&in); err != nil {
		return fmt.Errorf("setting audio input definition: %w", err)
	}
	c.inCount, c.inSize = in.BufferCountActual, in.BufferSize

	out, err := c.PortDefinition(c.outPort)
	if err != nil {
		return err
	}
	bytesPerSec := sampleRate * 2 << shift
	if out.BufferSize > 0 {
		out.BufferCountActual = max(out.BufferCountMin, bytesPerSec*audioBufferSeconds/out.BufferSize)
	}
	if err := c.handle.SetParameter(&out); err != nil {
		return fmt.Errorf("setting audio output definition: %w", err)
	}
	c.outCount, c.outSize = out.BufferCountActual, out.BufferSize

	if err := c.handle.SetParameter(&AudioPortFormat{Port: c.inPort, Encoding: encoding}); err != nil {
		return fmt.Errorf("setting audio port format: %w", err)
	}
	return nil
}

// SetPCM configures linear interleaved signed little-endian PCM on port.
func (c *Component) SetPCM(port, channels, sampleRate, bitsPerSample int) error {
	if c.handle == nil {
		return ErrNotCreated
	}
	return c.handle.SetParameter(&PCMMode{
		Port:          port,
		SampleRate:    sampleRate,
		Channels:      channels,
		BitsPerSample: bitsPerSample,
		Interleaved:   true,
		Signed:        true,
		LittleEndian:  true,
	})
}

// PCM reads the PCM configuration of port.
func (c *Component) PCM(port int) (PCMMode, error) {
	if c.handle == nil {
		return PCMMode{}, ErrNotCreated
	}
	pcm := PCMMode{Port: port}
	if err := c.handle.GetParameter(&pcm); err != nil {
		return PCMMode{}, err
	}
	return pcm, nil
}

// SetAudioDestination routes a renderer to the named output.
func (c *Component) SetAudioDestination(name string) error {
	if c.handle == nil {
		return ErrNotCreated
	}
	return c.handle.SetConfig(&AudioDestination{Name: name})
}

// SetClockReference marks the renderer as the media clock reference.
func (c *Component) SetClockReference(enabled bool) error {
	if c.handle == nil {
		return ErrNotCreated
	}
	return c.handle.SetConfig(&ClockReferenceSource{Enabled: enabled})
}

// SetDisplayRegion configures the renderer's presentation region.
func (c *Component) SetDisplayRegion(r DisplayRegion) error {
	if c.handle == nil {
		return ErrNotCreated
	}
	if r.Port == 0 {
		r.Port = c.inPort
	}
	return c.handle.SetConfig(&r)
}

// SetVolume sets the renderer's volume in percent.
func (c *Component) SetVolume(volume int) error {
	if c.handle == nil {
		return ErrNotCreated
	}
	return c.handle.SetConfig(&Volume{Port: c.inPort, Volume: volume})
}

// SetFrameStep lets the stage pass only n more frames once executing. Zero
// returns it to free running.
func (c *Component) SetFrameStep(n int) error {
	if c.handle == nil {
		return ErrNotCreated
	}
	return c.handle.SetConfig(&FrameStep{Port: c.inPort, Frames: n})
}

// SetMute mutes or unmutes the renderer.
func (c *Component) SetMute(mute bool) error {
	if c.handle == nil {
		return ErrNotCreated
	}
	return c.handle.SetConfig(&Mute{Port: c.inPort, Mute: mute})
}
