package omxsim

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmylchreest/esplayer/internal/omx"
)

const defaultWidth, defaultHeight = 1920, 1080

// Output format of the audio decoder until the client sets another.
const (
	defaultSampleRate    = 44100
	defaultChannels      = 2
	defaultBitsPerSample = 16
)

type port struct {
	def      omx.PortDefinition
	peer     *Handle
	peerPort int
	buffers  []*omx.BufferHeader
	queued   []*omx.BufferHeader
}

type frame struct {
	pts   int64
	flags omx.BufferFlags
	size  int
}

// Handle is one simulated stage.
type Handle struct {
	core   *Core
	name   string
	kind   omx.Kind
	logger *slog.Logger

	mu          sync.Mutex
	state       omx.State
	freed       bool
	ports       map[int]*port
	portOrder   []int
	pending     []frame
	started     bool
	passThrough bool
	pcm         map[int]omx.PCMMode
	destination string
	reference   bool
	volume      int
	mute        bool
	display     omx.DisplayRegion
	clockState  omx.TimeClockState
	scale       int32
	refClock    omx.RefClock
	mediaTime   int64
	rendered    int
	consumed    int
	stepping    bool
	stepLeft    int

	events  chan<- omx.Callback
	cbMu    sync.Mutex
	cbQueue []omx.Callback
	wake    chan struct{}
	quit    chan struct{}
	wg      sync.WaitGroup
}

func newHandle(c *Core, name string, kind omx.Kind, events chan<- omx.Callback) *Handle {
	h := &Handle{
		core:      c,
		name:      name,
		kind:      kind,
		logger:    c.logger.With(slog.String("sim_stage", name)),
		state:     omx.StateLoaded,
		ports:     make(map[int]*port),
		pcm:       make(map[int]omx.PCMMode),
		volume:    100,
		scale:     0x10000,
		mediaTime: -1,
		events:    events,
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
	}
	for _, def := range portLayout(kind) {
		def.Enabled = true
		h.ports[def.Port] = &port{def: def}
		h.portOrder = append(h.portOrder, def.Port)
	}
	if kind == omx.KindAudioDecoder {
		h.pcm[omx.PortAudioDecoderOutput] = omx.PCMMode{
			Port:          omx.PortAudioDecoderOutput,
			SampleRate:    defaultSampleRate,
			Channels:      defaultChannels,
			BitsPerSample: defaultBitsPerSample,
			Interleaved:   true,
			Signed:        true,
			LittleEndian:  true,
		}
	}
	h.wg.Add(1)
	go h.run()
	return h
}

func portLayout(kind omx.Kind) []omx.PortDefinition {
	in := func(p int, d omx.Domain, min, size int) omx.PortDefinition {
		return omx.PortDefinition{Port: p, Domain: d, Input: true, BufferCountMin: min, BufferCountActual: min, BufferSize: size}
	}
	out := func(p int, d omx.Domain, min, size int) omx.PortDefinition {
		return omx.PortDefinition{Port: p, Domain: d, BufferCountMin: min, BufferCountActual: min, BufferSize: size}
	}
	switch kind {
	case omx.KindClock:
		defs := make([]omx.PortDefinition, 0, 6)
		for p := omx.PortClockAudio; p < omx.PortClockAudio+6; p++ {
			defs = append(defs, out(p, omx.DomainOther, 1, 0))
		}
		return defs
	case omx.KindVideoDecoder:
		return []omx.PortDefinition{
			in(omx.PortVideoDecoderInput, omx.DomainVideo, 20, 81920),
			out(omx.PortVideoDecoderOutput, omx.DomainVideo, 1, 4096),
		}
	case omx.KindVideoScheduler:
		return []omx.PortDefinition{
			in(omx.PortVideoSchedulerInput, omx.DomainVideo, 1, 4096),
			out(omx.PortVideoSchedulerOutput, omx.DomainVideo, 1, 4096),
			in(omx.PortVideoSchedulerClock, omx.DomainOther, 1, 0),
		}
	case omx.KindVideoRenderer:
		return []omx.PortDefinition{
			in(omx.PortVideoRendererInput, omx.DomainVideo, 1, 4096),
		}
	case omx.KindAudioDecoder:
		return []omx.PortDefinition{
			in(omx.PortAudioDecoderInput, omx.DomainAudio, 2, 4096),
			out(omx.PortAudioDecoderOutput, omx.DomainAudio, 2, 32768),
		}
	case omx.KindAudioRenderer:
		return []omx.PortDefinition{
			in(omx.PortAudioRendererInput, omx.DomainAudio, 1, 4096),
			in(omx.PortAudioRendererClock, omx.DomainOther, 1, 0),
		}
	case omx.KindAudioMixer:
		return []omx.PortDefinition{
			out(omx.PortAudioMixerOutput, omx.DomainAudio, 1, 4096),
			in(omx.PortAudioMixerInput, omx.DomainAudio, 1, 4096),
			in(omx.PortAudioMixerClock, omx.DomainOther, 1, 0),
		}
	}
	return nil
}

func (h *Handle) run() {
	defer h.wg.Done()
	for {
		h.cbMu.Lock()
		q := h.cbQueue
		h.cbQueue = nil
		h.cbMu.Unlock()

		for _, cb := range q {
			select {
			case h.events <- cb:
			case <-h.quit:
				return
			}
		}

		select {
		case <-h.wake:
		case <-h.quit:
			return
		}
	}
}

func (h *Handle) emit(cb omx.Callback) {
	h.cbMu.Lock()
	h.cbQueue = append(h.cbQueue, cb)
	h.cbMu.Unlock()
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Handle) emitEvent(ev omx.EventType, data1, data2 uint32, data any) {
	h.emit(omx.Callback{Kind: omx.CallbackEvent, Event: ev, Data1: data1, Data2: data2, Data: data})
}

func (h *Handle) close() {
	h.mu.Lock()
	if h.freed {
		h.mu.Unlock()
		return
	}
	h.freed = true
	h.mu.Unlock()
	close(h.quit)
	h.wg.Wait()
}

// Inject delivers cb as if the stage had raised it.
func (h *Handle) Inject(cb omx.Callback) {
	h.emit(cb)
}

// Name implements omx.Handle.
func (h *Handle) Name() string { return h.name }

// Kind returns the stage kind.
func (h *Handle) Kind() omx.Kind { return h.kind }

func (h *Handle) link(p int, peer *Handle, peerPort int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	pt, ok := h.ports[p]
	if !ok {
		return omx.NewError(fmt.Sprintf("setup_tunnel %s:%d", h.name, p), omx.ErrorBadPortIndex)
	}
	pt.peer = peer
	pt.peerPort = peerPort
	return nil
}

func (h *Handle) checkLive(op string) error {
	if h.freed {
		return omx.NewError(op, omx.ErrorInvalidComponent)
	}
	return nil
}

// GetParameter implements omx.Handle.
func (h *Handle) GetParameter(p any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkLive("get_parameter"); err != nil {
		return err
	}

	switch v := p.(type) {
	case *omx.PortParam:
		v.StartPort, v.Ports = 0, 0
		for _, n := range h.portOrder {
			if h.ports[n].def.Domain != v.Domain {
				continue
			}
			if v.Ports == 0 {
				v.StartPort = n
			}
			v.Ports++
		}
	case *omx.PortDefinition:
		pt, ok := h.ports[v.Port]
		if !ok {
			return omx.NewError("get_parameter port_definition", omx.ErrorBadPortIndex)
		}
		*v = pt.def
	case *omx.PCMMode:
		pcm, ok := h.pcm[v.Port]
		if !ok {
			return omx.NewError("get_parameter pcm", omx.ErrorUnsupportedSetting)
		}
		*v = pcm
	case *omx.DecoderPassThrough:
		v.Enabled = h.passThrough
	case *omx.VideoPortFormat:
		pt, ok := h.ports[v.Port]
		if !ok {
			return omx.NewError("get_parameter video_port_format", omx.ErrorBadPortIndex)
		}
		v.Compression = pt.def.Video.Compression
		v.Framerate = pt.def.Video.Framerate
	case *omx.AudioPortFormat:
		pt, ok := h.ports[v.Port]
		if !ok {
			return omx.NewError("get_parameter audio_port_format", omx.ErrorBadPortIndex)
		}
		v.Encoding = pt.def.Audio.Encoding
	default:
		return h.getConfigLocked(p)
	}
	return nil
}

// SetParameter implements omx.Handle.
func (h *Handle) SetParameter(p any) error {
	if h.core.parametersFail(h.name) {
		return omx.NewError("set_parameter "+h.name, omx.ErrorUnsupportedSetting)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkLive("set_parameter"); err != nil {
		return err
	}

	switch v := p.(type) {
	case *omx.PortDefinition:
		pt, ok := h.ports[v.Port]
		if !ok {
			return omx.NewError("set_parameter port_definition", omx.ErrorBadPortIndex)
		}
		if v.BufferCountActual < pt.def.BufferCountMin {
			return omx.NewError("set_parameter port_definition", omx.ErrorBadParameter)
		}
		pt.def.BufferCountActual = v.BufferCountActual
		pt.def.BufferSize = v.BufferSize
		pt.def.Video = v.Video
		pt.def.Audio = v.Audio
	case *omx.PCMMode:
		if _, ok := h.ports[v.Port]; !ok {
			return omx.NewError("set_parameter pcm", omx.ErrorBadPortIndex)
		}
		h.pcm[v.Port] = *v
	case *omx.DecoderPassThrough:
		h.passThrough = v.Enabled
	case *omx.VideoPortFormat:
		pt, ok := h.ports[v.Port]
		if !ok {
			return omx.NewError("set_parameter video_port_format", omx.ErrorBadPortIndex)
		}
		pt.def.Video.Compression = v.Compression
		pt.def.Video.Framerate = v.Framerate
	case *omx.AudioPortFormat:
		pt, ok := h.ports[v.Port]
		if !ok {
			return omx.NewError("set_parameter audio_port_format", omx.ErrorBadPortIndex)
		}
		pt.def.Audio.Encoding = v.Encoding
	default:
		return h.setConfigLocked(p)
	}
	return nil
}

// GetConfig implements omx.Handle.
func (h *Handle) GetConfig(p any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkLive("get_config"); err != nil {
		return err
	}
	return h.getConfigLocked(p)
}

func (h *Handle) getConfigLocked(p any) error {
	switch v := p.(type) {
	case *omx.TimeClockState:
		*v = h.clockState
	case *omx.TimeScale:
		v.Scale = h.scale
	case *omx.ActiveRefClock:
		v.Clock = h.refClock
	case *omx.MediaTime:
		v.Timestamp = h.mediaTime
	case *omx.AudioDestination:
		v.Name = h.destination
	case *omx.ClockReferenceSource:
		v.Enabled = h.reference
	case *omx.Volume:
		v.Volume = h.volume
	case *omx.Mute:
		v.Mute = h.mute
	case *omx.DisplayRegion:
		*v = h.display
	case *omx.FrameStep:
		v.Frames = h.stepLeft
	default:
		return omx.NewError(fmt.Sprintf("get_config %T", p), omx.ErrorUnsupportedIndex)
	}
	return nil
}

// SetConfig implements omx.Handle.
func (h *Handle) SetConfig(p any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkLive("set_config"); err != nil {
		return err
	}
	return h.setConfigLocked(p)
}

func (h *Handle) setConfigLocked(p any) error {
	switch v := p.(type) {
	case *omx.TimeClockState:
		if h.kind != omx.KindClock {
			return omx.NewError("set_config clock_state", omx.ErrorUnsupportedIndex)
		}
		h.clockState = *v
		if v.State == omx.ClockStopped {
			h.mediaTime = -1
		}
	case *omx.TimeScale:
		h.scale = v.Scale
	case *omx.ActiveRefClock:
		h.refClock = v.Clock
	case *omx.AudioDestination:
		h.destination = v.Name
	case *omx.ClockReferenceSource:
		h.reference = v.Enabled
	case *omx.Volume:
		if v.Volume < 0 || v.Volume > 100 {
			return omx.NewError("set_config volume", omx.ErrorBadParameter)
		}
		h.volume = v.Volume
	case *omx.Mute:
		h.mute = v.Mute
	case *omx.DisplayRegion:
		h.display = *v
	case *omx.FrameStep:
		if v.Frames < 0 {
			return omx.NewError("set_config frame_step", omx.ErrorBadParameter)
		}
		h.stepping = v.Frames > 0
		h.stepLeft = v.Frames
	default:
		return omx.NewError(fmt.Sprintf("set_config %T", p), omx.ErrorUnsupportedIndex)
	}
	return nil
}

// GetState implements omx.Handle.
func (h *Handle) GetState() (omx.State, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkLive("get_state"); err != nil {
		return omx.StateInvalid, err
	}
	return h.state, nil
}

func legalTransition(from, to omx.State) bool {
	switch from {
	case omx.StateLoaded:
		return to == omx.StateIdle || to == omx.StateWaitForResources
	case omx.StateIdle:
		return to == omx.StateLoaded || to == omx.StateExecuting || to == omx.StatePause
	case omx.StateExecuting:
		return to == omx.StateIdle || to == omx.StatePause
	case omx.StatePause:
		return to == omx.StateIdle || to == omx.StateExecuting
	case omx.StateWaitForResources:
		return to == omx.StateLoaded || to == omx.StateIdle
	}
	return false
}

// SendCommand implements omx.Handle. Completion is reported through the
// event channel.
func (h *Handle) SendCommand(cmd omx.Command, param int) error {
	switch cmd {
	case omx.CommandStateSet:
		return h.setState(omx.State(param))
	case omx.CommandPortEnable:
		return h.setPortsEnabled(param, true)
	case omx.CommandPortDisable:
		return h.setPortsEnabled(param, false)
	case omx.CommandFlush:
		return h.flush(param)
	default:
		return omx.NewError("send_command "+cmd.String(), omx.ErrorNotImplemented)
	}
}

func (h *Handle) setState(to omx.State) error {
	h.mu.Lock()
	if err := h.checkLive("send_command state_set"); err != nil {
		h.mu.Unlock()
		return err
	}
	from := h.state
	var status omx.Status
	switch {
	case h.core.stateFails(h.name, to):
		status = omx.ErrorIncorrectStateTransition
	case from == to:
		status = omx.ErrorSameState
	case !legalTransition(from, to):
		status = omx.ErrorIncorrectStateTransition
	}
	if status != omx.ErrorNone {
		h.mu.Unlock()
		h.logger.Debug("sim state change rejected",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
			slog.String("status", status.String()))
		h.emitEvent(omx.EventError, uint32(status), 0, nil)
		return nil
	}

	h.state = to
	var returned []*omx.BufferHeader
	if to == omx.StateIdle || to == omx.StateLoaded {
		returned = h.drainQueuedLocked(omx.AllPorts)
		h.pending = nil
	}
	h.mu.Unlock()

	h.returnBuffers(returned)
	h.emitEvent(omx.EventCmdComplete, uint32(omx.CommandStateSet), uint32(to), nil)
	if to == omx.StateExecuting {
		h.pump()
	}
	return nil
}

func (h *Handle) targetPorts(p int) []int {
	if p == omx.AllPorts {
		return append([]int(nil), h.portOrder...)
	}
	if _, ok := h.ports[p]; !ok {
		return nil
	}
	return []int{p}
}

func (h *Handle) setPortsEnabled(p int, enable bool) error {
	h.mu.Lock()
	if err := h.checkLive("send_command port"); err != nil {
		h.mu.Unlock()
		return err
	}
	targets := h.targetPorts(p)
	if len(targets) == 0 {
		h.mu.Unlock()
		return omx.NewError(fmt.Sprintf("send_command port %d", p), omx.ErrorBadPortIndex)
	}
	var returned []*omx.BufferHeader
	for _, n := range targets {
		h.ports[n].def.Enabled = enable
		if !enable {
			returned = append(returned, h.drainQueuedLocked(n)...)
		}
	}
	h.mu.Unlock()

	h.returnBuffers(returned)
	cmd := omx.CommandPortDisable
	if enable {
		cmd = omx.CommandPortEnable
	}
	for _, n := range targets {
		h.emitEvent(omx.EventCmdComplete, uint32(cmd), uint32(n), nil)
	}
	return nil
}

func (h *Handle) flush(p int) error {
	h.mu.Lock()
	if err := h.checkLive("send_command flush"); err != nil {
		h.mu.Unlock()
		return err
	}
	targets := h.targetPorts(p)
	if len(targets) == 0 {
		h.mu.Unlock()
		return omx.NewError(fmt.Sprintf("send_command flush %d", p), omx.ErrorBadPortIndex)
	}
	var returned []*omx.BufferHeader
	for _, n := range targets {
		returned = append(returned, h.drainQueuedLocked(n)...)
	}
	h.pending = nil
	h.started = false
	h.mu.Unlock()

	h.returnBuffers(returned)
	for _, n := range targets {
		h.emitEvent(omx.EventCmdComplete, uint32(omx.CommandFlush), uint32(n), nil)
	}
	return nil
}

func (h *Handle) drainQueuedLocked(p int) []*omx.BufferHeader {
	var out []*omx.BufferHeader
	for _, n := range h.targetPorts(p) {
		pt := h.ports[n]
		out = append(out, pt.queued...)
		pt.queued = nil
	}
	return out
}

func (h *Handle) returnBuffers(bufs []*omx.BufferHeader) {
	for _, b := range bufs {
		kind := omx.CallbackFillBufferDone
		if h.isInput(b.Port) {
			kind = omx.CallbackEmptyBufferDone
			b.FilledLen = 0
		}
		h.emit(omx.Callback{Kind: kind, Buffer: b})
	}
}

func (h *Handle) isInput(p int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	pt, ok := h.ports[p]
	return ok && pt.def.Input
}

// AllocateBuffer implements omx.Handle.
func (h *Handle) AllocateBuffer(p, size int) (*omx.BufferHeader, error) {
	if h.core.allocateFails(h.name) {
		return nil, omx.NewError("allocate_buffer "+h.name, omx.ErrorInsufficientResources)
	}
	return h.addBuffer(p, make([]byte, size))
}

// UseBuffer implements omx.Handle.
func (h *Handle) UseBuffer(p int, data []byte) (*omx.BufferHeader, error) {
	if h.core.allocateFails(h.name) {
		return nil, omx.NewError("use_buffer "+h.name, omx.ErrorInsufficientResources)
	}
	return h.addBuffer(p, data)
}

func (h *Handle) addBuffer(p int, data []byte) (*omx.BufferHeader, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkLive("allocate_buffer"); err != nil {
		return nil, err
	}
	pt, ok := h.ports[p]
	if !ok {
		return nil, omx.NewError("allocate_buffer", omx.ErrorBadPortIndex)
	}
	hdr := &omx.BufferHeader{Data: data, Port: p, Index: len(pt.buffers)}
	pt.buffers = append(pt.buffers, hdr)
	pt.def.Populated = len(pt.buffers) >= pt.def.BufferCountActual
	return hdr, nil
}

// FreeBuffer implements omx.Handle.
func (h *Handle) FreeBuffer(p int, hdr *omx.BufferHeader) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	pt, ok := h.ports[p]
	if !ok {
		return omx.NewError("free_buffer", omx.ErrorBadPortIndex)
	}
	for i, b := range pt.buffers {
		if b == hdr {
			pt.buffers = append(pt.buffers[:i], pt.buffers[i+1:]...)
			pt.def.Populated = false
			return nil
		}
	}
	return omx.NewError("free_buffer", omx.ErrorBadParameter)
}

// EmptyThisBuffer implements omx.Handle.
func (h *Handle) EmptyThisBuffer(hdr *omx.BufferHeader) error {
	h.mu.Lock()
	if err := h.checkLive("empty_this_buffer"); err != nil {
		h.mu.Unlock()
		return err
	}
	pt, ok := h.ports[hdr.Port]
	switch {
	case !ok || !pt.def.Input:
		h.mu.Unlock()
		return omx.NewError("empty_this_buffer", omx.ErrorBadPortIndex)
	case !pt.def.Enabled:
		h.mu.Unlock()
		return omx.NewError("empty_this_buffer", omx.ErrorIncorrectStateOperation)
	case h.state != omx.StateIdle && h.state != omx.StateExecuting && h.state != omx.StatePause:
		h.mu.Unlock()
		return omx.NewError("empty_this_buffer", omx.ErrorInvalidState)
	}
	pt.queued = append(pt.queued, hdr)
	h.mu.Unlock()

	h.pump()
	return nil
}

// FillThisBuffer implements omx.Handle. Output buffers of non-tunneled
// ports are held until the port is flushed or disabled.
func (h *Handle) FillThisBuffer(hdr *omx.BufferHeader) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkLive("fill_this_buffer"); err != nil {
		return err
	}
	pt, ok := h.ports[hdr.Port]
	if !ok || pt.def.Input {
		return omx.NewError("fill_this_buffer", omx.ErrorBadPortIndex)
	}
	pt.queued = append(pt.queued, hdr)
	return nil
}

// pump consumes queued input buffers and tunneled frames while the stage
// is executing and not held. A stepping stage releases input only until
// its frame budget is spent.
func (h *Handle) pump() {
	for {
		if h.core.isHeld(h.name) {
			return
		}

		h.mu.Lock()
		if h.freed || h.state != omx.StateExecuting {
			h.mu.Unlock()
			return
		}
		var bufs []*omx.BufferHeader
		for _, n := range h.portOrder {
			pt := h.ports[n]
			if !pt.def.Input || len(pt.queued) == 0 {
				continue
			}
			if !h.stepping {
				bufs = append(bufs, pt.queued...)
				pt.queued = nil
				continue
			}
			for len(pt.queued) > 0 && h.stepLeft > 0 {
				b := pt.queued[0]
				pt.queued = pt.queued[1:]
				bufs = append(bufs, b)
				if b.FilledLen > 0 && !b.Flags.Has(omx.BufferFlagCodecConfig) {
					h.stepLeft--
				}
			}
		}
		frames := h.pending
		h.pending = nil
		h.mu.Unlock()

		if len(bufs) == 0 && len(frames) == 0 {
			return
		}
		for _, b := range bufs {
			f := frame{pts: b.Timestamp, flags: b.Flags, size: b.FilledLen}
			b.FilledLen = 0
			h.emit(omx.Callback{Kind: omx.CallbackEmptyBufferDone, Buffer: b})
			h.consume(f)
		}
		for _, f := range frames {
			h.consume(f)
		}
	}
}

func (h *Handle) receive(f frame) {
	h.mu.Lock()
	if h.freed {
		h.mu.Unlock()
		return
	}
	h.pending = append(h.pending, f)
	h.mu.Unlock()
	h.pump()
}

func (h *Handle) consume(f frame) {
	h.mu.Lock()
	h.consumed++
	h.mu.Unlock()

	switch h.kind {
	case omx.KindVideoDecoder, omx.KindAudioDecoder:
		if f.flags.Has(omx.BufferFlagCodecConfig) {
			return
		}
		h.firstFrame(f)
		h.forward(h.outputPort(), f)
	case omx.KindVideoScheduler:
		h.tickClock(omx.PortVideoSchedulerClock, f)
		h.forward(omx.PortVideoSchedulerOutput, f)
	case omx.KindAudioMixer:
		h.forward(omx.PortAudioMixerOutput, f)
	case omx.KindVideoRenderer:
		h.render(omx.PortVideoRendererInput, f)
	case omx.KindAudioRenderer:
		h.tickClock(omx.PortAudioRendererClock, f)
		h.render(omx.PortAudioRendererInput, f)
	}
}

func (h *Handle) outputPort() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, n := range h.portOrder {
		if !h.ports[n].def.Input {
			return n
		}
	}
	return -1
}

func (h *Handle) firstFrame(f frame) {
	if f.size == 0 {
		return
	}
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	var in omx.PortDefinition
	haveIn, out := false, -1
	for _, n := range h.portOrder {
		switch def := h.ports[n].def; {
		case def.Input && !haveIn:
			in, haveIn = def, true
		case !def.Input && out < 0:
			out = n
		}
	}
	pcm := h.pcm[out]
	h.mu.Unlock()

	outPort := uint32(out)
	switch h.kind {
	case omx.KindVideoDecoder:
		w, ht := in.Video.Width, in.Video.Height
		if w == 0 || ht == 0 {
			w, ht = defaultWidth, defaultHeight
		}
		h.emitEvent(omx.EventPortSettingsChanged, outPort, 0, nil)
		h.emitEvent(omx.EventVideoInfo, 0, 0, &omx.VideoInfo{
			Width:       w,
			Height:      ht,
			FrameRate:   float64(in.Video.Framerate) / 65536,
			Progressive: !in.Video.Interlaced,
			PARWidth:    1,
			PARHeight:   1,
		})
	case omx.KindAudioDecoder:
		h.emitEvent(omx.EventPortSettingsChanged, outPort, 0, nil)
		h.emitEvent(omx.EventAudioInfo, 0, 0, &omx.AudioInfo{SampleRate: pcm.SampleRate, Channels: pcm.Channels})
	}
}

func (h *Handle) forward(p int, f frame) {
	h.mu.Lock()
	pt, ok := h.ports[p]
	var peer *Handle
	if ok && pt.def.Enabled {
		peer = pt.peer
	}
	h.mu.Unlock()
	if peer != nil {
		peer.receive(f)
	}
}

func (h *Handle) render(p int, f frame) {
	if f.flags.Has(omx.BufferFlagEOS) {
		h.emitEvent(omx.EventBufferFlag, uint32(p), uint32(f.flags), nil)
		return
	}
	if f.size == 0 || f.flags.Has(omx.BufferFlagDecodeOnly) {
		return
	}
	h.mu.Lock()
	h.rendered++
	h.mu.Unlock()
	h.emitEvent(omx.EventRender, uint32(uint64(f.pts)>>32), uint32(uint64(f.pts)), nil)
}

func (h *Handle) tickClock(p int, f frame) {
	h.mu.Lock()
	pt, ok := h.ports[p]
	var clk *Handle
	if ok {
		clk = pt.peer
	}
	h.mu.Unlock()
	if clk != nil {
		clk.advance(f.pts)
	}
}

func (h *Handle) advance(pts int64) {
	h.mu.Lock()
	changed := false
	if h.clockState.State == omx.ClockWaitingForStartTime {
		h.clockState.State = omx.ClockRunning
		h.clockState.StartTime = pts
		changed = true
	}
	if h.clockState.State == omx.ClockRunning {
		h.mediaTime = pts
	}
	update := &omx.ClockUpdate{State: h.clockState.State, Scale: h.scale}
	h.mu.Unlock()

	if changed {
		h.emitEvent(omx.EventClockStateChanged, uint32(update.State), uint32(update.Scale), update)
	}
}

// State returns the stage state.
func (h *Handle) State() omx.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// PortEnabled reports whether p is enabled.
func (h *Handle) PortEnabled(p int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	pt, ok := h.ports[p]
	return ok && pt.def.Enabled
}

// Tunneled reports whether p is linked to another stage.
func (h *Handle) Tunneled(p int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	pt, ok := h.ports[p]
	return ok && pt.peer != nil
}

// BufferCount returns the number of buffers registered on p.
func (h *Handle) BufferCount(p int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if pt, ok := h.ports[p]; ok {
		return len(pt.buffers)
	}
	return 0
}

// Queued returns the number of submitted buffers not yet consumed on p.
func (h *Handle) Queued(p int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if pt, ok := h.ports[p]; ok {
		return len(pt.queued)
	}
	return 0
}

// Consumed returns the number of frames the stage has processed.
func (h *Handle) Consumed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consumed
}

// Rendered returns the number of frames a renderer has presented.
func (h *Handle) Rendered() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rendered
}

// ClockState returns the clock configuration of a clock stage.
func (h *Handle) ClockState() omx.TimeClockState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clockState
}

// Scale returns the Q16 playback scale of a clock stage.
func (h *Handle) Scale() int32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scale
}

// RefClock returns the reference clock of a clock stage.
func (h *Handle) RefClock() omx.RefClock {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refClock
}

// Destination returns a renderer's audio destination.
func (h *Handle) Destination() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.destination
}

// ClockReference reports whether a renderer is the clock reference.
func (h *Handle) ClockReference() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reference
}

// Volume returns a renderer's volume.
func (h *Handle) Volume() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.volume
}

// Muted reports whether a renderer is muted.
func (h *Handle) Muted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mute
}

// PassThrough reports whether decoder pass-through is enabled.
func (h *Handle) PassThrough() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.passThrough
}

// PCM returns the PCM configuration of p.
func (h *Handle) PCM(p int) omx.PCMMode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pcm[p]
}

// Display returns the renderer's display region.
func (h *Handle) Display() omx.DisplayRegion {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.display
}

// Definition returns the definition of p.
func (h *Handle) Definition(p int) omx.PortDefinition {
	h.mu.Lock()
	defer h.mu.Unlock()
	if pt, ok := h.ports[p]; ok {
		return pt.def
	}
	return omx.PortDefinition{}
}
