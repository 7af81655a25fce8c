package player

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmylchreest/esplayer/internal/audiodec"
	"github.com/jmylchreest/esplayer/internal/clock"
	"github.com/jmylchreest/esplayer/internal/codec"
	"github.com/jmylchreest/esplayer/internal/observability"
	"github.com/jmylchreest/esplayer/internal/omx"
	"github.com/jmylchreest/esplayer/internal/resource"
)

const (
	acquireTimeout     = 10 * time.Second
	rendererExtraState = time.Second
)

// Load builds the decode pipeline for meta and moves to Loaded. A Load
// while already loaded succeeds without doing anything. On failure every
// stage built so far is destroyed and the resources are released, so Load
// may be retried.
func (p *Player) Load(meta Metadata) error {
	if p.loaded.Load() {
		p.logger.Info("duplicate load ignored")
		return nil
	}
	if !p.state.canTransit(StateLoaded) {
		return wrap(ErrFail, "load in state %s", p.state.get())
	}
	if !p.loaded.CompareAndSwap(false, true) {
		return nil
	}
	p.logMetadata(meta)

	pl, err := p.load(meta)
	if err != nil {
		observability.WithError(p.logger, err).Error("load failed",
			slog.Int("code", int(CodeOf(err))))
		if pl != nil {
			p.teardown(pl)
		}
		p.pl.Store(nil)
		p.loaded.Store(false)
		if rerr := p.rm.ReleaseResource(context.Background()); rerr != nil {
			p.logger.Warn("releasing resources after failed load", slog.String("error", rerr.Error()))
		}
		return err
	}

	p.state.transit(StateLoaded)
	p.logger.Info("loaded",
		slog.Bool("video", pl.video),
		slog.Bool("audio", pl.audio))
	return nil
}

// LoadEx is Load with the unit of the timestamps that will be fed.
func (p *Player) LoadEx(meta Metadata, unit PTSUnit) error {
	p.pts.SetUnit(unit)
	return p.Load(meta)
}

func (p *Player) logMetadata(meta Metadata) {
	p.logger.Info("load",
		slog.String("video_codec", meta.VideoCodec.String()),
		slog.Int("width", meta.Width),
		slog.Int("height", meta.Height),
		slog.Int("framerate", meta.Framerate),
		slog.Int("extradata", len(meta.Extradata)),
		slog.String("audio_codec", meta.AudioCodec.String()),
		slog.Int("channels", meta.Channels),
		slog.Int("sample_rate", meta.SampleRate),
		slog.Int("bit_rate", meta.BitRate),
		slog.Int("block_align", meta.BlockAlign),
		slog.Int("bits_per_sample", meta.BitsPerSample))
}

// load runs the acquire and build sequence. The returned pipeline holds
// whatever was built, also on error.
func (p *Player) load(meta Metadata) (*pipeline, error) {
	if err := p.rm.NotifyForeground(); err != nil {
		p.logger.Warn("notify foreground failed", slog.String("error", err.Error()))
	}
	p.rm.RegisterPolicyActionCallback(p.onPolicyAction)
	p.rm.RegisterPlaneIDCallback(func(plane int32) bool {
		p.logger.Info("display plane assigned", slog.Int("plane", int(plane)))
		p.mu.Lock()
		p.planeID = plane
		p.mu.Unlock()
		return true
	})

	ctx, cancel := context.WithTimeout(context.Background(), acquireTimeout)
	ports, err := p.rm.AcquireResources(ctx, p.resourceRequest(meta))
	cancel()
	if err != nil {
		return nil, wrapErr(ErrFail, err, "acquiring resources")
	}
	p.logger.Info("resources acquired", slog.Any("ports", ports))

	pl := &pipeline{
		meta:  meta,
		video: meta.VideoCodec != codec.VideoNone,
		audio: meta.AudioCodec != codec.AudioNone,
	}
	if pl.audio {
		if err := p.openAudioDecoder(pl); err != nil {
			return pl, err
		}
	}

	p.audioLowArmed.Store(false)
	p.firstPortSetting.Store(true)
	p.waitingFirstFrame.Store(false)
	p.eosMu.Lock()
	p.eos = [2]bool{}
	p.eosNotified = false
	p.eosMu.Unlock()
	p.mu.Lock()
	p.trickMode = false
	p.mu.Unlock()
	p.pl.Store(pl)

	if err := p.buildPipeline(pl); err != nil {
		return pl, err
	}
	return pl, nil
}

func (p *Player) resourceRequest(meta Metadata) resource.Request {
	req := resource.Request{
		Video: resource.VideoRequest{
			Codec:     meta.VideoCodec,
			Width:     meta.Width,
			Height:    meta.Height,
			Framerate: meta.Framerate,
		},
		Audio: resource.AudioRequest{
			Codec:    meta.AudioCodec,
			Channels: meta.Channels,
		},
	}
	p.mu.Lock()
	req.Video.ThreeD = int(p.threeD)
	p.mu.Unlock()

	if len(meta.Extradata) > 0 && (req.Video.Width == 0 || req.Video.Height == 0) {
		geo, err := codec.ParseVideoGeometry(meta.VideoCodec, meta.Extradata)
		if err == nil {
			req.Video.Width, req.Video.Height = geo.Width, geo.Height
			if req.Video.Framerate == 0 {
				req.Video.Framerate = int(geo.FrameRate)
			}
		} else {
			p.logger.Debug("no geometry in extradata", slog.String("error", err.Error()))
		}
	}
	return req
}

// openAudioDecoder fixes the renderer side of the audio metadata and
// opens the software decoder for compressed codecs. The hardware decoder
// only ever sees PCM.
func (p *Player) openAudioDecoder(pl *pipeline) error {
	in := pl.meta.AudioCodec
	pl.meta.Channels = audiodec.OutputChannels
	pl.meta.BitsPerSample = audiodec.OutputBitsPerSample

	switch {
	case !in.Known():
		return wrap(ErrFail, "unsupported audio codec %s", in)
	case !in.IsPCM():
		dec, err := p.newDecoder(audiodec.StreamInfo{
			Codec:         in,
			Channels:      pl.meta.Channels,
			SampleRate:    pl.meta.SampleRate,
			BitRate:       pl.meta.BitRate,
			BlockAlign:    pl.meta.BlockAlign,
			BitsPerSample: pl.meta.BitsPerSample,
		})
		if err != nil {
			return wrapErr(ErrFail, err, "opening audio decoder for %s", in)
		}
		pl.swdec = dec
		p.logger.Debug("software audio decoder opened", slog.String("codec", in.String()))
	}
	pl.meta.AudioCodec = codec.AudioPCM44100
	return nil
}

func (p *Player) newComponent(stage string, listener omx.Listener) *omx.Component {
	return omx.NewComponent(p.core,
		omx.WithLogger(p.logger.With(slog.String("stage", stage))),
		omx.WithConfig(p.cfg.Component),
		omx.WithListener(listener))
}

func (p *Player) buildPipeline(pl *pipeline) error {
	stateTimeout := p.cfg.Component.StateTimeout
	portTimeout := p.cfg.Component.PortTimeout

	pl.clock = p.newClock(p.core, p.cfg.Clock, p.logger)
	if err := pl.clock.Create(); err != nil {
		return wrapErr(ErrClock, err, "creating clock")
	}
	if err := pl.clock.SetState(omx.StateIdle, stateTimeout); err != nil {
		return wrapErr(ErrClockState, err, "clock to idle")
	}

	if pl.video {
		if err := p.buildVideo(pl, stateTimeout, portTimeout); err != nil {
			return err
		}
	}
	if pl.audio {
		if err := p.buildAudio(pl, stateTimeout, portTimeout); err != nil {
			return err
		}
	}

	p.mu.Lock()
	special := p.trickMode || p.rate != clock.NormalPlaybackRate
	p.mu.Unlock()

	mask := clock.WaitMask(pl.audio, pl.video)
	if pl.video && pl.audio && special {
		mask = clock.WaitAudio
	}
	if err := pl.clock.SetWaitingForStartTime(mask); err != nil {
		return wrapErr(ErrClock, err, "arming clock")
	}
	return nil
}

func (p *Player) loadVideoComponents(pl *pipeline) error {
	pl.vcodec = p.newComponent("video_decoder", func(e omx.Event) { p.onVideoDecoderEvent(pl, e) })
	if err := pl.vcodec.CreateVideoDecoder(pl.meta.VideoCodec); err != nil {
		return wrapErr(ErrVideoCodec, err, "creating video decoder")
	}
	pl.vrenderer = p.newComponent("video_renderer", func(e omx.Event) { p.onVideoRendererEvent(pl, e) })
	if err := pl.vrenderer.Create(omx.KindVideoRenderer); err != nil {
		return wrapErr(ErrVideoRender, err, "creating video renderer")
	}
	pl.scheduler = p.newComponent("video_scheduler", func(e omx.Event) { p.onSchedulerEvent(pl, e) })
	if err := pl.scheduler.Create(omx.KindVideoScheduler); err != nil {
		return wrapErr(ErrVideoRender, err, "creating video scheduler")
	}
	return nil
}

func (p *Player) buildVideo(pl *pipeline, stateTimeout, portTimeout time.Duration) error {
	if err := p.loadVideoComponents(pl); err != nil {
		return wrapErr(ErrVideoUnsupported, err, "video components")
	}

	vc := pl.vcodec
	if err := vc.SetVideoFormat(pl.meta.VideoCodec, pl.meta.Width, pl.meta.Height); err != nil {
		return wrapErr(ErrVideoCodec, err, "video format")
	}
	if err := vc.ConfigureInputBuffers(vc.InputBufferCount(), vc.InputBufferSize()); err != nil {
		return wrapErr(ErrVideoCodec, err, "video input buffers")
	}
	if err := vc.SetState(omx.StateIdle, stateTimeout); err != nil {
		return wrapErr(ErrVideoState, err, "video decoder to idle")
	}
	if err := vc.AllocateInputBuffers(); err != nil {
		return wrapErr(ErrVideoBuffer, err, "allocating video input buffers")
	}
	if err := vc.WaitPortEnabled(vc.InputPort(), true, portTimeout); err != nil {
		return wrapErr(ErrVideoBuffer, err, "video input port")
	}

	if err := pl.clock.Connect(omx.PortClockVideo, pl.scheduler, pl.scheduler.ClockPort()); err != nil {
		return wrapErr(ErrVideoTunnel, err, "clock to scheduler")
	}
	if err := pl.scheduler.SetState(omx.StateIdle, stateTimeout); err != nil {
		return wrapErr(ErrVideoTunnel, err, "scheduler to idle")
	}
	if err := vc.SetupTunnel(vc.OutputPort(), pl.scheduler, pl.scheduler.InputPort()); err != nil {
		return wrapErr(ErrVideoTunnel, err, "decoder to scheduler")
	}
	if err := pl.scheduler.SetupTunnel(pl.scheduler.OutputPort(), pl.vrenderer, pl.vrenderer.InputPort()); err != nil {
		return wrapErr(ErrVideoTunnel, err, "scheduler to renderer")
	}
	if err := pl.vrenderer.SetState(omx.StateIdle, stateTimeout+rendererExtraState); err != nil {
		p.logger.Warn("video renderer to idle", slog.String("error", err.Error()))
	}
	return nil
}

func (p *Player) loadAudioComponents(pl *pipeline) error {
	pl.acodec = p.newComponent("audio_decoder", func(e omx.Event) { p.onAudioDecoderEvent(pl, e) })
	if err := pl.acodec.CreateAudioDecoder(pl.meta.AudioCodec); err != nil {
		return wrapErr(ErrAudioCodec, err, "creating audio decoder")
	}
	pl.arenderer = p.newComponent("audio_renderer", func(e omx.Event) { p.onAudioRendererEvent(pl, e) })
	if err := pl.arenderer.Create(omx.KindAudioRenderer); err != nil {
		return wrapErr(ErrAudioRender, err, "creating audio renderer")
	}
	return nil
}

func (p *Player) buildAudio(pl *pipeline, stateTimeout, portTimeout time.Duration) error {
	if err := p.loadAudioComponents(pl); err != nil {
		return wrapErr(ErrAudioUnsupported, err, "audio components")
	}

	ac, ar := pl.acodec, pl.arenderer
	if err := ac.SetAudioCodecFormat(pl.meta.AudioCodec, pl.meta.Channels, pl.meta.BitsPerSample, audiodec.OutputSampleRate); err != nil {
		return wrapErr(ErrAudioCodec, err, "audio format")
	}
	if err := ac.ConfigureInputBuffers(ac.InputBufferCount(), ar.InputBufferSize()); err != nil {
		return wrapErr(ErrAudioCodec, err, "audio input buffers")
	}
	if err := ac.ConfigureOutputBuffers(ac.OutputBufferCount(), ar.InputBufferSize()); err != nil {
		return wrapErr(ErrAudioCodec, err, "audio output buffers")
	}
	if err := ac.SetState(omx.StateIdle, stateTimeout); err != nil {
		return wrapErr(ErrAudioState, err, "audio decoder to idle")
	}
	if err := ac.AllocateInputBuffers(); err != nil {
		return wrapErr(ErrAudioBuffer, err, "allocating audio input buffers")
	}
	if err := ac.WaitPortEnabled(ac.InputPort(), true, portTimeout); err != nil {
		return wrapErr(ErrAudioBuffer, err, "audio input port")
	}
	if err := ac.SetState(omx.StateExecuting, stateTimeout); err != nil {
		return wrapErr(ErrAudioState, err, "audio decoder to executing")
	}
	if err := pl.clock.SetState(omx.StateExecuting, stateTimeout); err != nil {
		return wrapErr(ErrClockState, err, "clock to executing")
	}
	if err := pl.clock.Connect(omx.PortClockAudio, ar, ar.ClockPort()); err != nil {
		return wrapErr(ErrClock, err, "clock to audio renderer")
	}

	pcm, err := ac.PCM(ac.OutputPort())
	if err != nil {
		return wrapErr(ErrFail, err, "reading decoder pcm mode")
	}
	p.logger.Debug("audio decoder output",
		slog.Int("channels", pcm.Channels),
		slog.Int("sample_rate", pcm.SampleRate),
		slog.Int("bits_per_sample", pcm.BitsPerSample))
	if err := ar.SetPCM(ar.InputPort(), pl.meta.Channels, audiodec.OutputSampleRate, audiodec.OutputBitsPerSample); err != nil {
		p.logger.Warn("audio renderer pcm mode", slog.String("error", err.Error()))
	}

	if err := ac.SetupTunnel(ac.OutputPort(), ar, ar.InputPort()); err == nil {
		if err := ar.WaitPortEnabled(ar.InputPort(), true, portTimeout); err != nil {
			p.logger.Warn("audio renderer input port", slog.String("error", err.Error()))
		}
		if err := ar.SetState(omx.StateIdle, stateTimeout); err != nil {
			return wrapErr(ErrAudioState, err, "audio renderer to idle")
		}
		if err := ac.WaitPortEnabled(ac.OutputPort(), true, portTimeout); err != nil {
			p.logger.Warn("audio decoder output port", slog.String("error", err.Error()))
		}
	} else {
		p.logger.Warn("audio tunnel", slog.String("error", err.Error()))
	}

	if err := ar.SetState(omx.StateExecuting, stateTimeout); err != nil {
		return wrapErr(ErrAudioState, err, "audio renderer to executing")
	}
	if err := ar.SetClockReference(true); err != nil {
		return wrapErr(ErrAudioState, err, "audio clock reference")
	}
	if err := ar.SetAudioDestination(p.cfg.AudioDestination); err != nil {
		return wrapErr(ErrAudioState, err, "audio destination %q", p.cfg.AudioDestination)
	}
	return nil
}

// Unload tears the pipeline down and releases the player's resources. A
// second Unload succeeds without doing anything.
func (p *Player) Unload() error {
	if !p.state.canTransit(StateUnloaded) {
		return wrap(ErrFail, "unload in state %s", p.state.get())
	}

	p.unloadMu.Lock()
	defer p.unloadMu.Unlock()
	if !p.loaded.Swap(false) {
		p.logger.Info("duplicate unload ignored")
		return nil
	}

	p.clearFrameQueues()
	p.clearBufQueue(StreamVideo)
	p.clearBufQueue(StreamAudio)

	if pl := p.pl.Swap(nil); pl != nil {
		p.teardown(pl)
	}

	p.state.transit(StateUnloaded)
	if err := p.rm.EnableScreenSaver(); err != nil {
		p.logger.Warn("enable screen saver", slog.String("error", err.Error()))
	}
	if err := p.rm.ReleaseResource(context.Background()); err != nil {
		p.logger.Warn("release resources", slog.String("error", err.Error()))
	}
	p.logger.Info("unloaded")
	return nil
}

// teardown disables, frees and destroys every stage of pl. Each step only
// logs its failure.
func (p *Player) teardown(pl *pipeline) {
	stateTimeout := p.cfg.Component.StateTimeout
	portTimeout := p.cfg.Component.PortTimeout

	logStep := func(step string, err error) {
		if err != nil {
			p.logger.Warn("teardown step failed",
				slog.String("step", step),
				slog.String("error", err.Error()))
		}
	}

	if c := pl.vrenderer; c != nil && c.Created() {
		logStep("disable video renderer input", c.DisablePort(c.InputPort(), 0))
	}
	if c := pl.scheduler; c != nil && c.Created() {
		logStep("disable scheduler output", c.DisablePort(c.OutputPort(), portTimeout))
		logStep("disable scheduler input", c.DisablePort(c.InputPort(), portTimeout))
	}
	if c := pl.vcodec; c != nil && c.Created() {
		logStep("disable video decoder output", c.DisablePort(c.OutputPort(), portTimeout))
		logStep("free video decoder input", c.FreeInputBuffers())
	}
	if c := pl.acodec; c != nil && c.Created() {
		logStep("disable audio decoder output", c.DisablePort(c.OutputPort(), portTimeout))
		logStep("free audio decoder input", c.FreeInputBuffers())
	}
	if c := pl.vrenderer; c != nil && c.Created() {
		logStep("video renderer to idle", c.SetState(omx.StateIdle, stateTimeout))
		logStep("video renderer to loaded", c.SetState(omx.StateLoaded, stateTimeout))
	}
	if pl.clock != nil && pl.clock.Component() != nil {
		logStep("disable video clock port", pl.clock.EnablePort(omx.PortClockVideo, false, 0))
		logStep("disable audio clock port", pl.clock.EnablePort(omx.PortClockAudio, false, 0))
	}

	for _, c := range []*omx.Component{pl.vcodec, pl.vrenderer, pl.scheduler, pl.acodec, pl.arenderer} {
		if c != nil {
			c.Destroy()
		}
	}
	if pl.clock != nil {
		pl.clock.Destroy()
	}
	if pl.swdec != nil {
		logStep("close audio decoder", pl.swdec.Close())
	}
}

// onPolicyAction runs when the resource manager takes the resources back.
func (p *Player) onPolicyAction() {
	p.logger.Warn("resources released by policy")
	p.notify(EventResourceReleasedByPolicy, nil)
	if err := p.Unload(); err != nil {
		p.logger.Error("unload after policy release", slog.String("error", err.Error()))
	}
}
