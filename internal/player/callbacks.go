package player

import (
	"log/slog"
	"math"

	"github.com/jmylchreest/esplayer/internal/omx"
	"github.com/jmylchreest/esplayer/internal/resource"
)

// Stage listeners run on the stage's dispatch goroutine. They must not
// wait on their own stage, and client events leave through the message
// loopers.

func (p *Player) onVideoDecoderEvent(pl *pipeline, e omx.Event) {
	switch e.Type {
	case omx.NotifyEmptyBufferDone:
		p.frameCount.Add(1)
	case omx.NotifyPortSettingChanged:
		p.onVideoPortSettingChanged(pl, e)
	case omx.NotifyEndOfStream:
		p.onStreamEOS(pl, StreamVideo)
	case omx.NotifyVideoInfo:
		if info, ok := e.Data.(*omx.VideoInfo); ok && info != nil {
			p.onVideoInfo(*info)
		}
	default:
		p.logger.Debug("video decoder event", slog.String("type", e.Type.String()))
	}
}

func (p *Player) onVideoPortSettingChanged(pl *pipeline, e omx.Event) {
	vc, sched := pl.vcodec, pl.scheduler
	p.mu.Lock()
	plane := p.planeID
	p.mu.Unlock()
	p.logger.Info("video port settings changed",
		slog.Uint64("port", uint64(e.Data1)),
		slog.Int("plane", int(plane)))

	if err := vc.DisablePort(vc.OutputPort(), 0); err != nil {
		p.logger.Warn("disable video decoder output", slog.String("error", err.Error()))
	}
	if err := sched.DisablePort(sched.InputPort(), 0); err != nil {
		p.logger.Warn("disable scheduler input", slog.String("error", err.Error()))
	}

	def, err := vc.PortDefinition(vc.OutputPort())
	if err != nil {
		p.logger.Error("reading video output definition", slog.String("error", err.Error()))
		return
	}

	info := VideoInfo{
		Width:     def.Video.Width,
		Height:    def.Video.Height,
		Scan:      ScanProgressive,
		PARWidth:  1,
		PARHeight: 1,
	}
	p.mu.Lock()
	p.videoInfo = info
	p.mu.Unlock()
	if err := p.rm.SetVideoInfo(resourceVideoInfo(info)); err != nil {
		p.logger.Warn("publishing video info", slog.String("error", err.Error()))
	}
	p.logger.Info("video decoder output",
		slog.Int("width", def.Video.Width),
		slog.Int("height", def.Video.Height),
		slog.Int("stride", def.Video.Stride),
		slog.Uint64("framerate_q16", uint64(def.Video.Framerate)),
		slog.Int("buffer_size", def.BufferSize))

	region := omx.DisplayRegion{
		Port:   pl.vrenderer.InputPort(),
		Width:  def.Video.Width,
		Height: def.Video.Height,
		Source: omx.Rect{Width: def.Video.Width, Height: def.Video.Height},
	}
	if err := pl.vrenderer.SetDisplayRegion(region); err != nil {
		p.logger.Warn("video display region", slog.String("error", err.Error()))
	}

	if err := vc.SetupTunnel(vc.OutputPort(), sched, sched.InputPort()); err != nil {
		p.logger.Warn("retunnel decoder to scheduler", slog.String("error", err.Error()))
	}

	// The renderer starts only once the first picture size is known.
	if p.firstPortSetting.CompareAndSwap(true, false) {
		if err := pl.vrenderer.SetState(omx.StateExecuting, rendererExtraState); err != nil {
			p.logger.Warn("video renderer to executing", slog.String("error", err.Error()))
		}
	}

	if p.sync.Allow() {
		p.logger.Info("video gate opened on port change")
	}
	p.post(p.videoMsg, EventVideoPortChanged, nil)
}

func (p *Player) onVideoInfo(in omx.VideoInfo) {
	info := VideoInfo{
		Width:     in.Width,
		Height:    in.Height,
		PARWidth:  in.PARWidth,
		PARHeight: in.PARHeight,
		Scan:      ScanInterlaced,
	}
	if in.Progressive {
		info.Scan = ScanProgressive
	}
	info.FramerateNum, info.FramerateDen = framerateFraction(in.FrameRate)

	p.mu.Lock()
	if p.threeD != ThreeDNone {
		info.ThreeD = p.threeD
	}
	p.videoInfo = info
	p.mu.Unlock()

	p.logger.Info("video info",
		slog.Int("width", info.Width),
		slog.Int("height", info.Height),
		slog.Int("framerate_num", info.FramerateNum),
		slog.Int("framerate_den", info.FramerateDen),
		slog.Int("scan", int(info.Scan)),
		slog.Bool("hdr", info.HasHDRInfo))
	if err := p.rm.SetVideoInfo(resourceVideoInfo(info)); err != nil {
		p.logger.Warn("publishing video info", slog.String("error", err.Error()))
	}
	p.post(p.videoMsg, EventVideoInfo, info)
}

func framerateFraction(fps float64) (num, den int) {
	if fps <= 0 {
		return 0, 1
	}
	if fps == math.Trunc(fps) {
		return int(fps), 1
	}
	return int(math.Round(fps * 1000)), 1000
}

func resourceVideoInfo(info VideoInfo) resource.VideoInfo {
	out := resource.VideoInfo{
		Width:      info.Width,
		Height:     info.Height,
		Interlaced: info.Scan == ScanInterlaced,
		PARWidth:   info.PARWidth,
		PARHeight:  info.PARHeight,
	}
	if info.FramerateDen > 0 {
		out.FrameRate = float64(info.FramerateNum) / float64(info.FramerateDen)
	}
	return out
}

func (p *Player) onVideoRendererEvent(pl *pipeline, e omx.Event) {
	switch e.Type {
	case omx.NotifyRender:
		p.frameCount.Add(1)
		if p.stepping.Load() {
			select {
			case p.stepDone <- struct{}{}:
			default:
			}
		}
		if p.waitingFirstFrame.CompareAndSwap(true, false) {
			p.logger.Info("first frame presented")
			if err := p.rm.MediaContentReady(true); err != nil {
				p.logger.Warn("media content ready", slog.String("error", err.Error()))
			}
			p.post(p.videoMsg, EventFirstFramePresented, nil)
		}
	case omx.NotifyEndOfStream:
		p.onStreamEOS(pl, StreamVideo)
	case omx.NotifyUnderflow:
		if pl.vcodec == nil || pl.vcodec.UsedBufferCount() >= p.cfg.Sync.VideoLowCount {
			return
		}
		p.sync.SetState(SyncAllow)
		p.logger.Info("video drained")
		p.post(p.videoMsg, EventStreamDrainedVideo, nil)
	default:
		p.logger.Debug("video renderer event", slog.String("type", e.Type.String()))
	}
}

func (p *Player) onSchedulerEvent(_ *pipeline, e omx.Event) {
	p.logger.Debug("scheduler event",
		slog.String("type", e.Type.String()),
		slog.Uint64("data1", uint64(e.Data1)),
		slog.Uint64("data2", uint64(e.Data2)))
}

func (p *Player) onAudioDecoderEvent(pl *pipeline, e omx.Event) {
	switch e.Type {
	case omx.NotifyResourceAcquired:
		if err := pl.acodec.SetState(omx.StateExecuting, 0); err != nil {
			p.logger.Warn("audio decoder to executing", slog.String("error", err.Error()))
		}
		p.sendAudioConfig(pl)
	case omx.NotifyEmptyBufferDone:
		if pl.acodec.UsedBufferCount() < p.cfg.Sync.AudioLowCount && p.audioLowArmed.CompareAndSwap(true, false) {
			p.post(p.audioMsg, EventLowThresholdCrossedAudio, nil)
		}
	case omx.NotifyPortSettingChanged:
		p.logger.Info("audio port settings changed", slog.Uint64("port", uint64(e.Data1)))
		p.post(p.audioMsg, EventAudioPortChanged, nil)
	case omx.NotifyEndOfStream:
		p.onStreamEOS(pl, StreamAudio)
	case omx.NotifyAudioInfo:
		if info, ok := e.Data.(*omx.AudioInfo); ok && info != nil {
			p.logger.Debug("audio info",
				slog.Int("sample_rate", info.SampleRate),
				slog.Int("channels", info.Channels))
		}
	default:
		p.logger.Debug("audio decoder event", slog.String("type", e.Type.String()))
	}
}

func (p *Player) onAudioRendererEvent(pl *pipeline, e omx.Event) {
	switch e.Type {
	case omx.NotifyRender:
		if pl.audio && !pl.video && p.waitingFirstFrame.CompareAndSwap(true, false) {
			p.logger.Info("first audio frame rendered")
		}
	case omx.NotifyEndOfStream:
		p.onStreamEOS(pl, StreamAudio)
	case omx.NotifyUnderflow:
		p.logger.Info("audio drained")
		p.post(p.audioMsg, EventStreamDrainedAudio, nil)
	default:
		p.logger.Debug("audio renderer event", slog.String("type", e.Type.String()))
	}
}

// onStreamEOS records the end of stream s and raises END_OF_STREAM once
// every enabled stream has ended.
func (p *Player) onStreamEOS(pl *pipeline, s Stream) {
	p.eosMu.Lock()
	p.eos[s] = true
	done := !p.eosNotified &&
		(!pl.audio || p.eos[StreamAudio]) &&
		(!pl.video || p.eos[StreamVideo])
	if done {
		p.eosNotified = true
	}
	p.eosMu.Unlock()

	p.logger.Info("end of stream", slog.String("stream", s.String()), slog.Bool("all", done))
	if !done {
		return
	}
	if err := p.rm.EndOfStream(); err != nil {
		p.logger.Warn("end of stream", slog.String("error", err.Error()))
	}
	l := p.audioMsg
	if s == StreamVideo {
		l = p.videoMsg
	}
	p.post(l, EventEndOfStream, nil)
}
