package player

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/esplayer/internal/clock"
	"github.com/jmylchreest/esplayer/internal/omx"
)

// Play starts or resumes playback. From Loaded the decoders are started
// and sent their configuration; from Paused every stage is resumed.
func (p *Player) Play() error {
	if !p.state.canTransit(StatePlaying) {
		return wrap(ErrFail, "play in state %s", p.state.get())
	}
	from := p.state.get()
	p.logger.Info("play", slog.String("from", from.String()))

	p.sync.SetState(SyncAllow)
	if from != StatePaused {
		p.sync.ResetAudio()
	}
	if from != StatePlaying {
		p.waitingFirstFrame.Store(true)
	}

	var err error
	if pl := p.pl.Load(); pl != nil {
		switch from {
		case StateLoaded:
			err = p.startPipeline(pl)
		case StatePaused:
			err = p.resumePipeline(pl)
		}
	}
	if err != nil {
		p.logger.Error("play", slog.String("error", err.Error()))
	}

	p.state.transit(StatePlaying)
	p.setLoopersRunning(true)
	if nerr := p.rm.NotifyActivity(); nerr != nil {
		p.logger.Warn("notify activity", slog.String("error", nerr.Error()))
	}
	if serr := p.rm.DisableScreenSaver(); serr != nil {
		p.logger.Warn("disable screen saver", slog.String("error", serr.Error()))
	}
	return err
}

func (p *Player) startPipeline(pl *pipeline) error {
	timeout := p.cfg.Component.StateTimeout
	if err := pl.clock.SetPlaybackRate(p.PlaybackRate()); err != nil {
		return wrapErr(ErrClock, err, "playback rate")
	}
	if pl.vcodec != nil && pl.vcodec.Created() {
		if err := pl.vcodec.SetState(omx.StateExecuting, timeout); err != nil {
			p.logger.Warn("video decoder to executing", slog.String("error", err.Error()))
		}
		if len(pl.meta.Extradata) > 0 {
			p.sendVideoConfig(pl)
		}
	}
	if pl.scheduler != nil {
		if err := pl.scheduler.SetState(omx.StateExecuting, timeout); err != nil {
			p.logger.Warn("scheduler to executing", slog.String("error", err.Error()))
		}
	}
	if pl.acodec != nil {
		if err := pl.acodec.SetState(omx.StateExecuting, timeout); err != nil {
			p.logger.Warn("audio decoder to executing", slog.String("error", err.Error()))
		}
		p.sendAudioConfig(pl)
	}
	return nil
}

func (p *Player) resumePipeline(pl *pipeline) error {
	if err := pl.clock.SetPlaybackRate(p.PlaybackRate()); err != nil {
		return wrapErr(ErrClock, err, "playback rate")
	}
	if err := p.changeComponentsState(pl, omx.StateExecuting, p.cfg.Component.StateTimeout); err != nil {
		return wrapErr(ErrSetState, err, "resuming stages")
	}
	return nil
}

// Pause stops the clock and pauses every stage. Pausing from Loaded or
// Paused succeeds without doing anything.
func (p *Player) Pause() error {
	if !p.state.canTransit(StatePaused) {
		return wrap(ErrFail, "pause in state %s", p.state.get())
	}
	if st := p.state.get(); st == StateLoaded || st == StatePaused {
		return nil
	}
	if !p.loaded.Load() {
		return wrap(ErrFail, "pause: not loaded")
	}
	p.logger.Info("pause")

	p.setLoopersRunning(false)

	p.unloadMu.Lock()
	err := p.pause()
	p.unloadMu.Unlock()

	if nerr := p.rm.NotifyActivity(); nerr != nil {
		p.logger.Warn("notify activity", slog.String("error", nerr.Error()))
	}
	if serr := p.rm.EnableScreenSaver(); serr != nil {
		p.logger.Warn("enable screen saver", slog.String("error", serr.Error()))
	}
	return err
}

func (p *Player) pause() error {
	pl := p.pl.Load()
	if pl == nil {
		return wrap(ErrFail, "pause: no pipeline")
	}
	if err := pl.clock.SetPlaybackRate(0); err != nil {
		return wrapErr(ErrClock, err, "stopping clock")
	}
	if err := p.changeComponentsState(pl, omx.StatePause, p.cfg.Component.StateTimeout); err != nil {
		return wrapErr(ErrSetState, err, "pausing stages")
	}
	p.state.transit(StatePaused)
	p.logger.Debug("paused", slog.Int64("frames", p.frameCount.Swap(0)))
	return nil
}

// stepTimeout bounds the wait for the stepped frame to be rendered.
const stepTimeout = time.Second

// StepFrame presents exactly one more video frame while paused. The video
// stages run until the renderer reports the frame and are paused again.
func (p *Player) StepFrame() error {
	if !p.state.canTransit(StateStepping) {
		return wrap(ErrFail, "step in state %s", p.state.get())
	}
	saved := p.state.get()
	p.state.transit(StateStepping)
	defer p.state.transit(saved)

	p.unloadMu.Lock()
	defer p.unloadMu.Unlock()

	pl := p.pl.Load()
	if pl == nil || pl.clock == nil || pl.vcodec == nil || !pl.vcodec.Created() {
		return wrap(ErrFail, "step: no video")
	}
	return p.stepFrame(pl)
}

func (p *Player) stepFrame(pl *pipeline) error {
	timeout := p.cfg.Component.StateTimeout
	select {
	case <-p.stepDone:
	default:
	}
	p.stepping.Store(true)
	defer p.stepping.Store(false)

	if err := pl.clock.StepFrame(omx.PortClockVideo); err != nil {
		p.logger.Warn("arming clock for step", slog.String("error", err.Error()))
	}
	if err := pl.vcodec.SetFrameStep(1); err != nil {
		return wrapErr(ErrFail, err, "limiting decoder to one frame")
	}
	defer func() {
		if err := pl.vcodec.SetFrameStep(0); err != nil {
			p.logger.Warn("lifting frame step", slog.String("error", err.Error()))
		}
	}()

	start := func() error {
		for _, c := range []*omx.Component{pl.vcodec, pl.scheduler, pl.vrenderer} {
			if c == nil || !c.Created() {
				continue
			}
			if st, err := c.State(); err == nil && st == omx.StateExecuting {
				continue
			}
			if err := c.SetState(omx.StateExecuting, timeout); err != nil {
				return wrapErr(ErrSetState, err, "step: %s to executing", c.Kind())
			}
		}
		if err := pl.clock.SetState(omx.StateExecuting, timeout); err != nil {
			return wrapErr(ErrSetState, err, "step: clock to executing")
		}
		return nil
	}

	err := start()
	if err == nil {
		select {
		case <-p.stepDone:
			p.logger.Debug("frame stepped")
		case <-time.After(stepTimeout):
			err = wrap(ErrFail, "step: no frame rendered")
		}
	}

	// the video renderer stays executing, as on pause
	for _, c := range []*omx.Component{pl.vcodec, pl.scheduler} {
		if c == nil || !c.Created() {
			continue
		}
		if serr := c.SetState(omx.StatePause, timeout); serr != nil && err == nil {
			err = wrapErr(ErrSetState, serr, "step: %s to pause", c.Kind())
		}
	}
	if serr := pl.clock.SetState(omx.StatePause, timeout); serr != nil && err == nil {
		err = wrapErr(ErrSetState, serr, "step: clock to pause")
	}
	return err
}

// Flush drops every queued and in-flight buffer and rearms the clock. The
// player returns to the state it was in; a flush while Playing resumes
// playback.
func (p *Player) Flush() error {
	if !p.state.canTransit(StateFlushing) {
		return wrap(ErrFail, "flush in state %s", p.state.get())
	}
	if !p.loaded.Load() {
		p.logger.Info("flush ignored, not loaded")
		return nil
	}

	p.unloadMu.Lock()
	defer p.unloadMu.Unlock()

	p.mu.Lock()
	p.trickMode = false
	p.mu.Unlock()
	p.sync.Reset()

	saved := p.state.get()
	p.logger.Info("flush", slog.String("from", saved.String()))

	pl := p.pl.Load()
	if pl != nil {
		p.eosMu.Lock()
		if pl.arenderer != nil {
			p.eos[StreamAudio] = false
		}
		if pl.vrenderer != nil {
			p.eos[StreamVideo] = false
		}
		p.eosNotified = false
		p.eosMu.Unlock()
	}

	p.state.transit(StateFlushing)
	err := p.flush(pl, saved)
	p.state.transit(saved)
	if err != nil {
		p.logger.Error("flush", slog.String("error", err.Error()))
	}
	return err
}

func (p *Player) flush(pl *pipeline, saved State) error {
	if pl == nil {
		return wrap(ErrFail, "flush: no pipeline")
	}
	if err := pl.clock.SetStopped(); err != nil {
		return wrapErr(ErrClock, err, "stopping clock")
	}

	p.clearFrameQueues()
	p.clearBufQueue(StreamAudio)
	p.clearBufQueue(StreamVideo)

	if saved != StatePaused {
		if err := p.changeComponentsState(pl, omx.StatePause, p.cfg.Component.StateTimeout); err != nil {
			return wrapErr(ErrSetState, err, "pausing stages")
		}
	}
	p.setComponentsFlush(pl, p.cfg.Component.FlushTimeout)

	if err := pl.clock.SetWaitingForStartTime(clock.WaitMask(pl.audio, pl.video)); err != nil {
		return wrapErr(ErrClock, err, "arming clock")
	}
	p.pts.Reset()

	if saved == StatePlaying {
		if err := p.changeComponentsState(pl, omx.StateExecuting, 0); err != nil {
			return wrapErr(ErrSetState, err, "resuming stages")
		}
	}
	p.waitingFirstFrame.Store(true)
	return nil
}

// changeComponentsState moves every stage to state, stopping at the first
// failure. The video renderer is left running on pause.
func (p *Player) changeComponentsState(pl *pipeline, state omx.State, timeout time.Duration) error {
	type step struct {
		name string
		comp *omx.Component
	}
	steps := []step{{"video decoder", pl.vcodec}}
	if state != omx.StatePause {
		steps = append(steps, step{"video renderer", pl.vrenderer})
	}
	steps = append(steps,
		step{"audio decoder", pl.acodec},
		step{"audio renderer", pl.arenderer},
		step{"scheduler", pl.scheduler})

	for _, s := range steps {
		if s.comp == nil || !s.comp.Created() {
			continue
		}
		if err := s.comp.SetState(state, timeout); err != nil {
			return fmt.Errorf("%s to %s: %w", s.name, state, err)
		}
	}
	if pl.clock != nil && pl.clock.Component() != nil {
		if err := pl.clock.SetState(state, timeout); err != nil {
			return fmt.Errorf("clock to %s: %w", state, err)
		}
	}
	return nil
}

// setComponentsFlush flushes every stage, logging failures.
func (p *Player) setComponentsFlush(pl *pipeline, timeout time.Duration) {
	flush := func(name string, c *omx.Component, port int) {
		if c == nil || !c.Created() {
			return
		}
		if err := c.Flush(port, timeout); err != nil {
			p.logger.Warn("flush stage",
				slog.String("stage", name),
				slog.String("error", err.Error()))
		}
	}
	flush("video decoder", pl.vcodec, omx.AllPorts)
	if pl.scheduler != nil {
		flush("scheduler", pl.scheduler, pl.scheduler.InputPort())
	}
	if pl.vrenderer != nil {
		flush("video renderer", pl.vrenderer, pl.vrenderer.InputPort())
	}
	flush("audio decoder", pl.acodec, omx.AllPorts)
	if pl.arenderer != nil {
		flush("audio renderer", pl.arenderer, pl.arenderer.InputPort())
	}
}

func (p *Player) sendVideoConfig(pl *pipeline) {
	n, err := pl.vcodec.WriteToConfigBuffer(pl.meta.Extradata)
	if err != nil {
		p.logger.Warn("video config", slog.String("error", err.Error()))
		return
	}
	p.logger.Debug("video config sent", slog.Int("bytes", n))
}

// sendAudioConfig writes the PCM format header to the audio decoder.
func (p *Player) sendAudioConfig(pl *pipeline) {
	if pl.acodec == nil || !pl.acodec.Created() {
		return
	}
	rate := pl.meta.SampleRate
	if rate == 0 {
		rate = defaultConfigSampleRate
	}
	n, err := pl.acodec.WriteToConfigBuffer(pcmConfig(pl.meta.Channels, rate, pl.meta.BitsPerSample))
	if err != nil {
		p.logger.Warn("audio config", slog.String("error", err.Error()))
		return
	}
	p.logger.Debug("audio config sent", slog.Int("bytes", n))
}
