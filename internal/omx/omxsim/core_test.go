package omxsim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/esplayer/internal/omx"
)

func recv(t *testing.T, ch <-chan omx.Callback) omx.Callback {
	t.Helper()
	select {
	case cb := <-ch:
		return cb
	case <-time.After(time.Second):
		t.Fatal("no callback delivered")
		return omx.Callback{}
	}
}

func newStage(t *testing.T, c *Core, kind omx.Kind) (*Handle, chan omx.Callback) {
	t.Helper()
	events := make(chan omx.Callback, 64)
	h, err := c.GetHandle(c.ComponentName(kind), events)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.FreeHandle(h) })
	return h.(*Handle), events
}

func TestGetHandle_UnknownName(t *testing.T) {
	c := New()
	_, err := c.GetHandle("OMX.nope", make(chan omx.Callback))
	assert.Equal(t, omx.ErrorComponentNotFound, omx.StatusOf(err))
}

func TestPortParam(t *testing.T) {
	c := New()
	h, _ := newStage(t, c, omx.KindVideoScheduler)

	pp := omx.PortParam{Domain: omx.DomainVideo}
	require.NoError(t, h.GetParameter(&pp))
	assert.Equal(t, omx.PortVideoSchedulerInput, pp.StartPort)
	assert.Equal(t, 2, pp.Ports)

	pp = omx.PortParam{Domain: omx.DomainAudio}
	require.NoError(t, h.GetParameter(&pp))
	assert.Equal(t, 0, pp.Ports)
}

func TestStateTransitions(t *testing.T) {
	c := New()
	h, events := newStage(t, c, omx.KindClock)

	require.NoError(t, h.SendCommand(omx.CommandStateSet, int(omx.StateExecuting)))
	cb := recv(t, events)
	assert.Equal(t, omx.EventError, cb.Event)
	assert.Equal(t, uint32(omx.ErrorIncorrectStateTransition), cb.Data1)

	require.NoError(t, h.SendCommand(omx.CommandStateSet, int(omx.StateIdle)))
	cb = recv(t, events)
	assert.Equal(t, omx.EventCmdComplete, cb.Event)
	assert.Equal(t, uint32(omx.CommandStateSet), cb.Data1)
	assert.Equal(t, uint32(omx.StateIdle), cb.Data2)
	assert.Equal(t, omx.StateIdle, h.State())

	require.NoError(t, h.SendCommand(omx.CommandStateSet, int(omx.StateIdle)))
	cb = recv(t, events)
	assert.Equal(t, uint32(omx.ErrorSameState), cb.Data1)
}

func TestLegalTransition(t *testing.T) {
	assert.True(t, legalTransition(omx.StateLoaded, omx.StateIdle))
	assert.True(t, legalTransition(omx.StateExecuting, omx.StatePause))
	assert.True(t, legalTransition(omx.StatePause, omx.StateExecuting))
	assert.False(t, legalTransition(omx.StateLoaded, omx.StateExecuting))
	assert.False(t, legalTransition(omx.StateExecuting, omx.StateLoaded))
}

func TestBuffersConsumedWhenExecuting(t *testing.T) {
	c := New()
	h, events := newStage(t, c, omx.KindAudioDecoder)

	hdr, err := h.AllocateBuffer(omx.PortAudioDecoderInput, 8)
	require.NoError(t, err)
	require.NoError(t, h.SendCommand(omx.CommandStateSet, int(omx.StateIdle)))
	recv(t, events)

	hdr.FilledLen = 4
	require.NoError(t, h.EmptyThisBuffer(hdr))
	assert.Equal(t, 1, h.Queued(omx.PortAudioDecoderInput))

	require.NoError(t, h.SendCommand(omx.CommandStateSet, int(omx.StateExecuting)))
	assert.Equal(t, omx.EventCmdComplete, recv(t, events).Event)

	cb := recv(t, events)
	assert.Equal(t, omx.CallbackEmptyBufferDone, cb.Kind)
	assert.Same(t, hdr, cb.Buffer)

	cb = recv(t, events)
	assert.Equal(t, omx.EventPortSettingsChanged, cb.Event)
	assert.Equal(t, uint32(omx.PortAudioDecoderOutput), cb.Data1)
	assert.Equal(t, 1, h.Consumed())
}

func TestAudioDecoderOutputFormat(t *testing.T) {
	c := New()
	h, _ := newStage(t, c, omx.KindAudioDecoder)

	pcm := omx.PCMMode{Port: omx.PortAudioDecoderOutput}
	require.NoError(t, h.GetParameter(&pcm))
	assert.Equal(t, 44100, pcm.SampleRate)
	assert.Equal(t, 2, pcm.Channels)
	assert.Equal(t, 16, pcm.BitsPerSample)
	assert.True(t, pcm.Interleaved)

	pcm = omx.PCMMode{Port: omx.PortAudioDecoderInput}
	assert.Equal(t, omx.ErrorUnsupportedSetting, omx.StatusOf(h.GetParameter(&pcm)))
}

func TestDisabledPortRejectsBuffers(t *testing.T) {
	c := New()
	h, _ := newStage(t, c, omx.KindAudioDecoder)
	hdr, err := h.AllocateBuffer(omx.PortAudioDecoderInput, 8)
	require.NoError(t, err)
	require.NoError(t, h.SendCommand(omx.CommandPortDisable, omx.PortAudioDecoderInput))

	err = h.EmptyThisBuffer(hdr)
	assert.Equal(t, omx.ErrorIncorrectStateOperation, omx.StatusOf(err))
}

func TestFlushReturnsQueued(t *testing.T) {
	c := New()
	h, events := newStage(t, c, omx.KindAudioDecoder)
	hdr, err := h.AllocateBuffer(omx.PortAudioDecoderInput, 8)
	require.NoError(t, err)
	require.NoError(t, h.SendCommand(omx.CommandStateSet, int(omx.StateIdle)))
	recv(t, events)
	require.NoError(t, h.EmptyThisBuffer(hdr))

	require.NoError(t, h.SendCommand(omx.CommandFlush, omx.AllPorts))
	assert.Equal(t, omx.CallbackEmptyBufferDone, recv(t, events).Kind)
	for _, p := range []int{omx.PortAudioDecoderInput, omx.PortAudioDecoderOutput} {
		cb := recv(t, events)
		assert.Equal(t, uint32(omx.CommandFlush), cb.Data1)
		assert.Equal(t, uint32(p), cb.Data2)
	}
	assert.Equal(t, 0, h.Queued(omx.PortAudioDecoderInput))
}

func TestClockStartsOnFirstFrame(t *testing.T) {
	c := New()
	clk, clkEvents := newStage(t, c, omx.KindClock)
	ren, _ := newStage(t, c, omx.KindAudioRenderer)
	require.NoError(t, c.SetupTunnel(clk, omx.PortClockAudio, ren, omx.PortAudioRendererClock))
	assert.True(t, ren.Tunneled(omx.PortAudioRendererClock))

	require.NoError(t, clk.SetConfig(&omx.TimeClockState{State: omx.ClockWaitingForStartTime, WaitMask: 1}))
	require.NoError(t, clk.SetConfig(&omx.TimeScale{Scale: 0x8000}))

	ren.receive(frame{pts: 5000, size: 4})
	assert.Equal(t, 0, ren.Rendered(), "renderer in Loaded does not consume")

	require.NoError(t, ren.SendCommand(omx.CommandStateSet, int(omx.StateIdle)))
	require.NoError(t, ren.SendCommand(omx.CommandStateSet, int(omx.StateExecuting)))
	ren.receive(frame{pts: 5000, size: 4})
	assert.Equal(t, 1, ren.Rendered())

	cb := recv(t, clkEvents)
	assert.Equal(t, omx.EventClockStateChanged, cb.Event)
	update, ok := cb.Data.(*omx.ClockUpdate)
	require.True(t, ok)
	assert.Equal(t, omx.ClockRunning, update.State)
	assert.Equal(t, int32(0x8000), update.Scale)

	var mt omx.MediaTime
	require.NoError(t, clk.GetConfig(&mt))
	assert.Equal(t, int64(5000), mt.Timestamp)
}

func TestFaults(t *testing.T) {
	c := New()
	name := c.ComponentName(omx.KindVideoRenderer)
	c.FailAllocate(name)
	c.FailParameters(name)

	h, _ := newStage(t, c, omx.KindVideoRenderer)
	_, err := h.AllocateBuffer(omx.PortVideoRendererInput, 8)
	assert.Equal(t, omx.ErrorInsufficientResources, omx.StatusOf(err))
	err = h.SetParameter(&omx.PortDefinition{Port: omx.PortVideoRendererInput, BufferCountActual: 4})
	assert.Equal(t, omx.ErrorUnsupportedSetting, omx.StatusOf(err))
}

func TestFreeHandle(t *testing.T) {
	c := New()
	events := make(chan omx.Callback)
	h, err := c.GetHandle(c.ComponentName(omx.KindClock), events)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Live())

	// undelivered callbacks must not block the free
	require.NoError(t, h.SendCommand(omx.CommandStateSet, int(omx.StateIdle)))
	require.NoError(t, c.FreeHandle(h))
	assert.Equal(t, 0, c.Live())

	_, err = h.GetState()
	assert.Equal(t, omx.ErrorInvalidComponent, omx.StatusOf(err))
}
