package clock

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/esplayer/internal/omx"
	"github.com/jmylchreest/esplayer/internal/omx/omxsim"
)

func TestRateToScale(t *testing.T) {
	tests := []struct {
		rate int
		want int32
	}{
		{0, 0},
		{500, 0x8000},
		{1000, 0x10000},
		{2000, 0x20000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RateToScale(tt.rate), "rate %d", tt.rate)
	}
}

func TestWaitMask(t *testing.T) {
	assert.Equal(t, uint32(0), WaitMask(false, false))
	assert.Equal(t, uint32(1), WaitMask(true, false))
	assert.Equal(t, uint32(2), WaitMask(false, true))
	assert.Equal(t, uint32(3), WaitMask(true, true))
}

func newClock(t *testing.T, core *omxsim.Core) *OMX {
	t.Helper()
	c := NewOMX(core, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, c.Create())
	t.Cleanup(c.Destroy)
	return c
}

func TestOMX_NotCreated(t *testing.T) {
	c := NewOMX(omxsim.New())
	assert.ErrorIs(t, c.SetPlaybackRate(1000), ErrNotCreated)
	assert.ErrorIs(t, c.SetStopped(), ErrNotCreated)
	assert.ErrorIs(t, c.SetWaitingForStartTime(WaitAudio), ErrNotCreated)
	assert.Nil(t, c.Component())
}

func TestOMX_CreateFailure(t *testing.T) {
	core := omxsim.New()
	core.FailGetHandle(omx.DefaultComponentNames[omx.KindClock])
	assert.Error(t, NewOMX(core).Create())
}

func TestOMX_SetPlaybackRate(t *testing.T) {
	core := omxsim.New()
	c := newClock(t, core)

	require.NoError(t, c.SetPlaybackRate(500))
	assert.Equal(t, 500, c.PlaybackRate())
	assert.Equal(t, int32(0x8000), core.HandleOf(omx.KindClock).Scale())
}

func TestOMX_SetWaitingForStartTime(t *testing.T) {
	core := omxsim.New()
	c := newClock(t, core)
	h := core.HandleOf(omx.KindClock)

	require.NoError(t, c.SetWaitingForStartTime(WaitAudio|WaitVideo))
	st := h.ClockState()
	assert.Equal(t, omx.ClockWaitingForStartTime, st.State)
	assert.Equal(t, uint32(3), st.WaitMask)
	assert.Equal(t, int64(-200000), st.Offset)
	assert.Equal(t, omx.RefClockAudio, h.RefClock())

	require.NoError(t, c.SetStopped())
	assert.Equal(t, omx.ClockStopped, h.ClockState().State)
	require.NoError(t, c.SetStopped(), "stopping twice is a no-op")
}

func TestOMX_StepFrameArmsPort(t *testing.T) {
	core := omxsim.New()
	c := newClock(t, core)
	h := core.HandleOf(omx.KindClock)

	require.NoError(t, c.StepFrame(omx.PortClockVideo))
	st := h.ClockState()
	assert.Equal(t, omx.ClockWaitingForStartTime, st.State)
	assert.Equal(t, WaitVideo, st.WaitMask)

	require.NoError(t, c.StepFrame(omx.PortClockAudio))
	assert.Equal(t, WaitAudio, h.ClockState().WaitMask)

	assert.ErrorIs(t, c.StepFrame(omx.PortClockMixer), ErrPort)
	assert.ErrorIs(t, NewOMX(core).StepFrame(omx.PortClockVideo), ErrNotCreated)
}

func TestOMX_MediaTime(t *testing.T) {
	core := omxsim.New()
	c := newClock(t, core)
	h := core.HandleOf(omx.KindClock)

	_, _, err := NewOMX(core).MediaTime()
	assert.ErrorIs(t, err, ErrNotCreated)

	start, cur, err := c.MediaTime()
	require.NoError(t, err)
	assert.Equal(t, int64(-1), start)
	assert.Equal(t, int64(-1), cur)

	require.NoError(t, c.SetWaitingForStartTime(WaitVideo))
	start, _, err = c.MediaTime()
	require.NoError(t, err)
	assert.Equal(t, int64(-1), start, "armed but not started")

	require.NoError(t, h.SetConfig(&omx.TimeClockState{State: omx.ClockRunning, StartTime: 40000}))
	start, _, err = c.MediaTime()
	require.NoError(t, err)
	assert.Equal(t, int64(40000), start)
}

func TestOMX_TrickMode(t *testing.T) {
	c := newClock(t, omxsim.New())
	c.SetTrickMode(true)
	assert.True(t, c.TrickMode())
}

func TestOMX_ReappliesScaleWhenRunning(t *testing.T) {
	core := omxsim.New()
	c := newClock(t, core)
	h := core.HandleOf(omx.KindClock)

	ren := omx.NewComponent(core)
	require.NoError(t, ren.Create(omx.KindAudioRenderer))
	t.Cleanup(ren.Destroy)
	require.NoError(t, c.Connect(omx.PortClockAudio, ren, ren.ClockPort()))

	require.NoError(t, c.SetPlaybackRate(NormalPlaybackRate))
	require.NoError(t, c.SetWaitingForStartTime(WaitAudio))
	// the stage drifted away from the requested scale
	require.NoError(t, h.SetConfig(&omx.TimeScale{Scale: 0x4000}))

	h.Inject(omx.Callback{
		Kind:  omx.CallbackEvent,
		Event: omx.EventClockStateChanged,
		Data:  &omx.ClockUpdate{State: omx.ClockRunning, Scale: 0x4000},
	})
	assert.Eventually(t, func() bool { return h.Scale() == 0x10000 }, time.Second, time.Millisecond)
}
