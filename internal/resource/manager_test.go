package resource

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/jmylchreest/esplayer/internal/codec"
	"github.com/jmylchreest/esplayer/internal/config"
	"github.com/jmylchreest/esplayer/internal/database"
	"github.com/jmylchreest/esplayer/internal/models"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(context.Background(), config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      ":memory:",
		LogLevel: "silent",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db.DB
}

func setupManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m := NewManager(setupDB(t), cfg)
	t.Cleanup(m.Wait)
	return m
}

func avRequest() Request {
	return Request{
		Video: VideoRequest{Codec: codec.VideoH264, Width: 1920, Height: 1080, Framerate: 30},
		Audio: AudioRequest{Codec: codec.AudioAAC, Channels: 2},
	}
}

func TestNewRequestor(t *testing.T) {
	m := setupManager(t, DefaultConfig())
	ctx := context.Background()

	r, err := m.NewRequestor(ctx, "app.one")
	require.NoError(t, err)
	assert.Len(t, r.ConnectionID(), ConnectionIDLength)

	row, err := m.Store().Get(ctx, r.ConnectionID())
	require.NoError(t, err)
	assert.Equal(t, models.SessionIdle, row.State)
	assert.Equal(t, "app.one", row.AppID)
	assert.True(t, row.Foreground)
	assert.Equal(t, int32(-1), row.PlaneID)

	other, err := m.NewRequestor(ctx, "app.two")
	require.NoError(t, err)
	assert.NotEqual(t, r.ConnectionID(), other.ConnectionID())
}

func TestAcquireResources(t *testing.T) {
	m := setupManager(t, DefaultConfig())
	ctx := context.Background()

	r, err := m.NewRequestor(ctx, "app")
	require.NoError(t, err)

	var plane atomic.Int32
	plane.Store(-2)
	r.RegisterPlaneIDCallback(func(p int32) bool {
		plane.Store(p)
		return true
	})

	ports, err := r.AcquireResources(ctx, avRequest())
	require.NoError(t, err)
	assert.Equal(t, PortResources{
		{Resource: "VDEC0", Index: 0},
		{Resource: "DISP0", Index: 0},
		{Resource: "ADEC0", Index: 0},
	}, ports)
	assert.Equal(t, int32(0), plane.Load())

	row, err := m.Store().Get(ctx, r.ConnectionID())
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, row.State)
	assert.Equal(t, "h264", row.VideoCodec)
	assert.Equal(t, "aac", row.AudioCodec)
	assert.Equal(t, 1, row.VideoSlots)
	assert.Equal(t, 1, row.AudioSlots)
	assert.Equal(t, 1920, row.VideoWidth)
	assert.True(t, row.Holds())
}

func TestAcquireResources_AudioOnly(t *testing.T) {
	m := setupManager(t, DefaultConfig())
	ctx := context.Background()

	r, err := m.NewRequestor(ctx, "radio")
	require.NoError(t, err)

	called := false
	r.RegisterPlaneIDCallback(func(int32) bool {
		called = true
		return true
	})

	ports, err := r.AcquireResources(ctx, Request{Audio: AudioRequest{Codec: codec.AudioMP3}})
	require.NoError(t, err)
	assert.Equal(t, PortResources{{Resource: "ADEC0", Index: 0}}, ports)
	assert.False(t, called, "no plane without video")

	_, ok := ports.Index(ResourceVideoDecoder + "0")
	assert.False(t, ok)

	row, err := m.Store().Get(ctx, r.ConnectionID())
	require.NoError(t, err)
	assert.Empty(t, row.VideoCodec)
	assert.Equal(t, int32(-1), row.PlaneID)
}

func TestAcquireResources_SlotsExhausted(t *testing.T) {
	m := setupManager(t, DefaultConfig())
	ctx := context.Background()

	first, err := m.NewRequestor(ctx, "first")
	require.NoError(t, err)
	_, err = first.AcquireResources(ctx, avRequest())
	require.NoError(t, err)

	// Both sessions are foreground, so nothing can be revoked.
	second, err := m.NewRequestor(ctx, "second")
	require.NoError(t, err)
	_, err = second.AcquireResources(ctx, avRequest())
	assert.ErrorIs(t, err, ErrNotAcquired)

	row, err := m.Store().Get(ctx, second.ConnectionID())
	require.NoError(t, err)
	assert.Equal(t, models.SessionIdle, row.State)
}

func TestAcquireResources_TwoSlots(t *testing.T) {
	m := setupManager(t, Config{MaxVideoDecoders: 2, MaxAudioDecoders: 2})
	ctx := context.Background()

	first, err := m.NewRequestor(ctx, "first")
	require.NoError(t, err)
	_, err = first.AcquireResources(ctx, avRequest())
	require.NoError(t, err)

	second, err := m.NewRequestor(ctx, "second")
	require.NoError(t, err)
	ports, err := second.AcquireResources(ctx, avRequest())
	require.NoError(t, err)

	idx, ok := ports.Index("VDEC1")
	require.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestAcquireResources_ForegroundRevokesBackground(t *testing.T) {
	m := setupManager(t, DefaultConfig())
	ctx := context.Background()

	bg, err := m.NewRequestor(ctx, "background")
	require.NoError(t, err)
	var revoked atomic.Bool
	bg.RegisterPolicyActionCallback(func() {
		revoked.Store(true)
		// The player unloads from its callback; a release after revocation
		// has nothing left to give back.
		assert.NoError(t, bg.ReleaseResource(context.Background()))
	})
	_, err = bg.AcquireResources(ctx, avRequest())
	require.NoError(t, err)
	require.NoError(t, bg.NotifyBackground())

	fg, err := m.NewRequestor(ctx, "foreground")
	require.NoError(t, err)
	ports, err := fg.AcquireResources(ctx, avRequest())
	require.NoError(t, err)
	assert.Len(t, ports, 3)

	assert.Eventually(t, revoked.Load, time.Second, 10*time.Millisecond)
	m.Wait()

	row, err := m.Store().Get(ctx, bg.ConnectionID())
	require.NoError(t, err)
	assert.Equal(t, models.SessionRevoked, row.State)
	assert.False(t, row.Holds())
	assert.NotNil(t, row.ReleasedAt)

	snap, ok := m.Snapshot(bg.ConnectionID())
	require.True(t, ok)
	assert.Equal(t, -1, snap.VideoSlot)
	assert.False(t, snap.Foreground)
}

func TestAcquireResources_PolicyDisallowed(t *testing.T) {
	m := setupManager(t, DefaultConfig())
	ctx := context.Background()

	bg, err := m.NewRequestor(ctx, "pinned")
	require.NoError(t, err)
	_, err = bg.AcquireResources(ctx, avRequest())
	require.NoError(t, err)
	require.NoError(t, bg.NotifyBackground())
	bg.AllowPolicyAction(false)

	fg, err := m.NewRequestor(ctx, "foreground")
	require.NoError(t, err)
	_, err = fg.AcquireResources(ctx, avRequest())
	assert.ErrorIs(t, err, ErrNotAcquired)
}

func TestReleaseResource(t *testing.T) {
	m := setupManager(t, DefaultConfig())
	ctx := context.Background()

	r, err := m.NewRequestor(ctx, "app")
	require.NoError(t, err)

	// Nothing held yet.
	require.NoError(t, r.ReleaseResource(ctx))
	row, err := m.Store().Get(ctx, r.ConnectionID())
	require.NoError(t, err)
	assert.Equal(t, models.SessionIdle, row.State)

	_, err = r.AcquireResources(ctx, avRequest())
	require.NoError(t, err)
	require.NoError(t, r.ReleaseResource(ctx))
	require.NoError(t, r.ReleaseResource(ctx))

	row, err = m.Store().Get(ctx, r.ConnectionID())
	require.NoError(t, err)
	assert.Equal(t, models.SessionReleased, row.State)
	assert.False(t, row.Holds())
	require.NotNil(t, row.ReleasedAt)

	// The slots are free for the next requestor.
	next, err := m.NewRequestor(ctx, "next")
	require.NoError(t, err)
	_, err = next.AcquireResources(ctx, avRequest())
	assert.NoError(t, err)
}

func TestSessionNotifications(t *testing.T) {
	m := setupManager(t, DefaultConfig())
	ctx := context.Background()

	r, err := m.NewRequestor(ctx, "app")
	require.NoError(t, err)
	_, err = r.AcquireResources(ctx, avRequest())
	require.NoError(t, err)

	require.NoError(t, r.MediaContentReady(true))
	require.NoError(t, r.SetVideoInfo(VideoInfo{Width: 1280, Height: 720, FrameRate: 25}))
	require.NoError(t, r.MuteAudio(true))
	require.NoError(t, r.MuteVideo(true))
	require.NoError(t, r.EndOfStream())
	require.NoError(t, r.NotifyActivity())

	row, err := m.Store().Get(ctx, r.ConnectionID())
	require.NoError(t, err)
	assert.True(t, row.ContentReady)
	assert.True(t, row.EndOfStream)
	assert.True(t, row.AudioMuted)
	assert.True(t, row.VideoMuted)
	assert.Equal(t, 1280, row.VideoWidth)
	assert.Equal(t, 720, row.VideoHeight)

	require.NoError(t, r.MuteAudio(false))
	row, err = m.Store().Get(ctx, r.ConnectionID())
	require.NoError(t, err)
	assert.False(t, row.AudioMuted)
}

func TestSessionForeground(t *testing.T) {
	m := setupManager(t, DefaultConfig())
	ctx := context.Background()

	r, err := m.NewRequestor(ctx, "app")
	require.NoError(t, err)

	require.NoError(t, r.NotifyBackground())
	row, err := m.Store().Get(ctx, r.ConnectionID())
	require.NoError(t, err)
	assert.False(t, row.Foreground)

	require.NoError(t, r.NotifyForeground())
	row, err = m.Store().Get(ctx, r.ConnectionID())
	require.NoError(t, err)
	assert.True(t, row.Foreground)
}

func TestSnapshot(t *testing.T) {
	m := setupManager(t, DefaultConfig())
	ctx := context.Background()

	r, err := m.NewRequestor(ctx, "app")
	require.NoError(t, err)

	require.NoError(t, r.DisableScreenSaver())
	dst := Window{Left: 10, Top: 20, Width: 640, Height: 360}
	require.NoError(t, r.SetVideoDisplayWindow(dst, false))

	snap, ok := m.Snapshot(r.ConnectionID())
	require.True(t, ok)
	assert.Equal(t, "app", snap.AppID)
	assert.False(t, snap.ScreenSaver)
	assert.Equal(t, dst, snap.Display)
	assert.Nil(t, snap.Crop)

	src := Window{Width: 320, Height: 180}
	require.NoError(t, r.SetVideoCustomDisplayWindow(src, dst, true))
	snap, _ = m.Snapshot(r.ConnectionID())
	require.NotNil(t, snap.Crop)
	assert.Equal(t, src, *snap.Crop)
	assert.True(t, snap.Fullscreen)

	_, ok = m.Snapshot("missing")
	assert.False(t, ok)
}

func TestUsage(t *testing.T) {
	m := setupManager(t, Config{MaxVideoDecoders: 2, MaxAudioDecoders: 1})
	ctx := context.Background()

	assert.Equal(t, Usage{VideoSlotsMax: 2, AudioSlotsMax: 1}, m.Usage())

	r, err := m.NewRequestor(ctx, "app")
	require.NoError(t, err)
	_, err = r.AcquireResources(ctx, avRequest())
	require.NoError(t, err)
	_, err = m.NewRequestor(ctx, "idle")
	require.NoError(t, err)

	assert.Equal(t, Usage{
		VideoSlots: 1, VideoSlotsMax: 2,
		AudioSlots: 1, AudioSlotsMax: 1,
		Sessions: 2,
	}, m.Usage())

	require.NoError(t, r.ReleaseResource(ctx))
	u := m.Usage()
	assert.Zero(t, u.VideoSlots)
	assert.Zero(t, u.AudioSlots)
}
