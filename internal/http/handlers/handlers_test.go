package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/esplayer/internal/codec"
	"github.com/jmylchreest/esplayer/internal/config"
	"github.com/jmylchreest/esplayer/internal/database"
	"github.com/jmylchreest/esplayer/internal/ingest"
	"github.com/jmylchreest/esplayer/internal/player"
	"github.com/jmylchreest/esplayer/internal/resource"
)

func openDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(context.Background(), config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      ":memory:",
		LogLevel: "silent",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v))
	return v
}

func TestHealthHandler_GetHealth(t *testing.T) {
	handler := NewHealthHandler()

	output, err := handler.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)
	assert.Equal(t, "healthy", output.Body.Status)
	assert.NotEmpty(t, output.Body.Version)
	assert.NotEmpty(t, output.Body.Uptime)
	assert.NotZero(t, output.Body.CPUInfo.Cores)
	assert.Positive(t, output.Body.Memory.Goroutines)
	assert.Equal(t, "not_configured", output.Body.Database.Status)
}

func TestHealthHandler_WithDB(t *testing.T) {
	db := openDB(t)
	_, api := humatest.New(t)
	NewHealthHandler().WithDB(db.DB).Register(api)

	resp := api.Get("/health")
	require.Equal(t, http.StatusOK, resp.Code)

	body := decode[HealthResponse](t, resp.Body.Bytes())
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "ok", body.Database.Status)
}

func TestHealthHandler_PlayerAndResources(t *testing.T) {
	db := openDB(t)
	m := resource.NewManager(db.DB, resource.DefaultConfig())
	r, err := m.NewRequestor(context.Background(), "app.health")
	require.NoError(t, err)
	_, err = r.AcquireResources(context.Background(), resource.Request{
		Video: resource.VideoRequest{Codec: codec.VideoH264, Width: 1920, Height: 1080},
	})
	require.NoError(t, err)

	_, api := humatest.New(t)
	NewHealthHandler().
		WithPlayer(func() player.State { return player.StatePlaying }).
		WithResources(m.Usage).
		Register(api)

	resp := api.Get("/health")
	require.Equal(t, http.StatusOK, resp.Code)

	body := decode[map[string]any](t, resp.Body.Bytes())
	assert.Equal(t, "playing", body["player"])
	res := body["resources"].(map[string]any)
	assert.EqualValues(t, 1, res["video_slots"])
	assert.EqualValues(t, 1, res["sessions"])
}

// fakePlayer records transport controls.
type fakePlayer struct {
	state   player.State
	rate    int
	volume  int
	ease    player.EaseType
	calls   []string
	failErr error
}

func (f *fakePlayer) Status() player.State { return f.state }
func (f *fakePlayer) Loaded() bool { return f.state != player.StateIdle }
func (f *fakePlayer) SyncState() player.SyncState { return player.SyncAllow }
func (f *fakePlayer) ConnectionID() string { return "0123456789abcdef" }
func (f *fakePlayer) PlaybackRate() int { return f.rate }
func (f *fakePlayer) FrameCount() int64 { return 42 }
func (f *fakePlayer) QueueLen(player.Stream) int { return 3 }
func (f *fakePlayer) VideoInfo() player.VideoInfo { return player.VideoInfo{Width: 1280, Height: 720} }
func (f *fakePlayer) MediaTime() (int64, int64, error) {
	return 0, 90000, nil
}

func (f *fakePlayer) BufferLevel(s player.Stream) (int, error) {
	if s == player.StreamAudio {
		return 0, player.ErrFail
	}
	return 7, nil
}

func (f *fakePlayer) do(name string, next player.State) error {
	f.calls = append(f.calls, name)
	if f.failErr != nil {
		return f.failErr
	}
	f.state = next
	return nil
}

func (f *fakePlayer) Play() error { return f.do("play", player.StatePlaying) }
func (f *fakePlayer) Pause() error { return f.do("pause", player.StatePaused) }
func (f *fakePlayer) Flush() error { return f.do("flush", f.state) }
func (f *fakePlayer) StepFrame() error { return f.do("step", f.state) }

func (f *fakePlayer) SetPlaybackRate(rate int) error {
	f.rate = rate
	return nil
}

func (f *fakePlayer) SetVolume(volume, _ int, ease player.EaseType) error {
	f.volume, f.ease = volume, ease
	return nil
}

func TestPlayerHandler_GetPlayer(t *testing.T) {
	fp := &fakePlayer{state: player.StateLoaded, rate: 1000}
	_, api := humatest.New(t)
	NewPlayerHandler(fp).
		WithFeedStats(func() ingest.FeederStats { return ingest.FeederStats{VideoBuffers: 5} }).
		Register(api)

	resp := api.Get("/api/v1/player")
	require.Equal(t, http.StatusOK, resp.Code)

	body := decode[map[string]any](t, resp.Body.Bytes())
	assert.Equal(t, "loaded", body["state"])
	assert.Equal(t, "allow", body["sync_state"])
	assert.Equal(t, "0123456789abcdef", body["connection_id"])
	assert.EqualValues(t, 90000, body["media_time"])

	levels := body["buffer_levels"].(map[string]any)
	assert.EqualValues(t, 7, levels["video"])
	assert.EqualValues(t, -1, levels["audio"])

	feed := body["feed"].(map[string]any)
	assert.EqualValues(t, 5, feed["video_buffers"])
}

func TestPlayerHandler_Actions(t *testing.T) {
	fp := &fakePlayer{state: player.StateLoaded}
	_, api := humatest.New(t)
	NewPlayerHandler(fp).Register(api)

	for _, action := range []string{"play", "pause", "step", "flush"} {
		resp := api.Post("/api/v1/player/" + action)
		assert.Equal(t, http.StatusOK, resp.Code, action)
	}
	assert.Equal(t, []string{"play", "pause", "step", "flush"}, fp.calls)
	assert.Equal(t, player.StatePaused, fp.state)

	resp := api.Post("/api/v1/player/rewind")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestPlayerHandler_ActionErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"wrong state", player.ErrFail, http.StatusConflict},
		{"invalid input", player.ErrFeedInvalidInput, http.StatusBadRequest},
		{"component failure", player.ErrVideoState, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, api := humatest.New(t)
			NewPlayerHandler(&fakePlayer{failErr: tt.err}).Register(api)

			resp := api.Post("/api/v1/player/play")
			assert.Equal(t, tt.status, resp.Code)
		})
	}
}

func TestPlayerHandler_RateAndVolume(t *testing.T) {
	fp := &fakePlayer{state: player.StatePlaying, rate: 1000}
	_, api := humatest.New(t)
	NewPlayerHandler(fp).Register(api)

	resp := api.Put("/api/v1/player/rate", map[string]any{"rate": 2000})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 2000, fp.rate)

	resp = api.Put("/api/v1/player/volume", map[string]any{"volume": 40, "ease_ms": 200, "ease": "out_cubic"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 40, fp.volume)
	assert.Equal(t, player.EaseOutCubic, fp.ease)

	resp = api.Put("/api/v1/player/volume", map[string]any{"volume": 140})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestSessionHandler(t *testing.T) {
	db := openDB(t)
	m := resource.NewManager(db.DB, resource.DefaultConfig())
	ctx := context.Background()

	active, err := m.NewRequestor(ctx, "app.active")
	require.NoError(t, err)
	_, err = active.AcquireResources(ctx, resource.Request{
		Video: resource.VideoRequest{Codec: codec.VideoH264, Width: 1280, Height: 720},
	})
	require.NoError(t, err)

	_, err = m.NewRequestor(ctx, "app.idle")
	require.NoError(t, err)

	_, api := humatest.New(t)
	NewSessionHandler(m).Register(api)

	resp := api.Get("/api/v1/sessions")
	require.Equal(t, http.StatusOK, resp.Code)
	list := decode[struct {
		Sessions []SessionResponse `json:"sessions"`
		Count    int               `json:"count"`
	}](t, resp.Body.Bytes())
	assert.Equal(t, 2, list.Count)

	resp = api.Get("/api/v1/sessions?state=active")
	require.Equal(t, http.StatusOK, resp.Code)
	list = decode[struct {
		Sessions []SessionResponse `json:"sessions"`
		Count    int               `json:"count"`
	}](t, resp.Body.Bytes())
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "app.active", list.Sessions[0].AppID)
	assert.Equal(t, 1, list.Sessions[0].VideoSlots)
	require.NotNil(t, list.Sessions[0].Live)
	assert.Equal(t, 0, list.Sessions[0].Live.VideoSlot)

	resp = api.Get("/api/v1/sessions/" + active.ConnectionID())
	require.Equal(t, http.StatusOK, resp.Code)
	one := decode[SessionResponse](t, resp.Body.Bytes())
	assert.Equal(t, active.ConnectionID(), one.ConnectionID)

	resp = api.Get("/api/v1/sessions/ffffffffffffffff")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}
