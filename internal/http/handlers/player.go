package handlers

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/esplayer/internal/ingest"
	"github.com/jmylchreest/esplayer/internal/observability"
	"github.com/jmylchreest/esplayer/internal/player"
)

// PlayerController is the player surface exposed over HTTP.
// *player.Player implements it.
type PlayerController interface {
	Status() player.State
	Loaded() bool
	SyncState() player.SyncState
	ConnectionID() string
	PlaybackRate() int
	FrameCount() int64
	MediaTime() (start, current int64, err error)
	BufferLevel(s player.Stream) (int, error)
	QueueLen(s player.Stream) int
	VideoInfo() player.VideoInfo

	Play() error
	Pause() error
	Flush() error
	StepFrame() error
	SetPlaybackRate(rate int) error
	SetVolume(volume, easeMs int, ease player.EaseType) error
}

var _ PlayerController = (*player.Player)(nil)

// PlayerHandler handles player control endpoints.
type PlayerHandler struct {
	player    PlayerController
	feedStats func() ingest.FeederStats
}

// NewPlayerHandler creates a handler controlling p.
func NewPlayerHandler(p PlayerController) *PlayerHandler {
	return &PlayerHandler{player: p}
}

// WithFeedStats reports the feeder's counters in the player status.
func (h *PlayerHandler) WithFeedStats(fn func() ingest.FeederStats) *PlayerHandler {
	h.feedStats = fn
	return h
}

// GetPlayerInput is the input for the player status endpoint.
type GetPlayerInput struct{}

// GetPlayerOutput is the output for the player status endpoint.
type GetPlayerOutput struct {
	Body PlayerStatus
}

// PlayerActionInput selects a transport control.
type PlayerActionInput struct {
	Action string `path:"action" enum:"play,pause,flush,step" doc:"Transport control to apply"`
}

// PlayerActionOutput returns the player state after the action.
type PlayerActionOutput struct {
	Body PlayerStatus
}

// SetRateInput is the input for changing the playback rate.
type SetRateInput struct {
	Body struct {
		Rate int `json:"rate" minimum:"0" doc:"Rate in thousandths of normal speed"`
	}
}

// SetVolumeInput is the input for changing the volume.
type SetVolumeInput struct {
	Body struct {
		Volume int    `json:"volume" minimum:"0" maximum:"100"`
		EaseMs int    `json:"ease_ms,omitempty" minimum:"0"`
		Ease   string `json:"ease,omitempty" enum:"linear,in_cubic,out_cubic" default:"linear"`
	}
}

// Register registers the player routes with the API.
func (h *PlayerHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getPlayer",
		Method:      "GET",
		Path:        "/api/v1/player",
		Summary:     "Get player status",
		Description: "Returns state, sync state, buffer levels, media time and video info",
		Tags:        []string{"Player"},
	}, h.GetPlayer)

	huma.Register(api, huma.Operation{
		OperationID: "playerAction",
		Method:      "POST",
		Path:        "/api/v1/player/{action}",
		Summary:     "Apply a transport control",
		Tags:        []string{"Player"},
	}, h.Action)

	huma.Register(api, huma.Operation{
		OperationID: "setPlaybackRate",
		Method:      "PUT",
		Path:        "/api/v1/player/rate",
		Summary:     "Set playback rate",
		Tags:        []string{"Player"},
	}, h.SetRate)

	huma.Register(api, huma.Operation{
		OperationID: "setVolume",
		Method:      "PUT",
		Path:        "/api/v1/player/volume",
		Summary:     "Set volume",
		Tags:        []string{"Player"},
	}, h.SetVolume)
}

// GetPlayer returns the player status.
func (h *PlayerHandler) GetPlayer(_ context.Context, _ *GetPlayerInput) (*GetPlayerOutput, error) {
	return &GetPlayerOutput{Body: h.status()}, nil
}

// Action applies play, pause, flush or step.
func (h *PlayerHandler) Action(ctx context.Context, input *PlayerActionInput) (*PlayerActionOutput, error) {
	var err error
	switch input.Action {
	case "play":
		err = h.player.Play()
	case "pause":
		err = h.player.Pause()
	case "flush":
		err = h.player.Flush()
	case "step":
		err = h.player.StepFrame()
	default:
		return nil, huma.Error400BadRequest(fmt.Sprintf("unknown action %q", input.Action))
	}
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("player action failed",
			"action", input.Action, observability.KeyError, err.Error())
		return nil, playerError(err)
	}
	return &PlayerActionOutput{Body: h.status()}, nil
}

// SetRate changes the playback rate.
func (h *PlayerHandler) SetRate(_ context.Context, input *SetRateInput) (*GetPlayerOutput, error) {
	if err := h.player.SetPlaybackRate(input.Body.Rate); err != nil {
		return nil, playerError(err)
	}
	return &GetPlayerOutput{Body: h.status()}, nil
}

// SetVolume changes the audio volume.
func (h *PlayerHandler) SetVolume(_ context.Context, input *SetVolumeInput) (*GetPlayerOutput, error) {
	ease := player.EaseLinear
	switch input.Body.Ease {
	case "in_cubic":
		ease = player.EaseInCubic
	case "out_cubic":
		ease = player.EaseOutCubic
	}
	if err := h.player.SetVolume(input.Body.Volume, input.Body.EaseMs, ease); err != nil {
		return nil, playerError(err)
	}
	return &GetPlayerOutput{Body: h.status()}, nil
}

func (h *PlayerHandler) status() PlayerStatus {
	p := h.player
	st := PlayerStatus{
		State:        p.Status(),
		Loaded:       p.Loaded(),
		SyncState:    p.SyncState(),
		ConnectionID: p.ConnectionID(),
		PlaybackRate: p.PlaybackRate(),
		FrameCount:   p.FrameCount(),
		StartTime:    -1,
		MediaTime:    -1,
		VideoInfo:    p.VideoInfo(),
		Queued: QueueLengths{
			Video: p.QueueLen(player.StreamVideo),
			Audio: p.QueueLen(player.StreamAudio),
		},
	}
	if start, cur, err := p.MediaTime(); err == nil {
		st.StartTime, st.MediaTime = start, cur
	}
	st.BufferLevels.Video = levelOrNone(p.BufferLevel(player.StreamVideo))
	st.BufferLevels.Audio = levelOrNone(p.BufferLevel(player.StreamAudio))
	if h.feedStats != nil {
		stats := h.feedStats()
		st.Feed = &stats
	}
	return st
}

func levelOrNone(n int, err error) int {
	if err != nil {
		return -1
	}
	return n
}

// playerError maps a player status to an HTTP error.
func playerError(err error) error {
	code := player.CodeOf(err)
	msg := fmt.Sprintf("%s (code %d)", err.Error(), int(code))
	switch code {
	case player.ErrFeedInvalidInput:
		return huma.Error400BadRequest(msg)
	case player.ErrFail, player.ErrFeedInvalidState, player.ErrSetState:
		return huma.Error409Conflict(msg)
	default:
		return huma.Error500InternalServerError(msg)
	}
}
