package handlers

import (
	"time"

	"github.com/jmylchreest/esplayer/internal/ingest"
	"github.com/jmylchreest/esplayer/internal/models"
	"github.com/jmylchreest/esplayer/internal/player"
	"github.com/jmylchreest/esplayer/internal/resource"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string          `json:"status" doc:"healthy, or degraded when the database is unreachable"`
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	Uptime        string          `json:"uptime"`
	UptimeSeconds float64         `json:"uptime_seconds"`
	CPUInfo       CPUInfo         `json:"cpu_info"`
	Memory        MemoryInfo      `json:"memory"`
	Database      DatabaseHealth  `json:"database"`
	Player        *player.State   `json:"player,omitempty" doc:"Player state when a player is attached"`
	Resources     *resource.Usage `json:"resources,omitempty" doc:"Decoder slots in use"`
}

// CPUInfo contains CPU load information.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo contains system and process memory usage.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	ProcessMB         float64 `json:"process_mb"`
	ProcessPercentage float64 `json:"process_percentage"`
	ProcessThreads    int     `json:"process_threads"`
	Goroutines        int     `json:"goroutines"`
}

// DatabaseHealth reports the session database.
type DatabaseHealth struct {
	Status          string  `json:"status"`
	OpenConnections int     `json:"open_connections"`
	InUse           int     `json:"in_use"`
	ResponseTimeMS  float64 `json:"response_time_ms"`
}

// BufferLevels are the decoder input buffers in use per stream. A stream
// without a decoder reports -1.
type BufferLevels struct {
	Video int `json:"video"`
	Audio int `json:"audio"`
}

// QueueLengths are the client buffers waiting to be written per stream.
type QueueLengths struct {
	Video int `json:"video"`
	Audio int `json:"audio"`
}

// PlayerStatus is the body of GET /api/v1/player.
type PlayerStatus struct {
	State        player.State        `json:"state"`
	Loaded       bool                `json:"loaded"`
	SyncState    player.SyncState    `json:"sync_state"`
	ConnectionID string              `json:"connection_id"`
	PlaybackRate int                 `json:"playback_rate" doc:"Rate in thousandths of normal speed"`
	FrameCount   int64               `json:"frame_count"`
	StartTime    int64               `json:"start_time" doc:"Clock start media time, -1 when unavailable"`
	MediaTime    int64               `json:"media_time" doc:"Current media time, -1 when unavailable"`
	BufferLevels BufferLevels        `json:"buffer_levels"`
	Queued       QueueLengths        `json:"queued"`
	VideoInfo    player.VideoInfo    `json:"video_info"`
	Feed         *ingest.FeederStats `json:"feed,omitempty"`
}

// SessionResponse is one resource session.
type SessionResponse struct {
	ID             string              `json:"id"`
	ConnectionID   string              `json:"connection_id"`
	AppID          string              `json:"app_id"`
	State          models.SessionState `json:"state"`
	Foreground     bool                `json:"foreground"`
	VideoCodec     string              `json:"video_codec,omitempty"`
	AudioCodec     string              `json:"audio_codec,omitempty"`
	VideoSlots     int                 `json:"video_slots"`
	AudioSlots     int                 `json:"audio_slots"`
	PlaneID        int32               `json:"plane_id"`
	VideoWidth     int                 `json:"video_width,omitempty"`
	VideoHeight    int                 `json:"video_height,omitempty"`
	ContentReady   bool                `json:"content_ready"`
	EndOfStream    bool                `json:"end_of_stream"`
	AudioMuted     bool                `json:"audio_muted"`
	VideoMuted     bool                `json:"video_muted"`
	CreatedAt      time.Time           `json:"created_at"`
	LastActivityAt time.Time           `json:"last_activity_at"`
	ReleasedAt     *time.Time          `json:"released_at,omitempty"`
	Live           *resource.Snapshot  `json:"live,omitempty" doc:"In-memory state while the session is registered"`
}

// SessionFromModel converts a stored session to a response.
func SessionFromModel(s *models.Session) SessionResponse {
	return SessionResponse{
		ID:             s.ID.String(),
		ConnectionID:   s.ConnectionID,
		AppID:          s.AppID,
		State:          s.State,
		Foreground:     s.Foreground,
		VideoCodec:     s.VideoCodec,
		AudioCodec:     s.AudioCodec,
		VideoSlots:     s.VideoSlots,
		AudioSlots:     s.AudioSlots,
		PlaneID:        s.PlaneID,
		VideoWidth:     s.VideoWidth,
		VideoHeight:    s.VideoHeight,
		ContentReady:   s.ContentReady,
		EndOfStream:    s.EndOfStream,
		AudioMuted:     s.AudioMuted,
		VideoMuted:     s.VideoMuted,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
		ReleasedAt:     s.ReleasedAt,
	}
}
