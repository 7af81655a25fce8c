package models

import (
	"fmt"
	"time"
)

// SessionState is the lifecycle state of a resource session.
type SessionState string

// Session states.
const (
	// SessionIdle has registered but holds no decoders.
	SessionIdle SessionState = "idle"
	// SessionActive holds at least one decoder slot.
	SessionActive SessionState = "active"
	// SessionReleased gave its decoders back.
	SessionReleased SessionState = "released"
	// SessionRevoked lost its decoders to a foreground session.
	SessionRevoked SessionState = "revoked"
)

// Terminal reports whether the session can be pruned.
func (s SessionState) Terminal() bool {
	return s == SessionReleased || s == SessionRevoked
}

// Session is one player's registration with the resource manager.
type Session struct {
	Model

	ConnectionID string       `gorm:"uniqueIndex;size:16;not null" json:"connection_id"`
	AppID        string       `gorm:"size:255;index" json:"app_id"`
	State        SessionState `gorm:"size:16;index;not null;default:idle" json:"state"`
	Foreground   bool         `gorm:"not null" json:"foreground"`

	VideoCodec  string `gorm:"size:32" json:"video_codec,omitempty"`
	AudioCodec  string `gorm:"size:32" json:"audio_codec,omitempty"`
	VideoSlots  int    `gorm:"not null" json:"video_slots"`
	AudioSlots  int    `gorm:"not null" json:"audio_slots"`
	PlaneID     int32  `gorm:"not null" json:"plane_id"`
	VideoWidth  int    `json:"video_width,omitempty"`
	VideoHeight int    `json:"video_height,omitempty"`

	ContentReady bool `gorm:"not null" json:"content_ready"`
	EndOfStream  bool `gorm:"not null" json:"end_of_stream"`
	AudioMuted   bool `gorm:"not null" json:"audio_muted"`
	VideoMuted   bool `gorm:"not null" json:"video_muted"`

	LastActivityAt time.Time  `gorm:"index" json:"last_activity_at"`
	ReleasedAt     *time.Time `gorm:"index" json:"released_at,omitempty"`
}

// TableName returns the table name for Session.
func (Session) TableName() string {
	return "sessions"
}

// Validate checks a session before it is stored.
func (s *Session) Validate() error {
	if len(s.ConnectionID) != 16 {
		return fmt.Errorf("session: connection id must be 16 characters, got %d", len(s.ConnectionID))
	}
	switch s.State {
	case SessionIdle, SessionActive, SessionReleased, SessionRevoked:
	default:
		return fmt.Errorf("session: unknown state %q", s.State)
	}
	if s.VideoSlots < 0 || s.AudioSlots < 0 {
		return fmt.Errorf("session: negative slot count")
	}
	return nil
}

// Holds reports whether the session holds any decoder slot.
func (s *Session) Holds() bool {
	return s.VideoSlots > 0 || s.AudioSlots > 0
}
