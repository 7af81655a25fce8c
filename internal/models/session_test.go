package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSession_Validate(t *testing.T) {
	valid := func() *Session {
		return &Session{ConnectionID: "0123456789abcdef", State: SessionIdle}
	}

	tests := []struct {
		name    string
		mutate  func(*Session)
		wantErr bool
	}{
		{"valid", func(*Session) {}, false},
		{"short connection id", func(s *Session) { s.ConnectionID = "abc" }, true},
		{"unknown state", func(s *Session) { s.State = "paused" }, true},
		{"negative slots", func(s *Session) { s.VideoSlots = -1 }, true},
		{"active", func(s *Session) { s.State = SessionActive; s.VideoSlots = 1 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			if tt.wantErr {
				assert.Error(t, s.Validate())
			} else {
				assert.NoError(t, s.Validate())
			}
		})
	}
}

func TestSessionState_Terminal(t *testing.T) {
	assert.False(t, SessionIdle.Terminal())
	assert.False(t, SessionActive.Terminal())
	assert.True(t, SessionReleased.Terminal())
	assert.True(t, SessionRevoked.Terminal())
}

func TestSession_Holds(t *testing.T) {
	s := &Session{}
	assert.False(t, s.Holds())
	s.AudioSlots = 1
	assert.True(t, s.Holds())
	assert.Equal(t, "sessions", s.TableName())
}
