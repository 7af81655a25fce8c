package player

import (
	"time"

	"github.com/jmylchreest/esplayer/internal/clock"
	"github.com/jmylchreest/esplayer/internal/looper"
	"github.com/jmylchreest/esplayer/internal/omx"
)

// DefaultAudioDestination is the renderer output used when none is set.
const DefaultAudioDestination = "hdmi"

// Config holds the player's settings.
type Config struct {
	AppID            string
	PTSUnit          PTSUnit
	PlaybackRate     int
	TrickMode        bool
	AudioDestination string

	// RetryBackoff is how long a stalled feed task sleeps before retrying.
	RetryBackoff       time.Duration
	QueueWarnThreshold int

	Component omx.Config
	Clock     clock.Config
	Sync      SyncConfig
}

// DefaultConfig returns a Config with the stock timeouts, buffer geometry
// and sync thresholds.
func DefaultConfig() Config {
	comp := omx.DefaultConfig()
	return Config{
		PTSUnit:            PTSTicks,
		PlaybackRate:       clock.NormalPlaybackRate,
		AudioDestination:   DefaultAudioDestination,
		RetryBackoff:       looper.DefaultRetryBackoff,
		QueueWarnThreshold: looper.DefaultWarnThreshold,
		Component:          comp,
		Clock: clock.Config{
			Preroll:   clock.DefaultPreroll,
			Component: comp,
		},
		Sync: DefaultSyncConfig(),
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.PlaybackRate <= 0 {
		c.PlaybackRate = def.PlaybackRate
	}
	if c.AudioDestination == "" {
		c.AudioDestination = def.AudioDestination
	}
	if c.Component.StateTimeout <= 0 {
		c.Component = def.Component
	}
	if c.Clock.Component.StateTimeout <= 0 {
		c.Clock.Component = c.Component
	}
	if c.Sync == (SyncConfig{}) {
		c.Sync = def.Sync
	}
}
