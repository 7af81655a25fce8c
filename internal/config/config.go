// Package config provides configuration management for esplayer using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort       = 8090
	defaultServerTimeout    = 30 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultPlaybackRate     = 1000
	defaultRetryBackoff     = 100 * time.Millisecond
	defaultQueueWarn        = 50
	defaultEventQueueSize   = 64
	defaultStateTimeout     = 3 * time.Second
	defaultFreeBufferWait   = time.Second
	defaultPreroll          = 200 * time.Millisecond
	defaultSessionRetention = 24 * time.Hour
	defaultPruneSchedule    = "0 */10 * * * *"
)

// Config holds all configuration for the application.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Player    PlayerConfig    `mapstructure:"player" yaml:"player"`
	Looper    LooperConfig    `mapstructure:"looper" yaml:"looper"`
	Component ComponentConfig `mapstructure:"component" yaml:"component"`
	Clock     ClockConfig     `mapstructure:"clock" yaml:"clock"`
	Sync      SyncConfig      `mapstructure:"sync" yaml:"sync"`
	Resource  ResourceConfig  `mapstructure:"resource" yaml:"resource"`
	Ingest    IngestConfig    `mapstructure:"ingest" yaml:"ingest"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`   // trace, debug, info, warn, error
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source" yaml:"add_source"`
	TimeFormat string `mapstructure:"time_format" yaml:"time_format"`
	// Redact masks connection and application ids in log output.
	Redact bool `mapstructure:"redact" yaml:"redact"`
}

// PlayerConfig holds the player's client-facing defaults.
type PlayerConfig struct {
	AppID            string `mapstructure:"app_id" yaml:"app_id"`
	PTSUnit          string `mapstructure:"pts_unit" yaml:"pts_unit"` // ticks, microseconds
	PlaybackRate     int    `mapstructure:"playback_rate" yaml:"playback_rate"`
	TrickMode        bool   `mapstructure:"trick_mode" yaml:"trick_mode"`
	AudioDestination string `mapstructure:"audio_destination" yaml:"audio_destination"`
}

// LooperConfig holds the feed looper settings.
type LooperConfig struct {
	RetryBackoff       time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	QueueWarnThreshold int           `mapstructure:"queue_warn_threshold" yaml:"queue_warn_threshold"`
	EventQueueSize     int           `mapstructure:"event_queue_size" yaml:"event_queue_size"`
}

// BufferConfig is the buffer count and size of one port.
type BufferConfig struct {
	Count int `mapstructure:"count" yaml:"count"`
	// Size supports human-readable values like "80KB" or raw byte counts.
	Size ByteSize `mapstructure:"size" yaml:"size"`
}

// ComponentConfig holds the pipeline stage timeouts and buffer geometry.
type ComponentConfig struct {
	StateTimeout      time.Duration `mapstructure:"state_timeout" yaml:"state_timeout"`
	PortTimeout       time.Duration `mapstructure:"port_timeout" yaml:"port_timeout"`
	FlushTimeout      time.Duration `mapstructure:"flush_timeout" yaml:"flush_timeout"`
	FreeBufferTimeout time.Duration `mapstructure:"free_buffer_timeout" yaml:"free_buffer_timeout"`

	VideoInput    BufferConfig `mapstructure:"video_input" yaml:"video_input"`
	VideoOutput   BufferConfig `mapstructure:"video_output" yaml:"video_output"`
	AudioInput    BufferConfig `mapstructure:"audio_input" yaml:"audio_input"`
	AudioOutput   BufferConfig `mapstructure:"audio_output" yaml:"audio_output"`
	AudioRenderer BufferConfig `mapstructure:"audio_renderer" yaml:"audio_renderer"`
}

// ClockConfig holds presentation clock settings.
type ClockConfig struct {
	Preroll time.Duration `mapstructure:"preroll" yaml:"preroll"`
}

// SyncConfig holds the A/V sync gate thresholds.
type SyncConfig struct {
	SkipThreshold  time.Duration `mapstructure:"skip_threshold" yaml:"skip_threshold"`
	LowThreshold   time.Duration `mapstructure:"low_threshold" yaml:"low_threshold"`
	HighThreshold  time.Duration `mapstructure:"high_threshold" yaml:"high_threshold"`
	VideoHighCount int           `mapstructure:"video_high_count" yaml:"video_high_count"`
	VideoLowCount  int           `mapstructure:"video_low_count" yaml:"video_low_count"`
	AudioLowCount  int           `mapstructure:"audio_low_count" yaml:"audio_low_count"`
}

// ResourceConfig holds the local resource manager settings.
type ResourceConfig struct {
	MaxVideoDecoders int           `mapstructure:"max_video_decoders" yaml:"max_video_decoders"`
	MaxAudioDecoders int           `mapstructure:"max_audio_decoders" yaml:"max_audio_decoders"`
	SessionRetention time.Duration `mapstructure:"session_retention" yaml:"session_retention"`
	PruneSchedule    string        `mapstructure:"prune_schedule" yaml:"prune_schedule"` // 6-field cron expression
}

// IngestConfig holds the transport stream reader and feeder settings.
type IngestConfig struct {
	MaxQueued    int           `mapstructure:"max_queued" yaml:"max_queued"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	ReadAhead    int           `mapstructure:"read_ahead" yaml:"read_ahead"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout" yaml:"http_timeout"`
	HTTPRetries  int           `mapstructure:"http_retries" yaml:"http_retries"`
	UserAgent    string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level" yaml:"log_level"` // silent, error, warn, info
}

// ServerConfig holds HTTP control API configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with ESPLAYER_ and use underscores for nesting.
// Example: ESPLAYER_PLAYER_APP_ID=com.example.tv.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/esplayer")
		v.AddConfigPath("$HOME/.esplayer")
	}

	v.SetEnvPrefix("ESPLAYER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.redact", false)

	// Player defaults
	v.SetDefault("player.app_id", "esplayer")
	v.SetDefault("player.pts_unit", "ticks")
	v.SetDefault("player.playback_rate", defaultPlaybackRate)
	v.SetDefault("player.trick_mode", false)
	v.SetDefault("player.audio_destination", "hdmi")

	// Looper defaults
	v.SetDefault("looper.retry_backoff", defaultRetryBackoff)
	v.SetDefault("looper.queue_warn_threshold", defaultQueueWarn)
	v.SetDefault("looper.event_queue_size", defaultEventQueueSize)

	// Component defaults
	v.SetDefault("component.state_timeout", defaultStateTimeout)
	v.SetDefault("component.port_timeout", defaultStateTimeout)
	v.SetDefault("component.flush_timeout", defaultStateTimeout)
	v.SetDefault("component.free_buffer_timeout", defaultFreeBufferWait)
	v.SetDefault("component.video_input.count", 60)
	v.SetDefault("component.video_input.size", 80*KB)
	v.SetDefault("component.video_output.count", 4)
	v.SetDefault("component.video_output.size", 4*KB)
	v.SetDefault("component.audio_input.count", 16)
	v.SetDefault("component.audio_input.size", 64*KB)
	v.SetDefault("component.audio_output.count", 16)
	v.SetDefault("component.audio_output.size", 32*KB)
	v.SetDefault("component.audio_renderer.count", 16)
	v.SetDefault("component.audio_renderer.size", 4*KB)

	// Clock defaults
	v.SetDefault("clock.preroll", defaultPreroll)

	// Sync defaults
	v.SetDefault("sync.skip_threshold", -100*time.Millisecond)
	v.SetDefault("sync.low_threshold", 250*time.Millisecond)
	v.SetDefault("sync.high_threshold", time.Second)
	v.SetDefault("sync.video_high_count", 30)
	v.SetDefault("sync.video_low_count", 10)
	v.SetDefault("sync.audio_low_count", 10)

	// Resource manager defaults
	v.SetDefault("resource.max_video_decoders", 1)
	v.SetDefault("resource.max_audio_decoders", 1)
	v.SetDefault("resource.session_retention", defaultSessionRetention)
	v.SetDefault("resource.prune_schedule", defaultPruneSchedule)

	// Ingest defaults
	v.SetDefault("ingest.max_queued", 32)
	v.SetDefault("ingest.retry_backoff", 10*time.Millisecond)
	v.SetDefault("ingest.read_ahead", 16)
	v.SetDefault("ingest.http_timeout", defaultServerTimeout)
	v.SetDefault("ingest.http_retries", 3)
	v.SetDefault("ingest.user_agent", "esplayer/1.0")

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file::memory:?cache=shared")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)
	v.SetDefault("database.log_level", "warn")

	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
}

// Defaults returns the configuration produced by SetDefaults alone.
func Defaults() (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	return FromViper(v)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	switch strings.ToLower(c.Player.PTSUnit) {
	case "", "ticks", "us", "microseconds":
	default:
		return fmt.Errorf("player.pts_unit must be one of: ticks, microseconds")
	}
	if c.Player.PlaybackRate < 0 {
		return fmt.Errorf("player.playback_rate must not be negative")
	}

	if c.Looper.RetryBackoff <= 0 {
		return fmt.Errorf("looper.retry_backoff must be positive")
	}
	if c.Looper.EventQueueSize < 1 {
		return fmt.Errorf("looper.event_queue_size must be at least 1")
	}

	if err := c.Component.validate(); err != nil {
		return err
	}

	if c.Clock.Preroll < 0 {
		return fmt.Errorf("clock.preroll must not be negative")
	}

	s := c.Sync
	if s.SkipThreshold >= 0 || s.LowThreshold <= 0 || s.HighThreshold <= s.LowThreshold {
		return fmt.Errorf("sync thresholds must be ordered skip < 0 < low < high")
	}
	if s.VideoHighCount < 1 || s.VideoLowCount < 0 || s.AudioLowCount < 0 {
		return fmt.Errorf("sync buffer counts must not be negative and video_high_count must be at least 1")
	}

	if c.Resource.MaxVideoDecoders < 1 || c.Resource.MaxAudioDecoders < 1 {
		return fmt.Errorf("resource decoder limits must be at least 1")
	}
	if c.Resource.PruneSchedule != "" && len(strings.Fields(c.Resource.PruneSchedule)) != 6 {
		return fmt.Errorf("resource.prune_schedule must be a 6-field cron expression")
	}

	if c.Ingest.MaxQueued < 1 || c.Ingest.ReadAhead < 1 {
		return fmt.Errorf("ingest.max_queued and ingest.read_ahead must be at least 1")
	}
	if c.Ingest.RetryBackoff <= 0 {
		return fmt.Errorf("ingest.retry_backoff must be positive")
	}
	if c.Ingest.HTTPRetries < 0 {
		return fmt.Errorf("ingest.http_retries must not be negative")
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	return nil
}

func (c *ComponentConfig) validate() error {
	if c.StateTimeout <= 0 || c.PortTimeout <= 0 || c.FlushTimeout <= 0 {
		return fmt.Errorf("component timeouts must be positive")
	}
	ports := map[string]BufferConfig{
		"video_input":    c.VideoInput,
		"video_output":   c.VideoOutput,
		"audio_input":    c.AudioInput,
		"audio_output":   c.AudioOutput,
		"audio_renderer": c.AudioRenderer,
	}
	for name, b := range ports {
		if b.Count < 1 {
			return fmt.Errorf("component.%s.count must be at least 1", name)
		}
		if b.Size < 1 {
			return fmt.Errorf("component.%s.size must be at least 1 byte", name)
		}
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
