package resource

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jmylchreest/esplayer/internal/codec"
	"github.com/jmylchreest/esplayer/internal/models"
	"github.com/jmylchreest/esplayer/internal/observability"
)

// Resource names in a granted port map.
const (
	ResourceVideoDecoder = "VDEC"
	ResourceAudioDecoder = "ADEC"
	ResourceDisplay      = "DISP"
)

// ConnectionIDLength is the length of a requestor's connection id.
const ConnectionIDLength = 16

// Config holds the manager's decoder limits.
type Config struct {
	MaxVideoDecoders int
	MaxAudioDecoders int
}

// DefaultConfig allows one video and one audio decoder.
func DefaultConfig() Config {
	return Config{MaxVideoDecoders: 1, MaxAudioDecoders: 1}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager arbitrates decoder slots between the requestors it creates and
// records each one as a session row.
type Manager struct {
	cfg    Config
	store  *Store
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	videoBy  []string // slot index -> connection id
	audioBy  []string

	revokes sync.WaitGroup
}

// NewManager returns a manager persisting sessions through db.
func NewManager(db *gorm.DB, cfg Config, opts ...Option) *Manager {
	if cfg.MaxVideoDecoders < 1 {
		cfg.MaxVideoDecoders = 1
	}
	if cfg.MaxAudioDecoders < 1 {
		cfg.MaxAudioDecoders = 1
	}
	m := &Manager{
		cfg:      cfg,
		store:    NewStore(db),
		logger:   slog.Default(),
		sessions: make(map[string]*session),
		videoBy:  make([]string, cfg.MaxVideoDecoders),
		audioBy:  make([]string, cfg.MaxAudioDecoders),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(slog.String("component", "resource_manager"))
	return m
}

// Store returns the manager's session store.
func (m *Manager) Store() *Store { return m.store }

// NewRequestor registers a session for appID and returns its handle.
func (m *Manager) NewRequestor(ctx context.Context, appID string) (Requestor, error) {
	s := &session{
		m:           m,
		id:          newConnectionID(),
		appID:       appID,
		foreground:  true,
		allowPolicy: true,
		videoSlot:   -1,
		audioSlot:   -1,
	}
	s.logger = observability.WithApp(observability.WithConnectionID(m.logger, s.id), appID)

	row := &models.Session{
		ConnectionID:   s.id,
		AppID:          appID,
		State:          models.SessionIdle,
		Foreground:     true,
		PlaneID:        -1,
		LastActivityAt: time.Now().UTC(),
	}
	if err := m.store.Create(ctx, row); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	s.logger.Info("session registered")
	return s, nil
}

// Sessions lists every stored session.
func (m *Manager) Sessions(ctx context.Context) ([]models.Session, error) {
	return m.store.List(ctx)
}

// Wait blocks until all pending policy callbacks have returned.
func (m *Manager) Wait() {
	m.revokes.Wait()
}

// newConnectionID derives a 16-character id from a random UUID.
func newConnectionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:ConnectionIDLength]
}

// claim is the slot plan for one acquire.
type claim struct {
	video, audio int
	victims      []*session
}

// acquire grants s the decoder slots req needs. A foreground requestor may
// take a slot from a background session that allows policy actions; that
// session is revoked and its policy callback runs asynchronously.
func (m *Manager) acquire(ctx context.Context, s *session, req Request) (PortResources, error) {
	needVideo := req.Video.Codec != codec.VideoNone
	needAudio := req.Audio.Codec != codec.AudioNone

	m.mu.Lock()
	c := claim{video: s.videoSlot, audio: s.audioSlot}
	if needVideo && c.video < 0 {
		idx, victim, err := m.pickSlot(m.videoBy, s)
		if err != nil {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: no video decoder (%d in use)", ErrNotAcquired, len(m.videoBy))
		}
		c.video = idx
		if victim != nil {
			c.victims = append(c.victims, victim)
		}
	}
	if needAudio && c.audio < 0 {
		idx, victim, err := m.pickSlot(m.audioBy, s)
		if err != nil {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: no audio decoder (%d in use)", ErrNotAcquired, len(m.audioBy))
		}
		c.audio = idx
		if victim != nil && !containsSession(c.victims, victim) {
			c.victims = append(c.victims, victim)
		}
	}

	for _, v := range c.victims {
		m.freeLocked(v)
	}
	if c.video >= 0 {
		m.videoBy[c.video] = s.id
		s.videoSlot = c.video
	}
	if c.audio >= 0 {
		m.audioBy[c.audio] = s.id
		s.audioSlot = c.audio
	}
	plane, planeFn := int32(s.videoSlot), s.planeFn
	if s.videoSlot < 0 {
		plane = -1
	}
	m.mu.Unlock()

	now := time.Now().UTC()
	for _, v := range c.victims {
		m.revoke(ctx, v, now)
	}

	fields := map[string]any{
		"state":            models.SessionActive,
		"video_codec":      codecName(needVideo, req.Video.Codec.String()),
		"audio_codec":      codecName(needAudio, req.Audio.Codec.String()),
		"video_slots":      boolInt(s.videoSlot >= 0),
		"audio_slots":      boolInt(s.audioSlot >= 0),
		"plane_id":         plane,
		"video_width":      req.Video.Width,
		"video_height":     req.Video.Height,
		"end_of_stream":    false,
		"released_at":      nil,
		"last_activity_at": now,
	}
	if err := m.store.Update(ctx, s.id, fields); err != nil {
		s.logger.Warn("recording acquire", slog.String("error", err.Error()))
	}

	var ports PortResources
	if s.videoSlot >= 0 {
		ports = append(ports,
			Port{Resource: fmt.Sprintf("%s%d", ResourceVideoDecoder, s.videoSlot), Index: s.videoSlot},
			Port{Resource: fmt.Sprintf("%s%d", ResourceDisplay, s.videoSlot), Index: s.videoSlot})
	}
	if s.audioSlot >= 0 {
		ports = append(ports, Port{Resource: fmt.Sprintf("%s%d", ResourceAudioDecoder, s.audioSlot), Index: s.audioSlot})
	}
	s.logger.Info("resources acquired", slog.Any("ports", ports))

	if planeFn != nil && plane >= 0 {
		if !planeFn(plane) {
			s.logger.Warn("plane id rejected", slog.Int("plane", int(plane)))
		}
	}
	return ports, nil
}

// pickSlot returns a free slot index, or one held by a revocable session.
func (m *Manager) pickSlot(slots []string, s *session) (int, *session, error) {
	for i, holder := range slots {
		if holder == "" {
			return i, nil, nil
		}
	}
	if !s.foreground {
		return -1, nil, ErrNotAcquired
	}
	for i, holder := range slots {
		h := m.sessions[holder]
		if h != nil && h != s && !h.foreground && h.allowPolicy {
			return i, h, nil
		}
	}
	return -1, nil, ErrNotAcquired
}

// freeLocked drops every slot v holds. m.mu must be held.
func (m *Manager) freeLocked(v *session) (held bool) {
	if v.videoSlot >= 0 {
		m.videoBy[v.videoSlot] = ""
		v.videoSlot = -1
		held = true
	}
	if v.audioSlot >= 0 {
		m.audioBy[v.audioSlot] = ""
		v.audioSlot = -1
		held = true
	}
	return held
}

func (m *Manager) revoke(ctx context.Context, v *session, now time.Time) {
	v.logger.Warn("session revoked by policy")
	err := m.store.Update(ctx, v.id, map[string]any{
		"state":       models.SessionRevoked,
		"video_slots": 0,
		"audio_slots": 0,
		"released_at": now,
	})
	if err != nil {
		v.logger.Warn("recording revocation", slog.String("error", err.Error()))
	}

	m.mu.Lock()
	fn := v.policyFn
	m.mu.Unlock()
	if fn == nil {
		return
	}
	m.revokes.Add(1)
	go func() {
		defer m.revokes.Done()
		fn()
	}()
}

// release frees s's slots. It reports whether anything was held.
func (m *Manager) release(ctx context.Context, s *session) error {
	m.mu.Lock()
	held := m.freeLocked(s)
	m.mu.Unlock()
	if !held {
		return nil
	}

	s.logger.Info("resources released")
	now := time.Now().UTC()
	return m.store.Update(ctx, s.id, map[string]any{
		"state":            models.SessionReleased,
		"video_slots":      0,
		"audio_slots":      0,
		"content_ready":    false,
		"released_at":      now,
		"last_activity_at": now,
	})
}

func containsSession(list []*session, s *session) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func codecName(used bool, name string) string {
	if !used {
		return ""
	}
	return name
}
