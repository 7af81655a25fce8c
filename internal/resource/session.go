package resource

import (
	"context"
	"log/slog"
	"time"
)

// session is the Manager's Requestor. Mutable fields are guarded by m.mu.
type session struct {
	m      *Manager
	id     string
	appID  string
	logger *slog.Logger

	foreground  bool
	allowPolicy bool
	videoSlot   int
	audioSlot   int
	screenSaver bool
	display     Window
	crop        *Window
	fullscreen  bool

	policyFn func()
	planeFn  func(int32) bool
}

var _ Requestor = (*session)(nil)

func (s *session) ConnectionID() string { return s.id }

func (s *session) RegisterPolicyActionCallback(fn func()) {
	s.m.mu.Lock()
	s.policyFn = fn
	s.m.mu.Unlock()
}

func (s *session) RegisterPlaneIDCallback(fn func(int32) bool) {
	s.m.mu.Lock()
	s.planeFn = fn
	s.m.mu.Unlock()
}

func (s *session) AcquireResources(ctx context.Context, req Request) (PortResources, error) {
	return s.m.acquire(ctx, s, req)
}

func (s *session) ReleaseResource(ctx context.Context) error {
	return s.m.release(ctx, s)
}

func (s *session) NotifyForeground() error { return s.setForeground(true) }
func (s *session) NotifyBackground() error { return s.setForeground(false) }

func (s *session) setForeground(fg bool) error {
	s.m.mu.Lock()
	s.foreground = fg
	s.m.mu.Unlock()
	s.logger.Debug("application state changed", slog.Bool("foreground", fg))
	return s.update(map[string]any{"foreground": fg, "last_activity_at": time.Now().UTC()})
}

func (s *session) NotifyActivity() error {
	return s.update(map[string]any{"last_activity_at": time.Now().UTC()})
}

func (s *session) AllowPolicyAction(allow bool) {
	s.m.mu.Lock()
	s.allowPolicy = allow
	s.m.mu.Unlock()
}

func (s *session) EnableScreenSaver() error  { return s.setScreenSaver(true) }
func (s *session) DisableScreenSaver() error { return s.setScreenSaver(false) }

func (s *session) setScreenSaver(on bool) error {
	s.m.mu.Lock()
	s.screenSaver = on
	s.m.mu.Unlock()
	s.logger.Debug("screen saver", slog.Bool("enabled", on))
	return nil
}

func (s *session) EndOfStream() error {
	return s.update(map[string]any{"end_of_stream": true})
}

func (s *session) MediaContentReady(ready bool) error {
	return s.update(map[string]any{"content_ready": ready})
}

func (s *session) SetVideoInfo(info VideoInfo) error {
	return s.update(map[string]any{"video_width": info.Width, "video_height": info.Height})
}

func (s *session) SetVideoDisplayWindow(dst Window, fullscreen bool) error {
	s.m.mu.Lock()
	s.display, s.crop, s.fullscreen = dst, nil, fullscreen
	s.m.mu.Unlock()
	return nil
}

func (s *session) SetVideoCustomDisplayWindow(src, dst Window, fullscreen bool) error {
	s.m.mu.Lock()
	s.display, s.crop, s.fullscreen = dst, &src, fullscreen
	s.m.mu.Unlock()
	return nil
}

func (s *session) MuteAudio(mute bool) error {
	return s.update(map[string]any{"audio_muted": mute})
}

func (s *session) MuteVideo(mute bool) error {
	return s.update(map[string]any{"video_muted": mute})
}

func (s *session) update(fields map[string]any) error {
	return s.m.store.Update(context.Background(), s.id, fields)
}

// Snapshot is the in-memory view of a live session.
type Snapshot struct {
	ConnectionID string  `json:"connection_id"`
	AppID        string  `json:"app_id"`
	Foreground   bool    `json:"foreground"`
	VideoSlot    int     `json:"video_slot"`
	AudioSlot    int     `json:"audio_slot"`
	ScreenSaver  bool    `json:"screen_saver"`
	Display      Window  `json:"display"`
	Crop         *Window `json:"crop,omitempty"`
	Fullscreen   bool    `json:"fullscreen"`
}

// Snapshot returns the live state of the session with the connection id.
func (m *Manager) Snapshot(connectionID string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[connectionID]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{
		ConnectionID: s.id,
		AppID:        s.appID,
		Foreground:   s.foreground,
		VideoSlot:    s.videoSlot,
		AudioSlot:    s.audioSlot,
		ScreenSaver:  s.screenSaver,
		Display:      s.display,
		Crop:         s.crop,
		Fullscreen:   s.fullscreen,
	}, true
}

// Usage counts decoder slots in use and registered sessions.
type Usage struct {
	VideoSlots    int `json:"video_slots"`
	VideoSlotsMax int `json:"video_slots_max"`
	AudioSlots    int `json:"audio_slots"`
	AudioSlotsMax int `json:"audio_slots_max"`
	Sessions      int `json:"sessions"`
}

// Usage returns the current slot occupancy.
func (m *Manager) Usage() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := Usage{
		VideoSlotsMax: len(m.videoBy),
		AudioSlotsMax: len(m.audioBy),
		Sessions:      len(m.sessions),
	}
	for _, id := range m.videoBy {
		if id != "" {
			u.VideoSlots++
		}
	}
	for _, id := range m.audioBy {
		if id != "" {
			u.AudioSlots++
		}
	}
	return u
}

// Prune deletes terminal sessions that ended before cutoff and forgets the
// ones that no longer hold anything.
func (m *Manager) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := m.store.PruneBefore(ctx, cutoff)
	if err != nil || n == 0 {
		return n, err
	}
	live, err := m.store.List(ctx)
	if err != nil {
		return n, err
	}
	keep := make(map[string]bool, len(live))
	for _, row := range live {
		keep[row.ConnectionID] = true
	}

	m.mu.Lock()
	for id, s := range m.sessions {
		if !keep[id] && s.videoSlot < 0 && s.audioSlot < 0 {
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()
	return n, nil
}
