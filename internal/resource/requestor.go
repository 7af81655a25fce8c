// Package resource arbitrates hardware decode resources between players and
// tracks each player's media session.
package resource

import (
	"context"
	"errors"

	"github.com/jmylchreest/esplayer/internal/codec"
)

// ErrNotAcquired is returned when resources are requested but none are free.
var ErrNotAcquired = errors.New("resource: acquire failed")

// VideoRequest describes the video decode resources a player needs.
type VideoRequest struct {
	Codec      codec.Video
	Width      int
	Height     int
	Framerate  int
	Interlaced bool
	ThreeD     int
}

// AudioRequest describes the audio decode resources a player needs.
type AudioRequest struct {
	Codec    codec.Audio
	Version  int
	Channels int
}

// Request is a resource acquisition request.
type Request struct {
	Video VideoRequest
	Audio AudioRequest
}

// Port is one acquired hardware resource and its index.
type Port struct {
	Resource string `json:"resource"`
	Index    int    `json:"index"`
}

// PortResources lists the resources granted by an acquire.
type PortResources []Port

// Index returns the index of the first granted resource of the given type.
func (p PortResources) Index(resource string) (int, bool) {
	for _, port := range p {
		if port.Resource == resource {
			return port.Index, true
		}
	}
	return 0, false
}

// VideoInfo is the decoded video description reported to the session.
type VideoInfo struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FrameRate  float64 `json:"frame_rate"`
	Interlaced bool    `json:"interlaced"`
	PARWidth   int     `json:"par_width"`
	PARHeight  int     `json:"par_height"`
}

// Window is a display rectangle.
type Window struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// PlaybackState is the playback state published for a session.
type PlaybackState string

// Playback states.
const (
	PlaybackLoaded  PlaybackState = "loaded"
	PlaybackPlaying PlaybackState = "playing"
	PlaybackPaused  PlaybackState = "paused"
	PlaybackStopped PlaybackState = "stopped"
)

// Requestor is one player's handle on the resource manager.
type Requestor interface {
	// ConnectionID is fixed for the life of the requestor.
	ConnectionID() string

	// RegisterPolicyActionCallback sets the function run when the manager
	// revokes this requestor's resources.
	RegisterPolicyActionCallback(fn func())
	// RegisterPlaneIDCallback sets the function told the display plane
	// index after a successful acquire.
	RegisterPlaneIDCallback(fn func(plane int32) bool)

	AcquireResources(ctx context.Context, req Request) (PortResources, error)
	// ReleaseResource is a no-op when nothing is held.
	ReleaseResource(ctx context.Context) error

	NotifyForeground() error
	NotifyBackground() error
	NotifyActivity() error
	AllowPolicyAction(allow bool)

	EnableScreenSaver() error
	DisableScreenSaver() error
	EndOfStream() error
	MediaContentReady(ready bool) error
	SetVideoInfo(info VideoInfo) error

	SetVideoDisplayWindow(dst Window, fullscreen bool) error
	SetVideoCustomDisplayWindow(src, dst Window, fullscreen bool) error
	MuteAudio(mute bool) error
	MuteVideo(mute bool) error
}
