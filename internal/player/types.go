package player

import (
	"fmt"

	"github.com/jmylchreest/esplayer/internal/codec"
)

// Stream identifies an elementary stream type.
type Stream int

// Stream types. The values index the per-stream state of the player.
const (
	StreamAudio Stream = iota
	StreamVideo
)

func (s Stream) String() string {
	switch s {
	case StreamAudio:
		return "audio"
	case StreamVideo:
		return "video"
	default:
		return fmt.Sprintf("stream(%d)", int(s))
	}
}

// PTSUnit is the unit of the timestamps carried by fed buffers.
type PTSUnit int

// Timestamp units.
const (
	// PTSTicks are 90 kHz MPEG ticks.
	PTSTicks PTSUnit = iota
	PTSMicroseconds
)

// ParsePTSUnit parses "ticks" or "microseconds".
func ParsePTSUnit(s string) (PTSUnit, error) {
	switch s {
	case "ticks", "":
		return PTSTicks, nil
	case "microseconds", "us":
		return PTSMicroseconds, nil
	default:
		return PTSTicks, fmt.Errorf("unknown pts unit %q", s)
	}
}

func (u PTSUnit) String() string {
	if u == PTSMicroseconds {
		return "microseconds"
	}
	return "ticks"
}

// BufferFlag annotates a fed stream buffer.
type BufferFlag uint32

// FlagEndOfStream marks the last buffer of a stream.
const FlagEndOfStream BufferFlag = 1

// StreamBuffer is one chunk of an elementary stream pushed by the client.
// Data[Offset:] is the payload still to be written.
type StreamBuffer struct {
	Data      []byte
	Offset    int
	Stream    Stream
	Timestamp int64
	Flags     BufferFlag
}

// Len returns the length of the buffer's data.
func (b *StreamBuffer) Len() int { return len(b.Data) }

// Metadata describes the streams to be loaded.
type Metadata struct {
	VideoCodec    codec.Video
	AudioCodec    codec.Audio
	Width         int
	Height        int
	Framerate     int
	VideoEncoding int
	Extradata     []byte

	Channels      int
	SampleRate    int
	BlockAlign    int
	BitRate       int
	BitsPerSample int
}

// Event is a notification delivered to the client's event handler.
type Event int

// Client events.
const (
	EventFirstFramePresented Event = iota
	EventLowThresholdCrossedVideo
	EventHighThresholdCrossedVideo
	EventStreamDrainedVideo
	EventLowThresholdCrossedAudio
	EventHighThresholdCrossedAudio
	EventStreamDrainedAudio
	EventEndOfStream
	// EventVideoInfo carries a VideoInfo.
	EventVideoInfo
	EventResourceReleasedByPolicy
	EventVideoConfigDecoded
	EventAudioConfigDecoded
	EventVideoPortChanged
	EventAudioPortChanged
)

var eventNames = [...]string{
	"first_frame_presented",
	"low_threshold_crossed_video",
	"high_threshold_crossed_video",
	"stream_drained_video",
	"low_threshold_crossed_audio",
	"high_threshold_crossed_audio",
	"stream_drained_audio",
	"end_of_stream",
	"video_info",
	"resource_released_by_policy",
	"videoconfig_decoded",
	"audioconfig_decoded",
	"video_port_changed",
	"audio_port_changed",
}

func (e Event) String() string {
	if e >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// MarshalText implements encoding.TextMarshaler.
func (e Event) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

// EventHandler receives client events. data is a VideoInfo for
// EventVideoInfo and nil otherwise. Handlers run on the player's message
// loopers or, for a few events, on a hardware callback goroutine, and must
// not call back into Unload.
type EventHandler func(e Event, data any)

// AppState is the foreground state of the owning application.
type AppState int

// Application states.
const (
	AppStateInit AppState = iota
	AppStateForeground
	AppStateBackground
	AppStateReserved
)

// ScanType is the scan type of the video.
type ScanType int

// Scan types.
const (
	ScanProgressive ScanType = iota
	ScanInterlaced
)

// ThreeDType is the stereoscopic layout of the video.
type ThreeDType int

// 3D layouts.
const (
	ThreeDNone ThreeDType = iota
	ThreeDCheckerboard
	ThreeDColumnAlternation
	ThreeDRowAlternation
	ThreeDSideBySide
	ThreeDTopBottom
	ThreeDFrameAlternation
)

// EaseType is the curve of a volume change.
type EaseType int

// Volume ease curves.
const (
	EaseLinear EaseType = iota
	EaseInCubic
	EaseOutCubic
)

// HDRType is the dynamic range format of the video.
type HDRType int

// HDR formats.
const (
	HDRNone HDRType = iota
	HDR10
	HDRDolby
	HDRVP9
	HDRHLG
)

// VideoInfo describes the decoded video. It is the payload of
// EventVideoInfo.
type VideoInfo struct {
	Width        int        `json:"width"`
	Height       int        `json:"height"`
	FramerateNum int        `json:"framerate_num"`
	FramerateDen int        `json:"framerate_den"`
	PARWidth     int        `json:"par_width"`
	PARHeight    int        `json:"par_height"`
	Scan         ScanType   `json:"scan"`
	ThreeD       ThreeDType `json:"three_d"`
	HasHDRInfo   bool       `json:"has_hdr_info"`
	HDR          HDRType    `json:"hdr"`
}

// Window is a display rectangle in screen coordinates.
type Window struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}
