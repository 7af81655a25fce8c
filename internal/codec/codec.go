// Package codec provides the codec registry for the elementary streams the
// player accepts. It maps codec identifiers to their names, aliases and
// MPEG-TS stream types, and classifies which codecs need the software audio
// decode stage in front of the hardware pipeline.
package codec

import "strings"

// Video identifies a video elementary stream codec.
type Video int

// Video codec constants.
const (
	VideoNone Video = iota
	VideoH262       // MPEG-2 video
	VideoH264       // H.264/AVC
	VideoH265       // H.265/HEVC
	VideoMPEG4      // MPEG-4 part 2
	VideoVP9        // VP9
	VideoAV1        // AV1
)

// Audio identifies an audio elementary stream codec.
type Audio int

// Audio codec constants.
const (
	AudioNone Audio = iota
	AudioMP2
	AudioMP3
	AudioAC3
	AudioEAC3
	AudioAAC
	AudioHEAAC
	AudioPCM44100  // 16-bit stereo PCM at 44.1kHz
	AudioPCM48000  // 16-bit stereo PCM at 48kHz
	AudioOpus
)

// MPEG-TS stream type constants.
const (
	StreamTypeMPEG2Video uint8 = 0x02
	StreamTypeMPEG4Video uint8 = 0x10
	StreamTypeH264       uint8 = 0x1B
	StreamTypeH265       uint8 = 0x24
	StreamTypeMP2        uint8 = 0x04
	StreamTypeMP3        uint8 = 0x03
	StreamTypeAAC        uint8 = 0x0F
	StreamTypeAC3        uint8 = 0x81
	StreamTypeEAC3       uint8 = 0x87
)

// videoInfo contains metadata about a video codec.
type videoInfo struct {
	Name    string
	Aliases []string
	// MPEG-TS stream type identifier (0 if not carried in TS)
	MPEGTSStreamType uint8
}

// audioInfo contains metadata about an audio codec.
type audioInfo struct {
	Name    string
	Aliases []string
	// PCM codecs bypass the software decode stage.
	PCM bool
	// Samples per coded frame, used to size decoded output (0 = variable).
	FrameSamples     int
	MPEGTSStreamType uint8
}

// videoRegistry contains all video codec definitions.
var videoRegistry = map[Video]*videoInfo{
	VideoH262: {
		Name:             "mpeg2",
		Aliases:          []string{"mpeg2", "mpeg2video", "h262", "h.262"},
		MPEGTSStreamType: StreamTypeMPEG2Video,
	},
	VideoH264: {
		Name:             "h264",
		Aliases:          []string{"h264", "avc", "avc1", "h.264"},
		MPEGTSStreamType: StreamTypeH264,
	},
	VideoH265: {
		Name:             "h265",
		Aliases:          []string{"h265", "hevc", "hev1", "hvc1", "h.265"},
		MPEGTSStreamType: StreamTypeH265,
	},
	VideoMPEG4: {
		Name:             "mpeg4",
		Aliases:          []string{"mpeg4", "mp4v"},
		MPEGTSStreamType: StreamTypeMPEG4Video,
	},
	VideoVP9: {
		Name:    "vp9",
		Aliases: []string{"vp9", "vp09"},
	},
	VideoAV1: {
		Name:    "av1",
		Aliases: []string{"av1", "av01"},
	},
}

// audioRegistry contains all audio codec definitions.
var audioRegistry = map[Audio]*audioInfo{
	AudioMP2: {
		Name:             "mp2",
		Aliases:          []string{"mp2", "mpeg1audio"},
		FrameSamples:     1152,
		MPEGTSStreamType: StreamTypeMP2,
	},
	AudioMP3: {
		Name:             "mp3",
		Aliases:          []string{"mp3", "mp3float"},
		FrameSamples:     1152,
		MPEGTSStreamType: StreamTypeMP3,
	},
	AudioAC3: {
		Name:             "ac3",
		Aliases:          []string{"ac3", "ac-3", "a52"},
		FrameSamples:     1536,
		MPEGTSStreamType: StreamTypeAC3,
	},
	AudioEAC3: {
		Name:             "eac3",
		Aliases:          []string{"eac3", "ec-3"},
		FrameSamples:     1536,
		MPEGTSStreamType: StreamTypeEAC3,
	},
	AudioAAC: {
		Name:             "aac",
		Aliases:          []string{"aac", "mp4a"},
		FrameSamples:     1024,
		MPEGTSStreamType: StreamTypeAAC,
	},
	AudioHEAAC: {
		Name:         "heaac",
		Aliases:      []string{"heaac", "he-aac", "aac_he"},
		FrameSamples: 2048,
	},
	AudioPCM44100: {
		Name:    "pcm_44100",
		Aliases: []string{"pcm_44100", "pcm44100", "pcm"},
		PCM:     true,
	},
	AudioPCM48000: {
		Name:    "pcm_48000",
		Aliases: []string{"pcm_48000", "pcm48000"},
		PCM:     true,
	},
	AudioOpus: {
		Name:         "opus",
		Aliases:      []string{"opus"},
		FrameSamples: 960,
	},
}

var (
	videoAliasIndex map[string]Video
	audioAliasIndex map[string]Audio
)

func init() {
	videoAliasIndex = make(map[string]Video)
	for c, info := range videoRegistry {
		for _, alias := range info.Aliases {
			videoAliasIndex[strings.ToLower(alias)] = c
		}
	}

	audioAliasIndex = make(map[string]Audio)
	for c, info := range audioRegistry {
		for _, alias := range info.Aliases {
			audioAliasIndex[strings.ToLower(alias)] = c
		}
	}
}

// ParseVideo parses a codec name or alias to a Video codec.
// Returns the codec and whether the parse was successful.
func ParseVideo(s string) (Video, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "none" {
		return VideoNone, s == "none"
	}
	c, ok := videoAliasIndex[s]
	return c, ok
}

// ParseAudio parses a codec name or alias to an Audio codec.
// Returns the codec and whether the parse was successful.
func ParseAudio(s string) (Audio, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "none" {
		return AudioNone, s == "none"
	}
	c, ok := audioAliasIndex[s]
	return c, ok
}

// String returns the canonical name of the video codec.
func (v Video) String() string {
	if info, ok := videoRegistry[v]; ok {
		return info.Name
	}
	return "none"
}

// String returns the canonical name of the audio codec.
func (a Audio) String() string {
	if info, ok := audioRegistry[a]; ok {
		return info.Name
	}
	return "none"
}

// Known reports whether the codec is in the registry.
func (v Video) Known() bool {
	_, ok := videoRegistry[v]
	return ok
}

// Known reports whether the codec is in the registry.
func (a Audio) Known() bool {
	_, ok := audioRegistry[a]
	return ok
}

// IsPCM reports whether the codec is raw PCM and can be fed to the
// hardware without software decoding.
func (a Audio) IsPCM() bool {
	info, ok := audioRegistry[a]
	return ok && info.PCM
}

// FrameSamples returns the number of PCM samples one coded frame decodes to,
// or 0 when the codec has no fixed frame size.
func (a Audio) FrameSamples() int {
	if info, ok := audioRegistry[a]; ok {
		return info.FrameSamples
	}
	return 0
}

// MPEGTSStreamType returns the MPEG-TS stream type for the codec.
func (v Video) MPEGTSStreamType() uint8 {
	if info, ok := videoRegistry[v]; ok {
		return info.MPEGTSStreamType
	}
	return 0
}

// MPEGTSStreamType returns the MPEG-TS stream type for the codec.
func (a Audio) MPEGTSStreamType() uint8 {
	if info, ok := audioRegistry[a]; ok {
		return info.MPEGTSStreamType
	}
	return 0
}

// VideoFromStreamType maps an MPEG-TS stream type to a video codec.
func VideoFromStreamType(st uint8) (Video, bool) {
	for c, info := range videoRegistry {
		if info.MPEGTSStreamType != 0 && info.MPEGTSStreamType == st {
			return c, true
		}
	}
	return VideoNone, false
}

// AudioFromStreamType maps an MPEG-TS stream type to an audio codec.
func AudioFromStreamType(st uint8) (Audio, bool) {
	for c, info := range audioRegistry {
		if info.MPEGTSStreamType != 0 && info.MPEGTSStreamType == st {
			return c, true
		}
	}
	return AudioNone, false
}

// MarshalText implements encoding.TextMarshaler.
func (v Video) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// MarshalText implements encoding.TextMarshaler.
func (a Audio) MarshalText() ([]byte, error) { return []byte(a.String()), nil }
