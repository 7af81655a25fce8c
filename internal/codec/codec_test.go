package codec

import (
	"testing"
)

func TestParseVideo(t *testing.T) {
	tests := []struct {
		input    string
		expected Video
		ok       bool
	}{
		// Canonical names
		{"h264", VideoH264, true},
		{"h265", VideoH265, true},
		{"mpeg2", VideoH262, true},
		{"vp9", VideoVP9, true},
		// Aliases
		{"hevc", VideoH265, true},
		{"avc", VideoH264, true},
		{"avc1", VideoH264, true},
		{"h262", VideoH262, true},
		{"mpeg2video", VideoH262, true},
		// Case insensitive
		{"H264", VideoH264, true},
		{" HEVC ", VideoH265, true},
		// None
		{"none", VideoNone, true},
		// Invalid
		{"", VideoNone, false},
		{"invalid", VideoNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseVideo(tt.input)
			if ok != tt.ok {
				t.Errorf("ParseVideo(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if got != tt.expected {
				t.Errorf("ParseVideo(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseAudio(t *testing.T) {
	tests := []struct {
		input    string
		expected Audio
		ok       bool
	}{
		{"aac", AudioAAC, true},
		{"mp4a", AudioAAC, true},
		{"he-aac", AudioHEAAC, true},
		{"mp3", AudioMP3, true},
		{"mp2", AudioMP2, true},
		{"ac-3", AudioAC3, true},
		{"ec-3", AudioEAC3, true},
		{"pcm", AudioPCM44100, true},
		{"pcm_48000", AudioPCM48000, true},
		{"AAC", AudioAAC, true},
		{"none", AudioNone, true},
		{"", AudioNone, false},
		{"vorbis", AudioNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseAudio(tt.input)
			if ok != tt.ok {
				t.Errorf("ParseAudio(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if got != tt.expected {
				t.Errorf("ParseAudio(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestAudio_IsPCM(t *testing.T) {
	tests := []struct {
		codec Audio
		want  bool
	}{
		{AudioPCM44100, true},
		{AudioPCM48000, true},
		{AudioAAC, false},
		{AudioAC3, false},
		{AudioNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.codec.String(), func(t *testing.T) {
			if got := tt.codec.IsPCM(); got != tt.want {
				t.Errorf("%v.IsPCM() = %v, want %v", tt.codec, got, tt.want)
			}
		})
	}
}

func TestStreamTypeRoundTrip(t *testing.T) {
	for _, v := range []Video{VideoH262, VideoH264, VideoH265, VideoMPEG4} {
		got, ok := VideoFromStreamType(v.MPEGTSStreamType())
		if !ok || got != v {
			t.Errorf("VideoFromStreamType(%#x) = %v, %v; want %v", v.MPEGTSStreamType(), got, ok, v)
		}
	}
	for _, a := range []Audio{AudioAAC, AudioAC3, AudioEAC3, AudioMP3, AudioMP2} {
		got, ok := AudioFromStreamType(a.MPEGTSStreamType())
		if !ok || got != a {
			t.Errorf("AudioFromStreamType(%#x) = %v, %v; want %v", a.MPEGTSStreamType(), got, ok, a)
		}
	}

	if _, ok := VideoFromStreamType(0); ok {
		t.Error("stream type 0 should not map to a video codec")
	}
}

func TestFrameSamples(t *testing.T) {
	if got := AudioAAC.FrameSamples(); got != 1024 {
		t.Errorf("AAC frame samples = %d, want 1024", got)
	}
	if got := AudioAC3.FrameSamples(); got != 1536 {
		t.Errorf("AC3 frame samples = %d, want 1536", got)
	}
	if got := AudioPCM44100.FrameSamples(); got != 0 {
		t.Errorf("PCM frame samples = %d, want 0", got)
	}
}
