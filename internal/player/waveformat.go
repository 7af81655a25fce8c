package player

import (
	"bytes"
	"encoding/binary"

	"github.com/jmylchreest/esplayer/internal/omx"
)

const (
	waveFormatPCM        = 0x0001
	waveFormatFloatPlane = 0x8000

	speakerFrontLeft  = 0x1
	speakerFrontRight = 0x2

	defaultConfigSampleRate = 44100
)

type guid struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

// subtypePCM is KSDATAFORMAT_SUBTYPE_PCM.
var subtypePCM = guid{
	Data1: 0x00000001,
	Data2: 0x0000,
	Data3: 0x0010,
	Data4: [8]byte{0x80, 0x00, 0x00, 0xaa, 0x00, 0x38, 0x9b, 0x71},
}

// waveFormatExtensible is the packed WAVEFORMATEXTENSIBLE header sent to
// the audio decoder as its configuration buffer.
type waveFormatExtensible struct {
	FormatTag      uint16
	Channels       uint16
	SamplesPerSec  uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16
	CbSize         uint16
	ValidBits      uint16
	ChannelMask    uint32
	SubFormat      guid
}

// waveFormatSize is the encoded size of waveFormatExtensible.
const waveFormatSize = 40

// pcmConfig builds the decoder configuration header for interleaved PCM.
// A 32-bit depth selects the planar float tag.
func pcmConfig(channels, sampleRate, bitsPerSample int) []byte {
	tag := uint16(waveFormatPCM)
	if bitsPerSample == 32 {
		tag = waveFormatFloatPlane
	}
	h := waveFormatExtensible{
		FormatTag:      tag,
		Channels:       uint16(channels),
		SamplesPerSec:  uint32(sampleRate),
		AvgBytesPerSec: uint32(sampleRate * 2 << omx.ChannelsShift(channels)),
		BlockAlign:     uint16(channels * (bitsPerSample >> 3)),
		BitsPerSample:  uint16(bitsPerSample),
		ValidBits:      uint16(bitsPerSample),
		ChannelMask:    speakerFrontLeft | speakerFrontRight,
		SubFormat:      subtypePCM,
	}

	var buf bytes.Buffer
	buf.Grow(waveFormatSize)
	// Writes to a bytes.Buffer of fixed-size fields cannot fail.
	_ = binary.Write(&buf, binary.LittleEndian, &h)
	return buf.Bytes()
}
