// Package audiodec converts compressed audio elementary streams to the
// interleaved PCM the hardware audio path is configured for.
package audiodec

import (
	"errors"
	"fmt"

	"github.com/jmylchreest/esplayer/internal/codec"
)

// Output format of every decoder.
const (
	OutputSampleRate    = 44100
	OutputChannels      = 2
	OutputBitsPerSample = 16
)

// ErrUnsupported is returned by a Factory for codecs it cannot decode.
var ErrUnsupported = errors.New("audiodec: unsupported codec")

// StreamInfo describes the compressed input stream.
type StreamInfo struct {
	Codec         codec.Audio
	Channels      int
	SampleRate    int
	BitRate       int
	BlockAlign    int
	BitsPerSample int
}

// Decoder turns one fed buffer into PCM.
type Decoder interface {
	// Decode returns the PCM for data and the number of input bytes it
	// consumed.
	Decode(data []byte, pts int64) (pcm []byte, consumed int, err error)
	Close() error
}

// Factory builds a decoder for a stream.
type Factory func(StreamInfo) (Decoder, error)

// New is the default Factory.
func New(info StreamInfo) (Decoder, error) {
	return NewSilence(info)
}

func outputBytes(samples, inputRate int) int {
	if inputRate <= 0 {
		inputRate = OutputSampleRate
	}
	out := samples * OutputSampleRate / inputRate
	return out * OutputChannels * OutputBitsPerSample / 8
}

func checkCodec(a codec.Audio) error {
	if !a.Known() || a == codec.AudioNone || a.IsPCM() {
		return fmt.Errorf("%w: %s", ErrUnsupported, a)
	}
	return nil
}
