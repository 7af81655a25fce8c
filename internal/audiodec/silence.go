package audiodec

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/jmylchreest/esplayer/internal/codec"
)

// Silence emits correctly timed silent PCM for every coded frame it is
// given. It stands in for a real decoder where none is linked: downstream
// timing, buffer accounting and clock start behave as with real audio.
type Silence struct {
	info StreamInfo
}

// NewSilence returns a Silence decoder for info.
func NewSilence(info StreamInfo) (*Silence, error) {
	if err := checkCodec(info.Codec); err != nil {
		return nil, err
	}
	return &Silence{info: info}, nil
}

// Decode implements Decoder. AAC input framed as ADTS yields one frame of
// output per packet at the packet's own sample rate. Other input counts as
// one coded frame.
func (s *Silence) Decode(data []byte, pts int64) ([]byte, int, error) {
	if len(data) == 0 {
		return nil, 0, nil
	}
	samples := s.info.Codec.FrameSamples()
	rate := s.info.SampleRate

	if s.info.Codec == codec.AudioAAC || s.info.Codec == codec.AudioHEAAC {
		var pkts mpeg4audio.ADTSPackets
		if err := pkts.Unmarshal(data); err == nil && len(pkts) > 0 {
			n := 0
			for _, pkt := range pkts {
				n += outputBytes(samples, pkt.SampleRate)
			}
			return make([]byte, n), len(data), nil
		}
	}

	if samples == 0 && s.info.BitRate > 0 {
		// Variable frame size: derive the duration from the bit rate.
		samples = len(data) * 8 * OutputSampleRate / s.info.BitRate
		rate = OutputSampleRate
	}
	return make([]byte, outputBytes(samples, rate)), len(data), nil
}

// Close implements Decoder.
func (s *Silence) Close() error { return nil }
