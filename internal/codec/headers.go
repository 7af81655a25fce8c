package codec

import (
	"errors"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

// ErrNoParameterSet is returned when codec extradata carries no usable SPS.
var ErrNoParameterSet = errors.New("codec: no parameter set in extradata")

// Geometry is the picture geometry recovered from a codec header.
type Geometry struct {
	Width     int
	Height    int
	FrameRate float64
}

// ParseVideoGeometry reads picture geometry from codec extradata. Only H.264
// parameter sets are understood; other codecs return ErrNoParameterSet.
// Extradata may be Annex B or an avcC record.
func ParseVideoGeometry(v Video, extradata []byte) (Geometry, error) {
	if v != VideoH264 {
		return Geometry{}, ErrNoParameterSet
	}

	nalus := splitH264Extradata(extradata)
	for _, nalu := range nalus {
		if len(nalu) == 0 || h264.NALUType(nalu[0]&0x1F) != h264.NALUTypeSPS {
			continue
		}
		var sps h264.SPS
		if err := sps.Unmarshal(nalu); err != nil {
			return Geometry{}, fmt.Errorf("parsing SPS: %w", err)
		}
		return Geometry{
			Width:     sps.Width(),
			Height:    sps.Height(),
			FrameRate: sps.FPS(),
		}, nil
	}
	return Geometry{}, ErrNoParameterSet
}

// splitH264Extradata returns the NAL units in an Annex B or avcC blob.
func splitH264Extradata(b []byte) [][]byte {
	if len(b) >= 7 && b[0] == 1 {
		return splitAVCC(b)
	}
	var au h264.AnnexB
	if err := au.Unmarshal(b); err != nil {
		return [][]byte{b}
	}
	return au
}

// splitAVCC extracts SPS and PPS units from an AVCDecoderConfigurationRecord.
func splitAVCC(b []byte) [][]byte {
	var out [][]byte
	pos := 5
	numSPS := int(b[pos] & 0x1F)
	pos++
	for range numSPS {
		if pos+2 > len(b) {
			return out
		}
		n := int(b[pos])<<8 | int(b[pos+1])
		pos += 2
		if pos+n > len(b) {
			return out
		}
		out = append(out, b[pos:pos+n])
		pos += n
	}
	if pos >= len(b) {
		return out
	}
	numPPS := int(b[pos])
	pos++
	for range numPPS {
		if pos+2 > len(b) {
			return out
		}
		n := int(b[pos])<<8 | int(b[pos+1])
		pos += 2
		if pos+n > len(b) {
			return out
		}
		out = append(out, b[pos:pos+n])
		pos += n
	}
	return out
}

// H264ParameterSets returns the SPS and PPS carried in an access unit, or
// nils when the access unit does not repeat them.
func H264ParameterSets(au [][]byte) (sps, pps []byte) {
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			sps = nalu
		case h264.NALUTypePPS:
			pps = nalu
		}
	}
	return sps, pps
}

// H264Extradata packs parameter sets as an Annex B blob suitable for the
// decoder's out-of-band configuration buffer.
func H264Extradata(sps, pps []byte) ([]byte, error) {
	if len(sps) == 0 {
		return nil, ErrNoParameterSet
	}
	units := h264.AnnexB{sps}
	if len(pps) > 0 {
		units = append(units, pps)
	}
	return units.Marshal()
}

// AACConfig is the subset of an AudioSpecificConfig the player consumes.
type AACConfig struct {
	SampleRate   int
	ChannelCount int
}

// ParseAACConfig decodes an MPEG-4 AudioSpecificConfig.
func ParseAACConfig(b []byte) (AACConfig, error) {
	var conf mpeg4audio.AudioSpecificConfig
	if err := conf.Unmarshal(b); err != nil {
		return AACConfig{}, fmt.Errorf("parsing AudioSpecificConfig: %w", err)
	}
	return AACConfig{
		SampleRate:   conf.SampleRate,
		ChannelCount: conf.ChannelCount,
	}, nil
}

// MarshalAACConfig encodes an AAC-LC AudioSpecificConfig.
func MarshalAACConfig(c AACConfig) ([]byte, error) {
	conf := mpeg4audio.AudioSpecificConfig{
		Type:         mpeg4audio.ObjectTypeAACLC,
		SampleRate:   c.SampleRate,
		ChannelCount: c.ChannelCount,
	}
	return conf.Marshal()
}
