package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVideoGeometry_NonH264(t *testing.T) {
	_, err := ParseVideoGeometry(VideoH262, []byte{0x00, 0x00, 0x01, 0xb3})
	assert.ErrorIs(t, err, ErrNoParameterSet)
}

func TestParseVideoGeometry_NoSPS(t *testing.T) {
	// Annex B blob holding only a PPS.
	_, err := ParseVideoGeometry(VideoH264, []byte{0x00, 0x00, 0x00, 0x01, 0x68, 0xce, 0x3c, 0x80})
	assert.ErrorIs(t, err, ErrNoParameterSet)
}

func TestSplitAVCC(t *testing.T) {
	sps := []byte{0x67, 0x42, 0xc0, 0x1e}
	pps := []byte{0x68, 0xce, 0x3c, 0x80}
	record := []byte{0x01, 0x42, 0xc0, 0x1e, 0xff, 0xe1, 0x00, byte(len(sps))}
	record = append(record, sps...)
	record = append(record, 0x01, 0x00, byte(len(pps)))
	record = append(record, pps...)

	units := splitH264Extradata(record)
	require.Len(t, units, 2)
	assert.Equal(t, sps, units[0])
	assert.Equal(t, pps, units[1])
}

func TestSplitAVCC_Truncated(t *testing.T) {
	record := []byte{0x01, 0x42, 0xc0, 0x1e, 0xff, 0xe1, 0x00, 0x10, 0x67}
	assert.Empty(t, splitAVCC(record))
}

func TestH264ParameterSets(t *testing.T) {
	sps := []byte{0x67, 0x42}
	pps := []byte{0x68, 0xce}
	idr := []byte{0x65, 0x88}

	gotSPS, gotPPS := H264ParameterSets([][]byte{sps, pps, idr})
	assert.Equal(t, sps, gotSPS)
	assert.Equal(t, pps, gotPPS)

	gotSPS, gotPPS = H264ParameterSets([][]byte{idr})
	assert.Nil(t, gotSPS)
	assert.Nil(t, gotPPS)
}

func TestH264Extradata(t *testing.T) {
	_, err := H264Extradata(nil, []byte{0x68})
	require.ErrorIs(t, err, ErrNoParameterSet)

	b, err := H264Extradata([]byte{0x67, 0x42}, []byte{0x68, 0xce})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 1, 0x67, 0x42, 0, 0, 0, 1, 0x68, 0xce}, b)
}

func TestAACConfig(t *testing.T) {
	b, err := MarshalAACConfig(AACConfig{SampleRate: 44100, ChannelCount: 2})
	require.NoError(t, err)

	conf, err := ParseAACConfig(b)
	require.NoError(t, err)
	assert.Equal(t, 44100, conf.SampleRate)
	assert.Equal(t, 2, conf.ChannelCount)

	_, err = ParseAACConfig(nil)
	assert.Error(t, err)
}
