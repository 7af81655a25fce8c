package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in      string
		want    ByteSize
		wantErr bool
	}{
		{"81920", 81920, false},
		{"80KB", 80 * KB, false},
		{"80k", 80 * KB, false},
		{"64 KiB", 64 * KB, false},
		{"4mb", 4 * MB, false},
		{"1.5MB", ByteSize(1.5 * float64(MB)), false},
		{"1GB", GB, false},
		{"0", 0, false},
		{"", 0, true},
		{"lots", 0, true},
		{"5XB", 0, true},
		{"-4KB", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseByteSize(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestByteSize_String(t *testing.T) {
	assert.Equal(t, "80KB", (80 * KB).String())
	assert.Equal(t, "4MB", (4 * MB).String())
	assert.Equal(t, "2GB", (2 * GB).String())
	assert.Equal(t, "1536B", ByteSize(1536).String(), "not a whole KB")
	assert.Equal(t, "0B", ByteSize(0).String())
	assert.Equal(t, 65536, (64 * KB).Int())
}

func TestByteSize_JSON(t *testing.T) {
	var geo BufferConfig
	require.NoError(t, json.Unmarshal([]byte(`{"Count":60,"Size":"80KB"}`), &geo))
	assert.Equal(t, 80*KB, geo.Size)

	var n ByteSize
	require.NoError(t, json.Unmarshal([]byte(`65536`), &n))
	assert.Equal(t, 64*KB, n)

	data, err := json.Marshal(32 * KB)
	require.NoError(t, err)
	assert.Equal(t, `"32KB"`, string(data))
}

func TestByteSize_YAMLRoundTrip(t *testing.T) {
	in := BufferConfig{Count: 16, Size: 64 * KB}
	data, err := yaml.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), "size: 64KB")

	var out BufferConfig
	require.NoError(t, yaml.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}
