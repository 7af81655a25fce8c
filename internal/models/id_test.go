package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID_Monotonic(t *testing.T) {
	prev := NewID()
	assert.WithinDuration(t, time.Now(), prev.Time(), time.Second)
	for i := 0; i < 1000; i++ {
		next := NewID()
		require.Equal(t, 1, next.Compare(prev), "ids sort in creation order")
		prev = next
	}
}

func TestParseID(t *testing.T) {
	id := NewID()
	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseID("not-an-id")
	assert.Error(t, err)
}

func TestID_ValueAndScan(t *testing.T) {
	var zero ID
	v, err := zero.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	id := NewID()
	v, err = id.Value()
	require.NoError(t, err)
	assert.Equal(t, id.String(), v)

	tests := []struct {
		name    string
		input   any
		want    ID
		wantErr bool
	}{
		{"null", nil, ID{}, false},
		{"string", id.String(), id, false},
		{"bytes", []byte(id.String()), id, false},
		{"empty", "", ID{}, false},
		{"garbage", "bad", ID{}, true},
		{"int", 7, ID{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got ID
			err := got.Scan(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestID_JSON(t *testing.T) {
	id := NewID()
	data, err := json.Marshal(struct {
		ID ID `json:"id"`
	}{id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+id.String()+`"}`, string(data))

	var back struct {
		ID ID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, id, back.ID)

	require.NoError(t, json.Unmarshal([]byte(`{"id":""}`), &back))
	assert.True(t, back.ID.IsZero())
}

func TestModel_BeforeCreate(t *testing.T) {
	var m Model
	require.NoError(t, m.BeforeCreate(nil))
	assert.False(t, m.ID.IsZero())

	keep := NewID()
	m = Model{ID: keep}
	require.NoError(t, m.BeforeCreate(nil))
	assert.Equal(t, keep, m.ID)
}
