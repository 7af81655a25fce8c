package player

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransit_Matrix(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateLoaded, true},
		{StateIdle, StatePlaying, false},
		{StateIdle, StateUnloaded, false},
		{StateIdle, StateFlushing, true},
		{StateLoaded, StateLoaded, false},
		{StateLoaded, StatePlaying, true},
		{StateLoaded, StateStepping, false},
		{StatePlaying, StatePaused, true},
		{StatePlaying, StateStepping, false},
		{StatePaused, StateStepping, true},
		{StateUnloaded, StateLoaded, false},
		{StateUnloaded, StateUnloaded, true},
		{StateFlushing, StateIdle, false},
		{StateStepping, StateFlushing, false},
		{StateEOS, StatePlaying, false},
		{StateEOS, StateUnloaded, true},
		{State(-1), StateIdle, false},
		{StateIdle, stateCount, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"_to_"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransit(tt.from, tt.to))
		})
	}
}

func TestStateMachine_HandlerOncePerDistinctState(t *testing.T) {
	var got []State
	m := stateMachine{handler: func(s State) { got = append(got, s) }}

	m.transit(StateLoaded)
	m.transit(StateLoaded)
	m.transit(StatePlaying)
	m.transit(StatePlaying)
	m.transit(StatePaused)

	assert.Equal(t, []State{StateLoaded, StatePlaying, StatePaused}, got)
	assert.Equal(t, StatePaused, m.get())
}

func TestStateMachine_CanTransitUsesCurrent(t *testing.T) {
	var m stateMachine
	assert.True(t, m.canTransit(StateLoaded))
	assert.False(t, m.canTransit(StatePaused))

	m.transit(StateLoaded)
	assert.True(t, m.canTransit(StatePaused))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "playing", StatePlaying.String())
	assert.Equal(t, "state(42)", State(42).String())

	text, err := StateFlushing.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "flushing", string(text))
}
