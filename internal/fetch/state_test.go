package fetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachine_PriorityOrder(t *testing.T) {
	tests := []struct {
		name    string
		pending WorkerState
		signal  WorkerState
		want    WorkerState
	}{
		{"admit wakes idle worker", StateWait, StateAdmit, StateAdmit},
		{"admit overrides running", StateRunning, StateAdmit, StateAdmit},
		{"admit never overrides remove", StateRemove, StateAdmit, StateRemove},
		{"remove overrides admit", StateAdmit, StateRemove, StateRemove},
		{"stop overrides remove", StateRemove, StateStop, StateStop},
		{"running never overrides admit", StateAdmit, StateRunning, StateAdmit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newStateMachine()
			m.state = tt.pending

			m.Signal(tt.signal)
			assert.Equal(t, tt.want, m.Current())
		})
	}
}

func TestStateMachine_StopIsTerminal(t *testing.T) {
	m := newStateMachine()
	require.True(t, m.Signal(StateStop))

	assert.False(t, m.Signal(StateAdmit))
	assert.False(t, m.RequestRemoval(newTestRequest("r")))
	assert.Equal(t, StateStop, m.Current())
}

func TestStateMachine_AdvanceIsCompareAndSet(t *testing.T) {
	m := newStateMachine()
	m.Signal(StateAdmit)

	assert.False(t, m.Advance(StateRunning, StateWait))
	assert.True(t, m.Advance(StateAdmit, StateRunning))
	assert.Equal(t, StateRunning, m.Current())

	// An ADMIT raised after the worker went RUNNING must block the idle transition.
	m.Signal(StateAdmit)
	assert.False(t, m.Advance(StateRunning, StateWait))
	assert.Equal(t, StateAdmit, m.Current())
}

func TestStateMachine_Removal(t *testing.T) {
	m := newStateMachine()
	req := newTestRequest("target")

	_, ok := m.TakeRemoval()
	assert.False(t, ok)

	require.True(t, m.RequestRemoval(req))
	assert.Equal(t, StateRemove, m.Current())

	got, ok := m.TakeRemoval()
	require.True(t, ok)
	assert.Same(t, req, got)
	assert.Equal(t, StateRunning, m.Current())
	assert.False(t, m.ClearRemoval())
}

func TestStateMachine_AwaitWakesOnSignal(t *testing.T) {
	m := newStateMachine()
	got := make(chan WorkerState, 1)

	go func() { got <- m.Await() }()

	time.Sleep(10 * time.Millisecond)
	m.Signal(StateAdmit)

	select {
	case s := <-got:
		assert.Equal(t, StateAdmit, s)
	case <-time.After(2 * time.Second):
		t.Fatal("Await never woke")
	}
}

func TestWorkerState_String(t *testing.T) {
	assert.Equal(t, "WAIT", StateWait.String())
	assert.Equal(t, "STOP", StateStop.String())
	assert.Equal(t, "WorkerState(9)", WorkerState(9).String())
}
