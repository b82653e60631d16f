package indexer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedStepper walks a build through its phases one Step at a time.
type scriptedStepper struct {
	mu        sync.Mutex
	state     *State
	remaining int
	failNext  bool
	steps     int
}

func (s *scriptedStepper) Status(context.Context) (*State, Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, Progress{}, nil
}

func (s *scriptedStepper) Step(_ context.Context, state *State) (*State, Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps++
	if s.failNext {
		s.failNext = false
		return state, Progress{}, errors.New("connection reset")
	}
	s.remaining--
	if s.remaining <= 0 {
		s.state = &State{Phase: PhaseDone}
		return s.state, Progress{Phase: PhaseDone, Percent: 100, Done: true}, nil
	}
	s.state = &State{Phase: PhaseIndexing, Cursor: state.Cursor + 10}
	return s.state, Progress{Phase: PhaseIndexing}, nil
}

func (s *scriptedStepper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps
}

func TestStepRunningIgnoresIdleBuilds(t *testing.T) {
	for _, state := range []*State{nil, {Phase: PhaseDone}} {
		s := &scriptedStepper{state: state}
		_, stepped, err := stepRunning(context.Background(), s)
		require.NoError(t, err)
		assert.False(t, stepped)
		assert.Zero(t, s.steps)
	}
}

func TestStepRunningAdvances(t *testing.T) {
	s := &scriptedStepper{state: &State{Phase: PhaseIndexing}, remaining: 2}
	_, stepped, err := stepRunning(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, stepped)
	assert.Equal(t, uint32(10), s.state.Cursor)
}

func TestAutoStepFinishesBuildAndRetries(t *testing.T) {
	s := &scriptedStepper{state: &State{Phase: PhaseIndexing}, remaining: 3, failNext: true}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		AutoStep(ctx, s, time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		st, _, _ := s.Status(ctx)
		return st.Phase == PhaseDone
	}, 2*time.Second, time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 4, s.count(), "one failed step plus three successful ones")
}
