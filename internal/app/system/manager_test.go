package system

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingService struct {
	name     string
	startErr error
	events   *[]string
}

func (s *recordingService) Name() string { return s.name }

func (s *recordingService) Start(_ context.Context) error {
	*s.events = append(*s.events, "start:"+s.name)
	return s.startErr
}

func (s *recordingService) Stop(_ context.Context) error {
	*s.events = append(*s.events, "stop:"+s.name)
	return nil
}

func TestManagerStartsInOrderStopsInReverse(t *testing.T) {
	var events []string
	m := NewManager()
	require.NoError(t, m.Register(&recordingService{name: "a", events: &events}))
	require.NoError(t, m.Register(&recordingService{name: "b", events: &events}))
	require.NoError(t, m.Register(&recordingService{name: "c", events: &events}))

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(context.Background()))

	assert.Equal(t, []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}, events)
}

func TestManagerRollsBackOnStartFailure(t *testing.T) {
	var events []string
	m := NewManager()
	require.NoError(t, m.Register(&recordingService{name: "a", events: &events}))
	require.NoError(t, m.Register(&recordingService{name: "b", startErr: fmt.Errorf("boom"), events: &events}))
	require.NoError(t, m.Register(&recordingService{name: "c", events: &events}))

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start b")
	assert.Equal(t, []string{"start:a", "start:b", "stop:a"}, events)
}

func TestManagerRejectsRegistrationAfterStart(t *testing.T) {
	var events []string
	m := NewManager()
	require.NoError(t, m.Register(&recordingService{name: "a", events: &events}))
	require.NoError(t, m.Start(context.Background()))

	err := m.Register(&recordingService{name: "late", events: &events})
	assert.Error(t, err)
}

func TestManagerStopIsIdempotent(t *testing.T) {
	var events []string
	m := NewManager()
	require.NoError(t, m.Register(&recordingService{name: "a", events: &events}))
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(context.Background()))
	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, []string{"start:a", "stop:a"}, events)
}
