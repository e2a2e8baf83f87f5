package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventFDSignalWait(t *testing.T) {
	s, err := NewEventFD()
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Signal())
	require.NoError(t, s.Wait(time.Now().Add(time.Second)))
}

func TestEventFDWaitTimesOut(t *testing.T) {
	s, err := NewEventFD()
	require.NoError(t, err)
	defer s.Close()

	err = s.Wait(time.Now().Add(10 * time.Millisecond))
	require.ErrorIs(t, err, ErrTimeout)
}

func TestMultiWaitAnyWakesOnFiredFd(t *testing.T) {
	a, err := NewEventFD()
	require.NoError(t, err)
	defer a.Close()
	b, err := NewEventFD()
	require.NoError(t, err)
	defer b.Close()

	m, err := NewMulti()
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Add(a))
	require.NoError(t, m.Add(b))

	require.NoError(t, b.Signal())

	fired, err := m.WaitAny(time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Contains(t, fired, b.Fd())
}

func TestMultiWaitAnyTimesOut(t *testing.T) {
	a, err := NewEventFD()
	require.NoError(t, err)
	defer a.Close()

	m, err := NewMulti()
	require.NoError(t, err)
	defer m.Close()
	require.NoError(t, m.Add(a))

	_, err = m.WaitAny(time.Now().Add(10 * time.Millisecond))
	require.ErrorIs(t, err, ErrTimeout)
}
