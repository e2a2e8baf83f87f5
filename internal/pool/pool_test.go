package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestDequeuePublishSingleConsumer(t *testing.T) {
	p, err := New(2, unix.Getpagesize())
	require.NoError(t, err)
	defer p.Close()

	p.SetConsumerCount(1)

	b, err := p.Dequeue()
	require.NoError(t, err)
	require.Equal(t, 1, p.FreeCount())

	p.Publish(b.ID)
	require.Equal(t, 1, p.FreeCount(), "buffer should stay held until the consumer releases it")

	p.Release(b.ID)
	require.Equal(t, 2, p.FreeCount())
}

func TestMultiConsumerCountdown(t *testing.T) {
	p, err := New(1, unix.Getpagesize())
	require.NoError(t, err)
	defer p.Close()

	p.SetConsumerCount(3)

	b, err := p.Dequeue()
	require.NoError(t, err)
	p.Publish(b.ID)

	p.Release(b.ID)
	p.Release(b.ID)
	require.Equal(t, 0, p.FreeCount(), "buffer must not recycle until every consumer has released it")

	p.Release(b.ID)
	require.Equal(t, 1, p.FreeCount())
}

func TestPublishWithNoConsumersRecyclesImmediately(t *testing.T) {
	p, err := New(1, unix.Getpagesize())
	require.NoError(t, err)
	defer p.Close()

	b, err := p.Dequeue()
	require.NoError(t, err)
	p.Publish(b.ID)

	require.Equal(t, 1, p.FreeCount())
}

func TestDequeueEmptyPool(t *testing.T) {
	p, err := New(1, unix.Getpagesize())
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Dequeue()
	require.NoError(t, err)

	_, err = p.Dequeue()
	require.ErrorIs(t, err, ErrPoolEmpty)
}
