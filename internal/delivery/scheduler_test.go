package delivery_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/invoice-pipeline/internal/delivery"
)

func TestScheduler_RunsAfterDelay(t *testing.T) {
	clock := clockwork.NewFakeClockAt(now)
	s := delivery.NewScheduler(clock)
	var runs atomic.Int32

	h := s.After(time.Minute, func(context.Context) { runs.Add(1) })
	require.NotNil(t, h)
	assert.Equal(t, 1, s.Pending())

	clock.Advance(59 * time.Second)
	select {
	case <-h.Done():
		t.Fatal("ran before the delay")
	default:
	}

	clock.Advance(time.Second)
	waitDone(t, h)
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, 0, s.Pending())
	assert.False(t, h.Cancel(), "already ran")
}

func TestScheduler_Cancel(t *testing.T) {
	clock := clockwork.NewFakeClockAt(now)
	s := delivery.NewScheduler(clock)
	var runs atomic.Int32

	h := s.After(time.Minute, func(context.Context) { runs.Add(1) })
	assert.True(t, h.Cancel())
	assert.False(t, h.Cancel())
	waitDone(t, h)

	clock.Advance(time.Hour)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), runs.Load())
}

func TestScheduler_Shutdown(t *testing.T) {
	clock := clockwork.NewFakeClockAt(now)
	s := delivery.NewScheduler(clock)

	first := s.After(time.Minute, func(context.Context) {})
	second := s.After(time.Hour, func(context.Context) {})
	require.NoError(t, s.Shutdown(context.Background()))

	waitDone(t, first)
	waitDone(t, second)
	assert.Equal(t, 0, s.Pending())
	assert.Nil(t, s.After(time.Second, func(context.Context) {}), "closed scheduler accepts no work")

	var nilHandle *delivery.Handle
	assert.False(t, nilHandle.Cancel())
}

func TestScheduler_ShutdownCancelsRunningContext(t *testing.T) {
	clock := clockwork.NewFakeClockAt(now)
	s := delivery.NewScheduler(clock)
	started := make(chan struct{})

	h := s.After(time.Second, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	})
	clock.Advance(time.Second)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	waitDone(t, h)
}
