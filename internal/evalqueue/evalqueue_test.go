package evalqueue

import (
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitAndWait(t *testing.T) {
	q := New(Config{WorkerCount: 4}, slog.Default())
	defer q.Close()

	var counter atomic.Int64
	for i := 0; i < 100; i++ {
		require.True(t, q.Submit(func() { counter.Add(1) }))
	}

	q.Wait()
	assert.Equal(t, int64(100), counter.Load())
}

func TestWaitOnEmptyQueueReturns(t *testing.T) {
	q := New(Config{WorkerCount: 1}, slog.Default())
	defer q.Close()

	done := make(chan struct{})
	go func() {
		q.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked on an idle queue")
	}
}

func TestResubmitKeepsQueueBusy(t *testing.T) {
	q := New(Config{WorkerCount: 2}, slog.Default())
	defer q.Close()

	// The job retries itself twice before finishing. Wait must not return
	// until the final attempt completes.
	var attempts atomic.Int64
	var job func()
	job = func() {
		if attempts.Add(1) < 3 {
			time.Sleep(time.Millisecond)
			q.Resubmit(job)
		}
	}
	require.True(t, q.Submit(job))

	q.Wait()
	assert.Equal(t, int64(3), attempts.Load())
}

func TestSubmitAfterCloseIsRejected(t *testing.T) {
	q := New(Config{WorkerCount: 1}, slog.Default())
	q.Close()

	assert.False(t, q.Submit(func() { t.Error("job ran after close") }))
}

func TestCloseDrainsPendingJobs(t *testing.T) {
	q := New(Config{WorkerCount: 2, Buffer: 256}, slog.Default())

	var counter atomic.Int64
	for i := 0; i < 50; i++ {
		require.True(t, q.Submit(func() {
			time.Sleep(time.Millisecond)
			counter.Add(1)
		}))
	}

	q.Close()
	assert.Equal(t, int64(50), counter.Load())
}

func TestCloseIsIdempotent(t *testing.T) {
	q := New(Config{WorkerCount: 1}, slog.Default())
	q.Close()
	q.Close()
}
