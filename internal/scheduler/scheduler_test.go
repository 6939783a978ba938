package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunsSubmittedTasks(t *testing.T) {
	s := NewScheduler(Config{Workers: 2})
	s.Start()

	var wg sync.WaitGroup
	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		require.True(t, s.Submit(Task{Name: "count", Run: func(context.Context) error {
			ran.Add(1)
			wg.Done()
			return nil
		}}))
	}
	wg.Wait()
	s.Stop(context.Background())
	assert.Equal(t, int32(5), ran.Load())
}

func TestScheduler_RetriesFailedTasks(t *testing.T) {
	s := NewScheduler(Config{Workers: 1, Backoff: time.Millisecond})
	s.Start()

	var calls atomic.Int32
	done := make(chan struct{})
	s.Submit(Task{Name: "flaky", Attempts: 3, Run: func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("temporary")
		}
		close(done)
		return nil
	}})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task was not retried")
	}
	s.Stop(context.Background())
	assert.Equal(t, int32(3), calls.Load())
}

func TestScheduler_DeduplicatesByKey(t *testing.T) {
	s := NewScheduler(Config{Workers: 1})
	release := make(chan struct{})
	started := make(chan struct{})
	s.Start()

	require.True(t, s.Submit(Task{Name: "grant", Key: "inv_1", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started
	assert.False(t, s.Submit(Task{Name: "grant", Key: "inv_1", Run: func(context.Context) error { return nil }}))
	close(release)
	s.Stop(context.Background())
}

func TestScheduler_RejectsAfterStop(t *testing.T) {
	s := NewScheduler(Config{Workers: 1})
	s.Start()
	s.Stop(context.Background())
	assert.False(t, s.Submit(Task{Name: "late", Run: func(context.Context) error { return nil }}))
}

func TestScheduler_QueueFull(t *testing.T) {
	s := NewScheduler(Config{Workers: 1, QueueSize: 1})
	noop := func(context.Context) error { return nil }
	assert.True(t, s.Submit(Task{Name: "a", Run: noop}))
	assert.False(t, s.Submit(Task{Name: "b", Run: noop}), "queue holds one task while workers are not started")
	s.Stop(context.Background())
}
