package idempotency

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeMarkers struct {
	mu   sync.Mutex
	keys map[string]time.Duration
	err  error
}

func newFakeMarkers() *fakeMarkers {
	return &fakeMarkers{keys: map[string]time.Duration{}}
}

func (f *fakeMarkers) Seen(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.keys[id]
	return ok, nil
}

func (f *fakeMarkers) Mark(_ context.Context, id string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.keys[id] = ttl
	return nil
}

func (f *fakeMarkers) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func TestLedger_RemoteMarkers(t *testing.T) {
	remote := newFakeMarkers()
	l := New(remote, Config{})
	ctx := context.Background()

	assert.False(t, l.IsProcessed(ctx, "inv_1"))
	l.MarkProcessed(ctx, "inv_1")
	assert.True(t, l.IsProcessed(ctx, "inv_1"))
	assert.Equal(t, DefaultTTL, remote.keys["inv_1"])
	assert.Equal(t, "redis", l.Mode())

	restarted := New(remote, Config{})
	assert.True(t, restarted.IsProcessed(ctx, "inv_1"), "markers survive a process restart")
}

func TestLedger_DegradesAndRecovers(t *testing.T) {
	remote := newFakeMarkers()
	l := New(remote, Config{})
	ctx := context.Background()

	var modes []bool
	l.OnModeChange(func(d bool) { modes = append(modes, d) })

	remote.fail(errors.New("connection refused"))
	assert.False(t, l.IsProcessed(ctx, "inv_1"))
	assert.True(t, l.Degraded())
	assert.Equal(t, "memory", l.Mode())

	l.MarkProcessed(ctx, "inv_1")
	assert.True(t, l.IsProcessed(ctx, "inv_1"), "memory fallback serves marks taken while degraded")

	remote.fail(nil)
	assert.False(t, l.IsProcessed(ctx, "inv_2"))
	assert.False(t, l.Degraded())
	assert.Equal(t, []bool{false, true, false}, modes)
}

func TestLedger_MemoryOnlyEvictsOldest(t *testing.T) {
	l := New(nil, Config{Capacity: 3})
	ctx := context.Background()
	assert.True(t, l.Degraded())

	for i := 0; i < 4; i++ {
		l.MarkProcessed(ctx, "inv_"+strconv.Itoa(i))
	}
	assert.False(t, l.IsProcessed(ctx, "inv_0"), "oldest entry evicted")
	for i := 1; i < 4; i++ {
		assert.True(t, l.IsProcessed(ctx, "inv_"+strconv.Itoa(i)))
	}
}

func TestLedger_MemoryEntriesExpire(t *testing.T) {
	l := New(nil, Config{TTL: 20 * time.Millisecond})
	ctx := context.Background()
	l.MarkProcessed(ctx, "inv_1")
	assert.True(t, l.IsProcessed(ctx, "inv_1"))
	assert.Eventually(t, func() bool { return !l.IsProcessed(ctx, "inv_1") }, time.Second, 10*time.Millisecond)
}
