// Package idempotency records which payment notifications have already been
// reconciled so that processor retries become no-ops.
//
// Markers live in Redis when it is configured. Every mark is mirrored into a
// bounded in-process LRU which serves reads whenever Redis is absent or
// failing. The in-process copy does not survive restarts and holds at most
// Capacity entries, so in that mode duplicate suppression is best-effort and
// the pending-only payment update in the store is the remaining guard.
package idempotency

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTTL      = 24 * time.Hour
	DefaultCapacity = 1000
	remoteTimeout   = 3 * time.Second
)

// MarkerStore is the durable side of the ledger.
type MarkerStore interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string, ttl time.Duration) error
}

type Config struct {
	TTL      time.Duration
	Capacity int
}

type Ledger struct {
	remote   MarkerStore
	local    *expirable.LRU[string, struct{}]
	ttl      time.Duration
	degraded atomic.Bool
	onChange func(degraded bool)
}

// New builds a ledger. remote may be nil, in which case the ledger runs in
// memory-only mode from the start.
func New(remote MarkerStore, cfg Config) *Ledger {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	l := &Ledger{
		remote: remote,
		local:  expirable.NewLRU[string, struct{}](cfg.Capacity, nil, cfg.TTL),
		ttl:    cfg.TTL,
	}
	if remote == nil {
		l.degraded.Store(true)
	}
	return l
}

// OnModeChange registers a callback fired when the ledger switches between
// Redis and memory mode.
func (l *Ledger) OnModeChange(fn func(degraded bool)) {
	l.onChange = fn
	if fn != nil {
		fn(l.degraded.Load())
	}
}

func (l *Ledger) IsProcessed(ctx context.Context, id string) bool {
	if _, ok := l.local.Get(id); ok {
		return true
	}
	if l.remote == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()
	seen, err := l.remote.Seen(ctx, id)
	if err != nil {
		l.setDegraded(true, err)
		return false
	}
	l.setDegraded(false, nil)
	if seen {
		l.local.Add(id, struct{}{})
	}
	return seen
}

func (l *Ledger) MarkProcessed(ctx context.Context, id string) {
	l.local.Add(id, struct{}{})
	if l.remote == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()
	if err := l.remote.Mark(ctx, id, l.ttl); err != nil {
		l.setDegraded(true, err)
		return
	}
	l.setDegraded(false, nil)
}

// Degraded reports whether reads are currently served from memory only.
func (l *Ledger) Degraded() bool {
	return l.degraded.Load()
}

// Mode is "redis" or "memory", as reported by the health endpoint.
func (l *Ledger) Mode() string {
	if l.Degraded() {
		return "memory"
	}
	return "redis"
}

func (l *Ledger) setDegraded(v bool, cause error) {
	if l.degraded.Swap(v) == v {
		return
	}
	if v {
		log.Warn().Err(cause).Msg("idempotency ledger degraded to in-memory markers")
	} else {
		log.Info().Msg("idempotency ledger recovered redis markers")
	}
	if l.onChange != nil {
		l.onChange(v)
	}
}
