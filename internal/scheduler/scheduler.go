package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/BatmanBruc/subpay-bot/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
)

// Task is a unit of background work. Key deduplicates tasks that are queued
// or running at the same time; an empty Key disables deduplication.
type Task struct {
	Name     string
	Key      string
	Run      func(ctx context.Context) error
	Attempts int
	Timeout  time.Duration
}

type Scheduler struct {
	workers    int
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	stopped    bool
	taskQueue  chan Task
	inFlight   map[string]struct{}
	inFlightMu sync.Mutex
	backoff    time.Duration
}

type Config struct {
	Workers   int
	QueueSize int
	// Backoff is the first retry delay; it doubles per attempt.
	Backoff time.Duration
}

func NewScheduler(config Config) *Scheduler {
	if config.Workers <= 0 {
		config.Workers = 3
	}
	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = config.Workers * 2
		if queueSize < 10 {
			queueSize = 10
		}
	}
	if config.Backoff <= 0 {
		config.Backoff = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		workers:   config.Workers,
		ctx:       ctx,
		cancel:    cancel,
		taskQueue: make(chan Task, queueSize),
		inFlight:  make(map[string]struct{}),
		backoff:   config.Backoff,
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.stopped {
		return
	}
	s.running = true

	log.Info().Int("workers", s.workers).Msg("Scheduler started")
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

// Stop rejects new tasks, lets workers drain the queue and cancels whatever
// is still running once ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	wasRunning := s.running
	s.running = false
	close(s.taskQueue)
	s.mu.Unlock()

	if !wasRunning {
		s.cancel()
		return
	}

	log.Info().Msg("Stopping scheduler...")
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("Scheduler drain timed out, cancelling running tasks")
		s.cancel()
		<-done
	}
	s.cancel()
	log.Info().Msg("Scheduler stopped")
}

// Submit enqueues t without blocking. It returns false when the queue is
// full, the scheduler is stopped or a task with the same key is in flight.
func (s *Scheduler) Submit(t Task) bool {
	if t.Run == nil {
		return false
	}
	if t.Key != "" {
		s.inFlightMu.Lock()
		if _, exists := s.inFlight[t.Key]; exists {
			s.inFlightMu.Unlock()
			return false
		}
		s.inFlight[t.Key] = struct{}{}
		s.inFlightMu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		s.release(t.Key)
		return false
	}
	select {
	case s.taskQueue <- t:
		return true
	default:
		s.release(t.Key)
		log.Warn().Str("task", t.Name).Msg("Scheduler queue full, task dropped")
		metrics.BackgroundTasksTotal.WithLabelValues(t.Name, "dropped").Inc()
		return false
	}
}

func (s *Scheduler) release(key string) {
	if key == "" {
		return
	}
	s.inFlightMu.Lock()
	delete(s.inFlight, key)
	s.inFlightMu.Unlock()
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	for task := range s.taskQueue {
		s.run(id, task)
	}
}

func (s *Scheduler) run(workerID int, t Task) {
	defer s.release(t.Key)

	attempts := t.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	attempt := 0
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(s.backoff))
	err := retry.Do(s.ctx, backoff, func(ctx context.Context) error {
		attempt++
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := t.Run(runCtx); err != nil {
			log.Warn().Err(err).Int("worker", workerID).Str("task", t.Name).Int("attempt", attempt).Msg("Background task failed")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("task", t.Name).Str("key", t.Key).Msg("Background task gave up")
		metrics.BackgroundTasksTotal.WithLabelValues(t.Name, "failed").Inc()
		return
	}
	metrics.BackgroundTasksTotal.WithLabelValues(t.Name, "ok").Inc()
}
