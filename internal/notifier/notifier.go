package notifier

import (
	"context"
	"errors"
	"time"

	"github.com/BatmanBruc/subpay-bot/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
)

const (
	DefaultRetries        = 3
	DefaultBackoff        = time.Second
	DefaultAttemptTimeout = 10 * time.Second
)

// Sender delivers one message to a chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

type Config struct {
	Retries        int
	Backoff        time.Duration
	AttemptTimeout time.Duration
}

// Notifier retries delivery with exponential backoff (1s, 2s, 4s by default)
// and reports the result as a bool. It never returns an error or panics.
type Notifier struct {
	sender         Sender
	retries        int
	backoff        time.Duration
	attemptTimeout time.Duration
}

func New(sender Sender, cfg Config) *Notifier {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	} else if cfg.Retries == 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	return &Notifier{
		sender:         sender,
		retries:        cfg.Retries,
		backoff:        cfg.Backoff,
		attemptTimeout: cfg.AttemptTimeout,
	}
}

func (n *Notifier) Send(ctx context.Context, userID int64, text string) (delivered bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Int64("user_id", userID).Msg("notifier sender panicked")
			delivered = false
		}
		result := "delivered"
		if !delivered {
			result = "failed"
		}
		metrics.NotificationsTotal.WithLabelValues(result).Inc()
	}()

	if n.sender == nil {
		log.Warn().Int64("user_id", userID).Msg("notifier has no sender configured")
		return false
	}

	attempt := 0
	backoff := retry.WithMaxRetries(uint64(n.retries), retry.NewExponential(n.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, n.attemptTimeout)
		defer cancel()
		if err := n.sender.SendMessage(attemptCtx, userID, text); err != nil {
			log.Warn().Err(err).Int64("user_id", userID).Int("attempt", attempt).Msg("notification attempt failed")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Int("attempts", attempt).Msg("notification not delivered")
		return false
	}
	return true
}

var errNotDelivered = errors.New("notification not delivered")
