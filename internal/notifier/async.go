package notifier

import (
	"context"
	"time"

	"github.com/BatmanBruc/subpay-bot/internal/scheduler"
	"github.com/BatmanBruc/subpay-bot/types"
)

type Submitter interface {
	Submit(t scheduler.Task) bool
}

// Async hands notifications to the work queue so callers do not wait for
// delivery retries. When the queue rejects the task it delivers inline.
type Async struct {
	inner types.Notifier
	queue Submitter
}

func NewAsync(inner types.Notifier, queue Submitter) *Async {
	return &Async{inner: inner, queue: queue}
}

// Send reports whether the message was accepted for delivery.
func (a *Async) Send(ctx context.Context, userID int64, text string) bool {
	accepted := a.queue.Submit(scheduler.Task{
		Name:    "notify",
		Timeout: time.Minute,
		Run: func(ctx context.Context) error {
			if !a.inner.Send(ctx, userID, text) {
				return errNotDelivered
			}
			return nil
		},
	})
	if accepted {
		return true
	}
	return a.inner.Send(ctx, userID, text)
}
