package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BatmanBruc/subpay-bot/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInviter struct {
	err     error
	channel int64
	expires time.Time
	calls   int
}

func (f *fakeInviter) CreateInvite(_ context.Context, channelID int64, _ string, expiresAt time.Time) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	f.channel = channelID
	f.expires = expiresAt
	return "https://t.me/+invite", nil
}

type fakeNotifier struct {
	sent  []string
	fails int
}

func (f *fakeNotifier) Send(_ context.Context, _ int64, text string) bool {
	if f.fails > 0 {
		f.fails--
		return false
	}
	f.sent = append(f.sent, text)
	return true
}

type fakeActivity struct{ actions []string }

func (f *fakeActivity) AppendActivityLog(_ context.Context, _ int64, action string, _ map[string]any) {
	f.actions = append(f.actions, action)
}

type inlineQueue struct{ tasks []scheduler.Task }

func (q *inlineQueue) Submit(t scheduler.Task) bool {
	q.tasks = append(q.tasks, t)
	return true
}

func TestGrant_SchedulesInvite(t *testing.T) {
	inviter, notifier, activity, queue := &fakeInviter{}, &fakeNotifier{}, &fakeActivity{}, &inlineQueue{}
	g := NewGranter(-100123, inviter, notifier, activity, queue)
	now := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	g.Grant(context.Background(), 42, "inv_1")
	require.Len(t, queue.tasks, 1)
	assert.Equal(t, "access:inv_1", queue.tasks[0].Key)

	require.NoError(t, queue.tasks[0].Run(context.Background()))
	assert.Equal(t, int64(-100123), inviter.channel)
	assert.Equal(t, now.Add(inviteTTL), inviter.expires)
	require.Len(t, notifier.sent, 1)
	assert.Contains(t, notifier.sent[0], "https://t.me/+invite")
	assert.Equal(t, []string{"access_granted"}, activity.actions)
}

func TestGrant_NoChannelIsNoop(t *testing.T) {
	queue := &inlineQueue{}
	NewGranter(0, &fakeInviter{}, &fakeNotifier{}, &fakeActivity{}, queue).Grant(context.Background(), 42, "inv_1")
	assert.Empty(t, queue.tasks)

	var nilGranter *Granter
	assert.NotPanics(t, func() { nilGranter.Grant(context.Background(), 42, "inv_1") })
}

func TestGrant_InviteFailureIsRetryable(t *testing.T) {
	queue := &inlineQueue{}
	notifier := &fakeNotifier{}
	g := NewGranter(-100123, &fakeInviter{err: errors.New("bot is not admin")}, notifier, &fakeActivity{}, queue)
	g.Grant(context.Background(), 42, "inv_1")

	require.Len(t, queue.tasks, 1)
	assert.Error(t, queue.tasks[0].Run(context.Background()))
	assert.Empty(t, notifier.sent)
}

func TestGrant_RetryReusesInviteLink(t *testing.T) {
	inviter, activity, queue := &fakeInviter{}, &fakeActivity{}, &inlineQueue{}
	notifier := &fakeNotifier{fails: 2}
	g := NewGranter(-100123, inviter, notifier, activity, queue)
	g.Grant(context.Background(), 42, "inv_1")
	require.Len(t, queue.tasks, 1)

	task := queue.tasks[0]
	assert.Error(t, task.Run(context.Background()))
	assert.Error(t, task.Run(context.Background()))
	assert.Empty(t, activity.actions)

	require.NoError(t, task.Run(context.Background()))
	assert.Equal(t, 1, inviter.calls)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, []string{"access_granted"}, activity.actions)
}
