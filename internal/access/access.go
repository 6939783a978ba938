// Package access hands paying users a one-time invite link to the premium
// channel after their subscription is activated.
package access

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/BatmanBruc/subpay-bot/internal/messages"
	"github.com/BatmanBruc/subpay-bot/internal/scheduler"
	"github.com/BatmanBruc/subpay-bot/types"
	"github.com/go-telegram/bot"
	"github.com/rs/zerolog/log"
)

const inviteTTL = 24 * time.Hour

type InviteCreator interface {
	CreateInvite(ctx context.Context, channelID int64, name string, expiresAt time.Time) (string, error)
}

type ActivityLogger interface {
	AppendActivityLog(ctx context.Context, userID int64, action string, details map[string]any)
}

type Submitter interface {
	Submit(t scheduler.Task) bool
}

type Granter struct {
	channelID int64
	inviter   InviteCreator
	notifier  types.Notifier
	activity  ActivityLogger
	queue     Submitter
	now       func() time.Time
}

func NewGranter(channelID int64, inviter InviteCreator, notifier types.Notifier, activity ActivityLogger, queue Submitter) *Granter {
	return &Granter{
		channelID: channelID,
		inviter:   inviter,
		notifier:  notifier,
		activity:  activity,
		queue:     queue,
		now:       time.Now,
	}
}

// Grant schedules the invite for delivery. It is a no-op without a channel.
func (g *Granter) Grant(_ context.Context, userID int64, invoiceID string) {
	if g == nil || g.channelID == 0 {
		return
	}
	var link string
	ok := g.queue.Submit(scheduler.Task{
		Name:     "access_grant",
		Key:      "access:" + invoiceID,
		Attempts: 3,
		Timeout:  30 * time.Second,
		Run: func(ctx context.Context) error {
			return g.deliver(ctx, userID, invoiceID, &link)
		},
	})
	if !ok {
		log.Warn().Int64("user_id", userID).Msg("access grant not scheduled")
	}
}

// deliver reuses a link minted by an earlier attempt so retries after a failed
// send do not create extra single-use invites. notifier must report real
// delivery, not queueing.
func (g *Granter) deliver(ctx context.Context, userID int64, invoiceID string, link *string) error {
	if *link == "" {
		name := "sub-" + strconv.FormatInt(userID, 10)
		created, err := g.inviter.CreateInvite(ctx, g.channelID, name, g.now().Add(inviteTTL))
		if err != nil {
			return fmt.Errorf("create invite: %w", err)
		}
		*link = created
	}
	if !g.notifier.Send(ctx, userID, messages.AccessGranted(*link)) {
		return errors.New("invite not delivered")
	}
	g.activity.AppendActivityLog(ctx, userID, types.ActionAccessGranted, map[string]any{
		"invoice_id": invoiceID,
		"channel_id": g.channelID,
	})
	return nil
}

// TelegramInviter creates single-use invite links.
type TelegramInviter struct {
	bot *bot.Bot
}

func NewTelegramInviter(b *bot.Bot) *TelegramInviter {
	return &TelegramInviter{bot: b}
}

func (t *TelegramInviter) CreateInvite(ctx context.Context, channelID int64, name string, expiresAt time.Time) (string, error) {
	link, err := t.bot.CreateChatInviteLink(ctx, &bot.CreateChatInviteLinkParams{
		ChatID:      channelID,
		Name:        name,
		ExpireDate:  int(expiresAt.Unix()),
		MemberLimit: 1,
	})
	if err != nil {
		return "", err
	}
	return link.InviteLink, nil
}
