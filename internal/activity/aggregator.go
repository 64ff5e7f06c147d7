// Package activity builds dashboard snapshots from a signed-in session.
package activity

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danhigham/tgpulse/internal/domain"
	"github.com/danhigham/tgpulse/internal/telegram"
)

// Limits bound the data fetched for one snapshot.
type Limits struct {
	Conversations int // C: dialogs fetched
	Detailed      int // K: leading dialogs whose messages are fetched, K <= C
	Messages      int // M: messages per detailed dialog
}

func DefaultLimits() Limits {
	return Limits{Conversations: 10, Detailed: 5, Messages: 5}
}

func (l Limits) normalize() Limits {
	d := DefaultLimits()
	if l.Conversations <= 0 {
		l.Conversations = d.Conversations
	}
	if l.Detailed <= 0 {
		l.Detailed = d.Detailed
	}
	if l.Messages <= 0 {
		l.Messages = d.Messages
	}
	if l.Detailed > l.Conversations {
		l.Detailed = l.Conversations
	}
	return l
}

type Aggregator struct {
	dialer telegram.Dialer
	limits Limits
	logger *zap.Logger
}

func NewAggregator(dialer telegram.Dialer, limits Limits, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		dialer: dialer,
		limits: limits.normalize(),
		logger: logger,
	}
}

func (a *Aggregator) Limits() Limits { return a.limits }

// Snapshot fetches identity, the first C conversations and the last M
// messages of the first K of them over one connection. Any failure fails
// the whole snapshot.
func (a *Aggregator) Snapshot(ctx context.Context, sessionData []byte) (domain.Snapshot, error) {
	start := time.Now()
	var snap domain.Snapshot

	err := telegram.WithConn(ctx, a.dialer, sessionData, func(conn telegram.Conn) error {
		user, err := conn.Self(ctx)
		if err != nil {
			return err
		}
		convs, err := conn.Dialogs(ctx, a.limits.Conversations)
		if err != nil {
			return err
		}
		if len(convs) > a.limits.Conversations {
			convs = convs[:a.limits.Conversations]
		}

		detailed := convs
		if len(detailed) > a.limits.Detailed {
			detailed = detailed[:a.limits.Detailed]
		}

		// Results land by index so the list follows dialog order.
		activity := make([]domain.ChatActivity, len(detailed))
		g, gctx := errgroup.WithContext(ctx)
		for i, conv := range detailed {
			g.Go(func() error {
				msgs, err := conn.History(gctx, conv, a.limits.Messages)
				if err != nil {
					return err
				}
				if len(msgs) > a.limits.Messages {
					msgs = msgs[:a.limits.Messages]
				}
				activity[i] = toActivity(conv, msgs)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		snap = domain.Snapshot{
			User:     user,
			Activity: activity,
			Summary:  summarize(convs, activity),
		}
		return nil
	})
	if err != nil {
		a.logger.Warn("snapshot failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return domain.Snapshot{}, err
	}

	a.logger.Debug("snapshot built",
		zap.Int("chats", snap.Summary.TotalChats),
		zap.Int("detailed", len(snap.Activity)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return snap, nil
}

func toActivity(conv domain.Conversation, msgs []domain.Message) domain.ChatActivity {
	if msgs == nil {
		msgs = []domain.Message{}
	}
	chatType := conv.Type
	switch chatType {
	case domain.ChatTypeUser, domain.ChatTypeGroup, domain.ChatTypeChannel:
	default:
		chatType = domain.ChatTypeUnknown
	}
	unread := conv.UnreadCount
	if unread < 0 {
		unread = 0
	}
	return domain.ChatActivity{
		ChatID:      strconv.FormatInt(conv.ID, 10),
		ChatName:    conv.Title,
		ChatType:    chatType,
		UnreadCount: unread,
		Messages:    msgs,
	}
}

func summarize(convs []domain.Conversation, activity []domain.ChatActivity) domain.Summary {
	s := domain.Summary{TotalChats: len(convs)}
	for _, c := range convs {
		if c.UnreadCount > 0 {
			s.UnreadMessages += c.UnreadCount
		}
	}
	for _, a := range activity {
		s.TotalMessages += len(a.Messages)
	}
	return s
}
