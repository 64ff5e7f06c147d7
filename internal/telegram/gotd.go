package telegram

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/tg"

	"github.com/danhigham/tgpulse/internal/apperr"
	"github.com/danhigham/tgpulse/internal/domain"
)

const (
	mediaPlaceholder   = "[Media]"
	servicePlaceholder = "[Service message]"
)

type GotdOptions struct {
	MaxRetries    int
	RetryInterval time.Duration
	DialTimeout   time.Duration
	// Markdown renders message entities into the text as markdown.
	Markdown bool
}

// GotdDialer implements Dialer using gotd/td. It holds no live state: every
// Connect builds a fresh client around the given session data.
type GotdDialer struct {
	apiID   int
	apiHash string
	opts    GotdOptions
	logger  *zap.Logger
}

func NewGotdDialer(apiID int, apiHash string, opts GotdOptions, logger *zap.Logger) *GotdDialer {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 30 * time.Second
	}
	return &GotdDialer{
		apiID:   apiID,
		apiHash: apiHash,
		opts:    opts,
		logger:  logger,
	}
}

// Connect starts the client in the background and returns once the
// connection is ready. The client runs until Close is called or ctx ends.
func (d *GotdDialer) Connect(ctx context.Context, sessionData []byte) (Conn, error) {
	if d.apiID == 0 || d.apiHash == "" {
		return nil, ErrNotConfigured
	}

	storage := newMemoryStorage(sessionData)
	client := telegram.NewClient(d.apiID, d.apiHash, telegram.Options{
		Logger:         d.logger.Named("mtproto"),
		SessionStorage: storage,
		NoUpdates:      true,
		MaxRetries:     d.opts.MaxRetries,
		RetryInterval:  d.opts.RetryInterval,
	})

	runCtx, cancel := context.WithCancel(ctx)
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	timer := time.NewTimer(d.opts.DialTimeout)
	defer timer.Stop()

	select {
	case <-ready:
	case err := <-done:
		cancel()
		if err == nil {
			err = errors.New("client stopped before ready")
		}
		return nil, translate(errors.Wrap(err, "connect"))
	case <-timer.C:
		cancel()
		<-done
		return nil, apperr.Transient("Timed out connecting to Telegram", errors.New("dial timeout"))
	case <-ctx.Done():
		cancel()
		<-done
		return nil, apperr.Transient("Connection to Telegram aborted", ctx.Err())
	}

	return &gotdConn{
		client:   client,
		api:      client.API(),
		storage:  storage,
		apiID:    d.apiID,
		apiHash:  d.apiHash,
		markdown: d.opts.Markdown,
		cancel:   cancel,
		done:     done,
	}, nil
}

type gotdConn struct {
	client   *telegram.Client
	api      *tg.Client
	storage  *memoryStorage
	apiID    int
	apiHash  string
	markdown bool

	cancel    context.CancelFunc
	done      <-chan error
	closeOnce sync.Once
	closeErr  error
}

// Close stops the client and waits for it to exit.
func (c *gotdConn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		err := <-c.done
		if err != nil && !errors.Is(err, context.Canceled) {
			c.closeErr = errors.Wrap(err, "disconnect")
		}
	})
	return c.closeErr
}

func (c *gotdConn) SessionData() ([]byte, error) {
	data := c.storage.Bytes()
	if len(data) == 0 {
		return nil, apperr.Upstream("Telegram did not establish a session", errors.New("empty session storage"))
	}
	return data, nil
}

func (c *gotdConn) SendCode(ctx context.Context, phone string) (string, error) {
	sent, err := c.api.AuthSendCode(ctx, &tg.AuthSendCodeRequest{
		PhoneNumber: phone,
		APIID:       c.apiID,
		APIHash:     c.apiHash,
		Settings:    tg.CodeSettings{},
	})
	if err != nil {
		return "", translate(errors.Wrap(err, "send code"))
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return "", apperr.Upstream("Unexpected response to code request", errors.Errorf("unexpected sent code type %T", sent))
	}
	return code.PhoneCodeHash, nil
}

func (c *gotdConn) SignIn(ctx context.Context, phone, code, phoneCodeHash string) error {
	if _, err := c.client.Auth().SignIn(ctx, phone, code, phoneCodeHash); err != nil {
		return translate(errors.Wrap(err, "sign in"))
	}
	return nil
}

func (c *gotdConn) SignInPassword(ctx context.Context, password string) error {
	if _, err := c.client.Auth().Password(ctx, password); err != nil {
		return translate(errors.Wrap(err, "sign in with password"))
	}
	return nil
}

func (c *gotdConn) Self(ctx context.Context) (domain.User, error) {
	self, err := c.client.Self(ctx)
	if err != nil {
		return domain.User{}, translate(errors.Wrap(err, "get self"))
	}
	return convertUser(self), nil
}

func (c *gotdConn) LogOut(ctx context.Context) error {
	if _, err := c.api.AuthLogOut(ctx); err != nil {
		return translate(errors.Wrap(err, "log out"))
	}
	return nil
}

// Dialogs returns up to limit dialogs in the order Telegram lists them.
func (c *gotdConn) Dialogs(ctx context.Context, limit int) ([]domain.Conversation, error) {
	if limit <= 0 {
		return nil, nil
	}
	iter := dialogs.NewQueryBuilder(c.api).GetDialogs().BatchSize(limit).Iter()

	result := make([]domain.Conversation, 0, limit)
	for len(result) < limit && iter.Next(ctx) {
		elem := iter.Value()

		chatType, id := classifyDialog(elem)
		var unread int
		if dlg, ok := elem.Dialog.(*tg.Dialog); ok {
			unread = dlg.UnreadCount
		}

		result = append(result, domain.Conversation{
			ID:          id,
			Title:       titleFromEntities(elem),
			Type:        chatType,
			UnreadCount: unread,
			Peer:        elem.Peer,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, translate(errors.Wrap(err, "iterate dialogs"))
	}
	return result, nil
}

// History returns up to limit recent messages, newest first as Telegram
// returns them.
func (c *gotdConn) History(ctx context.Context, conv domain.Conversation, limit int) ([]domain.Message, error) {
	peer, ok := conv.Peer.(tg.InputPeerClass)
	if !ok || peer == nil {
		return nil, apperr.Upstream("Conversation cannot be queried", errors.Errorf("no input peer for chat %d", conv.ID))
	}

	result, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  peer,
		Limit: limit,
	})
	if err != nil {
		return nil, translate(errors.Wrapf(err, "get history %d", conv.ID))
	}

	var messages []tg.MessageClass
	switch r := result.(type) {
	case *tg.MessagesMessages:
		messages = r.Messages
	case *tg.MessagesMessagesSlice:
		messages = r.Messages
	case *tg.MessagesChannelMessages:
		messages = r.Messages
	default:
		return nil, apperr.Upstream("Unexpected history response", errors.Errorf("unexpected messages type %T", result))
	}

	out := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if msg, ok := c.convertMessage(m); ok {
			out = append(out, msg)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (c *gotdConn) convertMessage(m tg.MessageClass) (domain.Message, bool) {
	switch msg := m.(type) {
	case *tg.Message:
		text := msg.Message
		if c.markdown {
			text = RenderMarkdown(text, msg.Entities)
		}
		if text == "" {
			text = mediaPlaceholder
		}
		return domain.Message{
			ID:     msg.ID,
			Text:   text,
			Date:   int64(msg.Date),
			Out:    msg.Out,
			FromID: peerString(msg.FromID),
		}, true
	case *tg.MessageService:
		return domain.Message{
			ID:     msg.ID,
			Text:   servicePlaceholder,
			Date:   int64(msg.Date),
			Out:    msg.Out,
			FromID: peerString(msg.FromID),
		}, true
	default:
		return domain.Message{}, false
	}
}

// classifyDialog resolves the chat type and the marked chat id (users
// positive, basic groups negated, channels offset by -1e12).
func classifyDialog(elem dialogs.Elem) (domain.ChatType, int64) {
	if elem.Dialog == nil {
		return domain.ChatTypeUnknown, 0
	}
	if _, ok := elem.Dialog.(*tg.Dialog); !ok {
		// Folders and other aggregate entries have no single chat type.
		return domain.ChatTypeUnknown, 0
	}
	switch p := elem.Dialog.GetPeer().(type) {
	case *tg.PeerUser:
		return domain.ChatTypeUser, p.UserID
	case *tg.PeerChat:
		return domain.ChatTypeGroup, -p.ChatID
	case *tg.PeerChannel:
		id := -1000000000000 - p.ChannelID
		if ch, ok := elem.Entities.Channel(p.ChannelID); ok && (ch.Megagroup || ch.Gigagroup) {
			return domain.ChatTypeGroup, id
		}
		return domain.ChatTypeChannel, id
	default:
		return domain.ChatTypeUnknown, 0
	}
}

// titleFromEntities extracts the chat title from dialog entities.
func titleFromEntities(elem dialogs.Elem) string {
	if elem.Dialog == nil {
		return "Unknown"
	}
	entities := elem.Entities

	switch p := elem.Dialog.GetPeer().(type) {
	case *tg.PeerUser:
		if u, ok := entities.User(p.UserID); ok {
			return formatUserName(u)
		}
	case *tg.PeerChat:
		if ch, ok := entities.Chat(p.ChatID); ok {
			return ch.Title
		}
	case *tg.PeerChannel:
		if ch, ok := entities.Channel(p.ChannelID); ok {
			return ch.Title
		}
	}
	return "Unknown"
}

func convertUser(u *tg.User) domain.User {
	return domain.User{
		ID:        strconv.FormatInt(u.ID, 10),
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
		Phone:     u.Phone,
	}
}

// formatUserName returns a display name for a user.
func formatUserName(u *tg.User) string {
	if u.FirstName != "" && u.LastName != "" {
		return u.FirstName + " " + u.LastName
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	if u.Username != "" {
		return u.Username
	}
	return "Unknown"
}

func peerString(p tg.PeerClass) string {
	switch p := p.(type) {
	case *tg.PeerUser:
		return strconv.FormatInt(p.UserID, 10)
	case *tg.PeerChat:
		return strconv.FormatInt(p.ChatID, 10)
	case *tg.PeerChannel:
		return strconv.FormatInt(p.ChannelID, 10)
	default:
		return ""
	}
}
