// ABOUTME: Matrix bridge: turns room messages into bot events and delivers session replies
// ABOUTME: Replies go to the sender's last room, rendered as HTML and rate limited

package matrix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"golang.org/x/time/rate"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-paybot/internal/bot"
	"github.com/2389/coven-paybot/internal/sofa"
)

// TransportName identifies events that arrived through Matrix.
const TransportName = "matrix"

// ErrNoRoom is returned when replying to a user who hasn't written from any room.
var ErrNoRoom = errors.New("no known room for user")

// sendTimeout bounds one outbound Matrix API call.
const sendTimeout = 30 * time.Second

// Config configures a Bridge.
type Config struct {
	Homeserver    string
	UserID        string
	AccessToken   string
	AllowedRooms  []string // empty allows every room
	CommandPrefix string   // when set, only prefixed messages are handled

	SendRate  float64 // messages per second (default 2)
	SendBurst int     // default 5

	Logger *slog.Logger
}

type roomSender interface {
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON any, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
}

// Bridge is a session.MessageGateway for Matrix users.
type Bridge struct {
	cfg     Config
	client  *mautrix.Client
	sender  roomSender
	limiter *rate.Limiter
	md      goldmark.Markdown
	logger  *slog.Logger

	rooms sync.Map // sender user id -> id.RoomID

	handle func(context.Context, bot.Event) error
	ctx    context.Context
	wg     sync.WaitGroup
}

// New creates a Bridge logged in with the configured access token.
func New(cfg Config) (*Bridge, error) {
	if cfg.Homeserver == "" || cfg.UserID == "" || cfg.AccessToken == "" {
		return nil, errors.New("matrix homeserver, user_id and access_token are required")
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	b := newBridge(cfg, client)
	b.client = client
	return b, nil
}

func newBridge(cfg Config, sender roomSender) *Bridge {
	if cfg.SendRate <= 0 {
		cfg.SendRate = 2
	}
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:     cfg,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst),
		md:      goldmark.New(),
		logger:  logger.With("component", "matrix"),
		ctx:     context.Background(),
	}
}

// Listen syncs with the homeserver and passes messages to handle until ctx is
// cancelled. Each message is handled on its own goroutine.
func (b *Bridge) Listen(ctx context.Context, handle func(context.Context, bot.Event) error) error {
	if b.client == nil {
		return errors.New("bridge has no matrix client")
	}
	b.logger.Info("starting matrix bridge", "homeserver", b.cfg.Homeserver, "user_id", b.cfg.UserID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	b.ctx = ctx
	b.handle = handle

	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.client.SyncWithContext(ctx)
	}()

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
		cancel()
		b.wg.Wait()
		return nil
	case err := <-syncErr:
		b.wg.Wait()
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

func (b *Bridge) handleMessageEvent(_ context.Context, evt *event.Event) {
	ev, ok := b.toEvent(evt)
	if !ok || b.handle == nil {
		return
	}

	b.rooms.Store(ev.Address, evt.RoomID)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.handle(b.ctx, ev); err != nil {
			b.logger.Error("failed to handle matrix message", "room", evt.RoomID.String(), "sender", ev.Address, "error", err)
		}
	}()
}

// toEvent filters evt and converts it to a bot event.
func (b *Bridge) toEvent(evt *event.Event) (bot.Event, bool) {
	if evt.Sender == id.UserID(b.cfg.UserID) {
		return bot.Event{}, false
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return bot.Event{}, false
	}

	roomID := evt.RoomID.String()
	if len(b.cfg.AllowedRooms) > 0 && !slices.Contains(b.cfg.AllowedRooms, roomID) {
		b.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return bot.Event{}, false
	}

	body := content.Body
	if b.cfg.CommandPrefix != "" {
		if !strings.HasPrefix(body, b.cfg.CommandPrefix) {
			return bot.Event{}, false
		}
		body = strings.TrimPrefix(body, b.cfg.CommandPrefix)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return bot.Event{}, false
	}

	b.logger.Info("received message", "room", roomID, "sender", evt.Sender.String(), "content", truncate(body, 50))

	return bot.Event{
		ID:        evt.ID.String(),
		Address:   evt.Sender.String(),
		Body:      body,
		Transport: TransportName,
	}, true
}

// Send delivers msg to the room address last wrote from.
func (b *Bridge) Send(ctx context.Context, address string, msg sofa.Message) error {
	v, ok := b.rooms.Load(address)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoRoom, address)
	}
	roomID, _ := v.(id.RoomID)

	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting to send: %w", err)
	}

	content := b.render(msg)
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if _, err := b.sender.SendMessageEvent(ctx, roomID, event.EventMessage, content); err != nil {
		return fmt.Errorf("sending to %s: %w", roomID, err)
	}
	return nil
}

// render builds the message content, with an HTML body when the Markdown
// renders to something other than a single plain paragraph.
func (b *Bridge) render(msg sofa.Message) *event.MessageEventContent {
	text := msg.Text()
	content := &event.MessageEventContent{MsgType: event.MsgText, Body: text}
	if msg.Type() != "Message" {
		content.MsgType = event.MsgNotice
	}

	var buf bytes.Buffer
	if err := b.md.Convert([]byte(text), &buf); err != nil {
		b.logger.Debug("markdown render failed, sending plain text", "error", err)
		return content
	}
	html := strings.TrimSpace(buf.String())
	if html != "<p>"+text+"</p>" {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}
	return content
}

// truncate shortens s to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
