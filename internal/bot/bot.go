// ABOUTME: Inbound event dispatch: dedupe, per-address serialization, session load, routing
// ABOUTME: Routes to the open thread when it handles messages, otherwise to the default handler

package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/coven-paybot/internal/dedupe"
	"github.com/2389/coven-paybot/internal/metrics"
	"github.com/2389/coven-paybot/internal/session"
)

// Event is one inbound message from a transport.
type Event struct {
	ID        string // transport message id, used for dedupe
	Address   string // sender address; empty means anonymous
	Body      string
	Transport string // "headless", "matrix", ...
}

// Handler handles one event for a loaded session.
type Handler interface {
	Handle(ctx context.Context, s *session.Session, ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, s *session.Session, ev Event) error

func (f HandlerFunc) Handle(ctx context.Context, s *session.Session, ev Event) error {
	return f(ctx, s, ev)
}

// Config configures a Bot.
type Config struct {
	Deps    *session.Deps
	Default Handler // used when no open thread handles messages

	DedupeTTL  time.Duration
	DedupeSize int
	Logger     *slog.Logger
}

// Bot turns inbound events into session handling turns.
type Bot struct {
	deps     *session.Deps
	fallback Handler
	seen     *dedupe.Cache
	locks    *addressLocks
	logger   *slog.Logger
}

// New creates a Bot. Close releases its dedupe cache.
func New(cfg Config) (*Bot, error) {
	if cfg.Deps == nil {
		return nil, errors.New("session deps are required")
	}
	if cfg.Default == nil {
		return nil, errors.New("default handler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Bot{
		deps:     cfg.Deps,
		fallback: cfg.Default,
		seen:     dedupe.New(dedupe.Config{TTL: cfg.DedupeTTL, MaxSize: cfg.DedupeSize}),
		locks:    newAddressLocks(),
		logger:   logger.With("component", "bot"),
	}, nil
}

// Dispatch handles ev. Events already seen are dropped. Events for the same
// address are handled one at a time, and the address is only released once
// the turn's session writes are saved so the next turn loads them.
func (b *Bot) Dispatch(ctx context.Context, ev Event) error {
	start := time.Now()
	defer func() { metrics.ObserveDispatch(time.Since(start).Seconds()) }()

	if ev.ID != "" && b.seen.Seen(ev.ID) {
		b.logger.Debug("dropping duplicate event", "event_id", ev.ID, "transport", ev.Transport)
		metrics.RecordEvent("duplicate")
		return nil
	}

	address := ev.Address
	if address == "" {
		address = session.Anonymous
	}
	ev.Body = strings.TrimSpace(ev.Body)

	var handleErr error
	err := b.WithSession(ctx, address, func(s *session.Session) error {
		handler := b.fallback
		if h, ok := s.Thread().(Handler); ok {
			handler = h
		}

		b.logger.Debug("handling event",
			"event_id", ev.ID,
			"address", address,
			"thread", s.ThreadName(),
			"state", s.State(),
		)
		handleErr = handler.Handle(ctx, s, ev)
		return handleErr
	})

	switch {
	case err == nil:
		metrics.RecordEvent("handled")
		return nil
	case handleErr != nil:
		metrics.RecordEvent("error")
		return fmt.Errorf("handling event: %w", handleErr)
	default:
		b.forget(ev)
		metrics.RecordEvent("error")
		return err
	}
}

// WithSession loads the session for address and runs fn with it while
// holding the address lock. The lock is released once the session's writes
// are saved.
func (b *Bot) WithSession(ctx context.Context, address string, fn func(*session.Session) error) error {
	unlock := b.locks.lock(address)
	defer unlock()

	s := session.New(b.deps, address)
	if err := s.Load(ctx); err != nil {
		return fmt.Errorf("loading session: %w", err)
	}

	fnErr := fn(s)

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.saveTimeout())
	defer cancel()
	if err := s.Wait(waitCtx); err != nil {
		b.logger.Error("session writes not saved", "address", s.Address(), "error", err)
	}
	return fnErr
}

// Close stops the dedupe cache sweeper.
func (b *Bot) Close() {
	b.seen.Close()
}

// forget lets a redelivery of ev be handled after a failed load.
func (b *Bot) forget(ev Event) {
	if ev.ID != "" {
		b.seen.Forget(ev.ID)
	}
}

func (b *Bot) saveTimeout() time.Duration {
	if b.deps.SaveTimeout > 0 {
		return b.deps.SaveTimeout
	}
	return 10 * time.Second
}
