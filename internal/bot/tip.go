// ABOUTME: The built-in "tip" thread: asks for an amount, confirms, then sends it
// ABOUTME: Shows how a thread drives a multi-step dialog through session state

package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/2389/coven-paybot/internal/session"
	"github.com/2389/coven-paybot/internal/txn"
	"github.com/2389/coven-paybot/internal/unit"
)

// TipThreadName is the name the tip thread registers under.
const TipThreadName = "tip"

const (
	tipStateAmount  = "tip:amount"
	tipStateConfirm = "tip:confirm"
	tipAmountKey    = "tip_amount"
)

// TipThread walks a user through sending a tip.
type TipThread struct {
	logger *slog.Logger
}

// NewTipThread creates the tip thread.
func NewTipThread(logger *slog.Logger) *TipThread {
	if logger == nil {
		logger = slog.Default()
	}
	return &TipThread{logger: logger.With("component", "tip")}
}

// RegisterThreads adds the built-in threads to r.
func RegisterThreads(r *session.Registry, logger *slog.Logger) error {
	return r.Register(TipThreadName, NewTipThread(logger))
}

func (t *TipThread) Open(ctx context.Context, s *session.Session) {
	s.SetState(tipStateAmount)
	t.say(ctx, s, "How much ether would you like to tip? Say cancel to stop.")
}

func (t *TipThread) Close(ctx context.Context, s *session.Session) {
	s.Delete(tipAmountKey)
}

// Handle advances the dialog by one message.
func (t *TipThread) Handle(ctx context.Context, s *session.Session, ev Event) error {
	body := strings.ToLower(strings.TrimSpace(ev.Body))
	if body == "cancel" {
		s.CloseThread(ctx)
		t.say(ctx, s, "Tip cancelled.")
		return nil
	}

	switch s.State() {
	case tipStateConfirm:
		return t.confirm(ctx, s, body)
	default:
		return t.amount(ctx, s, body)
	}
}

func (t *TipThread) amount(ctx context.Context, s *session.Session, body string) error {
	wei, err := unit.ToWei(body, unit.Ether)
	if err != nil || wei.Sign() <= 0 {
		t.say(ctx, s, "Please give a positive amount of ether, like 0.01.")
		return nil
	}
	s.Set(tipAmountKey, body)
	s.SetState(tipStateConfirm)
	t.say(ctx, s, "Send "+body+" ETH? (yes/no)")
	return nil
}

func (t *TipThread) confirm(ctx context.Context, s *session.Session, body string) error {
	switch body {
	case "yes", "y":
	case "no", "n":
		s.CloseThread(ctx)
		t.say(ctx, s, "Tip cancelled.")
		return nil
	default:
		t.say(ctx, s, "Please answer yes or no.")
		return nil
	}

	amount, _ := s.GetString(tipAmountKey)
	_, err := s.SendEth(ctx, amount, txn.NoOptions{})
	s.CloseThread(ctx)

	if errors.Is(err, txn.ErrNoPaymentAddress) {
		t.say(ctx, s, "You don't have a payment address to send to.")
		return nil
	}
	if err != nil {
		t.logger.Error("tip failed", "address", s.Address(), "error", err)
		t.say(ctx, s, "The tip couldn't be sent.")
		return nil
	}
	return nil
}

func (t *TipThread) say(ctx context.Context, s *session.Session, text string) {
	if err := s.Say(ctx, "%s", text); err != nil && !errors.Is(err, session.ErrNoRecipient) {
		t.logger.Warn("tip reply failed", "address", s.Address(), "error", err)
	}
}
