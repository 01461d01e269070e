// ABOUTME: Default text command handler for sessions with no message-handling thread
// ABOUTME: balance, pay, request, state, reset, open/close thread, and help

package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/coven-paybot/internal/session"
	"github.com/2389/coven-paybot/internal/txn"
	"github.com/2389/coven-paybot/internal/unit"
)

const helpText = `Commands:
  balance [unit|currency]   show the bot's balance (default ether)
  pay <ether>               send ether to your payment address
  request <ether> [memo]    ask you to pay ether to the bot
  state                     show your stored session
  reset                     forget everything about this conversation
  open <thread>             start a conversation thread
  close                     leave the current thread
  help                      show this message`

// balancePlaces is how many decimals balances are shown with.
const balancePlaces = 6

// Commands is the default Handler.
type Commands struct {
	threads *session.Registry
	logger  *slog.Logger
}

// NewCommands creates the default command handler. threads is used to list
// thread names in help and may be nil.
func NewCommands(threads *session.Registry, logger *slog.Logger) *Commands {
	if logger == nil {
		logger = slog.Default()
	}
	return &Commands{
		threads: threads,
		logger:  logger.With("component", "commands"),
	}
}

// Handle runs the command in ev.Body. Unknown input gets the help text.
// Command failures are reported to the user; only reply failures are returned.
func (c *Commands) Handle(ctx context.Context, s *session.Session, ev Event) error {
	fields := strings.Fields(ev.Body)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "balance":
		return c.balance(ctx, s, args)
	case "pay":
		return c.pay(ctx, s, args)
	case "request":
		return c.request(ctx, s, args)
	case "state":
		return replyIfAddressed(s.Say(ctx, "%s", s.JSON()))
	case "reset":
		s.Reset(ctx)
		return replyIfAddressed(s.Say(ctx, "Session reset."))
	case "open":
		return c.open(ctx, s, args)
	case "close":
		if s.Thread() == nil {
			return replyIfAddressed(s.Say(ctx, "No thread is open."))
		}
		s.CloseThread(ctx)
		return replyIfAddressed(s.Say(ctx, "Thread closed."))
	default:
		return replyIfAddressed(s.Say(ctx, "%s", c.help()))
	}
}

func (c *Commands) balance(ctx context.Context, s *session.Session, args []string) error {
	currency := ""
	if len(args) > 0 {
		currency = args[0]
	}

	amount, err := s.Balance(ctx, "", currency)
	if err != nil {
		c.logger.Warn("balance lookup failed", "address", s.Address(), "error", err)
		if errors.Is(err, session.ErrUnknownCurrency) {
			return replyIfAddressed(s.Say(ctx, "I don't know the currency %q.", currency))
		}
		return replyIfAddressed(s.Say(ctx, "Couldn't fetch the balance right now."))
	}

	label := strings.ToUpper(currency)
	if label == "" || label == "ETH" {
		label = "ETH"
	} else if unit.IsDenomination(currency) {
		label = strings.ToLower(currency)
	}
	return replyIfAddressed(s.Say(ctx, "Balance: %s %s", unit.Format(amount, balancePlaces), label))
}

func (c *Commands) pay(ctx context.Context, s *session.Session, args []string) error {
	if len(args) != 1 {
		return replyIfAddressed(s.Say(ctx, "Usage: pay <ether>"))
	}

	_, err := s.SendEth(ctx, args[0], txn.NoOptions{})
	switch {
	case err == nil:
		return nil // the payment notification is the reply
	case errors.Is(err, txn.ErrNoPaymentAddress):
		return replyIfAddressed(s.Say(ctx, "You don't have a payment address to send to."))
	case errors.Is(err, unit.ErrInvalidNumber), errors.Is(err, unit.ErrTooPrecise), errors.Is(err, txn.ErrInvalidOptions):
		return replyIfAddressed(s.Say(ctx, "%q isn't an amount of ether I can send.", args[0]))
	default:
		c.logger.Error("payment failed", "address", s.Address(), "error", err)
		return replyIfAddressed(s.Say(ctx, "The payment couldn't be sent."))
	}
}

func (c *Commands) request(ctx context.Context, s *session.Session, args []string) error {
	if len(args) == 0 {
		return replyIfAddressed(s.Say(ctx, "Usage: request <ether> [memo]"))
	}
	memo := strings.Join(args[1:], " ")

	err := s.RequestEth(ctx, args[0], memo)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrNoTokenID):
		return replyIfAddressed(s.Say(ctx, "I can only request payments from registered users."))
	case errors.Is(err, unit.ErrInvalidNumber), errors.Is(err, unit.ErrTooPrecise), errors.Is(err, txn.ErrInvalidOptions):
		return replyIfAddressed(s.Say(ctx, "%q isn't an amount of ether I can request.", args[0]))
	default:
		return replyIfAddressed(err)
	}
}

func (c *Commands) open(ctx context.Context, s *session.Session, args []string) error {
	if len(args) != 1 {
		return replyIfAddressed(s.Say(ctx, "Usage: open <thread>"))
	}
	if err := s.OpenThread(ctx, args[0]); err != nil {
		if errors.Is(err, session.ErrThreadNotFound) {
			return replyIfAddressed(s.Say(ctx, "There is no thread called %q.", args[0]))
		}
		return err
	}
	return nil
}

func (c *Commands) help() string {
	if c.threads == nil {
		return helpText
	}
	names := c.threads.Names()
	if len(names) == 0 {
		return helpText
	}
	return fmt.Sprintf("%s\n\nThreads: %s", helpText, strings.Join(names, ", "))
}

// replyIfAddressed drops ErrNoRecipient: anonymous sessions have nowhere to
// send replies and that is already logged by the session.
func replyIfAddressed(err error) error {
	if errors.Is(err, session.ErrNoRecipient) {
		return nil
	}
	return err
}
