// ABOUTME: Collaborator contracts the session depends on and the Deps bundle injecting them
// ABOUTME: Store, identity, message gateway, signing RPC, balances, rates, thread registry

package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"time"

	"github.com/2389/coven-paybot/internal/fiat"
	"github.com/2389/coven-paybot/internal/identity"
	"github.com/2389/coven-paybot/internal/sofa"
	"github.com/2389/coven-paybot/internal/store"
)

// IdentityService resolves an address to a user profile.
type IdentityService interface {
	GetUser(ctx context.Context, address string) (*identity.User, error)
}

// MessageGateway delivers outbound messages to a user's transport address.
type MessageGateway interface {
	Send(ctx context.Context, address string, msg sofa.Message) error
}

// RPCClient submits requests to the signing client on behalf of a session.
type RPCClient interface {
	Call(ctx context.Context, address, method string, params any) (json.RawMessage, error)
}

// BalanceFetcher returns an account balance in wei.
type BalanceFetcher interface {
	Balance(ctx context.Context, address string) (*big.Int, error)
}

// RateService returns current ether exchange rates keyed by upper-case code.
type RateService interface {
	Fetch(ctx context.Context) (fiat.Rates, error)
}

// Deps bundles everything a Session needs. One Deps is shared by all sessions.
type Deps struct {
	Store    store.SessionStore
	Threads  *Registry
	Identity IdentityService
	Gateway  MessageGateway
	RPC      RPCClient
	Balances BalanceFetcher
	Rates    RateService

	// PaymentAddress is the bot's own payment address, used as the default
	// balance account and as the destination of payment requests.
	PaymentAddress string
	// TokenIDAddress is the bot's identity address, reported as the sender
	// of payment notifications.
	TokenIDAddress string

	// SaveTimeout bounds each background save (default 10s).
	SaveTimeout time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Deps) saveTimeout() time.Duration {
	if d.SaveTimeout > 0 {
		return d.SaveTimeout
	}
	return 10 * time.Second
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Deps) threads() *Registry {
	if d.Threads != nil {
		return d.Threads
	}
	return emptyRegistry
}
