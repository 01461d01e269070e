// ABOUTME: Redis pub/sub client for the headless signing client
// ABOUTME: Sends SOFA messages, makes correlated RPC calls, and listens for inbound events

package headless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/2389/coven-paybot/internal/bot"
	"github.com/2389/coven-paybot/internal/sofa"
)

// TransportName identifies events that arrived through this client.
const TransportName = "headless"

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("headless client closed")

// RPCError is an error reported by the signing client.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Envelope carries one SOFA message to or from a user.
type Envelope struct {
	ID        string `json:"id"`
	Sender    string `json:"sender,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	SOFA      string `json:"sofa"`
}

// Request is a JSON-RPC call made on behalf of a user address.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	Address string `json:"address"`
}

// Response answers the Request with the same ID.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// Config configures a Client.
type Config struct {
	Prefix      string        // channel prefix (default "paybot")
	CallTimeout time.Duration // per-call deadline when ctx has none (default 30s)
	Logger      *slog.Logger
}

// Client is a session.MessageGateway and session.RPCClient backed by Redis.
type Client struct {
	rdb         *redis.Client
	prefix      string
	callTimeout time.Duration
	logger      *slog.Logger

	responses *redis.PubSub
	done      chan struct{}

	mu      sync.Mutex
	pending map[string]chan *Response
	closed  bool
}

// New subscribes to the response channel and starts routing responses. The
// subscription is confirmed before New returns.
func New(ctx context.Context, rdb *redis.Client, cfg Config) (*Client, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "paybot"
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Client{
		rdb:         rdb,
		prefix:      cfg.Prefix,
		callTimeout: cfg.CallTimeout,
		logger:      cfg.Logger.With("component", "headless"),
		done:        make(chan struct{}),
		pending:     make(map[string]chan *Response),
	}

	c.responses = rdb.Subscribe(ctx, c.channel("rpc:response"))
	if _, err := c.responses.Receive(ctx); err != nil {
		_ = c.responses.Close()
		return nil, fmt.Errorf("subscribing to rpc responses: %w", err)
	}

	go c.routeResponses()
	return c, nil
}

func (c *Client) channel(name string) string {
	return c.prefix + ":" + name
}

// Send publishes msg for delivery to address.
func (c *Client) Send(ctx context.Context, address string, msg sofa.Message) error {
	encoded, err := sofa.Encode(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	env := Envelope{ID: uuid.New().String(), Recipient: address, SOFA: encoded}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	if err := c.rdb.Publish(ctx, c.channel("outbound"), payload).Err(); err != nil {
		return fmt.Errorf("publishing message: %w", err)
	}
	c.logger.Debug("message published", "id", env.ID, "recipient", address, "type", msg.Type())
	return nil
}

// Call publishes a request and waits for the response with the same id.
// A JSON null result comes back as nil.
func (c *Client) Call(ctx context.Context, address, method string, params any) (json.RawMessage, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	req := Request{
		JSONRPC: "2.0",
		ID:      uuid.New().String(),
		Method:  method,
		Params:  params,
		Address: address,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	ch := make(chan *Response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	if err := c.rdb.Publish(ctx, c.channel("rpc"), payload).Err(); err != nil {
		return nil, fmt.Errorf("publishing request: %w", err)
	}
	c.logger.Debug("rpc request published", "id", req.ID, "method", method, "address", address)

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		if len(resp.Result) == 0 || string(resp.Result) == "null" {
			return nil, nil
		}
		return resp.Result, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s response: %w", method, ctx.Err())
	}
}

func (c *Client) routeResponses() {
	msgs := c.responses.Channel()
	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var resp Response
			if err := json.Unmarshal([]byte(msg.Payload), &resp); err != nil {
				c.logger.Warn("dropping malformed rpc response", "error", err)
				continue
			}

			c.mu.Lock()
			ch, ok := c.pending[resp.ID]
			c.mu.Unlock()
			if !ok {
				c.logger.Debug("dropping rpc response with no caller", "id", resp.ID)
				continue
			}
			// a repeated id must not stall routing for other callers
			select {
			case ch <- &resp:
			default:
				c.logger.Debug("dropping duplicate rpc response", "id", resp.ID)
			}
		}
	}
}

// Listen delivers inbound user messages to handle until ctx is cancelled.
// Each event runs on its own goroutine, so handle must serialize work per
// address itself. Envelopes that aren't text messages are skipped and
// handler errors are logged. Listen returns once in-flight handlers finish.
func (c *Client) Listen(ctx context.Context, handle func(context.Context, bot.Event) error) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	sub := c.rdb.Subscribe(ctx, c.channel("inbound"))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to inbound messages: %w", err)
	}
	c.logger.Info("listening for inbound messages", "channel", c.channel("inbound"))

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return ErrClosed
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			ev, ok := c.decodeInbound(msg.Payload)
			if !ok {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := handle(ctx, ev); err != nil {
					c.logger.Error("failed to handle inbound message", "id", ev.ID, "sender", ev.Address, "error", err)
				}
			}()
		}
	}
}

func (c *Client) decodeInbound(payload string) (bot.Event, bool) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		c.logger.Warn("dropping malformed inbound envelope", "error", err)
		return bot.Event{}, false
	}
	msg, err := sofa.Decode(env.SOFA)
	if err != nil {
		c.logger.Warn("dropping malformed inbound message", "id", env.ID, "error", err)
		return bot.Event{}, false
	}
	text, ok := msg.(sofa.Text)
	if !ok {
		return bot.Event{}, false
	}
	return bot.Event{
		ID:        env.ID,
		Address:   env.Sender,
		Body:      text.Body,
		Transport: TransportName,
	}, true
}

// Close stops routing responses and fails outstanding calls with ErrClosed.
// The Redis client itself is left open.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	return c.responses.Close()
}
