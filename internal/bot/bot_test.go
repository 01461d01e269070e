// ABOUTME: Tests for event dispatch, the default commands, and the tip thread
// ABOUTME: Drives whole handling turns against MockStore and fake collaborators

package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-paybot/internal/fiat"
	"github.com/2389/coven-paybot/internal/identity"
	"github.com/2389/coven-paybot/internal/session"
	"github.com/2389/coven-paybot/internal/sofa"
	"github.com/2389/coven-paybot/internal/store"
	"github.com/2389/coven-paybot/internal/txn"
)

type fakeGateway struct {
	mu   sync.Mutex
	sent []sofa.Message
}

func (g *fakeGateway) Send(ctx context.Context, address string, msg sofa.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, msg)
	return nil
}

func (g *fakeGateway) texts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, m := range g.sent {
		out = append(out, m.Text())
	}
	return out
}

func (g *fakeGateway) last() sofa.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.sent) == 0 {
		return nil
	}
	return g.sent[len(g.sent)-1]
}

type fakeRPC struct {
	mu    sync.Mutex
	calls []*txn.Request
}

func (r *fakeRPC) Call(ctx context.Context, address, method string, params any) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, _ := params.(*txn.Request)
	r.calls = append(r.calls, req)
	return json.RawMessage(fmt.Sprintf(`{"txHash":"0xTX%d"}`, len(r.calls))), nil
}

type fakeIdentity map[string]*identity.User

func (f fakeIdentity) GetUser(ctx context.Context, address string) (*identity.User, error) {
	if u, ok := f[address]; ok {
		return u, nil
	}
	return &identity.User{}, nil
}

type fixedBalance struct{ wei *big.Int }

func (f fixedBalance) Balance(ctx context.Context, address string) (*big.Int, error) {
	return f.wei, nil
}

type fixedRates fiat.Rates

func (f fixedRates) Fetch(ctx context.Context) (fiat.Rates, error) {
	return fiat.Rates(f), nil
}

type harness struct {
	bot     *Bot
	store   *store.MockStore
	gateway *fakeGateway
	rpc     *fakeRPC
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	threads := session.NewRegistry()
	require.NoError(t, RegisterThreads(threads, logger))

	h := &harness{
		store:   store.NewMockStore(),
		gateway: &fakeGateway{},
		rpc:     &fakeRPC{},
	}
	deps := &session.Deps{
		Store:   h.store,
		Threads: threads,
		Identity: fakeIdentity{
			"0xALICE": {TokenID: "0xALICE", PaymentAddress: "0xA11CE"},
			"0xBOB":   {TokenID: "0xBOB"},
		},
		Gateway:        h.gateway,
		RPC:            h.rpc,
		Balances:       fixedBalance{wei: new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)},
		Rates:          fixedRates{"USD": {Code: "USD", PerEther: big.NewRat(2500, 1)}},
		PaymentAddress: "0xB07",
		Logger:         logger,
	}

	b, err := New(Config{
		Deps:    deps,
		Default: NewCommands(threads, logger),
		Logger:  logger,
	})
	require.NoError(t, err)
	t.Cleanup(b.Close)
	h.bot = b
	return h
}

func (h *harness) say(t *testing.T, address, body string) {
	t.Helper()
	require.NoError(t, h.bot.Dispatch(context.Background(), Event{Address: address, Body: body, Transport: "test"}))
}

func TestNew_RequiresDepsAndHandler(t *testing.T) {
	_, err := New(Config{Default: NewCommands(nil, nil)})
	assert.Error(t, err)

	_, err = New(Config{Deps: &session.Deps{}})
	assert.Error(t, err)
}

func TestDispatch_DropsDuplicateEvents(t *testing.T) {
	h := newHarness(t)
	ev := Event{ID: "evt-1", Address: "0xALICE", Body: "help"}

	require.NoError(t, h.bot.Dispatch(context.Background(), ev))
	require.NoError(t, h.bot.Dispatch(context.Background(), ev))

	assert.Len(t, h.gateway.texts(), 1)
}

func TestDispatch_LoadFailureAllowsRedelivery(t *testing.T) {
	h := newHarness(t)
	ev := Event{ID: "evt-1", Address: "0xALICE", Body: "help"}

	h.store.SetLoadError(errors.New("store unavailable"))
	assert.Error(t, h.bot.Dispatch(context.Background(), ev))

	h.store.SetLoadError(nil)
	require.NoError(t, h.bot.Dispatch(context.Background(), ev))
	assert.Len(t, h.gateway.texts(), 1)
}

func TestDispatch_SerializesPerAddress(t *testing.T) {
	h := newHarness(t)
	deps := h.bot.deps
	counter := HandlerFunc(func(ctx context.Context, s *session.Session, ev Event) error {
		n, _ := s.Get("n").(float64)
		s.Set("n", n+1)
		return nil
	})
	b, err := New(Config{Deps: deps, Default: counter})
	require.NoError(t, err)
	defer b.Close()

	var wg sync.WaitGroup
	for i := range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, b.Dispatch(context.Background(), Event{ID: fmt.Sprint(i), Address: "0xALICE"}))
		}()
	}
	wg.Wait()

	rec, err := h.store.LoadSession(context.Background(), "0xALICE")
	require.NoError(t, err)
	assert.Equal(t, float64(25), rec["n"])
	assert.Equal(t, 0, b.locks.len())
}

func TestDispatch_HandlerError(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("handler broke")
	b, err := New(Config{Deps: h.bot.deps, Default: HandlerFunc(func(ctx context.Context, s *session.Session, ev Event) error {
		return boom
	})})
	require.NoError(t, err)
	defer b.Close()

	assert.ErrorIs(t, b.Dispatch(context.Background(), Event{Address: "0xALICE"}), boom)
}

func TestCommands_Help(t *testing.T) {
	h := newHarness(t)

	h.say(t, "0xALICE", "what?")

	texts := h.gateway.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "balance [unit|currency]")
	assert.Contains(t, texts[0], "Threads: tip")
}

func TestCommands_Balance(t *testing.T) {
	h := newHarness(t)

	h.say(t, "0xALICE", "balance")
	h.say(t, "0xALICE", "balance usd")
	h.say(t, "0xALICE", "balance gwei")
	h.say(t, "0xALICE", "balance XYZ")

	assert.Equal(t, []string{
		"Balance: 1 ETH",
		"Balance: 2500 USD",
		"Balance: 1000000000 gwei",
		`I don't know the currency "XYZ".`,
	}, h.gateway.texts())
}

func TestCommands_Pay(t *testing.T) {
	h := newHarness(t)

	h.say(t, "0xALICE", "pay 0.25")

	require.Len(t, h.rpc.calls, 1)
	assert.Equal(t, "0xA11CE", h.rpc.calls[0].To)
	assert.Equal(t, "0x3782dace9d90000", h.rpc.calls[0].Value)
	payment, ok := h.gateway.last().(sofa.Payment)
	require.True(t, ok)
	assert.Equal(t, "unconfirmed", payment.Status)
	assert.Equal(t, "0xTX1", payment.TxHash)
}

func TestCommands_PayWithoutPaymentAddress(t *testing.T) {
	h := newHarness(t)

	h.say(t, "0xBOB", "pay 1")

	assert.Empty(t, h.rpc.calls)
	assert.Equal(t, []string{"You don't have a payment address to send to."}, h.gateway.texts())
}

func TestCommands_PayBadAmount(t *testing.T) {
	h := newHarness(t)

	h.say(t, "0xALICE", "pay lots")

	assert.Empty(t, h.rpc.calls)
	assert.Equal(t, []string{`"lots" isn't an amount of ether I can send.`}, h.gateway.texts())
}

func TestCommands_Request(t *testing.T) {
	h := newHarness(t)

	h.say(t, "0xBOB", "request 1 for lunch")
	h.say(t, "0xUNKNOWN", "request 1")

	req, ok := h.gateway.last().(sofa.Text)
	require.True(t, ok)
	assert.Equal(t, "I can only request payments from registered users.", req.Body)

	h.gateway.mu.Lock()
	first := h.gateway.sent[0]
	h.gateway.mu.Unlock()
	assert.Equal(t, sofa.PaymentRequest{
		Body:               "for lunch",
		Value:              "0xde0b6b3a7640000",
		DestinationAddress: "0xB07",
	}, first)
}

func TestCommands_StateAndReset(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.SaveSession(context.Background(), "0xALICE", store.Record{
		"address": "0xALICE",
		"color":   "blue",
		"_state":  "somewhere",
	}))

	h.say(t, "0xALICE", "state")
	assert.Contains(t, h.gateway.texts()[0], `"color":"blue"`)

	h.say(t, "0xALICE", "reset")
	assert.Equal(t, "Session reset.", h.gateway.texts()[1])

	rec, err := h.store.LoadSession(context.Background(), "0xALICE")
	require.NoError(t, err)
	assert.NotContains(t, rec, "color")
	assert.Nil(t, rec["_thread"])
	assert.Nil(t, rec["_state"])
}

func TestCommands_OpenUnknownThread(t *testing.T) {
	h := newHarness(t)

	h.say(t, "0xALICE", "open lottery")
	h.say(t, "0xALICE", "close")

	assert.Equal(t, []string{
		`There is no thread called "lottery".`,
		"No thread is open.",
	}, h.gateway.texts())
}

func TestCommands_AnonymousRepliesAreDropped(t *testing.T) {
	h := newHarness(t)

	h.say(t, "", "help")

	assert.Empty(t, h.gateway.texts())
}

func TestTipThread_FullDialog(t *testing.T) {
	h := newHarness(t)

	h.say(t, "0xALICE", "open tip")
	h.say(t, "0xALICE", "a lot")
	h.say(t, "0xALICE", "0.5")
	h.say(t, "0xALICE", "maybe")
	h.say(t, "0xALICE", "yes")

	require.Len(t, h.rpc.calls, 1)
	assert.Equal(t, "0x6f05b59d3b20000", h.rpc.calls[0].Value)

	texts := h.gateway.texts()
	assert.Equal(t, "How much ether would you like to tip? Say cancel to stop.", texts[0])
	assert.Equal(t, "Please give a positive amount of ether, like 0.01.", texts[1])
	assert.Equal(t, "Send 0.5 ETH? (yes/no)", texts[2])
	assert.Equal(t, "Please answer yes or no.", texts[3])
	_, ok := h.gateway.last().(sofa.Payment)
	assert.True(t, ok)

	rec, err := h.store.LoadSession(context.Background(), "0xALICE")
	require.NoError(t, err)
	assert.Nil(t, rec["_thread"])
	assert.NotContains(t, rec, tipAmountKey)
}

func TestTipThread_Cancel(t *testing.T) {
	h := newHarness(t)

	h.say(t, "0xALICE", "open tip")
	h.say(t, "0xALICE", "0.1")
	h.say(t, "0xALICE", "cancel")

	assert.Empty(t, h.rpc.calls)
	assert.Equal(t, "Tip cancelled.", h.gateway.texts()[2])

	h.say(t, "0xALICE", "close")
	assert.Equal(t, "No thread is open.", h.gateway.texts()[3])
}
