package session

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-paybot/internal/fiat"
	"github.com/2389/coven-paybot/internal/identity"
	"github.com/2389/coven-paybot/internal/sofa"
	"github.com/2389/coven-paybot/internal/txn"
)

var oneEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func TestBalance_DefaultsToEther(t *testing.T) {
	env := newTestEnv(t)
	env.balances.wei = oneEther
	s := New(env.deps, "0xUSER")

	got, err := s.Balance(context.Background(), "", "")
	require.NoError(t, err)

	assert.Equal(t, 0, got.Cmp(big.NewRat(1, 1)))
	assert.Equal(t, []string{"0xB07"}, env.balances.addresses)
}

func TestBalance_EthAlias(t *testing.T) {
	env := newTestEnv(t)
	env.balances.wei = oneEther
	s := New(env.deps, "0xUSER")

	got, err := s.Balance(context.Background(), "0xDEF", "ETH")
	require.NoError(t, err)
	assert.Equal(t, "1", got.RatString())
}

func TestBalance_Denomination(t *testing.T) {
	env := newTestEnv(t)
	env.balances.wei = oneEther
	s := New(env.deps, "0xUSER")

	got, err := s.Balance(context.Background(), "0xDEF", "gwei")
	require.NoError(t, err)
	assert.Equal(t, "1000000000", got.RatString())
}

func TestBalance_FiatCodeInAddressSlot(t *testing.T) {
	env := newTestEnv(t)
	env.balances.wei = oneEther
	env.rates.rates = fiat.Rates{"SGD": {Code: "SGD", PerEther: big.NewRat(2, 1)}}
	s := New(env.deps, "0xUSER")

	got, err := s.Balance(context.Background(), "SGD", "")
	require.NoError(t, err)

	assert.Equal(t, "2", got.RatString())
	assert.Equal(t, []string{"0xB07"}, env.balances.addresses)
}

func TestBalance_AddressAndFiat(t *testing.T) {
	env := newTestEnv(t)
	env.balances.wei = new(big.Int).Div(oneEther, big.NewInt(2))
	env.rates.rates = fiat.Rates{"USD": {Code: "USD", PerEther: big.NewRat(3000, 1)}}
	s := New(env.deps, "0xUSER")

	got, err := s.Balance(context.Background(), "0xDEF", "usd")
	require.NoError(t, err)

	assert.Equal(t, "1500", got.RatString())
	assert.Equal(t, []string{"0xDEF"}, env.balances.addresses)
}

func TestBalance_UnknownCurrency(t *testing.T) {
	env := newTestEnv(t)
	env.balances.wei = oneEther
	s := New(env.deps, "0xUSER")

	_, err := s.Balance(context.Background(), "0xDEF", "XYZ")
	assert.ErrorIs(t, err, ErrUnknownCurrency)
}

func TestBalance_CollaboratorErrorsPropagate(t *testing.T) {
	t.Run("balance", func(t *testing.T) {
		env := newTestEnv(t)
		boom := errors.New("node unreachable")
		env.balances.err = boom
		s := New(env.deps, "0xUSER")

		_, err := s.Balance(context.Background(), "", "")
		assert.ErrorIs(t, err, boom)
	})

	t.Run("rates", func(t *testing.T) {
		env := newTestEnv(t)
		env.balances.wei = oneEther
		boom := errors.New("rates unavailable")
		env.rates.err = boom
		s := New(env.deps, "0xUSER")

		_, err := s.Balance(context.Background(), "", "USD")
		assert.ErrorIs(t, err, boom)
	})
}

func payingUser(t *testing.T, env *testEnv, paymentAddress string) *Session {
	t.Helper()
	env.identity.users["0xUSER"] = &identity.User{TokenID: "0xUSER", PaymentAddress: paymentAddress}
	return env.loaded(t, "0xUSER")
}

func sentRequest(t *testing.T, env *testEnv) *txn.Request {
	t.Helper()
	require.Len(t, env.rpc.calls, 1)
	req, ok := env.rpc.calls[0].params.(*txn.Request)
	require.True(t, ok)
	return req
}

func TestSendWei_DefaultsToUserPaymentAddress(t *testing.T) {
	env := newTestEnv(t)
	env.rpc.result = json.RawMessage(`{"txHash":"0xHASH"}`)
	s := payingUser(t, env, "0xABC")

	res, err := s.SendWei(context.Background(), txn.Uint64(1), txn.FullOptions{})
	require.NoError(t, err)
	assert.Equal(t, "0xHASH", res.TxHash)

	req := sentRequest(t, env)
	assert.Equal(t, "0xABC", req.To)
	assert.Equal(t, "0x1", req.Value)
	assert.Equal(t, "0xUSER", env.rpc.calls[0].address)
	assert.Equal(t, MethodSendTransaction, env.rpc.calls[0].method)
}

func TestSendWei_ShorthandMatchesEmptyOptions(t *testing.T) {
	env := newTestEnv(t)
	s := payingUser(t, env, "0xABC")

	_, err := s.SendWei(context.Background(), txn.Uint64(1), nil)
	require.NoError(t, err)
	_, err = s.SendWei(context.Background(), txn.Uint64(1), txn.FullOptions{})
	require.NoError(t, err)

	require.Len(t, env.rpc.calls, 2)
	assert.Equal(t, env.rpc.calls[0].params, env.rpc.calls[1].params)
}

func TestSendWei_ExplicitNoRecipient(t *testing.T) {
	env := newTestEnv(t)
	s := payingUser(t, env, "0xABC")

	_, err := s.SendWei(context.Background(), txn.Uint64(1), txn.NoRecipient())
	require.NoError(t, err)

	raw, err := json.Marshal(sentRequest(t, env))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"to"`)
}

func TestSendWei_NoPaymentAddress(t *testing.T) {
	env := newTestEnv(t)
	s := payingUser(t, env, "")

	_, err := s.SendWei(context.Background(), txn.Uint64(1), txn.NoOptions{})

	assert.ErrorIs(t, err, txn.ErrNoPaymentAddress)
	assert.Empty(t, env.rpc.calls)
	assert.Empty(t, env.gateway.messages())
}

func TestSendWei_NormalizesGas(t *testing.T) {
	env := newTestEnv(t)
	s := payingUser(t, env, "0xABC")

	_, err := s.SendWei(context.Background(), txn.Uint64(1), txn.FullOptions{
		Gas:      txn.Number(21000),
		GasPrice: txn.Hex("0x4a817c800"),
	})
	require.NoError(t, err)

	req := sentRequest(t, env)
	assert.Equal(t, "0x5208", req.Gas)
	assert.Equal(t, "0x4a817c800", req.GasPrice)
}

func TestSendWei_EmitsPaymentNotification(t *testing.T) {
	env := newTestEnv(t)
	env.rpc.result = json.RawMessage(`{"txHash":"0xHASH"}`)
	s := payingUser(t, env, "0xABC")

	_, err := s.SendWei(context.Background(), txn.Number(255), txn.ToAddress("0xFRIEND"))
	require.NoError(t, err)

	sent := env.gateway.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, sofa.Payment{
		Status:      "unconfirmed",
		Value:       "0xff",
		TxHash:      "0xHASH",
		FromAddress: "0xB07ID",
		ToAddress:   "0xFRIEND",
	}, sent[0].msg)
}

func TestSendWei_NullResultSkipsNotification(t *testing.T) {
	env := newTestEnv(t)
	env.rpc.result = json.RawMessage(`null`)
	s := payingUser(t, env, "0xABC")

	res, err := s.SendWei(context.Background(), txn.Uint64(1), nil)

	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, env.gateway.messages())
}

func TestSendWei_RPCError(t *testing.T) {
	env := newTestEnv(t)
	boom := errors.New("signer offline")
	env.rpc.err = boom
	s := payingUser(t, env, "0xABC")

	_, err := s.SendWei(context.Background(), txn.Uint64(1), nil)

	assert.ErrorIs(t, err, boom)
	assert.Empty(t, env.gateway.messages())
}

func TestSendWei_InvalidOptions(t *testing.T) {
	env := newTestEnv(t)
	s := payingUser(t, env, "0xABC")

	_, err := s.SendWei(context.Background(), txn.Hex("nope"), nil)

	assert.ErrorIs(t, err, txn.ErrInvalidOptions)
	assert.Empty(t, env.rpc.calls)
}

func TestSendEth(t *testing.T) {
	env := newTestEnv(t)
	s := payingUser(t, env, "0xABC")

	_, err := s.SendEth(context.Background(), "1.5", nil)
	require.NoError(t, err)

	assert.Equal(t, "0x14d1120d7b160000", sentRequest(t, env).Value)
}

func TestRequestEth(t *testing.T) {
	env := newTestEnv(t)
	s := payingUser(t, env, "0xABC")

	require.NoError(t, s.RequestEth(context.Background(), "0.5", "for the pizza"))

	sent := env.gateway.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, sofa.PaymentRequest{
		Body:               "for the pizza",
		Value:              "0x6f05b59d3b20000",
		DestinationAddress: "0xB07",
	}, sent[0].msg)
}

func TestRequestEth_NoTokenID(t *testing.T) {
	env := newTestEnv(t)
	s := env.loaded(t, "0xUSER")

	err := s.RequestEth(context.Background(), "1", "pay up")

	assert.ErrorIs(t, err, ErrNoTokenID)
	assert.Empty(t, env.gateway.messages())
}

func TestPayments_MissingCollaborators(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Balances = nil
	env.deps.RPC = nil
	s := New(env.deps, "0xUSER")

	_, err := s.Balance(context.Background(), "0xDEF", "")
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = s.SendWei(context.Background(), txn.Number(1), txn.ToAddress("0xABC"))
	assert.ErrorIs(t, err, ErrNotConfigured)

	env.deps.Balances = env.balances
	env.deps.Rates = nil
	_, err = s.Balance(context.Background(), "0xDEF", "usd")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
