// ABOUTME: Balance resolution, transaction sending, and payment requests for a session
// ABOUTME: Normalizes amounts via txn and reports submitted payments back to the user

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/coven-paybot/internal/metrics"
	"github.com/2389/coven-paybot/internal/sofa"
	"github.com/2389/coven-paybot/internal/txn"
	"github.com/2389/coven-paybot/internal/unit"
)

var tracer = otel.Tracer("github.com/2389/coven-paybot/internal/session")

var (
	// ErrUnknownCurrency is returned when no rate exists for a fiat code.
	ErrUnknownCurrency = errors.New("unknown currency")
	// ErrNoTokenID is returned when requesting payment from a user without a token id.
	ErrNoTokenID = errors.New("cannot request payment from a user with no token id")
	// ErrNotConfigured is returned when the collaborator an operation needs is missing.
	ErrNotConfigured = errors.New("not configured")
)

// MethodSendTransaction is the signing-client RPC method for transfers.
const MethodSendTransaction = "sendTransaction"

// TxResult is the signing client's answer to sendTransaction.
type TxResult struct {
	TxHash string `json:"txHash"`
}

// Balance returns the balance of address in fiatType. An address without a
// 0x prefix is taken as the fiat type and the bot's payment address is used
// instead; an empty address also means the bot's payment address. fiatType
// defaults to ether ("eth" is an alias) and may be any denomination or a
// fiat currency code.
func (s *Session) Balance(ctx context.Context, address, fiatType string) (*big.Rat, error) {
	if address != "" {
		if !strings.HasPrefix(address, "0x") {
			fiatType = address
			address = s.deps.PaymentAddress
		}
	} else {
		address = s.deps.PaymentAddress
	}
	if fiatType == "" || strings.EqualFold(fiatType, "eth") {
		fiatType = unit.Ether
	}

	ctx, span := tracer.Start(ctx, "session.Balance", trace.WithAttributes(
		attribute.String("balance.address", address),
		attribute.String("balance.unit", fiatType),
	))
	defer span.End()

	if s.deps.Balances == nil {
		return nil, fmt.Errorf("balance source: %w", ErrNotConfigured)
	}
	wei, err := s.deps.Balances.Balance(ctx, address)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if unit.IsDenomination(fiatType) {
		return unit.FromWei(wei, fiatType)
	}

	if s.deps.Rates == nil {
		return nil, fmt.Errorf("rate service: %w", ErrNotConfigured)
	}
	rates, err := s.deps.Rates.Fetch(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	eth, err := unit.FromWei(wei, unit.Ether)
	if err != nil {
		return nil, err
	}
	rate, ok := rates[strings.ToUpper(fiatType)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCurrency, fiatType)
	}
	return rate.FromEth(eth), nil
}

// SendEth sends a decimal ether amount. See SendWei.
func (s *Session) SendEth(ctx context.Context, ether string, opts txn.SendOptions) (*TxResult, error) {
	value, err := txn.EthValue(ether)
	if err != nil {
		metrics.RecordTransaction("rejected")
		return nil, err
	}
	return s.SendWei(ctx, value, opts)
}

// SendWei builds a transaction for value and submits it through the signing
// client. Without an explicit recipient the user's payment address is used;
// txn.ErrNoPaymentAddress is returned if there is none and nothing is sent.
// When the client returns a result the user is sent an unconfirmed Payment
// notification before SendWei returns.
func (s *Session) SendWei(ctx context.Context, value txn.Quantity, opts txn.SendOptions) (*TxResult, error) {
	ctx, span := tracer.Start(ctx, "session.SendWei",
		trace.WithAttributes(attribute.String("session.address", s.address)))
	defer span.End()

	req, err := txn.Build(value, opts, s.User().PaymentAddress)
	if err != nil {
		metrics.RecordTransaction("rejected")
		s.logger.Warn("transaction rejected", "error", err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("tx.to", req.To), attribute.String("tx.value", req.Value))

	if s.deps.RPC == nil {
		return nil, fmt.Errorf("signing client: %w", ErrNotConfigured)
	}
	raw, err := s.deps.RPC.Call(ctx, s.address, MethodSendTransaction, req)
	if err != nil {
		metrics.RecordTransaction("error")
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("sending transaction: %w", err)
	}
	metrics.RecordTransaction("ok")

	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var result TxResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding transaction result: %w", err)
	}

	s.logger.Info("transaction submitted", "tx_hash", result.TxHash, "to", req.To, "value", req.Value)

	_ = s.Reply(ctx, sofa.Payment{
		Status:      "unconfirmed",
		Value:       req.Value,
		TxHash:      result.TxHash,
		FromAddress: s.deps.TokenIDAddress,
		ToAddress:   req.To,
	})
	return &result, nil
}

// RequestEth asks the user to pay a decimal ether amount to the bot's
// payment address. Users without a token id can't be asked; the attempt is
// logged and ErrNoTokenID returned without sending anything.
func (s *Session) RequestEth(ctx context.Context, ether, message string) error {
	if s.User().TokenID == "" {
		s.logger.Error("cannot request payment from user with no token id")
		return ErrNoTokenID
	}
	value, err := txn.EthValue(ether)
	if err != nil {
		return err
	}
	return s.Reply(ctx, sofa.PaymentRequest{
		Body:               message,
		Value:              value.String(),
		DestinationAddress: s.deps.PaymentAddress,
	})
}
