// ABOUTME: Normalizes payment requests into RPC-ready transaction payloads
// ABOUTME: Resolves the recipient, hex-encodes numeric fields, and encodes raw data

package txn

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/2389/coven-paybot/internal/unit"
)

var (
	// ErrInvalidOptions is returned for malformed send arguments. No transaction is sent.
	ErrInvalidOptions = errors.New("invalid options")
	// ErrNoPaymentAddress is returned when no recipient can be resolved.
	ErrNoPaymentAddress = errors.New("cannot send transactions to users with no payment address")
)

// Request is the normalized transaction handed to the signing client.
// Every numeric field that is set is a 0x-prefixed hex string.
type Request struct {
	To       string `json:"to,omitempty"`
	Value    string `json:"value,omitempty"`
	GasPrice string `json:"gasPrice,omitempty"`
	Gas      string `json:"gas,omitempty"`
	Nonce    string `json:"nonce,omitempty"`
	Data     string `json:"data,omitempty"`
}

// HasRecipient reports whether the request carries a "to" address.
func (r *Request) HasRecipient() bool {
	return r.To != ""
}

// Build normalizes value and opts into a Request. defaultTo is used when the
// options don't mention a recipient at all.
func Build(value Quantity, opts SendOptions, defaultTo string) (*Request, error) {
	full, err := resolve(opts)
	if err != nil {
		return nil, err
	}

	req := &Request{}

	switch {
	case full.To == nil:
		if defaultTo == "" {
			return nil, ErrNoPaymentAddress
		}
		req.To = defaultTo
	case *full.To == "":
		// explicit "no recipient", e.g. contract creation
	default:
		req.To = *full.To
	}

	if value.IsZero() {
		return nil, fmt.Errorf("%w: value is required", ErrInvalidOptions)
	}

	fields := []struct {
		name string
		q    Quantity
		dst  *string
	}{
		{"value", value, &req.Value},
		{"gasPrice", full.GasPrice, &req.GasPrice},
		{"gas", full.Gas, &req.Gas},
		{"nonce", full.Nonce, &req.Nonce},
	}
	for _, f := range fields {
		if f.q.IsZero() {
			continue
		}
		s, err := f.q.normalize()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidOptions, f.name, err)
		}
		*f.dst = s
	}

	if !full.Data.IsZero() {
		s, err := full.Data.normalize()
		if err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrInvalidOptions, err)
		}
		req.Data = s
	}

	return req, nil
}

// EthValue converts a decimal ether amount into a hex wei Quantity.
func EthValue(ether string) (Quantity, error) {
	wei, err := unit.ToWei(ether, unit.Ether)
	if err != nil {
		return Quantity{}, err
	}
	if wei.Sign() < 0 {
		return Quantity{}, fmt.Errorf("%w: negative amount", ErrInvalidOptions)
	}
	return Hex(hexutil.EncodeBig(wei)), nil
}

// Quantity is a numeric transaction field given either as a number or as a
// pre-encoded hex string. The zero Quantity means "not set".
type Quantity struct {
	set bool
	hex string
	num *big.Int
	err error
}

// Number returns a Quantity from a float, floored on normalization.
func Number(f float64) Quantity {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Quantity{set: true, err: fmt.Errorf("not a finite number")}
	}
	n, _ := big.NewFloat(math.Floor(f)).Int(nil)
	return Quantity{set: true, num: n}
}

// Int returns a Quantity from an integer amount.
func Int(n *big.Int) Quantity {
	if n == nil {
		return Quantity{}
	}
	return Quantity{set: true, num: new(big.Int).Set(n)}
}

// Uint64 returns a Quantity from an unsigned integer.
func Uint64(n uint64) Quantity {
	return Quantity{set: true, num: new(big.Int).SetUint64(n)}
}

// Hex returns a Quantity that is passed through unchanged once validated.
func Hex(s string) Quantity {
	return Quantity{set: true, hex: s}
}

// IsZero reports whether the quantity was left unset.
func (q Quantity) IsZero() bool {
	return !q.set
}

// String returns the normalized form, or "" when unset or invalid.
func (q Quantity) String() string {
	s, err := q.normalize()
	if err != nil {
		return ""
	}
	return s
}

func (q Quantity) normalize() (string, error) {
	if q.err != nil {
		return "", q.err
	}
	if q.num != nil {
		if q.num.Sign() < 0 {
			return "", fmt.Errorf("negative value %s", q.num)
		}
		return hexutil.EncodeBig(q.num), nil
	}
	if !isHex(q.hex, false) {
		return "", fmt.Errorf("malformed hex quantity %q", q.hex)
	}
	return q.hex, nil
}

// Data is a transaction payload given as raw bytes or as a hex string.
type Data struct {
	raw    []byte
	hex    string
	isHex  bool
	hasRaw bool
}

// Bytes returns Data that will be hex-encoded with a 0x prefix.
func Bytes(b []byte) Data {
	return Data{raw: b, hasRaw: true}
}

// HexData returns Data that is passed through unchanged once validated.
func HexData(s string) Data {
	return Data{hex: s, isHex: true}
}

// IsZero reports whether no payload was given.
func (d Data) IsZero() bool {
	return !d.hasRaw && !d.isHex
}

func (d Data) normalize() (string, error) {
	if d.hasRaw {
		return hexutil.Encode(d.raw), nil
	}
	if !isHex(d.hex, true) {
		return "", fmt.Errorf("malformed hex data %q", d.hex)
	}
	return d.hex, nil
}

func isHex(s string, allowEmpty bool) bool {
	if len(s) < 2 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return false
	}
	digits := s[2:]
	if digits == "" {
		return allowEmpty
	}
	for _, c := range digits {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
