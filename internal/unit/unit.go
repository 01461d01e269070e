// ABOUTME: Exact conversion between wei and named ether denominations
// ABOUTME: Backed by big.Rat so no precision is lost in either direction

package unit

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	// ErrUnknownDenomination is returned for a name outside the denomination table.
	ErrUnknownDenomination = errors.New("unknown denomination")
	// ErrInvalidNumber is returned when a decimal string cannot be parsed.
	ErrInvalidNumber = errors.New("invalid number")
	// ErrTooPrecise is returned when a value would need fractional wei.
	ErrTooPrecise = errors.New("value has more decimal places than the denomination allows")
)

// Ether is the native denomination used when callers don't name one.
const Ether = "ether"

var denominations = map[string]int{
	"wei":        0,
	"kwei":       3,
	"babbage":    3,
	"femtoether": 3,
	"mwei":       6,
	"lovelace":   6,
	"picoether":  6,
	"gwei":       9,
	"shannon":    9,
	"nanoether":  9,
	"nano":       9,
	"szabo":      12,
	"microether": 12,
	"micro":      12,
	"finney":     15,
	"milliether": 15,
	"milli":      15,
	"ether":      18,
	"kether":     21,
	"grand":      21,
	"mether":     24,
	"gether":     27,
	"tether":     30,
}

// IsDenomination reports whether name is a known denomination (case-insensitive).
func IsDenomination(name string) bool {
	_, ok := denominations[strings.ToLower(name)]
	return ok
}

// Multiplier returns the number of wei in one unit of denom.
func Multiplier(denom string) (*big.Int, error) {
	exp, ok := denominations[strings.ToLower(denom)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDenomination, denom)
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil), nil
}

// ToWei converts a decimal string in the given denomination to wei.
func ToWei(value, denom string) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(value))
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNumber, value)
	}
	return RatToWei(r, denom)
}

// RatToWei converts an exact rational amount in the given denomination to wei.
func RatToWei(value *big.Rat, denom string) (*big.Int, error) {
	mul, err := Multiplier(denom)
	if err != nil {
		return nil, err
	}
	wei := new(big.Rat).Mul(value, new(big.Rat).SetInt(mul))
	if !wei.IsInt() {
		return nil, fmt.Errorf("%w: %s %s", ErrTooPrecise, value.RatString(), denom)
	}
	return new(big.Int).Set(wei.Num()), nil
}

// FromWei converts a wei amount to the given denomination.
func FromWei(wei *big.Int, denom string) (*big.Rat, error) {
	mul, err := Multiplier(denom)
	if err != nil {
		return nil, err
	}
	return new(big.Rat).SetFrac(wei, mul), nil
}

// Format renders r with at most places decimals, trimming trailing zeros.
func Format(r *big.Rat, places int) string {
	s := r.FloatString(places)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	if s == "-0" {
		return "0"
	}
	return s
}
