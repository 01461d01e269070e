// ABOUTME: On-chain balance lookups over Ethereum JSON-RPC
// ABOUTME: Wraps go-ethereum's ethclient behind a narrow interface

package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrInvalidAddress is returned for strings that aren't 20-byte hex addresses.
var ErrInvalidAddress = errors.New("invalid address")

// BalanceReader is the part of ethclient.Client used here.
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Balances reads account balances in wei.
type Balances struct {
	reader BalanceReader
	close  func()
}

// Dial connects to the JSON-RPC endpoint at rawURL.
func Dial(ctx context.Context, rawURL string) (*Balances, error) {
	client, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("dialing ethereum node: %w", err)
	}
	return &Balances{reader: client, close: client.Close}, nil
}

// New wraps an existing reader.
func New(reader BalanceReader) *Balances {
	return &Balances{reader: reader}
}

// Balance returns the latest balance of address in wei.
func (b *Balances) Balance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	bal, err := b.reader.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("fetching balance of %s: %w", address, err)
	}
	return bal, nil
}

// Close releases the underlying connection, if any.
func (b *Balances) Close() {
	if b.close != nil {
		b.close()
	}
}
