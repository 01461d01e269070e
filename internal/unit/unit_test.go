// ABOUTME: Tests for wei/denomination conversion
// ABOUTME: Covers exactness, case handling, and precision errors

package unit

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToWei(t *testing.T) {
	tests := []struct {
		value string
		denom string
		want  string
	}{
		{"1", "ether", "1000000000000000000"},
		{"0.5", "ether", "500000000000000000"},
		{"1.5", "gwei", "1500000000"},
		{"21000", "wei", "21000"},
		{"2", "Finney", "2000000000000000"},
		{"0", "ether", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.value+" "+tt.denom, func(t *testing.T) {
			got, err := ToWei(tt.value, tt.denom)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestToWei_Errors(t *testing.T) {
	_, err := ToWei("1", "dogecoin")
	assert.ErrorIs(t, err, ErrUnknownDenomination)

	_, err = ToWei("abc", "ether")
	assert.ErrorIs(t, err, ErrInvalidNumber)

	_, err = ToWei("0.5", "wei")
	assert.ErrorIs(t, err, ErrTooPrecise)
}

func TestFromWei_OneEther(t *testing.T) {
	wei, ok := new(big.Int).SetString("1000000000000000000", 10)
	require.True(t, ok)

	got, err := FromWei(wei, "ether")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Cmp(big.NewRat(1, 1)))
}

func TestFromWei_Gwei(t *testing.T) {
	got, err := FromWei(big.NewInt(1500000000), "GWEI")
	require.NoError(t, err)
	assert.Equal(t, "3/2", got.RatString())
}

func TestIsDenomination(t *testing.T) {
	assert.True(t, IsDenomination("ether"))
	assert.True(t, IsDenomination("Kwei"))
	assert.False(t, IsDenomination("noether"))
	assert.False(t, IsDenomination("usd"))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "1", Format(big.NewRat(1, 1), 6))
	assert.Equal(t, "0.5", Format(big.NewRat(1, 2), 6))
	assert.Equal(t, "0.333333", Format(big.NewRat(1, 3), 6))
	assert.Equal(t, "0", Format(big.NewRat(0, 1), 4))
}
