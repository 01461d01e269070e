// ABOUTME: Tests for SOFA message encoding

package sofa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_Payment(t *testing.T) {
	s, err := Encode(Payment{Status: "unconfirmed", Value: "0x1", TxHash: "0xabc", ToAddress: "0xdef"})
	require.NoError(t, err)
	assert.Equal(t, `SOFA::Payment:{"status":"unconfirmed","value":"0x1","txHash":"0xabc","toAddress":"0xdef"}`, s)
}

func TestDecode(t *testing.T) {
	m, err := Decode(`SOFA::Message:{"body":"hello"}`)
	require.NoError(t, err)
	assert.Equal(t, Text{Body: "hello"}, m)

	m, err = Decode(`SOFA::Init:{}`)
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = Decode("hello")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestPaymentRequest_Text(t *testing.T) {
	r := PaymentRequest{Body: "lunch", Value: "0x10", DestinationAddress: "0xbot"}
	assert.Contains(t, r.Text(), "lunch")
	assert.Contains(t, r.Text(), "0xbot")
}
