// ABOUTME: SOFA-style outbound message encoding (type tag + JSON body)
// ABOUTME: Defines plain messages, payment notifications, and payment requests

package sofa

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const prefix = "SOFA::"

// ErrMalformed is returned when a string is not a SOFA envelope.
var ErrMalformed = errors.New("malformed sofa message")

// Message is anything that can be delivered to a user.
type Message interface {
	// Type is the SOFA type tag, e.g. "Message" or "Payment".
	Type() string
	// Text is a human-readable rendering for transports without SOFA support.
	Text() string
}

// Text is a plain chat message.
type Text struct {
	Body string `json:"body"`
}

func (Text) Type() string   { return "Message" }
func (m Text) Text() string { return m.Body }

// Payment notifies a user about a transaction.
type Payment struct {
	Status      string `json:"status"`
	Value       string `json:"value"`
	TxHash      string `json:"txHash,omitempty"`
	FromAddress string `json:"fromAddress,omitempty"`
	ToAddress   string `json:"toAddress,omitempty"`
}

func (Payment) Type() string { return "Payment" }

func (p Payment) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Payment %s: %s wei", p.Status, p.Value)
	if p.ToAddress != "" {
		fmt.Fprintf(&b, " to %s", p.ToAddress)
	}
	if p.TxHash != "" {
		fmt.Fprintf(&b, " (tx `%s`)", p.TxHash)
	}
	return b.String()
}

// PaymentRequest asks the user to pay the given destination.
type PaymentRequest struct {
	Body               string `json:"body,omitempty"`
	Value              string `json:"value"`
	DestinationAddress string `json:"destinationAddress"`
}

func (PaymentRequest) Type() string { return "PaymentRequest" }

func (r PaymentRequest) Text() string {
	s := fmt.Sprintf("Payment request: %s wei to %s", r.Value, r.DestinationAddress)
	if r.Body != "" {
		s = r.Body + "\n\n" + s
	}
	return s
}

// Encode renders m as "SOFA::<Type>:<json>".
func Encode(m Message) (string, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding %s: %w", m.Type(), err)
	}
	return prefix + m.Type() + ":" + string(body), nil
}

// Decode parses a SOFA string. Unknown types decode to nil with no error so
// callers can skip them.
func Decode(s string) (Message, error) {
	if !strings.HasPrefix(s, prefix) {
		return nil, ErrMalformed
	}
	rest := strings.TrimPrefix(s, prefix)
	typ, body, ok := strings.Cut(rest, ":")
	if !ok {
		return nil, ErrMalformed
	}

	var m Message
	var err error
	switch typ {
	case "Message":
		var v Text
		err = json.Unmarshal([]byte(body), &v)
		m = v
	case "Payment":
		var v Payment
		err = json.Unmarshal([]byte(body), &v)
		m = v
	case "PaymentRequest":
		var v PaymentRequest
		err = json.Unmarshal([]byte(body), &v)
		m = v
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return m, nil
}
