// ABOUTME: SendOptions tagged variant accepted by the send operations
// ABOUTME: NoOptions, ToAddress, or FullOptions, resolved once at the call boundary

package txn

import "fmt"

// SendOptions is one of NoOptions, ToAddress, or FullOptions.
type SendOptions interface {
	sendOptions()
}

// NoOptions sends to the default recipient with no extra fields.
type NoOptions struct{}

// ToAddress sends to the given address. An empty ToAddress means no recipient.
type ToAddress string

// FullOptions carries every optional transaction field.
// To == nil means the caller did not specify a recipient; To pointing at ""
// means the caller explicitly wants none.
type FullOptions struct {
	To       *string
	GasPrice Quantity
	Gas      Quantity
	Nonce    Quantity
	Data     Data
}

func (NoOptions) sendOptions()   {}
func (ToAddress) sendOptions()   {}
func (FullOptions) sendOptions() {}

// To returns a pointer suitable for FullOptions.To.
func To(addr string) *string {
	return &addr
}

// NoRecipient returns options that produce a transaction without a "to" field.
func NoRecipient() FullOptions {
	return FullOptions{To: To("")}
}

func resolve(opts SendOptions) (FullOptions, error) {
	switch o := opts.(type) {
	case nil:
		return FullOptions{}, nil
	case NoOptions:
		return FullOptions{}, nil
	case *NoOptions:
		return FullOptions{}, nil
	case ToAddress:
		return FullOptions{To: To(string(o))}, nil
	case FullOptions:
		return o, nil
	case *FullOptions:
		if o == nil {
			return FullOptions{}, nil
		}
		return *o, nil
	default:
		return FullOptions{}, fmt.Errorf("%w: unsupported options type %T", ErrInvalidOptions, opts)
	}
}
