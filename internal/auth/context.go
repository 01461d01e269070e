// ABOUTME: Operator identity carried through admin request handlers
// ABOUTME: Provides WithOperator/FromContext for propagating auth info via context

package auth

import "context"

// Operator is an authenticated admin API caller.
type Operator struct {
	Name string
	Role string
}

// IsAdmin reports whether the operator may change sessions.
func (o *Operator) IsAdmin() bool {
	return o != nil && o.Role == RoleAdmin
}

type operatorKey struct{}

// WithOperator returns a new context with op attached.
func WithOperator(ctx context.Context, op *Operator) context.Context {
	return context.WithValue(ctx, operatorKey{}, op)
}

// FromContext returns the operator attached to ctx, or nil.
func FromContext(ctx context.Context) *Operator {
	op, _ := ctx.Value(operatorKey{}).(*Operator)
	return op
}
