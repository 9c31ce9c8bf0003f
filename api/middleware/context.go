package middleware

import (
	"context"

	"github.com/angelmondragon/craftstock-backend/pkg/types"
)

type contextKey string

const ctxOperator contextKey = "operator"

// OperatorFromContext returns the authenticated operator seeded by Auth.
func OperatorFromContext(ctx context.Context) (types.Operator, bool) {
	if ctx == nil {
		return types.Operator{}, false
	}
	op, ok := ctx.Value(ctxOperator).(types.Operator)
	return op, ok && op.Valid()
}

// WithOperator injects the operator into the context for downstream handlers.
func WithOperator(ctx context.Context, op types.Operator) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxOperator, op)
}
