package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/craftstock-backend/pkg/types"
)

// OperatorClaims is the bearer token issued by the identity provider for shop staff.
type OperatorClaims struct {
	OperatorID uuid.UUID `json:"operator_id"`
	Role       string    `json:"role"`
	jwt.RegisteredClaims
}

// Operator converts the claims into the identity passed to mutating calls.
func (c OperatorClaims) Operator() types.Operator {
	return types.Operator{ID: c.OperatorID, Role: c.Role}
}
