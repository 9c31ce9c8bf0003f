package types

import (
	"strings"

	"github.com/google/uuid"
)

// Operator identifies who performs a mutation. It is passed explicitly into every
// mutating service call; the HTTP layer derives it from the bearer token.
type Operator struct {
	ID   uuid.UUID `json:"id"`
	Role string    `json:"role"`
}

// Valid reports whether the operator carries an identity.
func (o Operator) Valid() bool {
	return o.ID != uuid.Nil && strings.TrimSpace(o.Role) != ""
}
