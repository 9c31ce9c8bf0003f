package enums

import "fmt"

// ReturnPolicy selects how material flows back to batches when SKU units are destroyed.
type ReturnPolicy string

const (
	ReturnPolicyProportional ReturnPolicy = "PROPORTIONAL"
	ReturnPolicyCustom       ReturnPolicy = "CUSTOM"
	ReturnPolicyNone         ReturnPolicy = "NONE"
)

var validReturnPolicies = []ReturnPolicy{
	ReturnPolicyProportional,
	ReturnPolicyCustom,
	ReturnPolicyNone,
}

func (p ReturnPolicy) IsValid() bool {
	for _, candidate := range validReturnPolicies {
		if candidate == p {
			return true
		}
	}
	return false
}

func ParseReturnPolicy(value string) (ReturnPolicy, error) {
	for _, candidate := range validReturnPolicies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid return policy %q", value)
}
