package enums

import "fmt"

type SkuStatus string

const (
	SkuStatusActive   SkuStatus = "active"
	SkuStatusInactive SkuStatus = "inactive"
)

var validSkuStatuses = []SkuStatus{
	SkuStatusActive,
	SkuStatusInactive,
}

func (s SkuStatus) IsValid() bool {
	for _, candidate := range validSkuStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseSkuStatus(value string) (SkuStatus, error) {
	for _, candidate := range validSkuStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid sku status %q", value)
}
