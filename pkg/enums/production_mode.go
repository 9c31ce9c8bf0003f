package enums

import "fmt"

type ProductionMode string

const (
	ProductionModeDirectTransform  ProductionMode = "direct_transform"
	ProductionModeCombinationCraft ProductionMode = "combination_craft"
)

var validProductionModes = []ProductionMode{
	ProductionModeDirectTransform,
	ProductionModeCombinationCraft,
}

func (m ProductionMode) IsValid() bool {
	for _, candidate := range validProductionModes {
		if candidate == m {
			return true
		}
	}
	return false
}

func ParseProductionMode(value string) (ProductionMode, error) {
	for _, candidate := range validProductionModes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid production mode %q", value)
}
