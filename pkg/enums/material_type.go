package enums

import "fmt"

// MaterialType maps to the material_type column of material_batches.
type MaterialType string

const (
	MaterialTypeLooseBeads    MaterialType = "loose_beads"
	MaterialTypeAccessory     MaterialType = "accessory"
	MaterialTypePendant       MaterialType = "pendant"
	MaterialTypeBracelet      MaterialType = "bracelet"
	MaterialTypeFinishedPiece MaterialType = "finished_piece"
)

// validMaterialTypes is also the display order of the batch hierarchy.
var validMaterialTypes = []MaterialType{
	MaterialTypeLooseBeads,
	MaterialTypeAccessory,
	MaterialTypePendant,
	MaterialTypeBracelet,
	MaterialTypeFinishedPiece,
}

// MaterialTypes returns every material type in canonical order.
func MaterialTypes() []MaterialType {
	out := make([]MaterialType, len(validMaterialTypes))
	copy(out, validMaterialTypes)
	return out
}

// IsValid reports whether the value matches the canonical material type enum.
func (m MaterialType) IsValid() bool {
	return m.Rank() >= 0
}

// IsFinished reports whether a batch of this type can be sold one-to-one as a SKU.
func (m MaterialType) IsFinished() bool {
	return m == MaterialTypeBracelet || m == MaterialTypeFinishedPiece
}

// Rank is the canonical ordering position, -1 when unknown.
func (m MaterialType) Rank() int {
	for i, candidate := range validMaterialTypes {
		if candidate == m {
			return i
		}
	}
	return -1
}

// ParseMaterialType converts raw input into MaterialType.
func ParseMaterialType(value string) (MaterialType, error) {
	for _, candidate := range validMaterialTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid material type %q", value)
}
