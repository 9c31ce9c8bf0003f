package hierarchy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/craftstock-backend/pkg/db/models"
	"github.com/angelmondragon/craftstock-backend/pkg/enums"
)

// Filters narrow the batches that feed the tree.
type Filters struct {
	Search           string               `json:"search,omitempty"`
	MaterialTypes    []enums.MaterialType `json:"material_types,omitempty"`
	Qualities        []enums.QualityGrade `json:"qualities,omitempty"`
	SpecMin          *decimal.Decimal     `json:"spec_min,omitempty"`
	SpecMax          *decimal.Decimal     `json:"spec_max,omitempty"`
	IncludeExhausted bool                 `json:"include_exhausted,omitempty"`
	LowStockOnly     bool                 `json:"low_stock_only,omitempty"`
}

// Validate rejects unknown enum values and an inverted specification range.
func (f Filters) Validate() error {
	for _, t := range f.MaterialTypes {
		if !t.IsValid() {
			return fmt.Errorf("unknown material type %q", t)
		}
	}
	for _, q := range f.Qualities {
		if !q.IsValid() && q != enums.QualityUngraded {
			return fmt.Errorf("unknown quality %q", q)
		}
	}
	if f.SpecMin != nil && f.SpecMax != nil && f.SpecMin.GreaterThan(*f.SpecMax) {
		return fmt.Errorf("spec_min must not exceed spec_max")
	}
	return nil
}

// Thresholds decide when remaining stock counts as low.
type Thresholds struct {
	Default decimal.Decimal
	ByType  map[enums.MaterialType]decimal.Decimal
}

// NewThresholds maps raw per-type overrides onto material types, ignoring unknown keys.
func NewThresholds(def decimal.Decimal, overrides map[string]decimal.Decimal) Thresholds {
	out := Thresholds{Default: def, ByType: make(map[enums.MaterialType]decimal.Decimal, len(overrides))}
	for raw, v := range overrides {
		if t, err := enums.ParseMaterialType(raw); err == nil {
			out.ByType[t] = v
		}
	}
	return out
}

func (t Thresholds) For(materialType enums.MaterialType) decimal.Decimal {
	if v, ok := t.ByType[materialType]; ok {
		return v
	}
	return t.Default
}

type Tree struct {
	Remaining  decimal.Decimal `json:"remaining"`
	BatchCount int             `json:"batch_count"`
	Types      []TypeNode      `json:"types"`
}

type TypeNode struct {
	MaterialType   enums.MaterialType `json:"material_type"`
	Remaining      decimal.Decimal    `json:"remaining"`
	BatchCount     int                `json:"batch_count"`
	LowStock       bool               `json:"low_stock"`
	Specifications []SpecNode         `json:"specifications"`
}

type SpecNode struct {
	Specification decimal.Decimal `json:"specification"`
	Remaining     decimal.Decimal `json:"remaining"`
	BatchCount    int             `json:"batch_count"`
	LowStock      bool            `json:"low_stock"`
	Qualities     []QualityNode   `json:"qualities"`
}

// QualityNode is a leaf; its batches are listed through LeafBatches.
type QualityNode struct {
	Quality    enums.QualityGrade `json:"quality"`
	Remaining  decimal.Decimal    `json:"remaining"`
	BatchCount int                `json:"batch_count"`
	LowStock   bool               `json:"low_stock"`
}

// Build folds a flat batch list into type → specification → quality. It is pure:
// the same batches, filters and thresholds always give the same tree.
func Build(batches []models.MaterialBatch, filters Filters, thresholds Thresholds) *Tree {
	leaves := make(map[enums.MaterialType]map[string]map[enums.QualityGrade]*QualityNode)
	specs := make(map[string]decimal.Decimal)
	for i := range batches {
		b := &batches[i]
		if !matches(b, filters) {
			continue
		}
		byspec, ok := leaves[b.MaterialType]
		if !ok {
			byspec = make(map[string]map[enums.QualityGrade]*QualityNode)
			leaves[b.MaterialType] = byspec
		}
		specKey := b.Specification.String()
		specs[specKey] = b.Specification
		byQuality, ok := byspec[specKey]
		if !ok {
			byQuality = make(map[enums.QualityGrade]*QualityNode)
			byspec[specKey] = byQuality
		}
		grade := b.QualityOrUngraded()
		leaf, ok := byQuality[grade]
		if !ok {
			leaf = &QualityNode{Quality: grade, Remaining: decimal.Zero}
			byQuality[grade] = leaf
		}
		remaining := b.Remaining()
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		leaf.Remaining = leaf.Remaining.Add(remaining)
		leaf.BatchCount++
	}

	tree := &Tree{Remaining: decimal.Zero, Types: []TypeNode{}}
	for _, materialType := range sortedTypes(leaves) {
		threshold := thresholds.For(materialType)
		typeNode := TypeNode{MaterialType: materialType, Remaining: decimal.Zero, Specifications: []SpecNode{}}
		for _, specKey := range sortedSpecs(leaves[materialType], specs) {
			specNode := SpecNode{Specification: specs[specKey], Remaining: decimal.Zero, Qualities: []QualityNode{}}
			for _, grade := range sortedGrades(leaves[materialType][specKey]) {
				leaf := *leaves[materialType][specKey][grade]
				leaf.LowStock = leaf.Remaining.LessThan(threshold)
				if filters.LowStockOnly && !leaf.LowStock {
					continue
				}
				specNode.Qualities = append(specNode.Qualities, leaf)
				specNode.Remaining = specNode.Remaining.Add(leaf.Remaining)
				specNode.BatchCount += leaf.BatchCount
			}
			if len(specNode.Qualities) == 0 {
				continue
			}
			specNode.LowStock = specNode.Remaining.LessThan(threshold)
			typeNode.Specifications = append(typeNode.Specifications, specNode)
			typeNode.Remaining = typeNode.Remaining.Add(specNode.Remaining)
			typeNode.BatchCount += specNode.BatchCount
		}
		if len(typeNode.Specifications) == 0 {
			continue
		}
		typeNode.LowStock = typeNode.Remaining.LessThan(threshold)
		tree.Types = append(tree.Types, typeNode)
		tree.Remaining = tree.Remaining.Add(typeNode.Remaining)
		tree.BatchCount += typeNode.BatchCount
	}
	return tree
}

func matches(b *models.MaterialBatch, f Filters) bool {
	if !f.IncludeExhausted && b.IsExhausted() {
		return false
	}
	if len(f.MaterialTypes) > 0 && !containsType(f.MaterialTypes, b.MaterialType) {
		return false
	}
	if len(f.Qualities) > 0 && !containsGrade(f.Qualities, b.QualityOrUngraded()) {
		return false
	}
	if f.SpecMin != nil && b.Specification.LessThan(*f.SpecMin) {
		return false
	}
	if f.SpecMax != nil && b.Specification.GreaterThan(*f.SpecMax) {
		return false
	}
	if term := strings.ToLower(strings.TrimSpace(f.Search)); term != "" {
		haystack := strings.ToLower(strings.Join([]string{b.Code, b.SupplierRef, b.Notes, string(b.MaterialType)}, "\n"))
		if !strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}

func containsType(list []enums.MaterialType, v enums.MaterialType) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsGrade(list []enums.QualityGrade, v enums.QualityGrade) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func sortedTypes[V any](m map[enums.MaterialType]V) []enums.MaterialType {
	out := make([]enums.MaterialType, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank() < out[j].Rank() })
	return out
}

func sortedSpecs[V any](m map[string]V, specs map[string]decimal.Decimal) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return specs[out[i]].LessThan(specs[out[j]]) })
	return out
}

func sortedGrades[V any](m map[enums.QualityGrade]V) []enums.QualityGrade {
	out := make([]enums.QualityGrade, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank() < out[j].Rank() })
	return out
}
