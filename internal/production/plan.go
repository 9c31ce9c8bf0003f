package production

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/craftstock-backend/pkg/db/models"
	"github.com/angelmondragon/craftstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
)

const signatureLength = 32

// Plan is a production recipe. DirectTransform and CombinationCraft are the only
// implementations; both feed the same validate and commit path.
type Plan interface {
	Mode() enums.ProductionMode
	Lines() []RecipeLine
	// checkBatches applies mode-specific rules to the locked batches.
	checkBatches(batches map[uuid.UUID]*models.MaterialBatch) error
}

// RecipeLine is the amount of one batch consumed per SKU unit.
type RecipeLine struct {
	BatchID uuid.UUID       `json:"batch_id"`
	PerUnit decimal.Decimal `json:"per_unit"`
}

// DirectTransform turns one finished piece into one SKU unit.
type DirectTransform struct {
	BatchID uuid.UUID
}

func (DirectTransform) Mode() enums.ProductionMode { return enums.ProductionModeDirectTransform }

func (p DirectTransform) Lines() []RecipeLine {
	return []RecipeLine{{BatchID: p.BatchID, PerUnit: decimal.NewFromInt(1)}}
}

func (p DirectTransform) checkBatches(batches map[uuid.UUID]*models.MaterialBatch) error {
	batch := batches[p.BatchID]
	if batch != nil && !batch.MaterialType.IsFinished() {
		return pkgerrors.New(pkgerrors.CodeValidation, "direct transform requires a finished-piece batch").
			WithDetails(map[string]any{"batch_id": batch.ID, "material_type": batch.MaterialType})
	}
	return nil
}

// CombinationCraft assembles a SKU unit from several batches.
type CombinationCraft struct {
	Recipe []RecipeLine
}

func (CombinationCraft) Mode() enums.ProductionMode { return enums.ProductionModeCombinationCraft }

func (p CombinationCraft) Lines() []RecipeLine {
	out := make([]RecipeLine, len(p.Recipe))
	copy(out, p.Recipe)
	return out
}

func (CombinationCraft) checkBatches(map[uuid.UUID]*models.MaterialBatch) error { return nil }

func validatePlan(plan Plan) error {
	if plan == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "production plan is required")
	}
	lines := plan.Lines()
	if len(lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "recipe needs at least one batch")
	}
	seen := make(map[uuid.UUID]struct{}, len(lines))
	for _, line := range lines {
		if line.BatchID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "batch_id is required")
		}
		if _, dup := seen[line.BatchID]; dup {
			return pkgerrors.New(pkgerrors.CodeValidation, "each batch may appear once in a recipe").
				WithDetails(map[string]any{"batch_id": line.BatchID})
		}
		seen[line.BatchID] = struct{}{}
		if !line.PerUnit.IsPositive() {
			return pkgerrors.New(pkgerrors.CodeValidation, "per-unit quantity must be positive").
				WithDetails(map[string]any{"batch_id": line.BatchID})
		}
	}
	return nil
}

// Signature identifies a recipe: equal modes with equal batch ratios map to the same SKU.
func Signature(plan Plan) string {
	lines := plan.Lines()
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		parts = append(parts, line.BatchID.String()+":"+line.PerUnit.String())
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(string(plan.Mode()) + "|" + strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:])[:signatureLength]
}

// Bottleneck is the line that limits a run.
type Bottleneck struct {
	BatchID       uuid.UUID `json:"bottleneck_batch_id"`
	MaxProducible int64     `json:"max_producible"`
}

// MaxProducible applies the bottleneck rule: the smallest floor(remaining / per_unit)
// across the recipe. Every line's batch must be present in batches.
func MaxProducible(lines []RecipeLine, batches map[uuid.UUID]*models.MaterialBatch) Bottleneck {
	var out Bottleneck
	for i, line := range lines {
		batch := batches[line.BatchID]
		limit := batch.Remaining().Div(line.PerUnit).Floor()
		if limit.IsNegative() {
			limit = decimal.Zero
		}
		n := limit.IntPart()
		if i == 0 || n < out.MaxProducible {
			out = Bottleneck{BatchID: line.BatchID, MaxProducible: n}
		}
	}
	return out
}
