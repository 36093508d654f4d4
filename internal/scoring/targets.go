package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/dennisdiepolder/kpiboard/internal/types"
)

// CanonicalPositions are always resolvable, with target 0 until an admin sets one
var CanonicalPositions = []string{
	"Estimator (Residential/Commercial)",
	"Data Processor - Invoicing Clerk",
}

// ResolveTarget returns the monthly task target of a position. Unknown
// positions and unusable stored values resolve to 0.
func ResolveTarget(table types.PositionTargetTable, position string) float64 {
	v, ok := table[strings.TrimSpace(position)]
	if !ok {
		return 0
	}
	v = finite(v)
	if v < 0 {
		return 0
	}
	return v
}

// WithCanonicalPositions returns a copy of table that contains every
// canonical position
func WithCanonicalPositions(table types.PositionTargetTable) types.PositionTargetTable {
	out := table.Clone()
	for _, pos := range CanonicalPositions {
		if _, ok := out[pos]; !ok {
			out[pos] = 0
		}
	}
	return out
}

// ValidateTargets checks a targets write: non-empty position names and
// non-negative whole-number targets
func ValidateTargets(table types.PositionTargetTable) error {
	for pos, v := range table {
		if strings.TrimSpace(pos) == "" {
			return fmt.Errorf("%w: empty position name", ErrInvalidTarget)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v != math.Trunc(v) {
			return fmt.Errorf("%w: %q has %v", ErrInvalidTarget, pos, v)
		}
	}
	return nil
}
