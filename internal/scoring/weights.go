package scoring

import (
	"fmt"
	"math"

	"github.com/dennisdiepolder/kpiboard/internal/types"
)

// weightSumTolerance absorbs float representation error in the sum check
const weightSumTolerance = 1e-9

// DefaultWeights is used whenever no valid weights configuration exists
var DefaultWeights = types.PerformanceWeights{Task: 50, Attendance: 30, Attitude: 20}

// ValidateWeights checks a weights write: each weight finite and within
// [0,100], and the three summing to exactly 100.
func ValidateWeights(w types.PerformanceWeights) error {
	for _, v := range []float64{w.Task, w.Attendance, w.Attitude} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 100 {
			return fmt.Errorf("%w: got %v", ErrWeightOutOfRange, v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-100) > weightSumTolerance {
		return fmt.Errorf("%w: current sum is %v", ErrWeightsSum, sum)
	}
	return nil
}

// ResolveWeights reads a stored weights document. The nested layout wins over
// the legacy flat fields. A missing document, a missing or non-finite field,
// or a triple that fails validation resolves to DefaultWeights as a whole.
func ResolveWeights(doc *types.WeightsDocument) types.PerformanceWeights {
	if doc == nil {
		return DefaultWeights
	}

	task, attendance, attitude := doc.WeightTask, doc.WeightAttendance, doc.WeightAttitude
	if doc.Weights != nil {
		task, attendance, attitude = doc.Weights.Task, doc.Weights.Attendance, doc.Weights.Attitude
	}
	if task == nil || attendance == nil || attitude == nil {
		return DefaultWeights
	}

	w := types.PerformanceWeights{Task: *task, Attendance: *attendance, Attitude: *attitude}
	if err := ValidateWeights(w); err != nil {
		return DefaultWeights
	}
	return w
}

// WeightsDocumentFor builds the stored form of validated weights
func WeightsDocumentFor(w types.PerformanceWeights) types.WeightsDocument {
	task, attendance, attitude := w.Task, w.Attendance, w.Attitude
	return types.WeightsDocument{
		Weights: &types.WeightsFields{Task: &task, Attendance: &attendance, Attitude: &attitude},
	}
}
