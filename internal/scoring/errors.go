package scoring

import "errors"

// Validation errors returned by the write-path checks. Callers wrap them with
// context; use errors.Is to classify.
var (
	ErrWeightsSum           = errors.New("weights must sum to 100")
	ErrWeightOutOfRange     = errors.New("weight must be between 0 and 100")
	ErrWorkedExceedsWorking = errors.New("worked days cannot exceed working days")
	ErrNegativeValue        = errors.New("value cannot be negative")
	ErrAttitudeOutOfRange   = errors.New("attitude points must be between 0 and 100")
	ErrInvalidMonth         = errors.New("invalid month, expected YYYY-MM")
	ErrInvalidDay           = errors.New("invalid day, expected YYYY-MM-DD")
	ErrInvalidTarget        = errors.New("target must be a non-negative whole number")
	ErrInvalidEntry         = errors.New("activity, a positive count and difficulty are required")
	ErrDayClosed            = errors.New("tasks can only be recorded for the current day")
)

// IsValidation reports whether err is one of the validation errors
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrWeightsSum, ErrWeightOutOfRange, ErrWorkedExceedsWorking, ErrNegativeValue,
		ErrAttitudeOutOfRange, ErrInvalidMonth, ErrInvalidDay, ErrInvalidTarget, ErrInvalidEntry,
		ErrDayClosed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
