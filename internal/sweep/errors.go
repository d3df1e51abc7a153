package sweep

import "codeberg.org/teralab/teractl/internal/errors"

const (
	ErrZeroStep       errors.ErrorCode = "sweep_zero_step"
	ErrStepDirection  errors.ErrorCode = "sweep_step_direction"
	ErrNoAxis         errors.ErrorCode = "sweep_no_axis"
	ErrNegativeDwell  errors.ErrorCode = "sweep_negative_dwell"
	ErrUnknownAxis    errors.ErrorCode = "sweep_unknown_axis"
	ErrNotPositioned  errors.ErrorCode = "sweep_not_positioned"
	ErrMissingEngine  errors.ErrorCode = "sweep_missing_engine"
	ErrInvalidSetting errors.ErrorCode = "sweep_invalid_setting"
)

func init() {
	errors.Register(map[errors.ErrorCode]string{
		ErrZeroStep:       "Sweep step must be non-zero",
		ErrStepDirection:  "Sweep step sign does not move start toward stop",
		ErrNoAxis:         "Sweep has no axis",
		ErrNegativeDwell:  "Sweep dwell must not be negative",
		ErrUnknownAxis:    "Unknown sweep axis",
		ErrNotPositioned:  "Axis has not been moved yet",
		ErrMissingEngine:  "Axis requires an instrument engine",
		ErrInvalidSetting: "Invalid axis setting",
	})
}
