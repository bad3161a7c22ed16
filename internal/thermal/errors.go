package thermal

import "codeberg.org/mkern/rackfanctl/internal/errors"

const (
	ErrTooFewPoints     = errors.ErrorCode("thermal_curve_too_few_points")
	ErrPointsNotOrdered = errors.ErrorCode("thermal_curve_points_not_ascending")
	ErrPointOutOfRange  = errors.ErrorCode("thermal_curve_point_out_of_range")
	ErrUnknownPreset    = errors.ErrorCode("thermal_unknown_preset")
	ErrUnknownPoint     = errors.ErrorCode("thermal_unknown_point")
)
