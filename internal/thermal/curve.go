package thermal

import (
	"sort"

	"codeberg.org/mkern/rackfanctl/internal/errors"
)

const (
	minCurvePoints = 2
	maxPointValue  = 100
)

// Point maps a chassis temperature in Celsius to a fan duty percentage.
type Point struct {
	Temp  int
	Speed int
}

// Curve is an ordered set of control points defining a step mapping
// from temperature to target fan speed. Temperatures below the first
// point clamp to its speed, temperatures at or above the last point
// clamp to the last speed. Curves are values: modification helpers
// return new curves and never mutate shared state.
type Curve struct {
	points []Point
}

// NewCurve builds a validated curve from the given points.
func NewCurve(points []Point) (Curve, error) {
	c := Curve{points: append([]Point(nil), points...)}
	if err := c.validate(); err != nil {
		return Curve{}, err
	}

	return c, nil
}

func (c Curve) validate() error {
	errFactory := errors.New()

	if len(c.points) < minCurvePoints {
		return errFactory.WithData(ErrTooFewPoints, len(c.points))
	}

	for i, p := range c.points {
		if p.Temp < 0 || p.Temp > maxPointValue || p.Speed < 0 || p.Speed > maxPointValue {
			return errFactory.WithData(ErrPointOutOfRange, p)
		}
		if i > 0 && p.Temp <= c.points[i-1].Temp {
			return errFactory.WithData(ErrPointsNotOrdered, p.Temp)
		}
	}

	return nil
}

// Speed returns the target fan duty percentage for a temperature.
func (c Curve) Speed(temp int) int {
	if len(c.points) == 0 {
		return 0
	}

	speed := c.points[0].Speed
	for _, p := range c.points {
		if temp < p.Temp {
			break
		}
		speed = p.Speed
	}

	return speed
}

// Points returns a copy of the control points.
func (c Curve) Points() []Point {
	return append([]Point(nil), c.points...)
}

// WithPoint returns a new curve with the point added, or with the
// matching temperature's speed replaced.
func (c Curve) WithPoint(p Point) (Curve, error) {
	points := c.Points()

	replaced := false
	for i := range points {
		if points[i].Temp == p.Temp {
			points[i].Speed = p.Speed
			replaced = true
			break
		}
	}
	if !replaced {
		points = append(points, p)
		sort.Slice(points, func(i, j int) bool { return points[i].Temp < points[j].Temp })
	}

	return NewCurve(points)
}

// WithoutPoint returns a new curve with the point at the given
// temperature removed. At least two points must remain.
func (c Curve) WithoutPoint(temp int) (Curve, error) {
	errFactory := errors.New()

	points := c.Points()
	for i := range points {
		if points[i].Temp == temp {
			return NewCurve(append(points[:i], points[i+1:]...))
		}
	}

	return Curve{}, errFactory.WithData(ErrUnknownPoint, temp)
}

// Preset names for the built-in curves.
const (
	PresetSilent      = "silent"
	PresetBalanced    = "balanced"
	PresetPerformance = "performance"
	PresetAggressive  = "aggressive"

	// CurveLegacy selects the fixed vendor bracket table instead of a
	// configurable curve.
	CurveLegacy = "legacy"
)

var presets = map[string][]Point{
	PresetSilent:      {{25, 5}, {35, 15}, {45, 25}, {55, 35}, {65, 50}, {75, 70}},
	PresetBalanced:    {{25, 10}, {35, 25}, {45, 40}, {55, 60}, {65, 80}, {75, 100}},
	PresetPerformance: {{25, 20}, {35, 40}, {45, 60}, {55, 80}, {65, 95}, {75, 100}},
	PresetAggressive:  {{25, 30}, {35, 50}, {45, 70}, {55, 90}, {65, 100}, {75, 100}},
}

// Preset returns one of the built-in curves by name.
func Preset(name string) (Curve, error) {
	errFactory := errors.New()

	points, ok := presets[name]
	if !ok {
		return Curve{}, errFactory.WithData(ErrUnknownPreset, name)
	}

	return NewCurve(points)
}

// PresetNames returns the built-in curve names in stable order.
func PresetNames() []string {
	return []string{PresetSilent, PresetBalanced, PresetPerformance, PresetAggressive}
}
