package thermal

import (
	"fmt"

	"codeberg.org/mkern/rackfanctl/internal/bmc"
)

// Action is one policy decision: hand control to vendor firmware, or
// hold an explicit manual duty percentage. Speed is meaningful only in
// manual mode.
type Action struct {
	Mode  bmc.FanMode
	Speed int
}

func (a Action) String() string {
	if a.Mode == bmc.ModeAutomatic {
		return "automatic"
	}

	return fmt.Sprintf("manual %d%%", a.Speed)
}

// Equal reports whether two actions would result in the same fan
// state. Automatic actions compare equal regardless of speed.
func (a Action) Equal(other Action) bool {
	if a.Mode != other.Mode {
		return false
	}

	return a.Mode == bmc.ModeAutomatic || a.Speed == other.Speed
}

// Policy decides the next control action from a temperature. Above
// Threshold the vendor firmware manages cooling; at or below it,
// software holds the curve's manual speed. Decide is pure and carries
// no I/O dependency.
type Policy struct {
	Threshold int
	Curve     Curve
	Legacy    bool
}

// NewPolicy builds a policy from a configured curve name, which is
// either a preset or the legacy bracket table selector.
func NewPolicy(threshold int, curveName string) (Policy, error) {
	if curveName == CurveLegacy {
		return Policy{Threshold: threshold, Legacy: true}, nil
	}

	curve, err := Preset(curveName)
	if err != nil {
		return Policy{}, err
	}

	return Policy{Threshold: threshold, Curve: curve}, nil
}

// Decide evaluates the transition rule for the current temperature.
func (p Policy) Decide(temp int) Action {
	if temp > p.Threshold {
		return Action{Mode: bmc.ModeAutomatic}
	}

	if p.Legacy {
		return Action{Mode: bmc.ModeManual, Speed: LegacyBracketSpeed(temp)}
	}

	return Action{Mode: bmc.ModeManual, Speed: p.Curve.Speed(temp)}
}

// LegacyBracketSpeed maps a temperature onto the fixed vendor bracket
// table. Brackets are inclusive on both ends and the table is total.
func LegacyBracketSpeed(temp int) int {
	switch {
	case temp < 30:
		return 10
	case temp <= 34:
		return 20
	case temp <= 39:
		return 25
	case temp <= 45:
		return 30
	default:
		return 50
	}
}
