// Package units provides shared constants and conversions for joint units.
package units

import (
	"fmt"
	"math"
	"strings"
)

// Unit constants for displaying joint values.
const (
	Radians = "rad"
	Degrees = "deg"
	Meters  = "m"
	MM      = "mm"
)

// ValidAngleUnits contains all valid angle unit values.
var ValidAngleUnits = []string{Radians, Degrees}

// IsValidAngle checks if the given unit is a known angle unit.
func IsValidAngle(unit string) bool {
	for _, u := range ValidAngleUnits {
		if unit == u {
			return true
		}
	}
	return false
}

// RadToDeg converts radians to degrees.
func RadToDeg(rad float64) float64 {
	return rad * 180 / math.Pi
}

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// ConvertAngle converts an angle in radians to the target unit. Unknown units
// leave the value in radians.
func ConvertAngle(rad float64, target string) float64 {
	switch target {
	case Degrees:
		return RadToDeg(rad)
	default:
		return rad
	}
}

// ConvertLength converts a length in meters to the target unit.
func ConvertLength(m float64, target string) float64 {
	switch target {
	case MM:
		return m * 1000
	default:
		return m
	}
}

// Percent is a speed cap expressed as a percentage of the maximum.
type Percent float64

// Validate reports an error unless 0 < p <= 100.
func (p Percent) Validate() error {
	if math.IsNaN(float64(p)) || p <= 0 || p > 100 {
		return fmt.Errorf("percentage %g outside (0, 100]", float64(p))
	}
	return nil
}

// Fraction returns p / 100.
func (p Percent) Fraction() float64 {
	return float64(p) / 100
}

// FormatJoints renders a joint vector with rotational axes in angleUnit and
// translational axes in meters. rotational marks which axes are angles.
func FormatJoints(q []float64, rotational []bool, angleUnit string) string {
	parts := make([]string, len(q))
	for i, v := range q {
		if i < len(rotational) && rotational[i] {
			parts[i] = fmt.Sprintf("%.4f %s", ConvertAngle(v, angleUnit), angleUnit)
			continue
		}
		parts[i] = fmt.Sprintf("%.4f %s", v, Meters)
	}
	return strings.Join(parts, ", ")
}
