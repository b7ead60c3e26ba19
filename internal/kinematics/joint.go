package kinematics

import (
	"fmt"
	"math"
)

// NumJoints is the number of actuated axes of the Afma4.
const NumJoints = 4

// JointVector holds one value per joint: q1 turret rotation (rad), q2
// vertical translation (m), q3 pan (rad), q4 tilt (rad). The same layout is
// used for joint rates (rad/s, m/s).
type JointVector [NumJoints]float64

// Sub returns q - o.
func (q JointVector) Sub(o JointVector) JointVector {
	var d JointVector
	for i := range q {
		d[i] = q[i] - o[i]
	}
	return d
}

// Scale returns q * k.
func (q JointVector) Scale(k float64) JointVector {
	var d JointVector
	for i := range q {
		d[i] = q[i] * k
	}
	return d
}

// Slice copies q into a new slice.
func (q JointVector) Slice() []float64 {
	out := make([]float64, NumJoints)
	copy(out, q[:])
	return out
}

// IsZero reports whether every component is exactly zero.
func (q JointVector) IsZero() bool {
	return q == JointVector{}
}

// JointVectorFromSlice converts a slice of exactly NumJoints values.
func JointVectorFromSlice(v []float64) (JointVector, error) {
	var q JointVector
	if len(v) != NumJoints {
		return q, fmt.Errorf("%w: expected %d joint values, got %d", ErrDimension, NumJoints, len(v))
	}
	copy(q[:], v)
	return q, nil
}

// JointLimits bounds each joint, inclusive.
type JointLimits struct {
	Min JointVector
	Max JointVector
}

// DefaultJointLimits are the mechanical stops of the Afma4.
var DefaultJointLimits = JointLimits{
	Min: JointVector{-1.5, -0.4, -3.1, -0.76},
	Max: JointVector{1.8, 0.4, 3.1, 0.76},
}

// Contains reports whether q lies inside the limits. NaN is never inside.
func (l JointLimits) Contains(q JointVector) bool {
	return l.Violation(q) < 0
}

// Violation returns the index of the first joint outside the limits, or -1.
func (l JointLimits) Violation(q JointVector) int {
	for i, v := range q {
		if math.IsNaN(v) || v < l.Min[i] || v > l.Max[i] {
			return i
		}
	}
	return -1
}

// wrapAngle maps a to [-pi, pi].
func wrapAngle(a float64) float64 {
	return math.Remainder(a, 2*math.Pi)
}
