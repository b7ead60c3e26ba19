package kinematics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrUnreachable is returned when a Cartesian target has no joint-space
	// solution, or when the Mixed frame is requested.
	ErrUnreachable = errors.New("kinematics: target unreachable")
	// ErrDimension is returned when a vector has the wrong length for its frame.
	ErrDimension = errors.New("kinematics: wrong vector dimension")
)

// Fixed link geometry of the Afma4, in meters.
const (
	LinkA1 = 0.205 // radial offset of the wrist from the turret axis
	LinkD3 = 0.403 // lateral offset of the wrist from the turret axis
	LinkD4 = 0.14  // height of the wrist at q2 = 0

	// DefaultTolerance bounds how far a Cartesian target may sit from the
	// reachable manifold before it is rejected.
	DefaultTolerance = 1e-6
)

// rBase aligns the end-effector frame at q3 = q4 = 0: z (optical axis) along
// the reference x axis, y pointing down.
var rBase = mat.NewDense(3, 3, []float64{
	0, 0, 1,
	-1, 0, 0,
	0, -1, 0,
})

// DefaultCameraExtrinsic is the eMc of the stock camera mount, used when no
// calibration is configured.
func DefaultCameraExtrinsic() Pose {
	return NewPoseFromThetaU([3]float64{0, -0.05, 0.02}, [3]float64{})
}

// Afma4 is the kinematic model of the Afma4 cylindrical robot with a camera
// rigidly mounted on its end effector.
type Afma4 struct {
	eMc    Pose
	cMe    Pose
	limits JointLimits
	tol    float64
}

// Option configures an Afma4.
type Option func(*Afma4)

// WithJointLimits overrides DefaultJointLimits.
func WithJointLimits(l JointLimits) Option {
	return func(m *Afma4) { m.limits = l }
}

// WithTolerance overrides DefaultTolerance for inverse kinematics.
func WithTolerance(tol float64) Option {
	return func(m *Afma4) { m.tol = tol }
}

// NewAfma4 returns a model using the calibrated camera extrinsic eMc (the
// camera frame expressed in the end-effector frame).
func NewAfma4(eMc Pose, opts ...Option) *Afma4 {
	m := &Afma4{
		eMc:    eMc,
		cMe:    eMc.Inverse(),
		limits: DefaultJointLimits,
		tol:    DefaultTolerance,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Limits returns the joint limits used by the model.
func (m *Afma4) Limits() JointLimits {
	return m.limits
}

// WithinLimits reports whether q is inside the joint limits.
func (m *Afma4) WithinLimits(q JointVector) bool {
	return m.limits.Contains(q)
}

// ToolToEndEffector returns cMe, the end effector expressed in the camera
// frame.
func (m *Afma4) ToolToEndEffector() Pose {
	return m.cMe
}

// EndEffectorToTool returns eMc, the calibrated camera extrinsic.
func (m *Afma4) EndEffectorToTool() Pose {
	return m.eMc
}

func wristPosition(q JointVector) [3]float64 {
	c1, s1 := math.Cos(q[0]), math.Sin(q[0])
	return [3]float64{
		c1*LinkA1 - s1*LinkD3,
		s1*LinkA1 + c1*LinkD3,
		LinkD4 + q[1],
	}
}

// EndEffectorPose returns fMe for q.
func (m *Afma4) EndEffectorPose(q JointVector) Pose {
	var r mat.Dense
	r.Mul(rotZ(q[0]+q[2]), rotY(q[3]))
	r.Mul(&r, rBase)
	return Pose{rot: &r, trans: wristPosition(q)}
}

// JointToPose returns fMc, the camera frame expressed in the reference frame.
func (m *Afma4) JointToPose(q JointVector) Pose {
	return m.EndEffectorPose(q).Compose(m.eMc)
}

// PoseToJoint solves the inverse kinematics for a camera pose fMc.
func (m *Afma4) PoseToJoint(fMc Pose) (JointVector, error) {
	var q JointVector
	fMe := fMc.Compose(m.cMe)
	p := fMe.Translation()

	radius := math.Hypot(p[0], p[1])
	if want := math.Hypot(LinkA1, LinkD3); math.Abs(radius-want) > m.tol {
		return q, fmt.Errorf("%w: wrist at %.6f m from the turret axis, arm reaches %.6f m", ErrUnreachable, radius, want)
	}

	// M = Rz(q1+q3) * Ry(q4)
	var rm mat.Dense
	rm.Mul(fMe.rotation(), rBase.T())
	theta := math.Atan2(-rm.At(0, 1), rm.At(1, 1))
	phi := math.Atan2(-rm.At(2, 0), rm.At(2, 2))

	var rebuilt mat.Dense
	rebuilt.Mul(rotZ(theta), rotY(phi))
	if !mat.EqualApprox(&rebuilt, &rm, m.tol) {
		return q, fmt.Errorf("%w: orientation needs a rotation the pan/tilt head cannot produce", ErrUnreachable)
	}

	q[0] = wrapAngle(math.Atan2(p[1], p[0]) - math.Atan2(LinkD3, LinkA1))
	q[1] = p[2] - LinkD4
	q[2] = wrapAngle(theta - q[0])
	q[3] = phi

	if i := m.limits.Violation(q); i >= 0 {
		return q, fmt.Errorf("%w: joint %d at %.6f outside [%.6f, %.6f]", ErrUnreachable, i+1, q[i], m.limits.Min[i], m.limits.Max[i])
	}
	return q, nil
}

// JacobianReferenceFrame returns fJe, the 6x4 map from joint rates to the
// end-effector twist (v, w) expressed in the reference frame.
func (m *Afma4) JacobianReferenceFrame(q JointVector) *mat.Dense {
	p := wristPosition(q)
	theta := q[0] + q[2]

	j := mat.NewDense(6, NumJoints, nil)
	// turret: rotation about the reference z axis through the origin
	j.Set(0, 0, -p[1])
	j.Set(1, 0, p[0])
	j.Set(5, 0, 1)
	// vertical translation
	j.Set(2, 1, 1)
	// pan: rotation about a vertical axis through the wrist
	j.Set(5, 2, 1)
	// tilt: rotation about the horizontal axis Rz(q1+q3)*y through the wrist
	j.Set(3, 3, -math.Sin(theta))
	j.Set(4, 3, math.Cos(theta))
	return j
}

// JacobianEndEffector returns eJe, the end-effector twist expressed in the
// end-effector frame.
func (m *Afma4) JacobianEndEffector(q JointVector) *mat.Dense {
	eRf := mat.DenseCopyOf(m.EndEffectorPose(q).rotation().T())
	v := TwistTransform(Pose{rot: eRf})
	var j mat.Dense
	j.Mul(v, m.JacobianReferenceFrame(q))
	return &j
}

// JacobianToolFrame returns cJc = cVe * eJe, the 6x4 map from joint rates to
// the camera twist expressed in the camera frame.
func (m *Afma4) JacobianToolFrame(q JointVector) *mat.Dense {
	var j mat.Dense
	j.Mul(TwistTransform(m.cMe), m.JacobianEndEffector(q))
	return &j
}

// Jacobian dispatches on frame. Articular returns the 4x4 identity.
func (m *Afma4) Jacobian(frame Frame, q JointVector) (*mat.Dense, error) {
	switch frame {
	case Articular:
		return mat.DenseCopyOf(mat.NewDiagDense(NumJoints, []float64{1, 1, 1, 1})), nil
	case Reference:
		return m.JacobianReferenceFrame(q), nil
	case Camera:
		return m.JacobianToolFrame(q), nil
	default:
		return nil, fmt.Errorf("%w: %s frame is not supported", ErrUnreachable, frame)
	}
}

// FrameVelocity maps joint rates qdot at configuration q into frame.
func (m *Afma4) FrameVelocity(frame Frame, q, qdot JointVector) ([]float64, error) {
	if frame == Articular {
		return qdot.Slice(), nil
	}
	j, err := m.Jacobian(frame, q)
	if err != nil {
		return nil, err
	}
	var v mat.VecDense
	v.MulVec(j, mat.NewVecDense(NumJoints, qdot.Slice()))
	return v.RawVector().Data, nil
}

// JointRates maps a velocity expressed in frame to joint rates at q. For
// Cartesian frames the 6-dof twist is projected onto the 4 joints in the
// least-squares sense.
func (m *Afma4) JointRates(frame Frame, q JointVector, v []float64) (JointVector, error) {
	var qdot JointVector
	if frame == Mixed {
		return qdot, fmt.Errorf("%w: %s frame is not supported", ErrUnreachable, frame)
	}
	if len(v) != frame.Dim() {
		return qdot, fmt.Errorf("%w: %s velocity needs %d values, got %d", ErrDimension, frame, frame.Dim(), len(v))
	}
	if frame == Articular {
		copy(qdot[:], v)
		return qdot, nil
	}

	j, err := m.Jacobian(frame, q)
	if err != nil {
		return qdot, err
	}
	var x mat.VecDense
	if err := x.SolveVec(j, mat.NewVecDense(len(v), append([]float64(nil), v...))); err != nil {
		return qdot, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	for i := range qdot {
		qdot[i] = x.AtVec(i)
	}
	return qdot, nil
}

// TwistTransform returns the 6x6 velocity twist matrix aVb of p = aMb:
//
//	[ R  [t]x R ]
//	[ 0    R    ]
func TwistTransform(p Pose) *mat.Dense {
	r := p.rotation()
	var tr mat.Dense
	tr.Mul(skew(p.trans), r)

	v := mat.NewDense(6, 6, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			v.Set(i, j, r.At(i, j))
			v.Set(i+3, j+3, r.At(i, j))
			v.Set(i, j+3, tr.At(i, j))
		}
	}
	return v
}
