package kinematics

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

// calibratedModel uses a non-trivial extrinsic so that the camera and
// end-effector frames differ in both rotation and translation.
func calibratedModel() *Afma4 {
	return NewAfma4(NewPoseFromThetaU([3]float64{0.01, -0.06, 0.03}, [3]float64{0.1, -0.2, 0.05}))
}

func randomJoints(r *rand.Rand, l JointLimits) JointVector {
	var q JointVector
	for i := range q {
		q[i] = l.Min[i] + r.Float64()*(l.Max[i]-l.Min[i])
	}
	return q
}

func TestJointToPose_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, m := range []*Afma4{NewAfma4(DefaultCameraExtrinsic()), calibratedModel()} {
		r := rand.New(rand.NewSource(42))
		for i := 0; i < 500; i++ {
			q := randomJoints(r, m.Limits())
			got, err := m.PoseToJoint(m.JointToPose(q))
			require.NoError(t, err, "q=%v", q)
			if diff := cmp.Diff(q, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
				t.Fatalf("round trip mismatch for %v (-want +got):\n%s", q, diff)
			}
		}
	}
}

func TestJointToPose_DocumentedExample(t *testing.T) {
	t.Parallel()
	m := NewAfma4(DefaultCameraExtrinsic())
	q := JointVector{math.Pi / 2, 0.2, -math.Pi / 2, math.Pi / 8}

	got, err := m.PoseToJoint(m.JointToPose(q))
	require.NoError(t, err)
	assert.InDeltaSlice(t, q.Slice(), got.Slice(), 1e-9)
}

func TestEndEffectorPose_Home(t *testing.T) {
	t.Parallel()
	m := NewAfma4(Identity())
	fMe := m.EndEffectorPose(JointVector{})

	assert.Equal(t, [3]float64{LinkA1, LinkD3, LinkD4}, fMe.Translation())
	// optical axis points along the reference x axis at home
	z := fMe.Apply([3]float64{0, 0, 1})
	assert.InDeltaSlice(t, []float64{LinkA1 + 1, LinkD3, LinkD4}, z[:], 1e-12)
}

func TestPoseToJoint_Unreachable(t *testing.T) {
	t.Parallel()
	m := calibratedModel()
	home := m.JointToPose(JointVector{0.3, 0.1, 0.2, 0.1})

	tests := []struct {
		name string
		pose Pose
	}{
		{
			name: "wrist off the reachable cylinder",
			pose: NewPoseFromThetaU([3]float64{0.1, 0, 0}, [3]float64{}).Compose(home),
		},
		{
			name: "roll about the optical axis",
			pose: home.Compose(NewPoseFromThetaU([3]float64{}, [3]float64{0, 0, 0.3})),
		},
		{
			name: "vertical joint beyond its stop",
			pose: m.JointToPose(JointVector{0.3, 0.6, 0.2, 0.1}),
		},
		{
			name: "tilt beyond its stop",
			pose: m.JointToPose(JointVector{0.3, 0.1, 0.2, 1.2}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.PoseToJoint(tt.pose)
			assert.ErrorIs(t, err, ErrUnreachable)
		})
	}
}

func TestPose_InverseAndCompose(t *testing.T) {
	t.Parallel()
	p := NewPoseFromThetaU([3]float64{0.3, -0.2, 1.1}, [3]float64{0.4, -0.9, 0.2})

	assert.True(t, p.Compose(p.Inverse()).EqualApprox(Identity(), 1e-12))
	assert.True(t, p.Inverse().Compose(p).EqualApprox(Identity(), 1e-12))

	v := p.Vector()
	back, err := NewPoseFromVector(v)
	require.NoError(t, err)
	assert.True(t, p.EqualApprox(back, 1e-12))
}

func TestThetaU_NearPi(t *testing.T) {
	t.Parallel()
	axis := [3]float64{1 / math.Sqrt(3), -1 / math.Sqrt(3), 1 / math.Sqrt(3)}
	theta := math.Pi - 1e-6
	tu := [3]float64{axis[0] * theta, axis[1] * theta, axis[2] * theta}

	p := NewPoseFromThetaU([3]float64{}, tu)
	got := p.ThetaU()
	assert.InDeltaSlice(t, tu[:], got[:], 1e-5)
}

func TestThetaU_IdentityIsExactlyZero(t *testing.T) {
	t.Parallel()
	p := NewPose(mat.NewDiagDense(3, []float64{1, 1, 1}), [3]float64{})
	assert.Equal(t, [3]float64{}, p.ThetaU())
	assert.Equal(t, [3]float64{}, Identity().ThetaU())
}

// finiteDifference estimates one Jacobian column from the pose function.
func finiteDifference(m *Afma4, frame Frame, q JointVector, joint int) []float64 {
	const h = 1e-7
	dq := q
	dq[joint] += h

	switch frame {
	case Camera:
		d := m.JointToPose(q).Inverse().Compose(m.JointToPose(dq)).Vector()
		for i := range d {
			d[i] /= h
		}
		return d
	default:
		a, b := m.EndEffectorPose(q), m.EndEffectorPose(dq)
		ta, tb := a.Translation(), b.Translation()
		var dr mat.Dense
		dr.Mul(b.rotation(), a.rotation().T())
		w := NewPose(&dr, [3]float64{}).ThetaU()
		return []float64{
			(tb[0] - ta[0]) / h, (tb[1] - ta[1]) / h, (tb[2] - ta[2]) / h,
			w[0] / h, w[1] / h, w[2] / h,
		}
	}
}

func TestJacobians_MatchFiniteDifferences(t *testing.T) {
	t.Parallel()
	m := calibratedModel()
	r := rand.New(rand.NewSource(7))

	for _, frame := range []Frame{Reference, Camera} {
		t.Run(frame.String(), func(t *testing.T) {
			for n := 0; n < 20; n++ {
				q := randomJoints(r, m.Limits())
				j, err := m.Jacobian(frame, q)
				require.NoError(t, err)
				rows, cols := j.Dims()
				require.Equal(t, 6, rows)
				require.Equal(t, NumJoints, cols)

				for c := 0; c < NumJoints; c++ {
					want := finiteDifference(m, frame, q, c)
					got := mat.Col(nil, c, j)
					assert.InDeltaSlice(t, want, got, 1e-5, "q=%v joint=%d", q, c)
				}
			}
		})
	}
}

func TestJointRates_InvertsFrameVelocity(t *testing.T) {
	t.Parallel()
	m := calibratedModel()
	q := JointVector{0.4, -0.1, -1.2, 0.3}
	qdot := JointVector{0.1, -0.05, 0.2, -0.15}

	for _, frame := range []Frame{Articular, Reference, Camera} {
		t.Run(frame.String(), func(t *testing.T) {
			v, err := m.FrameVelocity(frame, q, qdot)
			require.NoError(t, err)
			require.Len(t, v, frame.Dim())

			got, err := m.JointRates(frame, q, v)
			require.NoError(t, err)
			if diff := cmp.Diff(qdot, got, approx); diff != "" {
				t.Errorf("joint rates mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestJointRates_Errors(t *testing.T) {
	t.Parallel()
	m := calibratedModel()

	_, err := m.JointRates(Mixed, JointVector{}, make([]float64, 6))
	assert.ErrorIs(t, err, ErrUnreachable)

	_, err = m.JointRates(Camera, JointVector{}, make([]float64, 4))
	assert.ErrorIs(t, err, ErrDimension)

	_, err = m.FrameVelocity(Mixed, JointVector{}, JointVector{})
	assert.True(t, errors.Is(err, ErrUnreachable))
}

func TestTwistTransform_Blocks(t *testing.T) {
	t.Parallel()
	p := NewPoseFromThetaU([3]float64{1, 2, 3}, [3]float64{})
	v := TwistTransform(p)

	// pure translation: identity diagonal blocks, [t]x upper-right block
	want := mat.NewDense(6, 6, []float64{
		1, 0, 0, 0, -3, 2,
		0, 1, 0, 3, 0, -1,
		0, 0, 1, -2, 1, 0,
		0, 0, 0, 1, 0, 0,
		0, 0, 0, 0, 1, 0,
		0, 0, 0, 0, 0, 1,
	})
	assert.True(t, mat.EqualApprox(want, v, 1e-12))
}

func TestParseFrame(t *testing.T) {
	t.Parallel()
	for _, f := range []Frame{Articular, Reference, Camera, Mixed} {
		got, err := ParseFrame(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
	got, err := ParseFrame(" Tool ")
	require.NoError(t, err)
	assert.Equal(t, Camera, got)

	_, err = ParseFrame("polar")
	assert.Error(t, err)
}

func TestJointLimits_Violation(t *testing.T) {
	t.Parallel()
	l := DefaultJointLimits
	assert.Equal(t, -1, l.Violation(JointVector{}))
	assert.Equal(t, 1, l.Violation(JointVector{0, 0.5, 0, 0}))
	assert.Equal(t, 3, l.Violation(JointVector{0, 0, 0, math.NaN()}))
	assert.False(t, l.Contains(JointVector{-2, 0, 0, 0}))
}
