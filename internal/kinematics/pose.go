package kinematics

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Pose is a rigid transform aMb: a rotation and a translation expressing
// frame b in frame a. The zero value is the identity. Poses are values;
// every method returns a new Pose and never mutates its receiver.
type Pose struct {
	rot   *mat.Dense // 3x3 orthonormal; nil means identity
	trans [3]float64
}

// Identity returns the identity transform.
func Identity() Pose {
	return Pose{}
}

// NewPose builds a pose from a 3x3 rotation and a translation. The rotation
// is copied.
func NewPose(r mat.Matrix, t [3]float64) Pose {
	rows, cols := r.Dims()
	if rows != 3 || cols != 3 {
		panic(mat.ErrShape)
	}
	return Pose{rot: mat.DenseCopyOf(r), trans: t}
}

// NewPoseFromThetaU builds a pose from a translation and a theta-u
// (axis-angle) rotation vector.
func NewPoseFromThetaU(t, tu [3]float64) Pose {
	return Pose{rot: rotationFromThetaU(tu), trans: t}
}

// NewPoseFromVector is the inverse of Pose.Vector.
func NewPoseFromVector(v []float64) (Pose, error) {
	if len(v) != 6 {
		return Pose{}, ErrDimension
	}
	return NewPoseFromThetaU([3]float64{v[0], v[1], v[2]}, [3]float64{v[3], v[4], v[5]}), nil
}

// Translation returns the translation part.
func (p Pose) Translation() [3]float64 {
	return p.trans
}

// Rotation returns a copy of the rotation part.
func (p Pose) Rotation() *mat.Dense {
	return mat.DenseCopyOf(p.rotation())
}

func (p Pose) rotation() mat.Matrix {
	if p.rot == nil {
		return identity3
	}
	return p.rot
}

// Compose returns p * o (aMb * bMc = aMc).
func (p Pose) Compose(o Pose) Pose {
	var r mat.Dense
	r.Mul(p.rotation(), o.rotation())
	return Pose{rot: &r, trans: p.Apply(o.trans)}
}

// Inverse returns bMa for p = aMb.
func (p Pose) Inverse() Pose {
	rt := mat.DenseCopyOf(p.rotation().T())
	t := mulVec3(rt, p.trans)
	return Pose{rot: rt, trans: [3]float64{-t[0], -t[1], -t[2]}}
}

// Apply maps a point expressed in b into a.
func (p Pose) Apply(v [3]float64) [3]float64 {
	return add3(mulVec3(p.rotation(), v), p.trans)
}

// ThetaU returns the rotation as a theta-u vector (unit axis times angle).
func (p Pose) ThetaU() [3]float64 {
	if p.rot == nil {
		return [3]float64{}
	}
	return thetaUFromRotation(p.rot)
}

// Vector returns (tx, ty, tz, theta*ux, theta*uy, theta*uz).
func (p Pose) Vector() []float64 {
	tu := p.ThetaU()
	return []float64{p.trans[0], p.trans[1], p.trans[2], tu[0], tu[1], tu[2]}
}

// Homogeneous returns the 4x4 homogeneous matrix of p.
func (p Pose) Homogeneous() *mat.Dense {
	h := mat.NewDense(4, 4, nil)
	r := p.rotation()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h.Set(i, j, r.At(i, j))
		}
		h.Set(i, 3, p.trans[i])
	}
	h.Set(3, 3, 1)
	return h
}

// EqualApprox reports whether every element of the homogeneous matrices of p
// and o differ by at most tol.
func (p Pose) EqualApprox(o Pose, tol float64) bool {
	return mat.EqualApprox(p.Homogeneous(), o.Homogeneous(), tol)
}

var identity3 = mat.NewDiagDense(3, []float64{1, 1, 1})

func mulVec3(m mat.Matrix, v [3]float64) [3]float64 {
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[i] = m.At(i, 0)*v[0] + m.At(i, 1)*v[1] + m.At(i, 2)*v[2]
	}
	return out
}

func add3(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

// skew returns the cross-product matrix [v]x.
func skew(v [3]float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, -v[2], v[1],
		v[2], 0, -v[0],
		-v[1], v[0], 0,
	})
}

func rotZ(a float64) *mat.Dense {
	c, s := math.Cos(a), math.Sin(a)
	return mat.NewDense(3, 3, []float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	})
}

func rotY(a float64) *mat.Dense {
	c, s := math.Cos(a), math.Sin(a)
	return mat.NewDense(3, 3, []float64{
		c, 0, s,
		0, 1, 0,
		-s, 0, c,
	})
}

// sinc returns sin(x)/x given s = sin(x).
func sinc(s, x float64) float64 {
	if math.Abs(x) < 1e-8 {
		return 1
	}
	return s / x
}

// mcosc returns (1-cos(x))/x^2 given c = cos(x).
func mcosc(c, x float64) float64 {
	if math.Abs(x) < 2.5e-4 {
		return 0.5
	}
	return (1 - c) / (x * x)
}

// rotationFromThetaU applies the Rodrigues formula.
func rotationFromThetaU(tu [3]float64) *mat.Dense {
	theta := math.Sqrt(tu[0]*tu[0] + tu[1]*tu[1] + tu[2]*tu[2])
	s, c := math.Sin(theta), math.Cos(theta)
	sc := sinc(s, theta)
	mc := mcosc(c, theta)

	u := skew(tu)
	var u2 mat.Dense
	u2.Mul(u, u)

	r := mat.NewDense(3, 3, nil)
	r.Scale(sc, u)
	u2.Scale(mc, &u2)
	r.Add(r, &u2)
	r.Add(r, identity3)
	return r
}

func thetaUFromRotation(r mat.Matrix) [3]float64 {
	const minimum = 1e-4

	sx := r.At(2, 1) - r.At(1, 2)
	sy := r.At(0, 2) - r.At(2, 0)
	sz := r.At(1, 0) - r.At(0, 1)
	s := 0.5 * math.Sqrt(sx*sx+sy*sy+sz*sz)
	c := 0.5 * (r.At(0, 0) + r.At(1, 1) + r.At(2, 2) - 1)
	theta := math.Atan2(s, c)

	if 1+c > minimum {
		k := 1 / (2 * sinc(s, theta))
		return [3]float64{sx * k, sy * k, sz * k}
	}

	// theta close to pi: recover the axis from the diagonal, signs from the
	// antisymmetric part.
	axis := func(d, sign float64) float64 {
		v := (d - c) / (1 - c)
		if v < 0 {
			v = 0
		}
		v = math.Sqrt(v)
		if sign < 0 {
			v = -v
		}
		return v * theta
	}
	return [3]float64{
		axis(r.At(0, 0), sx),
		axis(r.At(1, 1), sy),
		axis(r.At(2, 2), sz),
	}
}
