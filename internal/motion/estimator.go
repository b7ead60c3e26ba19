// Package motion derives measured joint and Cartesian velocities and
// displacements from timestamped joint-position samples by finite
// differences.
package motion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/afma4/internal/kinematics"
)

// ErrTiming is returned when two samples are not strictly increasing in time.
// The estimator drops its cached sample, so the next call returns zero.
var ErrTiming = errors.New("motion: non-monotonic or duplicate sample timestamp")

// JointReader reads the current joint position and the monotonic time at
// which it was sampled.
type JointReader interface {
	ReadJointPosition(ctx context.Context) (kinematics.JointVector, time.Time, error)
}

// Sample is one joint-position reading with the camera pose it implies.
// Two samples are only ever differenced when they share a Session.
type Sample struct {
	Q        kinematics.JointVector
	ToolPose kinematics.Pose // fMc
	Time     time.Time
	Session  uuid.UUID
}

// cache holds the previous sample of one estimation path. It is replaced, not
// mutated, so a snapshot compared against a new reading is exactly what was
// read last time.
type cache struct {
	prev  Sample
	valid bool
}

func (c *cache) accept(s Sample) (prev Sample, ok bool) {
	prev, ok = c.prev, c.valid && c.prev.Session == s.Session
	c.prev, c.valid = s, true
	return prev, ok
}

// Estimator keeps one previous sample for velocity estimation and another for
// displacement estimation. It is not safe for concurrent use; the controller
// serializes access.
type Estimator struct {
	model   *kinematics.Afma4
	reader  JointReader
	session uuid.UUID

	vel cache
	dis cache
}

// NewEstimator returns an estimator that reads joints from reader and maps
// them through model.
func NewEstimator(model *kinematics.Afma4, reader JointReader) *Estimator {
	return &Estimator{model: model, reader: reader}
}

// SetSession tags subsequent samples with id and drops both caches.
func (e *Estimator) SetSession(id uuid.UUID) {
	e.session = id
	e.Reset()
}

// Session returns the id samples are currently tagged with.
func (e *Estimator) Session() uuid.UUID {
	return e.session
}

// Reset drops both cached samples; the next Velocity and Displacement calls
// return zero.
func (e *Estimator) Reset() {
	e.vel = cache{}
	e.dis = cache{}
}

// Sample reads the hardware and builds a Sample for the current session.
func (e *Estimator) Sample(ctx context.Context) (Sample, error) {
	q, t, err := e.reader.ReadJointPosition(ctx)
	if err != nil {
		return Sample{}, err
	}
	return e.NewSample(q, t), nil
}

// NewSample builds a Sample for the current session from a reading.
func (e *Estimator) NewSample(q kinematics.JointVector, t time.Time) Sample {
	return Sample{Q: q, ToolPose: e.model.JointToPose(q), Time: t, Session: e.session}
}

// Velocity reads the hardware and returns the velocity since the previous
// Velocity call, expressed in frame.
func (e *Estimator) Velocity(ctx context.Context, frame kinematics.Frame) ([]float64, error) {
	if err := checkFrame(frame); err != nil {
		return nil, err
	}
	s, err := e.Sample(ctx)
	if err != nil {
		return nil, err
	}
	return e.VelocityFrom(s, frame)
}

// VelocityFrom differences s against the cached velocity sample.
//
// Articular velocities are joint rates; Reference velocities are the
// end-effector twist (v, w) in the reference frame; Camera velocities are the
// camera twist in the camera frame. Both twists are obtained from the joint
// rates through the model's Jacobian at s.Q.
func (e *Estimator) VelocityFrom(s Sample, frame kinematics.Frame) ([]float64, error) {
	if err := checkFrame(frame); err != nil {
		return nil, err
	}
	prev, ok := e.vel.accept(s)
	if !ok {
		return make([]float64, frame.Dim()), nil
	}

	dt := s.Time.Sub(prev.Time)
	if dt <= 0 {
		e.vel = cache{}
		return nil, fmt.Errorf("%w: dt=%v", ErrTiming, dt)
	}
	if s.Q == prev.Q {
		return make([]float64, frame.Dim()), nil
	}

	secs := dt.Seconds()
	var qdot kinematics.JointVector
	for i := range qdot {
		qdot[i] = (s.Q[i] - prev.Q[i]) / secs
	}
	return e.model.FrameVelocity(frame, s.Q, qdot)
}

// Displacement reads the hardware and returns the displacement since the
// previous Displacement call, expressed in frame.
func (e *Estimator) Displacement(ctx context.Context, frame kinematics.Frame) ([]float64, error) {
	if err := checkFrame(frame); err != nil {
		return nil, err
	}
	s, err := e.Sample(ctx)
	if err != nil {
		return nil, err
	}
	return e.DisplacementFrom(s, frame)
}

// DisplacementFrom differences s against the cached displacement sample.
//
// Articular displacements are joint deltas. Camera displacements are
// (t, theta-u) of cprevMc, the current camera pose in the previous camera
// frame. Reference displacements are the change of camera position in the
// reference frame followed by theta-u of fRc * fRcprev^T.
//
// Displacement is not a rate, so equal timestamps are accepted.
func (e *Estimator) DisplacementFrom(s Sample, frame kinematics.Frame) ([]float64, error) {
	if err := checkFrame(frame); err != nil {
		return nil, err
	}
	prev, ok := e.dis.accept(s)
	if !ok || s.Q == prev.Q {
		return make([]float64, frame.Dim()), nil
	}

	switch frame {
	case kinematics.Articular:
		return s.Q.Sub(prev.Q).Slice(), nil
	case kinematics.Camera:
		return prev.ToolPose.Inverse().Compose(s.ToolPose).Vector(), nil
	default:
		now, before := s.ToolPose.Translation(), prev.ToolPose.Translation()
		tu := s.ToolPose.Compose(prev.ToolPose.Inverse()).ThetaU()
		return []float64{
			now[0] - before[0], now[1] - before[1], now[2] - before[2],
			tu[0], tu[1], tu[2],
		}, nil
	}
}

func checkFrame(frame kinematics.Frame) error {
	switch frame {
	case kinematics.Articular, kinematics.Reference, kinematics.Camera:
		return nil
	}
	return fmt.Errorf("%w: %s frame is not supported", kinematics.ErrUnreachable, frame)
}
