// Package robot drives an Afma4 through a LowLevelController: it gates
// commands on the control state, converts frame-tagged targets and velocities
// to joint space and stops the hardware whenever communication fails.
package robot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/afma4/internal/fsutil"
	"github.com/banshee-data/afma4/internal/kinematics"
	"github.com/banshee-data/afma4/internal/monitoring"
	"github.com/banshee-data/afma4/internal/motion"
	"github.com/banshee-data/afma4/internal/posfile"
	"github.com/banshee-data/afma4/internal/timeutil"
	"github.com/banshee-data/afma4/internal/units"
)

var logf = monitoring.Component("robot")

// Controller is the single owner of the robot hardware.
//
// All hardware operations are serialized by one mutex. StopMotion first
// cancels the move in flight, if any, so it is never queued behind the move it
// has to abort.
type Controller struct {
	mu        sync.Mutex
	hw        LowLevelController
	model     *kinematics.Afma4
	estimator *motion.Estimator
	sm        StateMachine
	session   uuid.UUID
	closed    bool

	registry            *Registry
	clock               timeutil.Clock
	recorder            Recorder
	velocityLimits      kinematics.JointVector
	positioningVelocity float64
	stopTimeout         time.Duration

	moveMu      sync.Mutex
	moveCancel  context.CancelFunc
	stopPending int // StopMotion calls not yet served by a STOP transition
}

// New claims the registry and returns a controller in STOP.
func New(hw LowLevelController, opts ...Option) (*Controller, error) {
	if hw == nil {
		return nil, errors.New("robot: nil low-level controller")
	}
	c := &Controller{
		hw:                  hw,
		registry:            DefaultRegistry,
		clock:               timeutil.RealClock{},
		recorder:            nopRecorder{},
		velocityLimits:      DefaultVelocityLimits,
		positioningVelocity: DefaultPositioningVelocity,
		stopTimeout:         DefaultStopTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.model == nil {
		c.model = kinematics.NewAfma4(kinematics.DefaultCameraExtrinsic())
	}
	if err := units.Percent(c.positioningVelocity).Validate(); err != nil {
		return nil, fmt.Errorf("%w: positioning velocity: %v", ErrOutOfRange, err)
	}
	if err := c.registry.Acquire(); err != nil {
		return nil, err
	}

	c.session = uuid.New()
	c.estimator = motion.NewEstimator(c.model, hardwareReader{c.hw})
	c.estimator.SetSession(c.session)
	if err := c.recorder.StartSession(c.session, c.clock.Now()); err != nil {
		logf("start session %s: %v", c.session, err)
	}
	logf("controller %s ready, positioning velocity %.0f%%", c.session, c.positioningVelocity)
	return c, nil
}

// hardwareReader tags read failures as communication errors so the
// controller can tell them from estimator errors.
type hardwareReader struct {
	hw LowLevelController
}

func (r hardwareReader) ReadJointPosition(ctx context.Context) (kinematics.JointVector, time.Time, error) {
	q, t, err := r.hw.ReadJointPosition(ctx)
	if err != nil {
		return q, t, commErr("read joint position", err)
	}
	return q, t, nil
}

func commErr(op string, err error) error {
	if errors.Is(err, ErrCommunication) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrCommunication, op, err)
}

// Model returns the kinematic model.
func (c *Controller) Model() *kinematics.Afma4 {
	return c.model
}

// Session identifies this controller's lifetime in recorded data.
func (c *Controller) Session() uuid.UUID {
	return c.session
}

// State returns the active control state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sm.Current()
}

// stopContext keeps a stop alive when the caller's context is already done.
func (c *Controller) stopContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.stopTimeout)
}

// SetRobotState switches the control state and returns the previous one.
func (c *Controller) SetRobotState(ctx context.Context, s State) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.sm.Current(), ErrClosed
	}
	return c.transition(ctx, s)
}

// transition must be called with c.mu held.
func (c *Controller) transition(ctx context.Context, next State) (State, error) {
	old := c.sm.Current()
	if old == StateVelocityControl && next == StatePositionControl {
		if err := c.hw.SendJointVelocityCommand(ctx, kinematics.JointVector{}); err != nil {
			return old, c.fail(ctx, commErr("zero velocity", err), false)
		}
	}

	old, err := c.sm.Set(next, func() error {
		sctx, cancel := c.stopContext(ctx)
		defer cancel()
		return c.hw.EmergencyStop(sctx)
	})
	if err != nil && errors.Is(err, ErrInvalidState) {
		return old, err
	}
	if next == StateStop {
		c.clearStops()
	}
	if next == StateVelocityControl && old != StateVelocityControl {
		c.estimator.Reset()
	}
	if old != next {
		c.recordState(old, next)
		logf("state %s -> %s", old, next)
	}
	if err != nil {
		logf("stop on leaving velocity control failed: %v", err)
		return old, commErr("emergency stop", err)
	}
	return old, nil
}

// fail forces STOP after a hardware failure and returns err. A failed move
// always gets an emergency stop; otherwise the state machine issues one only
// when leaving velocity control. Must be called with c.mu held.
func (c *Controller) fail(ctx context.Context, err error, emergency bool) error {
	sctx, cancel := c.stopContext(ctx)
	defer cancel()

	if emergency {
		if serr := c.hw.EmergencyStop(sctx); serr != nil {
			logf("emergency stop after %v failed: %v", err, serr)
		}
	}
	old, serr := c.sm.Set(StateStop, func() error { return c.hw.EmergencyStop(sctx) })
	c.clearStops()
	if serr != nil {
		logf("emergency stop after %v failed: %v", err, serr)
	}
	if old != StateStop {
		c.recordState(old, StateStop)
		logf("forced %s -> stop: %v", old, err)
	}
	return err
}

// hardwareFailure reports whether err came from the hardware rather than from
// the caller giving up.
func hardwareFailure(ctx context.Context, err error) bool {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return false
	}
	return true
}

// StopMotion is SetRobotState(ctx, StateStop), except that it first aborts a
// blocking move running on another goroutine. A move still being prepared
// when the stop arrives is abandoned before it reaches the hardware.
func (c *Controller) StopMotion(ctx context.Context) error {
	c.requestStop()
	_, err := c.SetRobotState(ctx, StateStop)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// requestStop marks a stop as pending and cancels the move in flight.
func (c *Controller) requestStop() {
	c.moveMu.Lock()
	defer c.moveMu.Unlock()
	c.stopPending++
	if c.moveCancel != nil {
		c.moveCancel()
	}
}

func (c *Controller) cancelMove() {
	c.moveMu.Lock()
	defer c.moveMu.Unlock()
	if c.moveCancel != nil {
		c.moveCancel()
	}
}

func (c *Controller) stopRequested() bool {
	c.moveMu.Lock()
	defer c.moveMu.Unlock()
	return c.stopPending > 0
}

// clearStops is called whenever the state machine reaches STOP.
func (c *Controller) clearStops() {
	c.moveMu.Lock()
	c.stopPending = 0
	c.moveMu.Unlock()
}

func (c *Controller) setMoveCancel(cancel context.CancelFunc) {
	c.moveMu.Lock()
	c.moveCancel = cancel
	c.moveMu.Unlock()
}

// SetPosition moves to target and blocks until the hardware reports the move
// done. It needs position control.
//
// Articular accepts a JointTarget or a 4-value VectorTarget. Reference accepts
// a PoseTarget or a 6-value VectorTarget giving fMc. Camera accepts the same
// forms, read as a displacement of the current camera pose.
func (c *Controller) SetPosition(ctx context.Context, frame kinematics.Frame, target Target) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err := c.sm.Require(StatePositionControl, "set position"); err != nil {
		return err
	}

	// installed before the target is resolved so a stop can interrupt the
	// hardware read of a Camera-frame target
	moveCtx, cancel := context.WithCancel(ctx)
	c.setMoveCancel(cancel)
	defer func() {
		c.setMoveCancel(nil)
		cancel()
	}()
	aborted := func() bool {
		return c.stopRequested() || (moveCtx.Err() != nil && ctx.Err() == nil)
	}

	q, values, err := c.resolveTarget(moveCtx, frame, target)
	if err != nil {
		if aborted() && !errors.Is(err, ErrCommunication) {
			return c.fail(ctx, fmt.Errorf("move aborted: %w", context.Canceled), true)
		}
		return err
	}
	if aborted() {
		return c.fail(ctx, fmt.Errorf("move aborted: %w", context.Canceled), true)
	}

	err = c.hw.SendJointPositionCommand(moveCtx, q, c.positioningVelocity)
	if err != nil {
		if aborted() && !errors.Is(err, ErrCommunication) {
			return c.fail(ctx, fmt.Errorf("move aborted: %w", context.Canceled), true)
		}
		if !hardwareFailure(ctx, err) {
			return c.fail(ctx, fmt.Errorf("move aborted: %w", err), true)
		}
		return c.fail(ctx, commErr("position move", err), true)
	}

	c.recordCommand(KindPosition, frame, values, q.Slice())
	return nil
}

// SetJointPosition moves to (q1, q2, q3, q4) in the Articular frame.
func (c *Controller) SetJointPosition(ctx context.Context, q1, q2, q3, q4 float64) error {
	return c.SetPosition(ctx, kinematics.Articular, JointTarget{q1, q2, q3, q4})
}

// resolveTarget returns the joint target and the values to record. Must be
// called with c.mu held.
func (c *Controller) resolveTarget(ctx context.Context, frame kinematics.Frame, target Target) (kinematics.JointVector, []float64, error) {
	var q kinematics.JointVector

	switch frame {
	case kinematics.Articular:
		switch t := target.(type) {
		case JointTarget:
			q = kinematics.JointVector(t)
		case VectorTarget:
			v, err := kinematics.JointVectorFromSlice(t)
			if err != nil {
				return q, nil, err
			}
			q = v
		default:
			return q, nil, fmt.Errorf("%w: articular position needs joint values, got %T", ErrDimension, target)
		}
		if i := c.model.Limits().Violation(q); i >= 0 {
			l := c.model.Limits()
			return q, nil, fmt.Errorf("%w: joint %d target %.6f outside [%.6f, %.6f]", ErrOutOfRange, i+1, q[i], l.Min[i], l.Max[i])
		}
		return q, q.Slice(), nil

	case kinematics.Reference, kinematics.Camera:
		var pose kinematics.Pose
		switch t := target.(type) {
		case PoseTarget:
			pose = t.Pose
		case VectorTarget:
			p, err := kinematics.NewPoseFromVector(t)
			if err != nil {
				return q, nil, fmt.Errorf("%w: %s position needs 6 values, got %d", ErrDimension, frame, len(t))
			}
			pose = p
		default:
			return q, nil, fmt.Errorf("%w: %s position needs a pose, got %T", ErrDimension, frame, target)
		}

		if frame == kinematics.Camera {
			now, _, err := c.readJoints(ctx)
			if err != nil {
				return q, nil, err
			}
			pose = c.model.JointToPose(now).Compose(pose)
		}
		sol, err := c.model.PoseToJoint(pose)
		if err != nil {
			return q, nil, err
		}
		return sol, pose.Vector(), nil

	default:
		return q, nil, fmt.Errorf("%w: %s frame is not supported", ErrUnreachable, frame)
	}
}

// readJoints reads the hardware and forces STOP on failure. Must be called
// with c.mu held.
func (c *Controller) readJoints(ctx context.Context) (kinematics.JointVector, time.Time, error) {
	q, t, err := c.hw.ReadJointPosition(ctx)
	if err != nil {
		if !hardwareFailure(ctx, err) {
			return q, t, err
		}
		return q, t, c.fail(ctx, commErr("read joint position", err), false)
	}
	return q, t, nil
}

// SetVelocity sends one velocity command. It needs velocity control and never
// loops; the caller streams commands at its own control rate. Articular takes
// 4 joint rates, Reference the end-effector twist (v, w) and Camera the camera
// twist, each 6 values. A command whose joint rates exceed the velocity limits
// is rejected and not sent.
func (c *Controller) SetVelocity(ctx context.Context, frame kinematics.Frame, v []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err := c.sm.Require(StateVelocityControl, "set velocity"); err != nil {
		return err
	}
	if frame == kinematics.Mixed {
		return fmt.Errorf("%w: %s frame is not supported", ErrUnreachable, frame)
	}
	if len(v) != frame.Dim() {
		return fmt.Errorf("%w: %s velocity needs %d values, got %d", ErrDimension, frame, frame.Dim(), len(v))
	}

	var q kinematics.JointVector
	if frame.Cartesian() {
		var err error
		if q, _, err = c.readJoints(ctx); err != nil {
			return err
		}
	}
	rates, err := c.model.JointRates(frame, q, v)
	if err != nil {
		return err
	}
	for i, r := range rates {
		if math.IsNaN(r) || math.Abs(r) > c.velocityLimits[i] {
			return fmt.Errorf("%w: joint %d rate %.4f exceeds %.4f", ErrOutOfRange, i+1, r, c.velocityLimits[i])
		}
	}

	if err := c.hw.SendJointVelocityCommand(ctx, rates); err != nil {
		if !hardwareFailure(ctx, err) {
			return err
		}
		return c.fail(ctx, commErr("velocity command", err), false)
	}
	c.recordCommand(KindVelocity, frame, v, rates.Slice())
	return nil
}

// GetPosition reads the joints and expresses them in frame. It is legal in
// every state.
func (c *Controller) GetPosition(ctx context.Context, frame kinematics.Frame) (Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Position{}, ErrClosed
	}
	switch frame {
	case kinematics.Articular, kinematics.Reference, kinematics.Camera:
	default:
		return Position{}, fmt.Errorf("%w: %s frame is not supported", ErrUnreachable, frame)
	}

	q, t, err := c.readJoints(ctx)
	if err != nil {
		return Position{}, err
	}
	p := Position{Frame: frame, Joints: q, Pose: c.model.JointToPose(q), Time: t}
	c.recordMeasurement(KindPosition, frame, p.Vector(), t)
	return p, nil
}

// GetVelocity returns the velocity measured since the previous call.
func (c *Controller) GetVelocity(ctx context.Context, frame kinematics.Frame) ([]float64, error) {
	return c.measure(ctx, KindVelocity, frame, c.estimator.Velocity)
}

// GetDisplacement returns the displacement measured since the previous call.
func (c *Controller) GetDisplacement(ctx context.Context, frame kinematics.Frame) ([]float64, error) {
	return c.measure(ctx, KindDisplacement, frame, c.estimator.Displacement)
}

func (c *Controller) measure(ctx context.Context, kind string, frame kinematics.Frame,
	estimate func(context.Context, kinematics.Frame) ([]float64, error),
) ([]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	v, err := estimate(ctx, frame)
	if err != nil {
		if errors.Is(err, ErrCommunication) && hardwareFailure(ctx, err) {
			return nil, c.fail(ctx, err, false)
		}
		return nil, err
	}
	c.recordMeasurement(kind, frame, v, c.clock.Now())
	return v, nil
}

// PowerOn energizes the motors.
func (c *Controller) PowerOn(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err := c.hw.PowerOn(ctx); err != nil {
		return c.fail(ctx, commErr("power on", err), false)
	}
	c.recordCommand(KindPower, kinematics.Articular, []float64{1}, nil)
	return nil
}

// PowerOff cuts motor power. In velocity control the robot is stopped first.
func (c *Controller) PowerOff(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.sm.Current() == StateVelocityControl {
		if _, err := c.transition(ctx, StateStop); err != nil {
			return err
		}
	}
	if err := c.hw.PowerOff(ctx); err != nil {
		return c.fail(ctx, commErr("power off", err), false)
	}
	c.recordCommand(KindPower, kinematics.Articular, []float64{0}, nil)
	return nil
}

// PowerState reports whether the motors are energized.
func (c *Controller) PowerState(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrClosed
	}
	on, err := c.hw.IsPowered(ctx)
	if err != nil {
		return false, c.fail(ctx, commErr("power state", err), false)
	}
	return on, nil
}

// SetPositioningVelocity sets the speed of subsequent position moves, in
// percent of the maximum. It must be in (0, 100].
func (c *Controller) SetPositioningVelocity(pct float64) error {
	if err := units.Percent(pct).Validate(); err != nil {
		return fmt.Errorf("%w: positioning velocity: %v", ErrOutOfRange, err)
	}
	c.mu.Lock()
	c.positioningVelocity = pct
	c.mu.Unlock()
	return nil
}

// PositioningVelocity returns the speed used for position moves, in percent.
func (c *Controller) PositioningVelocity() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positioningVelocity
}

// MoveToFile reads a joint position file, moves there in position control and
// restores the previous control state.
func (c *Controller) MoveToFile(ctx context.Context, fsys fsutil.FileSystem, path string) error {
	q, err := posfile.ReadFile(fsys, path)
	if err != nil {
		return err
	}
	old, err := c.SetRobotState(ctx, StatePositionControl)
	if err != nil {
		return err
	}
	if err := c.SetPosition(ctx, kinematics.Articular, JointTarget(q)); err != nil {
		return err
	}
	if old != StatePositionControl {
		_, err = c.SetRobotState(ctx, old)
	}
	return err
}

// SavePosition writes the current joint position to a position file.
func (c *Controller) SavePosition(ctx context.Context, fsys fsutil.FileSystem, path string) error {
	p, err := c.GetPosition(ctx, kinematics.Articular)
	if err != nil {
		return err
	}
	return posfile.WriteFile(fsys, path, p.Joints)
}

// Close stops the robot best-effort and releases the registry. The registry
// is released even if the stop fails.
func (c *Controller) Close() error {
	c.cancelMove()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	defer c.registry.Release()

	_, err := c.transition(context.Background(), StateStop)
	if err != nil {
		logf("stop on close: %v", err)
	}
	logf("controller %s closed", c.session)
	return err
}

func (c *Controller) recordState(from, to State) {
	if err := c.recorder.RecordState(c.session, from, to, c.clock.Now()); err != nil {
		logf("record state: %v", err)
	}
}

func (c *Controller) recordCommand(kind string, frame kinematics.Frame, values, joints []float64) {
	err := c.recorder.RecordCommand(Command{
		Session: c.session,
		Kind:    kind,
		Frame:   frame,
		Values:  append([]float64(nil), values...),
		Joints:  joints,
		Time:    c.clock.Now(),
	})
	if err != nil {
		logf("record command: %v", err)
	}
}

func (c *Controller) recordMeasurement(kind string, frame kinematics.Frame, values []float64, t time.Time) {
	err := c.recorder.RecordMeasurement(Measurement{
		Session: c.session,
		Kind:    kind,
		Frame:   frame,
		Values:  append([]float64(nil), values...),
		Time:    t,
	})
	if err != nil {
		logf("record measurement: %v", err)
	}
}
