package robot

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/afma4/internal/kinematics"
)

// LowLevelController is the vendor motion-controller driver. Every call may
// fail; the controller treats any error as a communication failure.
type LowLevelController interface {
	ReadJointPosition(ctx context.Context) (kinematics.JointVector, time.Time, error)
	// SendJointPositionCommand blocks until the move completes, fails, or ctx
	// is done.
	SendJointPositionCommand(ctx context.Context, q kinematics.JointVector, speedPercent float64) error
	SendJointVelocityCommand(ctx context.Context, rates kinematics.JointVector) error
	EmergencyStop(ctx context.Context) error
	PowerOn(ctx context.Context) error
	PowerOff(ctx context.Context) error
	IsPowered(ctx context.Context) (bool, error)
}

// Protocol is the generic robot-control capability set.
type Protocol interface {
	State() State
	SetRobotState(ctx context.Context, s State) (State, error)
	SetPosition(ctx context.Context, frame kinematics.Frame, target Target) error
	GetPosition(ctx context.Context, frame kinematics.Frame) (Position, error)
	SetVelocity(ctx context.Context, frame kinematics.Frame, v []float64) error
	GetVelocity(ctx context.Context, frame kinematics.Frame) ([]float64, error)
}

var _ Protocol = (*Controller)(nil)

// Target is a position command: a JointTarget, a PoseTarget or a VectorTarget.
type Target interface {
	isTarget()
}

// JointTarget is a joint-space target, legal only in the Articular frame.
type JointTarget kinematics.JointVector

// PoseTarget is a camera pose. In the Reference frame it is fMc; in the Camera
// frame it is relative to the current camera pose.
type PoseTarget struct {
	Pose kinematics.Pose
}

// VectorTarget holds 4 joint values for Articular, or (tx, ty, tz, theta-u)
// for Reference and Camera.
type VectorTarget []float64

func (JointTarget) isTarget()  {}
func (PoseTarget) isTarget()   {}
func (VectorTarget) isTarget() {}

// Position is a measured robot position.
type Position struct {
	Frame  kinematics.Frame
	Joints kinematics.JointVector
	Pose   kinematics.Pose // fMc
	Time   time.Time
}

// Vector returns the joint values for Articular and (t, theta-u) of the camera
// pose otherwise.
func (p Position) Vector() []float64 {
	if p.Frame == kinematics.Articular {
		return p.Joints.Slice()
	}
	return p.Pose.Vector()
}

// Command kinds recorded by the controller.
const (
	KindPosition     = "position"
	KindVelocity     = "velocity"
	KindDisplacement = "displacement"
	KindPower        = "power"
)

// Command is an accepted command that was forwarded to the hardware.
type Command struct {
	Session uuid.UUID
	Kind    string
	Frame   kinematics.Frame
	Values  []float64 // as requested, in Frame
	Joints  []float64 // as sent to the hardware
	Time    time.Time
}

// Measurement is a value returned by GetPosition, GetVelocity or
// GetDisplacement.
type Measurement struct {
	Session uuid.UUID
	Kind    string
	Frame   kinematics.Frame
	Values  []float64
	Time    time.Time
}

// Recorder receives the controller's activity. Errors are logged and never
// abort a command.
type Recorder interface {
	StartSession(id uuid.UUID, started time.Time) error
	RecordCommand(c Command) error
	RecordState(session uuid.UUID, from, to State, at time.Time) error
	RecordMeasurement(m Measurement) error
}

type nopRecorder struct{}

func (nopRecorder) StartSession(uuid.UUID, time.Time) error              { return nil }
func (nopRecorder) RecordCommand(Command) error                          { return nil }
func (nopRecorder) RecordState(uuid.UUID, State, State, time.Time) error { return nil }
func (nopRecorder) RecordMeasurement(Measurement) error                  { return nil }
