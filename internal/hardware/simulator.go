// Package hardware provides LowLevelController backends: an in-memory
// simulator and a driver for the motion controller's serial line protocol.
package hardware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/afma4/internal/kinematics"
	"github.com/banshee-data/afma4/internal/timeutil"
)

// ErrPowerOff is returned for motion commands while the motors are off.
var ErrPowerOff = errors.New("hardware: motors are not powered")

// Op names a LowLevelController call for fault injection and call counting.
type Op string

const (
	OpRead      Op = "read"
	OpMove      Op = "move"
	OpVelocity  Op = "velocity"
	OpStop      Op = "stop"
	OpPowerOn   Op = "power-on"
	OpPowerOff  Op = "power-off"
	OpIsPowered Op = "is-powered"
)

// DefaultMoveStep is the integration step of simulated position moves.
const DefaultMoveStep = 20 * time.Millisecond

// DefaultMaxJointSpeed is the joint speed reached at 100% positioning velocity.
var DefaultMaxJointSpeed = kinematics.JointVector{0.7, 0.5, 0.7, 0.7}

// Simulator is an in-memory Afma4. Velocity commands are integrated over clock
// time and clamped at the joint limits; position moves advance in fixed steps
// at the requested fraction of DefaultMaxJointSpeed and can be cancelled
// between steps.
type Simulator struct {
	mu       sync.Mutex
	clock    timeutil.Clock
	limits   kinematics.JointLimits
	maxSpeed kinematics.JointVector
	step     time.Duration

	q       kinematics.JointVector
	rates   kinematics.JointVector
	updated time.Time
	powered bool

	faults   map[Op]error
	calls    map[Op]int
	gate     <-chan struct{}
	lastMove float64
}

// SimOption configures a Simulator.
type SimOption func(*Simulator)

// WithSimClock drives the simulator from clk. Use a timeutil.MockClock for
// deterministic tests.
func WithSimClock(clk timeutil.Clock) SimOption {
	return func(s *Simulator) { s.clock = clk }
}

// WithInitialJoints sets the starting joint position.
func WithInitialJoints(q kinematics.JointVector) SimOption {
	return func(s *Simulator) { s.q = q }
}

// WithPower starts the simulator with the motors on.
func WithPower(on bool) SimOption {
	return func(s *Simulator) { s.powered = on }
}

// WithSimLimits overrides kinematics.DefaultJointLimits.
func WithSimLimits(l kinematics.JointLimits) SimOption {
	return func(s *Simulator) { s.limits = l }
}

// WithMoveStep overrides DefaultMoveStep.
func WithMoveStep(d time.Duration) SimOption {
	return func(s *Simulator) { s.step = d }
}

// NewSimulator returns a simulator at the home position with the motors off.
func NewSimulator(opts ...SimOption) *Simulator {
	s := &Simulator{
		clock:    timeutil.RealClock{},
		limits:   kinematics.DefaultJointLimits,
		maxSpeed: DefaultMaxJointSpeed,
		step:     DefaultMoveStep,
		faults:   make(map[Op]error),
		calls:    make(map[Op]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.updated = s.clock.Now()
	return s
}

// Fail makes every subsequent op call return err until Recover.
func (s *Simulator) Fail(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

// Recover clears an injected fault.
func (s *Simulator) Recover(op Op) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.faults, op)
}

// HoldMoves makes position moves wait for gate to close (or their context to
// end) before moving. A nil gate releases the hold.
func (s *Simulator) HoldMoves(gate <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = gate
}

// Calls returns how many times op was called, faults included.
func (s *Simulator) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Joints returns the current joint position without counting a read.
func (s *Simulator) Joints() kinematics.JointVector {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.integrate()
	return s.q
}

// Rates returns the joint rates currently commanded.
func (s *Simulator) Rates() kinematics.JointVector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rates
}

// LastMoveSpeed returns the speed percentage of the latest position move.
func (s *Simulator) LastMoveSpeed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMove
}

// begin counts the call and returns its injected fault. Must be called with
// s.mu held.
func (s *Simulator) begin(op Op) error {
	s.calls[op]++
	if err := s.faults[op]; err != nil {
		return fmt.Errorf("simulated %s fault: %w", op, err)
	}
	return nil
}

// integrate advances q under the commanded rates. Must be called with s.mu
// held.
func (s *Simulator) integrate() {
	now := s.clock.Now()
	dt := now.Sub(s.updated).Seconds()
	s.updated = now
	if dt <= 0 || s.rates.IsZero() {
		return
	}
	for i := range s.q {
		s.q[i] += s.rates[i] * dt
		if s.q[i] < s.limits.Min[i] {
			s.q[i], s.rates[i] = s.limits.Min[i], 0
		} else if s.q[i] > s.limits.Max[i] {
			s.q[i], s.rates[i] = s.limits.Max[i], 0
		}
	}
}

func (s *Simulator) ReadJointPosition(ctx context.Context) (kinematics.JointVector, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpRead); err != nil {
		return kinematics.JointVector{}, time.Time{}, err
	}
	if err := ctx.Err(); err != nil {
		return kinematics.JointVector{}, time.Time{}, err
	}
	s.integrate()
	return s.q, s.updated, nil
}

// SendJointPositionCommand moves to q at speedPercent of DefaultMaxJointSpeed,
// all joints arriving together. It returns ctx.Err() if ctx ends first, leaving
// the robot where it stopped.
func (s *Simulator) SendJointPositionCommand(ctx context.Context, q kinematics.JointVector, speedPercent float64) error {
	s.mu.Lock()
	if err := s.begin(OpMove); err != nil {
		s.mu.Unlock()
		return err
	}
	if !s.powered {
		s.mu.Unlock()
		return ErrPowerOff
	}
	if speedPercent <= 0 || speedPercent > 100 {
		s.mu.Unlock()
		return fmt.Errorf("hardware: speed %.1f%% outside (0, 100]", speedPercent)
	}
	if i := s.limits.Violation(q); i >= 0 {
		s.mu.Unlock()
		return fmt.Errorf("hardware: joint %d target %.4f outside limits", i+1, q[i])
	}
	s.integrate()
	s.rates = kinematics.JointVector{}
	s.lastMove = speedPercent
	start, gate := s.q, s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var duration float64
	frac := speedPercent / 100
	for i := range q {
		if d := math.Abs(q[i]-start[i]) / (s.maxSpeed[i] * frac); d > duration {
			duration = d
		}
	}
	steps := int(math.Ceil(duration / s.step.Seconds()))

	for n := 1; n <= steps; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.clock.Sleep(s.step)
		alpha := float64(n) / float64(steps)
		s.mu.Lock()
		for i := range s.q {
			s.q[i] = start[i] + alpha*(q[i]-start[i])
		}
		s.updated = s.clock.Now()
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.q = q
	s.updated = s.clock.Now()
	s.mu.Unlock()
	return nil
}

func (s *Simulator) SendJointVelocityCommand(ctx context.Context, rates kinematics.JointVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpVelocity); err != nil {
		return err
	}
	if !s.powered && !rates.IsZero() {
		return ErrPowerOff
	}
	s.integrate()
	s.rates = rates
	return nil
}

func (s *Simulator) EmergencyStop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpStop); err != nil {
		return err
	}
	s.integrate()
	s.rates = kinematics.JointVector{}
	return nil
}

func (s *Simulator) PowerOn(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpPowerOn); err != nil {
		return err
	}
	s.powered = true
	return nil
}

func (s *Simulator) PowerOff(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpPowerOff); err != nil {
		return err
	}
	s.integrate()
	s.rates = kinematics.JointVector{}
	s.powered = false
	return nil
}

func (s *Simulator) IsPowered(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpIsPowered); err != nil {
		return false, err
	}
	return s.powered, nil
}
