package hardware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/afma4/internal/kinematics"
	"github.com/banshee-data/afma4/internal/timeutil"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSim(opts ...SimOption) (*Simulator, *timeutil.MockClock) {
	clk := timeutil.NewMockClock(epoch)
	return NewSimulator(append([]SimOption{WithSimClock(clk), WithPower(true)}, opts...)...), clk
}

func TestSimulator_VelocityIntegratesOverClockTime(t *testing.T) {
	sim, clk := newSim()
	ctx := context.Background()

	require.NoError(t, sim.SendJointVelocityCommand(ctx, kinematics.JointVector{0.1, -0.05, 0, 0.2}))
	clk.Advance(2 * time.Second)

	q, at, err := sim.ReadJointPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(2*time.Second), at)
	assert.InDeltaSlice(t, []float64{0.2, -0.1, 0, 0.4}, q.Slice(), 1e-12)
}

func TestSimulator_VelocityClampsAtLimits(t *testing.T) {
	sim, clk := newSim()
	ctx := context.Background()

	require.NoError(t, sim.SendJointVelocityCommand(ctx, kinematics.JointVector{0, 0.5, 0, 0}))
	clk.Advance(10 * time.Second)

	q := sim.Joints()
	assert.Equal(t, kinematics.DefaultJointLimits.Max[1], q[1])
	assert.Equal(t, 0.0, sim.Rates()[1])
}

func TestSimulator_EmergencyStopHaltsMotion(t *testing.T) {
	sim, clk := newSim()
	ctx := context.Background()

	require.NoError(t, sim.SendJointVelocityCommand(ctx, kinematics.JointVector{0.1, 0, 0, 0}))
	clk.Advance(time.Second)
	require.NoError(t, sim.EmergencyStop(ctx))
	clk.Advance(time.Second)

	assert.InDelta(t, 0.1, sim.Joints()[0], 1e-12)
	assert.Equal(t, 1, sim.Calls(OpStop))
}

func TestSimulator_PositionMove(t *testing.T) {
	sim, clk := newSim()
	target := kinematics.JointVector{0.7, 0.1, -0.35, 0.2}

	require.NoError(t, sim.SendJointPositionCommand(context.Background(), target, 50))
	assert.Equal(t, target, sim.Joints())
	assert.Equal(t, 50.0, sim.LastMoveSpeed())
	// slowest joint: 0.7 rad at 0.35 rad/s
	assert.InDelta(t, 2.0, clk.Since(epoch).Seconds(), 2*DefaultMoveStep.Seconds())
}

func TestSimulator_PositionMoveRejections(t *testing.T) {
	ctx := context.Background()

	sim, _ := newSim(WithPower(false))
	assert.ErrorIs(t, sim.SendJointPositionCommand(ctx, kinematics.JointVector{}, 10), ErrPowerOff)

	sim, _ = newSim()
	assert.Error(t, sim.SendJointPositionCommand(ctx, kinematics.JointVector{0, 1, 0, 0}, 10))
	assert.Error(t, sim.SendJointPositionCommand(ctx, kinematics.JointVector{}, 0))
}

func TestSimulator_HeldMoveHonorsContext(t *testing.T) {
	sim, _ := newSim()
	sim.HoldMoves(make(chan struct{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sim.SendJointPositionCommand(ctx, kinematics.JointVector{0.5}, 20)
	}()

	require.Eventually(t, func() bool { return sim.Calls(OpMove) == 1 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("move did not return after cancel")
	}
	assert.Equal(t, kinematics.JointVector{}, sim.Joints())
}

func TestSimulator_FaultInjection(t *testing.T) {
	sim, _ := newSim()
	ctx := context.Background()
	boom := errors.New("cable cut")

	sim.Fail(OpRead, boom)
	_, _, err := sim.ReadJointPosition(ctx)
	assert.ErrorIs(t, err, boom)

	sim.Recover(OpRead)
	_, _, err = sim.ReadJointPosition(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, sim.Calls(OpRead))
}

func TestSimulator_Power(t *testing.T) {
	sim, _ := newSim(WithPower(false))
	ctx := context.Background()

	on, err := sim.IsPowered(ctx)
	require.NoError(t, err)
	assert.False(t, on)
	assert.ErrorIs(t, sim.SendJointVelocityCommand(ctx, kinematics.JointVector{0.1}), ErrPowerOff)
	// zero rates are always accepted
	assert.NoError(t, sim.SendJointVelocityCommand(ctx, kinematics.JointVector{}))

	require.NoError(t, sim.PowerOn(ctx))
	on, _ = sim.IsPowered(ctx)
	assert.True(t, on)

	require.NoError(t, sim.SendJointVelocityCommand(ctx, kinematics.JointVector{0.1}))
	require.NoError(t, sim.PowerOff(ctx))
	assert.True(t, sim.Rates().IsZero())
}
