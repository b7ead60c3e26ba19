package robot

import (
	"time"

	"github.com/banshee-data/afma4/internal/kinematics"
	"github.com/banshee-data/afma4/internal/timeutil"
)

// Defaults applied by New.
const (
	DefaultPositioningVelocity = 20.0
	DefaultStopTimeout         = 500 * time.Millisecond
)

// DefaultVelocityLimits bounds each joint rate accepted by SetVelocity
// (rad/s, m/s, rad/s, rad/s).
var DefaultVelocityLimits = kinematics.JointVector{0.7, 0.5, 0.7, 0.7}

// Option configures a Controller.
type Option func(*Controller)

// WithRegistry uses r instead of DefaultRegistry.
func WithRegistry(r *Registry) Option {
	return func(c *Controller) { c.registry = r }
}

// WithModel overrides the kinematic model. The default uses the stock camera
// mount.
func WithModel(m *kinematics.Afma4) Option {
	return func(c *Controller) { c.model = m }
}

// WithClock sets the clock used to timestamp recorded activity.
func WithClock(clk timeutil.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithRecorder journals commands, state changes and measurements.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithVelocityLimits overrides DefaultVelocityLimits.
func WithVelocityLimits(l kinematics.JointVector) Option {
	return func(c *Controller) { c.velocityLimits = l }
}

// WithPositioningVelocity sets the initial positioning velocity in percent.
func WithPositioningVelocity(pct float64) Option {
	return func(c *Controller) { c.positioningVelocity = pct }
}

// WithStopTimeout bounds every stop issued on the controller's own initiative.
func WithStopTimeout(d time.Duration) Option {
	return func(c *Controller) { c.stopTimeout = d }
}
