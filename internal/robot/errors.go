package robot

import (
	"errors"

	"github.com/banshee-data/afma4/internal/kinematics"
	"github.com/banshee-data/afma4/internal/motion"
)

var (
	// ErrAlreadyExists is returned by New while another controller holds the
	// registry.
	ErrAlreadyExists = errors.New("robot: a controller is already live")
	// ErrInvalidState is returned when a command is not legal in the current
	// control state. No hardware call is made.
	ErrInvalidState = errors.New("robot: command not allowed in current state")
	// ErrOutOfRange is returned when a velocity or positioning-velocity value
	// is outside its limits. No hardware call is made.
	ErrOutOfRange = errors.New("robot: value out of range")
	// ErrCommunication wraps any failure reported by the low-level controller.
	// The controller is in STOP when it is returned.
	ErrCommunication = errors.New("robot: communication with motion controller failed")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("robot: controller closed")

	ErrUnreachable = kinematics.ErrUnreachable
	ErrTiming      = motion.ErrTiming
	ErrDimension   = kinematics.ErrDimension
)
