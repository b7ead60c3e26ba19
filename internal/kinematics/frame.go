package kinematics

import (
	"fmt"
	"strings"
)

// Frame tags a position, velocity or displacement with the coordinate frame
// it is expressed in.
type Frame int

const (
	// Articular is joint space.
	Articular Frame = iota
	// Reference is the fixed world frame at the base of the robot.
	Reference
	// Camera is the tool frame attached to the camera on the end effector.
	Camera
	// Mixed expresses translations in Reference and rotations in Camera.
	// It is declared for completeness and rejected with ErrUnreachable.
	Mixed
)

var frameNames = map[Frame]string{
	Articular: "articular",
	Reference: "reference",
	Camera:    "camera",
	Mixed:     "mixed",
}

func (f Frame) String() string {
	if name, ok := frameNames[f]; ok {
		return name
	}
	return fmt.Sprintf("frame(%d)", int(f))
}

// Cartesian reports whether the frame describes a rigid pose in 3D space.
func (f Frame) Cartesian() bool {
	return f == Reference || f == Camera || f == Mixed
}

// Dim is the length of a velocity or displacement vector expressed in f.
func (f Frame) Dim() int {
	if f == Articular {
		return NumJoints
	}
	return 6
}

// ParseFrame parses a frame name as produced by Frame.String.
func ParseFrame(s string) (Frame, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for f, n := range frameNames {
		if n == name {
			return f, nil
		}
	}
	switch name {
	case "joint", "joints", "q":
		return Articular, nil
	case "world", "base", "f":
		return Reference, nil
	case "tool", "c":
		return Camera, nil
	}
	return Articular, fmt.Errorf("unknown frame %q: expected articular, reference, camera or mixed", s)
}
