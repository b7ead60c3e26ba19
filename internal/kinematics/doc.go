// Package kinematics owns the geometric model of the Afma4 cylindrical
// manipulator and its eye-in-hand camera.
//
// Responsibilities: forward and inverse kinematics between joint space and
// the camera (tool) frame expressed in the fixed reference frame, the
// joint-rate to Cartesian-rate Jacobians for the reference and camera
// frames, and rigid-transform bookkeeping (Pose, theta-u rotations, velocity
// twist matrices).
// Key types: Afma4, Pose, JointVector, Frame.
//
// Everything here is pure computation: no I/O, no clocks, no locking. The
// model's geometry is fixed at construction.
package kinematics
