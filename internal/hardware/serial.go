package hardware

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/afma4/internal/kinematics"
	"github.com/banshee-data/afma4/internal/monitoring"
	"github.com/banshee-data/afma4/internal/serialmux"
	"github.com/banshee-data/afma4/internal/timeutil"
)

var logf = monitoring.Component("serial")

var (
	// ErrDevice is returned when the motion controller answers "ERR <msg>".
	ErrDevice = errors.New("hardware: device error")
	// ErrProtocol is returned for replies that do not parse.
	ErrProtocol = errors.New("hardware: unexpected reply")
)

// SerialController drives the motion controller over its ASCII line protocol:
//
//	POS?                 -> POS q1 q2 q3 q4
//	MOVE q1 q2 q3 q4 pct -> OK, then DONE when the move ends
//	VEL r1 r2 r3 r4      -> OK
//	STOP                 -> OK
//	PWR 1 | PWR 0        -> OK
//	PWR?                 -> PWR 1 | PWR 0
//
// Any command may instead be answered with "ERR <message>". Joint values are
// radians and meters.
type SerialController struct {
	mu    sync.Mutex
	conn  *serialmux.LineConn
	clock timeutil.Clock
}

// NewSerialController speaks the protocol over port.
func NewSerialController(port serialmux.SerialPorter, clock timeutil.Clock) *SerialController {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SerialController{conn: serialmux.NewLineConn(port), clock: clock}
}

// OpenSerial opens the serial device at path with open (serialmux.Open in
// production).
func OpenSerial(path string, opts serialmux.PortOptions, open serialmux.Opener) (*SerialController, error) {
	if open == nil {
		open = serialmux.Open
	}
	port, err := open(path, opts)
	if err != nil {
		return nil, err
	}
	logf("opened %s", path)
	return NewSerialController(port, nil), nil
}

// Close closes the serial port.
func (c *SerialController) Close() error {
	return c.conn.Close()
}

// request sends command and returns its reply. A DONE left over from an
// aborted move is skipped. Must be called with c.mu held.
func (c *SerialController) request(ctx context.Context, command string) (string, error) {
	if err := c.conn.Send(command); err != nil {
		return "", err
	}
	for {
		reply, err := c.conn.ReadLine(ctx)
		if err != nil {
			return "", err
		}
		if reply == "DONE" {
			logf("skipping stale DONE before reply to %q", command)
			continue
		}
		return reply, replyError(command, reply)
	}
}

func replyError(command, reply string) error {
	if msg, ok := strings.CutPrefix(reply, "ERR"); ok {
		return fmt.Errorf("%w: %s: %s", ErrDevice, command, strings.TrimSpace(msg))
	}
	return nil
}

// expectOK runs a command whose only success reply is OK.
func (c *SerialController) expectOK(ctx context.Context, command string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	reply, err := c.request(ctx, command)
	if err != nil {
		return err
	}
	if reply != "OK" {
		return fmt.Errorf("%w: %s: %q", ErrProtocol, command, reply)
	}
	return nil
}

func formatJoints(q kinematics.JointVector) string {
	parts := make([]string, len(q))
	for i, v := range q {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, " ")
}

func (c *SerialController) ReadJointPosition(ctx context.Context) (kinematics.JointVector, time.Time, error) {
	var q kinematics.JointVector
	c.mu.Lock()
	defer c.mu.Unlock()

	reply, err := c.request(ctx, "POS?")
	if err != nil {
		return q, time.Time{}, err
	}
	at := c.clock.Now()

	fields := strings.Fields(reply)
	if len(fields) != kinematics.NumJoints+1 || fields[0] != "POS" {
		return q, time.Time{}, fmt.Errorf("%w: POS?: %q", ErrProtocol, reply)
	}
	for i, f := range fields[1:] {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return q, time.Time{}, fmt.Errorf("%w: POS?: %v", ErrProtocol, err)
		}
		q[i] = v
	}
	return q, at, nil
}

// SendJointPositionCommand blocks until the device reports DONE. If ctx ends
// first the move is left to the caller to stop.
func (c *SerialController) SendJointPositionCommand(ctx context.Context, q kinematics.JointVector, speedPercent float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	command := fmt.Sprintf("MOVE %s %s", formatJoints(q), strconv.FormatFloat(speedPercent, 'f', -1, 64))
	reply, err := c.request(ctx, command)
	if err != nil {
		return err
	}
	if reply != "OK" {
		return fmt.Errorf("%w: MOVE: %q", ErrProtocol, reply)
	}

	for {
		line, err := c.conn.ReadLine(ctx)
		if err != nil {
			return err
		}
		if err := replyError("MOVE", line); err != nil {
			return err
		}
		if line == "DONE" {
			return nil
		}
		logf("ignoring %q while moving", line)
	}
}

func (c *SerialController) SendJointVelocityCommand(ctx context.Context, rates kinematics.JointVector) error {
	return c.expectOK(ctx, "VEL "+formatJoints(rates))
}

func (c *SerialController) EmergencyStop(ctx context.Context) error {
	return c.expectOK(ctx, "STOP")
}

func (c *SerialController) PowerOn(ctx context.Context) error {
	return c.expectOK(ctx, "PWR 1")
}

func (c *SerialController) PowerOff(ctx context.Context) error {
	return c.expectOK(ctx, "PWR 0")
}

func (c *SerialController) IsPowered(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	reply, err := c.request(ctx, "PWR?")
	if err != nil {
		return false, err
	}
	switch reply {
	case "PWR 1":
		return true, nil
	case "PWR 0":
		return false, nil
	}
	return false, fmt.Errorf("%w: PWR?: %q", ErrProtocol, reply)
}
