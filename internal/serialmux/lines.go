package serialmux

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

var (
	ErrWriteFailed = errors.New("failed to write to serial port")
	ErrClosed      = errors.New("serial connection closed")
)

// LineConn exchanges newline-terminated ASCII lines over a serial port. A
// single goroutine scans the port so that a blocking read never stops a caller
// from observing context cancellation.
type LineConn struct {
	port    SerialPorter
	lines   chan string
	scanErr chan error
	done    chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewLineConn starts reading lines from port.
func NewLineConn(port SerialPorter) *LineConn {
	c := &LineConn{
		port:    port,
		lines:   make(chan string),
		scanErr: make(chan error, 1),
		done:    make(chan struct{}),
	}
	go c.scan()
	return c
}

func (c *LineConn) scan() {
	defer close(c.lines)
	scan := bufio.NewScanner(c.port)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		select {
		case c.lines <- line:
		case <-c.done:
			return
		}
	}
	err := scan.Err()
	if err == nil {
		err = io.EOF
	}
	c.scanErr <- err
}

// Send writes command followed by a newline.
func (c *LineConn) Send(command string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := c.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// ReadLine returns the next non-empty line, or an error once ctx is done or
// the port stops delivering.
func (c *LineConn) ReadLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.done:
		return "", ErrClosed
	case line, ok := <-c.lines:
		if !ok {
			select {
			case err := <-c.scanErr:
				c.scanErr <- err
				return "", err
			default:
				return "", io.EOF
			}
		}
		return line, nil
	}
}

// Request sends command and returns the first reply line.
func (c *LineConn) Request(ctx context.Context, command string) (string, error) {
	if err := c.Send(command); err != nil {
		return "", err
	}
	return c.ReadLine(ctx)
}

// Close stops the reader and closes the port.
func (c *LineConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.port.Close()
	})
	return err
}
