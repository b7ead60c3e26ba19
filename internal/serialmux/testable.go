package serialmux

import (
	"bytes"
	"errors"
	"strings"
	"sync"
)

// Responder produces the device's reply lines for one command line written to
// a TestablePort.
type Responder func(command string) []string

// TestablePort implements SerialPorter with scripted device replies. Reads
// block until data is available or the port is closed.
type TestablePort struct {
	mu       sync.Mutex
	readCond *sync.Cond

	readBuf  bytes.Buffer
	partial  string
	commands []string

	// Respond, if set, is called for every complete line written.
	Respond Responder
	// WriteError is returned by the next Write call if set.
	WriteError error
	// CloseError is returned by Close if set.
	CloseError error

	closed bool
}

// NewTestablePort returns a port answering with respond, which may be nil.
func NewTestablePort(respond Responder) *TestablePort {
	p := &TestablePort{Respond: respond}
	p.readCond = sync.NewCond(&p.mu)
	return p
}

// Read blocks until reply data is queued or the port is closed.
func (p *TestablePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.closed && p.readBuf.Len() == 0 {
		p.readCond.Wait()
	}
	if p.closed {
		return 0, errors.New("serial port closed")
	}
	return p.readBuf.Read(b)
}

// Write records complete command lines and queues the scripted replies.
func (p *TestablePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("serial port closed")
	}
	if p.WriteError != nil {
		err := p.WriteError
		p.WriteError = nil
		return 0, err
	}

	p.partial += string(b)
	for {
		i := strings.IndexByte(p.partial, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(p.partial[:i])
		p.partial = p.partial[i+1:]
		p.commands = append(p.commands, line)
		if p.Respond != nil {
			for _, reply := range p.Respond(line) {
				p.readBuf.WriteString(reply + "\n")
			}
		}
	}
	p.readCond.Broadcast()
	return len(b), nil
}

// Inject queues an unsolicited line from the device.
func (p *TestablePort) Inject(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readBuf.WriteString(line + "\n")
	p.readCond.Broadcast()
}

// Commands returns every command line written so far.
func (p *TestablePort) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}

// Close wakes blocked readers and marks the port closed.
func (p *TestablePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.readCond.Broadcast()
	return p.CloseError
}

// Closed reports whether Close was called.
func (p *TestablePort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
