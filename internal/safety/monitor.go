// Package safety stops the robot when the hosting process is interrupted or
// a goroutine panics, then lets the termination proceed as it would have.
package safety

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/banshee-data/afma4/internal/monitoring"
)

var logf = monitoring.Component("safety")

// DefaultStopTimeout bounds the stop issued for each event.
const DefaultStopTimeout = 500 * time.Millisecond

// DefaultSignals are the termination signals watched by default. SIGSEGV and
// SIGBUS raised by the Go runtime cannot be intercepted; Guard covers panics.
var DefaultSignals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP}

// Stopper is implemented by robot.Controller.
type Stopper interface {
	StopMotion(ctx context.Context) error
}

// Monitor calls Stopper.StopMotion once for every watched signal and every
// panic passing through Guard.
type Monitor struct {
	stopper Stopper
	timeout time.Duration
	signals []os.Signal

	notify     func(c chan<- os.Signal, sig ...os.Signal)
	stopNotify func(c chan<- os.Signal)
	raise      func(sig os.Signal) error

	ch        chan os.Signal
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	stops     atomic.Int64
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithTimeout overrides DefaultStopTimeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.timeout = d }
}

// WithSignals overrides DefaultSignals.
func WithSignals(sig ...os.Signal) Option {
	return func(m *Monitor) { m.signals = sig }
}

// WithNotify replaces signal.Notify and signal.Stop.
func WithNotify(notify func(chan<- os.Signal, ...os.Signal), stop func(chan<- os.Signal)) Option {
	return func(m *Monitor) { m.notify, m.stopNotify = notify, stop }
}

// WithRaise replaces the function that re-delivers a signal after the stop.
func WithRaise(raise func(os.Signal) error) Option {
	return func(m *Monitor) { m.raise = raise }
}

// Watch registers for the watched signals until ctx is done or Close is
// called.
func Watch(ctx context.Context, stopper Stopper, opts ...Option) *Monitor {
	m := &Monitor{
		stopper:    stopper,
		timeout:    DefaultStopTimeout,
		signals:    DefaultSignals,
		notify:     signal.Notify,
		stopNotify: signal.Stop,
		raise:      raiseDefault,
		ch:         make(chan os.Signal, 1),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.notify(m.ch, m.signals...)

	m.wg.Add(1)
	go m.loop(ctx)
	return m
}

// raiseDefault restores the default disposition of sig and sends it to this
// process.
func raiseDefault(sig os.Signal) error {
	signal.Reset(sig)
	p, err := os.FindProcess(os.Getpid())
	if err != nil {
		return err
	}
	return p.Signal(sig)
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			m.stopNotify(m.ch)
			return
		case <-m.done:
			return
		case sig := <-m.ch:
			m.Stop(sig.String())
			if err := m.raise(sig); err != nil {
				logf("re-raise %v: %v", sig, err)
			}
		}
	}
}

// Stop issues one StopMotion and waits for it at most the monitor timeout, so
// a controller lock held by a wedged call cannot hold up termination. It never
// panics.
func (m *Monitor) Stop(reason string) {
	m.stops.Add(1)

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("panicked: %v", r)
			}
		}()
		result <- m.stopper.StopMotion(ctx)
	}()

	select {
	case err := <-result:
		if err != nil {
			logf("stop after %s failed: %v", reason, err)
			return
		}
		logf("robot stopped after %s", reason)
	case <-ctx.Done():
		logf("stop after %s still pending after %s", reason, m.timeout)
	}
}

// Stops returns how many stops the monitor has issued.
func (m *Monitor) Stops() int {
	return int(m.stops.Load())
}

// Guard runs fn. If fn panics the robot is stopped and the panic continues.
func (m *Monitor) Guard(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.Stop(fmt.Sprintf("panic: %v", r))
			panic(r)
		}
	}()
	fn()
}

// Close unregisters the signals and waits for the watcher to exit.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		m.stopNotify(m.ch)
		close(m.done)
	})
	m.wg.Wait()
}
