// Package trace turns journaled measurements and commands into per-axis time
// series and renders them as PNG plots or HTML line charts.
package trace

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/afma4/internal/journal"
)

// ErrEmpty is returned when a series has no samples to draw.
var ErrEmpty = errors.New("trace: empty series")

// Series is a named multi-axis time series. Values[i] holds one value per
// axis for Times[i].
type Series struct {
	Name   string
	Axes   []string
	Times  []time.Time
	Values [][]float64
}

var (
	jointAxes = []string{"q1", "q2", "q3", "q4"}
	poseAxes  = []string{"tx", "ty", "tz", "tux", "tuy", "tuz"}
)

// axisNames labels n-dimensional samples.
func axisNames(n int) []string {
	switch n {
	case len(jointAxes):
		return jointAxes
	case len(poseAxes):
		return poseAxes
	}
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("v%d", i+1)
	}
	return names
}

func (s *Series) add(at time.Time, values []float64) error {
	if s.Axes == nil {
		s.Axes = axisNames(len(values))
	}
	if len(values) != len(s.Axes) {
		return fmt.Errorf("trace: %s sample at %s has %d values, want %d",
			s.Name, at.Format(time.RFC3339Nano), len(values), len(s.Axes))
	}
	s.Times = append(s.Times, at)
	s.Values = append(s.Values, values)
	return nil
}

// FromMeasurements builds a series from rows of a single kind and frame.
func FromMeasurements(name string, rows []journal.MeasurementRow) (Series, error) {
	s := Series{Name: name}
	for _, r := range rows {
		if err := s.add(r.Time, r.Values); err != nil {
			return Series{}, err
		}
	}
	return s, nil
}

// FromCommands builds a series of the joint values sent to the hardware for
// commands of the given kind.
func FromCommands(name, kind string, rows []journal.CommandRow) (Series, error) {
	s := Series{Name: name}
	for _, r := range rows {
		if r.Kind != kind || len(r.Joints) == 0 {
			continue
		}
		if err := s.add(r.Time, r.Joints); err != nil {
			return Series{}, err
		}
	}
	return s, nil
}

// Len is the number of samples.
func (s Series) Len() int { return len(s.Times) }

// Elapsed returns sample times as seconds since the first sample.
func (s Series) Elapsed() []float64 {
	out := make([]float64, len(s.Times))
	for i, t := range s.Times {
		out[i] = t.Sub(s.Times[0]).Seconds()
	}
	return out
}

// Axis returns the values of one axis across all samples.
func (s Series) Axis(i int) []float64 {
	out := make([]float64, len(s.Values))
	for n, v := range s.Values {
		out[n] = v[i]
	}
	return out
}
