package journal

import (
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/afma4/internal/robot"
)

// Recorder adapts a Journal to robot.Recorder.
type Recorder struct {
	j     *Journal
	model string
}

var _ robot.Recorder = (*Recorder)(nil)

// NewRecorder journals controller activity under the given model name.
func NewRecorder(j *Journal, model string) *Recorder {
	return &Recorder{j: j, model: model}
}

func (r *Recorder) StartSession(id uuid.UUID, started time.Time) error {
	return r.j.BeginSession(id, r.model, started)
}

func (r *Recorder) RecordCommand(c robot.Command) error {
	return r.j.RecordCommand(c.Session, CommandRow{
		Kind:   c.Kind,
		Frame:  c.Frame.String(),
		Values: c.Values,
		Joints: c.Joints,
		Time:   c.Time,
	})
}

func (r *Recorder) RecordState(session uuid.UUID, from, to robot.State, at time.Time) error {
	return r.j.RecordTransition(session, TransitionRow{From: from.String(), To: to.String(), Time: at})
}

func (r *Recorder) RecordMeasurement(m robot.Measurement) error {
	return r.j.RecordMeasurement(m.Session, MeasurementRow{
		Kind:   m.Kind,
		Frame:  m.Frame.String(),
		Values: m.Values,
		Time:   m.Time,
	})
}
