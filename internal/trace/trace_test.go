package trace

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/afma4/internal/journal"
)

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func velocityRows() []journal.MeasurementRow {
	rows := make([]journal.MeasurementRow, 0, 10)
	for i := 0; i < 10; i++ {
		v := 0.01 * float64(i)
		rows = append(rows, journal.MeasurementRow{
			Kind:   "velocity",
			Frame:  "articular",
			Values: []float64{v, -v, 2 * v, 0},
			Time:   start.Add(time.Duration(i) * 100 * time.Millisecond),
		})
	}
	return rows
}

func TestFromMeasurements(t *testing.T) {
	s, err := FromMeasurements("joint velocity", velocityRows())
	require.NoError(t, err)

	assert.Equal(t, 10, s.Len())
	assert.Equal(t, []string{"q1", "q2", "q3", "q4"}, s.Axes)
	assert.InDelta(t, 0.9, s.Elapsed()[9], 1e-12)
	assert.InDelta(t, -0.09, s.Axis(1)[9], 1e-12)
}

func TestFromMeasurements_MixedDimensions(t *testing.T) {
	rows := velocityRows()
	rows[3].Values = []float64{0, 0, 0, 0, 0, 0}
	_, err := FromMeasurements("bad", rows)
	assert.Error(t, err)
}

func TestFromCommands_FiltersKind(t *testing.T) {
	rows := []journal.CommandRow{
		{Kind: "velocity", Joints: []float64{0.1, 0, 0, 0}, Time: start},
		{Kind: "position", Joints: []float64{1, 2, 3, 4}, Time: start.Add(time.Second)},
		{Kind: "velocity", Joints: []float64{0.2, 0, 0, 0}, Time: start.Add(2 * time.Second)},
		{Kind: "power", Time: start.Add(3 * time.Second)},
	}
	s, err := FromCommands("commanded rates", "velocity", rows)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []float64{0.1, 0.2}, s.Axis(0))
}

func TestAxisNames(t *testing.T) {
	assert.Equal(t, []string{"tx", "ty", "tz", "tux", "tuy", "tuz"}, axisNames(6))
	assert.Equal(t, []string{"v1", "v2"}, axisNames(2))
}

func TestRenderPNG(t *testing.T) {
	s, err := FromMeasurements("joint velocity", velocityRows())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "trace.png")
	require.NoError(t, RenderPNG(s, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), "png signature")
}

func TestRenderHTML(t *testing.T) {
	s, err := FromMeasurements("joint velocity", velocityRows())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, RenderHTML(s, &buf))
	out := buf.String()
	assert.Contains(t, out, "echarts")
	assert.Contains(t, out, "joint velocity")
	assert.Contains(t, out, "q4")
}

func TestRender_Empty(t *testing.T) {
	assert.ErrorIs(t, RenderPNG(Series{Name: "none"}, filepath.Join(t.TempDir(), "x.png")), ErrEmpty)
	assert.ErrorIs(t, RenderHTML(Series{Name: "none"}, &bytes.Buffer{}), ErrEmpty)
}
