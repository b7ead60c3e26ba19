package trace

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Plot size for RenderPNG.
const (
	PlotWidth  = 14 * vg.Inch
	PlotHeight = 6 * vg.Inch
)

// NewPlot draws one line per axis of s.
func NewPlot(s Series) (*plot.Plot, error) {
	if s.Len() == 0 {
		return nil, ErrEmpty
	}

	p := plot.New()
	p.Title.Text = s.Name
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Value"

	elapsed := s.Elapsed()
	for i, axis := range s.Axes {
		values := s.Axis(i)
		pts := make(plotter.XYs, len(elapsed))
		for n := range elapsed {
			pts[n] = plotter.XY{X: elapsed[n], Y: values[n]}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("trace: %s axis %s: %w", s.Name, axis, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(axis, line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	p.Add(plotter.NewGrid())
	return p, nil
}

// RenderPNG writes the plot of s to path. The file extension selects the
// image format, so .svg and .pdf work too.
func RenderPNG(s Series, path string) error {
	p, err := NewPlot(s)
	if err != nil {
		return err
	}
	if err := p.Save(PlotWidth, PlotHeight, path); err != nil {
		return fmt.Errorf("trace: save %s: %w", path, err)
	}
	return nil
}
