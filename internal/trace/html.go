package trace

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// NewLineChart builds an echarts line chart with one series per axis of s.
func NewLineChart(s Series) (*charts.Line, error) {
	if s.Len() == 0 {
		return nil, ErrEmpty
	}

	elapsed := s.Elapsed()
	xs := make([]string, len(elapsed))
	for i, t := range elapsed {
		xs[i] = strconv.FormatFloat(t, 'f', 3, 64)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: s.Name, Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    s.Name,
			Subtitle: fmt.Sprintf("samples=%d start=%s", s.Len(), s.Times[0].Format("2006-01-02 15:04:05.000")),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Value"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)
	line.SetXAxis(xs)

	for i, axis := range s.Axes {
		values := s.Axis(i)
		data := make([]opts.LineData, len(values))
		for n, v := range values {
			data[n] = opts.LineData{Value: v}
		}
		line.AddSeries(axis, data)
	}
	return line, nil
}

// RenderHTML writes a standalone HTML page charting s to w.
func RenderHTML(s Series, w io.Writer) error {
	line, err := NewLineChart(s)
	if err != nil {
		return err
	}
	return line.Render(w)
}
