package stats

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/people.count/internal/counter"
	"github.com/banshee-data/people.count/internal/db"
	"github.com/banshee-data/people.count/internal/security"
)

// ErrNoData is returned when there is nothing to plot.
var ErrNoData = errors.New("no counting entries to plot")

func stepPlot(records []db.EpisodeRecord) (*plot.Plot, error) {
	series := CountSeries(records)
	if len(series) == 0 {
		return nil, ErrNoData
	}

	pts := make(plotter.XYs, len(series))
	for i, p := range series {
		pts[i] = plotter.XY{X: float64(p.At.Unix()), Y: float64(p.Count)}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("failed to create line: %w", err)
	}
	line.StepStyle = plotter.PreStep
	line.Width = vg.Points(1)
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}

	p := plot.New()
	p.Title.Text = "People count"
	p.X.Label.Text = "Time"
	p.Y.Label.Text = "People"
	p.X.Tick.Marker = plot.TimeTicks{Format: "01-02\n15:04"}
	p.Y.Min = 0
	p.Add(plotter.NewGrid(), line)
	return p, nil
}

// WriteStepPlot writes the count as a PNG step plot.
func WriteStepPlot(records []db.EpisodeRecord, w io.Writer) error {
	p, err := stepPlot(records)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// RenderStepPlot saves the PNG step plot to path, which must be inside the
// working directory or the temp directory.
func RenderStepPlot(records []db.EpisodeRecord, path string) error {
	if err := security.ValidateExportPath(path); err != nil {
		return fmt.Errorf("invalid plot path: %w", err)
	}
	var buf bytes.Buffer
	if err := WriteStepPlot(records, &buf); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// SaveChart writes the RenderChart page to path under the same rules as
// RenderStepPlot.
func SaveChart(records []db.EpisodeRecord, path string) error {
	var buf bytes.Buffer
	if err := RenderChart(records, &buf); err != nil {
		return err
	}
	if err := security.WriteExportFile(path, buf.Bytes()); err != nil {
		return fmt.Errorf("invalid chart path: %w", err)
	}
	return nil
}

// RenderChart writes an HTML page with the count over time and the crossings
// per hour of day.
func RenderChart(records []db.EpisodeRecord, w io.Writer) error {
	log := Counting(records)
	if len(log) == 0 {
		return ErrNoData
	}

	// pre-step: the count holds until the entry, then changes
	var x []string
	var y []opts.LineData
	for _, r := range log {
		label := r.RecordedAt.Local().Format("01-02 15:04:05")
		x = append(x, label, label)
		y = append(y,
			opts.LineData{Value: r.PreviousCount},
			opts.LineData{Value: max(0, r.PreviousCount+int(r.CountChange))},
		)
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "People count", Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "People count", Subtitle: fmt.Sprintf("%d crossings", len(log))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "People", Min: 0}),
	)
	line.SetXAxis(x).AddSeries("count", y)

	var entered, left [24]int
	for _, r := range log {
		h := r.RecordedAt.Local().Hour()
		if r.CountChange == counter.Entered {
			entered[h]++
		} else {
			left[h]++
		}
	}
	hours := make([]string, 24)
	in := make([]opts.BarData, 24)
	out := make([]opts.BarData, 24)
	for h := range 24 {
		hours[h] = fmt.Sprintf("%02d", h)
		in[h] = opts.BarData{Value: entered[h]}
		out[h] = opts.BarData{Value: left[h]}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "320px"}),
		charts.WithTitleOpts(opts.Title{Title: "Crossings by hour"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(hours).
		AddSeries("entered", in).
		AddSeries("left", out)

	page := components.NewPage()
	page.AddCharts(line, bar)
	return page.Render(w)
}
