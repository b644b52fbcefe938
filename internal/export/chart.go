package export

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/nora-data/presence.report/internal/presence"
)

// RenderChart writes a standalone HTML line chart of one device's RSSI
// history to w.
func RenderChart(view presence.DeviceView, w io.Writer) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: fmt.Sprintf("Target analysis: %s", view.MAC),
			Theme:     "dark",
			Width:     "1000px",
			Height:    "600px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Signal strength: %s", view.MAC),
			Subtitle: fmt.Sprintf("type=%s samples=%d", view.Type, len(view.Samples)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "RSSI (dBm)", Min: -100, Max: -20}),
	)

	labels := make([]string, 0, len(view.Samples))
	points := make([]opts.LineData, 0, len(view.Samples))
	for _, s := range view.Samples {
		labels = append(labels, s.At.Format(time.TimeOnly))
		points = append(points, opts.LineData{Value: s.RSSI})
	}

	line.SetXAxis(labels)
	line.AddSeries("rssi", points,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))

	if err := line.Render(w); err != nil {
		return fmt.Errorf("render signal chart: %w", err)
	}
	return nil
}

// WriteChart renders the chart for view into an HTML file at path.
func WriteChart(path string, view presence.DeviceView) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart file: %w", err)
	}
	defer f.Close()
	return RenderChart(view, f)
}
