package report

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"voip-monitor/internal/models"
)

// ErrNoData is returned when there are too few samples to draw a chart.
var ErrNoData = errors.New("not enough samples to chart")

const smaPeriod = 10

var (
	chartPadding = chart.Style{
		Padding: chart.Box{
			Top:    20,
			Left:   20,
			Right:  20,
			Bottom: 20,
		},
	}
	gridStyle = chart.Style{
		StrokeColor: drawing.Color{R: 200, G: 200, B: 200, A: 255},
		StrokeWidth: 1.0,
	}
	axisStyle = chart.Style{
		StrokeColor: drawing.ColorBlack,
		FontSize:    10,
	}
)

// RenderLatencyChart draws the non-loss latencies of samples as a PNG with
// a moving average.
func RenderLatencyChart(w io.Writer, title string, samples []models.Sample) error {
	var timestamps []time.Time
	var values []float64
	for _, s := range samples {
		if s.IsLoss() {
			continue
		}
		timestamps = append(timestamps, s.Timestamp)
		values = append(values, s.LatencyMs)
	}
	if len(values) < 2 || !timestamps[len(timestamps)-1].After(timestamps[0]) {
		return ErrNoData
	}

	ts := chart.TimeSeries{
		Name: "Latency",
		Style: chart.Style{
			StrokeColor: chart.GetDefaultColor(0),
			StrokeWidth: 2,
		},
		XValues: timestamps,
		YValues: values,
	}

	graph := chart.Chart{
		Title: fmt.Sprintf("Latency - %s", title),
		TitleStyle: chart.Style{
			FontSize: 16,
		},
		Background: chartPadding,
		Width:      1200,
		Height:     400,
		XAxis: chart.XAxis{
			Name:           "Time",
			Style:          axisStyle,
			ValueFormatter: chart.TimeMinuteValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Latency (ms)",
			Style:          axisStyle,
			GridMajorStyle: gridStyle,
		},
		Series: []chart.Series{ts},
	}

	if len(values) > smaPeriod {
		graph.Series = append(graph.Series, chart.SMASeries{
			Name: "Moving Avg",
			Style: chart.Style{
				StrokeColor:     chart.GetDefaultColor(1),
				StrokeWidth:     2,
				StrokeDashArray: []float64{5, 5},
			},
			InnerSeries: ts,
			Period:      smaPeriod,
		})
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return graph.Render(chart.PNG, w)
}

// HourlyLoss buckets samples by hour and returns the loss percentage of
// each bucket in chronological order.
func HourlyLoss(samples []models.Sample) ([]time.Time, []float64) {
	type bucket struct{ total, lost int }
	var hours []time.Time
	buckets := make(map[time.Time]*bucket)

	for _, s := range samples {
		h := s.Timestamp.Truncate(time.Hour)
		b, ok := buckets[h]
		if !ok {
			b = &bucket{}
			buckets[h] = b
			hours = append(hours, h)
		}
		b.total++
		if s.IsLoss() {
			b.lost++
		}
	}

	// samples arrive in time order, so hours already are
	loss := make([]float64, len(hours))
	for i, h := range hours {
		b := buckets[h]
		loss[i] = 100 * float64(b.lost) / float64(b.total)
	}
	return hours, loss
}

// RenderLossChart draws hourly packet loss as a bar chart PNG.
func RenderLossChart(w io.Writer, title string, samples []models.Sample) error {
	hours, loss := HourlyLoss(samples)
	if len(hours) == 0 {
		return ErrNoData
	}

	width := 1200
	if n := len(hours)*60 + 200; n > width {
		width = n
	}

	bars := make([]chart.Value, len(hours))
	for i, h := range hours {
		bars[i] = chart.Value{Label: h.Format("01-02 15h"), Value: loss[i]}
	}

	graph := chart.BarChart{
		Title: fmt.Sprintf("Hourly Packet Loss - %s", title),
		TitleStyle: chart.Style{
			FontSize: 16,
		},
		Background: chartPadding,
		Width:      width,
		Height:     400,
		BarWidth:   40,
		YAxis: chart.YAxis{
			Name:           "Loss %",
			Style:          axisStyle,
			GridMajorStyle: gridStyle,
			Range: &chart.ContinuousRange{
				Min: 0,
				Max: 100,
			},
		},
		Bars: bars,
	}
	return graph.Render(chart.PNG, w)
}
