package report

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"voip-monitor/internal/models"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)

func series(target string, latencies ...float64) []models.Sample {
	out := make([]models.Sample, len(latencies))
	for i, l := range latencies {
		out[i] = models.NewSample(target, base.Add(time.Duration(i)*time.Second), l)
	}
	return out
}

func TestExportCSV(t *testing.T) {
	var buf bytes.Buffer
	meta := ExportMeta{
		Target:  models.TargetInfo{Address: "192.0.2.1", Name: "PBX"},
		Session: "3f1c",
	}
	if err := ExportCSV(&buf, meta, series("192.0.2.1", 12.5, models.LossLatency, 30)); err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}

	want := strings.Join([]string{
		"# Ping session",
		"# Target: 192.0.2.1",
		"# Name: PBX",
		"# Session: 3f1c",
		"# Start: 2024-03-01 12:00:00",
		"# End: 2024-03-01 12:00:02",
		"timestamp,latency_ms",
		"2024-03-01 12:00:00,12.5",
		"2024-03-01 12:00:01,TIMEOUT",
		"2024-03-01 12:00:02,30",
		"",
	}, "\n")
	if got := buf.String(); got != want {
		t.Errorf("ExportCSV output:\n%s\nwant:\n%s", got, want)
	}
}

func TestNewSessionIsUnique(t *testing.T) {
	if a, b := NewSession(), NewSession(); a == b || len(a) != 36 {
		t.Errorf("NewSession() = %q, %q", a, b)
	}
}

func TestOutages(t *testing.T) {
	L := models.LossLatency
	tests := []struct {
		name      string
		latencies []float64
		want      []int
	}{
		{"none", []float64{10, 11, 12}, nil},
		{"short run ignored", []float64{10, L, L, 10}, nil},
		{"one run", []float64{10, L, L, L, 10}, []int{3}},
		{"trailing run", []float64{10, L, L, L, L}, []int{4}},
		{"two runs", []float64{L, L, L, 5, L, L, L, L, L}, []int{3, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Outages(series("x", tt.latencies...), 3)
			if len(got) != len(tt.want) {
				t.Fatalf("Outages() = %+v, want runs %v", got, tt.want)
			}
			for i, o := range got {
				if o.Missed != tt.want[i] {
					t.Errorf("run %d missed = %d, want %d", i, o.Missed, tt.want[i])
				}
				if got := o.End.Sub(o.Start); got != time.Duration(o.Missed-1)*time.Second {
					t.Errorf("run %d spans %v", i, got)
				}
			}
		})
	}
}

func TestHourlyLoss(t *testing.T) {
	samples := []models.Sample{
		models.NewSample("x", base, 10),
		models.NewLossSample("x", base.Add(time.Minute)),
		models.NewSample("x", base.Add(time.Hour), 10),
		models.NewSample("x", base.Add(time.Hour+time.Minute), 10),
	}
	hours, loss := HourlyLoss(samples)
	if len(hours) != 2 || loss[0] != 50 || loss[1] != 0 {
		t.Errorf("HourlyLoss() = %v, %v", hours, loss)
	}
}

func isPNG(b []byte) bool {
	return bytes.HasPrefix(b, []byte("\x89PNG\r\n\x1a\n"))
}

func TestRenderCharts(t *testing.T) {
	latencies := make([]float64, 30)
	for i := range latencies {
		latencies[i] = float64(20 + i%7)
	}
	latencies[5] = models.LossLatency
	samples := series("192.0.2.1", latencies...)

	var buf bytes.Buffer
	if err := RenderLatencyChart(&buf, "192.0.2.1", samples); err != nil {
		t.Fatalf("RenderLatencyChart: %v", err)
	}
	if !isPNG(buf.Bytes()) {
		t.Error("latency chart is not a PNG")
	}

	buf.Reset()
	if err := RenderLossChart(&buf, "192.0.2.1", samples); err != nil {
		t.Fatalf("RenderLossChart: %v", err)
	}
	if !isPNG(buf.Bytes()) {
		t.Error("loss chart is not a PNG")
	}

	if err := RenderLatencyChart(&buf, "x", series("x", 10)); !errors.Is(err, ErrNoData) {
		t.Errorf("single sample err = %v, want ErrNoData", err)
	}
	if err := RenderLossChart(&buf, "x", nil); !errors.Is(err, ErrNoData) {
		t.Errorf("empty loss chart err = %v, want ErrNoData", err)
	}
}

type fakeSource struct {
	samples map[string][]models.Sample
}

func (f fakeSource) ListTargets(ctx context.Context) ([]models.TargetSummary, error) {
	return []models.TargetSummary{
		{Address: "192.0.2.1", Name: "PBX", TotalPings: len(f.samples["192.0.2.1"])},
		{Address: "192.0.2.2", TotalPings: 0},
	}, nil
}

func (f fakeSource) Range(ctx context.Context, target string, rng models.TimeRange) ([]models.Sample, error) {
	return f.samples[target], nil
}

func (f fakeSource) Stats(ctx context.Context, target string, rng models.TimeRange) (models.Stats, error) {
	n := len(f.samples[target])
	if n == 0 {
		return models.Stats{Target: target}, nil
	}
	return models.Stats{
		Target: target, HasData: true, TotalPings: n, Successful: n - 3, Timeouts: 3,
		PacketLossPercent: 10,
		Latency:           &models.LatencyStats{MinMs: 20, MaxMs: 26, AvgMs: 23, MedianMs: 23, P95Ms: 26, P99Ms: 26},
	}, nil
}

func TestGenerateReport(t *testing.T) {
	L := models.LossLatency
	latencies := []float64{20, 21, 22, 23, 24, 25, 26, L, L, L, 20, 21, 22, 23, 24, 25, 26, 20, 21, 22, 23, 24, 25, 26, 20, 21, 22, 23, 24, 25}
	src := fakeSource{samples: map[string][]models.Sample{"192.0.2.1": series("192.0.2.1", latencies...)}}

	g := NewGenerator(src, zap.NewNop())
	g.now = func() time.Time { return base.Add(time.Hour) }

	dir, err := g.GenerateReport(context.Background(), t.TempDir(), 24)
	if err != nil {
		t.Fatalf("GenerateReport: %v", err)
	}

	for _, name := range []string{"summary.txt", "latency_192.0.2.1.png", "loss_192.0.2.1.png", "samples_192.0.2.1.csv"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "latency_192.0.2.2.png")); err == nil {
		t.Error("chart written for a target without data")
	}

	summary, err := os.ReadFile(filepath.Join(dir, "summary.txt"))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	for _, want := range []string{"Target: 192.0.2.1 (PBX)", "Packet Loss: 10.00%", "Outage #1", "Missed Probes: 3", "No data in this period"} {
		if !strings.Contains(string(summary), want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}

	if _, err := g.GenerateReport(context.Background(), t.TempDir(), 0); err == nil {
		t.Error("expected error for a zero-hour report")
	}
}
