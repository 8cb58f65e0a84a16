package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"

	"voip-monitor/internal/models"
)

// LossMarker replaces the latency of lost probes in exports.
const LossMarker = "TIMEOUT"

// ExportMeta describes an exported session.
type ExportMeta struct {
	Target  models.TargetInfo
	Session string
	Start   time.Time
	End     time.Time
}

// NewSession returns a fresh export session identifier.
func NewSession() string {
	return uuid.NewString()
}

// ExportCSV writes a comment header block followed by one
// timestamp,latency_ms row per sample.
func ExportCSV(w io.Writer, meta ExportMeta, samples []models.Sample) error {
	if meta.Start.IsZero() && len(samples) > 0 {
		meta.Start = samples[0].Timestamp
	}
	if meta.End.IsZero() && len(samples) > 0 {
		meta.End = samples[len(samples)-1].Timestamp
	}

	header := []string{
		"# Ping session",
		"# Target: " + meta.Target.Address,
	}
	if meta.Target.Name != "" {
		header = append(header, "# Name: "+meta.Target.Name)
	}
	if meta.Session != "" {
		header = append(header, "# Session: "+meta.Session)
	}
	header = append(header,
		"# Start: "+formatTime(meta.Start),
		"# End: "+formatTime(meta.End),
	)
	for _, line := range header {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "latency_ms"}); err != nil {
		return err
	}
	for _, s := range samples {
		latency := LossMarker
		if !s.IsLoss() {
			latency = strconv.FormatFloat(s.LatencyMs, 'f', -1, 64)
		}
		if err := cw.Write([]string{s.Timestamp.Format(models.TimestampLayout), latency}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(models.TimestampLayout)
}
