package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"voip-monitor/internal/models"
)

// Outage is a run of consecutive lost probes.
type Outage struct {
	Start  time.Time
	End    time.Time
	Missed int
}

// Outages finds runs of at least minRun consecutive losses in samples,
// which must be in chronological order.
func Outages(samples []models.Sample, minRun int) []Outage {
	var outages []Outage
	var current *Outage

	closeRun := func() {
		if current != nil && current.Missed >= minRun {
			outages = append(outages, *current)
		}
		current = nil
	}

	for _, s := range samples {
		if !s.IsLoss() {
			closeRun()
			continue
		}
		if current == nil {
			current = &Outage{Start: s.Timestamp}
		}
		current.End = s.Timestamp
		current.Missed++
	}
	closeRun()
	return outages
}

type targetSection struct {
	summary models.TargetSummary
	stats   models.Stats
	outages []Outage
}

func writeSummary(w io.Writer, generated time.Time, hours int, sections []targetSection) error {
	var b strings.Builder

	fmt.Fprintf(&b, "VoIP Latency Report\n")
	fmt.Fprintf(&b, "Generated: %s\n", generated.Format(models.TimestampLayout))
	fmt.Fprintf(&b, "Period: Last %d hours\n\n", hours)
	fmt.Fprintln(&b, strings.Repeat("=", 60))

	fmt.Fprintln(&b, "\nOVERALL STATISTICS")
	for _, sec := range sections {
		st := sec.stats
		fmt.Fprintf(&b, "Target: %s", sec.summary.Address)
		if sec.summary.Name != "" {
			fmt.Fprintf(&b, " (%s)", sec.summary.Name)
		}
		fmt.Fprintln(&b)

		if !st.HasData {
			fmt.Fprintln(&b, "  No data in this period")
			fmt.Fprintln(&b)
			continue
		}
		fmt.Fprintf(&b, "  Total Pings: %d\n", st.TotalPings)
		fmt.Fprintf(&b, "  Successful: %d\n", st.Successful)
		fmt.Fprintf(&b, "  Packet Loss: %.2f%%\n", st.PacketLossPercent)
		if lat := st.Latency; lat != nil {
			fmt.Fprintf(&b, "  Average RTT: %.2f ms\n", lat.AvgMs)
			fmt.Fprintf(&b, "  Min RTT: %.2f ms\n", lat.MinMs)
			fmt.Fprintf(&b, "  Max RTT: %.2f ms\n", lat.MaxMs)
			fmt.Fprintf(&b, "  p50/p95/p99: %.2f / %.2f / %.2f ms\n", lat.MedianMs, lat.P95Ms, lat.P99Ms)
		}
		fmt.Fprintln(&b)
	}

	fmt.Fprintln(&b, strings.Repeat("=", 60))
	fmt.Fprintln(&b, "\nOUTAGE PERIODS (3+ consecutive losses)")

	outageCount := 0
	for _, sec := range sections {
		for _, o := range sec.outages {
			outageCount++
			fmt.Fprintf(&b, "Outage #%d\n", outageCount)
			fmt.Fprintf(&b, "  Target: %s\n", sec.summary.Address)
			fmt.Fprintf(&b, "  Start: %s\n", o.Start.Format(models.TimestampLayout))
			fmt.Fprintf(&b, "  End: %s\n", o.End.Format(models.TimestampLayout))
			fmt.Fprintf(&b, "  Duration: %s\n", o.End.Sub(o.Start))
			fmt.Fprintf(&b, "  Missed Probes: %d\n", o.Missed)
			fmt.Fprintln(&b)
		}
	}
	if outageCount == 0 {
		fmt.Fprintln(&b, "No significant outages detected.")
	} else {
		fmt.Fprintf(&b, "\nTotal Outages: %d\n", outageCount)
	}
	fmt.Fprintln(&b, strings.Repeat("=", 60))

	_, err := io.WriteString(w, b.String())
	return err
}
