package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"voip-monitor/internal/database"
	"voip-monitor/internal/models"
)

// Source is the read side a report is built from.
type Source interface {
	ListTargets(ctx context.Context) ([]models.TargetSummary, error)
	Range(ctx context.Context, target string, rng models.TimeRange) ([]models.Sample, error)
	Stats(ctx context.Context, target string, rng models.TimeRange) (models.Stats, error)
}

// Generator creates report bundles: charts, exports and a text summary
// for every stored target.
type Generator struct {
	src    Source
	logger *zap.Logger
	now    func() time.Time
}

// NewGenerator creates a new report generator
func NewGenerator(src Source, logger *zap.Logger) *Generator {
	return &Generator{src: src, logger: logger, now: time.Now}
}

// GenerateReport writes a report covering the last hours into a new
// timestamped directory under outputDir and returns its path.
func (g *Generator) GenerateReport(ctx context.Context, outputDir string, hours int) (string, error) {
	if hours < 1 {
		return "", fmt.Errorf("report period must be at least one hour")
	}
	now := g.now()
	reportDir := filepath.Join(outputDir, fmt.Sprintf("voip_report_%s", now.Format("2006-01-02_15-04-05")))
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	targets, err := g.src.ListTargets(ctx)
	if err != nil {
		return "", err
	}

	from := now.Add(-time.Duration(hours) * time.Hour)
	rng := models.TimeRange{From: &from, To: &now}

	sections := make([]targetSection, 0, len(targets))
	for _, t := range targets {
		samples, err := g.src.Range(ctx, t.Address, rng)
		if err != nil {
			g.logger.Warn("report_target_failed", zap.String("target", t.Address), zap.Error(err))
			continue
		}
		stats, err := g.src.Stats(ctx, t.Address, rng)
		if err != nil {
			g.logger.Warn("report_target_failed", zap.String("target", t.Address), zap.Error(err))
			continue
		}
		sections = append(sections, targetSection{
			summary: t,
			stats:   stats,
			outages: Outages(samples, 3),
		})
		g.writeTargetFiles(reportDir, t, samples, from, now)
	}

	if err := writeFile(filepath.Join(reportDir, "summary.txt"), func(f *os.File) error {
		return writeSummary(f, now, hours, sections)
	}); err != nil {
		return "", err
	}

	g.logger.Info("report_generated", zap.String("dir", reportDir), zap.Int("targets", len(sections)))
	return reportDir, nil
}

func (g *Generator) writeTargetFiles(dir string, t models.TargetSummary, samples []models.Sample, from, to time.Time) {
	base := database.PartitionName(t.Address)
	title := t.Address
	if t.Name != "" {
		title = fmt.Sprintf("%s (%s)", t.Name, t.Address)
	}

	files := []struct {
		name   string
		render func(f *os.File) error
	}{
		{"latency_" + base + ".png", func(f *os.File) error { return RenderLatencyChart(f, title, samples) }},
		{"loss_" + base + ".png", func(f *os.File) error { return RenderLossChart(f, title, samples) }},
		{"samples_" + base + ".csv", func(f *os.File) error {
			meta := ExportMeta{Target: models.TargetInfo{Address: t.Address, Name: t.Name}, Session: NewSession(), Start: from, End: to}
			return ExportCSV(f, meta, samples)
		}},
	}
	for _, file := range files {
		err := writeFile(filepath.Join(dir, file.name), file.render)
		if err != nil {
			g.logger.Warn("report_file_skipped", zap.String("file", file.name), zap.Error(err))
		}
	}
}

func writeFile(path string, render func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
