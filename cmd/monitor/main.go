package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"voip-monitor/internal/config"
	"voip-monitor/internal/database"
	"voip-monitor/internal/logging"
	"voip-monitor/internal/metrics"
	"voip-monitor/internal/models"
	"voip-monitor/internal/monitor"
	"voip-monitor/internal/ping"
	"voip-monitor/internal/quality"
	"voip-monitor/internal/query"
	"voip-monitor/internal/report"
	"voip-monitor/internal/web"
)

func main() {
	cfg, err := config.ParseArgs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voip-monitor: %v\n", err)
		os.Exit(2)
	}

	// Command-line targets stay fixed; file targets follow the file.
	static := cfg.Targets
	var file config.TargetsFile
	if cfg.TargetsFile != "" {
		if file, err = config.LoadTargets(cfg.TargetsFile); err != nil {
			fmt.Fprintf(os.Stderr, "voip-monitor: %v\n", err)
			os.Exit(1)
		}
		if err := cfg.ApplyTargetsFile(file); err != nil {
			fmt.Fprintf(os.Stderr, "voip-monitor: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(2)
	}

	level := zapcore.InfoLevel
	if cfg.Debug {
		level = zapcore.DebugLevel
	}
	logger, err := logging.NewLogger(cfg.LogDir, cfg.LogStdout, level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voip-monitor: init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	switch {
	case cfg.Export != "":
		err = runExport(cfg, logger)
	case cfg.Report != "":
		err = runReport(cfg, logger)
	default:
		err = run(cfg, static, logger)
	}
	if err != nil {
		logger.Error("exit", zap.Error(err))
		fmt.Fprintf(os.Stderr, "voip-monitor: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, static []models.TargetInfo, logger *zap.Logger) error {
	store, err := database.NewStore(cfg.DataDir, database.Options{
		BatchSize:  cfg.BatchSize,
		Durability: database.Durability(cfg.Durability),
	}, logger)
	if err != nil {
		return err
	}
	defer store.CloseAll()

	reader := database.NewReader(cfg.DataDir)
	defer reader.Close()

	pinger, err := ping.New(cfg.ProbeMethod, cfg.Privileged, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	mon := monitor.New(monitor.Options{
		Interval:   cfg.Interval,
		Timeout:    cfg.Timeout,
		MinLatency: cfg.MinLatency,
		Quality: quality.Options{
			WindowSize:     cfg.WindowSize,
			RecomputeEvery: cfg.RecomputeEvery,
			MinValid:       cfg.MinValid,
		},
		FlushInterval:       cfg.FlushInterval,
		MaintenanceInterval: cfg.MaintenanceInterval,
		Retention:           cfg.Retention,
	}, store, pinger, collector, logger)

	svc := query.NewService(reader, mon, cfg.StatsCacheTTL, logger)
	defer svc.Close()
	store.OnFlush(svc.ObserveFlush)

	if err := mon.StartAll(cfg.Targets); err != nil {
		logger.Warn("targets_not_started", zap.Error(err))
	}
	logger.Info("monitor_started",
		zap.Int("targets", len(mon.Monitored())),
		zap.Duration("interval", cfg.Interval),
		zap.String("probe", cfg.ProbeMethod),
		zap.String("data_dir", cfg.DataDir),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TargetsFile != "" {
		go func() {
			err := config.WatchTargets(ctx, cfg.TargetsFile, logger, func(f config.TargetsFile) {
				desired, err := config.MergeTargets(static, f.Infos())
				if err != nil {
					logger.Warn("targets_reload_rejected", zap.Error(err))
					return
				}
				if err := mon.Reconcile(desired); err != nil {
					logger.Warn("targets_reconcile_failed", zap.Error(err))
				}
			})
			if err != nil {
				logger.Error("targets_watch_failed", zap.Error(err))
			}
		}()
	}

	server := web.New(cfg.Port, svc, mon, reg, logger)
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutting_down")
	case err = <-serveErr:
		logger.Error("http_server_failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("http_shutdown", zap.Error(serr))
	}
	if cerr := mon.Close(); cerr != nil {
		logger.Warn("monitor_close", zap.Error(cerr))
	}
	return err
}

func runExport(cfg config.Config, logger *zap.Logger) error {
	reader := database.NewReader(cfg.DataDir)
	defer reader.Close()
	svc := query.NewService(reader, nil, 0, logger)
	defer svc.Close()

	var rng models.TimeRange
	var err error
	if rng.From, err = parseBound(cfg.ExportFrom); err != nil {
		return err
	}
	if rng.To, err = parseBound(cfg.ExportTo); err != nil {
		return err
	}

	ctx := context.Background()
	info, err := svc.Info(ctx, cfg.Export)
	if err != nil {
		return fmt.Errorf("export %s: %w", cfg.Export, err)
	}
	samples, err := svc.Range(ctx, cfg.Export, rng)
	if err != nil {
		return fmt.Errorf("export %s: %w", cfg.Export, err)
	}

	var w io.Writer = os.Stdout
	if cfg.ExportOut != "" {
		f, err := os.Create(cfg.ExportOut)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	meta := report.ExportMeta{Target: info, Session: report.NewSession()}
	if rng.From != nil {
		meta.Start = *rng.From
	}
	if rng.To != nil {
		meta.End = *rng.To
	}
	if err := report.ExportCSV(w, meta, samples); err != nil {
		return err
	}
	logger.Info("exported", zap.String("target", cfg.Export), zap.Int("samples", len(samples)), zap.String("out", cfg.ExportOut))
	return nil
}

func runReport(cfg config.Config, logger *zap.Logger) error {
	reader := database.NewReader(cfg.DataDir)
	defer reader.Close()
	svc := query.NewService(reader, nil, 0, logger)
	defer svc.Close()

	dir, err := report.NewGenerator(svc, logger).GenerateReport(context.Background(), cfg.Report, cfg.ReportHours)
	if err != nil {
		return err
	}
	fmt.Println(dir)
	return nil
}

func parseBound(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{models.TimestampLayout, "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, v, time.Local); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: unrecognized time %q", models.ErrInvalidFilter, v)
}
