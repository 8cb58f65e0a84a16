package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"voip-monitor/internal/models"
)

const envPrefix = "VOIPMON_"

// ParseFlags builds a Config from defaults, VOIPMON_* environment variables
// and command-line flags, in increasing precedence.
func ParseFlags(args []string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("voip-monitor", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	targets := fs.String("targets", joinTargets(cfg.Targets), "Comma-separated targets (optionally name=address)")
	fs.StringVar(&cfg.TargetsFile, "targets-file", cfg.TargetsFile, "YAML or JSON file of {name, ip} entries, watched for changes")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory holding one database per target")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Web server port")
	fs.DurationVar(&cfg.Interval, "interval", cfg.Interval, "Probe interval")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Probe timeout")
	fs.DurationVar(&cfg.MinLatency, "min-latency", cfg.MinLatency, "Latencies at or below this are recorded as loss")
	fs.StringVar(&cfg.ProbeMethod, "probe", cfg.ProbeMethod, "Probe method: icmp or exec")
	fs.BoolVar(&cfg.Privileged, "privileged", cfg.Privileged, "Use raw ICMP sockets (requires root or CAP_NET_RAW)")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Samples buffered per target before a commit")
	fs.DurationVar(&cfg.FlushInterval, "flush-interval", cfg.FlushInterval, "Maximum time a sample stays buffered")
	fs.StringVar(&cfg.Durability, "durability", cfg.Durability, "relaxed (sync at checkpoints) or strict (sync every commit)")
	fs.IntVar(&cfg.WindowSize, "window", cfg.WindowSize, "Quality window size in samples")
	fs.IntVar(&cfg.RecomputeEvery, "recompute-every", cfg.RecomputeEvery, "Recompute quality every N samples")
	fs.IntVar(&cfg.MinValid, "min-valid", cfg.MinValid, "Minimum non-loss samples for a quality score")
	fs.DurationVar(&cfg.StatsCacheTTL, "stats-cache", cfg.StatsCacheTTL, "Stats result cache TTL (0 disables)")
	fs.DurationVar(&cfg.Retention, "retention", cfg.Retention, "Delete samples older than this (0 keeps everything)")
	fs.DurationVar(&cfg.MaintenanceInterval, "maintenance-interval", cfg.MaintenanceInterval, "Checkpoint and prune interval")
	fs.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Log directory")
	fs.BoolVar(&cfg.LogStdout, "log-stdout", cfg.LogStdout, "Also log to the console")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	fs.StringVar(&cfg.Export, "export", "", "Export the samples of this target and exit")
	fs.StringVar(&cfg.ExportFrom, "from", "", "Export start (YYYY-MM-DD HH:MM:SS)")
	fs.StringVar(&cfg.ExportTo, "to", "", "Export end (YYYY-MM-DD HH:MM:SS)")
	fs.StringVar(&cfg.ExportOut, "out", "", "Export file (default stdout)")
	fs.StringVar(&cfg.Report, "report", "", "Write a report bundle into this directory and exit")
	fs.IntVar(&cfg.ReportHours, "hours", cfg.ReportHours, "Hours of data covered by -report")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.Targets = parseTargets(*targets)
	return cfg, nil
}

// ParseArgs is ParseFlags over the process arguments and environment.
func ParseArgs() (Config, error) {
	return ParseFlags(os.Args[1:], os.Getenv)
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		if v := getenv(envPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = n
		}
		return nil
	}
	duration := func(key string, dst *time.Duration) error {
		if v := getenv(envPrefix + key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = d
		}
		return nil
	}
	boolean := func(key string, dst *bool) error {
		if v := getenv(envPrefix + key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = b
		}
		return nil
	}

	if v := getenv(envPrefix + "TARGETS"); v != "" {
		cfg.Targets = parseTargets(v)
	}
	str("TARGETS_FILE", &cfg.TargetsFile)
	str("DATA_DIR", &cfg.DataDir)
	str("PROBE", &cfg.ProbeMethod)
	str("DURABILITY", &cfg.Durability)
	str("LOG_DIR", &cfg.LogDir)

	for _, err := range []error{
		integer("PORT", &cfg.Port),
		integer("BATCH_SIZE", &cfg.BatchSize),
		integer("WINDOW", &cfg.WindowSize),
		integer("RECOMPUTE_EVERY", &cfg.RecomputeEvery),
		integer("MIN_VALID", &cfg.MinValid),
		duration("INTERVAL", &cfg.Interval),
		duration("TIMEOUT", &cfg.Timeout),
		duration("MIN_LATENCY", &cfg.MinLatency),
		duration("FLUSH_INTERVAL", &cfg.FlushInterval),
		duration("STATS_CACHE", &cfg.StatsCacheTTL),
		duration("RETENTION", &cfg.Retention),
		duration("MAINTENANCE_INTERVAL", &cfg.MaintenanceInterval),
		boolean("PRIVILEGED", &cfg.Privileged),
		boolean("LOG_STDOUT", &cfg.LogStdout),
		boolean("DEBUG", &cfg.Debug),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

// parseTargets reads "addr,name=addr,..." lists.
func parseTargets(s string) []models.TargetInfo {
	var targets []models.TargetInfo
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		var info models.TargetInfo
		if name, addr, ok := strings.Cut(item, "="); ok {
			info = models.TargetInfo{Name: strings.TrimSpace(name), Address: strings.TrimSpace(addr)}
		} else {
			info = models.TargetInfo{Address: item}
		}
		targets = append(targets, info)
	}
	return targets
}

func joinTargets(targets []models.TargetInfo) string {
	parts := make([]string, 0, len(targets))
	for _, t := range targets {
		if t.Name != "" {
			parts = append(parts, t.Name+"="+t.Address)
		} else {
			parts = append(parts, t.Address)
		}
	}
	return strings.Join(parts, ",")
}
