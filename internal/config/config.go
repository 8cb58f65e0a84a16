package config

import (
	"fmt"
	"time"

	"voip-monitor/internal/models"
)

// Config holds all configuration for the VoIP monitor
type Config struct {
	Targets     []models.TargetInfo
	TargetsFile string
	DataDir     string
	Port        int

	Interval   time.Duration
	Timeout    time.Duration
	MinLatency time.Duration

	ProbeMethod string
	Privileged  bool

	BatchSize     int
	FlushInterval time.Duration
	Durability    string

	WindowSize     int
	RecomputeEvery int
	MinValid       int

	StatsCacheTTL       time.Duration
	Retention           time.Duration
	MaintenanceInterval time.Duration

	LogDir    string
	LogStdout bool
	Debug     bool

	// Export mode: write one target's samples to a file and exit.
	Export     string
	ExportFrom string
	ExportTo   string
	ExportOut  string

	// Report mode: write a report bundle for every stored target and exit.
	Report      string
	ReportHours int
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:             "pings",
		Port:                8080,
		Interval:            time.Second,
		Timeout:             time.Second,
		MinLatency:          time.Millisecond,
		ProbeMethod:         "icmp",
		BatchSize:           10,
		FlushInterval:       5 * time.Second,
		Durability:          "relaxed",
		WindowSize:          50,
		RecomputeEvery:      10,
		MinValid:            5,
		StatsCacheTTL:       2 * time.Second,
		MaintenanceInterval: time.Hour,
		LogDir:              "logs",
		ReportHours:         24,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Export == "" && c.Report == "" && len(c.Targets) == 0 && c.TargetsFile == "" {
		return fmt.Errorf("at least one target must be specified")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MinLatency < 0 {
		return fmt.Errorf("min latency must not be negative")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.ProbeMethod != "icmp" && c.ProbeMethod != "exec" {
		return fmt.Errorf("probe method must be icmp or exec")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be positive")
	}
	if c.Durability != "relaxed" && c.Durability != "strict" {
		return fmt.Errorf("durability must be relaxed or strict")
	}
	if c.WindowSize < 1 || c.RecomputeEvery < 1 || c.MinValid < 1 {
		return fmt.Errorf("window size, recompute interval and minimum valid samples must be positive")
	}
	if c.MinValid > c.WindowSize {
		return fmt.Errorf("minimum valid samples cannot exceed the window size")
	}
	if c.Retention < 0 {
		return fmt.Errorf("retention must not be negative")
	}
	if c.Report != "" && c.ReportHours < 1 {
		return fmt.Errorf("report hours must be positive")
	}
	return nil
}
