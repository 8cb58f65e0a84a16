package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"voip-monitor/internal/models"
)

// Duration accepts "2s" style strings or plain numbers of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	switch value.Tag {
	case "!!int", "!!float":
		var secs float64
		if err := value.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	default:
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		if raw == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
}

// Duration returns the value as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// TargetEntry is one target in the targets file.
type TargetEntry struct {
	Name string `yaml:"name"`
	IP   string `yaml:"ip"`
}

// TargetsFile is the parsed targets file. The file is either a bare list of
// entries or a document with a targets list and optional probe timing.
type TargetsFile struct {
	Targets  []TargetEntry `yaml:"targets"`
	Interval Duration      `yaml:"interval"`
	Timeout  Duration      `yaml:"timeout"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *TargetsFile) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		return value.Decode(&f.Targets)
	}
	type plain TargetsFile
	return value.Decode((*plain)(f))
}

// Infos converts the entries to target records.
func (f TargetsFile) Infos() []models.TargetInfo {
	infos := make([]models.TargetInfo, 0, len(f.Targets))
	for _, t := range f.Targets {
		infos = append(infos, models.TargetInfo{Address: t.IP, Name: t.Name})
	}
	return infos
}

// LoadTargets reads and checks a targets file. JSON files parse as YAML.
func LoadTargets(path string) (TargetsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TargetsFile{}, fmt.Errorf("read targets file: %w", err)
	}

	var f TargetsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return TargetsFile{}, fmt.Errorf("parse targets file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(f.Targets))
	for i, t := range f.Targets {
		if t.IP == "" {
			return TargetsFile{}, fmt.Errorf("%w: entry %d has no ip", models.ErrInvalidTarget, i)
		}
		if seen[t.IP] {
			return TargetsFile{}, fmt.Errorf("%w: duplicate address %s", models.ErrInvalidTarget, t.IP)
		}
		seen[t.IP] = true
	}
	if f.Interval < 0 || f.Timeout < 0 {
		return TargetsFile{}, fmt.Errorf("targets file %s: negative duration", path)
	}
	return f, nil
}

// ApplyTargetsFile merges a targets file into c. File timing overrides
// flags; file targets are added to those given on the command line.
func (c *Config) ApplyTargetsFile(f TargetsFile) error {
	if f.Interval > 0 {
		c.Interval = f.Interval.Duration()
	}
	if f.Timeout > 0 {
		c.Timeout = f.Timeout.Duration()
	}
	merged, err := MergeTargets(c.Targets, f.Infos())
	if err != nil {
		return err
	}
	c.Targets = merged
	return nil
}

// MergeTargets joins target lists, rejecting an address listed twice.
func MergeTargets(lists ...[]models.TargetInfo) ([]models.TargetInfo, error) {
	var out []models.TargetInfo
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, t := range list {
			if seen[t.Address] {
				return nil, fmt.Errorf("%w: duplicate address %s", models.ErrInvalidTarget, t.Address)
			}
			seen[t.Address] = true
			out = append(out, t)
		}
	}
	return out, nil
}
