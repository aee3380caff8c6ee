package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TrackConfig bounds one execution lane. Validated at construction: a track
// never runs with an unchecked config.
type TrackConfig struct {
	MaxConcurrent     int     `yaml:"max_concurrent"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	QueueSize         int     `yaml:"queue_size"`
	Workers           int     `yaml:"workers"`
	TimeoutMS         int     `yaml:"timeout_ms"`
}

// Timeout returns the per-operation timeout.
func (c TrackConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Validate rejects malformed track configs.
func (c TrackConfig) Validate() error {
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive, got %d", c.MaxConcurrent)
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive, got %v", c.RequestsPerSecond)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive, got %d", c.QueueSize)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.TimeoutMS <= 0 {
		return fmt.Errorf("timeout_ms must be positive, got %d", c.TimeoutMS)
	}
	return nil
}

// RiskLimits mirrors the risk-limits structure of the config file.
type RiskLimits struct {
	MaxDrawdownPct  float64 `yaml:"max_drawdown_pct"`
	MaxLeverage     float64 `yaml:"max_leverage"`
	MaxPositionSize float64 `yaml:"max_position_size"`
	MaxExposure     float64 `yaml:"max_exposure"`
	FailSafeMode    bool    `yaml:"fail_safe_mode"`
}

// TracksFile is the on-disk structure: per-asset-class track limits, one
// global concurrency ceiling, and the hard risk limits.
type TracksFile struct {
	GlobalMaxConcurrent int                    `yaml:"global_max_concurrent"`
	Tracks              map[string]TrackConfig `yaml:"tracks"`
	Risk                RiskLimits             `yaml:"risk"`
}

// LoadTracks parses and validates the tracks file. The global ceiling is
// auto-raised to at least the sum of per-track ceilings so no track is
// structurally starved.
func LoadTracks(path string) (*TracksFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tracks config: %w", err)
	}
	return ParseTracks(raw)
}

// ParseTracks validates an in-memory tracks document.
func ParseTracks(raw []byte) (*TracksFile, error) {
	var tf TracksFile
	if err := yaml.Unmarshal(raw, &tf); err != nil {
		return nil, fmt.Errorf("parse tracks config: %w", err)
	}
	if len(tf.Tracks) == 0 {
		return nil, fmt.Errorf("tracks config declares no tracks")
	}

	sum := 0
	for name, tc := range tf.Tracks {
		if err := tc.Validate(); err != nil {
			return nil, fmt.Errorf("track %q: %w", name, err)
		}
		sum += tc.MaxConcurrent
	}
	if tf.GlobalMaxConcurrent < sum {
		tf.GlobalMaxConcurrent = sum
	}
	return &tf, nil
}
