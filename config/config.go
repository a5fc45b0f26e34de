// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

// Package config loads fee router settings and stream policies.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bitfsorg/feerouter-go/policy"
)

// Store backends accepted in Config.Store.
const (
	StoreBolt     = "bolt"
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds fee router process settings.
type Config struct {
	DataDir        string        `yaml:"data_dir"`
	Store          string        `yaml:"store"`
	PostgresDSN    string        `yaml:"postgres_dsn,omitempty"`
	ProgramID      string        `yaml:"program_id,omitempty"`
	LogLevel       string        `yaml:"log_level"`
	LogFile        string        `yaml:"log_file,omitempty"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	CrankInterval  time.Duration `yaml:"crank_interval"`
	PageSize       int           `yaml:"page_size"`
	MaxParallel    int           `yaml:"max_parallel"`
	StepsPerSecond float64       `yaml:"steps_per_second"`
	RetryAttempts  int           `yaml:"retry_attempts"`
}

// DefaultConfig returns a Config populated with default values.
func DefaultConfig() Config {
	return Config{
		DataDir:        DefaultDataDir(),
		Store:          StoreBolt,
		LogLevel:       "info",
		MetricsAddr:    ":9464",
		CrankInterval:  time.Minute,
		PageSize:       20,
		MaxParallel:    4,
		StepsPerSecond: 10,
		RetryAttempts:  5,
	}
}

// DefaultDataDir returns ~/.feerouter, or .feerouter when the home
// directory cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".feerouter"
	}
	return filepath.Join(home, ".feerouter")
}

// ConfigPath returns the config file location inside dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(filepath.Clean(dataDir), "config.yaml")
}

// DatabasePath returns the bolt database location inside dataDir.
func DatabasePath(dataDir string) string {
	return filepath.Join(filepath.Clean(dataDir), "feerouter.db")
}

// LoadConfig reads a YAML config file. Keys missing from the file keep
// their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, ErrConfigNotFound
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrMalformedConfig, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML, creating parent directories.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	data = append([]byte("# feerouter configuration\n"), data...)
	return os.WriteFile(path, data, 0600)
}

// ApplyEnv overrides cfg with FEEROUTER_* variables found in env. Empty
// values are ignored.
func ApplyEnv(cfg *Config, env map[string]string) error {
	str := func(key string, dst *string) {
		if v := env[key]; v != "" {
			*dst = v
		}
	}
	str("FEEROUTER_DATA_DIR", &cfg.DataDir)
	str("FEEROUTER_STORE", &cfg.Store)
	str("FEEROUTER_POSTGRES_DSN", &cfg.PostgresDSN)
	str("FEEROUTER_PROGRAM_ID", &cfg.ProgramID)
	str("FEEROUTER_LOG_LEVEL", &cfg.LogLevel)
	str("FEEROUTER_LOG_FILE", &cfg.LogFile)
	str("FEEROUTER_METRICS_ADDR", &cfg.MetricsAddr)

	if v := env["FEEROUTER_CRANK_INTERVAL"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: FEEROUTER_CRANK_INTERVAL: %w", err)
		}
		cfg.CrankInterval = d
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"FEEROUTER_PAGE_SIZE", &cfg.PageSize},
		{"FEEROUTER_MAX_PARALLEL", &cfg.MaxParallel},
		{"FEEROUTER_RETRY_ATTEMPTS", &cfg.RetryAttempts},
	}
	for _, it := range ints {
		v := env[it.key]
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", it.key, err)
		}
		*it.dst = n
	}
	if v := env["FEEROUTER_STEPS_PER_SECOND"]; v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: FEEROUTER_STEPS_PER_SECOND: %w", err)
		}
		cfg.StepsPerSecond = f
	}
	return nil
}

// policyFile is the YAML layout of a stream policy.
type policyFile struct {
	Stream              policy.StreamID   `yaml:"stream"`
	QuoteCurrency       policy.CurrencyID `yaml:"quote_currency"`
	CreatorPayoutTarget policy.AccountID  `yaml:"creator_payout_target"`
	InvestorFeeShareBps uint16            `yaml:"investor_fee_share_bps"`
	DailyCap            *uint64           `yaml:"daily_cap"`
	MinPayout           *uint64           `yaml:"min_payout"`
	Y0TotalAllocation   uint64            `yaml:"y0_total_allocation"`
}

// LoadPolicyFile reads and validates a stream policy. A missing
// min_payout falls back to policy.DefaultMinPayout.
func LoadPolicyFile(path string) (*policy.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read policy: %w", err)
	}
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPolicy, err)
	}
	p := &policy.Policy{
		StreamID:            f.Stream,
		QuoteCurrency:       f.QuoteCurrency,
		CreatorPayoutTarget: f.CreatorPayoutTarget,
		InvestorFeeShareBps: f.InvestorFeeShareBps,
		DailyCap:            f.DailyCap,
		MinPayout:           policy.DefaultMinPayout,
		Y0TotalAllocation:   f.Y0TotalAllocation,
	}
	if f.MinPayout != nil {
		p.MinPayout = *f.MinPayout
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
