// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"net"

	"github.com/bitfsorg/feerouter-go/address"
	"github.com/bitfsorg/feerouter-go/logger"
	"github.com/bitfsorg/feerouter-go/pagination"
)

// ValidateConfig checks that all configuration values are within acceptable
// ranges and returns the first error encountered, or nil if valid.
func ValidateConfig(cfg Config) error {
	if cfg.DataDir == "" {
		return ErrEmptyDataDir
	}

	switch cfg.Store {
	case StoreBolt, StoreMemory:
	case StorePostgres:
		if cfg.PostgresDSN == "" {
			return ErrMissingPostgresDSN
		}
	default:
		return ErrInvalidStore
	}

	if cfg.ProgramID != "" {
		if _, err := address.ParseProgramID(cfg.ProgramID); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidProgramID, err)
		}
	}

	if _, err := logger.ParseLevel(cfg.LogLevel); err != nil {
		return ErrInvalidLogLevel
	}

	if err := validateAddr(cfg.MetricsAddr); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMetricsAddr, err)
	}

	if cfg.PageSize < 1 || cfg.PageSize > pagination.MaxPageSize {
		return fmt.Errorf("%w: %d", ErrInvalidPageSize, cfg.PageSize)
	}

	if cfg.CrankInterval <= 0 || cfg.MaxParallel < 1 || cfg.StepsPerSecond <= 0 || cfg.RetryAttempts < 1 {
		return ErrInvalidCrank
	}

	return nil
}

// validateAddr checks that addr is a valid host:port address.
func validateAddr(addr string) error {
	_, _, err := net.SplitHostPort(addr)
	return err
}
