// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import "github.com/bitfsorg/feerouter-go/errs"

var (
	// ErrInvalidStore indicates the store backend is not recognized.
	ErrInvalidStore = errs.ErrValidation.New("config: invalid store (must be \"bolt\", \"memory\", or \"postgres\")")

	// ErrMissingPostgresDSN indicates the postgres backend has no DSN.
	ErrMissingPostgresDSN = errs.ErrValidation.New("config: postgres store requires a DSN")

	// ErrInvalidMetricsAddr indicates the metrics listen address is malformed.
	ErrInvalidMetricsAddr = errs.ErrValidation.New("config: invalid metrics address")

	// ErrInvalidLogLevel indicates the log level is not recognized.
	ErrInvalidLogLevel = errs.ErrValidation.New("config: invalid log level (must be \"debug\", \"info\", \"warn\", or \"error\")")

	// ErrEmptyDataDir indicates the data directory path is empty.
	ErrEmptyDataDir = errs.ErrValidation.New("config: data directory must not be empty")

	// ErrInvalidPageSize indicates the page size is outside [1, pagination.MaxPageSize].
	ErrInvalidPageSize = errs.ErrValidation.New("config: invalid page size")

	// ErrInvalidCrank indicates a non-positive crank interval, parallelism,
	// rate or retry count.
	ErrInvalidCrank = errs.ErrValidation.New("config: invalid crank setting")

	// ErrInvalidProgramID indicates the program id is not base58.
	ErrInvalidProgramID = errs.ErrValidation.New("config: invalid program id")

	// ErrConfigNotFound indicates the configuration file does not exist.
	ErrConfigNotFound = errs.ErrNotFound.New("config: configuration file not found")

	// ErrMalformedConfig indicates the configuration file is not valid YAML.
	ErrMalformedConfig = errs.ErrValidation.New("config: malformed configuration file")

	// ErrMalformedPolicy indicates the policy file is not valid YAML.
	ErrMalformedPolicy = errs.ErrValidation.New("config: malformed policy file")
)
