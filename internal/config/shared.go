// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"strconv"
	"strings"
)

// TLSClient carries the Sender-side mTLS material. Present but inert
// unless Enabled is true — the protocol works identically over plain TCP.
type TLSClient struct {
	Enabled    bool   `yaml:"enabled"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// TLSServer carries the Receiver-side mTLS material.
type TLSServer struct {
	Enabled    bool   `yaml:"enabled"`
	CACert     string `yaml:"ca_cert"`
	ServerCert string `yaml:"server_cert"`
	ServerKey  string `yaml:"server_key"`
}

// LoggingInfo configures log/slog output.
type LoggingInfo struct {
	Level  string `yaml:"level"`  // debug|info|warn|error, default info
	Format string `yaml:"format"` // json|text, default json
	File   string `yaml:"file"`   // optional tee destination

	// SessionLogDir, when set, additionally writes a dedicated JSON/debug
	// log file per transfer under SessionLogDir/<role>/<transfer-id>.log,
	// where role is "sender" or "receiver". The
	// file is removed when the transfer completes successfully and left
	// in place for inspection when it fails.
	SessionLogDir string `yaml:"session_log_dir"`
}

// ParseByteSize converts human-readable sizes like "256mb", "1gb" to bytes.
// Suffixes are matched longest-first so "mb" is never mistaken for "b".
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	type suffix struct {
		s string
		m int64
	}
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}
