// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config loads and validates the YAML configuration for the
// filepipe-send and filepipe-recv binaries.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SenderConfig represents the complete filepipe-send configuration.
type SenderConfig struct {
	Sender   SenderInfo     `yaml:"sender"`
	Receiver ReceiverAddr   `yaml:"receiver"`
	TLS      TLSClient      `yaml:"tls"`
	Transfer TransferConfig `yaml:"transfer"`
	Logging  LoggingInfo    `yaml:"logging"`
}

// SenderInfo identifies the sending peer in HANDSHAKE.
type SenderInfo struct {
	ID string `yaml:"id"`
}

// ReceiverAddr is the dial target.
type ReceiverAddr struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// TransferConfig controls chunking, retry, encryption and throttling.
type TransferConfig struct {
	Encryption bool `yaml:"encryption"`

	ChunkSize    string `yaml:"chunk_size"` // e.g. "64kb"; default 64KiB
	ChunkSizeRaw int64  `yaml:"-"`

	// LargeFileThreshold selects the large-file chunk size (default
	// 256KiB) once a file's size reaches it (default 1GiB).
	LargeFileThreshold    string `yaml:"large_file_threshold"`
	LargeFileThresholdRaw int64  `yaml:"-"`
	LargeChunkSize        string `yaml:"large_chunk_size"`
	LargeChunkSizeRaw     int64  `yaml:"-"`

	MaxRetries int `yaml:"max_retries"` // default 3

	// BandwidthLimit caps outbound throughput, e.g. "10mb". Empty or "0"
	// disables throttling.
	BandwidthLimit    string `yaml:"bandwidth_limit"`
	BandwidthLimitRaw int64  `yaml:"-"`

	Compression bool `yaml:"compression"`
}

// LoadSenderConfig reads and validates the YAML file at path.
func LoadSenderConfig(path string) (*SenderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sender config: %w", err)
	}

	var cfg SenderConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing sender config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating sender config: %w", err)
	}
	return &cfg, nil
}

// Validate fills defaults and rejects configs missing required fields.
func (c *SenderConfig) Validate() error {
	if c.Sender.ID == "" {
		return fmt.Errorf("sender.id is required")
	}
	if c.Receiver.Host == "" {
		return fmt.Errorf("receiver.host is required")
	}
	if c.Receiver.Port <= 0 {
		return fmt.Errorf("receiver.port is required")
	}

	if c.TLS.Enabled {
		if c.TLS.CACert == "" {
			return fmt.Errorf("tls.ca_cert is required when tls.enabled")
		}
		if c.TLS.ClientCert == "" {
			return fmt.Errorf("tls.client_cert is required when tls.enabled")
		}
		if c.TLS.ClientKey == "" {
			return fmt.Errorf("tls.client_key is required when tls.enabled")
		}
	}

	if err := c.Transfer.validate(); err != nil {
		return err
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}

func (t *TransferConfig) validate() error {
	if t.ChunkSize == "" {
		t.ChunkSize = "64kb"
	}
	parsed, err := ParseByteSize(t.ChunkSize)
	if err != nil {
		return fmt.Errorf("transfer.chunk_size: %w", err)
	}
	t.ChunkSizeRaw = parsed

	if t.LargeFileThreshold == "" {
		t.LargeFileThreshold = "1gb"
	}
	parsed, err = ParseByteSize(t.LargeFileThreshold)
	if err != nil {
		return fmt.Errorf("transfer.large_file_threshold: %w", err)
	}
	t.LargeFileThresholdRaw = parsed

	if t.LargeChunkSize == "" {
		t.LargeChunkSize = "256kb"
	}
	parsed, err = ParseByteSize(t.LargeChunkSize)
	if err != nil {
		return fmt.Errorf("transfer.large_chunk_size: %w", err)
	}
	t.LargeChunkSizeRaw = parsed

	if t.MaxRetries <= 0 {
		t.MaxRetries = 3
	}

	if t.BandwidthLimit == "" || t.BandwidthLimit == "0" {
		t.BandwidthLimitRaw = 0
	} else {
		parsed, err = ParseByteSize(t.BandwidthLimit)
		if err != nil {
			return fmt.Errorf("transfer.bandwidth_limit: %w", err)
		}
		t.BandwidthLimitRaw = parsed
	}

	return nil
}
