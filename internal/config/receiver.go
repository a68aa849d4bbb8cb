// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ReceiverConfig represents the complete filepipe-recv configuration.
type ReceiverConfig struct {
	Listen       ListenAddr         `yaml:"listen"`
	TLS          TLSServer          `yaml:"tls"`
	Storage      StorageConfig      `yaml:"storage"`
	Transfer     ReceiverTransfer   `yaml:"transfer"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`
	Archive      ArchiveConfig      `yaml:"archive"`
	Logging      LoggingInfo        `yaml:"logging"`
}

// ListenAddr is the Receiver's accept address.
type ListenAddr struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ReceiverTransfer controls whether the Receiver is willing to negotiate
// encryption; the Sender's HANDSHAKE still decides per-transfer.
type ReceiverTransfer struct {
	AllowEncryption bool `yaml:"allow_encryption"`
}

// StorageConfig controls where received files land and the free-space
// floor enforced before accepting FILE_META.
type StorageConfig struct {
	ReceiveDir string `yaml:"receive_dir"`

	MinFreeSpace    string `yaml:"min_free_space"` // e.g. "1gb"; default 1GiB
	MinFreeSpaceRaw int64  `yaml:"-"`
}

// HousekeepingConfig schedules FileManager.CleanupOld via cron.
type HousekeepingConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Schedule string        `yaml:"schedule"` // cron expression; default "0 3 * * *"
	MaxAge   time.Duration `yaml:"max_age"`  // default 720h (30 days)
}

// ArchiveConfig optionally uploads completed transfers to S3.
type ArchiveConfig struct {
	S3Bucket string `yaml:"s3_bucket"`
	S3Region string `yaml:"s3_region"`
	S3Prefix string `yaml:"s3_prefix"`
}

// Enabled reports whether archival is configured.
func (a ArchiveConfig) Enabled() bool {
	return a.S3Bucket != ""
}

// LoadReceiverConfig reads and validates the YAML file at path.
func LoadReceiverConfig(path string) (*ReceiverConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading receiver config: %w", err)
	}

	var cfg ReceiverConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing receiver config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating receiver config: %w", err)
	}
	return &cfg, nil
}

// Validate fills defaults and rejects configs missing required fields.
func (c *ReceiverConfig) Validate() error {
	if c.Listen.Port <= 0 {
		return fmt.Errorf("listen.port is required")
	}
	if c.Storage.ReceiveDir == "" {
		return fmt.Errorf("storage.receive_dir is required")
	}

	if c.TLS.Enabled {
		if c.TLS.CACert == "" {
			return fmt.Errorf("tls.ca_cert is required when tls.enabled")
		}
		if c.TLS.ServerCert == "" {
			return fmt.Errorf("tls.server_cert is required when tls.enabled")
		}
		if c.TLS.ServerKey == "" {
			return fmt.Errorf("tls.server_key is required when tls.enabled")
		}
	}

	if c.Storage.MinFreeSpace == "" {
		c.Storage.MinFreeSpace = "1gb"
	}
	parsed, err := ParseByteSize(c.Storage.MinFreeSpace)
	if err != nil {
		return fmt.Errorf("storage.min_free_space: %w", err)
	}
	c.Storage.MinFreeSpaceRaw = parsed

	if c.Housekeeping.Enabled {
		if c.Housekeeping.Schedule == "" {
			c.Housekeeping.Schedule = "0 3 * * *"
		}
		if c.Housekeeping.MaxAge <= 0 {
			c.Housekeeping.MaxAge = 720 * time.Hour
		}
	}

	if c.Archive.Enabled() && c.Archive.S3Region == "" {
		return fmt.Errorf("archive.s3_region is required when archive.s3_bucket is set")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}
