// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing config fixture: %v", err)
	}
	return path
}

func TestLoadSenderConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
sender:
  id: laptop-01
receiver:
  host: 192.168.1.50
  port: 19876
`)
	cfg, err := LoadSenderConfig(path)
	if err != nil {
		t.Fatalf("LoadSenderConfig: %v", err)
	}
	if cfg.Sender.ID != "laptop-01" {
		t.Errorf("expected sender id %q, got %q", "laptop-01", cfg.Sender.ID)
	}
	if cfg.Transfer.ChunkSizeRaw != 64*1024 {
		t.Errorf("expected default chunk size 65536, got %d", cfg.Transfer.ChunkSizeRaw)
	}
	if cfg.Transfer.LargeFileThresholdRaw != 1024*1024*1024 {
		t.Errorf("expected default large file threshold 1GiB, got %d", cfg.Transfer.LargeFileThresholdRaw)
	}
	if cfg.Transfer.LargeChunkSizeRaw != 256*1024 {
		t.Errorf("expected default large chunk size 262144, got %d", cfg.Transfer.LargeChunkSizeRaw)
	}
	if cfg.Transfer.MaxRetries != 3 {
		t.Errorf("expected default max retries 3, got %d", cfg.Transfer.MaxRetries)
	}
	if cfg.Transfer.BandwidthLimitRaw != 0 {
		t.Errorf("expected no bandwidth limit by default, got %d", cfg.Transfer.BandwidthLimitRaw)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("expected default logging info/json, got %s/%s", cfg.Logging.Level, cfg.Logging.Format)
	}
}

func TestLoadSenderConfig_MissingReceiverHost(t *testing.T) {
	path := writeConfig(t, `
sender:
  id: laptop-01
receiver:
  port: 19876
`)
	if _, err := LoadSenderConfig(path); err == nil {
		t.Fatal("expected error for missing receiver.host")
	}
}

func TestLoadSenderConfig_TLSRequiresCerts(t *testing.T) {
	path := writeConfig(t, `
sender:
  id: laptop-01
receiver:
  host: 192.168.1.50
  port: 19876
tls:
  enabled: true
`)
	if _, err := LoadSenderConfig(path); err == nil {
		t.Fatal("expected error for tls.enabled without cert paths")
	}
}

func TestLoadSenderConfig_CustomBandwidthLimit(t *testing.T) {
	path := writeConfig(t, `
sender:
  id: laptop-01
receiver:
  host: 192.168.1.50
  port: 19876
transfer:
  bandwidth_limit: "10mb"
`)
	cfg, err := LoadSenderConfig(path)
	if err != nil {
		t.Fatalf("LoadSenderConfig: %v", err)
	}
	if cfg.Transfer.BandwidthLimitRaw != 10*1024*1024 {
		t.Errorf("expected 10MiB, got %d", cfg.Transfer.BandwidthLimitRaw)
	}
}

func TestLoadReceiverConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
listen:
  host: 0.0.0.0
  port: 19876
storage:
  receive_dir: /var/lib/filepipe/received
`)
	cfg, err := LoadReceiverConfig(path)
	if err != nil {
		t.Fatalf("LoadReceiverConfig: %v", err)
	}
	if cfg.Storage.MinFreeSpaceRaw != 1024*1024*1024 {
		t.Errorf("expected default min free space 1GiB, got %d", cfg.Storage.MinFreeSpaceRaw)
	}
	if cfg.Archive.Enabled() {
		t.Error("expected archive disabled by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default logging level info, got %q", cfg.Logging.Level)
	}
}

func TestLoadReceiverConfig_MissingReceiveDir(t *testing.T) {
	path := writeConfig(t, `
listen:
  port: 19876
`)
	if _, err := LoadReceiverConfig(path); err == nil {
		t.Fatal("expected error for missing storage.receive_dir")
	}
}

func TestLoadReceiverConfig_HousekeepingDefaults(t *testing.T) {
	path := writeConfig(t, `
listen:
  port: 19876
storage:
  receive_dir: /var/lib/filepipe/received
housekeeping:
  enabled: true
`)
	cfg, err := LoadReceiverConfig(path)
	if err != nil {
		t.Fatalf("LoadReceiverConfig: %v", err)
	}
	if cfg.Housekeeping.Schedule != "0 3 * * *" {
		t.Errorf("expected default cron schedule, got %q", cfg.Housekeeping.Schedule)
	}
	if cfg.Housekeeping.MaxAge != 720*time.Hour {
		t.Errorf("expected default max age 720h, got %v", cfg.Housekeeping.MaxAge)
	}
}

func TestLoadReceiverConfig_ArchiveRequiresRegion(t *testing.T) {
	path := writeConfig(t, `
listen:
  port: 19876
storage:
  receive_dir: /var/lib/filepipe/received
archive:
  s3_bucket: my-bucket
`)
	if _, err := LoadReceiverConfig(path); err == nil {
		t.Fatal("expected error for archive.s3_bucket without s3_region")
	}
}

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"64kb", 64 * 1024, false},
		{"1mb", 1024 * 1024, false},
		{"1gb", 1024 * 1024 * 1024, false},
		{"100b", 100, false},
		{"1024", 1024, false},
		{"", 0, true},
		{"bogus", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseByteSize(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseByteSize(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseByteSize(%q): unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
