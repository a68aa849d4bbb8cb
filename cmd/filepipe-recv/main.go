// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nishisan-dev/filepipe/internal/archive"
	"github.com/nishisan-dev/filepipe/internal/config"
	"github.com/nishisan-dev/filepipe/internal/diagnostics"
	"github.com/nishisan-dev/filepipe/internal/housekeeping"
	"github.com/nishisan-dev/filepipe/internal/listener"
	"github.com/nishisan-dev/filepipe/internal/logging"
	"github.com/nishisan-dev/filepipe/internal/storage"
)

func main() {
	configPath := flag.String("config", "/etc/filepipe/receiver.yaml", "path to receiver config file")
	flag.Parse()

	cfg, err := config.LoadReceiverConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	fm, err := storage.NewFileManager(cfg.Storage.ReceiveDir)
	if err != nil {
		logger.Error("initializing file manager", "error", err)
		os.Exit(1)
	}

	hk, err := housekeeping.New(cfg.Housekeeping, fm, logger)
	if err != nil {
		logger.Error("scheduling housekeeping", "error", err)
		os.Exit(1)
	}
	hk.Start()
	defer hk.Stop()

	monitor := diagnostics.NewMonitor(logger, cfg.Storage.ReceiveDir, 0)
	monitor.Start()
	defer monitor.Stop()

	uploader, err := archive.New(ctx, cfg.Archive)
	if err != nil {
		logger.Error("configuring archive uploader", "error", err)
		os.Exit(1)
	}

	l, err := listener.New(cfg, logger)
	if err != nil {
		logger.Error("initializing listener", "error", err)
		os.Exit(1)
	}
	l.OnFileReceived = func(f listener.ReceivedFile) {
		logger.Info("file received", "path", f.Path, "mime_type", f.MimeType)
		if err := uploader.Upload(ctx, f.Path); err != nil {
			logger.Error("archiving received file", "path", f.Path, "error", err)
		}
	}
	l.OnProgress = func(r listener.ProgressRecord) {
		logger.Debug("transfer progress", "filename", r.Filename, "chunks_received", r.ChunksReceived, "chunk_count", r.ChunkCount)
	}

	if err := l.Start(ctx); err != nil {
		logger.Error("listener error", "error", err)
		os.Exit(1)
	}
}
