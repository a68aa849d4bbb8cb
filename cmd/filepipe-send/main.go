// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/nishisan-dev/filepipe/internal/config"
	"github.com/nishisan-dev/filepipe/internal/logging"
	"github.com/nishisan-dev/filepipe/internal/transmitter"
)

func main() {
	configPath := flag.String("config", "/etc/filepipe/sender.yaml", "path to sender config file")
	flag.Parse()

	path := flag.Arg(0)
	if path == "" {
		fmt.Fprintln(os.Stderr, "usage: filepipe-send --config <path> <file>")
		os.Exit(1)
	}

	cfg, err := config.LoadSenderConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	tr := transmitter.New(cfg, logger)
	if err := tr.StartTransfer(path); err != nil {
		logger.Error("starting transfer", "error", err)
		os.Exit(1)
	}

	for {
		p, ok := tr.LatestProgress()
		if ok {
			if p.Error != "" {
				fmt.Fprintf(os.Stderr, "transfer failed: %s\n", p.Error)
				os.Exit(1)
			}
			fmt.Printf("\r%s %d/%d chunks (%.0f%%)", path, p.ChunksSent, p.TotalChunks, p.Fraction()*100)
			if p.Done {
				fmt.Println()
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
}
