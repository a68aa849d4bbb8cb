// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package transmitter implements the Sender side of the filepipe transfer
// pipeline: connect, handshake, send metadata, stream chunks with retry,
// and report progress through a single-consumer channel.
package transmitter

// Progress is a value-copied snapshot of transfer state, produced by the
// Transmitter and consumed by polling LatestProgress. Done and a non-empty
// Error are mutually exclusive.
type Progress struct {
	ChunksSent  uint32
	TotalChunks uint32
	BytesSent   uint64
	TotalBytes  uint64
	Done        bool
	Error       string
}

// Fraction returns ChunksSent/TotalChunks, or 0 when TotalChunks is 0.
func (p Progress) Fraction() float64 {
	if p.TotalChunks == 0 {
		return 0
	}
	return float64(p.ChunksSent) / float64(p.TotalChunks)
}
