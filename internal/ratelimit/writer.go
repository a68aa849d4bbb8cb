// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package ratelimit provides a token-bucket throttled io.Writer used to cap
// the Transmitter's outbound bandwidth.
package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxBurstSize bounds a single token-bucket reservation, aligned to the
// large-file chunk size (256KB) so one chunk never waits on a burst larger
// than it could ever consume in one Write call.
const maxBurstSize = 256 * 1024

// ThrottledWriter is an io.Writer rate-limited to a fixed bytes/second cap
// via a token bucket.
type ThrottledWriter struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

// NewWriter wraps w with a token-bucket limiter capped at bytesPerSec. If
// bytesPerSec <= 0, w is returned unwrapped — throttling is disabled.
func NewWriter(ctx context.Context, w io.Writer, bytesPerSec int64) io.Writer {
	if bytesPerSec <= 0 {
		return w
	}

	burst := int(bytesPerSec)
	if burst > maxBurstSize {
		burst = maxBurstSize
	}

	return &ThrottledWriter{
		w:       w,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
	}
}

// Write implements io.Writer with rate limiting, splitting writes larger
// than the burst size into pieces so tokens are consumed gradually.
func (tw *ThrottledWriter) Write(p []byte) (int, error) {
	totalWritten := 0

	for len(p) > 0 {
		chunk := len(p)
		if chunk > tw.limiter.Burst() {
			chunk = tw.limiter.Burst()
		}

		if err := tw.limiter.WaitN(tw.ctx, chunk); err != nil {
			return totalWritten, err
		}

		n, err := tw.w.Write(p[:chunk])
		totalWritten += n
		if err != nil {
			return totalWritten, err
		}

		p = p[n:]
	}

	return totalWritten, nil
}
