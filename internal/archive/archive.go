// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package archive optionally uploads a completed transfer to S3, wired
// off the Listener's OnFileReceived callback. It is entirely optional:
// the Receiver runs identically when archive.s3_bucket is unset.
package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/nishisan-dev/filepipe/internal/config"
)

// Uploader uploads completed transfers to a configured S3 bucket/prefix.
type Uploader struct {
	client *s3.Client
	bucket string
	prefix string
}

// New constructs an Uploader from cfg. It returns nil, nil when archival
// is disabled (no bucket configured), so callers can wire it
// unconditionally.
func New(ctx context.Context, cfg config.ArchiveConfig) (*Uploader, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return &Uploader{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.S3Bucket,
		prefix: cfg.S3Prefix,
	}, nil
}

// Upload streams the file at localPath to the configured bucket under
// prefix/filename. A nil Uploader (archival disabled) is a safe no-op.
func (u *Uploader) Upload(ctx context.Context, localPath string) error {
	if u == nil {
		return nil
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s for archival: %w", localPath, err)
	}
	defer f.Close()

	key := path.Join(u.prefix, filepath.Base(localPath))
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &u.bucket,
		Key:    &key,
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("uploading %s to s3://%s/%s: %w", localPath, u.bucket, key, err)
	}
	return nil
}
