// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package listener

import (
	"fmt"
	"path/filepath"
	"strings"
)

// maxFilenameLength bounds the filename carried in FILE_META before it is
// used to build a destination path.
const maxFilenameLength = 255

// validateFilename rejects a FILE_META filename that cannot be safely
// joined under the receive directory. uniquePath additionally runs the
// result through filepath.Base; this check rejects empty, overlong and
// NUL-containing names and the bare "." and ".." before any path is
// constructed. Other control characters and names containing path
// separators are not rejected here.
func validateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("filename cannot be empty")
	}
	if len(name) > maxFilenameLength {
		return fmt.Errorf("filename exceeds max length %d", maxFilenameLength)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("filename contains null byte")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("filename is a path traversal sequence")
	}
	return nil
}

// validatePathInBaseDir is a defense-in-depth check that resolvedPath,
// after uniquePath has built it, still resolves inside baseDir.
func validatePathInBaseDir(baseDir, resolvedPath string) error {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("resolving base dir: %w", err)
	}
	absResolved, err := filepath.Abs(resolvedPath)
	if err != nil {
		return fmt.Errorf("resolving target path: %w", err)
	}

	rel, err := filepath.Rel(absBase, absResolved)
	if err != nil {
		return fmt.Errorf("path escapes base directory: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes base directory %q", resolvedPath, baseDir)
	}
	return nil
}
