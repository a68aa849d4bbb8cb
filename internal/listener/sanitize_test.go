// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package listener

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateFilename_Valid(t *testing.T) {
	valid := []string{
		"report.pdf",
		"my-archive_01.tar.gz",
		".bashrc",
		"a",
	}
	for _, name := range valid {
		if err := validateFilename(name); err != nil {
			t.Errorf("expected %q to be valid, got error: %v", name, err)
		}
	}
}

func TestValidateFilename_RejectsTraversal(t *testing.T) {
	invalid := []string{".", ".."}
	for _, name := range invalid {
		if err := validateFilename(name); err == nil {
			t.Errorf("expected %q to be rejected (path traversal)", name)
		}
	}
}

func TestValidateFilename_RejectsEmpty(t *testing.T) {
	if err := validateFilename(""); err == nil {
		t.Error("expected empty string to be rejected")
	}
}

func TestValidateFilename_RejectsNullByte(t *testing.T) {
	if err := validateFilename("foo\x00bar"); err == nil {
		t.Error("expected string with null byte to be rejected")
	}
}

func TestValidateFilename_RejectsLongName(t *testing.T) {
	long := strings.Repeat("x", maxFilenameLength+1)
	if err := validateFilename(long); err == nil {
		t.Error("expected long name to be rejected")
	}
}

func TestValidatePathInBaseDir_Inside(t *testing.T) {
	base := "/data/receive"
	inside := filepath.Join(base, "report_1.pdf")
	if err := validatePathInBaseDir(base, inside); err != nil {
		t.Errorf("expected path inside base dir, got error: %v", err)
	}
}

func TestValidatePathInBaseDir_Outside(t *testing.T) {
	base := "/data/receive"
	outside := "/etc/passwd"
	if err := validatePathInBaseDir(base, outside); err == nil {
		t.Error("expected path outside base dir to be rejected")
	}
}

func TestValidatePathInBaseDir_TraversalAttempt(t *testing.T) {
	base := "/data/receive"
	traversal := filepath.Join(base, "..", "..", "etc", "passwd")
	if err := validatePathInBaseDir(base, traversal); err == nil {
		t.Error("expected traversal attempt to be rejected")
	}
}
