// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// =============================================================================
// ATOMIC WRITE TESTS
// =============================================================================

func TestAtomicWriteFile_CreatesAndOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "deep", "config.toml")

	if err := AtomicWriteFile(path, []byte("initial"), 0644); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := AtomicWriteFile(path, []byte("updated"), 0644); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}
	if string(content) != "updated" {
		t.Errorf("content not updated: got %q", string(content))
	}
}

func TestAtomicWriteFile_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.db")

	for i := 0; i < 3; i++ {
		if err := AtomicWriteFile(path, []byte{byte(i)}, 0644); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to list dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the target file, got %d entries", len(entries))
	}
}

func TestAtomicWriteFileWithDir_Permissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	dir := filepath.Join(t.TempDir(), "secret")
	path := filepath.Join(dir, "config.toml")

	if err := AtomicWriteFileWithDir(path, []byte("token = 'x'"), 0600, 0700); err != nil {
		t.Fatalf("AtomicWriteFileWithDir failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("file not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file perm = %o, want 600", perm)
	}
	dirInfo, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("dir not created: %v", err)
	}
	if perm := dirInfo.Mode().Perm(); perm != 0700 {
		t.Errorf("dir perm = %o, want 700", perm)
	}
}

// =============================================================================
// STRING TESTS
// =============================================================================

func TestTruncateRunes(t *testing.T) {
	testCases := []struct {
		input    string
		maxRunes int
		expected string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"hello", 3, "hel"},
		{"hello", 0, ""},
		{"日本語のテキスト", 5, "日本..."},
		{"日本語", 3, "日本語"},
	}

	for _, tc := range testCases {
		result := TruncateRunes(tc.input, tc.maxRunes)
		if result != tc.expected {
			t.Errorf("TruncateRunes(%q, %d) = %q, want %q", tc.input, tc.maxRunes, result, tc.expected)
		}
	}
}

func TestFirstLine(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"single", "single"},
		{"\n\n  second line  \nthird", "second line"},
		{"   \n\t\n", ""},
		{"", ""},
	}

	for _, tc := range testCases {
		if result := FirstLine(tc.input); result != tc.expected {
			t.Errorf("FirstLine(%q) = %q, want %q", tc.input, result, tc.expected)
		}
	}
}

func TestPadRight(t *testing.T) {
	testCases := []struct {
		input    string
		width    int
		expected string
	}{
		{"ab", 4, "ab  "},
		{"abcd", 4, "abcd"},
		{"abcdefgh", 6, "abc..."},
		{"日本", 3, "日本 "},
	}

	for _, tc := range testCases {
		if result := PadRight(tc.input, tc.width); result != tc.expected {
			t.Errorf("PadRight(%q, %d) = %q, want %q", tc.input, tc.width, result, tc.expected)
		}
	}
}
