// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ATOMIC WRITE TESTS
// =============================================================================

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "credentials.json")

	require.NoError(t, AtomicWriteFile(path, []byte(`{"token":"a"}`), 0600))
	require.NoError(t, AtomicWriteFile(path, []byte(`{"token":"b"}`), 0600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"token":"b"}`, string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

// =============================================================================
// STRING TESTS
// =============================================================================

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short", "devis", 10, "devis"},
		{"exact", "devis", 5, "devis"},
		{"cut", "habitation", 5, "habi…"},
		{"accents", "santé été", 5, "sant…"},
		{"zero", "vie", 0, ""},
		{"one", "vie", 1, "…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TruncateRunes(tt.in, tt.max))
		})
	}
}

func TestTruncateWidth(t *testing.T) {
	assert.Equal(t, "auto", TruncateWidth("auto", 10))
	assert.LessOrEqual(t, StringWidth(TruncateWidth("日本語のテキスト", 6)), 6)
	assert.Equal(t, "", TruncateWidth("auto", 0))
}

func TestPadRightAndFirstLine(t *testing.T) {
	assert.Equal(t, "vie  ", PadRight("vie", 5))
	assert.Equal(t, "Bonjour", FirstLine("  Bonjour \nsuite"))
}
