// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalManifest = `
version: "1"
modules:
  - key: missions
    label: Missions
    tables:
      - key: missions
        label: Missions table
`

func TestDefault_Parses(t *testing.T) {
	m, err := Default()
	require.NoError(t, err)

	assert.Equal(t, SupportedVersion, m.Version)
	assert.Equal(t, 6, m.ModuleCount())
	assert.Len(t, m.Digest(), 64)
	assert.NotEmpty(t, m.Mappings)
}

func TestParse_Minimal(t *testing.T) {
	m, err := Parse([]byte(minimalManifest))
	require.NoError(t, err)

	require.Len(t, m.Modules, 1)
	assert.Equal(t, "missions", m.Modules[0].Key)
	require.Len(t, m.Modules[0].Tables, 1)
	assert.Equal(t, "Missions table", m.Modules[0].Tables[0].Label)
}

func TestParse_DigestIsDeterministic(t *testing.T) {
	a, err := Parse([]byte(minimalManifest))
	require.NoError(t, err)
	b, err := Parse([]byte(minimalManifest))
	require.NoError(t, err)
	assert.Equal(t, a.Digest(), b.Digest())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{
			name:    "empty document",
			yaml:    "",
			wantErr: ErrInvalidManifest,
		},
		{
			name:    "wrong version",
			yaml:    "version: \"2\"\nmodules:\n  - key: a\n",
			wantErr: ErrUnsupportedVersion,
		},
		{
			name:    "no modules",
			yaml:    "version: \"1\"\n",
			wantErr: ErrInvalidManifest,
		},
		{
			name:    "empty module key",
			yaml:    "version: \"1\"\nmodules:\n  - label: Nameless\n",
			wantErr: ErrInvalidManifest,
		},
		{
			name:    "empty table key",
			yaml:    "version: \"1\"\nmodules:\n  - key: a\n    tables:\n      - label: t\n",
			wantErr: ErrInvalidManifest,
		},
		{
			name:    "unknown field",
			yaml:    "version: \"1\"\nmodules:\n  - key: a\n    colour: blue\n",
			wantErr: ErrInvalidManifest,
		},
		{
			name:    "incomplete mapping",
			yaml:    "version: \"1\"\nmodules:\n  - key: a\nmappings:\n  - from: module:a\n",
			wantErr: ErrInvalidManifest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParse_TooLarge(t *testing.T) {
	data := []byte(minimalManifest + "#" + strings.Repeat("x", MaxManifestSize))
	_, err := Parse(data)
	assert.ErrorIs(t, err, ErrManifestTooLarge)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalManifest), 0600))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, m.ModuleCount())
}

func TestLoad_EmptyPathUsesDefault(t *testing.T) {
	m, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 6, m.ModuleCount())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDefaultBytes_IsCopy(t *testing.T) {
	b := DefaultBytes()
	require.NotEmpty(t, b)
	b[0] = '!'
	_, err := Default()
	assert.NoError(t, err)
}
