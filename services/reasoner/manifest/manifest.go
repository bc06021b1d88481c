// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package manifest loads the static, versioned system description that the
// world model is built from.
//
// A manifest lists the platform's modules and, nested under each module, the
// tables, endpoints, workflows and domain objects that module owns. Manual
// edges that cannot be expressed through nesting are listed under mappings.
//
// Thread Safety:
//
//	Manifest values are plain data. Load and Parse are safe for concurrent use.
package manifest

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxManifestSize is the maximum accepted manifest size (1MB).
	MaxManifestSize = 1024 * 1024

	// SupportedVersion is the only manifest schema version understood by this package.
	SupportedVersion = "1"
)

// =============================================================================
// Embedded Default Manifest
// =============================================================================

//go:embed manifest.yaml
var defaultManifestYAML []byte

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrManifestTooLarge indicates the manifest exceeds MaxManifestSize.
	ErrManifestTooLarge = errors.New("manifest exceeds maximum size")

	// ErrUnsupportedVersion indicates a manifest schema version other than SupportedVersion.
	ErrUnsupportedVersion = errors.New("unsupported manifest version")

	// ErrInvalidManifest indicates a structurally invalid manifest.
	ErrInvalidManifest = errors.New("invalid manifest")
)

// =============================================================================
// Types
// =============================================================================

// Manifest is the root of the system description.
type Manifest struct {
	Version  string    `yaml:"version"`
	Modules  []Module  `yaml:"modules"`
	Mappings []Mapping `yaml:"mappings,omitempty"`

	digest string
}

// Entity is the set of fields shared by every manifest record.
type Entity struct {
	Key         string   `yaml:"key"`
	Label       string   `yaml:"label"`
	Description string   `yaml:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
}

// Module is an owning subsystem and everything nested under it.
type Module struct {
	Entity `yaml:",inline"`

	// DependsOn lists other module keys this module declares a dependency on.
	DependsOn []string `yaml:"depends_on,omitempty"`

	Tables        []Table        `yaml:"tables,omitempty"`
	Endpoints     []Endpoint     `yaml:"endpoints,omitempty"`
	Workflows     []Workflow     `yaml:"workflows,omitempty"`
	DomainObjects []DomainObject `yaml:"domain_objects,omitempty"`
}

// Table is a relational table owned by a module.
type Table struct {
	Entity `yaml:",inline"`
}

// Endpoint is an API route. Reads and Writes name table keys.
type Endpoint struct {
	Entity `yaml:",inline"`
	Method string   `yaml:"method,omitempty"`
	Path   string   `yaml:"path,omitempty"`
	Reads  []string `yaml:"reads,omitempty"`
	Writes []string `yaml:"writes,omitempty"`
}

// Workflow is a multi-step process. Calls names endpoint keys.
type Workflow struct {
	Entity `yaml:",inline"`
	Calls  []string `yaml:"calls,omitempty"`
}

// DomainObject is a business concept. MapsTo names table keys.
type DomainObject struct {
	Entity `yaml:",inline"`
	MapsTo []string `yaml:"maps_to,omitempty"`
}

// Mapping is a manual edge between two nodes formatted as "entity_type:key".
type Mapping struct {
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	Relation string `yaml:"relation"`
}

// Digest returns the hex SHA-256 of the manifest bytes it was parsed from.
func (m *Manifest) Digest() string {
	return m.digest
}

// =============================================================================
// Loading
// =============================================================================

// Default returns the manifest embedded in the binary.
func Default() (*Manifest, error) {
	return Parse(defaultManifestYAML)
}

// DefaultBytes returns a copy of the embedded manifest source.
func DefaultBytes() []byte {
	out := make([]byte, len(defaultManifestYAML))
	copy(out, defaultManifestYAML)
	return out
}

// Load reads and parses a manifest file.
//
// # Description
//
// Reads at most MaxManifestSize+1 bytes so an oversized file is rejected
// without loading it entirely. An empty path loads the embedded default.
//
// # Outputs
//
//   - *Manifest: Parsed, validated manifest.
//   - error: ErrManifestTooLarge, ErrUnsupportedVersion, ErrInvalidManifest or an I/O error.
func Load(path string) (*Manifest, error) {
	if path == "" {
		return Default()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxManifestSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes and validates manifest YAML. Unknown fields are rejected.
func Parse(data []byte) (*Manifest, error) {
	if len(data) > MaxManifestSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrManifestTooLarge, len(data), MaxManifestSize)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidManifest)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	m.digest = hex.EncodeToString(sum[:])
	return &m, nil
}

// Validate checks the schema version and that every record has a key.
//
// Referential checks (does a referenced table exist?) belong to the world
// model build, which reports them as dangling edges.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.Version) != SupportedVersion {
		return fmt.Errorf("%w: %q (want %q)", ErrUnsupportedVersion, m.Version, SupportedVersion)
	}
	if len(m.Modules) == 0 {
		return fmt.Errorf("%w: no modules", ErrInvalidManifest)
	}

	for i, mod := range m.Modules {
		if strings.TrimSpace(mod.Key) == "" {
			return fmt.Errorf("%w: modules[%d] has empty key", ErrInvalidManifest, i)
		}
		for j, t := range mod.Tables {
			if strings.TrimSpace(t.Key) == "" {
				return fmt.Errorf("%w: module %q tables[%d] has empty key", ErrInvalidManifest, mod.Key, j)
			}
		}
		for j, e := range mod.Endpoints {
			if strings.TrimSpace(e.Key) == "" {
				return fmt.Errorf("%w: module %q endpoints[%d] has empty key", ErrInvalidManifest, mod.Key, j)
			}
		}
		for j, w := range mod.Workflows {
			if strings.TrimSpace(w.Key) == "" {
				return fmt.Errorf("%w: module %q workflows[%d] has empty key", ErrInvalidManifest, mod.Key, j)
			}
		}
		for j, d := range mod.DomainObjects {
			if strings.TrimSpace(d.Key) == "" {
				return fmt.Errorf("%w: module %q domain_objects[%d] has empty key", ErrInvalidManifest, mod.Key, j)
			}
		}
	}

	for i, mp := range m.Mappings {
		if mp.From == "" || mp.To == "" || mp.Relation == "" {
			return fmt.Errorf("%w: mappings[%d] requires from, to and relation", ErrInvalidManifest, i)
		}
	}
	return nil
}

// ModuleCount returns the number of modules declared.
func (m *Manifest) ModuleCount() int {
	return len(m.Modules)
}
