// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package worldmodel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianClimate/services/reasoner/manifest"
)

// testManifest builds a 6-node, 10-edge graph:
//
//	owns:       alpha->a_table, alpha->a_read, beta->b_table, beta->b_flow
//	manifest:   a_read reads a_table, a_read reads b_table,
//	            beta depends_on alpha, b_flow calls a_read
//	manual:     a_table maps_to b_table
//	inferred:   alpha depends_on beta (a_read reads b_table owned by beta)
const testManifest = `
version: "1"
modules:
  - key: alpha
    label: Alpha
    description: First module handling carbon accounting.
    tags: [core]
    tables:
      - key: a_table
        label: A table
    endpoints:
      - key: a_read
        label: A read
        reads: [a_table, b_table]
  - key: beta
    label: Beta
    depends_on: [alpha]
    tables:
      - key: b_table
        label: B table
        description: Stores emission factors.
        tags: [Core, data, core]
    workflows:
      - key: b_flow
        label: B flow
        calls: [a_read]
mappings:
  - from: table:a_table
    to: table:b_table
    relation: maps_to
`

func mustManifest(t *testing.T, src string) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Parse([]byte(src))
	require.NoError(t, err)
	return m
}

func buildTestSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	snap, err := Build(context.Background(), mustManifest(t, testManifest))
	require.NoError(t, err)
	return snap
}

func TestBuild_TestManifest(t *testing.T) {
	snap := buildTestSnapshot(t)

	assert.Equal(t, 6, snap.NodeCount())
	assert.Equal(t, 10, snap.EdgeCount())
	assert.NoError(t, snap.Validate())

	st := snap.Stats()
	assert.Equal(t, map[string]int{"module": 2, "table": 2, "endpoint": 1, "workflow": 1}, st.ByEntityType)
	assert.Equal(t, map[string]int{"manifest": 8, "manual": 1, "inferred": 1}, st.BySource)
	assert.Equal(t, 4, st.ByRelation["owns"])
	assert.Equal(t, 2, st.ByRelation["depends_on"])
	assert.Equal(t, 2, st.ByRelation["reads"])
	assert.NotEmpty(t, st.ManifestDigest)
}

func TestBuild_NodeFields(t *testing.T) {
	snap := buildTestSnapshot(t)

	n, ok := snap.FindNodeByKey(EntityTable, "b_table")
	require.True(t, ok)
	assert.Equal(t, "beta", n.Module)
	assert.Equal(t, "B table", n.Label)
	assert.Equal(t, "Stores emission factors.", n.Description)
	assert.Equal(t, []string{"core", "data"}, n.Tags, "tags are a lowercase set")

	mod, ok := snap.FindNodeByKey(EntityModule, "alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", mod.Module)
}

func TestBuild_InferredEdge(t *testing.T) {
	snap := buildTestSnapshot(t)

	var inferred []Edge
	for _, e := range snap.Edges() {
		if e.Source == SourceInferred {
			inferred = append(inferred, e)
		}
	}
	require.Len(t, inferred, 1)
	assert.Equal(t, Edge{From: "module:alpha", To: "module:beta", Relation: RelationDependsOn, Source: SourceInferred}, inferred[0])
}

func TestBuild_DefaultManifest(t *testing.T) {
	m, err := manifest.Default()
	require.NoError(t, err)

	snap, err := Build(context.Background(), m)
	require.NoError(t, err)

	t.Run("every edge resolves", func(t *testing.T) {
		for _, e := range snap.Edges() {
			assert.True(t, snap.HasNode(e.From), "from %s", e.From)
			assert.True(t, snap.HasNode(e.To), "to %s", e.To)
		}
	})

	t.Run("module filter count equals manifest module count", func(t *testing.T) {
		modules := snap.FilterNodes(NodeFilter{EntityType: EntityModule})
		assert.Len(t, modules, m.ModuleCount())
		for _, n := range modules {
			assert.Equal(t, EntityModule, n.EntityType)
		}
	})

	t.Run("cross-module table access is inferred", func(t *testing.T) {
		out := snap.GetNeighbors(EntityModule, "reporting").Outgoing
		assert.Contains(t, out, Edge{From: "module:reporting", To: "module:missions", Relation: RelationDependsOn, Source: SourceInferred})
	})

	t.Run("declared dependency is not duplicated as inferred", func(t *testing.T) {
		var count int
		for _, e := range snap.GetNeighbors(EntityModule, "agents").Outgoing {
			if e.To == "module:missions" && e.Relation == RelationDependsOn {
				count++
				assert.Equal(t, SourceManifest, e.Source)
			}
		}
		assert.Equal(t, 1, count)
	})
}

func TestBuild_Deterministic(t *testing.T) {
	a := buildTestSnapshot(t)
	b := buildTestSnapshot(t)

	assert.Equal(t, a.Nodes(), b.Nodes())
	assert.Equal(t, a.Edges(), b.Edges())
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{
			name: "dangling table reference",
			yaml: `
version: "1"
modules:
  - key: alpha
    endpoints:
      - key: ep
        reads: [ghost]
`,
			wantErr: ErrDanglingEdge,
		},
		{
			name: "dangling module dependency",
			yaml: `
version: "1"
modules:
  - key: alpha
    depends_on: [missing]
`,
			wantErr: ErrDanglingEdge,
		},
		{
			name: "duplicate table",
			yaml: `
version: "1"
modules:
  - key: alpha
    tables:
      - key: shared
  - key: beta
    tables:
      - key: shared
`,
			wantErr: ErrDuplicateNode,
		},
		{
			name: "unknown mapping relation",
			yaml: `
version: "1"
modules:
  - key: alpha
mappings:
  - from: module:alpha
    to: module:alpha
    relation: likes
`,
			wantErr: ErrInvalidRelation,
		},
		{
			name: "malformed mapping node id",
			yaml: `
version: "1"
modules:
  - key: alpha
mappings:
  - from: alpha
    to: module:alpha
    relation: depends_on
`,
			wantErr: ErrInvalidNodeID,
		},
		{
			name: "mapping to missing node",
			yaml: `
version: "1"
modules:
  - key: alpha
mappings:
  - from: module:alpha
    to: table:nowhere
    relation: reads
`,
			wantErr: ErrDanglingEdge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := Build(context.Background(), mustManifest(t, tt.yaml))
			require.Error(t, err)
			assert.Nil(t, snap)
			assert.ErrorIs(t, err, tt.wantErr)

			var buildErr *BuildError
			assert.True(t, errors.As(err, &buildErr))
		})
	}
}

func TestBuild_DanglingEdgeCarriesEdge(t *testing.T) {
	_, err := Build(context.Background(), mustManifest(t, `
version: "1"
modules:
  - key: alpha
    endpoints:
      - key: ep
        writes: [ghost]
`))
	var buildErr *BuildError
	require.True(t, errors.As(err, &buildErr))
	require.NotNil(t, buildErr.Edge)
	assert.Equal(t, "endpoint:ep", buildErr.Edge.From)
	assert.Equal(t, "table:ghost", buildErr.Edge.To)
	assert.Equal(t, RelationWrites, buildErr.Edge.Relation)
	assert.Contains(t, buildErr.Error(), "table:ghost")
}

func TestBuild_NilManifest(t *testing.T) {
	_, err := Build(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilManifest)
}

func TestSplitNodeID(t *testing.T) {
	typ, key, err := SplitNodeID("domain_object:tenant_profile")
	require.NoError(t, err)
	assert.Equal(t, EntityDomainObject, typ)
	assert.Equal(t, "tenant_profile", key)

	for _, bad := range []string{"", "module", "module:", "planet:earth"} {
		_, _, err := SplitNodeID(bad)
		assert.ErrorIs(t, err, ErrInvalidNodeID, bad)
	}
}

func TestParseEnums(t *testing.T) {
	et, err := ParseEntityType(" Table ")
	require.NoError(t, err)
	assert.Equal(t, EntityTable, et)

	_, err = ParseEntityType("service")
	assert.ErrorIs(t, err, ErrInvalidEntityType)

	rel, err := ParseRelationType("DEPENDS_ON")
	require.NoError(t, err)
	assert.Equal(t, RelationDependsOn, rel)

	_, err = ParseRelationType("imports")
	assert.ErrorIs(t, err, ErrInvalidRelation)
}
