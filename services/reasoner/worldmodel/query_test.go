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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodeIDs(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID()
	}
	return out
}

// =============================================================================
// FilterNodes
// =============================================================================

func TestFilterNodes(t *testing.T) {
	snap := buildTestSnapshot(t)

	tests := []struct {
		name   string
		filter NodeFilter
		want   []string
	}{
		{
			name:   "no filter matches all",
			filter: NodeFilter{},
			want:   []string{"module:alpha", "module:beta", "table:a_table", "endpoint:a_read", "table:b_table", "workflow:b_flow"},
		},
		{
			name:   "by module",
			filter: NodeFilter{Module: "alpha"},
			want:   []string{"module:alpha", "table:a_table", "endpoint:a_read"},
		},
		{
			name:   "by tag case-insensitive",
			filter: NodeFilter{Tag: "CORE"},
			want:   []string{"module:alpha", "table:b_table"},
		},
		{
			name:   "AND-combined",
			filter: NodeFilter{EntityType: EntityTable, Module: "beta"},
			want:   []string{"table:b_table"},
		},
		{
			name:   "no match",
			filter: NodeFilter{EntityType: EntityWorkflow, Tag: "core"},
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nodeIDs(snap.FilterNodes(tt.filter)))
		})
	}
}

func TestFilterNodes_ReturnsCopies(t *testing.T) {
	snap := buildTestSnapshot(t)

	nodes := snap.FilterNodes(NodeFilter{EntityType: EntityTable, Module: "beta"})
	require.Len(t, nodes, 1)
	nodes[0].Label = "mutated"
	nodes[0].Tags[0] = "mutated"

	n, ok := snap.FindNodeByKey(EntityTable, "b_table")
	require.True(t, ok)
	assert.Equal(t, "B table", n.Label)
	assert.Equal(t, []string{"core", "data"}, n.Tags)
}

func TestNodeFilter_Validate(t *testing.T) {
	assert.NoError(t, NodeFilter{}.Validate())
	assert.NoError(t, NodeFilter{EntityType: EntityEndpoint}.Validate())
	assert.ErrorIs(t, NodeFilter{EntityType: "service"}.Validate(), ErrInvalidEntityType)
}

// =============================================================================
// FindNodeByKey / GetNeighbors
// =============================================================================

func TestFindNodeByKey_NotFound(t *testing.T) {
	snap := buildTestSnapshot(t)

	_, ok := snap.FindNodeByKey(EntityTable, "missing")
	assert.False(t, ok)

	_, ok = snap.FindNodeByKey(EntityEndpoint, "a_table")
	assert.False(t, ok, "key match requires the same entity type")
}

func TestGetNeighbors(t *testing.T) {
	snap := buildTestSnapshot(t)

	nb := snap.GetNeighbors(EntityTable, "b_table")
	assert.Empty(t, nb.Outgoing)
	assert.Equal(t, []Edge{
		{From: "module:beta", To: "table:b_table", Relation: RelationOwns, Source: SourceManifest},
		{From: "endpoint:a_read", To: "table:b_table", Relation: RelationReads, Source: SourceManifest},
		{From: "table:a_table", To: "table:b_table", Relation: RelationMapsTo, Source: SourceManual},
	}, nb.Incoming)

	nb = snap.GetNeighbors(EntityEndpoint, "a_read")
	assert.Len(t, nb.Outgoing, 2)
	assert.Len(t, nb.Incoming, 2)
}

func TestGetNeighbors_UnknownNode(t *testing.T) {
	snap := buildTestSnapshot(t)

	nb := snap.GetNeighbors(EntityModule, "ghost")
	assert.NotNil(t, nb.Outgoing)
	assert.NotNil(t, nb.Incoming)
	assert.Empty(t, nb.Outgoing)
	assert.Empty(t, nb.Incoming)
}

// =============================================================================
// TraverseSubgraph
// =============================================================================

func TestTraverseSubgraph_DepthZero(t *testing.T) {
	snap := buildTestSnapshot(t)

	for _, start := range []string{"module:alpha", "table:b_table", "workflow:b_flow"} {
		sub := snap.TraverseSubgraph(start, nil, 0)
		assert.Equal(t, []string{start}, nodeIDs(sub.Nodes))
		assert.Empty(t, sub.Edges)
		assert.Equal(t, 0, sub.DepthReached)
	}
}

func TestTraverseSubgraph_DepthOne(t *testing.T) {
	snap := buildTestSnapshot(t)

	sub := snap.TraverseSubgraph("module:alpha", nil, 1)
	assert.Equal(t, []string{"module:alpha", "table:a_table", "endpoint:a_read", "module:beta"}, nodeIDs(sub.Nodes))
	assert.Len(t, sub.Edges, 4)
	assert.Equal(t, 1, sub.DepthReached)
}

func TestTraverseSubgraph_RelationFilter(t *testing.T) {
	snap := buildTestSnapshot(t)

	t.Run("owns only", func(t *testing.T) {
		sub := snap.TraverseSubgraph("module:alpha", []RelationType{RelationOwns}, 5)
		assert.Equal(t, []string{"module:alpha", "table:a_table", "endpoint:a_read"}, nodeIDs(sub.Nodes))
		assert.Len(t, sub.Edges, 2)
		assert.Equal(t, 1, sub.DepthReached, "graph exhausted before max depth")
	})

	t.Run("reads followed against edge direction", func(t *testing.T) {
		sub := snap.TraverseSubgraph("table:b_table", []RelationType{RelationReads}, 5)
		assert.Equal(t, []string{"table:b_table", "endpoint:a_read", "table:a_table"}, nodeIDs(sub.Nodes))
		assert.Equal(t, 2, sub.DepthReached)
	})

	t.Run("no edge outside the set at any depth", func(t *testing.T) {
		allowed := map[RelationType]bool{RelationReads: true, RelationCalls: true}
		for _, n := range snap.Nodes() {
			sub := snap.TraverseSubgraph(n.ID(), []RelationType{RelationReads, RelationCalls}, MaxTraversalDepth)
			for _, e := range sub.Edges {
				assert.True(t, allowed[e.Relation], "unexpected %s from %s", e.Relation, n.ID())
			}
		}
	})
}

func TestTraverseSubgraph_NodesAppearOnce(t *testing.T) {
	snap := buildTestSnapshot(t)

	sub := snap.TraverseSubgraph("module:alpha", nil, MaxTraversalDepth)
	seen := make(map[string]bool)
	for _, id := range nodeIDs(sub.Nodes) {
		assert.False(t, seen[id], "duplicate node %s", id)
		seen[id] = true
	}
	assert.Len(t, sub.Nodes, 6)
	assert.Len(t, sub.Edges, 10)
	assert.LessOrEqual(t, sub.DepthReached, MaxTraversalDepth)
}

func TestTraverseSubgraph_MissingStart(t *testing.T) {
	snap := buildTestSnapshot(t)

	sub := snap.TraverseSubgraph("module:ghost", nil, 3)
	assert.Empty(t, sub.Nodes)
	assert.Empty(t, sub.Edges)
	assert.Equal(t, 0, sub.DepthReached)
}

func TestTraverseSubgraph_ClampsDepth(t *testing.T) {
	snap := buildTestSnapshot(t)

	assert.Equal(t, snap.TraverseSubgraph("module:alpha", nil, MaxTraversalDepth), snap.TraverseSubgraph("module:alpha", nil, 99))
	assert.Equal(t, snap.TraverseSubgraph("module:alpha", nil, 0), snap.TraverseSubgraph("module:alpha", nil, -4))
}

func TestValidateDepth(t *testing.T) {
	for d := 0; d <= MaxTraversalDepth; d++ {
		assert.NoError(t, ValidateDepth(d))
	}
	assert.ErrorIs(t, ValidateDepth(-1), ErrInvalidDepth)
	assert.ErrorIs(t, ValidateDepth(MaxTraversalDepth+1), ErrInvalidDepth)
}
