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
	"fmt"
	"strings"
	"time"
)

// MaxTraversalDepth is the deepest TraverseSubgraph will walk.
const MaxTraversalDepth = 5

// =============================================================================
// FilterNodes
// =============================================================================

// NodeFilter selects nodes. Zero-valued fields match everything; set fields
// are AND-combined.
type NodeFilter struct {
	EntityType EntityType
	Module     string
	Tag        string
}

// Validate rejects an unknown entity type.
func (f NodeFilter) Validate() error {
	if f.EntityType != "" && !f.EntityType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidEntityType, f.EntityType)
	}
	return nil
}

// Matches reports whether n passes every set predicate.
func (f NodeFilter) Matches(n Node) bool {
	if f.EntityType != "" && n.EntityType != f.EntityType {
		return false
	}
	if f.Module != "" && !strings.EqualFold(n.Module, f.Module) {
		return false
	}
	if f.Tag != "" && !n.HasTag(f.Tag) {
		return false
	}
	return true
}

// FilterNodes returns a new slice of the nodes matching f, in build order.
func (s *Snapshot) FilterNodes(f NodeFilter) []Node {
	out := make([]Node, 0)
	for _, n := range s.nodes {
		if f.Matches(n) {
			out = append(out, n.clone())
		}
	}
	return out
}

// =============================================================================
// FindNodeByKey
// =============================================================================

// FindNodeByKey returns the node with an exact (entityType, key) match.
// A missing node is reported through the boolean, never as an error.
func (s *Snapshot) FindNodeByKey(entityType EntityType, key string) (Node, bool) {
	return s.Node(NodeID(entityType, key))
}

// =============================================================================
// GetNeighbors
// =============================================================================

// Neighbors partitions the one-hop edges of a node by direction.
type Neighbors struct {
	Outgoing []Edge `json:"outgoing"`
	Incoming []Edge `json:"incoming"`
}

// GetNeighbors returns the edges leaving and entering a node.
// An unknown node yields empty, non-nil slices.
func (s *Snapshot) GetNeighbors(entityType EntityType, key string) Neighbors {
	id := NodeID(entityType, key)
	out := Neighbors{
		Outgoing: make([]Edge, 0, len(s.outgoing[id])),
		Incoming: make([]Edge, 0, len(s.incoming[id])),
	}
	for _, i := range s.outgoing[id] {
		out.Outgoing = append(out.Outgoing, s.edges[i])
	}
	for _, i := range s.incoming[id] {
		out.Incoming = append(out.Incoming, s.edges[i])
	}
	return out
}

// =============================================================================
// TraverseSubgraph
// =============================================================================

// Subgraph is the result of a breadth-first traversal.
type Subgraph struct {
	Nodes        []Node `json:"nodes"`
	Edges        []Edge `json:"edges"`
	DepthReached int    `json:"depth_reached"`
}

// ValidateDepth rejects a traversal depth outside [0, MaxTraversalDepth].
// Boundaries (HTTP, CLI) call this before TraverseSubgraph.
func ValidateDepth(depth int) error {
	if depth < 0 || depth > MaxTraversalDepth {
		return fmt.Errorf("%w: %d (allowed 0-%d)", ErrInvalidDepth, depth, MaxTraversalDepth)
	}
	return nil
}

// ClampDepth bounds depth to [0, MaxTraversalDepth].
func ClampDepth(depth int) int {
	if depth < 0 {
		return 0
	}
	if depth > MaxTraversalDepth {
		return MaxTraversalDepth
	}
	return depth
}

// TraverseSubgraph walks the graph breadth-first from a start node.
//
// # Description
//
// Edges are followed in both directions. When relations is non-empty only
// edges of those relation types are followed, in either direction. Each
// node appears once, at the depth it was first reached. An edge is included
// when it is examined from a node shallower than maxDepth, so a depth-0
// traversal returns the start node alone with no edges.
//
// # Inputs
//
//   - start: Node identity "entity_type:key".
//   - relations: Optional relation filter.
//   - maxDepth: Clamped to [0, MaxTraversalDepth]. Validate at the boundary
//     with ValidateDepth.
//
// # Outputs
//
//   - Subgraph: Visited nodes in BFS order, the followed edges, and the
//     deepest level actually reached. Empty when start does not exist.
func (s *Snapshot) TraverseSubgraph(start string, relations []RelationType, maxDepth int) Subgraph {
	startTime := time.Now()
	result := Subgraph{Nodes: make([]Node, 0), Edges: make([]Edge, 0)}

	if _, ok := s.byID[start]; !ok {
		return result
	}
	maxDepth = ClampDepth(maxDepth)

	var allowed map[RelationType]bool
	if len(relations) > 0 {
		allowed = make(map[RelationType]bool, len(relations))
		for _, r := range relations {
			allowed[r] = true
		}
	}

	type queueItem struct {
		nodeID string
		depth  int
	}
	visited := map[string]bool{start: true}
	seenEdges := make(map[int]bool)
	queue := []queueItem{{start, 0}}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		result.Nodes = append(result.Nodes, s.nodes[s.byID[item.nodeID]].clone())
		if item.depth > result.DepthReached {
			result.DepthReached = item.depth
		}
		if item.depth >= maxDepth {
			continue
		}

		visit := func(edgeIdx int, next string) {
			e := s.edges[edgeIdx]
			if allowed != nil && !allowed[e.Relation] {
				return
			}
			if !seenEdges[edgeIdx] {
				seenEdges[edgeIdx] = true
				result.Edges = append(result.Edges, e)
			}
			if visited[next] {
				return
			}
			visited[next] = true
			queue = append(queue, queueItem{next, item.depth + 1})
		}
		for _, i := range s.outgoing[item.nodeID] {
			visit(i, s.edges[i].To)
		}
		for _, i := range s.incoming[item.nodeID] {
			visit(i, s.edges[i].From)
		}
	}

	recordQueryMetrics("traverse_subgraph", time.Since(startTime))
	return result
}

// =============================================================================
// Stats
// =============================================================================

// Stats summarizes a snapshot.
type Stats struct {
	Nodes          int            `json:"nodes"`
	Edges          int            `json:"edges"`
	ByEntityType   map[string]int `json:"by_entity_type"`
	ByRelation     map[string]int `json:"by_relation"`
	BySource       map[string]int `json:"by_source"`
	BuiltAt        time.Time      `json:"built_at"`
	ManifestDigest string         `json:"manifest_digest"`
}

// Stats counts nodes by entity type and edges by relation and source.
func (s *Snapshot) Stats() Stats {
	st := Stats{
		Nodes:          len(s.nodes),
		Edges:          len(s.edges),
		ByEntityType:   make(map[string]int),
		ByRelation:     make(map[string]int),
		BySource:       make(map[string]int),
		BuiltAt:        s.builtAt,
		ManifestDigest: s.digest,
	}
	for _, n := range s.nodes {
		st.ByEntityType[string(n.EntityType)]++
	}
	for _, e := range s.edges {
		st.ByRelation[string(e.Relation)]++
		st.BySource[string(e.Source)]++
	}
	return st
}
