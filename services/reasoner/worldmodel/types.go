// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package worldmodel builds and queries the platform's World Model: a directed
// graph of modules, tables, endpoints, workflows and domain objects derived
// from the system manifest.
//
// # Ownership Model
//
// A Snapshot is immutable once Build returns it. Every accessor returns
// copies, so callers may freely modify what they receive without affecting
// other readers. A rebuild produces a whole new Snapshot; nothing is patched
// in place.
//
// # Thread Safety
//
// Snapshot is safe for concurrent reads. Cache is safe for concurrent use and
// is the only mutable state in this package.
//
// # Lifecycle
//
//  1. Load a manifest (package manifest)
//  2. Build a Snapshot, or let a Cache build and memoize it
//  3. Query with FilterNodes, FindNodeByKey, GetNeighbors, TraverseSubgraph
package worldmodel

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// Enums
// =============================================================================

// EntityType is the kind of a node.
type EntityType string

const (
	EntityModule       EntityType = "module"
	EntityTable        EntityType = "table"
	EntityEndpoint     EntityType = "endpoint"
	EntityWorkflow     EntityType = "workflow"
	EntityDomainObject EntityType = "domain_object"
)

// EntityTypes lists every valid entity type in a stable order.
var EntityTypes = []EntityType{EntityModule, EntityTable, EntityEndpoint, EntityWorkflow, EntityDomainObject}

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityModule, EntityTable, EntityEndpoint, EntityWorkflow, EntityDomainObject:
		return true
	}
	return false
}

// ParseEntityType validates and converts a raw entity type string.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidEntityType, s)
	}
	return t, nil
}

// RelationType is the kind of an edge.
type RelationType string

const (
	RelationDependsOn RelationType = "depends_on"
	RelationCalls     RelationType = "calls"
	RelationReads     RelationType = "reads"
	RelationWrites    RelationType = "writes"
	RelationMapsTo    RelationType = "maps_to"
	RelationOwns      RelationType = "owns"
)

// RelationTypes lists every valid relation type in a stable order.
var RelationTypes = []RelationType{RelationDependsOn, RelationCalls, RelationReads, RelationWrites, RelationMapsTo, RelationOwns}

// Valid reports whether r is a known relation type.
func (r RelationType) Valid() bool {
	switch r {
	case RelationDependsOn, RelationCalls, RelationReads, RelationWrites, RelationMapsTo, RelationOwns:
		return true
	}
	return false
}

// ParseRelationType validates and converts a raw relation type string.
func ParseRelationType(s string) (RelationType, error) {
	r := RelationType(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRelation, s)
	}
	return r, nil
}

// EdgeSource records where an edge came from.
type EdgeSource string

const (
	// SourceManifest edges follow from nesting and references in the manifest.
	SourceManifest EdgeSource = "manifest"

	// SourceManual edges are listed explicitly under manifest mappings.
	SourceManual EdgeSource = "manual"

	// SourceInferred edges are derived from cross-module table access.
	SourceInferred EdgeSource = "inferred"
)

// =============================================================================
// Node and Edge
// =============================================================================

// Node is a single entity in the World Model.
//
// Identity is the (EntityType, Key) pair, formatted by ID as "entity_type:key".
type Node struct {
	EntityType  EntityType `json:"entity_type"`
	Key         string     `json:"key"`
	Label       string     `json:"label"`
	Description string     `json:"description,omitempty"`
	Module      string     `json:"module"`
	Tags        []string   `json:"tags"`
}

// ID returns the node identity "entity_type:key".
func (n Node) ID() string {
	return NodeID(n.EntityType, n.Key)
}

// HasTag reports whether the node carries tag (case-insensitive).
func (n Node) HasTag(tag string) bool {
	for _, t := range n.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

func (n Node) clone() Node {
	n.Tags = append([]string(nil), n.Tags...)
	return n
}

// Edge is a directed relation between two nodes.
type Edge struct {
	From     string       `json:"from_node_id"`
	To       string       `json:"to_node_id"`
	Relation RelationType `json:"relation_type"`
	Source   EdgeSource   `json:"source"`
}

// NodeID formats a node identity.
func NodeID(t EntityType, key string) string {
	return string(t) + ":" + key
}

// SplitNodeID parses "entity_type:key" into its parts.
func SplitNodeID(id string) (EntityType, string, error) {
	typ, key, ok := strings.Cut(id, ":")
	if !ok || key == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidNodeID, id)
	}
	t, err := ParseEntityType(typ)
	if err != nil {
		return "", "", fmt.Errorf("%w: %q: %v", ErrInvalidNodeID, id, err)
	}
	return t, key, nil
}

// normalizeTags lowercases, dedupes and sorts tags so a node's tags behave as a set.
func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot is an immutable point-in-time build of the World Model.
type Snapshot struct {
	nodes    []Node
	edges    []Edge
	byID     map[string]int
	outgoing map[string][]int
	incoming map[string][]int

	builtAt time.Time
	digest  string
}

// NodeCount returns the number of nodes.
func (s *Snapshot) NodeCount() int { return len(s.nodes) }

// EdgeCount returns the number of edges.
func (s *Snapshot) EdgeCount() int { return len(s.edges) }

// BuiltAt returns when the snapshot was built.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// ManifestDigest returns the digest of the manifest the snapshot was built from.
func (s *Snapshot) ManifestDigest() string { return s.digest }

// Nodes returns a copy of every node in build order.
func (s *Snapshot) Nodes() []Node {
	out := make([]Node, len(s.nodes))
	for i, n := range s.nodes {
		out[i] = n.clone()
	}
	return out
}

// Edges returns a copy of every edge in build order.
func (s *Snapshot) Edges() []Edge {
	return append([]Edge(nil), s.edges...)
}

// Node returns the node with the given ID.
func (s *Snapshot) Node(id string) (Node, bool) {
	idx, ok := s.byID[id]
	if !ok {
		return Node{}, false
	}
	return s.nodes[idx].clone(), true
}

// HasNode reports whether id resolves in this snapshot.
func (s *Snapshot) HasNode(id string) bool {
	_, ok := s.byID[id]
	return ok
}

// Validate re-checks the build invariant: every edge endpoint resolves.
func (s *Snapshot) Validate() error {
	for i := range s.edges {
		e := s.edges[i]
		if !s.HasNode(e.From) || !s.HasNode(e.To) {
			return &BuildError{Edge: &e, Err: ErrDanglingEdge}
		}
	}
	return nil
}
