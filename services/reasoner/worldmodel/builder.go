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
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianClimate/services/reasoner/manifest"
)

// builder accumulates nodes and edges for a single Build call.
type builder struct {
	nodes []Node
	edges []Edge
	byID  map[string]int

	// edgeKeys dedupes (from, relation, to) triples across sources.
	edgeKeys map[string]struct{}

	// tableOwner maps a table key to the module that owns it.
	tableOwner map[string]string
}

func edgeKey(from string, rel RelationType, to string) string {
	return from + "|" + string(rel) + "|" + to
}

// Build converts a manifest into an immutable Snapshot.
//
// # Description
//
// Creates one node per manifest record, then edges in this order:
//
//  1. owns: module -> each member (source manifest)
//  2. depends_on between modules, reads/writes from endpoints to tables,
//     calls from workflows to endpoints, maps_to from domain objects to
//     tables (source manifest)
//  3. mappings listed in the manifest (source manual)
//  4. depends_on from module A to module B whenever an endpoint of A reads
//     or writes a table owned by B and no depends_on edge already exists
//     (source inferred)
//
// The first occurrence of an identical (from, relation, to) triple wins.
//
// # Inputs
//
//   - ctx: Context for tracing. Must not be nil.
//   - m: Parsed manifest. Must not be nil.
//
// # Outputs
//
//   - *Snapshot: The built graph. Node identity and edge validity are
//     deterministic for a given manifest.
//   - error: *BuildError wrapping ErrDuplicateNode, ErrDanglingEdge,
//     ErrInvalidNodeID or ErrInvalidRelation. Any error means no snapshot.
func Build(ctx context.Context, m *manifest.Manifest) (*Snapshot, error) {
	if m == nil {
		return nil, ErrNilManifest
	}

	start := time.Now()
	ctx, span := startBuildSpan(ctx, m.ModuleCount())
	defer span.End()

	snap, err := build(m)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordBuildMetrics(ctx, time.Since(start), 0, 0, false)
		return nil, err
	}

	setBuildSpanResult(span, len(snap.nodes), len(snap.edges))
	recordBuildMetrics(ctx, time.Since(start), len(snap.nodes), len(snap.edges), true)

	slog.Debug("world model built",
		"nodes", len(snap.nodes),
		"edges", len(snap.edges),
		"manifest_digest", snap.digest,
		"duration", time.Since(start),
	)
	return snap, nil
}

func build(m *manifest.Manifest) (*Snapshot, error) {
	b := &builder{
		byID:       make(map[string]int),
		edgeKeys:   make(map[string]struct{}),
		tableOwner: make(map[string]string),
	}

	if err := b.addNodes(m); err != nil {
		return nil, err
	}
	b.addManifestEdges(m)
	if err := b.addMappings(m); err != nil {
		return nil, err
	}
	b.addInferredEdges(m)

	snap := &Snapshot{
		nodes:    b.nodes,
		edges:    b.edges,
		byID:     b.byID,
		outgoing: make(map[string][]int, len(b.nodes)),
		incoming: make(map[string][]int, len(b.nodes)),
		builtAt:  time.Now(),
		digest:   m.Digest(),
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	for i, e := range snap.edges {
		snap.outgoing[e.From] = append(snap.outgoing[e.From], i)
		snap.incoming[e.To] = append(snap.incoming[e.To], i)
	}
	return snap, nil
}

func (b *builder) addNode(t EntityType, module string, e manifest.Entity) error {
	n := Node{
		EntityType:  t,
		Key:         e.Key,
		Label:       e.Label,
		Description: e.Description,
		Module:      module,
		Tags:        normalizeTags(e.Tags),
	}
	if n.Label == "" {
		n.Label = n.Key
	}
	id := n.ID()
	if _, exists := b.byID[id]; exists {
		return &BuildError{NodeID: id, Err: ErrDuplicateNode}
	}
	b.byID[id] = len(b.nodes)
	b.nodes = append(b.nodes, n)
	return nil
}

func (b *builder) addNodes(m *manifest.Manifest) error {
	for _, mod := range m.Modules {
		if err := b.addNode(EntityModule, mod.Key, mod.Entity); err != nil {
			return err
		}
	}
	for _, mod := range m.Modules {
		for _, t := range mod.Tables {
			if err := b.addNode(EntityTable, mod.Key, t.Entity); err != nil {
				return err
			}
			b.tableOwner[t.Key] = mod.Key
		}
		for _, ep := range mod.Endpoints {
			if err := b.addNode(EntityEndpoint, mod.Key, ep.Entity); err != nil {
				return err
			}
		}
		for _, w := range mod.Workflows {
			if err := b.addNode(EntityWorkflow, mod.Key, w.Entity); err != nil {
				return err
			}
		}
		for _, d := range mod.DomainObjects {
			if err := b.addNode(EntityDomainObject, mod.Key, d.Entity); err != nil {
				return err
			}
		}
	}
	return nil
}

// addEdge appends an edge unless the same triple already exists.
// Endpoint existence is checked once, by Snapshot.Validate.
func (b *builder) addEdge(from string, rel RelationType, to string, src EdgeSource) {
	k := edgeKey(from, rel, to)
	if _, ok := b.edgeKeys[k]; ok {
		return
	}
	b.edgeKeys[k] = struct{}{}
	b.edges = append(b.edges, Edge{From: from, To: to, Relation: rel, Source: src})
}

func (b *builder) addManifestEdges(m *manifest.Manifest) {
	for _, mod := range m.Modules {
		modID := NodeID(EntityModule, mod.Key)
		for _, t := range mod.Tables {
			b.addEdge(modID, RelationOwns, NodeID(EntityTable, t.Key), SourceManifest)
		}
		for _, ep := range mod.Endpoints {
			b.addEdge(modID, RelationOwns, NodeID(EntityEndpoint, ep.Key), SourceManifest)
		}
		for _, w := range mod.Workflows {
			b.addEdge(modID, RelationOwns, NodeID(EntityWorkflow, w.Key), SourceManifest)
		}
		for _, d := range mod.DomainObjects {
			b.addEdge(modID, RelationOwns, NodeID(EntityDomainObject, d.Key), SourceManifest)
		}
	}

	for _, mod := range m.Modules {
		modID := NodeID(EntityModule, mod.Key)
		for _, dep := range mod.DependsOn {
			b.addEdge(modID, RelationDependsOn, NodeID(EntityModule, dep), SourceManifest)
		}
		for _, ep := range mod.Endpoints {
			epID := NodeID(EntityEndpoint, ep.Key)
			for _, t := range ep.Reads {
				b.addEdge(epID, RelationReads, NodeID(EntityTable, t), SourceManifest)
			}
			for _, t := range ep.Writes {
				b.addEdge(epID, RelationWrites, NodeID(EntityTable, t), SourceManifest)
			}
		}
		for _, w := range mod.Workflows {
			wID := NodeID(EntityWorkflow, w.Key)
			for _, ep := range w.Calls {
				b.addEdge(wID, RelationCalls, NodeID(EntityEndpoint, ep), SourceManifest)
			}
		}
		for _, d := range mod.DomainObjects {
			dID := NodeID(EntityDomainObject, d.Key)
			for _, t := range d.MapsTo {
				b.addEdge(dID, RelationMapsTo, NodeID(EntityTable, t), SourceManifest)
			}
		}
	}
}

func (b *builder) addMappings(m *manifest.Manifest) error {
	for _, mp := range m.Mappings {
		rel, err := ParseRelationType(mp.Relation)
		if err != nil {
			return &BuildError{Edge: &Edge{From: mp.From, To: mp.To, Relation: RelationType(mp.Relation), Source: SourceManual}, Err: ErrInvalidRelation}
		}
		for _, id := range []string{mp.From, mp.To} {
			if _, _, err := SplitNodeID(id); err != nil {
				return &BuildError{NodeID: id, Err: ErrInvalidNodeID}
			}
		}
		b.addEdge(mp.From, rel, mp.To, SourceManual)
	}
	return nil
}

func (b *builder) addInferredEdges(m *manifest.Manifest) {
	for _, mod := range m.Modules {
		modID := NodeID(EntityModule, mod.Key)
		for _, ep := range mod.Endpoints {
			tables := append(append([]string(nil), ep.Reads...), ep.Writes...)
			for _, t := range tables {
				owner, ok := b.tableOwner[t]
				if !ok || owner == mod.Key {
					continue
				}
				b.addEdge(modID, RelationDependsOn, NodeID(EntityModule, owner), SourceInferred)
			}
		}
	}
}
