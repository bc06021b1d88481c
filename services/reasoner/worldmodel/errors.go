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
	"errors"
	"fmt"
)

// Sentinel errors for world model operations.
var (
	// ErrDanglingEdge is returned when an edge endpoint does not resolve to a
	// node in the same snapshot. This is a manifest bug, not a runtime condition.
	ErrDanglingEdge = errors.New("edge references a non-existent node")

	// ErrDuplicateNode is returned when two manifest records share an entity type and key.
	ErrDuplicateNode = errors.New("duplicate node")

	// ErrInvalidNodeID is returned when a node ID is not of the form "entity_type:key".
	ErrInvalidNodeID = errors.New("invalid node id")

	// ErrInvalidEntityType is returned for an entity type outside the closed set.
	ErrInvalidEntityType = errors.New("invalid entity type")

	// ErrInvalidRelation is returned for a relation type outside the closed set.
	ErrInvalidRelation = errors.New("invalid relation type")

	// ErrInvalidDepth is returned when a traversal depth is outside [0, MaxTraversalDepth].
	ErrInvalidDepth = errors.New("invalid traversal depth")

	// ErrNodeNotFound is returned by callers that look up a node absent from the snapshot.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNilManifest is returned when Build is called without a manifest.
	ErrNilManifest = errors.New("manifest must not be nil")
)

// BuildError describes why a snapshot could not be built.
//
// Err is always one of the sentinel errors above so callers can use errors.Is.
type BuildError struct {
	// NodeID is the offending node, when the failure concerns a node.
	NodeID string

	// Edge is the offending edge, when the failure concerns an edge.
	Edge *Edge

	Err error
}

// Error implements error.
func (e *BuildError) Error() string {
	switch {
	case e.Edge != nil:
		return fmt.Sprintf("world model build: %v: %s -[%s]-> %s (%s)",
			e.Err, e.Edge.From, e.Edge.Relation, e.Edge.To, e.Edge.Source)
	case e.NodeID != "":
		return fmt.Sprintf("world model build: %v: %s", e.Err, e.NodeID)
	default:
		return fmt.Sprintf("world model build: %v", e.Err)
	}
}

// Unwrap returns the underlying sentinel error.
func (e *BuildError) Unwrap() error {
	return e.Err
}
