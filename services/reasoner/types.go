// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reasoner

import (
	"github.com/AleutianAI/AleutianClimate/services/reasoner/similarity"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/strategy"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/worldmodel"
)

// ServiceVersion is the reasoner service version.
const ServiceVersion = "0.1.0"

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeInvalidFilter       = "INVALID_FILTER"
	CodeInvalidEntityType   = "INVALID_ENTITY_TYPE"
	CodeInvalidRelation     = "INVALID_RELATION"
	CodeInvalidDepth        = "INVALID_DEPTH"
	CodeTenantNotFound      = "TENANT_NOT_FOUND"
	CodeNodeNotFound        = "NODE_NOT_FOUND"
	CodeSnapshotUnavailable = "SNAPSHOT_UNAVAILABLE"
	CodeTimeout             = "TIMEOUT"
	CodeInternal            = "INTERNAL_ERROR"
)

// SimilarRequest is the body of POST /v1/tenants/:tenantId/similar.
// An empty body uses default filters and limit.
type SimilarRequest struct {
	// Filters narrow the candidate pool.
	Filters similarity.Filters `json:"filters"`

	// MaxResults caps the result count. Zero uses similarity.DefaultMaxResults.
	MaxResults int `json:"max_results" binding:"gte=0,lte=100"`
}

// SimilarResponse lists peers of a tenant, best first.
type SimilarResponse struct {
	TenantID string              `json:"tenant_id"`
	Results  []similarity.Result `json:"results"`
	Count    int                 `json:"count"`
}

// StrategiesRequest is the body of POST /v1/tenants/:tenantId/strategies.
type StrategiesRequest struct {
	// Tags restrict candidates to matching categories or kind synonyms.
	Tags []string `json:"tags" binding:"omitempty,max=20,dive,max=64"`

	// MaxSimilar is the number of peers consulted. Zero uses the default.
	MaxSimilar int `json:"max_similar" binding:"gte=0,lte=100"`

	// MaxStrategies caps the result count. Zero uses the default.
	MaxStrategies int `json:"max_strategies" binding:"gte=0,lte=100"`
}

// StrategiesResponse lists recommended strategies, best first.
type StrategiesResponse struct {
	TenantID   string               `json:"tenant_id"`
	Strategies []strategy.Candidate `json:"strategies"`
	Count      int                  `json:"count"`
}

// NodesResponse lists World Model nodes.
type NodesResponse struct {
	Nodes []worldmodel.Node `json:"nodes"`
	Count int               `json:"count"`
}

// NodeResponse is a single node with its direct edges.
type NodeResponse struct {
	Node      worldmodel.Node      `json:"node"`
	Neighbors worldmodel.Neighbors `json:"neighbors"`
}

// NeighborsResponse lists the edges touching a node.
type NeighborsResponse struct {
	NodeID string `json:"node_id"`
	worldmodel.Neighbors
}

// SubgraphResponse is a bounded traversal from a node.
type SubgraphResponse struct {
	Start string `json:"start"`
	Depth int    `json:"depth"`
	worldmodel.Subgraph
}

// InvalidateResponse acknowledges a cache invalidation.
type InvalidateResponse struct {
	Status string `json:"status"`
}

// HealthResponse reports liveness and snapshot cache state.
type HealthResponse struct {
	Status          string                `json:"status"`
	Version         string                `json:"version"`
	Snapshot        worldmodel.CacheStats `json:"snapshot"`
	SemanticEnabled bool                  `json:"semantic_enabled"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code.
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}
