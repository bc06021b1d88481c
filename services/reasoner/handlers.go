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
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianClimate/services/reasoner/observability"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/search"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/similarity"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/strategy"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/telemetry"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/worldmodel"
)

// =============================================================================
// Collaborators
// =============================================================================

// Searcher runs hybrid searches.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// Recommender ranks peers and strategies for a tenant.
type Recommender interface {
	FindSimilar(ctx context.Context, tenantID string, f similarity.Filters, maxResults int) ([]similarity.Result, error)
	Recommend(ctx context.Context, req strategy.Request) ([]strategy.Candidate, error)
}

// SnapshotCache serves the World Model snapshot.
type SnapshotCache interface {
	Get(ctx context.Context) (*worldmodel.Snapshot, error)
	Invalidate()
	Stats() worldmodel.CacheStats
}

var (
	_ Searcher      = (*search.Reasoner)(nil)
	_ Recommender   = (*strategy.Engine)(nil)
	_ SnapshotCache = (*worldmodel.Cache)(nil)
)

// Handlers contains the HTTP handlers for the reasoner.
type Handlers struct {
	searcher        Searcher
	recommender     Recommender
	snapshots       SnapshotCache
	metrics         *observability.ReasonerMetrics
	semanticEnabled bool
}

// NewHandlers creates handlers over the given collaborators.
// metrics may be nil.
func NewHandlers(searcher Searcher, recommender Recommender, snapshots SnapshotCache, metrics *observability.ReasonerMetrics) *Handlers {
	return &Handlers{
		searcher:    searcher,
		recommender: recommender,
		snapshots:   snapshots,
		metrics:     metrics,
	}
}

// WithSemantic marks the semantic source as configured for /health.
func (h *Handlers) WithSemantic(enabled bool) *Handlers {
	h.semanticEnabled = enabled
	return h
}

var filterValidator = validator.New()

// =============================================================================
// Search
// =============================================================================

// HandleSearch handles POST /v1/search.
//
// # Description
//
// Runs the hybrid search across the requested sources. A source that fails
// or times out contributes no hits; only request validation and caller
// cancellation fail the request.
//
// # Response
//
//	200 OK: search.Response
//	400 Bad Request: INVALID_REQUEST or INVALID_FILTER
//	504 Gateway Timeout: request deadline exceeded
func (h *Handlers) HandleSearch(c *gin.Context) {
	logger := requestLogger(c, "HandleSearch")

	var req search.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  CodeInvalidRequest,
		})
		return
	}

	resp, err := h.searcher.Search(c.Request.Context(), req)
	if err != nil {
		status, code := http.StatusInternalServerError, CodeInternal
		switch {
		case errors.Is(err, search.ErrInvalidFilter):
			status, code = http.StatusBadRequest, CodeInvalidFilter
		case errors.Is(err, search.ErrInvalidRequest):
			status, code = http.StatusBadRequest, CodeInvalidRequest
		case isContextError(err):
			status, code = http.StatusGatewayTimeout, CodeTimeout
		}
		logger.Warn("Search failed", "error", err, "status", status)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	logger.Debug("Search completed",
		"total_hits", resp.TotalHits,
		"sources", resp.SourcesSearched)
	c.JSON(http.StatusOK, resp)
}

// =============================================================================
// Tenants
// =============================================================================

// HandleSimilar handles POST /v1/tenants/:tenantId/similar.
//
// # Response
//
//	200 OK: SimilarResponse
//	400 Bad Request: invalid body or filters
//	404 Not Found: TENANT_NOT_FOUND
func (h *Handlers) HandleSimilar(c *gin.Context) {
	logger := requestLogger(c, "HandleSimilar")
	tenantID := strings.TrimSpace(c.Param("tenantId"))

	var req SimilarRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    CodeInvalidRequest,
			Details: err.Error(),
		})
		return
	}
	if err := filterValidator.Struct(req.Filters); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid filters",
			Code:    CodeInvalidFilter,
			Details: err.Error(),
		})
		return
	}

	results, err := h.recommender.FindSimilar(c.Request.Context(), tenantID, req.Filters, req.MaxResults)
	if err != nil {
		status, code := tenantErrorStatus(err)
		h.recordSimilarity(metricStatus(status))
		logger.Warn("Find similar failed", "tenant_id", tenantID, "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	h.recordSimilarity(observability.StatusSuccess)
	if results == nil {
		results = []similarity.Result{}
	}
	c.JSON(http.StatusOK, SimilarResponse{
		TenantID: tenantID,
		Results:  results,
		Count:    len(results),
	})
}

// HandleStrategies handles POST /v1/tenants/:tenantId/strategies.
//
// # Response
//
//	200 OK: StrategiesResponse
//	400 Bad Request: invalid body
//	404 Not Found: TENANT_NOT_FOUND
func (h *Handlers) HandleStrategies(c *gin.Context) {
	logger := requestLogger(c, "HandleStrategies")
	tenantID := strings.TrimSpace(c.Param("tenantId"))

	var req StrategiesRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    CodeInvalidRequest,
			Details: err.Error(),
		})
		return
	}

	candidates, err := h.recommender.Recommend(c.Request.Context(), strategy.Request{
		TenantID:      tenantID,
		Tags:          req.Tags,
		MaxSimilar:    req.MaxSimilar,
		MaxStrategies: req.MaxStrategies,
	})
	if err != nil {
		status, code := tenantErrorStatus(err)
		h.recordRecommendation(metricStatus(status))
		logger.Warn("Recommend failed", "tenant_id", tenantID, "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	h.recordRecommendation(observability.StatusSuccess)
	c.JSON(http.StatusOK, StrategiesResponse{
		TenantID:   tenantID,
		Strategies: candidates,
		Count:      len(candidates),
	})
}

func tenantErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, strategy.ErrTenantNotFound):
		return http.StatusNotFound, CodeTenantNotFound
	case errors.Is(err, strategy.ErrInvalidRequest):
		return http.StatusBadRequest, CodeInvalidRequest
	case isContextError(err):
		return http.StatusGatewayTimeout, CodeTimeout
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func metricStatus(httpStatus int) string {
	if httpStatus == http.StatusNotFound {
		return observability.StatusNotFound
	}
	return observability.StatusError
}

func (h *Handlers) recordSimilarity(status string) {
	if h.metrics != nil {
		h.metrics.RecordSimilarity(status)
	}
}

func (h *Handlers) recordRecommendation(status string) {
	if h.metrics != nil {
		h.metrics.RecordRecommendation(status)
	}
}

// =============================================================================
// World Model
// =============================================================================

// HandleListNodes handles GET /v1/world/nodes.
//
// # Query Parameters
//
//	entity_type - optional entity type filter
//	module      - optional owning module key
//	tag         - optional tag
func (h *Handlers) HandleListNodes(c *gin.Context) {
	filter := worldmodel.NodeFilter{
		Module: c.Query("module"),
		Tag:    c.Query("tag"),
	}
	if raw := c.Query("entity_type"); raw != "" {
		t, err := worldmodel.ParseEntityType(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeInvalidEntityType})
			return
		}
		filter.EntityType = t
	}

	snap, ok := h.snapshot(c)
	if !ok {
		return
	}
	nodes := snap.FilterNodes(filter)
	c.JSON(http.StatusOK, NodesResponse{Nodes: nodes, Count: len(nodes)})
}

// HandleGetNode handles GET /v1/world/nodes/:entityType/:key.
func (h *Handlers) HandleGetNode(c *gin.Context) {
	snap, node, ok := h.resolveNode(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, NodeResponse{
		Node:      node,
		Neighbors: snap.GetNeighbors(node.EntityType, node.Key),
	})
}

// HandleNeighbors handles GET /v1/world/nodes/:entityType/:key/neighbors.
func (h *Handlers) HandleNeighbors(c *gin.Context) {
	snap, node, ok := h.resolveNode(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, NeighborsResponse{
		NodeID:    node.ID(),
		Neighbors: snap.GetNeighbors(node.EntityType, node.Key),
	})
}

// HandleSubgraph handles GET /v1/world/nodes/:entityType/:key/subgraph.
//
// # Query Parameters
//
//	depth     - traversal depth, 0 to worldmodel.MaxTraversalDepth (default 1)
//	relations - optional comma-separated relation types to follow
//
// # Response
//
//	200 OK: SubgraphResponse
//	400 Bad Request: INVALID_DEPTH, INVALID_RELATION or INVALID_ENTITY_TYPE
//	404 Not Found: NODE_NOT_FOUND
func (h *Handlers) HandleSubgraph(c *gin.Context) {
	depth := 1
	if raw := c.Query("depth"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "depth must be an integer",
				Code:  CodeInvalidDepth,
			})
			return
		}
		depth = d
	}
	if err := worldmodel.ValidateDepth(depth); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeInvalidDepth})
		return
	}

	relations, err := parseRelations(c.Query("relations"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeInvalidRelation})
		return
	}

	snap, node, ok := h.resolveNode(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, SubgraphResponse{
		Start:    node.ID(),
		Depth:    depth,
		Subgraph: snap.TraverseSubgraph(node.ID(), relations, depth),
	})
}

// HandleStats handles GET /v1/world/stats.
func (h *Handlers) HandleStats(c *gin.Context) {
	snap, ok := h.snapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, snap.Stats())
}

// HandleInvalidate handles POST /v1/world/invalidate.
// The next read rebuilds the snapshot from the manifest.
func (h *Handlers) HandleInvalidate(c *gin.Context) {
	h.snapshots.Invalidate()
	requestLogger(c, "HandleInvalidate").Info("World model snapshot invalidated")
	c.JSON(http.StatusAccepted, InvalidateResponse{Status: "invalidated"})
}

// HandleHealth handles GET /health. Always 200 while the process runs.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:          "healthy",
		Version:         ServiceVersion,
		Snapshot:        h.snapshots.Stats(),
		SemanticEnabled: h.semanticEnabled,
	})
}

// snapshot writes a 503 and returns false when no snapshot can be served.
func (h *Handlers) snapshot(c *gin.Context) (*worldmodel.Snapshot, bool) {
	snap, err := h.snapshots.Get(c.Request.Context())
	if err != nil {
		requestLogger(c, "snapshot").Error("World model unavailable", "error", err)
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "world model unavailable",
			Code:  CodeSnapshotUnavailable,
		})
		return nil, false
	}
	return snap, true
}

// resolveNode loads the node named by the :entityType and :key path params.
func (h *Handlers) resolveNode(c *gin.Context) (*worldmodel.Snapshot, worldmodel.Node, bool) {
	entityType, err := worldmodel.ParseEntityType(c.Param("entityType"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeInvalidEntityType})
		return nil, worldmodel.Node{}, false
	}

	snap, ok := h.snapshot(c)
	if !ok {
		return nil, worldmodel.Node{}, false
	}

	key := c.Param("key")
	node, found := snap.FindNodeByKey(entityType, key)
	if !found {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   worldmodel.ErrNodeNotFound.Error(),
			Code:    CodeNodeNotFound,
			Details: worldmodel.NodeID(entityType, key),
		})
		return nil, worldmodel.Node{}, false
	}
	return snap, node, true
}

func parseRelations(raw string) ([]worldmodel.RelationType, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []worldmodel.RelationType
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		r, err := worldmodel.ParseRelationType(part)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// =============================================================================
// Helpers
// =============================================================================

const requestIDKey = "request_id"

// getOrCreateRequestID returns the request ID for c, taking the caller's
// X-Request-ID or minting a UUID on first use, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	if requestID := c.GetString(requestIDKey); requestID != "" {
		return requestID
	}
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDKey, requestID)
	c.Header("X-Request-ID", requestID)
	return requestID
}

// requestIDMiddleware assigns every request an ID before the handlers run.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		getOrCreateRequestID(c)
		c.Next()
	}
}

func requestLogger(c *gin.Context, handler string) *slog.Logger {
	logger := slog.With("request_id", getOrCreateRequestID(c), "handler", handler)
	return telemetry.LoggerWithTrace(c.Request.Context(), logger)
}

// bindOptionalJSON binds a JSON body, treating an empty body as zero values.
func bindOptionalJSON(c *gin.Context, obj any) error {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func isContextError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
