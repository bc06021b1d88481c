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
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes registers all reasoner routes with the router.
//
// # Description
//
// The router should already carry recovery and tracing middleware.
// metricsHandler serves /metrics; nil falls back to promhttp.Handler().
//
// # Endpoints
//
//	GET  /health
//	GET  /metrics
//	POST /v1/search
//	POST /v1/tenants/:tenantId/similar
//	POST /v1/tenants/:tenantId/strategies
//	GET  /v1/world/nodes
//	GET  /v1/world/nodes/:entityType/:key
//	GET  /v1/world/nodes/:entityType/:key/neighbors
//	GET  /v1/world/nodes/:entityType/:key/subgraph
//	GET  /v1/world/stats
//	POST /v1/world/invalidate
func RegisterRoutes(router *gin.Engine, handlers *Handlers, metricsHandler http.Handler) {
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	router.Use(requestIDMiddleware())
	router.GET("/health", handlers.HandleHealth)
	router.GET("/metrics", gin.WrapH(metricsHandler))

	v1 := router.Group("/v1")
	{
		v1.POST("/search", handlers.HandleSearch)

		tenants := v1.Group("/tenants/:tenantId")
		{
			tenants.POST("/similar", handlers.HandleSimilar)
			tenants.POST("/strategies", handlers.HandleStrategies)
		}

		world := v1.Group("/world")
		{
			world.GET("/nodes", handlers.HandleListNodes)
			world.GET("/nodes/:entityType/:key", handlers.HandleGetNode)
			world.GET("/nodes/:entityType/:key/neighbors", handlers.HandleNeighbors)
			world.GET("/nodes/:entityType/:key/subgraph", handlers.HandleSubgraph)
			world.GET("/stats", handlers.HandleStats)
			world.POST("/invalidate", handlers.HandleInvalidate)
		}
	}
}
