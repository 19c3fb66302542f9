// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes registers all integrity routes with the router group.
//
// Description:
//
//	Registers the /v1/integrity/* endpoints. The group should already
//	carry any required middleware.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	GET    /v1/integrity/health - Liveness and ledger size
//	POST   /v1/integrity/check - Run an immediate integrity check
//	GET    /v1/integrity/status - Scheduler state and last report
//	POST   /v1/integrity/records - Register a subject
//	GET    /v1/integrity/records/:kind/:id - Fetch one record
//	DELETE /v1/integrity/records/:kind/:id - Unregister a subject
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	integrity := rg.Group("/integrity")
	{
		integrity.GET("/health", handlers.HandleHealth)
		integrity.POST("/check", handlers.HandleCheck)
		integrity.GET("/status", handlers.HandleStatus)

		integrity.POST("/records", handlers.HandleRegister)
		integrity.GET("/records/:kind/:id", handlers.HandleRecord)
		integrity.DELETE("/records/:kind/:id", handlers.HandleUnregister)
	}
}

// NewRouter builds the full engine: /v1 API plus /metrics.
//
// Outputs:
//
//	*gin.Engine - Ready for http.Server use.
func NewRouter(handlers *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}
