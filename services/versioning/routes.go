// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package versioning

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all versioning routes with the router.
//
// Description:
//
//	Registers all /v1/versioning/* endpoints with the given Gin router
//	group. The router group should already have any required
//	middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST   /v1/versioning/checkpoints - Create a checkpoint
//	GET    /v1/versioning/checkpoints - List checkpoints
//	GET    /v1/versioning/checkpoints/info - Inspect a checkpoint by name
//	DELETE /v1/versioning/checkpoints/:name - Delete a checkpoint
//	POST   /v1/versioning/undo - Undo recent operations
//	POST   /v1/versioning/rollback - Roll back to a point in history
//	POST   /v1/versioning/operations - Record an imminent mutation
//	GET    /v1/versioning/tools - Tool definitions for agent discovery
//	GET    /v1/versioning/health - Health check
//
// Example:
//
//	service := versioning.NewService(records, versioning.DefaultServiceConfig())
//	handlers := versioning.NewHandlers(service)
//
//	v1 := router.Group("/v1")
//	versioning.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	v := rg.Group("/versioning")
	{
		// Checkpoint lifecycle
		v.POST("/checkpoints", handlers.HandleCreateCheckpoint)
		v.GET("/checkpoints", handlers.HandleListCheckpoints)
		v.GET("/checkpoints/info", handlers.HandleCheckpointInfo)
		v.DELETE("/checkpoints/:name", handlers.HandleDeleteCheckpoint)

		// History reversal
		v.POST("/undo", handlers.HandleUndo)
		v.POST("/rollback", handlers.HandleRollback)

		// Mutation bookkeeping
		v.POST("/operations", handlers.HandleRecordOperation)

		// Discovery and health
		v.GET("/tools", handlers.HandleTools)
		v.GET("/health", handlers.HandleHealth)
	}
}
