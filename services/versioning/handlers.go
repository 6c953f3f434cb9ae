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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/rewind/services/versioning/checkpoint"
	"github.com/AleutianAI/rewind/services/versioning/engine"
	"github.com/AleutianAI/rewind/services/versioning/oplog"
	"github.com/AleutianAI/rewind/services/versioning/record"
	"github.com/AleutianAI/rewind/services/versioning/snapshot"
)

// Version is the service version reported by the health endpoint.
const Version = "1.0.0"

// Handlers contains the HTTP handlers for the versioning service.
//
// Thread Safety: Handlers is safe for concurrent use.
type Handlers struct {
	svc      *Service
	registry *ToolRegistry
}

// NewHandlers creates handlers for the versioning service.
//
// Inputs:
//
//	svc - The versioning service. Must not be nil.
//
// Outputs:
//
//	*Handlers - The configured handlers
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{
		svc:      svc,
		registry: NewToolRegistry(),
	}
}

// HandleCreateCheckpoint handles POST /v1/versioning/checkpoints.
//
// Response:
//
//	200 OK: CreateCheckpointResponse (no_op true when nothing changed)
//	400 Bad Request: Validation error
//	500 Internal Server Error: Processing error
func (h *Handlers) HandleCreateCheckpoint(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleCreateCheckpoint")

	var req CreateCheckpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	eng, ok := h.engineFor(c, logger, req.ProjectRoot)
	if !ok {
		return
	}

	autoCleanup := true
	if req.AutoCleanup != nil {
		autoCleanup = *req.AutoCleanup
	}

	result, err := eng.CreateCheckpoint(c.Request.Context(), checkpoint.CreateOptions{
		Name:        req.Name,
		Description: req.Description,
		Include:     req.IncludeFiles,
		Exclude:     req.ExcludeFiles,
		AutoCleanup: autoCleanup,
	})
	if err != nil {
		respondError(c, logger, "Checkpoint creation failed", err)
		return
	}

	resp := CreateCheckpointResponse{
		NoOp:          result.NoOp,
		Name:          req.Name,
		FilesIncluded: result.FilesIncluded,
		ChangedFiles:  result.ChangedFiles,
	}
	if result.Checkpoint != nil {
		resp.CheckpointID = result.Checkpoint.CheckpointID
		resp.Timestamp = result.Checkpoint.Timestamp
		resp.TotalSize = result.Checkpoint.TotalSize
	}

	logger.Info("Checkpoint request complete",
		"name", req.Name,
		"no_op", result.NoOp,
		"changed_files", result.ChangedFiles)
	c.JSON(http.StatusOK, resp)
}

// HandleListCheckpoints handles GET /v1/versioning/checkpoints.
//
// Query Parameters:
//
//	project_root - Absolute path to the project root (required)
func (h *Handlers) HandleListCheckpoints(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleListCheckpoints")

	projectRoot, ok := requireProjectRoot(c, logger)
	if !ok {
		return
	}
	eng, ok := h.engineFor(c, logger, projectRoot)
	if !ok {
		return
	}

	checkpoints, err := eng.ListCheckpoints(c.Request.Context())
	if err != nil {
		respondError(c, logger, "Checkpoint listing failed", err)
		return
	}

	resp := ListCheckpointsResponse{Checkpoints: make([]CheckpointSummary, 0, len(checkpoints))}
	for i := range checkpoints {
		resp.Checkpoints = append(resp.Checkpoints, summaryFromCheckpoint(&checkpoints[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// HandleCheckpointInfo handles GET /v1/versioning/checkpoints/info.
//
// Query Parameters:
//
//	project_root - Absolute path to the project root (required)
//	name - Checkpoint name (required); resolves to the most recent
//	       live checkpoint with that name
func (h *Handlers) HandleCheckpointInfo(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleCheckpointInfo")

	projectRoot, ok := requireProjectRoot(c, logger)
	if !ok {
		return
	}
	name := c.Query("name")
	if name == "" {
		logger.Warn("Missing name")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "name is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}
	eng, ok := h.engineFor(c, logger, projectRoot)
	if !ok {
		return
	}

	cp, err := eng.CheckpointInfo(c.Request.Context(), name)
	if err != nil {
		respondError(c, logger, "Checkpoint lookup failed", err)
		return
	}

	c.JSON(http.StatusOK, CheckpointInfoResponse{
		CheckpointSummary: summaryFromCheckpoint(cp),
		PatchMap:          cp.PatchMap(),
	})
}

// HandleDeleteCheckpoint handles DELETE /v1/versioning/checkpoints/:name.
func (h *Handlers) HandleDeleteCheckpoint(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDeleteCheckpoint")

	projectRoot, ok := requireProjectRoot(c, logger)
	if !ok {
		return
	}
	eng, ok := h.engineFor(c, logger, projectRoot)
	if !ok {
		return
	}

	result, err := eng.DeleteCheckpoint(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, logger, "Checkpoint deletion failed", err)
		return
	}

	logger.Info("Checkpoint deleted",
		"checkpoint_id", result.CheckpointID,
		"snapshots_deleted", result.SnapshotsDeleted)
	c.JSON(http.StatusOK, DeleteCheckpointResponse{
		CheckpointID:     result.CheckpointID,
		SnapshotsDeleted: result.SnapshotsDeleted,
	})
}

// HandleUndo handles POST /v1/versioning/undo.
//
// Response:
//
//	200 OK: engine.UndoResult
//	404 Not Found: No matching operation to undo
//	409 Conflict: Pre-operation snapshot is missing
func (h *Handlers) HandleUndo(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleUndo")

	var req UndoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	eng, ok := h.engineFor(c, logger, req.ProjectRoot)
	if !ok {
		return
	}

	result, err := eng.Undo(c.Request.Context(), req.UndoOptions)
	if err != nil {
		respondError(c, logger, "Undo failed", err)
		return
	}

	logger.Info("Undo complete",
		"operations_undone", result.OperationsUndone,
		"dry_run", result.DryRun)
	c.JSON(http.StatusOK, result)
}

// HandleRollback handles POST /v1/versioning/rollback.
//
// Response:
//
//	200 OK: engine.RollbackResult (preview true returns impact only)
//	400 Bad Request: Invalid target or scope
//	404 Not Found: Target checkpoint or operation not found
func (h *Handlers) HandleRollback(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRollback")

	var req RollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	eng, ok := h.engineFor(c, logger, req.ProjectRoot)
	if !ok {
		return
	}

	result, err := eng.Rollback(c.Request.Context(), req.RollbackOptions)
	if err != nil {
		respondError(c, logger, "Rollback failed", err)
		return
	}

	logger.Info("Rollback complete",
		"preview", result.Preview,
		"operations_reversed", result.OperationsReversed,
		"files_restored", result.FilesRestored,
		"errors", len(result.Errors))
	c.JSON(http.StatusOK, result)
}

// HandleRecordOperation handles POST /v1/versioning/operations.
//
// Description:
//
//	Called by mutating tools immediately before changing a file. The
//	engine records the operation and, for edits, deletes, and config
//	changes, captures the pre-mutation snapshot. Callers must abort
//	their mutation when this endpoint fails.
func (h *Handlers) HandleRecordOperation(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRecordOperation")

	var req RecordOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	eng, ok := h.engineFor(c, logger, req.ProjectRoot)
	if !ok {
		return
	}

	receipt, err := eng.RecordMutation(c.Request.Context(),
		oplog.OperationType(req.OperationType), req.RelativePath, req.Description)
	if err != nil {
		respondError(c, logger, "Operation recording failed", err)
		return
	}

	c.JSON(http.StatusOK, receipt)
}

// HandleTools handles GET /v1/versioning/tools.
func (h *Handlers) HandleTools(c *gin.Context) {
	tools := h.registry.GetTools()
	c.JSON(http.StatusOK, ToolsResponse{
		Tools: tools,
		Count: len(tools),
	})
}

// HandleHealth handles GET /v1/versioning/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: Version,
		Engines: h.svc.EngineCount(),
	})
}

// engineFor resolves the engine for a project root or writes the
// error response.
func (h *Handlers) engineFor(c *gin.Context, logger *slog.Logger, projectRoot string) (*engine.Engine, bool) {
	eng, err := h.svc.EngineFor(projectRoot)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errCode := "ENGINE_ERROR"

		if errors.Is(err, ErrRelativePath) || errors.Is(err, ErrPathTraversal) {
			statusCode = http.StatusBadRequest
			errCode = "INVALID_PROJECT_ROOT"
		} else if errors.Is(err, ErrRootNotAllowed) {
			statusCode = http.StatusForbidden
			errCode = "ROOT_NOT_ALLOWED"
		}

		logger.Warn("Engine resolution failed", "project_root", projectRoot, "error", err)
		c.JSON(statusCode, ErrorResponse{
			Error: err.Error(),
			Code:  errCode,
		})
		return nil, false
	}
	return eng, true
}

// respondError maps engine errors onto HTTP status codes.
func respondError(c *gin.Context, logger *slog.Logger, msg string, err error) {
	statusCode := http.StatusInternalServerError
	errCode := "VERSIONING_ERROR"

	switch {
	case errors.Is(err, checkpoint.ErrCheckpointNotFound),
		errors.Is(err, oplog.ErrOperationNotFound),
		errors.Is(err, record.ErrNotFound):
		statusCode = http.StatusNotFound
		errCode = "NOT_FOUND"
	case errors.Is(err, engine.ErrNothingToUndo):
		statusCode = http.StatusNotFound
		errCode = "NOTHING_TO_UNDO"
	case errors.Is(err, snapshot.ErrSnapshotMissing):
		statusCode = http.StatusConflict
		errCode = "SNAPSHOT_MISSING"
	case errors.Is(err, engine.ErrInvalidTarget),
		errors.Is(err, oplog.ErrInvalidOperationType),
		errors.Is(err, checkpoint.ErrEmptyName):
		statusCode = http.StatusBadRequest
		errCode = "INVALID_REQUEST"
	}

	logger.Error(msg, "error", err)
	c.JSON(statusCode, ErrorResponse{
		Error: err.Error(),
		Code:  errCode,
	})
}

// requireProjectRoot reads the project_root query parameter.
func requireProjectRoot(c *gin.Context, logger *slog.Logger) (string, bool) {
	projectRoot := c.Query("project_root")
	if projectRoot == "" {
		logger.Warn("Missing project_root")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "project_root is required",
			Code:  "MISSING_PARAMETER",
		})
		return "", false
	}
	return projectRoot, true
}

// getOrCreateRequestID returns the request ID, generating one when
// the client did not send X-Request-ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
