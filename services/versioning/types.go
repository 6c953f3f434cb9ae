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
	"time"

	"github.com/AleutianAI/rewind/services/versioning/checkpoint"
	"github.com/AleutianAI/rewind/services/versioning/engine"
)

// CreateCheckpointRequest is the request for POST /v1/versioning/checkpoints.
type CreateCheckpointRequest struct {
	// ProjectRoot is the absolute path to the project root.
	ProjectRoot string `json:"project_root" binding:"required"`

	// Name is the caller-chosen checkpoint name.
	Name string `json:"name" binding:"required"`

	// Description is optional free text.
	Description string `json:"description,omitempty"`

	// IncludeFiles and ExcludeFiles filter tracked paths by
	// substring, include-over-exclude.
	IncludeFiles []string `json:"include_files,omitempty"`
	ExcludeFiles []string `json:"exclude_files,omitempty"`

	// AutoCleanup evicts the oldest checkpoints past the retention
	// limit. Default true.
	AutoCleanup *bool `json:"auto_cleanup,omitempty"`
}

// CreateCheckpointResponse is the response for checkpoint creation.
type CreateCheckpointResponse struct {
	// NoOp is true when nothing changed since the baseline and no
	// checkpoint was written.
	NoOp bool `json:"no_op"`

	CheckpointID  string    `json:"checkpoint_id,omitempty"`
	Name          string    `json:"name"`
	Timestamp     time.Time `json:"timestamp,omitempty"`
	FilesIncluded int       `json:"files_included"`
	ChangedFiles  int       `json:"changed_files"`
	TotalSize     int64     `json:"total_size,omitempty"`
}

// CheckpointSummary describes one checkpoint in list responses.
type CheckpointSummary struct {
	CheckpointID string    `json:"checkpoint_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	TotalFiles   int       `json:"total_files"`
	TotalSize    int64     `json:"total_size"`
}

// ListCheckpointsResponse is the response for GET /v1/versioning/checkpoints.
type ListCheckpointsResponse struct {
	Checkpoints []CheckpointSummary `json:"checkpoints"`
}

// CheckpointInfoResponse is the response for GET /v1/versioning/checkpoints/info.
type CheckpointInfoResponse struct {
	CheckpointSummary

	// PatchMap maps each tracked relative path to the snapshot id
	// holding its content at checkpoint time.
	PatchMap map[string]string `json:"patch_map"`
}

// DeleteCheckpointResponse is the response for checkpoint deletion.
type DeleteCheckpointResponse struct {
	CheckpointID     string `json:"checkpoint_id"`
	SnapshotsDeleted int    `json:"snapshots_deleted"`
}

// UndoRequest is the request for POST /v1/versioning/undo.
type UndoRequest struct {
	ProjectRoot string `json:"project_root" binding:"required"`

	engine.UndoOptions
}

// RollbackRequest is the request for POST /v1/versioning/rollback.
type RollbackRequest struct {
	ProjectRoot string `json:"project_root" binding:"required"`

	engine.RollbackOptions
}

// RecordOperationRequest is the request for POST /v1/versioning/operations.
type RecordOperationRequest struct {
	ProjectRoot   string `json:"project_root" binding:"required"`
	OperationType string `json:"operation_type" binding:"required"`
	RelativePath  string `json:"relative_path" binding:"required"`
	Description   string `json:"description,omitempty"`
}

// ToolsResponse is the response for GET /v1/versioning/tools.
type ToolsResponse struct {
	Tools []ToolDefinition `json:"tools"`
	Count int              `json:"count"`
}

// HealthResponse is the response for GET /v1/versioning/health.
type HealthResponse struct {
	// Status is "healthy" or "degraded".
	Status string `json:"status"`

	// Version is the service version.
	Version string `json:"version"`

	// Engines is the number of cached project engines.
	Engines int `json:"engines"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

// summaryFromCheckpoint converts a checkpoint to its list summary.
func summaryFromCheckpoint(cp *checkpoint.Checkpoint) CheckpointSummary {
	return CheckpointSummary{
		CheckpointID: cp.CheckpointID,
		Name:         cp.Name,
		Description:  cp.Description,
		Timestamp:    cp.Timestamp,
		TotalFiles:   cp.TotalFiles,
		TotalSize:    cp.TotalSize,
	}
}
