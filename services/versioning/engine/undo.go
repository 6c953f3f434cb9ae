// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/rewind/services/versioning/oplog"
)

// UndoOptions selects which recent operations to reverse.
type UndoOptions struct {
	// Steps is the number of operations to undo. Zero means 1.
	Steps int `json:"steps,omitempty"`

	// OperationType restricts matching to one operation type.
	OperationType string `json:"operation_type,omitempty"`

	// TargetFiles restricts matching to operations whose relative
	// path contains any of these fragments.
	TargetFiles []string `json:"target_files,omitempty"`

	// DryRun reports what would be undone without touching disk or
	// recording undo markers.
	DryRun bool `json:"dry_run,omitempty"`
}

// UndoneOperation describes one reversed operation.
type UndoneOperation struct {
	OperationID   string `json:"operation_id"`
	OperationType string `json:"operation_type"`
	RelativePath  string `json:"relative_path"`
	Description   string `json:"description,omitempty"`
	Action        string `json:"action"`
}

// UndoResult summarizes an undo run.
type UndoResult struct {
	OperationsUndone int               `json:"operations_undone"`
	FilesAffected    []string          `json:"files_affected"`
	Undone           []UndoneOperation `json:"undone"`
	DryRun           bool              `json:"dry_run"`
}

// Undo reverses the most recent matching operations.
//
// Description:
//
//	Scans the operation log newest first, skipping operations that do
//	not match the type and target filters or that already carry an
//	undo marker, and reverses up to Steps matches. Edits and deletes
//	restore the pre-operation snapshot; creates delete the created
//	file. A missing snapshot aborts the batch; operations already
//	reversed before the failure keep their undo markers.
//
// Outputs:
//
//	*UndoResult - What was (or would be) undone
//	error - ErrNothingToUndo when no operation matches, or the first
//	        reversal failure
func (e *Engine) Undo(ctx context.Context, opts UndoOptions) (*UndoResult, error) {
	ctx, span := startSpan(ctx, "Engine.Undo")
	defer span.End()
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	steps := opts.Steps
	if steps <= 0 {
		steps = 1
	}

	// Fetch more than requested so type filters and prior undo
	// markers do not starve the match set.
	window := steps * 2
	if window < 20 {
		window = 20
	}
	ops, err := e.log.OperationsSince(ctx, time.Time{}, window)
	if err != nil {
		return nil, fmt.Errorf("reading operation log: %w", err)
	}

	var matched []oplog.OperationRecord
	for _, op := range ops {
		if opts.OperationType != "" && string(op.OperationType) != opts.OperationType {
			continue
		}
		if !matchesTargets(op.RelativePath, opts.TargetFiles) {
			continue
		}
		undone, err := e.log.IsUndone(ctx, op.OperationID)
		if err != nil {
			return nil, fmt.Errorf("checking undo state for %s: %w", op.OperationID, err)
		}
		if undone {
			continue
		}
		matched = append(matched, op)
		if len(matched) == steps {
			break
		}
	}
	if len(matched) == 0 {
		return nil, ErrNothingToUndo
	}

	result := &UndoResult{DryRun: opts.DryRun}
	affected := map[string]bool{}

	for _, op := range matched {
		action, err := e.reverseOperation(ctx, op, opts.DryRun)
		if err != nil {
			recordOutcome(ctx, undoTotal, err)
			return nil, fmt.Errorf("undoing %s (%s): %w", op.OperationID, op.RelativePath, err)
		}
		if !opts.DryRun {
			if err := e.log.MarkUndone(ctx, op.OperationID); err != nil {
				slog.Warn("Failed to record undo marker",
					"operation_id", op.OperationID,
					"error", err)
			}
		}
		result.Undone = append(result.Undone, UndoneOperation{
			OperationID:   op.OperationID,
			OperationType: string(op.OperationType),
			RelativePath:  op.RelativePath,
			Description:   op.Description,
			Action:        action,
		})
		affected[op.RelativePath] = true
		slog.Info("Operation undone",
			"operation_id", op.OperationID,
			"type", op.OperationType,
			"path", op.RelativePath,
			"dry_run", opts.DryRun)
	}

	result.OperationsUndone = len(result.Undone)
	for path := range affected {
		result.FilesAffected = append(result.FilesAffected, path)
	}

	recordOutcome(ctx, undoTotal, nil)
	if !opts.DryRun {
		recordReversal(ctx, "undo", result.OperationsUndone, time.Since(start))
	}
	return result, nil
}

// reverseOperation applies the inverse of a single operation.
//
// When dryRun is set, the snapshot is still resolved so missing
// pre-state surfaces in the preview, but disk is never touched.
func (e *Engine) reverseOperation(ctx context.Context, op oplog.OperationRecord, dryRun bool) (string, error) {
	switch op.OperationType {
	case oplog.OpFileEdit, oplog.OpFileDelete, oplog.OpConfigChange:
		snap, err := e.snapshots.Find(ctx, op.RelativePath, op.OperationID)
		if err != nil {
			return "", err
		}
		if dryRun {
			return "restored_snapshot", nil
		}
		if err := e.snapshots.Restore(ctx, snap, e.absPath(op.RelativePath)); err != nil {
			return "", err
		}
		return "restored_snapshot", nil

	case oplog.OpFileCreate:
		if dryRun {
			return "deleted_file", nil
		}
		if err := os.Remove(e.absPath(op.RelativePath)); err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("removing created file: %w", err)
		}
		return "deleted_file", nil

	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedOperation, op.OperationType)
	}
}

// matchesTargets reports whether a path matches any target fragment.
// An empty target list matches everything.
func matchesTargets(relPath string, targets []string) bool {
	if len(targets) == 0 {
		return true
	}
	for _, t := range targets {
		if t != "" && strings.Contains(relPath, t) {
			return true
		}
	}
	return false
}
