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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/AleutianAI/rewind/services/versioning/checkpoint"
	"github.com/AleutianAI/rewind/services/versioning/oplog"
	"github.com/AleutianAI/rewind/services/versioning/record"
)

// RollbackTarget names the point in history to roll back to. Exactly
// one field must be set.
type RollbackTarget struct {
	CheckpointID   string `json:"checkpoint_id,omitempty"`
	CheckpointName string `json:"checkpoint_name,omitempty"`

	// Timestamp is RFC 3339 or Unix epoch seconds. When no operation
	// sits exactly at the timestamp, the nearest operation by
	// absolute time distance anchors the rollback point.
	Timestamp string `json:"timestamp,omitempty"`

	OperationID string `json:"operation_id,omitempty"`
}

// RollbackOptions configures a rollback.
type RollbackOptions struct {
	Target RollbackTarget `json:"target"`

	// Scope limits what the rollback touches: "all" (default)
	// reverses operations and restores checkpoint state, "operations"
	// reverses logged operations only, "files" restores checkpoint
	// file state only.
	Scope string `json:"scope,omitempty"`

	// IncludeFiles and ExcludeFiles filter affected paths by
	// substring, include-over-exclude.
	IncludeFiles []string `json:"include_files,omitempty"`
	ExcludeFiles []string `json:"exclude_files,omitempty"`

	// Preview computes the impact without changing anything.
	Preview bool `json:"preview,omitempty"`

	// CreateBackup records an audit marker of the pre-rollback state
	// before reversal begins.
	CreateBackup bool `json:"create_backup,omitempty"`
}

// Rollback scopes.
const (
	ScopeAll        = "all"
	ScopeOperations = "operations"
	ScopeFiles      = "files"
)

// RollbackImpact estimates the blast radius of a rollback.
type RollbackImpact struct {
	TargetTime     time.Time `json:"target_time"`
	CheckpointID   string    `json:"checkpoint_id,omitempty"`
	OperationCount int       `json:"operation_count"`
	AffectedFiles  []string  `json:"affected_files"`
	Risk           string    `json:"risk"`
}

// RollbackItem reports the outcome of one reversal attempt.
type RollbackItem struct {
	OperationID  string `json:"operation_id"`
	RelativePath string `json:"relative_path"`
	Outcome      string `json:"outcome"`
	Error        string `json:"error,omitempty"`
}

// RollbackResult summarizes a rollback run.
type RollbackResult struct {
	Preview            bool           `json:"preview"`
	Impact             RollbackImpact `json:"impact"`
	OperationsReversed int            `json:"operations_reversed"`
	FilesRestored      int            `json:"files_restored"`
	Items              []RollbackItem `json:"items,omitempty"`
	Errors             []string       `json:"errors,omitempty"`
}

// Rollback restores project state to a named point in history.
//
// Description:
//
//	Resolves the target to a point in time (and optionally a
//	checkpoint), then reverses every logged operation newer than that
//	point, newest first, and finally restores checkpoint-tracked
//	files that are missing from disk. Unlike Undo, reversal is
//	best-effort: individual failures are recorded and the run
//	continues, so a single missing snapshot cannot strand the
//	remaining history.
func (e *Engine) Rollback(ctx context.Context, opts RollbackOptions) (*RollbackResult, error) {
	ctx, span := startSpan(ctx, "Engine.Rollback")
	defer span.End()
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	scope := opts.Scope
	if scope == "" {
		scope = ScopeAll
	}
	if scope != ScopeAll && scope != ScopeOperations && scope != ScopeFiles {
		return nil, fmt.Errorf("%w: unknown scope %q", ErrInvalidTarget, scope)
	}

	targetTime, cp, err := e.resolveTarget(ctx, opts.Target)
	if err != nil {
		return nil, err
	}

	ops, err := e.log.OperationsSince(ctx, targetTime, 0)
	if err != nil {
		return nil, fmt.Errorf("reading operation log: %w", err)
	}
	ops = filterOperations(ops, opts.IncludeFiles, opts.ExcludeFiles)

	result := &RollbackResult{
		Preview: opts.Preview,
		Impact:  buildImpact(targetTime, cp, ops),
	}
	if opts.Preview {
		return result, nil
	}

	if opts.CreateBackup {
		if err := e.recordRollbackBackup(ctx, opts.Target, targetTime, ops); err != nil {
			slog.Warn("Failed to record rollback backup marker", "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("backup marker: %v", err))
		}
	}

	if scope == ScopeAll || scope == ScopeOperations {
		e.reverseAll(ctx, ops, result)
	}

	if cp != nil && (scope == ScopeAll || scope == ScopeFiles) {
		e.restoreMissing(ctx, cp, opts.IncludeFiles, opts.ExcludeFiles, result)
	}

	recordOutcome(ctx, rollbackTotal, nil)
	recordReversal(ctx, "rollback", result.OperationsReversed, time.Since(start))
	slog.Info("Rollback complete",
		"target_time", targetTime,
		"operations_reversed", result.OperationsReversed,
		"files_restored", result.FilesRestored,
		"errors", len(result.Errors))
	return result, nil
}

// resolveTarget maps a rollback target onto a point in time and,
// when the target is a checkpoint, the checkpoint itself.
func (e *Engine) resolveTarget(ctx context.Context, target RollbackTarget) (time.Time, *checkpoint.Checkpoint, error) {
	set := 0
	for _, v := range []string{target.CheckpointID, target.CheckpointName, target.Timestamp, target.OperationID} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return time.Time{}, nil, ErrInvalidTarget
	}

	switch {
	case target.CheckpointID != "":
		cp, err := e.checkpoints.Find(ctx, target.CheckpointID)
		if err != nil {
			return time.Time{}, nil, err
		}
		return cp.Timestamp, cp, nil

	case target.CheckpointName != "":
		cp, err := e.checkpoints.FindByName(ctx, target.CheckpointName)
		if err != nil {
			return time.Time{}, nil, err
		}
		return cp.Timestamp, cp, nil

	case target.OperationID != "":
		op, err := e.log.Find(ctx, target.OperationID)
		if err != nil {
			return time.Time{}, nil, err
		}
		return op.Timestamp, nil, nil

	default:
		ts, err := parseTargetTime(target.Timestamp)
		if err != nil {
			return time.Time{}, nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
		}
		return e.nearestOperationTime(ctx, ts), nil, nil
	}
}

// nearestOperationTime snaps a raw timestamp onto the closest
// operation so the rollback boundary sits on a logged event. The raw
// timestamp is kept when the log is empty.
func (e *Engine) nearestOperationTime(ctx context.Context, ts time.Time) time.Time {
	ops, err := e.log.OperationsSince(ctx, time.Time{}, 0)
	if err != nil || len(ops) == 0 {
		return ts
	}
	for _, op := range ops {
		if op.Timestamp.Equal(ts) {
			return ts
		}
	}
	best := ops[0].Timestamp
	bestDelta := absDuration(ops[0].Timestamp.Sub(ts))
	for _, op := range ops[1:] {
		if d := absDuration(op.Timestamp.Sub(ts)); d < bestDelta {
			best, bestDelta = op.Timestamp, d
		}
	}
	return best
}

// reverseAll reverses operations newest first, recording per-item
// outcomes instead of aborting.
func (e *Engine) reverseAll(ctx context.Context, ops []oplog.OperationRecord, result *RollbackResult) {
	for _, op := range ops {
		item := RollbackItem{OperationID: op.OperationID, RelativePath: op.RelativePath}

		undone, err := e.log.IsUndone(ctx, op.OperationID)
		if err == nil && undone {
			item.Outcome = "skipped"
			result.Items = append(result.Items, item)
			continue
		}

		_, err = e.reverseOperation(ctx, op, false)
		switch {
		case err == nil:
			item.Outcome = "reversed"
			result.OperationsReversed++
			if err := e.log.MarkUndone(ctx, op.OperationID); err != nil {
				slog.Warn("Failed to record undo marker",
					"operation_id", op.OperationID,
					"error", err)
			}
		case errors.Is(err, ErrUnsupportedOperation):
			item.Outcome = "skipped"
		default:
			item.Outcome = "failed"
			item.Error = err.Error()
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", op.OperationID, err))
		}
		result.Items = append(result.Items, item)
	}
}

// restoreMissing restores checkpoint-tracked files that are absent
// from disk, so out-of-band deletions recover from the checkpoint's
// patch map.
func (e *Engine) restoreMissing(ctx context.Context, cp *checkpoint.Checkpoint, include, exclude []string, result *RollbackResult) {
	for path, entry := range cp.Entries {
		if !pathSelected(path, include, exclude) {
			continue
		}
		abs := e.absPath(path)
		if _, err := os.Stat(abs); err == nil || !os.IsNotExist(err) {
			continue
		}
		snap, err := e.snapshots.FindByID(ctx, entry.SnapshotID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		if err := e.snapshots.Restore(ctx, snap, abs); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		result.FilesRestored++
	}
}

// recordRollbackBackup appends an audit marker describing the state
// about to be rolled back.
func (e *Engine) recordRollbackBackup(ctx context.Context, target RollbackTarget, targetTime time.Time, ops []oplog.OperationRecord) error {
	payload := map[string]any{
		"target":          target,
		"target_time":     targetTime.UTC().Format(time.RFC3339Nano),
		"operation_count": len(ops),
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = e.records.Append(ctx, record.Record{
		Type:    record.TypeRollbackBackup,
		Content: fmt.Sprintf("rollback backup for %s covering %d operations", e.root, len(ops)),
		Metadata: map[string]string{
			record.MetaDataSpace: e.dataSpace,
			record.MetaPayload:   string(encoded),
		},
	})
	return err
}

// buildImpact estimates risk from the operation count past the target.
func buildImpact(targetTime time.Time, cp *checkpoint.Checkpoint, ops []oplog.OperationRecord) RollbackImpact {
	impact := RollbackImpact{
		TargetTime:     targetTime,
		OperationCount: len(ops),
		AffectedFiles:  []string{},
	}
	if cp != nil {
		impact.CheckpointID = cp.CheckpointID
	}

	seen := map[string]bool{}
	for _, op := range ops {
		if !seen[op.RelativePath] {
			seen[op.RelativePath] = true
			impact.AffectedFiles = append(impact.AffectedFiles, op.RelativePath)
		}
	}

	switch {
	case len(ops) > 50:
		impact.Risk = "high"
	case len(ops) >= 10:
		impact.Risk = "medium"
	default:
		impact.Risk = "low"
	}
	return impact
}

// filterOperations applies include/exclude path fragments.
func filterOperations(ops []oplog.OperationRecord, include, exclude []string) []oplog.OperationRecord {
	if len(include) == 0 && len(exclude) == 0 {
		return ops
	}
	filtered := make([]oplog.OperationRecord, 0, len(ops))
	for _, op := range ops {
		if pathSelected(op.RelativePath, include, exclude) {
			filtered = append(filtered, op)
		}
	}
	return filtered
}

// pathSelected applies substring include/exclude filters with the
// same precedence as checkpoint scanning: a matching exclude always
// drops the path, and a non-empty include list requires a match.
func pathSelected(path string, include, exclude []string) bool {
	if len(exclude) > 0 && matchesTargets(path, exclude) {
		return false
	}
	if len(include) > 0 {
		return matchesTargets(path, include)
	}
	return true
}

// parseTargetTime accepts RFC 3339 or Unix epoch seconds.
func parseTargetTime(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
