// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine ties the snapshot store, operation log, and checkpoint
// manager into the undo and rollback entry points.
//
// An Engine is an explicit handle constructed once per project root and
// passed by reference into every operation; there is no package-level
// state shared across roots. A per-root mutex serializes the three
// mutating entry points (checkpoint creation, undo, rollback) because
// their diff-then-write sequences are not atomic against each other.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/AleutianAI/rewind/services/versioning/checkpoint"
	"github.com/AleutianAI/rewind/services/versioning/oplog"
	"github.com/AleutianAI/rewind/services/versioning/record"
	"github.com/AleutianAI/rewind/services/versioning/snapshot"
)

// Sentinel errors for the engine.
var (
	// ErrNothingToUndo indicates no matching, not-yet-undone operation.
	ErrNothingToUndo = errors.New("no matching operations to undo")

	// ErrUnsupportedOperation indicates an operation type with no
	// reversal logic.
	ErrUnsupportedOperation = errors.New("operation type cannot be reversed")

	// ErrInvalidTarget indicates a rollback target that does not name
	// exactly one resolution mode.
	ErrInvalidTarget = errors.New("rollback target must set exactly one of checkpoint_id, checkpoint_name, timestamp, operation_id")
)

// DefaultBackupDirName is the engine's directory under the project root.
const DefaultBackupDirName = ".rewind"

// Options configures an Engine.
type Options struct {
	// BackupDirName is the backup directory name under the project
	// root. Default ".rewind".
	BackupDirName string

	// Retention is the checkpoint count kept by auto cleanup.
	// Default 20.
	Retention int
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		BackupDirName: DefaultBackupDirName,
		Retention:     checkpoint.DefaultRetention,
	}
}

// Engine is the per-project-root version management handle.
//
// Thread Safety: safe for concurrent use. Mutating entry points are
// serialized per root by an internal mutex.
type Engine struct {
	mu sync.Mutex

	root      string
	backupDir string
	dataSpace string

	records     record.Store
	snapshots   *snapshot.Store
	log         *oplog.Log
	checkpoints *checkpoint.Manager
}

// New creates an engine for the given project root.
//
// Description:
//
//	Resolves the root (absolute, symlinks evaluated), derives the
//	project's data space key from the resolved path, and wires the
//	snapshot store, operation log, and checkpoint manager against the
//	shared record store handle.
//
// Inputs:
//
//	root - Project root directory. Must exist.
//	records - Record store handle. Must not be nil.
//	opts - Engine options; zero values use defaults.
//
// Outputs:
//
//	*Engine - The configured engine
//	error - Non-nil if the root is unusable or wiring fails
func New(root string, records record.Store, opts Options) (*Engine, error) {
	if records == nil {
		return nil, errors.New("records must not be nil")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root is not a directory: %s", resolved)
	}

	if opts.BackupDirName == "" {
		opts.BackupDirName = DefaultBackupDirName
	}
	backupDir := filepath.Join(resolved, opts.BackupDirName)
	dataSpace := dataSpaceFor(resolved)

	snaps, err := snapshot.NewStore(resolved, filepath.Join(backupDir, "files"), records, dataSpace)
	if err != nil {
		return nil, err
	}
	log, err := oplog.NewLog(records, dataSpace)
	if err != nil {
		return nil, err
	}
	checkpoints, err := checkpoint.NewManager(resolved, backupDir, records, snaps, dataSpace, opts.Retention)
	if err != nil {
		return nil, err
	}

	if err := initMetrics(); err != nil {
		slog.Warn("Engine metrics unavailable", "error", err)
	}

	return &Engine{
		root:        resolved,
		backupDir:   backupDir,
		dataSpace:   dataSpace,
		records:     records,
		snapshots:   snaps,
		log:         log,
		checkpoints: checkpoints,
	}, nil
}

// Root returns the resolved project root.
func (e *Engine) Root() string {
	return e.root
}

// DataSpace returns the project isolation key.
func (e *Engine) DataSpace() string {
	return e.dataSpace
}

// CreateCheckpoint builds a new checkpoint under the per-root lock.
func (e *Engine) CreateCheckpoint(ctx context.Context, opts checkpoint.CreateOptions) (*checkpoint.CreateResult, error) {
	ctx, span := startSpan(ctx, "Engine.CreateCheckpoint")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	result, err := e.checkpoints.Create(ctx, opts)
	recordOutcome(ctx, checkpointTotal, err)
	return result, err
}

// ListCheckpoints returns all live checkpoints, newest first.
func (e *Engine) ListCheckpoints(ctx context.Context) ([]checkpoint.Checkpoint, error) {
	return e.checkpoints.List(ctx)
}

// CheckpointInfo returns the most recent live checkpoint with the
// given name.
func (e *Engine) CheckpointInfo(ctx context.Context, name string) (*checkpoint.Checkpoint, error) {
	return e.checkpoints.FindByName(ctx, name)
}

// DeleteResult reports a checkpoint deletion.
type DeleteResult struct {
	CheckpointID     string `json:"checkpoint_id"`
	SnapshotsDeleted int    `json:"snapshots_deleted"`
}

// DeleteCheckpoint tombstones a checkpoint by name.
func (e *Engine) DeleteCheckpoint(ctx context.Context, name string) (*DeleteResult, error) {
	ctx, span := startSpan(ctx, "Engine.DeleteCheckpoint")
	defer span.End()

	id, removed, err := e.checkpoints.Delete(ctx, name)
	if err != nil {
		return nil, err
	}
	return &DeleteResult{CheckpointID: id, SnapshotsDeleted: removed}, nil
}

// MutationReceipt is returned to mutating tools that honor the
// snapshot-before-mutate contract.
type MutationReceipt struct {
	OperationID string `json:"operation_id"`
	SnapshotID  string `json:"snapshot_id,omitempty"`
}

// RecordMutation records an imminent file mutation on behalf of an
// external tool.
//
// Description:
//
//	Captures the pre-mutation snapshot for edits, deletes, and config
//	changes, then appends the operation record. The snapshot comes
//	first: a failed capture leaves the log clean, and a failed append
//	leaves at worst an orphan snapshot, never an operation record
//	without its pre-state. The caller must invoke this before (or
//	atomically with) the mutation itself; skipping it makes the
//	operation permanently unrecoverable. Creates need no pre-state
//	snapshot because their reversal is deletion.
func (e *Engine) RecordMutation(ctx context.Context, typ oplog.OperationType, relPath, description string) (*MutationReceipt, error) {
	ctx, span := startSpan(ctx, "Engine.RecordMutation")
	defer span.End()

	if !oplog.ValidOperationTypes[typ] {
		return nil, fmt.Errorf("%w: %s", oplog.ErrInvalidOperationType, typ)
	}

	operationID := oplog.NewOperationID()
	receipt := &MutationReceipt{OperationID: operationID}

	if typ == oplog.OpFileEdit || typ == oplog.OpFileDelete || typ == oplog.OpConfigChange {
		snapID, err := e.snapshots.Create(ctx, filepath.Join(e.root, filepath.FromSlash(relPath)), operationID)
		if err != nil {
			return nil, fmt.Errorf("capturing pre-mutation snapshot: %w", err)
		}
		receipt.SnapshotID = snapID
	}

	if _, err := e.log.RecordOperationWithID(ctx, operationID, typ, relPath, description); err != nil {
		return nil, err
	}
	return receipt, nil
}

// Operations returns the operation log handle.
func (e *Engine) Operations() *oplog.Log {
	return e.log
}

// Snapshots returns the snapshot store handle.
func (e *Engine) Snapshots() *snapshot.Store {
	return e.snapshots
}

// dataSpaceFor derives the project isolation key from a resolved root.
func dataSpaceFor(resolved string) string {
	sum := sha256.Sum256([]byte(resolved))
	return "proj_" + hex.EncodeToString(sum[:])[:16]
}

// absPath joins a slash-relative path back onto the project root.
func (e *Engine) absPath(rel string) string {
	return filepath.Join(e.root, filepath.FromSlash(rel))
}
