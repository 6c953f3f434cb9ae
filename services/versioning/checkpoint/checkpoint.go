// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package checkpoint builds deduplicated, point-in-time manifests of the
// project tree.
//
// A checkpoint's manifest maps every tracked path to a snapshot id. Only
// files whose content hash changed since the baseline (the most recent
// prior checkpoint with identical filters) get a new snapshot; unchanged
// files carry forward the baseline's snapshot id, and files that left
// the disk carry forward their last known snapshot id so they stay
// restorable. A call that detects zero changes persists nothing.
//
// Checkpoints are never rewritten. Deletion appends a tombstone marker
// that every read path consults.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/rewind/services/versioning/record"
	"github.com/AleutianAI/rewind/services/versioning/snapshot"
)

// Sentinel errors for the checkpoint manager.
var (
	// ErrCheckpointNotFound indicates no live checkpoint matches.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrEmptyName indicates a checkpoint name was not provided.
	ErrEmptyName = errors.New("checkpoint name must not be empty")
)

// DefaultRetention is the number of checkpoints kept by auto cleanup.
const DefaultRetention = 20

// PatchEntry is one manifest entry: the snapshot holding a path's
// content and the digest it had when captured.
type PatchEntry struct {
	SnapshotID string `json:"snapshot_id"`
	SHA256     string `json:"sha256"`
	Size       int64  `json:"size"`
}

// Checkpoint is a named point-in-time manifest of the project.
type Checkpoint struct {
	CheckpointID string                `json:"checkpoint_id"`
	Name         string                `json:"name"`
	Description  string                `json:"description"`
	Timestamp    time.Time             `json:"timestamp"`
	TotalFiles   int                   `json:"total_files"`
	TotalSize    int64                 `json:"total_size"`
	Include      []string              `json:"include_patterns"`
	Exclude      []string              `json:"exclude_patterns"`
	Entries      map[string]PatchEntry `json:"entries"`
}

// PatchMap returns the path -> snapshot id view of the manifest.
func (c *Checkpoint) PatchMap() map[string]string {
	m := make(map[string]string, len(c.Entries))
	for path, entry := range c.Entries {
		m[path] = entry.SnapshotID
	}
	return m
}

// checkpointPayload is the JSON payload carried in the record.
type checkpointPayload struct {
	Description string                `json:"description"`
	TotalFiles  int                   `json:"total_files"`
	TotalSize   int64                 `json:"total_size"`
	Include     []string              `json:"include_patterns"`
	Exclude     []string              `json:"exclude_patterns"`
	Entries     map[string]PatchEntry `json:"entries"`
}

// CreateOptions configures a checkpoint creation.
type CreateOptions struct {
	// Name is the user-facing label. Names are not unique keys; lookup
	// by name resolves to the most recent live checkpoint.
	Name string

	// Description is a free-form summary.
	Description string

	// Include and Exclude filter tracked paths by substring match.
	// Filter equality (exact, order-sensitive) selects the diff
	// baseline.
	Include []string
	Exclude []string

	// AutoCleanup evicts checkpoints beyond the retention count,
	// oldest first.
	AutoCleanup bool
}

// CreateResult reports the outcome of a checkpoint creation.
type CreateResult struct {
	// NoOp is true when zero changes were detected and nothing was
	// persisted.
	NoOp bool `json:"no_op"`

	// Checkpoint is the persisted checkpoint; nil when NoOp.
	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`

	// FilesIncluded is the number of tracked files.
	FilesIncluded int `json:"files_included"`

	// ChangedFiles counts new, modified, and deleted paths.
	ChangedFiles int `json:"changed_files"`
}

// Manager creates, lists, and tombstones checkpoints for one project
// root.
//
// Thread Safety: Manager itself is stateless; callers serialize Create
// against concurrent mutation through the engine's per-root lock. The
// diff-then-write sequence is not atomic on its own.
type Manager struct {
	root      string
	backupDir string
	records   record.Store
	snapshots *snapshot.Store
	dataSpace string
	retention int
}

// NewManager creates a checkpoint manager.
//
// Inputs:
//
//	root - Resolved absolute project root.
//	backupDir - The engine's backup directory (excluded from scans).
//	records - Record store handle. Must not be nil.
//	snapshots - Snapshot store handle. Must not be nil.
//	dataSpace - Project isolation key.
//	retention - Checkpoints kept by auto cleanup; <= 0 uses the default.
func NewManager(root, backupDir string, records record.Store, snapshots *snapshot.Store, dataSpace string, retention int) (*Manager, error) {
	if records == nil {
		return nil, errors.New("records must not be nil")
	}
	if snapshots == nil {
		return nil, errors.New("snapshots must not be nil")
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Manager{
		root:      root,
		backupDir: backupDir,
		records:   records,
		snapshots: snapshots,
		dataSpace: dataSpace,
		retention: retention,
	}, nil
}

// Create builds a new checkpoint.
//
// Description:
//
//	Walks the tree, diffs content hashes against the baseline (the most
//	recent live checkpoint with identical include/exclude lists), and
//	snapshots only changed files under the new checkpoint id. With zero
//	detected changes nothing is persisted and the result says NoOp.
//
// Outputs:
//
//	*CreateResult - Outcome including the persisted checkpoint
//	error - Non-nil on scan, snapshot, or store failure
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*CreateResult, error) {
	if opts.Name == "" {
		return nil, ErrEmptyName
	}

	paths, err := scanTree(m.root, m.backupDir, opts.Include, opts.Exclude)
	if err != nil {
		return nil, fmt.Errorf("scanning project tree: %w", err)
	}

	digests, err := hashAll(ctx, m.root, paths)
	if err != nil {
		return nil, fmt.Errorf("hashing tracked files: %w", err)
	}

	baseline, err := m.findBaseline(ctx, opts.Include, opts.Exclude)
	if err != nil {
		return nil, err
	}

	checkpointID := "cp_" + uuid.NewString()
	entries := make(map[string]PatchEntry, len(digests))
	changed := 0
	var totalSize int64

	for rel, digest := range digests {
		totalSize += digest.Size

		if baseline != nil {
			if base, ok := baseline.Entries[rel]; ok && base.SHA256 == digest.SHA256 {
				// Unchanged: reuse the existing snapshot, no new blob.
				entries[rel] = base
				continue
			}
		}

		snapID, err := m.snapshots.Create(ctx, filepath.Join(m.root, filepath.FromSlash(rel)), checkpointID)
		if err != nil {
			return nil, fmt.Errorf("snapshotting %s: %w", rel, err)
		}
		if snapID == "" {
			// Vanished between hash and snapshot; treat as deleted below.
			continue
		}
		entries[rel] = PatchEntry{SnapshotID: snapID, SHA256: digest.SHA256, Size: digest.Size}
		changed++
	}

	if baseline != nil {
		for rel, base := range baseline.Entries {
			if _, onDisk := entries[rel]; onDisk {
				continue
			}
			// Tracked before, gone now: carry the last known snapshot
			// forward so the file stays restorable, and count the
			// deletion as a change.
			entries[rel] = base
			changed++
		}
	}

	if changed == 0 {
		slog.Info("Checkpoint is a no-op, nothing persisted", "name", opts.Name)
		return &CreateResult{NoOp: true, FilesIncluded: len(digests)}, nil
	}

	cp := &Checkpoint{
		CheckpointID: checkpointID,
		Name:         opts.Name,
		Description:  opts.Description,
		Timestamp:    time.Now().UTC(),
		TotalFiles:   len(digests),
		TotalSize:    totalSize,
		Include:      opts.Include,
		Exclude:      opts.Exclude,
		Entries:      entries,
	}

	if err := m.persist(ctx, cp); err != nil {
		return nil, err
	}

	slog.Info("Created checkpoint",
		"checkpoint_id", checkpointID,
		"name", opts.Name,
		"files", len(digests),
		"changed", changed)

	if opts.AutoCleanup {
		if err := m.cleanup(ctx); err != nil {
			slog.Warn("Checkpoint cleanup failed", "error", err)
		}
	}

	return &CreateResult{
		Checkpoint:    cp,
		FilesIncluded: len(digests),
		ChangedFiles:  changed,
	}, nil
}

// List returns all live checkpoints, newest first.
func (m *Manager) List(ctx context.Context) ([]Checkpoint, error) {
	results, err := m.records.Query(ctx, record.Query{
		Type: record.TypeCheckpoint,
		Metadata: map[string]string{
			record.MetaDataSpace: m.dataSpace,
		},
		Limit: 500,
	})
	if err != nil {
		return nil, fmt.Errorf("querying checkpoints: %w", err)
	}

	deleted, err := m.deletedIDs(ctx)
	if err != nil {
		return nil, err
	}

	record.SortByTimestampDesc(results)

	checkpoints := make([]Checkpoint, 0, len(results))
	for _, res := range results {
		cp := resultToCheckpoint(res)
		if deleted[cp.CheckpointID] {
			continue
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, nil
}

// Find returns a live checkpoint by id.
func (m *Manager) Find(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	checkpoints, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range checkpoints {
		if checkpoints[i].CheckpointID == checkpointID {
			return &checkpoints[i], nil
		}
	}
	return nil, fmt.Errorf("%w: id=%s", ErrCheckpointNotFound, checkpointID)
}

// FindByName returns the most recent live checkpoint with the given
// name. Names are not unique; last write wins.
func (m *Manager) FindByName(ctx context.Context, name string) (*Checkpoint, error) {
	checkpoints, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range checkpoints {
		if checkpoints[i].Name == name {
			return &checkpoints[i], nil
		}
	}
	return nil, fmt.Errorf("%w: name=%s", ErrCheckpointNotFound, name)
}

// Delete tombstones the checkpoint with the given name and evicts its
// blobs.
//
// Description:
//
//	The record store provides no reliable delete, so the checkpoint
//	record is retained and a deletion marker is appended; every read
//	path filters against markers. Blobs tagged with the checkpoint id
//	are removed best-effort.
//
// Outputs:
//
//	string - The tombstoned checkpoint id
//	int - Number of blobs removed
//	error - ErrCheckpointNotFound or a store failure
func (m *Manager) Delete(ctx context.Context, name string) (string, int, error) {
	cp, err := m.FindByName(ctx, name)
	if err != nil {
		return "", 0, err
	}
	removed, err := m.deleteByID(ctx, cp)
	return cp.CheckpointID, removed, err
}

// deleteByID evicts blobs and appends the tombstone for one checkpoint.
// Blobs whose snapshot ids are carried forward in another live
// checkpoint's manifest are kept; those files must stay restorable.
func (m *Manager) deleteByID(ctx context.Context, cp *Checkpoint) (int, error) {
	removed := 0
	keep, err := m.referencedSnapshots(ctx, cp.CheckpointID)
	if err != nil {
		slog.Warn("Skipping blob eviction, cannot resolve carried-forward snapshots",
			"checkpoint_id", cp.CheckpointID,
			"error", err)
	} else if removed, err = m.snapshots.DeleteBlobsTagged(cp.CheckpointID, keep); err != nil {
		slog.Warn("Blob eviction incomplete",
			"checkpoint_id", cp.CheckpointID,
			"error", err)
	}

	now := time.Now().UTC()
	_, err = m.records.Append(ctx, record.Record{
		Type:    record.TypeCheckpointDeletion,
		Content: fmt.Sprintf("deletion of checkpoint %s", cp.Name),
		Metadata: map[string]string{
			record.MetaCheckpointID: cp.CheckpointID,
			record.MetaName:         cp.Name,
			record.MetaTimestamp:    record.FormatTimestamp(now),
			record.MetaDataSpace:    m.dataSpace,
		},
	})
	if err != nil {
		return removed, fmt.Errorf("appending deletion marker for %s: %w", cp.CheckpointID, err)
	}

	slog.Info("Deleted checkpoint",
		"checkpoint_id", cp.CheckpointID,
		"name", cp.Name,
		"blobs_removed", removed)

	return removed, nil
}

// referencedSnapshots returns the snapshot ids carried in the
// manifests of live checkpoints other than the one being deleted.
func (m *Manager) referencedSnapshots(ctx context.Context, excludeID string) (map[string]bool, error) {
	checkpoints, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	refs := make(map[string]bool)
	for i := range checkpoints {
		if checkpoints[i].CheckpointID == excludeID {
			continue
		}
		for _, entry := range checkpoints[i].Entries {
			refs[entry.SnapshotID] = true
		}
	}
	return refs, nil
}

// findBaseline returns the most recent live checkpoint whose filters
// exactly match, or nil when none exists.
func (m *Manager) findBaseline(ctx context.Context, include, exclude []string) (*Checkpoint, error) {
	checkpoints, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range checkpoints {
		if slices.Equal(checkpoints[i].Include, include) && slices.Equal(checkpoints[i].Exclude, exclude) {
			return &checkpoints[i], nil
		}
	}
	return nil, nil
}

// cleanup evicts checkpoints beyond the retention count, oldest first.
func (m *Manager) cleanup(ctx context.Context) error {
	checkpoints, err := m.List(ctx)
	if err != nil {
		return err
	}
	if len(checkpoints) <= m.retention {
		return nil
	}
	// List is newest-first; everything past the retention index goes.
	for i := len(checkpoints) - 1; i >= m.retention; i-- {
		if _, err := m.deleteByID(ctx, &checkpoints[i]); err != nil {
			return err
		}
	}
	return nil
}

// persist appends the checkpoint record with its serialized manifest.
func (m *Manager) persist(ctx context.Context, cp *Checkpoint) error {
	payload, err := json.Marshal(checkpointPayload{
		Description: cp.Description,
		TotalFiles:  cp.TotalFiles,
		TotalSize:   cp.TotalSize,
		Include:     cp.Include,
		Exclude:     cp.Exclude,
		Entries:     cp.Entries,
	})
	if err != nil {
		return fmt.Errorf("serializing checkpoint manifest: %w", err)
	}

	_, err = m.records.Append(ctx, record.Record{
		ID:      cp.CheckpointID,
		Type:    record.TypeCheckpoint,
		Content: fmt.Sprintf("checkpoint %s: %s", cp.Name, cp.Description),
		Metadata: map[string]string{
			record.MetaCheckpointID: cp.CheckpointID,
			record.MetaName:         cp.Name,
			record.MetaTimestamp:    record.FormatTimestamp(cp.Timestamp),
			record.MetaPayload:      string(payload),
			record.MetaDataSpace:    m.dataSpace,
		},
	})
	if err != nil {
		return fmt.Errorf("persisting checkpoint %s: %w", cp.CheckpointID, err)
	}
	return nil
}

// deletedIDs returns the set of tombstoned checkpoint ids.
func (m *Manager) deletedIDs(ctx context.Context) (map[string]bool, error) {
	results, err := m.records.Query(ctx, record.Query{
		Type: record.TypeCheckpointDeletion,
		Metadata: map[string]string{
			record.MetaDataSpace: m.dataSpace,
		},
		Limit: 1000,
	})
	if err != nil {
		return nil, fmt.Errorf("querying deletion markers: %w", err)
	}

	deleted := make(map[string]bool, len(results))
	for _, res := range results {
		if id := res.Metadata[record.MetaCheckpointID]; id != "" {
			deleted[id] = true
		}
	}
	return deleted, nil
}

// resultToCheckpoint converts a record store result to a Checkpoint.
func resultToCheckpoint(res record.Result) Checkpoint {
	cp := Checkpoint{
		CheckpointID: res.Metadata[record.MetaCheckpointID],
		Name:         res.Metadata[record.MetaName],
		Timestamp:    record.Timestamp(res.Metadata),
	}
	if cp.CheckpointID == "" {
		cp.CheckpointID = res.ID
	}
	if raw := res.Metadata[record.MetaPayload]; raw != "" {
		var payload checkpointPayload
		if err := json.Unmarshal([]byte(raw), &payload); err == nil {
			cp.Description = payload.Description
			cp.TotalFiles = payload.TotalFiles
			cp.TotalSize = payload.TotalSize
			cp.Include = payload.Include
			cp.Exclude = payload.Exclude
			cp.Entries = payload.Entries
		}
	}
	if cp.Entries == nil {
		cp.Entries = map[string]PatchEntry{}
	}
	return cp
}
