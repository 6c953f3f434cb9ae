// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot implements whole-file, content-addressed backups.
//
// A snapshot is the verbatim byte copy of one file at capture time plus a
// metadata record carrying its sha256. Blobs live under the engine's
// backup directory; metadata lives in the record store. The blob is always
// durably written before its metadata record, so a crash can leave an
// orphan blob but never a record pointing at a missing blob.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/rewind/services/versioning/record"
)

// Sentinel errors for the snapshot store.
var (
	// ErrSnapshotMissing indicates no snapshot exists for the requested
	// (path, operation) pair.
	ErrSnapshotMissing = errors.New("snapshot missing")

	// ErrHashMismatch indicates a blob's bytes no longer match the hash
	// recorded at capture time.
	ErrHashMismatch = errors.New("snapshot hash mismatch")
)

// FileSnapshot is the metadata for one captured file.
type FileSnapshot struct {
	SnapshotID   string    `json:"snapshot_id"`
	RelativePath string    `json:"relative_path"`
	OperationID  string    `json:"operation_id"`
	Timestamp    time.Time `json:"timestamp"`
	Size         int64     `json:"size"`
	SHA256       string    `json:"sha256"`
}

// snapshotPayload is the JSON payload carried in the metadata record.
type snapshotPayload struct {
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Store captures and restores file snapshots for one project root.
//
// Thread Safety: safe for concurrent use; all state lives in the record
// store and the blob directory.
type Store struct {
	root      string
	blobDir   string
	records   record.Store
	dataSpace string
}

// NewStore creates a snapshot store.
//
// Inputs:
//
//	root - Resolved absolute project root.
//	blobDir - Directory for blob storage. Created if absent.
//	records - Record store handle. Must not be nil.
//	dataSpace - Project isolation key.
//
// Outputs:
//
//	*Store - The configured store
//	error - Non-nil if records is nil or blobDir cannot be created
func NewStore(root, blobDir string, records record.Store, dataSpace string) (*Store, error) {
	if records == nil {
		return nil, errors.New("records must not be nil")
	}
	if err := os.MkdirAll(blobDir, 0750); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &Store{
		root:      root,
		blobDir:   blobDir,
		records:   records,
		dataSpace: dataSpace,
	}, nil
}

// Create captures a snapshot of the file at absPath.
//
// Description:
//
//	Copies the file's bytes verbatim to a blob keyed by a fresh snapshot
//	id, computes sha256 over the copy, then appends the metadata record.
//	Returns ("", nil) when the source file does not exist; there is
//	nothing to capture and that is not an error.
//
// Inputs:
//
//	ctx - Context for cancellation
//	absPath - Absolute path of the file to capture
//	operationID - Operation (or checkpoint) the snapshot belongs to.
//	  The id is embedded in the snapshot id, which tags the blob for
//	  later checkpoint-scoped eviction.
//
// Outputs:
//
//	string - The snapshot id, or "" when the source is absent
//	error - Non-nil on I/O or bookkeeping failure
func (s *Store) Create(ctx context.Context, absPath, operationID string) (string, error) {
	rel, err := filepath.Rel(s.root, absPath)
	if err != nil {
		return "", fmt.Errorf("resolving %s against project root: %w", absPath, err)
	}
	rel = filepath.ToSlash(rel)

	src, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("No snapshot taken, source absent", "path", rel)
			return "", nil
		}
		return "", fmt.Errorf("opening %s: %w", rel, err)
	}
	defer src.Close()

	now := time.Now().UTC()
	snapshotID := fmt.Sprintf("%s_%d_%s", operationID, now.UnixNano(), uuid.NewString()[:8])
	blobPath := filepath.Join(s.blobDir, snapshotID)

	size, err := copyBlob(src, blobPath)
	if err != nil {
		_ = os.Remove(blobPath)
		return "", fmt.Errorf("writing blob for %s: %w", rel, err)
	}

	// Hash the copy, not the source; the source may change under us and
	// the hash must describe the bytes we actually stored.
	sum, err := hashFile(blobPath)
	if err != nil {
		_ = os.Remove(blobPath)
		return "", fmt.Errorf("hashing blob for %s: %w", rel, err)
	}

	payload, _ := json.Marshal(snapshotPayload{Size: size, SHA256: sum})
	_, err = s.records.Append(ctx, record.Record{
		ID:      snapshotID,
		Type:    record.TypeFileSnapshot,
		Content: fmt.Sprintf("snapshot of %s for %s", rel, operationID),
		Metadata: map[string]string{
			record.MetaPath:        rel,
			record.MetaOperationID: operationID,
			record.MetaTimestamp:   record.FormatTimestamp(now),
			record.MetaPayload:     string(payload),
			record.MetaDataSpace:   s.dataSpace,
		},
	})
	if err != nil {
		// The blob is already durable. An orphan blob is tolerable, a
		// dangling metadata record is not, so the blob stays on disk.
		return "", fmt.Errorf("recording snapshot metadata for %s: %w", rel, err)
	}

	slog.Debug("Captured snapshot",
		"snapshot_id", snapshotID,
		"path", rel,
		"size", size)

	return snapshotID, nil
}

// Find returns the most recent snapshot for an exact (path, operation)
// pair.
//
// Outputs:
//
//	*FileSnapshot - The matching snapshot
//	error - ErrSnapshotMissing when no match exists
func (s *Store) Find(ctx context.Context, relPath, operationID string) (*FileSnapshot, error) {
	results, err := s.records.Query(ctx, record.Query{
		Type: record.TypeFileSnapshot,
		Metadata: map[string]string{
			record.MetaPath:        filepath.ToSlash(relPath),
			record.MetaOperationID: operationID,
			record.MetaDataSpace:   s.dataSpace,
		},
		Limit: 20,
	})
	if err != nil {
		return nil, fmt.Errorf("querying snapshot for %s/%s: %w", relPath, operationID, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: path=%s operation=%s", ErrSnapshotMissing, relPath, operationID)
	}

	record.SortByTimestampDesc(results)
	return resultToSnapshot(results[0]), nil
}

// FindByID returns a snapshot by its id.
func (s *Store) FindByID(ctx context.Context, snapshotID string) (*FileSnapshot, error) {
	results, err := s.records.Query(ctx, record.Query{
		Type: record.TypeFileSnapshot,
		Metadata: map[string]string{
			record.MetaRecordID:  snapshotID,
			record.MetaDataSpace: s.dataSpace,
		},
		Limit: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("querying snapshot %s: %w", snapshotID, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: id=%s", ErrSnapshotMissing, snapshotID)
	}
	return resultToSnapshot(results[0]), nil
}

// Restore writes a snapshot's bytes back to absPath.
//
// Description:
//
//	Verifies the blob still matches the recorded sha256 before writing,
//	then copies it over absPath, creating parent directories as needed.
func (s *Store) Restore(ctx context.Context, snap *FileSnapshot, absPath string) error {
	blobPath := filepath.Join(s.blobDir, snap.SnapshotID)

	sum, err := hashFile(blobPath)
	if err != nil {
		return fmt.Errorf("reading blob %s: %w", snap.SnapshotID, err)
	}
	if snap.SHA256 != "" && sum != snap.SHA256 {
		return fmt.Errorf("%w: snapshot=%s", ErrHashMismatch, snap.SnapshotID)
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0750); err != nil {
		return fmt.Errorf("creating parent dirs for %s: %w", snap.RelativePath, err)
	}

	src, err := os.Open(blobPath)
	if err != nil {
		return fmt.Errorf("opening blob %s: %w", snap.SnapshotID, err)
	}
	defer src.Close()

	if _, err := copyBlob(src, absPath); err != nil {
		return fmt.Errorf("restoring %s: %w", snap.RelativePath, err)
	}

	slog.Info("Restored file from snapshot",
		"snapshot_id", snap.SnapshotID,
		"path", snap.RelativePath)

	return nil
}

// DeleteBlobsTagged removes every blob whose snapshot id carries the
// given creation tag, except ids listed in keep. Carried-forward
// manifest entries in newer checkpoints reference snapshots tagged
// with an older checkpoint's id; keep protects those blobs. Deletion
// is best-effort: unreadable entries are skipped.
//
// Outputs:
//
//	int - Number of blobs removed
func (s *Store) DeleteBlobsTagged(tag string, keep map[string]bool) (int, error) {
	entries, err := os.ReadDir(s.blobDir)
	if err != nil {
		return 0, fmt.Errorf("listing blob dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), tag+"_") || keep[entry.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(s.blobDir, entry.Name())); err != nil {
			slog.Warn("Failed to remove blob", "blob", entry.Name(), "error", err)
			continue
		}
		removed++
	}

	return removed, nil
}

// BlobDir returns the blob directory path.
func (s *Store) BlobDir() string {
	return s.blobDir
}

// resultToSnapshot converts a record store result to a FileSnapshot.
func resultToSnapshot(res record.Result) *FileSnapshot {
	snap := &FileSnapshot{
		SnapshotID:   res.ID,
		RelativePath: res.Metadata[record.MetaPath],
		OperationID:  res.Metadata[record.MetaOperationID],
		Timestamp:    record.Timestamp(res.Metadata),
	}
	if raw := res.Metadata[record.MetaPayload]; raw != "" {
		var payload snapshotPayload
		if err := json.Unmarshal([]byte(raw), &payload); err == nil {
			snap.Size = payload.Size
			snap.SHA256 = payload.SHA256
		}
	}
	if snap.SnapshotID == "" {
		snap.SnapshotID = res.Metadata[record.MetaRecordID]
	}
	return snap
}

// copyBlob copies src to destPath and syncs it to disk.
func copyBlob(src io.Reader, destPath string) (int64, error) {
	dest, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return 0, err
	}

	size, err := io.Copy(dest, src)
	if err != nil {
		dest.Close()
		return 0, err
	}
	if err := dest.Sync(); err != nil {
		dest.Close()
		return 0, err
	}
	return size, dest.Close()
}

// hashFile computes the sha256 of a file's contents.
func hashFile(path string) (string, error) {
	sum, _, err := HashFile(path)
	return sum, err
}

// HashFile computes the sha256 and size of an on-disk file. Shared with
// the checkpoint differ so capture and diff always agree on the digest.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
