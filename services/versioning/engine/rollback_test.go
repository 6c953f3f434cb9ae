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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/rewind/services/versioning/checkpoint"
	"github.com/AleutianAI/rewind/services/versioning/oplog"
	"github.com/AleutianAI/rewind/services/versioning/record"
)

func makeCheckpoint(t *testing.T, eng *Engine, name string) *checkpoint.Checkpoint {
	t.Helper()
	result, err := eng.CreateCheckpoint(context.Background(), checkpoint.CreateOptions{Name: name})
	require.NoError(t, err)
	require.False(t, result.NoOp)
	time.Sleep(time.Millisecond)
	return result.Checkpoint
}

func TestEngine_RollbackToCheckpoint(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	writeFile(t, eng, "src/app.go", "stable")
	makeCheckpoint(t, eng, "base")

	editFile(t, eng, "src/app.go", "experimental")
	createFile(t, eng, "src/scratch.go", "temp")

	result, err := eng.Rollback(ctx, RollbackOptions{
		Target: RollbackTarget{CheckpointName: "base"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.OperationsReversed)
	assert.Empty(t, result.Errors)
	assert.Equal(t, "stable", readFile(t, eng, "src/app.go"))
	_, statErr := os.Stat(filepath.Join(eng.Root(), "src/scratch.go"))
	assert.True(t, os.IsNotExist(statErr), "created file should be gone")

	// Rolling back again finds nothing newer than the target that is
	// not already undone.
	result, err = eng.Rollback(ctx, RollbackOptions{
		Target: RollbackTarget{CheckpointName: "base"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.OperationsReversed)
}

func TestEngine_RollbackBeyondSingleQueryWindow(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	writeFile(t, eng, "app.py", "v0")
	makeCheckpoint(t, eng, "base")

	// More edits than one operation log fetch returns. Every one of
	// them must show up in the impact and be reversed.
	total := oplog.DefaultWindow + 10
	for i := 1; i <= total; i++ {
		editFile(t, eng, "app.py", fmt.Sprintf("v%d", i))
	}

	preview, err := eng.Rollback(ctx, RollbackOptions{
		Target:  RollbackTarget{CheckpointName: "base"},
		Preview: true,
	})
	require.NoError(t, err)
	assert.Equal(t, total, preview.Impact.OperationCount)

	result, err := eng.Rollback(ctx, RollbackOptions{
		Target: RollbackTarget{CheckpointName: "base"},
	})
	require.NoError(t, err)
	assert.Equal(t, total, result.OperationsReversed)
	assert.Empty(t, result.Errors)
	assert.Equal(t, "v0", readFile(t, eng, "app.py"))
}

func TestEngine_RollbackRestoresOutOfBandDeletion(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	writeFile(t, eng, "config.yaml", "settings")
	cp := makeCheckpoint(t, eng, "base")
	require.Contains(t, cp.Entries, "config.yaml")

	// Deleted outside the engine: no operation record exists, so only
	// the checkpoint's patch map can bring the file back.
	require.NoError(t, os.Remove(filepath.Join(eng.Root(), "config.yaml")))

	result, err := eng.Rollback(ctx, RollbackOptions{
		Target: RollbackTarget{CheckpointID: cp.CheckpointID},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.FilesRestored)
	assert.Equal(t, "settings", readFile(t, eng, "config.yaml"))
}

func TestEngine_RollbackPreview(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	writeFile(t, eng, "a.txt", "v1")
	makeCheckpoint(t, eng, "base")
	editFile(t, eng, "a.txt", "v2")

	result, err := eng.Rollback(ctx, RollbackOptions{
		Target:  RollbackTarget{CheckpointName: "base"},
		Preview: true,
	})
	require.NoError(t, err)

	assert.True(t, result.Preview)
	assert.Equal(t, 1, result.Impact.OperationCount)
	assert.Equal(t, []string{"a.txt"}, result.Impact.AffectedFiles)
	assert.Equal(t, "low", result.Impact.Risk)
	assert.Equal(t, 0, result.OperationsReversed)
	// Preview never touches disk.
	assert.Equal(t, "v2", readFile(t, eng, "a.txt"))
}

func TestEngine_RollbackToOperation(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	writeFile(t, eng, "a.txt", "v1")
	anchor := editFile(t, eng, "a.txt", "v2")
	editFile(t, eng, "a.txt", "v3")

	result, err := eng.Rollback(ctx, RollbackOptions{
		Target: RollbackTarget{OperationID: anchor},
	})
	require.NoError(t, err)

	// Only operations strictly newer than the anchor are reversed.
	assert.Equal(t, 1, result.OperationsReversed)
	assert.Equal(t, "v2", readFile(t, eng, "a.txt"))
}

func TestEngine_RollbackInvalidTarget(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	t.Run("no target", func(t *testing.T) {
		_, err := eng.Rollback(ctx, RollbackOptions{})
		assert.ErrorIs(t, err, ErrInvalidTarget)
	})

	t.Run("two targets", func(t *testing.T) {
		_, err := eng.Rollback(ctx, RollbackOptions{
			Target: RollbackTarget{CheckpointName: "a", OperationID: "op_b"},
		})
		assert.ErrorIs(t, err, ErrInvalidTarget)
	})

	t.Run("unknown scope", func(t *testing.T) {
		_, err := eng.Rollback(ctx, RollbackOptions{
			Target: RollbackTarget{CheckpointName: "a"},
			Scope:  "everything",
		})
		assert.ErrorIs(t, err, ErrInvalidTarget)
	})

	t.Run("unknown checkpoint", func(t *testing.T) {
		_, err := eng.Rollback(ctx, RollbackOptions{
			Target: RollbackTarget{CheckpointName: "missing"},
		})
		assert.ErrorIs(t, err, checkpoint.ErrCheckpointNotFound)
	})

	t.Run("unparseable timestamp", func(t *testing.T) {
		_, err := eng.Rollback(ctx, RollbackOptions{
			Target: RollbackTarget{Timestamp: "yesterday"},
		})
		assert.ErrorIs(t, err, ErrInvalidTarget)
	})
}

func TestEngine_RollbackBestEffort(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	writeFile(t, eng, "good.txt", "v1")
	makeCheckpoint(t, eng, "base")

	// One compliant edit and one orphaned operation with no snapshot.
	editFile(t, eng, "good.txt", "v2")
	_, err := eng.Operations().RecordOperation(ctx, oplog.OpFileEdit, "orphan.txt", "")
	require.NoError(t, err)
	writeFile(t, eng, "orphan.txt", "unrecoverable")
	time.Sleep(time.Millisecond)

	result, err := eng.Rollback(ctx, RollbackOptions{
		Target: RollbackTarget{CheckpointName: "base"},
	})
	require.NoError(t, err, "individual failures must not abort the rollback")

	assert.Equal(t, 1, result.OperationsReversed)
	assert.Len(t, result.Errors, 1)
	assert.Equal(t, "v1", readFile(t, eng, "good.txt"))

	var failed, reversed int
	for _, item := range result.Items {
		switch item.Outcome {
		case "failed":
			failed++
		case "reversed":
			reversed++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, reversed)
}

func TestEngine_RollbackScopeFiles(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	writeFile(t, eng, "tracked.txt", "original")
	cp := makeCheckpoint(t, eng, "base")

	editFile(t, eng, "tracked.txt", "edited")
	require.NoError(t, os.Remove(filepath.Join(eng.Root(), "tracked.txt")))

	result, err := eng.Rollback(ctx, RollbackOptions{
		Target: RollbackTarget{CheckpointID: cp.CheckpointID},
		Scope:  ScopeFiles,
	})
	require.NoError(t, err)

	// Files scope restores tracked state but leaves the operation log
	// alone.
	assert.Equal(t, 0, result.OperationsReversed)
	assert.Equal(t, 1, result.FilesRestored)
	assert.Equal(t, "original", readFile(t, eng, "tracked.txt"))
}

func TestEngine_RollbackBackupMarker(t *testing.T) {
	ctx := context.Background()
	eng, records := newTestEngine(t)

	writeFile(t, eng, "a.txt", "v1")
	makeCheckpoint(t, eng, "base")
	editFile(t, eng, "a.txt", "v2")

	_, err := eng.Rollback(ctx, RollbackOptions{
		Target:       RollbackTarget{CheckpointName: "base"},
		CreateBackup: true,
	})
	require.NoError(t, err)

	markers, err := records.Query(ctx, record.Query{Type: record.TypeRollbackBackup})
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Contains(t, markers[0].Content, "rollback backup")
}

func TestParseTargetTime(t *testing.T) {
	t.Run("rfc3339", func(t *testing.T) {
		ts, err := parseTargetTime("2026-08-30T12:00:00Z")
		require.NoError(t, err)
		assert.Equal(t, 2026, ts.Year())
	})

	t.Run("epoch seconds", func(t *testing.T) {
		ts, err := parseTargetTime("1700000000")
		require.NoError(t, err)
		assert.Equal(t, int64(1700000000), ts.Unix())
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := parseTargetTime("not a time")
		assert.Error(t, err)
	})
}

func TestPathSelected(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		include []string
		exclude []string
		want    bool
	}{
		{"no filters", "a.go", nil, nil, true},
		{"include hit", "src/a.go", []string{"src/"}, nil, true},
		{"include miss", "docs/a.md", []string{"src/"}, nil, false},
		{"exclude hit", "src/gen.go", nil, []string{"gen"}, false},
		{"exclude wins over include", "src/gen.go", []string{"src/"}, []string{"gen"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pathSelected(tt.path, tt.include, tt.exclude))
		})
	}
}
