// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oplog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/AleutianAI/rewind/services/versioning/record"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	log, err := NewLog(record.NewMemoryStore(), "proj_test")
	if err != nil {
		t.Fatalf("NewLog() error = %v", err)
	}
	return log
}

func TestLog_RecordOperation(t *testing.T) {
	ctx := context.Background()
	log := newTestLog(t)

	t.Run("rejects unknown type", func(t *testing.T) {
		_, err := log.RecordOperation(ctx, "file_rename", "a.go", "")
		if !errors.Is(err, ErrInvalidOperationType) {
			t.Errorf("RecordOperation() error = %v, want ErrInvalidOperationType", err)
		}
	})

	t.Run("round trips through Find", func(t *testing.T) {
		id, err := log.RecordOperation(ctx, OpFileEdit, "src/main.go", "rename handler")
		if err != nil {
			t.Fatalf("RecordOperation() error = %v", err)
		}

		op, err := log.Find(ctx, id)
		if err != nil {
			t.Fatalf("Find() error = %v", err)
		}
		if op.OperationType != OpFileEdit {
			t.Errorf("Find() type = %q, want file_edit", op.OperationType)
		}
		if op.RelativePath != "src/main.go" {
			t.Errorf("Find() path = %q, want src/main.go", op.RelativePath)
		}
		if op.Description != "rename handler" {
			t.Errorf("Find() description = %q", op.Description)
		}
		if op.Timestamp.IsZero() {
			t.Error("Find() timestamp should be set")
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := log.Find(ctx, "op_missing")
		if !errors.Is(err, ErrOperationNotFound) {
			t.Errorf("Find() error = %v, want ErrOperationNotFound", err)
		}
	})
}

func TestLog_OperationsSince(t *testing.T) {
	ctx := context.Background()
	log := newTestLog(t)

	var ids []string
	for _, path := range []string{"a.go", "b.go", "c.go"} {
		id, err := log.RecordOperation(ctx, OpFileEdit, path, "")
		if err != nil {
			t.Fatalf("RecordOperation() error = %v", err)
		}
		ids = append(ids, id)
		time.Sleep(time.Millisecond)
	}

	t.Run("newest first", func(t *testing.T) {
		ops, err := log.OperationsSince(ctx, time.Time{}, 0)
		if err != nil {
			t.Fatalf("OperationsSince() error = %v", err)
		}
		if len(ops) != 3 {
			t.Fatalf("expected 3 operations, got %d", len(ops))
		}
		if ops[0].OperationID != ids[2] || ops[2].OperationID != ids[0] {
			t.Error("operations should come back newest first")
		}
	})

	t.Run("since filter", func(t *testing.T) {
		all, err := log.OperationsSince(ctx, time.Time{}, 0)
		if err != nil {
			t.Fatalf("OperationsSince() error = %v", err)
		}
		// Everything at or before the middle operation is cut off.
		ops, err := log.OperationsSince(ctx, all[1].Timestamp, 0)
		if err != nil {
			t.Fatalf("OperationsSince() error = %v", err)
		}
		if len(ops) != 1 {
			t.Fatalf("expected 1 operation after the cutoff, got %d", len(ops))
		}
		if ops[0].OperationID != ids[2] {
			t.Errorf("got %q, want the newest operation", ops[0].OperationID)
		}
	})

	t.Run("limit", func(t *testing.T) {
		ops, err := log.OperationsSince(ctx, time.Time{}, 2)
		if err != nil {
			t.Fatalf("OperationsSince() error = %v", err)
		}
		if len(ops) != 2 {
			t.Fatalf("expected 2 operations, got %d", len(ops))
		}
		if ops[0].OperationID != ids[2] {
			t.Error("limit should keep the newest operations")
		}
	})
}

func TestLog_OperationsSinceUnbounded(t *testing.T) {
	ctx := context.Background()
	log := newTestLog(t)

	// More operations than a single store fetch returns; the read must
	// keep growing the fetch until it has seen them all.
	total := DefaultWindow + 15
	for i := 0; i < total; i++ {
		if _, err := log.RecordOperation(ctx, OpFileEdit, fmt.Sprintf("f%d.go", i), ""); err != nil {
			t.Fatalf("RecordOperation() error = %v", err)
		}
	}

	ops, err := log.OperationsSince(ctx, time.Time{}, 0)
	if err != nil {
		t.Fatalf("OperationsSince() error = %v", err)
	}
	if len(ops) != total {
		t.Errorf("OperationsSince() returned %d operations, want %d", len(ops), total)
	}

	capped, err := log.OperationsSince(ctx, time.Time{}, 5)
	if err != nil {
		t.Fatalf("OperationsSince() error = %v", err)
	}
	if len(capped) != 5 {
		t.Errorf("OperationsSince() with limit returned %d operations, want 5", len(capped))
	}
}

func TestLog_UndoMarkers(t *testing.T) {
	ctx := context.Background()
	log := newTestLog(t)

	id, err := log.RecordOperation(ctx, OpFileDelete, "old.go", "")
	if err != nil {
		t.Fatalf("RecordOperation() error = %v", err)
	}

	undone, err := log.IsUndone(ctx, id)
	if err != nil {
		t.Fatalf("IsUndone() error = %v", err)
	}
	if undone {
		t.Error("fresh operation should not be undone")
	}

	if err := log.MarkUndone(ctx, id); err != nil {
		t.Fatalf("MarkUndone() error = %v", err)
	}
	// A second marker for the same operation is harmless.
	if err := log.MarkUndone(ctx, id); err != nil {
		t.Fatalf("MarkUndone() second call error = %v", err)
	}

	undone, err = log.IsUndone(ctx, id)
	if err != nil {
		t.Fatalf("IsUndone() error = %v", err)
	}
	if !undone {
		t.Error("operation should be undone after marking")
	}
}
