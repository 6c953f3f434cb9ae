// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package record

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_Append(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	t.Run("generates id and default timestamp", func(t *testing.T) {
		id, err := store.Append(ctx, Record{
			Type:    TypeOperation,
			Content: "edit main.go",
			Metadata: map[string]string{
				MetaDataSpace: "proj_test",
			},
		})
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if id == "" {
			t.Fatal("Append() should generate an id")
		}

		results, err := store.Query(ctx, Query{
			Type:     TypeOperation,
			Metadata: map[string]string{MetaRecordID: id},
		})
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if len(results) != 1 {
			t.Fatalf("expected 1 result, got %d", len(results))
		}
		if Timestamp(results[0].Metadata).IsZero() {
			t.Error("Append() should stamp a default timestamp")
		}
	})

	t.Run("keeps explicit id", func(t *testing.T) {
		id, err := store.Append(ctx, Record{
			ID:      "snap_fixed",
			Type:    TypeFileSnapshot,
			Content: "snapshot of main.go",
		})
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if id != "snap_fixed" {
			t.Errorf("Append() id = %q, want snap_fixed", id)
		}
	})

	t.Run("rejects missing type", func(t *testing.T) {
		_, err := store.Append(ctx, Record{Content: "no type"})
		if !errors.Is(err, ErrInvalidRecord) {
			t.Errorf("Append() error = %v, want ErrInvalidRecord", err)
		}
	})
}

func TestMemoryStore_QueryFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	mustAppend(t, store, Record{
		Type:     TypeOperation,
		Content:  "edit alpha.go",
		Metadata: map[string]string{MetaDataSpace: "proj_a", MetaOperationID: "op_1"},
	})
	mustAppend(t, store, Record{
		Type:     TypeOperation,
		Content:  "edit beta.go",
		Metadata: map[string]string{MetaDataSpace: "proj_b", MetaOperationID: "op_2"},
	})
	mustAppend(t, store, Record{
		Type:     TypeUndoMarker,
		Content:  "undo op_1",
		Metadata: map[string]string{MetaDataSpace: "proj_a", MetaOperationID: "op_1"},
	})

	t.Run("filters by type", func(t *testing.T) {
		results, err := store.Query(ctx, Query{Type: TypeUndoMarker})
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if len(results) != 1 {
			t.Errorf("expected 1 undo marker, got %d", len(results))
		}
	})

	t.Run("filters by metadata", func(t *testing.T) {
		results, err := store.Query(ctx, Query{
			Type:     TypeOperation,
			Metadata: map[string]string{MetaDataSpace: "proj_a"},
		})
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if len(results) != 1 {
			t.Fatalf("expected 1 operation in proj_a, got %d", len(results))
		}
		if results[0].Metadata[MetaOperationID] != "op_1" {
			t.Errorf("got operation %q, want op_1", results[0].Metadata[MetaOperationID])
		}
	})

	t.Run("respects limit", func(t *testing.T) {
		results, err := store.Query(ctx, Query{Limit: 1})
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if len(results) != 1 {
			t.Errorf("expected 1 result with limit 1, got %d", len(results))
		}
	})
}

// Results come back in relevance order, so consumers that need history
// must re-sort on the timestamp metadata themselves.
func TestMemoryStore_RelevanceNotTimeOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	older := FormatTimestamp(time.Now().Add(-time.Hour))
	newer := FormatTimestamp(time.Now())

	mustAppend(t, store, Record{
		Type:     TypeOperation,
		Content:  "refactor parser tokenizer grammar",
		Metadata: map[string]string{MetaTimestamp: older, MetaOperationID: "op_old"},
	})
	mustAppend(t, store, Record{
		Type:     TypeOperation,
		Content:  "fix typo",
		Metadata: map[string]string{MetaTimestamp: newer, MetaOperationID: "op_new"},
	})

	results, err := store.Query(ctx, Query{
		Type: TypeOperation,
		Text: "parser tokenizer",
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Metadata[MetaOperationID] != "op_old" {
		t.Fatal("the relevant older record should rank first")
	}

	SortByTimestampDesc(results)
	if results[0].Metadata[MetaOperationID] != "op_new" {
		t.Error("SortByTimestampDesc should put the newest record first")
	}
}

func TestTimestamp(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)

	got := Timestamp(map[string]string{MetaTimestamp: FormatTimestamp(now)})
	if !got.Equal(now) {
		t.Errorf("Timestamp() = %v, want %v", got, now)
	}

	if !Timestamp(nil).IsZero() {
		t.Error("Timestamp(nil) should be zero")
	}
	if !Timestamp(map[string]string{MetaTimestamp: "garbage"}).IsZero() {
		t.Error("Timestamp() should be zero for unparseable values")
	}
}

func mustAppend(t *testing.T, store *MemoryStore, rec Record) string {
	t.Helper()
	id, err := store.Append(context.Background(), rec)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	return id
}
