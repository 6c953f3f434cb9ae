// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/rewind/services/versioning/record"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	store, err := NewStore(root, filepath.Join(root, ".rewind", "files"), record.NewMemoryStore(), "proj_test")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store, root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0640); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestStore_CreateAndRestore(t *testing.T) {
	ctx := context.Background()
	store, root := newTestStore(t)

	path := filepath.Join(root, "src", "main.go")
	writeFile(t, path, "package main\n")

	snapID, err := store.Create(ctx, path, "op_1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !strings.HasPrefix(snapID, "op_1_") {
		t.Errorf("snapshot id %q should be tagged with the operation id", snapID)
	}

	// Mutate the file, then restore the captured state.
	writeFile(t, path, "package main\n\nfunc main() {}\n")

	snap, err := store.Find(ctx, "src/main.go", "op_1")
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if snap.SnapshotID != snapID {
		t.Errorf("Find() id = %q, want %q", snap.SnapshotID, snapID)
	}
	if snap.Size != int64(len("package main\n")) {
		t.Errorf("Find() size = %d, want %d", snap.Size, len("package main\n"))
	}

	if err := store.Restore(ctx, snap, path); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(content) != "package main\n" {
		t.Errorf("restored content = %q, want original", content)
	}
}

func TestStore_CreateAbsentSource(t *testing.T) {
	ctx := context.Background()
	store, root := newTestStore(t)

	// A file that never existed has nothing to capture. Creation
	// operations take this path.
	snapID, err := store.Create(ctx, filepath.Join(root, "nope.go"), "op_1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if snapID != "" {
		t.Errorf("Create() on absent source should return empty id, got %q", snapID)
	}
}

func TestStore_FindMissing(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.Find(ctx, "src/main.go", "op_none")
	if !errors.Is(err, ErrSnapshotMissing) {
		t.Errorf("Find() error = %v, want ErrSnapshotMissing", err)
	}

	_, err = store.FindByID(ctx, "snap_none")
	if !errors.Is(err, ErrSnapshotMissing) {
		t.Errorf("FindByID() error = %v, want ErrSnapshotMissing", err)
	}
}

func TestStore_FindPicksNewest(t *testing.T) {
	ctx := context.Background()
	store, root := newTestStore(t)

	path := filepath.Join(root, "config.yaml")
	writeFile(t, path, "v1")
	if _, err := store.Create(ctx, path, "op_1"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	writeFile(t, path, "v2")
	second, err := store.Create(ctx, path, "op_1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	snap, err := store.Find(ctx, "config.yaml", "op_1")
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if snap.SnapshotID != second {
		t.Errorf("Find() should pick the newest snapshot, got %q want %q", snap.SnapshotID, second)
	}
}

func TestStore_RestoreRejectsTamperedBlob(t *testing.T) {
	ctx := context.Background()
	store, root := newTestStore(t)

	path := filepath.Join(root, "a.txt")
	writeFile(t, path, "original")
	snapID, err := store.Create(ctx, path, "op_1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Corrupt the blob behind the store's back.
	writeFile(t, filepath.Join(store.BlobDir(), snapID), "tampered")

	snap, err := store.FindByID(ctx, snapID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if err := store.Restore(ctx, snap, path); !errors.Is(err, ErrHashMismatch) {
		t.Errorf("Restore() error = %v, want ErrHashMismatch", err)
	}
}

func TestStore_DeleteBlobsTagged(t *testing.T) {
	ctx := context.Background()
	store, root := newTestStore(t)

	a := filepath.Join(root, "a.txt")
	b := filepath.Join(root, "b.txt")
	writeFile(t, a, "a")
	writeFile(t, b, "b")

	if _, err := store.Create(ctx, a, "cp_1"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := store.Create(ctx, b, "cp_1"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	keep, err := store.Create(ctx, a, "cp_2")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	removed, err := store.DeleteBlobsTagged("cp_1", nil)
	if err != nil {
		t.Fatalf("DeleteBlobsTagged() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("DeleteBlobsTagged() removed = %d, want 2", removed)
	}
	if _, err := os.Stat(filepath.Join(store.BlobDir(), keep)); err != nil {
		t.Errorf("blob for cp_2 should survive, stat error = %v", err)
	}
}

func TestStore_DeleteBlobsTaggedKeepsReferenced(t *testing.T) {
	ctx := context.Background()
	store, root := newTestStore(t)

	a := filepath.Join(root, "a.txt")
	b := filepath.Join(root, "b.txt")
	writeFile(t, a, "a")
	writeFile(t, b, "b")

	kept, err := store.Create(ctx, a, "cp_1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := store.Create(ctx, b, "cp_1"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	removed, err := store.DeleteBlobsTagged("cp_1", map[string]bool{kept: true})
	if err != nil {
		t.Fatalf("DeleteBlobsTagged() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("DeleteBlobsTagged() removed = %d, want 1", removed)
	}
	if _, err := os.Stat(filepath.Join(store.BlobDir(), kept)); err != nil {
		t.Errorf("kept blob should survive, stat error = %v", err)
	}
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	writeFile(t, path, "hello")

	sum, size, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile() error = %v", err)
	}
	if size != 5 {
		t.Errorf("HashFile() size = %d, want 5", size)
	}
	// sha256("hello")
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if sum != want {
		t.Errorf("HashFile() sum = %q, want %q", sum, want)
	}
}
