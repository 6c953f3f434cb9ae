// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package record defines the durable record store boundary for the
// versioning engine.
//
// The store is append-and-query only. Records are never updated or deleted
// in place; logical deletion and "undone" state are expressed by appending
// marker records (tombstones) that readers consult at query time. Query
// results are relevance-ranked, not time-ordered, so callers re-sort by
// the timestamp metadata field wherever recency matters.
package record

import (
	"context"
	"errors"
	"sort"
	"time"
)

// Record types written by the versioning engine.
const (
	TypeFileSnapshot       = "file_snapshot"
	TypeOperation          = "operation"
	TypeUndoMarker         = "undo_marker"
	TypeCheckpoint         = "checkpoint"
	TypeCheckpointDeletion = "checkpoint_deletion"
	TypeRollbackBackup     = "rollback_backup"
)

// Metadata keys with dedicated, filterable storage. Implementations index
// these for equality filtering; any other key is carried opaquely in the
// record payload.
const (
	MetaRecordID     = "recordId"
	MetaPath         = "path"
	MetaOperationID  = "operationId"
	MetaCheckpointID = "checkpointId"
	MetaName         = "name"
	MetaTimestamp    = "timestamp"
	MetaDataSpace    = "dataSpace"
	MetaPayload      = "payload"
)

// Sentinel errors for the record store.
var (
	// ErrNotFound indicates no record matched the query.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidRecord indicates a record is missing required fields.
	ErrInvalidRecord = errors.New("invalid record")
)

// Record is a single appended fact.
type Record struct {
	// ID is the record identifier. Empty on append lets the store
	// assign one.
	ID string

	// Type is one of the Type* constants.
	Type string

	// Content is a short human-readable summary of the fact. This is
	// the text the store indexes for relevance search.
	Content string

	// Metadata carries the machine-readable fields, keyed by the Meta*
	// constants. MetaTimestamp is RFC 3339 with nanoseconds.
	Metadata map[string]string
}

// Query selects records from the store.
type Query struct {
	// Text is an optional relevance search over record content.
	Text string

	// Type restricts results to a single record type. Empty matches all.
	Type string

	// Metadata is a set of equality filters over metadata fields.
	Metadata map[string]string

	// Limit bounds the result count. Implementations apply a default
	// when zero.
	Limit int
}

// Result is a single query hit.
type Result struct {
	ID         string
	Content    string
	Metadata   map[string]string
	Similarity float64
}

// Store is the durable record store consumed by the versioning engine.
//
// Implementations must support concurrent use. The engine relies on two
// properties only: Append durably persists the record before returning,
// and Query returns every record matching the filters up to Limit.
type Store interface {
	// Append persists a new record and returns its id.
	Append(ctx context.Context, rec Record) (string, error)

	// Query returns matching records, relevance-ranked.
	Query(ctx context.Context, q Query) ([]Result, error)
}

// Timestamp parses the MetaTimestamp field of a result's metadata.
// Returns the zero time when absent or malformed.
func Timestamp(metadata map[string]string) time.Time {
	raw, ok := metadata[MetaTimestamp]
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// FormatTimestamp renders a timestamp for the MetaTimestamp field.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// SortByTimestampDesc orders results newest-first by their timestamp
// metadata. Query results arrive relevance-ranked; every read path that
// cares about recency must re-derive time order through this helper.
func SortByTimestampDesc(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return Timestamp(results[i].Metadata).After(Timestamp(results[j].Metadata))
	})
}
