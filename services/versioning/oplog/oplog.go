// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package oplog is the append-only ledger of agent file mutations.
//
// Contract with external mutators: any tool that edits or deletes a
// tracked file must capture a pre-mutation snapshot and record the
// operation before (or atomically with) the mutation, or the operation
// becomes permanently unrecoverable. Create operations need no pre-state
// snapshot; their reversal is deletion.
//
// "Undone" is never a field mutated in place. It is derived at query
// time from the presence of undo marker records.
package oplog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/rewind/services/versioning/record"
)

// OperationType classifies an agent file mutation.
type OperationType string

const (
	OpFileEdit     OperationType = "file_edit"
	OpFileCreate   OperationType = "file_create"
	OpFileDelete   OperationType = "file_delete"
	OpConfigChange OperationType = "config_change"
)

// ValidOperationTypes enumerates the accepted operation types.
var ValidOperationTypes = map[OperationType]bool{
	OpFileEdit:     true,
	OpFileCreate:   true,
	OpFileDelete:   true,
	OpConfigChange: true,
}

// Sentinel errors for the operation log.
var (
	// ErrInvalidOperationType indicates an unknown operation type.
	ErrInvalidOperationType = errors.New("invalid operation type")

	// ErrOperationNotFound indicates no operation exists for an id.
	ErrOperationNotFound = errors.New("operation not found")
)

// DefaultWindow is the initial fetch size for OperationsSince. It
// bounds a single store round trip, not the result: reads grow the
// fetch until the store returns fewer results than asked for.
const DefaultWindow = 200

// OperationRecord is one appended file mutation fact.
type OperationRecord struct {
	OperationID   string        `json:"operation_id"`
	OperationType OperationType `json:"operation_type"`
	RelativePath  string        `json:"relative_path"`
	Timestamp     time.Time     `json:"timestamp"`
	Description   string        `json:"description"`
}

// operationPayload is the JSON payload carried in the record.
type operationPayload struct {
	OperationType string `json:"operation_type"`
	Description   string `json:"description"`
}

// Log is the operation log for one project root.
//
// Thread Safety: safe for concurrent use; all state lives in the record
// store.
type Log struct {
	records   record.Store
	dataSpace string
}

// NewLog creates an operation log.
func NewLog(records record.Store, dataSpace string) (*Log, error) {
	if records == nil {
		return nil, errors.New("records must not be nil")
	}
	return &Log{records: records, dataSpace: dataSpace}, nil
}

// NewOperationID returns a fresh operation id.
func NewOperationID() string {
	return "op_" + uuid.NewString()
}

// RecordOperation appends a new operation record under a fresh id.
//
// Inputs:
//
//	ctx - Context for cancellation
//	typ - One of the Op* operation types
//	relPath - Path relative to the project root
//	description - Free-form summary of the mutation
//
// Outputs:
//
//	string - The new operation id
//	error - ErrInvalidOperationType or a store failure
func (l *Log) RecordOperation(ctx context.Context, typ OperationType, relPath, description string) (string, error) {
	return l.RecordOperationWithID(ctx, NewOperationID(), typ, relPath, description)
}

// RecordOperationWithID appends an operation record under a
// caller-supplied id from NewOperationID. Callers that capture a
// pre-mutation snapshot before appending the record use this, since
// the snapshot embeds the operation id.
func (l *Log) RecordOperationWithID(ctx context.Context, operationID string, typ OperationType, relPath, description string) (string, error) {
	if !ValidOperationTypes[typ] {
		return "", fmt.Errorf("%w: %s", ErrInvalidOperationType, typ)
	}

	now := time.Now().UTC()

	payload, _ := json.Marshal(operationPayload{
		OperationType: string(typ),
		Description:   description,
	})

	_, err := l.records.Append(ctx, record.Record{
		ID:      operationID,
		Type:    record.TypeOperation,
		Content: fmt.Sprintf("%s %s: %s", typ, relPath, description),
		Metadata: map[string]string{
			record.MetaOperationID: operationID,
			record.MetaPath:        filepath.ToSlash(relPath),
			record.MetaTimestamp:   record.FormatTimestamp(now),
			record.MetaPayload:     string(payload),
			record.MetaDataSpace:   l.dataSpace,
		},
	})
	if err != nil {
		return "", fmt.Errorf("recording %s operation: %w", typ, err)
	}

	slog.Info("Recorded operation",
		"operation_id", operationID,
		"type", typ,
		"path", relPath)

	return operationID, nil
}

// OperationsSince returns operations newer than the given timestamp,
// newest-first. A positive limit caps the result count; limit <= 0
// returns every matching operation.
func (l *Log) OperationsSince(ctx context.Context, since time.Time, limit int) ([]OperationRecord, error) {
	// The store ranks by relevance, so a bounded fetch can drop recent
	// operations. Grow the fetch until the store runs out of matches,
	// then cut by recency after re-sorting.
	fetchLimit := DefaultWindow
	if limit > 0 && limit*3 > fetchLimit {
		fetchLimit = limit * 3
	}

	var results []record.Result
	for {
		var err error
		results, err = l.records.Query(ctx, record.Query{
			Type: record.TypeOperation,
			Metadata: map[string]string{
				record.MetaDataSpace: l.dataSpace,
			},
			Limit: fetchLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("querying operations: %w", err)
		}
		if len(results) < fetchLimit {
			break
		}
		fetchLimit *= 2
	}

	record.SortByTimestampDesc(results)

	ops := make([]OperationRecord, 0, len(results))
	for _, res := range results {
		op := resultToOperation(res)
		if !op.Timestamp.After(since) {
			continue
		}
		ops = append(ops, op)
		if limit > 0 && len(ops) >= limit {
			break
		}
	}
	return ops, nil
}

// Find returns the operation with the given id.
func (l *Log) Find(ctx context.Context, operationID string) (*OperationRecord, error) {
	results, err := l.records.Query(ctx, record.Query{
		Type: record.TypeOperation,
		Metadata: map[string]string{
			record.MetaOperationID: operationID,
			record.MetaDataSpace:   l.dataSpace,
		},
		Limit: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("querying operation %s: %w", operationID, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, operationID)
	}
	op := resultToOperation(results[0])
	return &op, nil
}

// IsUndone reports whether at least one undo marker exists for the
// operation. Markers only accumulate, so the answer is monotonic.
func (l *Log) IsUndone(ctx context.Context, operationID string) (bool, error) {
	results, err := l.records.Query(ctx, record.Query{
		Type: record.TypeUndoMarker,
		Metadata: map[string]string{
			record.MetaOperationID: operationID,
			record.MetaDataSpace:   l.dataSpace,
		},
		Limit: 1,
	})
	if err != nil {
		return false, fmt.Errorf("querying undo markers for %s: %w", operationID, err)
	}
	return len(results) > 0, nil
}

// MarkUndone appends an undo marker for the operation. Appending a
// second marker for the same id is harmless.
func (l *Log) MarkUndone(ctx context.Context, operationID string) error {
	now := time.Now().UTC()
	_, err := l.records.Append(ctx, record.Record{
		Type:    record.TypeUndoMarker,
		Content: fmt.Sprintf("undo of %s", operationID),
		Metadata: map[string]string{
			record.MetaOperationID: operationID,
			record.MetaTimestamp:   record.FormatTimestamp(now),
			record.MetaDataSpace:   l.dataSpace,
		},
	})
	if err != nil {
		return fmt.Errorf("marking %s undone: %w", operationID, err)
	}
	return nil
}

// resultToOperation converts a record store result to an OperationRecord.
func resultToOperation(res record.Result) OperationRecord {
	op := OperationRecord{
		OperationID:  res.Metadata[record.MetaOperationID],
		RelativePath: res.Metadata[record.MetaPath],
		Timestamp:    record.Timestamp(res.Metadata),
	}
	if raw := res.Metadata[record.MetaPayload]; raw != "" {
		var payload operationPayload
		if err := json.Unmarshal([]byte(raw), &payload); err == nil {
			op.OperationType = OperationType(payload.OperationType)
			op.Description = payload.Description
		}
	}
	return op
}
