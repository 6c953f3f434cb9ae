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
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// WeaviateStore is the production record store backed by Weaviate.
//
// Description:
//
//	The store only ever creates objects. Update and delete paths in the
//	Weaviate API are intentionally unused: every state change the engine
//	needs is expressed as a newly appended fact, which keeps the audit
//	trail complete and sidesteps the store's unreliable delete semantics.
//
// Thread Safety: safe for concurrent use.
type WeaviateStore struct {
	client *weaviate.Client
}

// NewWeaviateStore creates a Weaviate-backed record store.
//
// Inputs:
//
//	client - Weaviate client. Must not be nil.
//
// Outputs:
//
//	*WeaviateStore - The configured store
//	error - Non-nil if client is nil
func NewWeaviateStore(client *weaviate.Client) (*WeaviateStore, error) {
	if client == nil {
		return nil, errors.New("client must not be nil")
	}
	return &WeaviateStore{client: client}, nil
}

// Append persists a new record.
func (s *WeaviateStore) Append(ctx context.Context, rec Record) (string, error) {
	if rec.Type == "" {
		return "", fmt.Errorf("%w: missing type", ErrInvalidRecord)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	props := map[string]interface{}{
		"recordId":   rec.ID,
		"recordType": rec.Type,
		"content":    rec.Content,
	}
	for key, prop := range metaProperties {
		if v, ok := rec.Metadata[key]; ok {
			props[prop] = v
		}
	}
	if _, ok := props["timestamp"]; !ok {
		props["timestamp"] = FormatTimestamp(time.Now())
	}

	_, err := s.client.Data().Creator().
		WithClassName(VersionEventClassName).
		WithProperties(props).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("appending %s record: %w", rec.Type, err)
	}

	slog.Debug("Appended record", "record_id", rec.ID, "type", rec.Type)
	return rec.ID, nil
}

// Query returns matching records, relevance-ranked when Text is set.
func (s *WeaviateStore) Query(ctx context.Context, q Query) ([]Result, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	var operands []*filters.WhereBuilder
	if q.Type != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"recordType"}).
			WithOperator(filters.Equal).
			WithValueString(q.Type))
	}
	for key, value := range q.Metadata {
		prop, ok := metaProperties[key]
		if !ok {
			return nil, fmt.Errorf("unfilterable metadata key %q", key)
		}
		operands = append(operands, filters.Where().
			WithPath([]string{prop}).
			WithOperator(filters.Equal).
			WithValueString(value))
	}

	fields := queryFields()

	builder := s.client.GraphQL().Get().
		WithClassName(VersionEventClassName).
		WithFields(fields...).
		WithLimit(limit)

	if len(operands) == 1 {
		builder = builder.WithWhere(operands[0])
	} else if len(operands) > 1 {
		builder = builder.WithWhere(filters.Where().
			WithOperator(filters.And).
			WithOperands(operands))
	}

	if q.Text != "" {
		builder = builder.WithBM25(s.client.GraphQL().Bm25ArgBuilder().WithQuery(q.Text))
	}

	result, err := builder.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("query error: %s", result.Errors[0].Message)
	}

	return parseResults(result), nil
}

// metaProperties maps metadata keys to VersionEvent properties.
var metaProperties = map[string]string{
	MetaRecordID:     "recordId",
	MetaPath:         "path",
	MetaOperationID:  "operationId",
	MetaCheckpointID: "checkpointId",
	MetaName:         "name",
	MetaTimestamp:    "timestamp",
	MetaDataSpace:    "dataSpace",
	MetaPayload:      "payload",
}

func queryFields() []graphql.Field {
	return []graphql.Field{
		{Name: "recordId"},
		{Name: "recordType"},
		{Name: "content"},
		{Name: "path"},
		{Name: "operationId"},
		{Name: "checkpointId"},
		{Name: "name"},
		{Name: "payload"},
		{Name: "timestamp"},
		{Name: "dataSpace"},
		{Name: "_additional { score }"},
	}
}

// parseResults converts a GraphQL response into Results.
func parseResults(result *models.GraphQLResponse) []Result {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return []Result{}
	}

	objects, ok := data[VersionEventClassName].([]interface{})
	if !ok {
		return []Result{}
	}

	results := make([]Result, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue // skip malformed objects
		}

		metadata := make(map[string]string)
		for key, prop := range metaProperties {
			if v := getString(m, prop); v != "" {
				metadata[key] = v
			}
		}

		res := Result{
			ID:       getString(m, "recordId"),
			Content:  getString(m, "content"),
			Metadata: metadata,
		}

		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			switch score := additional["score"].(type) {
			case float64:
				res.Similarity = score
			case string:
				// BM25 scores come back as strings from some server versions.
				fmt.Sscanf(score, "%f", &res.Similarity)
			}
		}

		results = append(results, res)
	}

	return results
}

// getString safely extracts a string from a map.
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
