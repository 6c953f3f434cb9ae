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
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// VersionEventClassName is the Weaviate class holding engine records.
const VersionEventClassName = "VersionEvent"

// GetVersionEventSchema returns the Weaviate schema for the VersionEvent
// class.
//
// Description:
//
//	One class stores every record type the engine appends: snapshots,
//	operations, checkpoints, and their tombstone markers. Only the
//	content summary is vectorized; all identifier fields are filterable
//	and skipped during vectorization.
//
// Outputs:
//
//	*models.Class - The Weaviate class definition
func GetVersionEventSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	indexSearchable := new(bool)
	*indexSearchable = true

	skip := map[string]interface{}{
		"text2vec-transformers": map[string]interface{}{
			"skip": true,
		},
	}

	return &models.Class{
		Class:       VersionEventClassName,
		Description: "Append-only facts for agent file versioning: snapshots, operations, checkpoints, and tombstones",
		Vectorizer:  "text2vec-transformers",
		ModuleConfig: map[string]interface{}{
			"text2vec-transformers": map[string]interface{}{
				"vectorizeClassName": false,
			},
		},
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "recordId",
				DataType:        []string{"text"},
				Description:     "Unique identifier (UUID)",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
				ModuleConfig:    skip,
			},
			{
				Name:            "recordType",
				DataType:        []string{"text"},
				Description:     "Type: file_snapshot, operation, undo_marker, checkpoint, checkpoint_deletion, rollback_backup",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
				ModuleConfig:    skip,
			},
			{
				Name:            "content",
				DataType:        []string{"text"},
				Description:     "Human-readable summary of the fact",
				IndexSearchable: indexSearchable,
				Tokenization:    "word",
				// Content is vectorized for semantic search
			},
			{
				Name:            "path",
				DataType:        []string{"text"},
				Description:     "Relative file path the fact refers to",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
				ModuleConfig:    skip,
			},
			{
				Name:            "operationId",
				DataType:        []string{"text"},
				Description:     "Operation this fact belongs to",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
				ModuleConfig:    skip,
			},
			{
				Name:            "checkpointId",
				DataType:        []string{"text"},
				Description:     "Checkpoint this fact belongs to",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
				ModuleConfig:    skip,
			},
			{
				Name:            "name",
				DataType:        []string{"text"},
				Description:     "User-facing name (checkpoints only)",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
				ModuleConfig:    skip,
			},
			{
				Name:        "payload",
				DataType:    []string{"text"},
				Description: "JSON payload for structured fields (patch maps, sizes, hashes)",
				ModuleConfig: skip,
			},
			{
				Name:        "timestamp",
				DataType:    []string{"date"},
				Description: "When the fact was appended",
				ModuleConfig: skip,
			},
			{
				Name:            "dataSpace",
				DataType:        []string{"text"},
				Description:     "Project isolation key",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
				ModuleConfig:    skip,
			},
		},
	}
}

// EnsureVersionEventSchema creates the VersionEvent class if it doesn't
// exist. Idempotent.
func EnsureVersionEventSchema(ctx context.Context, client *weaviate.Client) error {
	_, err := client.Schema().ClassGetter().WithClassName(VersionEventClassName).Do(ctx)
	if err == nil {
		slog.Debug("VersionEvent schema already exists")
		return nil
	}

	slog.Info("Creating VersionEvent schema")
	if err := client.Schema().ClassCreator().WithClass(GetVersionEventSchema()).Do(ctx); err != nil {
		return fmt.Errorf("creating VersionEvent schema: %w", err)
	}

	return nil
}
