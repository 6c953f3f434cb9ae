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
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory record store.
//
// Description:
//
//	Used by tests and by local deployments that run without a vector
//	database. It honors the same contract as WeaviateStore: append-only
//	writes and relevance-ranked (not time-ordered) query results, so
//	callers exercise the same re-sorting paths either way.
//
// Thread Safety: safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryStore creates an empty in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append persists a new record.
func (s *MemoryStore) Append(ctx context.Context, rec Record) (string, error) {
	if rec.Type == "" {
		return "", fmt.Errorf("%w: missing type", ErrInvalidRecord)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	md := make(map[string]string, len(rec.Metadata)+1)
	for k, v := range rec.Metadata {
		md[k] = v
	}
	if _, ok := md[MetaTimestamp]; !ok {
		md[MetaTimestamp] = FormatTimestamp(time.Now())
	}
	md[MetaRecordID] = rec.ID
	rec.Metadata = md

	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()

	return rec.ID, nil
}

// Query returns matching records ranked by naive term overlap with the
// query text. With no text every match scores equally.
func (s *MemoryStore) Query(ctx context.Context, q Query) ([]Result, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []Result
	for _, rec := range s.records {
		if q.Type != "" && rec.Type != q.Type {
			continue
		}
		matched := true
		for k, v := range q.Metadata {
			if rec.Metadata[k] != v {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}

		md := make(map[string]string, len(rec.Metadata))
		for k, v := range rec.Metadata {
			md[k] = v
		}
		results = append(results, Result{
			ID:         rec.ID,
			Content:    rec.Content,
			Metadata:   md,
			Similarity: overlapScore(q.Text, rec.Content),
		})
	}

	// Relevance order, deliberately not time order.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// overlapScore is a crude relevance proxy: the fraction of query terms
// present in the content.
func overlapScore(text, content string) float64 {
	if text == "" {
		return 1.0
	}
	terms := strings.Fields(strings.ToLower(text))
	if len(terms) == 0 {
		return 1.0
	}
	haystack := strings.ToLower(content)
	hits := 0
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
