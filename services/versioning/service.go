// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package versioning provides the HTTP service for the version
// management engine.
//
// The service exposes endpoints for:
//   - Creating, listing, inspecting, and deleting checkpoints
//   - Undoing recent operations
//   - Rolling back to a checkpoint, timestamp, or operation
//   - Recording imminent mutations on behalf of external tools
package versioning

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/rewind/services/versioning/engine"
	"github.com/AleutianAI/rewind/services/versioning/record"
)

// Sentinel errors for the versioning service.
var (
	// ErrRelativePath indicates a project root that is not absolute.
	ErrRelativePath = errors.New("project root must be an absolute path")

	// ErrPathTraversal indicates a project root containing traversal
	// sequences.
	ErrPathTraversal = errors.New("project root must not contain path traversal")

	// ErrRootNotAllowed indicates a project root outside the
	// configured allowlist.
	ErrRootNotAllowed = errors.New("project root is not in the allowed roots")
)

// ServiceConfig configures the versioning service.
type ServiceConfig struct {
	// AllowedRoots is an optional list of allowed project root prefixes.
	// If empty, all paths are allowed. Security feature.
	AllowedRoots []string

	// MaxEngines is the maximum number of cached per-root engines.
	// Default: 16
	MaxEngines int

	// Retention is the checkpoint count kept by auto cleanup.
	// Default: 20
	Retention int

	// BackupDirName is the backup directory name under each project
	// root. Default: ".rewind"
	BackupDirName string
}

// DefaultServiceConfig returns sensible defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxEngines:    16,
		Retention:     20,
		BackupDirName: engine.DefaultBackupDirName,
	}
}

// cachedEngine pairs an engine with its creation time for eviction.
type cachedEngine struct {
	engine       *engine.Engine
	builtAtMilli int64
}

// Service is the versioning service.
//
// Thread Safety:
//
//	Service is safe for concurrent use. Engines are cached per
//	resolved project root; each engine serializes its own mutating
//	operations.
type Service struct {
	config  ServiceConfig
	records record.Store
	engines map[string]*cachedEngine
	mu      sync.RWMutex
}

// NewService creates a new versioning service.
//
// Inputs:
//
//	records - Record store shared by all project engines. Must not be nil.
//	config - Service configuration
//
// Outputs:
//
//	*Service - The configured service
func NewService(records record.Store, config ServiceConfig) *Service {
	if config.MaxEngines <= 0 {
		config.MaxEngines = 16
	}
	return &Service{
		config:  config,
		records: records,
		engines: make(map[string]*cachedEngine),
	}
}

// EngineFor returns the engine for a project root, creating and
// caching it on first use.
//
// Errors:
//
//	ErrRelativePath - Project root is not absolute
//	ErrPathTraversal - Project root contains .. sequences
//	ErrRootNotAllowed - Project root is outside the allowlist
func (s *Service) EngineFor(projectRoot string) (*engine.Engine, error) {
	if err := s.validateProjectRoot(projectRoot); err != nil {
		return nil, err
	}

	resolved, err := filepath.EvalSymlinks(projectRoot)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	cached, ok := s.engines[resolved]
	s.mu.RUnlock()
	if ok {
		return cached.engine, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.engines[resolved]; ok {
		return cached.engine, nil
	}

	eng, err := engine.New(resolved, s.records, engine.Options{
		BackupDirName: s.config.BackupDirName,
		Retention:     s.config.Retention,
	})
	if err != nil {
		return nil, err
	}

	s.engines[resolved] = &cachedEngine{
		engine:       eng,
		builtAtMilli: time.Now().UnixMilli(),
	}
	s.evictIfNeeded()
	return eng, nil
}

// EngineCount returns the number of cached engines.
func (s *Service) EngineCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.engines)
}

// validateProjectRoot validates the project root path.
func (s *Service) validateProjectRoot(projectRoot string) error {
	if !filepath.IsAbs(projectRoot) {
		return ErrRelativePath
	}
	if strings.Contains(projectRoot, "..") {
		return ErrPathTraversal
	}
	if len(s.config.AllowedRoots) > 0 {
		allowed := false
		for _, root := range s.config.AllowedRoots {
			if strings.HasPrefix(projectRoot, root) {
				allowed = true
				break
			}
		}
		if !allowed {
			return ErrRootNotAllowed
		}
	}
	return nil
}

// evictIfNeeded removes engines if over capacity. Caller must hold
// the write lock. Engines hold no unflushed state, so eviction only
// drops the cached handle.
func (s *Service) evictIfNeeded() {
	for len(s.engines) > s.config.MaxEngines {
		var oldestKey string
		oldestTime := time.Now().UnixMilli()
		for key, cached := range s.engines {
			if cached.builtAtMilli < oldestTime {
				oldestTime = cached.builtAtMilli
				oldestKey = key
			}
		}
		if oldestKey == "" {
			return
		}
		delete(s.engines, oldestKey)
	}
}
