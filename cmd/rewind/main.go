// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command rewind starts the version management API server.
//
// Usage:
//
//	go run ./cmd/rewind
//	go run ./cmd/rewind -port 9090 -weaviate localhost:8081
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/versioning/health
//
//	# Get all available tools
//	curl http://localhost:8080/v1/versioning/tools | jq
//
//	# Create a checkpoint
//	curl -X POST http://localhost:8080/v1/versioning/checkpoints \
//	  -H "Content-Type: application/json" \
//	  -d '{"project_root": "/path/to/project", "name": "before-refactor"}'
//
//	# Undo the last operation
//	curl -X POST http://localhost:8080/v1/versioning/undo \
//	  -H "Content-Type: application/json" \
//	  -d '{"project_root": "/path/to/project", "steps": 1}'
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/AleutianAI/rewind/pkg/logging"
	"github.com/AleutianAI/rewind/services/versioning"
	"github.com/AleutianAI/rewind/services/versioning/record"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	weaviateURL := flag.String("weaviate", "", "Weaviate host (e.g. localhost:8081); empty runs with the in-memory record store")
	logDir := flag.String("log-dir", "", "Directory for JSON log files (empty disables file logging)")
	allowedRoots := flag.String("allowed-roots", "", "Comma-separated list of allowed project root prefixes")
	flag.Parse()

	level := logging.LevelInfo
	if *debug {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  *logDir,
		Service: "versioning",
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	records, err := buildRecordStore(*weaviateURL)
	if err != nil {
		logger.Error("Failed to build record store", "error", err)
		os.Exit(1)
	}

	cfg := versioning.DefaultServiceConfig()
	if *allowedRoots != "" {
		for _, root := range strings.Split(*allowedRoots, ",") {
			if root = strings.TrimSpace(root); root != "" {
				cfg.AllowedRoots = append(cfg.AllowedRoots, root)
			}
		}
	}

	svc := versioning.NewService(records, cfg)
	handlers := versioning.NewHandlers(svc)

	router := gin.New()
	router.Use(gin.Recovery())
	if *debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	versioning.RegisterRoutes(v1, handlers)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: router,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("Shutting down versioning server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Shutdown error", "error", err)
		}
	}()

	logger.Info("Starting versioning server",
		"addr", srv.Addr,
		"weaviate", *weaviateURL != "",
		"allowed_roots", len(cfg.AllowedRoots))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// buildRecordStore wires Weaviate when a host is configured and falls
// back to the in-memory store otherwise.
func buildRecordStore(weaviateURL string) (record.Store, error) {
	if weaviateURL == "" {
		slog.Warn("No Weaviate host configured, using in-memory record store; history is lost on restart")
		return record.NewMemoryStore(), nil
	}

	cfg := weaviate.Config{
		Host:   weaviateURL,
		Scheme: "http",
	}
	if strings.HasPrefix(weaviateURL, "https://") {
		cfg.Scheme = "https"
		cfg.Host = strings.TrimPrefix(weaviateURL, "https://")
	} else if strings.HasPrefix(weaviateURL, "http://") {
		cfg.Host = strings.TrimPrefix(weaviateURL, "http://")
	}

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := record.EnsureVersionEventSchema(ctx, client); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return record.NewWeaviateStore(client)
}
