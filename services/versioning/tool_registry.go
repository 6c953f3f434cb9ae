// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package versioning

// ToolParam represents a parameter in a tool definition.
type ToolParam struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Default     string   `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// ToolDefinition represents a tool available to the agent.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Category    string      `json:"category"`
	Parameters  []ToolParam `json:"parameters"`
	Returns     string      `json:"returns"`
	Performance string      `json:"performance"`
}

// ToolRegistry provides tool definitions for agent discovery.
//
// Thread Safety:
//
//	ToolRegistry is immutable after initialization and safe for
//	concurrent use.
type ToolRegistry struct {
	tools []ToolDefinition
}

// NewToolRegistry creates a registry with all available tools.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: allToolDefinitions(),
	}
}

// GetTools returns all available tool definitions.
func (r *ToolRegistry) GetTools() []ToolDefinition {
	return r.tools
}

// GetToolsByCategory returns tools filtered by category.
func (r *ToolRegistry) GetToolsByCategory(category string) []ToolDefinition {
	var result []ToolDefinition
	for _, t := range r.tools {
		if t.Category == category {
			result = append(result, t)
		}
	}
	return result
}

// allToolDefinitions returns the versioning tool definitions.
func allToolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		// ==================== CHECKPOINT TOOLS ====================
		{
			Name:        "create_checkpoint",
			Description: "Create a named checkpoint of the current project state. Incremental: only files changed since the most recent checkpoint with the same filters get new snapshots. A checkpoint with zero changes is a no-op.",
			Category:    "checkpoint",
			Parameters: []ToolParam{
				{Name: "project_root", Type: "string", Description: "Absolute path to the project root", Required: true},
				{Name: "name", Type: "string", Description: "Checkpoint name. Not a unique key; lookups resolve to the most recent checkpoint with this name", Required: true},
				{Name: "description", Type: "string", Description: "Free-form summary of why this checkpoint exists", Required: false},
				{Name: "include_files", Type: "array", Description: "Path fragments to include; empty means everything", Required: false},
				{Name: "exclude_files", Type: "array", Description: "Path fragments to exclude", Required: false},
				{Name: "auto_cleanup", Type: "boolean", Description: "Evict the oldest checkpoints past the retention limit", Required: false, Default: "true"},
			},
			Returns:     "Checkpoint id, file counts, and changed-file count; no_op true when nothing changed",
			Performance: "Scans and hashes the tracked tree; proportional to changed bytes for snapshot writes",
		},
		{
			Name:        "list_checkpoints",
			Description: "List all live checkpoints for a project, newest first. Deleted checkpoints are excluded.",
			Category:    "checkpoint",
			Parameters: []ToolParam{
				{Name: "project_root", Type: "string", Description: "Absolute path to the project root", Required: true},
			},
			Returns:     "Checkpoint summaries with id, name, timestamp, and size totals",
			Performance: "Single metadata query",
		},
		{
			Name:        "get_checkpoint_info",
			Description: "Inspect a checkpoint by name, including its full patch map of tracked paths to snapshot ids.",
			Category:    "checkpoint",
			Parameters: []ToolParam{
				{Name: "project_root", Type: "string", Description: "Absolute path to the project root", Required: true},
				{Name: "name", Type: "string", Description: "Checkpoint name; resolves to the most recent live checkpoint", Required: true},
			},
			Returns:     "Checkpoint summary plus the patch map",
			Performance: "Single metadata query",
		},
		{
			Name:        "delete_checkpoint",
			Description: "Delete a checkpoint by name. The checkpoint record is tombstoned, not erased, and its snapshot blobs are removed from the backup directory.",
			Category:    "checkpoint",
			Parameters: []ToolParam{
				{Name: "project_root", Type: "string", Description: "Absolute path to the project root", Required: true},
				{Name: "name", Type: "string", Description: "Checkpoint name; resolves to the most recent live checkpoint", Required: true},
			},
			Returns:     "Deleted checkpoint id and count of removed snapshot blobs",
			Performance: "Single metadata append plus blob directory sweep",
		},

		// ==================== HISTORY TOOLS ====================
		{
			Name:        "undo_last_operation",
			Description: "Undo the most recent file operations. Edits and deletes restore the pre-operation snapshot; creates delete the created file. Already-undone operations are skipped.",
			Category:    "history",
			Parameters: []ToolParam{
				{Name: "project_root", Type: "string", Description: "Absolute path to the project root", Required: true},
				{Name: "steps", Type: "integer", Description: "Number of operations to undo", Required: false, Default: "1"},
				{Name: "operation_type", Type: "string", Description: "Restrict to one operation type", Required: false, Enum: []string{"file_edit", "file_create", "file_delete", "config_change"}},
				{Name: "target_files", Type: "array", Description: "Path fragments; only operations touching matching paths are undone", Required: false},
				{Name: "dry_run", Type: "boolean", Description: "Report what would be undone without changing anything", Required: false, Default: "false"},
			},
			Returns:     "Undone operations and affected files",
			Performance: "Proportional to steps; one snapshot restore per reversed operation",
		},
		{
			Name:        "rollback_to_point",
			Description: "Roll back the project to a checkpoint, timestamp, or operation. Reverses every logged operation newer than the target, newest first, then restores checkpoint-tracked files missing from disk. Best-effort: individual failures are reported, not fatal.",
			Category:    "history",
			Parameters: []ToolParam{
				{Name: "project_root", Type: "string", Description: "Absolute path to the project root", Required: true},
				{Name: "target", Type: "object", Description: "Exactly one of checkpoint_id, checkpoint_name, timestamp (RFC 3339 or epoch seconds), operation_id", Required: true},
				{Name: "scope", Type: "string", Description: "What the rollback touches", Required: false, Default: "all", Enum: []string{"all", "operations", "files"}},
				{Name: "include_files", Type: "array", Description: "Path fragments to include", Required: false},
				{Name: "exclude_files", Type: "array", Description: "Path fragments to exclude", Required: false},
				{Name: "preview", Type: "boolean", Description: "Compute the impact estimate without changing anything", Required: false, Default: "false"},
				{Name: "create_backup", Type: "boolean", Description: "Record an audit marker of the pre-rollback state", Required: false, Default: "false"},
			},
			Returns:     "Impact estimate, per-operation outcomes, and restored file count",
			Performance: "Proportional to operations past the target plus missing tracked files",
		},

		// ==================== BOOKKEEPING TOOLS ====================
		{
			Name:        "record_operation",
			Description: "Record an imminent file mutation before performing it. Edits, deletes, and config changes capture a pre-mutation snapshot; skipping this call makes the mutation permanently unrecoverable.",
			Category:    "bookkeeping",
			Parameters: []ToolParam{
				{Name: "project_root", Type: "string", Description: "Absolute path to the project root", Required: true},
				{Name: "operation_type", Type: "string", Description: "The kind of mutation about to happen", Required: true, Enum: []string{"file_edit", "file_create", "file_delete", "config_change"}},
				{Name: "relative_path", Type: "string", Description: "Slash-separated path relative to the project root", Required: true},
				{Name: "description", Type: "string", Description: "Free-form summary of the mutation", Required: false},
			},
			Returns:     "Operation id, plus the snapshot id when pre-state was captured",
			Performance: "One metadata append; edits and deletes add one file copy and hash",
		},
	}
}
