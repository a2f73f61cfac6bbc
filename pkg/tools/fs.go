// Copyright 2026 Tapestry Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tools provides the built-in workspace tools. All mutating file
// tools go through the transaction engine so a partial failure never leaves
// the workspace half-written.
package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tapestry-labs/tapestry/internal/log"
	"github.com/tapestry-labs/tapestry/pkg/retry"
	"github.com/tapestry-labs/tapestry/pkg/shuttle"
	"github.com/tapestry-labs/tapestry/pkg/transaction"
)

const (
	codeInvalidParams = "INVALID_PARAMS"
	codeFileNotFound  = "FILE_NOT_FOUND"
	codeReadFailed    = "READ_FAILED"
	codeWriteFailed   = "WRITE_FAILED"
)

// commitRetry governs re-commits after a rolled-back transaction. No user
// guidance: tool calls are non-interactive.
var commitRetry = retry.Config{
	MaxAttempts:       3,
	InitialDelay:      100 * time.Millisecond,
	MaxDelay:          2 * time.Second,
	BackoffMultiplier: 2.0,
}

// NewFileTools returns the workspace file tools rooted at baseDir. Relative
// paths in tool parameters resolve against baseDir.
func NewFileTools(baseDir string, logger *log.Logger) []shuttle.Tool {
	if logger == nil {
		logger = log.L()
	}
	return []shuttle.Tool{
		&ReadFileTool{baseDir: baseDir},
		&WriteFileTool{baseDir: baseDir, logger: logger},
		&DeleteFileTool{baseDir: baseDir, logger: logger},
		&MoveFileTool{baseDir: baseDir, logger: logger},
		&ListDirTool{baseDir: baseDir},
	}
}

// ReadFileTool reads a file from the workspace.
type ReadFileTool struct {
	baseDir string
}

func (t *ReadFileTool) Name() string        { return "fs_read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a file" }

func (t *ReadFileTool) InputSchema() *shuttle.JSONSchema {
	return shuttle.NewObjectSchema("read a file", map[string]*shuttle.JSONSchema{
		"path": shuttle.NewStringSchema("file path, relative to the workspace root"),
	}, []string{"path"})
}

func (t *ReadFileTool) Execute(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
	path, ok := stringParam(params, "path")
	if !ok {
		return invalidParams("path is required"), nil
	}
	data, err := os.ReadFile(resolve(t.baseDir, path))
	if err != nil {
		if os.IsNotExist(err) {
			return &shuttle.Result{Success: false, Error: &shuttle.Error{
				Code:       codeFileNotFound,
				Message:    fmt.Sprintf("file not found: %s", path),
				Suggestion: "check the path with fs_list_dir",
			}}, nil
		}
		return &shuttle.Result{Success: false, Error: &shuttle.Error{
			Code:      codeReadFailed,
			Message:   err.Error(),
			Retryable: true,
		}}, nil
	}
	return &shuttle.Result{Success: true, Data: string(data)}, nil
}

// WriteFileTool creates or overwrites a file atomically.
type WriteFileTool struct {
	baseDir string
	logger  *log.Logger
}

func (t *WriteFileTool) Name() string        { return "fs_write_file" }
func (t *WriteFileTool) Description() string { return "Create or overwrite a file with new content" }

func (t *WriteFileTool) InputSchema() *shuttle.JSONSchema {
	return shuttle.NewObjectSchema("write a file", map[string]*shuttle.JSONSchema{
		"path":    shuttle.NewStringSchema("file path, relative to the workspace root"),
		"content": shuttle.NewStringSchema("full file content"),
	}, []string{"path", "content"})
}

func (t *WriteFileTool) Execute(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
	path, ok := stringParam(params, "path")
	if !ok {
		return invalidParams("path is required"), nil
	}
	content, ok := stringParam(params, "content")
	if !ok {
		return invalidParams("content is required"), nil
	}

	tx := transaction.New(t.baseDir, transaction.WithLogger(t.logger))
	if _, err := os.Stat(resolve(t.baseDir, path)); err == nil {
		_ = tx.AddUpdate(path, content)
	} else {
		_ = tx.AddCreate(path, content)
	}
	return commit(ctx, tx, t.logger, map[string]interface{}{"path": path})
}

// DeleteFileTool removes a file.
type DeleteFileTool struct {
	baseDir string
	logger  *log.Logger
}

func (t *DeleteFileTool) Name() string        { return "fs_delete_file" }
func (t *DeleteFileTool) Description() string { return "Delete a file" }

func (t *DeleteFileTool) InputSchema() *shuttle.JSONSchema {
	return shuttle.NewObjectSchema("delete a file", map[string]*shuttle.JSONSchema{
		"path": shuttle.NewStringSchema("file path, relative to the workspace root"),
	}, []string{"path"})
}

func (t *DeleteFileTool) Execute(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
	path, ok := stringParam(params, "path")
	if !ok {
		return invalidParams("path is required"), nil
	}
	if _, err := os.Stat(resolve(t.baseDir, path)); err != nil {
		return &shuttle.Result{Success: false, Error: &shuttle.Error{
			Code:    codeFileNotFound,
			Message: fmt.Sprintf("file not found: %s", path),
		}}, nil
	}
	tx := transaction.New(t.baseDir, transaction.WithLogger(t.logger))
	_ = tx.AddDelete(path)
	return commit(ctx, tx, t.logger, map[string]interface{}{"path": path})
}

// MoveFileTool relocates a file.
type MoveFileTool struct {
	baseDir string
	logger  *log.Logger
}

func (t *MoveFileTool) Name() string        { return "fs_move_file" }
func (t *MoveFileTool) Description() string { return "Move or rename a file" }

func (t *MoveFileTool) InputSchema() *shuttle.JSONSchema {
	return shuttle.NewObjectSchema("move a file", map[string]*shuttle.JSONSchema{
		"source": shuttle.NewStringSchema("current file path"),
		"target": shuttle.NewStringSchema("new file path"),
	}, []string{"source", "target"})
}

func (t *MoveFileTool) Execute(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
	source, ok := stringParam(params, "source")
	if !ok {
		return invalidParams("source is required"), nil
	}
	target, ok := stringParam(params, "target")
	if !ok {
		return invalidParams("target is required"), nil
	}
	if _, err := os.Stat(resolve(t.baseDir, source)); err != nil {
		return &shuttle.Result{Success: false, Error: &shuttle.Error{
			Code:    codeFileNotFound,
			Message: fmt.Sprintf("file not found: %s", source),
		}}, nil
	}
	tx := transaction.New(t.baseDir, transaction.WithLogger(t.logger))
	_ = tx.AddMove(source, target)
	return commit(ctx, tx, t.logger, map[string]interface{}{"source": source, "target": target})
}

// ListDirTool lists directory entries.
type ListDirTool struct {
	baseDir string
}

func (t *ListDirTool) Name() string        { return "fs_list_dir" }
func (t *ListDirTool) Description() string { return "List the entries of a directory" }

func (t *ListDirTool) InputSchema() *shuttle.JSONSchema {
	return shuttle.NewObjectSchema("list a directory", map[string]*shuttle.JSONSchema{
		"path": shuttle.NewStringSchema("directory path, relative to the workspace root; defaults to the root"),
	}, nil)
}

func (t *ListDirTool) Execute(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
	path, _ := stringParam(params, "path")
	if path == "" {
		path = "."
	}
	entries, err := os.ReadDir(resolve(t.baseDir, path))
	if err != nil {
		if os.IsNotExist(err) {
			return &shuttle.Result{Success: false, Error: &shuttle.Error{
				Code:    codeFileNotFound,
				Message: fmt.Sprintf("directory not found: %s", path),
			}}, nil
		}
		return &shuttle.Result{Success: false, Error: &shuttle.Error{
			Code:      codeReadFailed,
			Message:   err.Error(),
			Retryable: true,
		}}, nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return &shuttle.Result{Success: true, Data: names}, nil
}

// commit drives a transaction through the retry engine. A rolled-back commit
// leaves the workspace untouched, so re-committing is safe.
func commit(ctx context.Context, tx *transaction.Transaction, logger *log.Logger, meta map[string]interface{}) (*shuttle.Result, error) {
	res := retry.ExecuteWithRetry(ctx, func(ctx context.Context, _ *retry.RetryContext) ([]string, error) {
		r := tx.Commit()
		if !r.Success {
			return nil, r.Err
		}
		return r.CommittedFiles, nil
	}, retry.Options{
		Config:        commitRetry,
		OperationName: "fs_commit",
		Logger:        logger,
	})
	if !res.Success {
		return &shuttle.Result{Success: false, Error: &shuttle.Error{
			Code:      codeWriteFailed,
			Message:   res.Err.Error(),
			Retryable: true,
			Details:   map[string]interface{}{"transaction_id": tx.ID(), "attempts": res.Attempts},
		}}, nil
	}
	meta["transaction_id"] = tx.ID()
	meta["files"] = res.Value
	return &shuttle.Result{Success: true, Data: fmt.Sprintf("ok: %d file(s)", len(res.Value)), Metadata: meta}, nil
}

func invalidParams(msg string) *shuttle.Result {
	return &shuttle.Result{Success: false, Error: &shuttle.Error{
		Code:    codeInvalidParams,
		Message: msg,
	}}
}

func stringParam(params map[string]interface{}, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func resolve(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
