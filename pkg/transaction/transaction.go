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

// Package transaction applies a set of file operations as an all-or-nothing
// unit. Operations are staged into a per-transaction temp directory before
// any user file is touched; a failure during application rolls back the
// already-applied subset from the staged backups.
package transaction

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/tapestry-labs/tapestry/internal/log"
)

// OpType identifies a file operation kind.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
	OpMove   OpType = "move"
)

// Operation is one pending file operation. StagingPath and BackupPath are
// populated during staging, not at add time.
type Operation struct {
	Type        OpType
	TargetPath  string
	Content     string
	SourcePath  string
	StagingPath string
	BackupPath  string
}

// Checkpoint is a named snapshot of the pending operation list.
type Checkpoint struct {
	ID         string
	Operations []Operation
}

// Result is the outcome of Commit. Commit never returns a Go error; failures
// are reported here.
type Result struct {
	Success        bool
	CommittedFiles []string
	Err            *FileOperationError
	RolledBack     bool
}

// Transaction is a single-use, single-goroutine unit of file changes.
type Transaction struct {
	id          string
	baseDir     string
	tempDir     string
	ops         []Operation
	checkpoints []Checkpoint
	committed   bool
	logger      *log.Logger
}

// Option configures a Transaction.
type Option func(*Transaction)

// WithLogger sets the transaction's logger.
func WithLogger(logger *log.Logger) Option {
	return func(t *Transaction) {
		t.logger = logger
	}
}

// New creates a transaction rooted at baseDir. Relative operation paths are
// resolved against baseDir; the staging area lives under
// <baseDir>/.tapestry/transactions/<txid>/.
func New(baseDir string, opts ...Option) *Transaction {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	t := &Transaction{
		id:      id,
		baseDir: baseDir,
		tempDir: filepath.Join(baseDir, ".tapestry", "transactions", id),
		logger:  log.L(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ID returns the transaction identifier.
func (t *Transaction) ID() string {
	return t.id
}

// TempDir returns the staging directory path.
func (t *Transaction) TempDir() string {
	return t.tempDir
}

// Committed reports whether Commit has completed successfully.
func (t *Transaction) Committed() bool {
	return t.committed
}

// AddCreate queues creation of a new file with the given content.
func (t *Transaction) AddCreate(path, content string) error {
	return t.add(Operation{Type: OpCreate, TargetPath: path, Content: content})
}

// AddUpdate queues an overwrite of an existing file.
func (t *Transaction) AddUpdate(path, content string) error {
	return t.add(Operation{Type: OpUpdate, TargetPath: path, Content: content})
}

// AddDelete queues removal of a file.
func (t *Transaction) AddDelete(path string) error {
	return t.add(Operation{Type: OpDelete, TargetPath: path})
}

// AddMove queues relocation of a file.
func (t *Transaction) AddMove(source, target string) error {
	return t.add(Operation{Type: OpMove, TargetPath: target, SourcePath: source})
}

func (t *Transaction) add(op Operation) error {
	if t.committed {
		return fmt.Errorf("transaction %s already committed", t.id)
	}
	t.ops = append(t.ops, op)
	return nil
}

// CreateCheckpoint snapshots the pending operation list and returns the
// checkpoint id.
func (t *Transaction) CreateCheckpoint() string {
	id := fmt.Sprintf("cp-%d", len(t.checkpoints)+1)
	snapshot := make([]Operation, len(t.ops))
	copy(snapshot, t.ops)
	t.checkpoints = append(t.checkpoints, Checkpoint{ID: id, Operations: snapshot})
	return id
}

// RestoreCheckpoint resets the pending operations to a prior snapshot.
func (t *Transaction) RestoreCheckpoint(id string) error {
	if t.committed {
		return fmt.Errorf("transaction %s already committed", t.id)
	}
	for _, cp := range t.checkpoints {
		if cp.ID == id {
			t.ops = make([]Operation, len(cp.Operations))
			copy(t.ops, cp.Operations)
			return nil
		}
	}
	return fmt.Errorf("checkpoint not found: %s", id)
}

// Commit stages every operation, then applies them in order. A staging
// failure aborts before any user file is touched. An application failure
// rolls back the already-applied subset. Commit is one-shot.
func (t *Transaction) Commit() *Result {
	if t.committed {
		return &Result{
			Success: false,
			Err:     newOpError("commit", t.tempDir, fmt.Errorf("transaction %s already committed", t.id)),
		}
	}

	if err := t.stage(); err != nil {
		// Nothing applied yet, so there is nothing to roll back.
		t.logger.Error("transaction staging failed", err.Cause, map[string]any{
			"transaction_id": t.id,
			"path":           err.Path,
		})
		return &Result{Success: false, Err: err, RolledBack: false}
	}

	committed := make([]int, 0, len(t.ops))
	for i := range t.ops {
		if err := t.apply(&t.ops[i]); err != nil {
			t.logger.Error("transaction apply failed, rolling back", err.Cause, map[string]any{
				"transaction_id": t.id,
				"operation":      string(t.ops[i].Type),
				"path":           err.Path,
				"applied":        len(committed),
			})
			t.rollback(committed)
			return &Result{
				Success:        false,
				Err:            err,
				RolledBack:     true,
				CommittedFiles: nil,
			}
		}
		committed = append(committed, i)
	}

	files := make([]string, 0, len(committed))
	for _, i := range committed {
		files = append(files, t.resolve(t.ops[i].TargetPath))
	}

	t.committed = true
	if err := t.Cleanup(); err != nil {
		t.logger.Warn("transaction temp dir cleanup failed", map[string]any{
			"transaction_id": t.id,
			"temp_dir":       t.tempDir,
		})
	}
	t.logger.Debug("transaction committed", map[string]any{
		"transaction_id": t.id,
		"files":          len(files),
	})
	return &Result{Success: true, CommittedFiles: files}
}

// Cleanup removes the staging directory. Idempotent.
func (t *Transaction) Cleanup() error {
	return os.RemoveAll(t.tempDir)
}

// stage writes pending content into the temp directory and snapshots the
// current state of every file the transaction will touch.
func (t *Transaction) stage() *FileOperationError {
	if err := os.MkdirAll(t.tempDir, 0o750); err != nil {
		return newOpError("stage", t.tempDir, err)
	}

	for i := range t.ops {
		op := &t.ops[i]
		target := t.resolve(op.TargetPath)

		switch op.Type {
		case OpCreate, OpUpdate:
			op.StagingPath = filepath.Join(t.tempDir, fmt.Sprintf("stage_%d", i))
			if err := os.WriteFile(op.StagingPath, []byte(op.Content), 0o640); err != nil {
				return newOpError(op.Type, op.StagingPath, err)
			}
			if op.Type == OpUpdate {
				if _, err := os.Stat(target); err == nil {
					op.BackupPath = op.StagingPath + ".backup"
					if err := copyFile(target, op.BackupPath); err != nil {
						return newOpError(op.Type, target, err)
					}
				}
			}
		case OpDelete:
			if _, err := os.Stat(target); err == nil {
				op.BackupPath = filepath.Join(t.tempDir, fmt.Sprintf("stage_%d.backup", i))
				if err := copyFile(target, op.BackupPath); err != nil {
					return newOpError(op.Type, target, err)
				}
			}
		case OpMove:
			source := t.resolve(op.SourcePath)
			op.BackupPath = filepath.Join(t.tempDir, fmt.Sprintf("stage_%d.backup", i))
			if err := copyFile(source, op.BackupPath); err != nil {
				return newOpError(op.Type, source, err)
			}
		}
	}
	return nil
}

// apply performs one staged operation against the real filesystem. Parent
// directories are created on demand.
func (t *Transaction) apply(op *Operation) *FileOperationError {
	target := t.resolve(op.TargetPath)

	switch op.Type {
	case OpCreate, OpUpdate:
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return newOpError(op.Type, target, err)
		}
		if err := os.WriteFile(target, []byte(op.Content), 0o640); err != nil {
			return newOpError(op.Type, target, err)
		}
	case OpDelete:
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return newOpError(op.Type, target, err)
		}
	case OpMove:
		source := t.resolve(op.SourcePath)
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return newOpError(op.Type, target, err)
		}
		if err := os.Rename(source, target); err != nil {
			// Cross-device moves fall back to copy+remove.
			if err := copyFile(source, target); err != nil {
				return newOpError(op.Type, target, err)
			}
			if err := os.Remove(source); err != nil {
				return newOpError(op.Type, source, err)
			}
		}
	default:
		return newOpError(op.Type, target, fmt.Errorf("unknown operation type"))
	}
	return nil
}

// rollback undoes the applied subset in reverse order. Best-effort: rollback
// errors are logged, not propagated.
func (t *Transaction) rollback(applied []int) {
	for j := len(applied) - 1; j >= 0; j-- {
		op := &t.ops[applied[j]]
		target := t.resolve(op.TargetPath)

		var err error
		switch {
		case op.BackupPath != "":
			if op.Type == OpMove {
				// Restore the source and remove the moved target.
				err = copyFile(op.BackupPath, t.resolve(op.SourcePath))
				if err == nil {
					err = os.Remove(target)
				}
			} else if op.Type == OpDelete {
				err = copyFile(op.BackupPath, target)
			} else {
				err = copyFile(op.BackupPath, target)
			}
		case op.Type == OpCreate:
			err = os.Remove(target)
		case op.Type == OpMove:
			// No backup was staged; undo the rename directly.
			err = os.Rename(target, t.resolve(op.SourcePath))
		}
		if err != nil {
			t.logger.Error("rollback step failed", err, map[string]any{
				"transaction_id": t.id,
				"operation":      string(op.Type),
				"path":           target,
			})
		}
	}
}

func (t *Transaction) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(t.baseDir, path)
}

// copyFile copies src to dst byte-for-byte, creating parent directories.
// Line endings are preserved as-is.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
