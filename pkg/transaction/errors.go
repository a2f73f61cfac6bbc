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

package transaction

import "fmt"

// FileOperationError describes a failed file operation. File operation
// failures are always recoverable from the retry engine's point of view.
type FileOperationError struct {
	Operation OpType
	Path      string
	Cause     error
}

func newOpError[T ~string](operation T, path string, cause error) *FileOperationError {
	return &FileOperationError{Operation: OpType(operation), Path: path, Cause: cause}
}

// Error implements the error interface.
func (e *FileOperationError) Error() string {
	return fmt.Sprintf("file operation %s failed for %s: %v", e.Operation, e.Path, e.Cause)
}

// Unwrap exposes the underlying cause.
func (e *FileOperationError) Unwrap() error {
	return e.Cause
}

// ErrorKind classifies the error for the retry engine.
func (e *FileOperationError) ErrorKind() string {
	return "file_operation"
}

// Retryable reports that file operation failures may be retried.
func (e *FileOperationError) Retryable() bool {
	return true
}
