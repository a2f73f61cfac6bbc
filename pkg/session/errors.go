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

package session

import "fmt"

// ErrorCode classifies a structural session error.
type ErrorCode string

const (
	CodeDuplicateSession ErrorCode = "DUPLICATE_SESSION"
	CodeSessionNotFound  ErrorCode = "SESSION_NOT_FOUND"
	CodeMaxDepthExceeded ErrorCode = "MAX_DEPTH_EXCEEDED"
	CodeContextNotFound  ErrorCode = "CONTEXT_NOT_FOUND"
	CodeParentNotFound   ErrorCode = "PARENT_NOT_FOUND"
	CodeInvalidState     ErrorCode = "INVALID_STATE"
)

// Error is a structural misuse of the session API. These are programming
// errors, not transient conditions, so the retry engine treats them as
// critical and never retries them.
type Error struct {
	Code      ErrorCode
	SessionID string
	Message   string
}

func newError(code ErrorCode, sessionID, format string, args ...any) *Error {
	return &Error{Code: code, SessionID: sessionID, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s: %s (session %s)", e.Code, e.Message, e.SessionID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorKind classifies the error for the retry engine.
func (e *Error) ErrorKind() string {
	return "session"
}

// Retryable reports that session errors are never transient.
func (e *Error) Retryable() bool {
	return false
}

// Critical marks session errors as non-recoverable.
func (e *Error) Critical() bool {
	return true
}
