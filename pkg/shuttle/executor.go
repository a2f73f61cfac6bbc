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
package shuttle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/tapestry-labs/tapestry/internal/log"
)

// Error codes produced by the executor itself (as opposed to tool-specific
// codes set by tools).
const (
	CodeToolNotFound    = "TOOL_NOT_FOUND"
	CodeInvalidParams   = "INVALID_PARAMS"
	CodeExecutionFailed = "EXECUTION_FAILED"
	CodeExecutionPanic  = "EXECUTION_PANIC"
	CodeTimeout         = "TIMEOUT"
)

// Executor validates parameters against each tool's input schema and runs
// the tool. Execute never returns a Go error; all failures are encoded in
// the Result so the conversation can continue.
type Executor struct {
	registry *Registry
	timeout  time.Duration
	logger   *log.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTimeout caps each tool execution. Zero means no cap.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = d
	}
}

// WithExecutorLogger sets the executor's logger.
func WithExecutorLogger(logger *log.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		logger:   log.L(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the executor's tool registry.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute looks up the named tool, validates params against its schema, and
// runs it.
func (e *Executor) Execute(ctx context.Context, toolName string, params map[string]interface{}) *Result {
	start := time.Now()

	tool, ok := e.registry.Get(toolName)
	if !ok {
		return &Result{
			Success: false,
			Error: &Error{
				Code:       CodeToolNotFound,
				Message:    fmt.Sprintf("tool not found: %s", toolName),
				Suggestion: fmt.Sprintf("available tools: %s", strings.Join(e.registry.List(), ", ")),
			},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}
	}

	if err := validateParams(tool.InputSchema(), params); err != nil {
		e.logger.Warn("tool parameter validation failed", map[string]any{
			"tool":  toolName,
			"error": err.Error(),
		})
		return &Result{
			Success: false,
			Error: &Error{
				Code:    CodeInvalidParams,
				Message: err.Error(),
			},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	result := e.run(ctx, tool, params)
	result.ExecutionTimeMs = time.Since(start).Milliseconds()

	e.logger.Debug("tool executed", map[string]any{
		"tool":     toolName,
		"success":  result.Success,
		"duration": result.ExecutionTimeMs,
	})
	return result
}

// run invokes the tool, containing panics and normalizing error shapes.
func (e *Executor) run(ctx context.Context, tool Tool, params map[string]interface{}) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool panicked", fmt.Errorf("%v", r), map[string]any{"tool": tool.Name()})
			result = &Result{
				Success: false,
				Error: &Error{
					Code:    CodeExecutionPanic,
					Message: fmt.Sprintf("tool %s panicked: %v", tool.Name(), r),
				},
			}
		}
	}()

	res, err := tool.Execute(ctx, params)
	if err != nil {
		code := CodeExecutionFailed
		if ctx.Err() == context.DeadlineExceeded {
			code = CodeTimeout
		}
		return &Result{
			Success: false,
			Error: &Error{
				Code:      code,
				Message:   err.Error(),
				Retryable: code == CodeTimeout,
			},
		}
	}
	if res == nil {
		res = &Result{Success: true}
	}
	return res
}

// validateParams checks params against the tool's JSON Schema. A nil schema
// means no validation.
func validateParams(schema *JSONSchema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	raw, err := schema.ToJSON()
	if err != nil {
		return fmt.Errorf("schema marshal failed: %w", err)
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	schemaLoader := gojsonschema.NewBytesLoader(raw)
	paramsLoader := gojsonschema.NewGoLoader(params)
	result, err := gojsonschema.Validate(schemaLoader, paramsLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, len(result.Errors()))
		for i, verr := range result.Errors() {
			msgs[i] = verr.String()
		}
		return fmt.Errorf("invalid parameters: %s", strings.Join(msgs, "; "))
	}
	return nil
}
