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

// Package retry drives fallible operations through an escalation ladder:
// a direct retry first, then a context refresh, then user-guided retries,
// with exponential backoff between attempts. The engine never returns a Go
// error to its caller; outcomes are reported in a Result.
package retry

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/tapestry-labs/tapestry/internal/log"
)

// RecoveryAction describes how an attempt was reached.
type RecoveryAction string

const (
	RecoveryNone           RecoveryAction = "none"
	RecoveryDirect         RecoveryAction = "direct"
	RecoveryContextRefresh RecoveryAction = "context-refresh"
	RecoveryUserGuidance   RecoveryAction = "user-guidance"
)

// Config controls attempt counts and backoff.
type Config struct {
	MaxAttempts          int
	InitialDelay         time.Duration
	MaxDelay             time.Duration
	BackoffMultiplier    float64
	EnableContextRefresh bool
	EnableUserGuidance   bool
}

// DefaultConfig returns the standard retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:          3,
		InitialDelay:         time.Second,
		MaxDelay:             30 * time.Second,
		BackoffMultiplier:    2.0,
		EnableContextRefresh: true,
		EnableUserGuidance:   false,
	}
}

// RetryContext is passed to the operation on every attempt. UserInput holds
// the most recent guidance callback response.
type RetryContext struct {
	OperationName string
	Attempt       int
	UserInput     string
	Values        map[string]any
}

// Operation is a fallible unit of work.
type Operation[T any] func(ctx context.Context, rc *RetryContext) (T, error)

// ContextRefreshFunc re-establishes whatever state the operation depends on.
// A refresh failure is surfaced as the attempt's outcome.
type ContextRefreshFunc func(ctx context.Context) error

// UserGuidanceFunc asks the host for guidance after repeated failures. An
// empty return value is the cancel sentinel and aborts further retries.
type UserGuidanceFunc func(ctx context.Context, lastErr error, rc *RetryContext) (string, error)

// Options configures a retry run.
type Options struct {
	Config
	OperationName  string
	ContextRefresh ContextRefreshFunc
	UserGuidance   UserGuidanceFunc

	// SkipRetryFor lists error kinds (see the ErrorKind interface) that
	// terminate the run immediately.
	SkipRetryFor []string

	Logger *log.Logger
}

// Result reports the outcome of a retry run.
type Result[T any] struct {
	Success        bool
	Value          T
	Err            error
	Attempts       int
	RecoveryAction RecoveryAction
}

// Error classification hooks. Errors may implement any of these; absent a
// hook the engine assumes a recoverable, non-critical error.
type (
	kindError      interface{ ErrorKind() string }
	retryableError interface{ Retryable() bool }
	criticalError  interface{ Critical() bool }
)

func errorKind(err error) string {
	var ke kindError
	if errors.As(err, &ke) {
		return ke.ErrorKind()
	}
	return ""
}

func isRetryable(err error) bool {
	var re retryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return true
}

func isCritical(err error) bool {
	var ce criticalError
	if errors.As(err, &ce) {
		return ce.Critical()
	}
	return false
}

// ExecuteWithRetry runs op through the escalation ladder.
//
// Attempt 1 is direct with no delay. Attempt 2 is preceded by a context
// refresh when enabled and provided. Attempts 3 and later are preceded by a
// user guidance request when enabled. Every attempt after the first is
// preceded by exponential backoff.
func ExecuteWithRetry[T any](ctx context.Context, op Operation[T], opts Options) Result[T] {
	cfg := normalize(opts.Config)
	logger := opts.Logger
	if logger == nil {
		logger = log.L()
	}

	rc := &RetryContext{OperationName: opts.OperationName, Values: make(map[string]any)}

	var lastErr error
	action := RecoveryNone

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		rc.Attempt = attempt

		if attempt > 1 {
			if err := sleep(ctx, backoffDelay(cfg, attempt)); err != nil {
				return Result[T]{Err: err, Attempts: attempt - 1, RecoveryAction: action}
			}
		}

		switch {
		case attempt == 1:
			action = RecoveryNone
		case attempt == 2 && cfg.EnableContextRefresh && opts.ContextRefresh != nil:
			action = RecoveryContextRefresh
			if err := opts.ContextRefresh(ctx); err != nil {
				// A refresh failure is this attempt's outcome.
				logger.Warn("context refresh failed", map[string]any{
					"operation": opts.OperationName,
					"attempt":   attempt,
				})
				lastErr = err
				continue
			}
		case attempt >= 3 && cfg.EnableUserGuidance && opts.UserGuidance != nil:
			action = RecoveryUserGuidance
			input, err := opts.UserGuidance(ctx, lastErr, rc)
			if err != nil || input == "" {
				// Cancel sentinel: stop retrying, report the prior failure.
				logger.Info("user guidance cancelled retries", map[string]any{
					"operation": opts.OperationName,
					"attempt":   attempt,
				})
				return Result[T]{Err: lastErr, Attempts: attempt - 1, RecoveryAction: action}
			}
			rc.UserInput = input
		default:
			action = RecoveryDirect
		}

		value, err := op(ctx, rc)
		if err == nil {
			if attempt > 1 {
				logger.Info("operation recovered", map[string]any{
					"operation": opts.OperationName,
					"attempts":  attempt,
					"recovery":  string(action),
				})
			}
			return Result[T]{Success: true, Value: value, Attempts: attempt, RecoveryAction: action}
		}
		lastErr = err

		if isCritical(err) {
			logger.Error("critical error, not retrying", err, map[string]any{
				"operation": opts.OperationName,
				"attempt":   attempt,
			})
			return Result[T]{Err: err, Attempts: attempt, RecoveryAction: action}
		}
		if !isRetryable(err) && attempt == 1 {
			return Result[T]{Err: err, Attempts: attempt, RecoveryAction: action}
		}
		if kind := errorKind(err); kind != "" && contains(opts.SkipRetryFor, kind) {
			return Result[T]{Err: err, Attempts: attempt, RecoveryAction: action}
		}

		logger.Warn("operation failed", map[string]any{
			"operation": opts.OperationName,
			"attempt":   attempt,
			"max":       cfg.MaxAttempts,
			"error":     err.Error(),
		})
	}

	return Result[T]{Err: lastErr, Attempts: cfg.MaxAttempts, RecoveryAction: action}
}

// backoffDelay computes min(initial * multiplier^(attempt-1), max).
func backoffDelay(cfg Config, attempt int) time.Duration {
	d := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffMultiplier, float64(attempt-1))
	if d > float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	return time.Duration(d)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func normalize(cfg Config) Config {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2.0
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	return cfg
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// BatchOperation is a named operation in a batch run.
type BatchOperation[T any] struct {
	Name string
	Op   Operation[T]
}

// BatchOptions configures a batch run.
type BatchOptions struct {
	Options

	// Parallel runs operations concurrently. StopOnFirstFailure is ignored
	// in parallel mode.
	Parallel bool

	// StopOnFirstFailure aborts a sequential batch at the first failed
	// operation.
	StopOnFirstFailure bool
}

// NamedResult pairs an operation name with its retry result.
type NamedResult[T any] struct {
	Name string
	Result[T]
}

// ExecuteBatchWithRetry runs every operation through ExecuteWithRetry.
// Sequential mode preserves order and may stop early; parallel mode always
// returns a result per operation, in input order.
func ExecuteBatchWithRetry[T any](ctx context.Context, ops []BatchOperation[T], opts BatchOptions) []NamedResult[T] {
	results := make([]NamedResult[T], len(ops))

	if opts.Parallel {
		var wg sync.WaitGroup
		for i, bop := range ops {
			wg.Add(1)
			go func(i int, bop BatchOperation[T]) {
				defer wg.Done()
				o := opts.Options
				o.OperationName = bop.Name
				results[i] = NamedResult[T]{Name: bop.Name, Result: ExecuteWithRetry(ctx, bop.Op, o)}
			}(i, bop)
		}
		wg.Wait()
		return results
	}

	for i, bop := range ops {
		o := opts.Options
		o.OperationName = bop.Name
		results[i] = NamedResult[T]{Name: bop.Name, Result: ExecuteWithRetry(ctx, bop.Op, o)}
		if !results[i].Success && opts.StopOnFirstFailure {
			return results[:i+1]
		}
	}
	return results
}
