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

// Package log provides the buffered, correlation-scoped structured logger.
//
// Records are written as JSON lines to <datadir>/logs/tapestry.log and,
// optionally, to a zap console logger for interactive use. Level filtering
// happens before any serialization, so records below the threshold cost a
// single comparison. Secret-looking values in messages and fields are
// redacted before they reach any sink.
package log

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Level is a log severity level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// EnvLogLevel is the environment variable consulted when no explicit level
// is configured. Unrecognized values are ignored and the default applies.
const EnvLogLevel = "TAPESTRY_LOG_LEVEL"

// DefaultFlushInterval is the maximum age of a buffered entry before the
// background flusher writes it to disk.
const DefaultFlushInterval = 5 * time.Second

// String returns the lowercase level name used in serialized entries.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel parses a level name. The second return value reports whether
// the name was recognized.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, true
	case "info":
		return InfoLevel, true
	case "warn":
		return WarnLevel, true
	case "error":
		return ErrorLevel, true
	}
	return InfoLevel, false
}

// ErrorInfo captures an error value for serialization.
type ErrorInfo struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Entry is a single structured log record, one JSON object per line in the
// log file.
type Entry struct {
	Timestamp     string         `json:"timestamp"`
	Level         string         `json:"level"`
	CorrelationID string         `json:"correlation_id"`
	Message       string         `json:"message"`
	Context       map[string]any `json:"context,omitempty"`
	Error         *ErrorInfo     `json:"error,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Options configures a Logger.
type Options struct {
	// Level overrides the TAPESTRY_LOG_LEVEL environment variable and the
	// info default.
	Level *Level

	// Dir is the directory holding the log file. Created on first write.
	Dir string

	// FileName defaults to "tapestry.log".
	FileName string

	// Console attaches a zap console sink for interactive output.
	Console *zap.Logger

	// DisableRedaction turns secret redaction off. Redaction is on by
	// default.
	DisableRedaction bool

	// FlushInterval defaults to DefaultFlushInterval and is capped at it.
	FlushInterval time.Duration

	// CorrelationID seeds the logger's correlation id. A fresh uuid-based
	// id is generated when empty.
	CorrelationID string
}

// sink is the shared write path behind a logger and all of its children:
// the entry buffer, the file target, and the periodic flusher.
type sink struct {
	mu       sync.Mutex
	buffer   []*Entry
	path     string
	dir      string
	console  *zap.Logger
	redact   bool
	interval time.Duration

	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
	failNoted bool
}

// Logger emits structured records. Child loggers created via With share the
// parent's buffer and flusher but carry their own bound context and
// correlation id.
type Logger struct {
	sink *sink

	mu            sync.RWMutex
	level         Level
	correlationID string
	context       map[string]any
}

// New creates a Logger and starts its periodic flusher.
func New(opts Options) *Logger {
	level := InfoLevel
	if opts.Level != nil {
		level = *opts.Level
	} else if env, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok && os.Getenv(EnvLogLevel) != "" {
		level = env
	}

	dir := opts.Dir
	if dir == "" {
		dir = filepath.Join(".tapestry", "logs")
	}
	name := opts.FileName
	if name == "" {
		name = "tapestry.log"
	}
	interval := opts.FlushInterval
	if interval <= 0 || interval > DefaultFlushInterval {
		interval = DefaultFlushInterval
	}
	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = newCorrelationID()
	}

	s := &sink{
		path:     filepath.Join(dir, name),
		dir:      dir,
		console:  opts.Console,
		redact:   !opts.DisableRedaction,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go s.flushLoop()

	return &Logger{
		sink:          s,
		level:         level,
		correlationID: correlationID,
	}
}

// newCorrelationID returns a short unique id suitable for tying together
// records from one logical flow.
func newCorrelationID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// With returns a child logger whose bound context is merged into every
// record. The child inherits the parent's correlation id and level.
func (l *Logger) With(context map[string]any) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	merged := make(map[string]any, len(l.context)+len(context))
	for k, v := range l.context {
		merged[k] = v
	}
	for k, v := range context {
		merged[k] = v
	}
	return &Logger{
		sink:          l.sink,
		level:         l.level,
		correlationID: l.correlationID,
		context:       merged,
	}
}

// SetCorrelationID rebinds the correlation id for subsequent records.
func (l *Logger) SetCorrelationID(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.correlationID = id
}

// GetCorrelationID returns the current correlation id.
func (l *Logger) GetCorrelationID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.correlationID
}

// Level returns the active threshold.
func (l *Logger) Level() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// Debug logs at debug level. The first optional map is structured context,
// the second is metadata.
func (l *Logger) Debug(msg string, fields ...map[string]any) {
	l.log(DebugLevel, msg, nil, fields)
}

// Info logs at info level.
func (l *Logger) Info(msg string, fields ...map[string]any) {
	l.log(InfoLevel, msg, nil, fields)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, fields ...map[string]any) {
	l.log(WarnLevel, msg, nil, fields)
}

// Error logs at error level with an optional error value.
func (l *Logger) Error(msg string, err error, fields ...map[string]any) {
	l.log(ErrorLevel, msg, err, fields)
}

// log builds and buffers one entry. Dropped records cost only the level
// comparison.
func (l *Logger) log(level Level, msg string, err error, fields []map[string]any) {
	l.mu.RLock()
	threshold := l.level
	correlationID := l.correlationID
	bound := l.context
	l.mu.RUnlock()

	if level < threshold {
		return
	}

	var context map[string]any
	var metadata map[string]any
	if len(fields) > 0 {
		context = fields[0]
	}
	if len(fields) > 1 {
		metadata = fields[1]
	}
	if len(bound) > 0 {
		merged := make(map[string]any, len(bound)+len(context))
		for k, v := range bound {
			merged[k] = v
		}
		for k, v := range context {
			merged[k] = v
		}
		context = merged
	}

	entry := &Entry{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Level:         level.String(),
		CorrelationID: correlationID,
		Message:       msg,
		Context:       context,
		Metadata:      metadata,
	}
	if err != nil {
		entry.Error = &ErrorInfo{
			Name:    fmt.Sprintf("%T", err),
			Message: err.Error(),
			Stack:   string(debug.Stack()),
		}
	}
	l.sink.append(entry)
}

// Flush forces buffered entries to disk.
func (l *Logger) Flush() {
	l.sink.flush()
}

// Shutdown stops the periodic flusher and flushes once more. Safe to call
// multiple times.
func (l *Logger) Shutdown() {
	l.sink.stop()
}

func (s *sink) append(entry *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.redact {
		redactEntry(entry)
	}
	if s.console != nil {
		s.writeConsole(entry)
	}
	s.buffer = append(s.buffer, entry)
}

// writeConsole mirrors the entry to the zap sink. Called with s.mu held.
func (s *sink) writeConsole(entry *Entry) {
	fields := make([]zap.Field, 0, 3)
	fields = append(fields, zap.String("correlation_id", entry.CorrelationID))
	if entry.Context != nil {
		fields = append(fields, zap.Any("context", entry.Context))
	}
	if entry.Error != nil {
		fields = append(fields, zap.String("error", entry.Error.Message))
	}
	switch entry.Level {
	case "debug":
		s.console.Debug(entry.Message, fields...)
	case "warn":
		s.console.Warn(entry.Message, fields...)
	case "error":
		s.console.Error(entry.Message, fields...)
	default:
		s.console.Info(entry.Message, fields...)
	}
}

func (s *sink) flushLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.flush()
		case <-s.stopCh:
			return
		}
	}
}

// flush drains the buffer to the log file. On write failure the drained
// entries are restored to the head of the buffer so the next flush retries
// them.
func (s *sink) flush() {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return
	}
	pending := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	err := s.write(pending)
	if err == nil {
		return
	}

	s.mu.Lock()
	s.buffer = append(pending, s.buffer...)
	if !s.failNoted && s.console != nil {
		s.console.Error("log flush failed, entries retained for retry",
			zap.String("path", s.path),
			zap.Error(err),
		)
		s.failNoted = true
	}
	s.mu.Unlock()
}

func (s *sink) write(entries []*Entry) error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	for _, entry := range entries {
		line, err := json.Marshal(entry)
		if err != nil {
			// Unserializable entries are replaced, not dropped silently.
			line, _ = json.Marshal(&Entry{
				Timestamp:     entry.Timestamp,
				Level:         entry.Level,
				CorrelationID: entry.CorrelationID,
				Message:       fmt.Sprintf("unserializable log entry: %v", err),
			})
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return err
		}
	}
	return nil
}

func (s *sink) stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
	s.flush()
}

// Global convenience pair. Components should accept an injected *Logger;
// the global exists for hosts that want a single process-wide instance.
var (
	globalMu sync.RWMutex
	global   = New(Options{})
)

// Init replaces the global logger.
func Init(logger *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = logger
}

// L returns the global logger.
func L() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}
