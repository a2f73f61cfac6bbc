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

package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T, level Level) (*Logger, string) {
	t.Helper()
	dir := t.TempDir()
	logger := New(Options{
		Level:    &level,
		Dir:      dir,
		FileName: "test.log",
	})
	t.Cleanup(logger.Shutdown)
	return logger, filepath.Join(dir, "test.log")
}

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, scanner.Err())
	return entries
}

func TestLoggerWritesJSONLines(t *testing.T) {
	logger, path := newTestLogger(t, DebugLevel)

	logger.Info("session created", map[string]any{"session_id": "root-abc123"})
	logger.Flush()

	entries := readEntries(t, path)
	require.Len(t, entries, 1)
	assert.Equal(t, "info", entries[0].Level)
	assert.Equal(t, "session created", entries[0].Message)
	assert.Equal(t, "root-abc123", entries[0].Context["session_id"])
	assert.NotEmpty(t, entries[0].Timestamp)
	assert.NotEmpty(t, entries[0].CorrelationID)
}

func TestLoggerLevelFiltering(t *testing.T) {
	logger, path := newTestLogger(t, ErrorLevel)

	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("dropped")
	logger.Flush()

	// No file write occurs when everything is below the threshold.
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	logger.Error("kept", nil)
	logger.Flush()
	entries := readEntries(t, path)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0].Message)
}

func TestLoggerEnvLevel(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	logger := New(Options{Dir: t.TempDir()})
	defer logger.Shutdown()
	assert.Equal(t, WarnLevel, logger.Level())

	t.Setenv(EnvLogLevel, "nonsense")
	logger2 := New(Options{Dir: t.TempDir()})
	defer logger2.Shutdown()
	assert.Equal(t, InfoLevel, logger2.Level())
}

func TestLoggerChildInheritsCorrelationID(t *testing.T) {
	logger, path := newTestLogger(t, InfoLevel)
	logger.SetCorrelationID("corr-1")

	child := logger.With(map[string]any{"component": "manager"})
	assert.Equal(t, "corr-1", child.GetCorrelationID())

	child.Info("hello")
	child.Flush()

	entries := readEntries(t, path)
	require.Len(t, entries, 1)
	assert.Equal(t, "corr-1", entries[0].CorrelationID)
	assert.Equal(t, "manager", entries[0].Context["component"])
}

func TestLoggerRedaction(t *testing.T) {
	logger, path := newTestLogger(t, InfoLevel)

	logger.Info("using api_key=sk-12345 for auth",
		map[string]any{"token": "tok-999", "safe": "value"},
		map[string]any{"note": "password: hunter2"},
	)
	logger.Flush()

	entries := readEntries(t, path)
	require.Len(t, entries, 1)
	assert.Equal(t, "using api_key="+Redacted+" for auth", entries[0].Message)
	assert.Equal(t, Redacted, entries[0].Context["token"])
	assert.Equal(t, "value", entries[0].Context["safe"])
	assert.Equal(t, "password: "+Redacted, entries[0].Metadata["note"])
}

func TestRedactionIdempotent(t *testing.T) {
	once := RedactString("secret: abc123 and token=xyz")
	twice := RedactString(once)
	assert.Equal(t, once, twice)
}

func TestLoggerErrorEntry(t *testing.T) {
	logger, path := newTestLogger(t, InfoLevel)

	logger.Error("commit failed", os.ErrPermission, map[string]any{"path": "/tmp/x"})
	logger.Flush()

	entries := readEntries(t, path)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Error)
	assert.Equal(t, os.ErrPermission.Error(), entries[0].Error.Message)
	assert.NotEmpty(t, entries[0].Error.Stack)
}

func TestFlushFailureRetainsEntries(t *testing.T) {
	dir := t.TempDir()
	level := InfoLevel
	logger := New(Options{Level: &level, Dir: filepath.Join(dir, "logs"), FileName: "t.log"})
	defer logger.Shutdown()

	// Make the target directory path unusable by placing a file where the
	// directory should be.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logs"), []byte("x"), 0o640))

	logger.Info("first")
	logger.Flush()

	// Entry must still be buffered.
	logger.sink.mu.Lock()
	buffered := len(logger.sink.buffer)
	logger.sink.mu.Unlock()
	assert.Equal(t, 1, buffered)

	// Clear the obstruction; the next flush writes the retained entry.
	require.NoError(t, os.Remove(filepath.Join(dir, "logs")))
	logger.Flush()
	entries := readEntries(t, filepath.Join(dir, "logs", "t.log"))
	require.Len(t, entries, 1)
	assert.Equal(t, "first", entries[0].Message)
}
