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
package subagent

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type updateRecorder struct {
	mu      sync.Mutex
	updates []string
}

func (r *updateRecorder) record(eventType, name, path string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, eventType+":"+name)
}

func (r *updateRecorder) has(update string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.updates {
		if u == update {
			return true
		}
	}
	return false
}

func startWatcher(t *testing.T, lib *Library, rec *updateRecorder) *Watcher {
	t.Helper()
	w, err := NewWatcher(lib, WatcherConfig{
		DebounceMs: 50,
		OnUpdate:   rec.record,
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)
	return w
}

func TestWatcherPicksUpNewDefinition(t *testing.T) {
	dir := t.TempDir()
	lib, errs := LoadDir(dir)
	require.Empty(t, errs)

	rec := &updateRecorder{}
	startWatcher(t, lib, rec)

	writeDefinition(t, dir, "coder.yaml", coderYAML)

	require.Eventually(t, func() bool {
		_, ok := lib.Get("coder")
		return ok
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, rec.has("create:coder") || rec.has("modify:coder"))
}

func TestWatcherKeepsPreviousOnParseFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeDefinition(t, dir, "coder.yaml", coderYAML)
	lib, errs := LoadDir(dir)
	require.Empty(t, errs)

	var failures int
	var mu sync.Mutex
	w, err := NewWatcher(lib, WatcherConfig{
		DebounceMs: 50,
		OnUpdate: func(eventType, name, path string, err error) {
			if err != nil {
				mu.Lock()
				failures++
				mu.Unlock()
			}
		},
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)

	require.NoError(t, os.WriteFile(path, []byte("name: [unclosed\n"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return failures > 0
	}, 5*time.Second, 20*time.Millisecond)

	// The previous definition survives the bad write.
	def, ok := lib.Get("coder")
	require.True(t, ok)
	assert.Contains(t, def.SystemPrompt, "careful coder")
}

func TestWatcherRemovesDeletedDefinition(t *testing.T) {
	dir := t.TempDir()
	path := writeDefinition(t, dir, "coder.yaml", coderYAML)
	lib, errs := LoadDir(dir)
	require.Empty(t, errs)
	require.Equal(t, 1, lib.Count())

	rec := &updateRecorder{}
	startWatcher(t, lib, rec)

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		_, ok := lib.Get("coder")
		return !ok
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, rec.has("delete:coder"))
}

func TestWatcherStopIdempotent(t *testing.T) {
	dir := t.TempDir()
	lib, _ := LoadDir(dir)
	w, err := NewWatcher(lib, WatcherConfig{DebounceMs: 50})
	require.NoError(t, err)
	require.NoError(t, w.Start())

	w.Stop()
	w.Stop()
}

func TestWatcherRequiresDirectory(t *testing.T) {
	lib := &Library{defs: map[string]*Definition{}}
	_, err := NewWatcher(lib, WatcherConfig{})
	require.Error(t, err)
}
