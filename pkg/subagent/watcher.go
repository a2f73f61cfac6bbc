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
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tapestry-labs/tapestry/internal/log"
)

// UpdateCallback is invoked after the watcher applies a definition change.
// eventType is one of "create", "modify", "delete"; err is non-nil when a
// changed file failed to parse (the previous definition stays loaded).
type UpdateCallback func(eventType, name, path string, err error)

// WatcherConfig configures definition hot-reload.
type WatcherConfig struct {
	DebounceMs int // default 500
	Logger     *log.Logger
	OnUpdate   UpdateCallback
}

// Watcher keeps a Library in sync with its directory on disk.
type Watcher struct {
	library *Library
	watcher *fsnotify.Watcher
	config  WatcherConfig
	logger  *log.Logger

	debounceTimers map[string]*time.Timer
	debounceMu     sync.Mutex

	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped bool
	stopMu  sync.Mutex
}

// NewWatcher creates a watcher over the library's directory.
func NewWatcher(library *Library, config WatcherConfig) (*Watcher, error) {
	if library.Dir() == "" {
		return nil, fmt.Errorf("hot-reload requires a filesystem definitions directory")
	}
	if config.DebounceMs == 0 {
		config.DebounceMs = 500
	}
	if config.Logger == nil {
		config.Logger = log.L()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		library:        library,
		watcher:        fsw,
		config:         config,
		logger:         config.Logger,
		debounceTimers: make(map[string]*time.Timer),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}, nil
}

// Start begins watching for definition file changes.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.library.Dir()); err != nil {
		return fmt.Errorf("failed to watch definitions directory: %w", err)
	}
	go w.loop()
	w.logger.Info("watching subagent definitions", map[string]any{"dir": w.library.Dir()})
	return nil
}

// Stop ends watching. Idempotent.
func (w *Watcher) Stop() {
	w.stopMu.Lock()
	defer w.stopMu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	close(w.stopCh)
	_ = w.watcher.Close()
	<-w.doneCh
}

func (w *Watcher) loop() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isDefinitionFile(event.Name) {
				continue
			}
			w.debounce(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("definition watcher error", map[string]any{"error": err.Error()})
		}
	}
}

// debounce coalesces rapid-fire events per file. Editors commonly emit
// several writes for one save.
func (w *Watcher) debounce(event fsnotify.Event) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, exists := w.debounceTimers[event.Name]; exists {
		timer.Stop()
	}
	w.debounceTimers[event.Name] = time.AfterFunc(
		time.Duration(w.config.DebounceMs)*time.Millisecond,
		func() { w.apply(event) },
	)
}

func (w *Watcher) apply(event fsnotify.Event) {
	path := event.Name
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.library.Remove(base)
		w.logger.Info("subagent definition removed", map[string]any{"name": base})
		w.notify("delete", base, path, nil)

	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		eventType := "modify"
		if event.Op&fsnotify.Create != 0 {
			eventType = "create"
		}
		def, err := LoadDefinition(path)
		if err != nil {
			// Keep the previous definition on parse failure.
			w.logger.Warn("subagent definition reload failed", map[string]any{
				"path":  path,
				"error": err.Error(),
			})
			w.notify(eventType, base, path, err)
			return
		}
		w.library.Put(def)
		w.logger.Info("subagent definition reloaded", map[string]any{"name": def.Name})
		w.notify(eventType, def.Name, path, nil)
	}
}

func (w *Watcher) notify(eventType, name, path string, err error) {
	if w.config.OnUpdate != nil {
		w.config.OnUpdate(eventType, name, path, err)
	}
}
