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

// Package subagent drives interactive agent sessions: it loads subagent
// definitions from YAML, runs a per-session conversation scope against a
// streaming chat client, dispatches tool calls, and surfaces everything as
// bus events.
package subagent

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Definition describes a subagent loaded from a YAML file.
type Definition struct {
	Name             string   `yaml:"name"`
	Description      string   `yaml:"description"`
	SystemPrompt     string   `yaml:"system_prompt"`
	Tools            []string `yaml:"tools"`
	AllowNestedTasks bool     `yaml:"allow_nested_tasks"`
	MaxRounds        int      `yaml:"max_rounds"`
	MaxDepth         int      `yaml:"max_depth"`
}

// Validate checks required fields.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("subagent definition missing name")
	}
	if d.SystemPrompt == "" {
		return fmt.Errorf("subagent %s missing system_prompt", d.Name)
	}
	return nil
}

// LoadDefinition parses a single subagent definition file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Library holds the loaded subagent definitions. Safe for concurrent use;
// the hot-reload watcher replaces entries while sessions read them.
type Library struct {
	mu   sync.RWMutex
	dir  string
	defs map[string]*Definition
}

// LoadDir loads every .yaml/.yml definition in dir into a Library. Files
// that fail to parse are skipped and reported in the returned error list.
func LoadDir(dir string) (*Library, []error) {
	lib := &Library{dir: dir, defs: make(map[string]*Definition)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return lib, []error{fmt.Errorf("failed to read %s: %w", dir, err)}
	}

	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !isDefinitionFile(entry.Name()) {
			continue
		}
		def, err := LoadDefinition(filepath.Join(dir, entry.Name()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		lib.defs[def.Name] = def
	}
	return lib, errs
}

// Dir returns the directory this library was loaded from.
func (l *Library) Dir() string {
	return l.dir
}

// Get returns the named definition.
func (l *Library) Get(name string) (*Definition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	def, ok := l.defs[name]
	return def, ok
}

// Names returns the loaded definition names, sorted.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.defs))
	for name := range l.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Put inserts or replaces a definition.
func (l *Library) Put(def *Definition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.defs[def.Name] = def
}

// Remove drops a definition by name.
func (l *Library) Remove(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.defs, name)
}

// Count returns the number of loaded definitions.
func (l *Library) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.defs)
}

func isDefinitionFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
