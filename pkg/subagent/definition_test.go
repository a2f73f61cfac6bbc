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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const coderYAML = `name: coder
description: writes code
system_prompt: |
  You are a careful coder.
tools:
  - fs_read_file
  - fs_write_file
allow_nested_tasks: true
max_rounds: 20
max_depth: 3
`

func writeDefinition(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefinition(t *testing.T) {
	dir := t.TempDir()
	path := writeDefinition(t, dir, "coder.yaml", coderYAML)

	def, err := LoadDefinition(path)
	require.NoError(t, err)
	assert.Equal(t, "coder", def.Name)
	assert.Equal(t, "writes code", def.Description)
	assert.Contains(t, def.SystemPrompt, "careful coder")
	assert.Equal(t, []string{"fs_read_file", "fs_write_file"}, def.Tools)
	assert.True(t, def.AllowNestedTasks)
	assert.Equal(t, 20, def.MaxRounds)
	assert.Equal(t, 3, def.MaxDepth)
}

func TestLoadDefinitionValidation(t *testing.T) {
	dir := t.TempDir()

	noName := writeDefinition(t, dir, "noname.yaml", "description: oops\nsystem_prompt: hi\n")
	_, err := LoadDefinition(noName)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing name")

	noPrompt := writeDefinition(t, dir, "noprompt.yaml", "name: quiet\n")
	_, err = LoadDefinition(noPrompt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing system_prompt")

	badYAML := writeDefinition(t, dir, "broken.yaml", "name: [unclosed\n")
	_, err = LoadDefinition(badYAML)
	require.Error(t, err)
}

func TestLoadDirSkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "coder.yaml", coderYAML)
	writeDefinition(t, dir, "reviewer.yml", "name: reviewer\nsystem_prompt: review code\n")
	writeDefinition(t, dir, "broken.yaml", "name: [unclosed\n")
	writeDefinition(t, dir, "notes.txt", "not a definition")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	lib, errs := LoadDir(dir)
	require.Len(t, errs, 1, "only the broken yaml should error")
	assert.Equal(t, []string{"coder", "reviewer"}, lib.Names())
	assert.Equal(t, 2, lib.Count())
	assert.Equal(t, dir, lib.Dir())
}

func TestLoadDirMissingDirectory(t *testing.T) {
	lib, errs := LoadDir(filepath.Join(t.TempDir(), "nope"))
	require.Len(t, errs, 1)
	assert.Zero(t, lib.Count())
}

func TestLibraryPutGetRemove(t *testing.T) {
	lib := &Library{defs: map[string]*Definition{}}

	lib.Put(&Definition{Name: "a", SystemPrompt: "x"})
	lib.Put(&Definition{Name: "b", SystemPrompt: "y"})

	def, ok := lib.Get("a")
	require.True(t, ok)
	assert.Equal(t, "x", def.SystemPrompt)

	// Put replaces in place.
	lib.Put(&Definition{Name: "a", SystemPrompt: "x2"})
	def, _ = lib.Get("a")
	assert.Equal(t, "x2", def.SystemPrompt)

	lib.Remove("b")
	_, ok = lib.Get("b")
	assert.False(t, ok)
	assert.Equal(t, []string{"a"}, lib.Names())
}
