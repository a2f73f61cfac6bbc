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
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromDefaults(t *testing.T) {
	settings, err := LoadFrom(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "info", settings.LogLevel)
	assert.Equal(t, 4096, settings.Model.MaxTokens)
	assert.Equal(t, 120, settings.Model.TimeoutSeconds)
	assert.Equal(t, 5, settings.Session.MaxDepth)
	assert.Zero(t, settings.Session.MaxRounds)
	assert.True(t, settings.HotReload)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	content := `log_level: debug
model:
  name: claude-sonnet-4-5-20250929
  max_tokens: 2048
session:
  max_depth: 3
  max_rounds: 40
hot_reload: false
agents_dir: /etc/tapestry/agents
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tapestry.yaml"), []byte(content), 0o644))

	settings, err := LoadFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, "debug", settings.LogLevel)
	assert.Equal(t, "claude-sonnet-4-5-20250929", settings.Model.Name)
	assert.Equal(t, 2048, settings.Model.MaxTokens)
	assert.Equal(t, 3, settings.Session.MaxDepth)
	assert.Equal(t, 40, settings.Session.MaxRounds)
	assert.False(t, settings.HotReload)
	assert.Equal(t, "/etc/tapestry/agents", settings.AgentsDir)
	assert.Equal(t, dir, settings.DataDir)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tapestry.yaml"), []byte("log_level: info\n"), 0o644))
	t.Setenv("TAPESTRY_LOG_LEVEL", "warn")

	settings, err := LoadFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, "warn", settings.LogLevel)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tapestry.yaml"), []byte("log_level: loud\n"), 0o644))

	_, err := LoadFrom(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tapestry.yaml"), []byte("model: [unclosed\n"), 0o644))

	_, err := LoadFrom(dir)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Settings{
		LogLevel: "info",
		Model:    ModelSettings{MaxTokens: 1024},
		Session:  SessionSettings{MaxDepth: 5},
	}
	require.NoError(t, base.Validate())

	bad := base
	bad.Model.MaxTokens = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.Session.MaxDepth = -1
	assert.Error(t, bad.Validate())

	bad = base
	bad.Session.MaxRounds = -2
	assert.Error(t, bad.Validate())
}
