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

func TestDataDirFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvDataDir, dir)
	assert.Equal(t, dir, DataDir())
}

func TestDataDirDefault(t *testing.T) {
	t.Setenv(EnvDataDir, "")
	cwd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cwd, AppDirName), DataDir())
}

func TestDataDirTildeExpansion(t *testing.T) {
	t.Setenv(EnvDataDir, "~/my-tapestry")
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "my-tapestry"), DataDir())
}

func TestDataDirRelativePath(t *testing.T) {
	t.Setenv(EnvDataDir, "relative/data")
	got := DataDir()
	assert.True(t, filepath.IsAbs(got), "relative paths should resolve to absolute, got %s", got)
	assert.Equal(t, filepath.Join("relative", "data"), filepath.Join(filepath.Base(filepath.Dir(got)), filepath.Base(got)))
}

func TestSubDirs(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvDataDir, dir)

	assert.Equal(t, filepath.Join(dir, "logs"), LogsDir())
	assert.Equal(t, filepath.Join(dir, "transactions"), TransactionsDir())
	assert.Equal(t, filepath.Join(dir, "agents"), AgentsDir())
	assert.Equal(t, filepath.Join(dir, "anything"), SubDir("anything"))
}
