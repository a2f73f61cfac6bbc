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

// Package config resolves the tapestry data directory and loads runtime
// settings from file, environment, and flags.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// EnvDataDir overrides the data directory location.
const EnvDataDir = "TAPESTRY_DATA_DIR"

// AppDirName is the per-project data directory created under the working
// directory when TAPESTRY_DATA_DIR is not set.
const AppDirName = ".tapestry"

// DataDir returns the tapestry data directory.
//
// Priority:
//  1. TAPESTRY_DATA_DIR environment variable (if set and non-empty)
//  2. <cwd>/.tapestry
//
// The returned path is absolute where possible. Tilde (~) in
// TAPESTRY_DATA_DIR is expanded to the user's home directory; relative paths
// are resolved against the working directory.
//
// This reads os.Getenv directly, not viper, so it can locate the config file
// before the config file is loaded.
func DataDir() string {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return expandPath(dir)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return AppDirName
	}
	return filepath.Join(cwd, AppDirName)
}

// LogsDir returns the structured log directory, <datadir>/logs.
func LogsDir() string {
	return SubDir("logs")
}

// TransactionsDir returns the transaction staging area, <datadir>/transactions.
func TransactionsDir() string {
	return SubDir("transactions")
}

// AgentsDir returns the subagent definitions directory, <datadir>/agents.
func AgentsDir() string {
	return SubDir("agents")
}

// SubDir returns a subdirectory within the data directory.
func SubDir(name string) string {
	return filepath.Join(DataDir(), name)
}

// expandPath expands a leading ~ and resolves to an absolute path.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
