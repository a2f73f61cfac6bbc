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
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Settings is the runtime configuration, merged from tapestry.yaml in the
// data directory, TAPESTRY_* environment variables, and CLI flags. File keys
// use dots (model.max_tokens), env vars use underscores
// (TAPESTRY_MODEL_MAX_TOKENS).
type Settings struct {
	// LogLevel is the structured log threshold: debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	Model ModelSettings `mapstructure:"model"`

	Session SessionSettings `mapstructure:"session"`

	// AgentsDir overrides the subagent definitions directory. Empty means
	// <datadir>/agents.
	AgentsDir string `mapstructure:"agents_dir"`

	// HotReload watches the agents directory for definition changes.
	HotReload bool `mapstructure:"hot_reload"`

	// DataDir is resolved at load time, never read from the file.
	DataDir string `mapstructure:"-"`
}

// ModelSettings configures the chat provider.
type ModelSettings struct {
	// Name is the provider model identifier. Empty uses the provider's
	// default.
	Name string `mapstructure:"name"`

	MaxTokens int `mapstructure:"max_tokens"`

	// TimeoutSeconds bounds a single streaming request.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// SessionSettings bounds session trees and conversations.
type SessionSettings struct {
	MaxDepth int `mapstructure:"max_depth"`

	// MaxRounds caps conversation rounds per session. Zero means no cap.
	MaxRounds int `mapstructure:"max_rounds"`

	// MaxDurationSeconds caps a session's total run time. Zero means no cap.
	MaxDurationSeconds int `mapstructure:"max_duration_seconds"`
}

// ConfigFileName is the settings file looked up in the data directory.
const ConfigFileName = "tapestry"

// Load reads settings from the data directory's tapestry.yaml, overlaid with
// TAPESTRY_* environment variables. A missing config file is not an error;
// defaults apply.
func Load() (*Settings, error) {
	return LoadFrom(DataDir())
}

// LoadFrom is Load with an explicit config directory.
func LoadFrom(dir string) (*Settings, error) {
	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvPrefix("TAPESTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	settings.DataDir = dir

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("model.max_tokens", 4096)
	v.SetDefault("model.timeout_seconds", 120)
	v.SetDefault("session.max_depth", 5)
	v.SetDefault("session.max_rounds", 0)
	v.SetDefault("session.max_duration_seconds", 0)
	v.SetDefault("hot_reload", true)
}

// Validate checks settings invariants.
func (s *Settings) Validate() error {
	switch strings.ToLower(s.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q (want debug, info, warn, or error)", s.LogLevel)
	}
	if s.Model.MaxTokens <= 0 {
		return fmt.Errorf("model.max_tokens must be positive, got %d", s.Model.MaxTokens)
	}
	if s.Session.MaxDepth <= 0 {
		return fmt.Errorf("session.max_depth must be positive, got %d", s.Session.MaxDepth)
	}
	if s.Session.MaxRounds < 0 {
		return fmt.Errorf("session.max_rounds cannot be negative, got %d", s.Session.MaxRounds)
	}
	return nil
}
