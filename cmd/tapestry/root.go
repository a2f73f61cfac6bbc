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
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tapestry-labs/tapestry/internal/version"
	"github.com/tapestry-labs/tapestry/pkg/config"
)

var (
	flagDataDir  string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:     "tapestry",
	Short:   "Tapestry - hierarchical interactive multi-agent session runtime",
	Long:    `Tapestry runs trees of interactive agent sessions: a supervising agent spawns, manages, and converses with specialized subagents, each in its own live session.`,
	Version: version.Get(),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagDataDir != "" {
			// DataDir reads the environment, so the flag routes through it.
			_ = os.Setenv(config.EnvDataDir, flagDataDir)
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (default: $TAPESTRY_DATA_DIR or ./.tapestry)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(agentsCmd)
}
