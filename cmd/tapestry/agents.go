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
	"text/tabwriter"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/tapestry-labs/tapestry/pkg/config"
	"github.com/tapestry-labs/tapestry/pkg/subagent"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List available subagent definitions",
	Long: heredoc.Doc(`
		List the subagent definitions found in <datadir>/agents.

		Definitions are YAML files:
		  name: coder
		  description: writes and refactors code
		  system_prompt: |
		    You are a careful coder.
		  tools: [fs_read_file, fs_write_file]
	`),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Load()
		if err != nil {
			return err
		}
		dir := settings.AgentsDir
		if dir == "" {
			dir = config.AgentsDir()
		}

		library, loadErrs := subagent.LoadDir(dir)
		for _, lerr := range loadErrs {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", lerr)
		}
		if library.Count() == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No subagent definitions in %s\n", dir)
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDESCRIPTION\tTOOLS")
		for _, name := range library.Names() {
			def, _ := library.Get(name)
			fmt.Fprintf(w, "%s\t%s\t%d\n", def.Name, def.Description, len(def.Tools))
		}
		return w.Flush()
	},
}
