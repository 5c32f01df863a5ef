/*
Copyright © 2025 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package hotmod

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"hotmod.dev/hmr/graph"
	"hotmod.dev/hmr/internal/logging"
	"hotmod.dev/hmr/transformhost"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Inspect the module dependency graph",
}

var graphInspectCmd = &cobra.Command{
	Use:   "inspect <url>",
	Short: "Boot a module and print its controller, exports, and dependencies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rootDir, err := expandPath(cmd.Flag("root").Value.String())
		if err != nil {
			return fmt.Errorf("invalid --root: %w", err)
		}

		engine := transformhost.NewEngine(transformhost.EngineConfig{RootDir: rootDir, Logger: logging.Noop{}})
		defer engine.Close()

		runtime := graph.NewRuntime(nil, nil, logging.Noop{}, 0)
		defer runtime.Close()

		builder := transformhost.NewDeclarationBuilder(engine, runtime)

		ctx := context.Background()
		url := args[0]

		ctrl := runtime.Acquire(url)
		if ctrl.Current() == nil {
			decl, err := builder.Build(ctx, url, false)
			if err != nil {
				return fmt.Errorf("build declaration for %s: %w", url, err)
			}
			ctrl.Load(decl)
			if err := ctrl.Dispatch(ctx); err != nil {
				return fmt.Errorf("dispatch %s: %w", url, err)
			}
		}

		report := inspectReport{URL: ctrl.URL()}
		if inst := ctrl.Current(); inst != nil {
			report.State = inst.State().String()
			for _, name := range inst.Namespace().Names() {
				report.Exports = append(report.Exports, name)
			}
			for _, dep := range inst.Declaration().Dependencies {
				report.Dependencies = append(report.Dependencies, dependencyReport{
					Specifier: dep.Specifier,
					URL:       dep.Controller().URL(),
				})
			}
		}

		output, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(output))
		return nil
	},
}

type dependencyReport struct {
	Specifier string `json:"specifier"`
	URL       string `json:"url"`
}

type inspectReport struct {
	URL          string             `json:"url"`
	State        string             `json:"state"`
	Exports      []string           `json:"exports,omitempty"`
	Dependencies []dependencyReport `json:"dependencies,omitempty"`
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.AddCommand(graphInspectCmd)
	graphInspectCmd.Flags().String("root", ".", "Directory module URLs are resolved against")
}
