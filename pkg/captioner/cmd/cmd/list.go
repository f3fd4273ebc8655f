// Copyright 2025 Antfly, Inc.
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
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/antflydb/captioner/pkg/captioner/lib/pipelines"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List local caption models",
	Long: `List caption models installed in the models directory.

A directory counts as a model when it contains a config.json along with
encoder and decoder ONNX files.

Examples:
  # List local models
  captioner list`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	entries, err := os.ReadDir(modelsDir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("No models found in %s\n", modelsDir)
			return nil
		}
		return fmt.Errorf("reading models dir %s: %w", modelsDir, err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	found := 0
	fmt.Fprintln(w, "NAME\tPATH")
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(modelsDir, entry.Name())
		if !pipelines.IsCaptionModel(path) {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", entry.Name(), path)
		found++
	}

	if found == 0 {
		fmt.Fprintf(w, "(none)\t%s\n", modelsDir)
	}
	return nil
}
