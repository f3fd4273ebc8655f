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
	"strings"
	"time"

	"github.com/antflydb/antfly-go/libaf/logging"
	"github.com/antflydb/captioner/pkg/captioner/lib/backends"
	"github.com/antflydb/captioner/pkg/captioner/lib/pipelines"
	"github.com/antflydb/captioner/pkg/captioner/lib/results"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var captionCmd = &cobra.Command{
	Use:   "caption [images...]",
	Short: "Generate captions for images",
	Long: `Generate captions for one or more image files using a local model,
without starting the server.

Examples:
  # Caption a single image
  captioner caption --model vit-gpt2 photo.jpg

  # Caption a directory of images and write a results file
  captioner caption --model vit-gpt2 --output results/ images/*.jpg

  # Wider beam for higher quality
  captioner caption --model vit-gpt2 --beam-width 5 photo.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCaption,
}

func init() {
	rootCmd.AddCommand(captionCmd)

	captionCmd.Flags().String("model", "", "Model name (subdirectory of models dir) or path to a model directory")
	captionCmd.Flags().Int("beam-width", 0, "Number of beams (defaults to beam_width config)")
	captionCmd.Flags().Int("max-steps", 0, "Decoding step budget (defaults to max_steps config)")
	captionCmd.Flags().String("output", "", "Directory to write a results file into")
	captionCmd.Flags().Bool("diagnostics", false, "Log per-step beam state")
	_ = captionCmd.MarkFlagRequired("model")
}

// resolveModelPath accepts either a bare model name under the models dir or
// a direct path to a model directory.
func resolveModelPath(model string) (string, error) {
	if pipelines.IsCaptionModel(model) {
		return model, nil
	}
	path := filepath.Join(modelsDir, model)
	if pipelines.IsCaptionModel(path) {
		return path, nil
	}
	return "", fmt.Errorf("model %q not found in %s", model, modelsDir)
}

func runCaption(cmd *cobra.Command, args []string) error {
	model, _ := cmd.Flags().GetString("model")
	beamWidth, _ := cmd.Flags().GetInt("beam-width")
	maxSteps, _ := cmd.Flags().GetInt("max-steps")
	output, _ := cmd.Flags().GetString("output")
	diagnostics, _ := cmd.Flags().GetBool("diagnostics")

	logger := logging.NewLogger(&logging.Config{
		Level: logging.Level(viper.GetString("log.level")),
		Style: logging.Style(viper.GetString("log.style")),
	})
	defer func() {
		_ = logger.Sync()
	}()

	modelPath, err := resolveModelPath(model)
	if err != nil {
		return err
	}

	genConfig := backends.DefaultGenerationConfig()
	if w := viper.GetInt("beam_width"); w > 0 {
		genConfig.BeamWidth = w
	}
	if s := viper.GetInt("max_steps"); s > 0 {
		genConfig.MaxSteps = s
	}
	if beamWidth > 0 {
		genConfig.BeamWidth = beamWidth
	}
	if maxSteps > 0 {
		genConfig.MaxSteps = maxSteps
	}
	genConfig.Diagnostics = diagnostics

	pipeline, backend, err := pipelines.LoadCaptionPipeline(modelPath, nil,
		pipelines.WithCaptionGenerationConfig(genConfig),
		pipelines.WithCaptionLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("loading model %q: %w", model, err)
	}
	defer func() {
		_ = pipeline.Close()
	}()

	fmt.Fprintf(os.Stderr, "Loaded %s (backend: %s, beam width: %d)\n",
		filepath.Base(modelPath), backend, genConfig.BeamWidth)

	var records []results.Record
	var scoreSum float64
	for _, imagePath := range args {
		data, err := os.ReadFile(imagePath)
		if err != nil {
			return fmt.Errorf("reading image %s: %w", imagePath, err)
		}

		start := time.Now()
		result, err := pipeline.RunBytes(cmd.Context(), data)
		if err != nil {
			return fmt.Errorf("captioning %s: %w", imagePath, err)
		}
		elapsed := time.Since(start)

		fmt.Printf("%s: %s\n", imagePath, result.Text)
		fmt.Fprintf(os.Stderr, "  score=%.4f tokens=%d steps=%d completed=%t (%s)\n",
			result.Score, result.TokenCount, result.Steps, result.Completed,
			elapsed.Round(time.Millisecond))

		records = append(records, results.Record{
			ImageID: imageID(imagePath),
			Caption: result.Text,
		})
		scoreSum += result.Score
	}

	if output != "" {
		count := len(records)

		// Reruns into the same directory extend the existing records,
		// replacing captions for images seen before.
		if existing, err := results.Read(filepath.Join(output, results.FileName(genConfig.BeamWidth))); err == nil {
			records = mergeRecords(existing, records)
		}

		path, err := results.Write(output, genConfig.BeamWidth, records)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Wrote %s\n", path)

		if count > 0 {
			scores := map[string]float64{
				fmt.Sprintf("beam%d", genConfig.BeamWidth): scoreSum / float64(count),
			}
			scoresPath, err := results.WriteScores(output, scores)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Wrote %s\n", scoresPath)
		}
	}
	return nil
}

// mergeRecords overlays fresh records onto existing ones, matching on image
// ID. Existing order is preserved; unseen images append in run order.
func mergeRecords(existing, fresh []results.Record) []results.Record {
	index := make(map[string]int, len(existing))
	merged := make([]results.Record, len(existing))
	copy(merged, existing)
	for i, rec := range merged {
		index[rec.ImageID] = i
	}
	for _, rec := range fresh {
		if i, ok := index[rec.ImageID]; ok {
			merged[i] = rec
			continue
		}
		index[rec.ImageID] = len(merged)
		merged = append(merged, rec)
	}
	return merged
}

// imageID derives a stable record ID from an image path: the base file name
// without its extension.
func imageID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
