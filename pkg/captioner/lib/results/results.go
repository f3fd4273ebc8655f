// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package results persists generated captions as JSON record files, one file
// per beam width so runs with different widths can be compared side by side.
package results

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/bytedance/sonic/decoder"
	"github.com/bytedance/sonic/encoder"
)

// Record is one captioned image.
type Record struct {
	ImageID string `json:"image_id"`
	Caption string `json:"caption"`
}

// FileName returns the record file name for a beam width.
func FileName(beamWidth int) string {
	return fmt.Sprintf("results_beam%d.json", beamWidth)
}

// Write saves records to dir under the per-beam-width file name,
// creating dir if needed.
func Write(dir string, beamWidth int, records []Record) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating results dir: %w", err)
	}

	path := filepath.Join(dir, FileName(beamWidth))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating results file: %w", err)
	}
	defer f.Close()

	if err := encoder.NewStreamEncoder(f).Encode(records); err != nil {
		return "", fmt.Errorf("encoding results: %w", err)
	}
	return path, nil
}

// Read loads records from a results file.
func Read(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening results file: %w", err)
	}
	defer f.Close()

	var records []Record
	if err := decoder.NewStreamDecoder(f).Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding results: %w", err)
	}
	return records, nil
}

// WriteScores saves a per-beam-width score map to dir/scores.json.
func WriteScores(dir string, scores map[string]float64) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating results dir: %w", err)
	}

	data, err := sonic.Marshal(scores)
	if err != nil {
		return "", fmt.Errorf("encoding scores: %w", err)
	}

	path := filepath.Join(dir, "scores.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing scores: %w", err)
	}
	return path, nil
}
