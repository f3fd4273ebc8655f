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

package pipelines

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTokenizerConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "tokenizer_config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{
		"bos_token": {"__type": "AddedToken", "content": "<s>", "lstrip": false},
		"eos_token": "</s>",
		"model_max_length": 1024
	}`), 0o644))

	normalized, err := normalizeTokenizerConfig(configPath)
	require.NoError(t, err)

	var cfg map[string]any
	require.NoError(t, json.Unmarshal(normalized, &cfg))

	// AddedToken objects collapse to their content string; plain strings
	// and unrelated fields pass through untouched.
	assert.Equal(t, "<s>", cfg["bos_token"])
	assert.Equal(t, "</s>", cfg["eos_token"])
	assert.Equal(t, float64(1024), cfg["model_max_length"])
}

func TestExtractTokenContent(t *testing.T) {
	assert.Equal(t, "<s>", extractTokenContent("<s>"))
	assert.Equal(t, "</s>", extractTokenContent(map[string]any{"content": "</s>"}))
	assert.Equal(t, "", extractTokenContent(map[string]any{"no_content": true}))
	assert.Equal(t, "", extractTokenContent(42))
}

func TestLoadTokenizer_Missing(t *testing.T) {
	_, err := LoadTokenizer(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tokenizer found")
}

type wordListTokenizer struct {
	words []string
}

func (t wordListTokenizer) Decode(ids []int) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if id >= 0 && id < len(t.words) {
			parts = append(parts, t.words[id])
		}
	}
	return strings.Join(parts, " ")
}

func (t wordListTokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	switch token {
	case api.TokBeginningOfSentence:
		return 0, nil
	case api.TokEndOfSentence:
		return 3, nil
	}
	return 0, fmt.Errorf("unknown special token: %s", token)
}

func TestVocabularyFromTokenizer(t *testing.T) {
	tok := wordListTokenizer{words: []string{"<s>", "the", "cat", "</s>"}}
	vocab, err := VocabularyFromTokenizer(tok)
	require.NoError(t, err)

	assert.Equal(t, int32(0), vocab.BeginID())
	assert.Equal(t, int32(3), vocab.EndID())

	// Special tokens drop when skipped, survive otherwise.
	assert.Equal(t, "the cat", vocab.Detokenize([]int32{0, 1, 2, 3}, true))
	assert.Equal(t, "<s> the cat </s>", vocab.Detokenize([]int32{0, 1, 2, 3}, false))
}
