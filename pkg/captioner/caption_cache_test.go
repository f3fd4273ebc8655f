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

package captioner

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/antflydb/captioner/pkg/captioner/lib/backends"
	"github.com/antflydb/captioner/pkg/captioner/lib/pipelines"
)

// countingModel emits "word" then the end token, counting distribution calls.
type countingModel struct {
	calls int
}

func (m *countingModel) Encode(ctx context.Context, pixels []float32, cfg *backends.ImageConfig) (*pipelines.EncoderContext, error) {
	return &pipelines.EncoderContext{}, nil
}

func (m *countingModel) BuildMask(tokens []int32) pipelines.DecoderMask {
	return pipelines.BuildCausalMask(len(tokens))
}

func (m *countingModel) NextTokenDistribution(ctx context.Context, tokens []int32, enc *pipelines.EncoderContext, mask pipelines.DecoderMask) ([]float32, error) {
	m.calls++
	if len(tokens) == 1 {
		return []float32{0.0, 0.9, 0.05, 0.05}, nil
	}
	return []float32{0.0, 0.05, 0.05, 0.9}, nil
}

type wordVocab struct{}

func (wordVocab) BeginID() int32 { return 0 }
func (wordVocab) EndID() int32   { return 3 }

func (wordVocab) Detokenize(tokens []int32, skipSpecial bool) string {
	out := ""
	for _, tok := range tokens {
		if tok == 1 {
			out = "word"
		}
	}
	return out
}

func testPipeline(model pipelines.SequenceModel, gen *backends.GenerationConfig) *pipelines.CaptionPipeline {
	return pipelines.NewCaptionPipeline(model, wordVocab{}, nil, gen, zap.NewNop())
}

func pngBytes(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestCaptionCache_HitAndMiss(t *testing.T) {
	cache := NewCaptionCache(zap.NewNop())
	defer cache.Close()

	model := &countingModel{}
	pipeline := testPipeline(model, &backends.GenerationConfig{BeamWidth: 1, MaxSteps: 4})
	imageData := pngBytes(t, color.RGBA{R: 200, A: 255})

	first, err := cache.Caption(context.Background(), "m", pipeline, imageData)
	require.NoError(t, err)
	assert.Equal(t, "word", first.Text)
	assert.True(t, first.Completed)
	callsAfterFirst := model.calls
	assert.Positive(t, callsAfterFirst)

	// Second identical request is served from the cache without touching
	// the model.
	second, err := cache.Caption(context.Background(), "m", pipeline, imageData)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, callsAfterFirst, model.calls)

	stats := cache.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
}

func TestCaptionCache_DistinctKeys(t *testing.T) {
	cache := NewCaptionCache(zap.NewNop())
	defer cache.Close()

	model := &countingModel{}
	pipeline := testPipeline(model, &backends.GenerationConfig{BeamWidth: 1, MaxSteps: 4})
	red := pngBytes(t, color.RGBA{R: 255, A: 255})
	blue := pngBytes(t, color.RGBA{B: 255, A: 255})

	_, err := cache.Caption(context.Background(), "m", pipeline, red)
	require.NoError(t, err)

	t.Run("DifferentImage", func(t *testing.T) {
		_, err := cache.Caption(context.Background(), "m", pipeline, blue)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), cache.Stats().Misses)
	})

	t.Run("DifferentModelName", func(t *testing.T) {
		_, err := cache.Caption(context.Background(), "other", pipeline, red)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), cache.Stats().Misses)
	})

	t.Run("DifferentBeamWidth", func(t *testing.T) {
		wide := testPipeline(model, &backends.GenerationConfig{BeamWidth: 2, MaxSteps: 4})
		_, err := cache.Caption(context.Background(), "m", wide, red)
		require.NoError(t, err)
		assert.Equal(t, uint64(4), cache.Stats().Misses)
	})
}

func TestCaptionCache_ErrorNotCached(t *testing.T) {
	cache := NewCaptionCache(zap.NewNop())
	defer cache.Close()

	model := &countingModel{}
	// Invalid beam width surfaces as an error and must not poison the cache.
	pipeline := testPipeline(model, &backends.GenerationConfig{BeamWidth: 0, MaxSteps: 4})
	imageData := pngBytes(t, color.RGBA{G: 255, A: 255})

	_, err := cache.Caption(context.Background(), "m", pipeline, imageData)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipelines.ErrInvalidBeamWidth)
	assert.Equal(t, 0, cache.Stats().Entries)
}
