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
	"context"
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/antflydb/captioner/pkg/captioner/lib/backends"
)

// Configuration errors, reported before the generation loop starts.
var (
	ErrInvalidBeamWidth = errors.New("beam width must be at least 1")
	ErrInvalidMaxSteps  = errors.New("max steps must be at least 1")
)

// CaptionResult holds the result of caption generation.
type CaptionResult struct {
	// Text is the generated caption with special tokens stripped.
	Text string

	// TokenIDs is the chosen beam's full token sequence, including the
	// begin token and, when the beam completed, the end token.
	TokenIDs []int32

	// TokenCount is the number of generated tokens, excluding the begin
	// token. Never exceeds the configured MaxSteps.
	TokenCount int

	// Score is the chosen beam's accumulated score.
	Score float64

	// Completed reports whether the chosen beam reached the end token.
	// False means the step budget ran out and the best active beam was
	// used instead.
	Completed bool

	// Steps is the number of decoding steps taken.
	Steps int
}

// BeamSearchGenerator runs beam-search decoding against a SequenceModel.
//
// A single Generate call is strictly sequential: each step's pruning must
// finish before the next expansion. Separate calls share nothing but the
// read-only model, so callers may run them concurrently across images.
type BeamSearchGenerator struct {
	Model  SequenceModel
	Vocab  Vocabulary
	Config *backends.GenerationConfig

	logger *zap.Logger
}

// NewBeamSearchGenerator creates a generator with the given configuration.
// A nil config uses defaults; a nil logger disables diagnostics output.
func NewBeamSearchGenerator(model SequenceModel, vocab Vocabulary, config *backends.GenerationConfig, logger *zap.Logger) *BeamSearchGenerator {
	if config == nil {
		config = backends.DefaultGenerationConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BeamSearchGenerator{
		Model:  model,
		Vocab:  vocab,
		Config: config,
		logger: logger,
	}
}

// Generate decodes a caption from an encoder context.
//
// The loop runs until every beam slot is filled by a completed sequence or
// the step budget is exhausted, whichever comes first. If no beam reached
// the end token within the budget, the highest-scoring beam still active at
// termination is returned instead of an error, so the caller always gets a
// best-effort caption. Model errors propagate unchanged.
func (g *BeamSearchGenerator) Generate(ctx context.Context, enc *EncoderContext) (*CaptionResult, error) {
	if g.Config.BeamWidth < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBeamWidth, g.Config.BeamWidth)
	}
	if g.Config.MaxSteps < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidMaxSteps, g.Config.MaxSteps)
	}

	frontier := newBeamFrontier(g.Model, enc, g.Vocab.BeginID(), g.Config.BeamWidth)
	completed := &completionList{}

	steps := 0
	for steps < g.Config.MaxSteps && frontier.capacity > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if err := frontier.expand(ctx); err != nil {
			return nil, err
		}
		frontier.active, frontier.capacity = completed.harvest(frontier.active, frontier.capacity, g.Vocab.EndID())
		steps++

		if g.Config.Diagnostics {
			g.logStep(steps, frontier, completed)
		}
	}

	best, ok := completed.best()
	if !ok {
		// The step budget ran out before any beam reached the end token.
		best, ok = bestBeam(frontier.active)
		if !ok {
			return nil, fmt.Errorf("no active beams at termination")
		}
	}

	return &CaptionResult{
		Text:       g.Vocab.Detokenize(best.Tokens, true),
		TokenIDs:   best.Tokens,
		TokenCount: len(best.Tokens) - 1,
		Score:      best.Score,
		Completed:  best.last() == g.Vocab.EndID(),
		Steps:      steps,
	}, nil
}

// logStep emits per-step beam state. Observability only: it reads the
// frontier and completion list without touching them.
func (g *BeamSearchGenerator) logStep(step int, frontier *beamFrontier, completed *completionList) {
	activeTexts := make([]string, len(frontier.active))
	activeScores := make([]float64, len(frontier.active))
	for i, beam := range frontier.active {
		activeTexts[i] = g.Vocab.Detokenize(beam.Tokens, false)
		activeScores[i] = beam.Score
	}
	completedTexts := make([]string, len(completed.beams))
	for i, beam := range completed.beams {
		completedTexts[i] = g.Vocab.Detokenize(beam.Tokens, false)
	}

	g.logger.Debug("Beam search step",
		zap.Int("step", step),
		zap.Int("max_steps", g.Config.MaxSteps),
		zap.Int("capacity", frontier.capacity),
		zap.Strings("beams", activeTexts),
		zap.Float64s("beam_scores", activeScores),
		zap.Strings("completed", completedTexts))
}

// CaptionPipeline combines image preprocessing, vision encoding, and
// beam-search text generation.
type CaptionPipeline struct {
	// Model is the encoder-decoder caption model.
	Model SequenceModel

	// Vocab handles special tokens and detokenization.
	Vocab Vocabulary

	// Generator runs the beam-search decoding loop.
	Generator *BeamSearchGenerator

	// ImageProcessor handles image preprocessing.
	ImageProcessor *ImageProcessor

	closer func() error
}

// NewCaptionPipeline creates a pipeline around a model and vocabulary.
// A nil generation config uses defaults.
func NewCaptionPipeline(
	model SequenceModel,
	vocab Vocabulary,
	imageConfig *backends.ImageConfig,
	genConfig *backends.GenerationConfig,
	logger *zap.Logger,
) *CaptionPipeline {
	if imageConfig == nil {
		imageConfig = backends.DefaultImageConfig()
	}
	return &CaptionPipeline{
		Model:          model,
		Vocab:          vocab,
		Generator:      NewBeamSearchGenerator(model, vocab, genConfig, logger),
		ImageProcessor: NewImageProcessor(imageConfig),
	}
}

// WithGeneration returns a pipeline sharing this pipeline's model and
// vocabulary but generating with the given config. The returned pipeline
// does not own the model; closing it is a no-op.
func (p *CaptionPipeline) WithGeneration(cfg *backends.GenerationConfig) *CaptionPipeline {
	return &CaptionPipeline{
		Model:          p.Model,
		Vocab:          p.Vocab,
		Generator:      NewBeamSearchGenerator(p.Model, p.Vocab, cfg, p.Generator.logger),
		ImageProcessor: p.ImageProcessor,
	}
}

// Run generates a caption for an image.
func (p *CaptionPipeline) Run(ctx context.Context, img image.Image) (*CaptionResult, error) {
	pixels, err := p.ImageProcessor.Process(img)
	if err != nil {
		return nil, fmt.Errorf("preprocessing image: %w", err)
	}
	return p.runPixels(ctx, pixels)
}

// RunBytes generates a caption for an encoded image (JPEG, PNG, etc.).
func (p *CaptionPipeline) RunBytes(ctx context.Context, data []byte) (*CaptionResult, error) {
	pixels, err := p.ImageProcessor.ProcessBytes(data)
	if err != nil {
		return nil, fmt.Errorf("preprocessing image: %w", err)
	}
	return p.runPixels(ctx, pixels)
}

// RunBatch generates captions for multiple images. Each image is an
// independent generation call with private beam state.
func (p *CaptionPipeline) RunBatch(ctx context.Context, images []image.Image) ([]*CaptionResult, error) {
	results := make([]*CaptionResult, len(images))
	for i, img := range images {
		result, err := p.Run(ctx, img)
		if err != nil {
			return nil, fmt.Errorf("captioning image %d: %w", i, err)
		}
		results[i] = result
	}
	return results, nil
}

func (p *CaptionPipeline) runPixels(ctx context.Context, pixels []float32) (*CaptionResult, error) {
	enc, err := p.Model.Encode(ctx, pixels, p.ImageProcessor.Config)
	if err != nil {
		return nil, fmt.Errorf("encoding image: %w", err)
	}
	return p.Generator.Generate(ctx, enc)
}

// Close releases resources held by the pipeline.
func (p *CaptionPipeline) Close() error {
	if p.closer != nil {
		return p.closer()
	}
	return nil
}
