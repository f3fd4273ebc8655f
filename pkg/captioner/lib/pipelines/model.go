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
	"fmt"

	"github.com/gomlx/go-huggingface/tokenizers/api"

	"github.com/antflydb/captioner/pkg/captioner/lib/backends"
)

// SequenceModel abstracts the encoder-decoder caption model. The generation
// loop never depends on a concrete architecture or tensor runtime: tests run
// against a deterministic stub, production against an ONNX-backed model.
//
// All calls are synchronous and side-effect-free from the generator's
// perspective. Per-beam distribution calls within a step are independent, so
// an implementation may batch them internally; the generator does not.
type SequenceModel interface {
	// Encode produces the encoder context for an image. It is called once
	// per generation call; the result is shared read-only by every beam.
	Encode(ctx context.Context, pixels []float32, cfg *backends.ImageConfig) (*EncoderContext, error)

	// BuildMask derives the decoder attention mask from a beam's current
	// token sequence. It is recomputed every step and never cached across
	// beams.
	BuildMask(tokens []int32) DecoderMask

	// NextTokenDistribution returns the probability of each vocabulary
	// token following the given prefix. Probabilities are non-negative and
	// sum to 1 over the vocabulary.
	NextTokenDistribution(ctx context.Context, tokens []int32, enc *EncoderContext, mask DecoderMask) ([]float32, error)
}

// Vocabulary exposes the special token ids and detokenization the generator
// needs. No state beyond the wrapped tokenizer.
type Vocabulary interface {
	// BeginID returns the begin-of-sequence token id.
	BeginID() int32

	// EndID returns the end-of-sequence token id.
	EndID() int32

	// Detokenize converts token ids to text. With skipSpecial set, begin,
	// end, and padding tokens are stripped first.
	Detokenize(tokens []int32, skipSpecial bool) string
}

// EncoderContext is the fixed representation of the input image, reused
// unchanged by every decoding step and discarded when the generation call
// returns. Opaque to the generator.
type EncoderContext struct {
	output *backends.EncoderOutput
}

// DecoderMask is a causal attention mask preventing the decoder from
// attending to not-yet-generated positions. Flattened row-major.
type DecoderMask struct {
	Data  []int64
	Shape [2]int
}

// BuildCausalMask returns a lower-triangular mask for a sequence of n tokens:
// position i may attend to positions 0..i.
func BuildCausalMask(n int) DecoderMask {
	data := make([]int64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			data[i*n+j] = 1
		}
	}
	return DecoderMask{Data: data, Shape: [2]int{n, n}}
}

// tokenizerVocabulary adapts a huggingface tokenizer plus decoder token
// configuration to the Vocabulary interface.
type tokenizerVocabulary struct {
	tok     CaptionTokenizer
	beginID int32
	endID   int32
	padID   int32
}

// NewTokenizerVocabulary wraps a tokenizer with the given decoder config.
func NewTokenizerVocabulary(tok CaptionTokenizer, cfg *backends.DecoderConfig) Vocabulary {
	v := &tokenizerVocabulary{
		tok:     tok,
		beginID: cfg.BOSTokenID,
		endID:   cfg.EOSTokenID,
		padID:   cfg.PadTokenID,
	}
	if cfg.DecoderStartTokenID != 0 {
		v.beginID = cfg.DecoderStartTokenID
	}
	return v
}

func (v *tokenizerVocabulary) BeginID() int32 {
	return v.beginID
}

func (v *tokenizerVocabulary) EndID() int32 {
	return v.endID
}

func (v *tokenizerVocabulary) Detokenize(tokens []int32, skipSpecial bool) string {
	keep := make([]int32, 0, len(tokens))
	for _, tok := range tokens {
		if skipSpecial && (tok == v.beginID || tok == v.endID || tok == v.padID) {
			continue
		}
		keep = append(keep, tok)
	}
	return v.tok.Decode(Int32ToInt(keep))
}

// VocabularyFromTokenizer builds a Vocabulary using the tokenizer's own
// special token ids when the model config does not carry them.
func VocabularyFromTokenizer(tok CaptionTokenizer) (Vocabulary, error) {
	bos, err := tok.SpecialTokenID(api.TokBeginningOfSentence)
	if err != nil {
		return nil, fmt.Errorf("resolving begin token: %w", err)
	}
	eos, err := tok.SpecialTokenID(api.TokEndOfSentence)
	if err != nil {
		return nil, fmt.Errorf("resolving end token: %w", err)
	}
	pad, _ := tok.SpecialTokenID(api.TokPad)
	return &tokenizerVocabulary{
		tok:     tok,
		beginID: int32(bos),
		endID:   int32(eos),
		padID:   int32(pad),
	}, nil
}
