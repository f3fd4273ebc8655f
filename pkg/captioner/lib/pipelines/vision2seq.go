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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/antflydb/captioner/pkg/captioner/lib/backends"
)

// =============================================================================
// Configuration Types
// =============================================================================

// CaptionModelConfig holds parsed configuration for a caption model.
// This is loaded from config.json and preprocessor_config.json.
type CaptionModelConfig struct {
	// Path to the model directory
	ModelPath string

	// Paths to ONNX files
	EncoderPath string
	DecoderPath string

	// Decoder token configuration
	DecoderConfig *backends.DecoderConfig

	// Image preprocessing configuration
	ImageConfig *backends.ImageConfig
}

// =============================================================================
// Configuration Loading
// =============================================================================

// LoadCaptionModelConfig loads and parses configuration for a caption model.
func LoadCaptionModelConfig(modelPath string) (*CaptionModelConfig, error) {
	encoderPath := FindONNXFile(modelPath, []string{
		"encoder.onnx",
		"vision_encoder.onnx",
		"encoder_model.onnx",
	})

	decoderPath := FindONNXFile(modelPath, []string{
		"decoder.onnx",
		"decoder_model.onnx",
		"decoder_model_merged.onnx",
	})

	rawConfig, err := loadRawCaptionConfig(modelPath)
	if err != nil {
		return nil, fmt.Errorf("loading model config: %w", err)
	}

	preprocConfig := loadPreprocessorConfig(modelPath)

	return &CaptionModelConfig{
		ModelPath:     modelPath,
		EncoderPath:   encoderPath,
		DecoderPath:   decoderPath,
		DecoderConfig: buildDecoderConfig(rawConfig),
		ImageConfig:   buildImageConfig(rawConfig, preprocConfig),
	}, nil
}

// IsCaptionModel checks if a model path contains an encoder-decoder caption model.
func IsCaptionModel(path string) bool {
	encoderPath := FindONNXFile(path, []string{
		"encoder.onnx",
		"vision_encoder.onnx",
		"encoder_model.onnx",
	})
	decoderPath := FindONNXFile(path, []string{
		"decoder.onnx",
		"decoder_model.onnx",
		"decoder_model_merged.onnx",
	})
	return encoderPath != "" && decoderPath != ""
}

// =============================================================================
// Raw Config Structs and Parsing Helpers
// =============================================================================

// rawCaptionConfig represents the model's config.json structure.
type rawCaptionConfig struct {
	VocabSize           int   `json:"vocab_size"`
	DecoderStartTokenID int32 `json:"decoder_start_token_id"`
	EOSTokenID          any   `json:"eos_token_id"` // Can be int or []int
	BOSTokenID          int32 `json:"bos_token_id"`
	PadTokenID          int32 `json:"pad_token_id"`
	MaxLength           int   `json:"max_length"`

	// Image config (from config.json)
	ImageSize    any       `json:"image_size"`
	DoCenterCrop bool      `json:"do_center_crop"`
	ImageMean    []float32 `json:"image_mean"`
	ImageStd     []float32 `json:"image_std"`
	Size         any       `json:"size"`

	// Nested decoder config (for VisionEncoderDecoder models)
	DecoderConfig *struct {
		VocabSize           int   `json:"vocab_size"`
		DecoderStartTokenID int32 `json:"decoder_start_token_id"`
		EOSTokenID          any   `json:"eos_token_id"`
		BOSTokenID          int32 `json:"bos_token_id"`
		PadTokenID          int32 `json:"pad_token_id"`
		MaxLength           int   `json:"max_length"`
	} `json:"decoder"`

	// Encoder config (for vision models)
	EncoderConfig *struct {
		ImageSize int `json:"image_size"`
	} `json:"encoder"`

	// Vision config (for some models)
	VisionConfig *struct {
		ImageSize int `json:"image_size"`
	} `json:"vision_config"`
}

// rawPreprocessorConfig represents preprocessor_config.json
type rawPreprocessorConfig struct {
	ImageMean     []float32 `json:"image_mean"`
	ImageStd      []float32 `json:"image_std"`
	DoNormalize   bool      `json:"do_normalize"`
	DoCenterCrop  bool      `json:"do_center_crop"`
	RescaleFactor float32   `json:"rescale_factor"`
	Size          any       `json:"size"`
	CropSize      any       `json:"crop_size"`
}

// loadRawCaptionConfig loads the model configuration from config.json.
func loadRawCaptionConfig(path string) (*rawCaptionConfig, error) {
	configPath := filepath.Join(path, "config.json")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config.json: %w", err)
	}

	var config rawCaptionConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config.json: %w", err)
	}

	return &config, nil
}

// loadPreprocessorConfig loads preprocessor_config.json if it exists.
func loadPreprocessorConfig(path string) *rawPreprocessorConfig {
	configPath := filepath.Join(path, "preprocessor_config.json")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil
	}

	var config rawPreprocessorConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil
	}

	return &config
}

// extractEOSTokenID handles eos_token_id which can be int or []int in config.json.
func extractEOSTokenID(v any) int32 {
	switch val := v.(type) {
	case float64:
		return int32(val)
	case []interface{}:
		if len(val) > 0 {
			if f, ok := val[0].(float64); ok {
				return int32(f)
			}
		}
	}
	return 0
}

// buildDecoderConfig creates a DecoderConfig from the raw config.
func buildDecoderConfig(cfg *rawCaptionConfig) *backends.DecoderConfig {
	// Prefer nested decoder config (for VisionEncoderDecoder models)
	if cfg.DecoderConfig != nil {
		dec := cfg.DecoderConfig
		maxLength := dec.MaxLength
		if maxLength == 0 {
			maxLength = 512
		}
		return &backends.DecoderConfig{
			VocabSize:           dec.VocabSize,
			MaxLength:           maxLength,
			EOSTokenID:          extractEOSTokenID(dec.EOSTokenID),
			BOSTokenID:          dec.BOSTokenID,
			PadTokenID:          dec.PadTokenID,
			DecoderStartTokenID: dec.DecoderStartTokenID,
		}
	}

	maxLength := cfg.MaxLength
	if maxLength == 0 {
		maxLength = 512
	}
	return &backends.DecoderConfig{
		VocabSize:           cfg.VocabSize,
		MaxLength:           maxLength,
		EOSTokenID:          extractEOSTokenID(cfg.EOSTokenID),
		BOSTokenID:          cfg.BOSTokenID,
		PadTokenID:          cfg.PadTokenID,
		DecoderStartTokenID: cfg.DecoderStartTokenID,
	}
}

// buildImageConfig creates an ImageConfig from the raw configs.
func buildImageConfig(cfg *rawCaptionConfig, preproc *rawPreprocessorConfig) *backends.ImageConfig {
	var imageMean, imageStd []float32
	var doCenterCrop bool
	var rescaleFactor float32
	var sizeField any

	if preproc != nil {
		imageMean = preproc.ImageMean
		imageStd = preproc.ImageStd
		doCenterCrop = preproc.DoCenterCrop
		rescaleFactor = preproc.RescaleFactor
		sizeField = preproc.Size
	}

	// Fall back to config.json values
	if len(imageMean) == 0 {
		imageMean = cfg.ImageMean
	}
	if len(imageStd) == 0 {
		imageStd = cfg.ImageStd
	}
	if !doCenterCrop {
		doCenterCrop = cfg.DoCenterCrop
	}
	if sizeField == nil {
		sizeField = cfg.Size
	}

	var encoderSize, visionSize int
	if cfg.EncoderConfig != nil {
		encoderSize = cfg.EncoderConfig.ImageSize
	}
	if cfg.VisionConfig != nil {
		visionSize = cfg.VisionConfig.ImageSize
	}
	imageSize := FirstNonZero(
		extractImageSize(cfg.ImageSize),
		extractImageSize(sizeField),
		encoderSize,
		visionSize,
		224,
	)

	// Default normalization values (ImageNet)
	mean := [3]float32{0.485, 0.456, 0.406}
	std := [3]float32{0.229, 0.224, 0.225}
	if len(imageMean) == 3 {
		copy(mean[:], imageMean)
	}
	if len(imageStd) == 3 {
		copy(std[:], imageStd)
	}

	if rescaleFactor == 0 {
		rescaleFactor = 1.0 / 255.0
	}

	return &backends.ImageConfig{
		Width:         imageSize,
		Height:        imageSize,
		Channels:      3,
		Mean:          mean,
		Std:           std,
		RescaleFactor: rescaleFactor,
		DoCenterCrop:  doCenterCrop,
	}
}

// extractImageSize extracts an integer size from various JSON formats.
func extractImageSize(v any) int {
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case map[string]interface{}:
		// Handle {height: N, width: N} or {shortest_edge: N}
		if h, ok := val["height"].(float64); ok {
			return int(h)
		}
		if se, ok := val["shortest_edge"].(float64); ok {
			return int(se)
		}
	}
	return 0
}

// =============================================================================
// Model (Vision Encoder + Decoder)
// =============================================================================

var _ backends.Model = (*captionModel)(nil)

// captionModel implements backends.Model for image-to-text captioning.
// It uses separate encoder and decoder sessions. The decoder is stateless
// between steps: each step receives the full token prefix and a fresh
// attention mask, so no KV-cache is carried across calls.
type captionModel struct {
	config *CaptionModelConfig

	encoderSession backends.Session
	decoderSession backends.Session

	backendType backends.BackendType
}

// NewCaptionModel creates a Model from encoder and decoder sessions.
func NewCaptionModel(
	config *CaptionModelConfig,
	encoderSession backends.Session,
	decoderSession backends.Session,
	backendType backends.BackendType,
) backends.Model {
	return &captionModel{
		config:         config,
		encoderSession: encoderSession,
		decoderSession: decoderSession,
		backendType:    backendType,
	}
}

// LoadCaptionModel loads a caption Model using the given session factory.
// It discovers encoder and decoder ONNX files and creates sessions for both.
func LoadCaptionModel(modelPath string, factory backends.SessionFactory, opts ...backends.SessionOption) (backends.Model, error) {
	config, err := LoadCaptionModelConfig(modelPath)
	if err != nil {
		return nil, fmt.Errorf("loading model config: %w", err)
	}

	if config.EncoderPath == "" {
		return nil, fmt.Errorf("encoder ONNX file not found in %s", modelPath)
	}
	if config.DecoderPath == "" {
		return nil, fmt.Errorf("decoder ONNX file not found in %s", modelPath)
	}

	encoderSession, err := factory.CreateSession(config.EncoderPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating encoder session: %w", err)
	}

	decoderSession, err := factory.CreateSession(config.DecoderPath, opts...)
	if err != nil {
		encoderSession.Close()
		return nil, fmt.Errorf("creating decoder session: %w", err)
	}

	return &captionModel{
		config:         config,
		encoderSession: encoderSession,
		decoderSession: decoderSession,
		backendType:    factory.Backend(),
	}, nil
}

// Forward runs encoder or decoder based on inputs.
// - If ImagePixels is set (and EncoderOutput is nil): runs vision encoder, returns EncoderOutput
// - If EncoderOutput is set: runs decoder step, returns Logits
func (m *captionModel) Forward(ctx context.Context, inputs *backends.ModelInputs) (*backends.ModelOutput, error) {
	if inputs == nil {
		return nil, fmt.Errorf("nil inputs")
	}

	if inputs.EncoderOutput != nil {
		return m.runDecoder(ctx, inputs)
	}

	if len(inputs.ImagePixels) == 0 {
		return nil, fmt.Errorf("no image pixels or encoder output provided")
	}

	return m.runEncoder(ctx, inputs)
}

// runEncoder encodes preprocessed image pixels into encoder hidden states.
func (m *captionModel) runEncoder(ctx context.Context, inputs *backends.ModelInputs) (*backends.ModelOutput, error) {
	input := backends.NamedTensor{
		Name:  m.encoderInputName(),
		Shape: []int64{int64(inputs.ImageBatch), int64(inputs.ImageChannels), int64(inputs.ImageHeight), int64(inputs.ImageWidth)},
		Data:  inputs.ImagePixels,
	}

	outputs, err := m.encoderSession.Run([]backends.NamedTensor{input})
	if err != nil {
		return nil, fmt.Errorf("running encoder: %w", err)
	}

	if len(outputs) == 0 {
		return nil, fmt.Errorf("no encoder output")
	}

	// Encoder output is typically "last_hidden_state" (first output)
	output := outputs[0]
	if len(output.Shape) < 3 {
		return nil, fmt.Errorf("unexpected encoder output shape: %v", output.Shape)
	}

	hiddenStates, ok := output.Data.([]float32)
	if !ok {
		return nil, fmt.Errorf("encoder output is not float32")
	}

	return &backends.ModelOutput{
		EncoderOutput: &backends.EncoderOutput{
			HiddenStates: hiddenStates,
			Shape:        [3]int{int(output.Shape[0]), int(output.Shape[1]), int(output.Shape[2])},
		},
	}, nil
}

// encoderInputName returns the expected input name for the encoder.
func (m *captionModel) encoderInputName() string {
	inputInfo := m.encoderSession.InputInfo()
	if len(inputInfo) > 0 {
		return inputInfo[0].Name
	}
	// Default name for vision encoders
	return "pixel_values"
}

// runDecoder performs one step of autoregressive decoding for each beam.
func (m *captionModel) runDecoder(ctx context.Context, inputs *backends.ModelInputs) (*backends.ModelOutput, error) {
	inputIDs := inputs.InputIDs

	batchSize := len(inputIDs)
	if batchSize == 0 {
		return nil, fmt.Errorf("empty input")
	}

	seqLen := len(inputIDs[0])

	// Flatten input IDs to int64 for most models
	flatInputIDs := make([]int64, batchSize*seqLen)
	for i := 0; i < batchSize; i++ {
		for j := 0; j < seqLen; j++ {
			flatInputIDs[i*seqLen+j] = int64(inputIDs[i][j])
		}
	}

	tensorInputs := m.buildDecoderInputs(flatInputIDs, batchSize, seqLen, inputs)

	outputs, err := m.decoderSession.Run(tensorInputs)
	if err != nil {
		return nil, fmt.Errorf("running decoder: %w", err)
	}

	if len(outputs) == 0 {
		return nil, fmt.Errorf("no decoder output")
	}

	// Extract logits (first output)
	logitsOutput := outputs[0]
	logitsData, ok := logitsOutput.Data.([]float32)
	if !ok {
		return nil, fmt.Errorf("logits tensor is not float32")
	}

	logitsShape := logitsOutput.Shape
	vocabSize := int(logitsShape[len(logitsShape)-1])

	// Reshape logits to [batch, vocab_size], taking the last position
	logits := make([][]float32, batchSize)
	for i := 0; i < batchSize; i++ {
		logits[i] = make([]float32, vocabSize)
		startIdx := i*seqLen*vocabSize + (seqLen-1)*vocabSize
		copy(logits[i], logitsData[startIdx:startIdx+vocabSize])
	}

	return &backends.ModelOutput{Logits: logits}, nil
}

// buildDecoderInputs creates the input tensors for the decoder session.
func (m *captionModel) buildDecoderInputs(inputIDs []int64, batchSize, seqLen int, in *backends.ModelInputs) []backends.NamedTensor {
	inputInfo := m.decoderSession.InputInfo()
	inputNames := make(map[string]bool)
	for _, info := range inputInfo {
		inputNames[info.Name] = true
	}

	idsName := "input_ids"
	if inputNames["decoder_input_ids"] {
		idsName = "decoder_input_ids"
	}

	inputs := []backends.NamedTensor{{
		Name:  idsName,
		Shape: []int64{int64(batchSize), int64(seqLen)},
		Data:  inputIDs,
	}}

	encoderOutput := in.EncoderOutput
	if inputNames["encoder_hidden_states"] || inputNames["encoder_outputs"] {
		name := "encoder_hidden_states"
		if inputNames["encoder_outputs"] {
			name = "encoder_outputs"
		}
		inputs = append(inputs, backends.NamedTensor{
			Name:  name,
			Shape: []int64{int64(encoderOutput.Shape[0]), int64(encoderOutput.Shape[1]), int64(encoderOutput.Shape[2])},
			Data:  encoderOutput.HiddenStates,
		})
	}

	// Decoder self-attention mask, rebuilt from the token prefix each step
	if len(in.DecoderMask) > 0 {
		for _, name := range []string{"decoder_attention_mask", "attention_mask"} {
			if inputNames[name] {
				inputs = append(inputs, backends.NamedTensor{
					Name:  name,
					Shape: []int64{int64(in.MaskShape[0]), int64(in.MaskShape[1])},
					Data:  in.DecoderMask,
				})
				break
			}
		}
	}

	// Encoder attention mask covers every encoder position
	if inputNames["encoder_attention_mask"] {
		encSeqLen := encoderOutput.Shape[1]
		mask := make([]int64, batchSize*encSeqLen)
		for i := range mask {
			mask[i] = 1
		}
		inputs = append(inputs, backends.NamedTensor{
			Name:  "encoder_attention_mask",
			Shape: []int64{int64(batchSize), int64(encSeqLen)},
			Data:  mask,
		})
	}

	return inputs
}

// DecoderConfig returns configuration needed for generation.
func (m *captionModel) DecoderConfig() *backends.DecoderConfig {
	return m.config.DecoderConfig
}

// ImageConfig returns configuration for image preprocessing.
func (m *captionModel) ImageConfig() *backends.ImageConfig {
	return m.config.ImageConfig
}

// Close releases resources associated with the model.
func (m *captionModel) Close() error {
	var errs []error

	if m.encoderSession != nil {
		if err := m.encoderSession.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing encoder: %w", err))
		}
		m.encoderSession = nil
	}

	if m.decoderSession != nil {
		if err := m.decoderSession.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing decoder: %w", err))
		}
		m.decoderSession = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing model: %v", errs)
	}
	return nil
}

// Name returns the model name for logging and debugging.
func (m *captionModel) Name() string {
	return m.config.ModelPath
}

// Backend returns the backend type this model uses.
func (m *captionModel) Backend() backends.BackendType {
	return m.backendType
}

// =============================================================================
// SequenceModel Adapter
// =============================================================================

var _ SequenceModel = (*backendSequenceModel)(nil)

// backendSequenceModel adapts a backends.Model to the SequenceModel interface
// the generator consumes. Each distribution call runs one decoder step over
// the full token prefix and softmaxes the last-position logits.
type backendSequenceModel struct {
	model backends.Model
}

// NewBackendSequenceModel wraps a backends.Model as a SequenceModel.
func NewBackendSequenceModel(model backends.Model) SequenceModel {
	return &backendSequenceModel{model: model}
}

func (s *backendSequenceModel) Encode(ctx context.Context, pixels []float32, cfg *backends.ImageConfig) (*EncoderContext, error) {
	out, err := s.model.Forward(ctx, &backends.ModelInputs{
		ImagePixels:   pixels,
		ImageBatch:    1,
		ImageChannels: cfg.Channels,
		ImageHeight:   cfg.Height,
		ImageWidth:    cfg.Width,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding image: %w", err)
	}
	if out.EncoderOutput == nil {
		return nil, fmt.Errorf("encoder produced no output")
	}
	return &EncoderContext{output: out.EncoderOutput}, nil
}

func (s *backendSequenceModel) BuildMask(tokens []int32) DecoderMask {
	return BuildCausalMask(len(tokens))
}

func (s *backendSequenceModel) NextTokenDistribution(ctx context.Context, tokens []int32, enc *EncoderContext, mask DecoderMask) ([]float32, error) {
	out, err := s.model.Forward(ctx, &backends.ModelInputs{
		InputIDs:      [][]int32{tokens},
		DecoderMask:   mask.Data,
		MaskShape:     mask.Shape,
		EncoderOutput: enc.output,
	})
	if err != nil {
		return nil, fmt.Errorf("decoder step: %w", err)
	}
	if len(out.Logits) == 0 {
		return nil, fmt.Errorf("decoder produced no logits")
	}

	return Softmax(out.Logits[0]), nil
}

// =============================================================================
// Loader
// =============================================================================

// CaptionPipelineOption is a functional option for configuring pipeline loading.
type CaptionPipelineOption func(*captionPipelineOptions)

type captionPipelineOptions struct {
	imageConfig      *backends.ImageConfig
	generationConfig *backends.GenerationConfig
	sessionOptions   []backends.SessionOption
	logger           *zap.Logger
}

// WithCaptionImageConfig overrides the model's image preprocessing config.
func WithCaptionImageConfig(config *backends.ImageConfig) CaptionPipelineOption {
	return func(o *captionPipelineOptions) {
		o.imageConfig = config
	}
}

// WithCaptionGenerationConfig sets the generation config for the pipeline.
func WithCaptionGenerationConfig(config *backends.GenerationConfig) CaptionPipelineOption {
	return func(o *captionPipelineOptions) {
		o.generationConfig = config
	}
}

// WithCaptionSessionOptions sets session options used when creating sessions.
func WithCaptionSessionOptions(opts ...backends.SessionOption) CaptionPipelineOption {
	return func(o *captionPipelineOptions) {
		o.sessionOptions = opts
	}
}

// WithCaptionLogger sets the logger for the pipeline's generator.
func WithCaptionLogger(logger *zap.Logger) CaptionPipelineOption {
	return func(o *captionPipelineOptions) {
		o.logger = logger
	}
}

// LoadCaptionPipeline loads a complete caption pipeline from a model directory.
// It loads the model, the tokenizer, and wires up the generator.
func LoadCaptionPipeline(modelPath string, modelBackends []string, opts ...CaptionPipelineOption) (*CaptionPipeline, backends.BackendType, error) {
	options := &captionPipelineOptions{}
	for _, opt := range opts {
		opt(options)
	}

	factory, backendType, err := backends.GetSessionFactory(modelBackends)
	if err != nil {
		return nil, "", fmt.Errorf("getting session factory: %w", err)
	}

	model, err := LoadCaptionModel(modelPath, factory, options.sessionOptions...)
	if err != nil {
		return nil, "", fmt.Errorf("loading model: %w", err)
	}

	tokenizer, err := LoadTokenizer(modelPath)
	if err != nil {
		model.Close()
		return nil, "", fmt.Errorf("loading tokenizer: %w", err)
	}

	decoderConfig := ResolveDecoderConfig(model)

	var vocab Vocabulary
	if decoderConfig.EOSTokenID != 0 || decoderConfig.BOSTokenID != 0 || decoderConfig.DecoderStartTokenID != 0 {
		vocab = NewTokenizerVocabulary(tokenizer, decoderConfig)
	} else {
		vocab, err = VocabularyFromTokenizer(tokenizer)
		if err != nil {
			model.Close()
			return nil, "", fmt.Errorf("resolving vocabulary: %w", err)
		}
	}

	imageConfig := options.imageConfig
	if imageConfig == nil {
		imageConfig = ResolveImageConfig(model)
	}

	pipeline := NewCaptionPipeline(
		NewBackendSequenceModel(model),
		vocab,
		imageConfig,
		options.generationConfig,
		options.logger,
	)
	pipeline.closer = model.Close

	return pipeline, backendType, nil
}

// ResolveDecoderConfig returns the model's decoder config, or defaults when
// the model does not provide one.
func ResolveDecoderConfig(model backends.Model) *backends.DecoderConfig {
	if provider, ok := model.(backends.DecoderConfigProvider); ok {
		if config := provider.DecoderConfig(); config != nil {
			return config
		}
	}
	return &backends.DecoderConfig{MaxLength: 512}
}

// ResolveImageConfig returns the model's image config, or defaults when the
// model does not provide one.
func ResolveImageConfig(model backends.Model) *backends.ImageConfig {
	if provider, ok := model.(backends.ImageConfigProvider); ok {
		if config := provider.ImageConfig(); config != nil {
			return config
		}
	}
	return backends.DefaultImageConfig()
}
