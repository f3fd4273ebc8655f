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

// Package backends provides a unified interface for creating ML inference
// sessions for the captioner's encoder-decoder models.
//
// Available backends:
//   - ONNX Runtime: requires -tags="onnx,ORT" and the ONNX Runtime shared
//     library at run time. Fastest CPU/GPU inference.
//
// Build example:
//
//	go build -tags="onnx,ORT" ./pkg/captioner/cmd
//
// Backend selection at runtime follows a configurable priority order.
package backends

import "context"

// BackendType identifies the inference backend.
type BackendType string

const (
	// BackendONNX is the ONNX Runtime backend - fast CPU/GPU inference.
	BackendONNX BackendType = "onnx"
)

// DeviceType identifies the hardware device for inference.
type DeviceType string

const (
	// DeviceAuto auto-detects the best available device (default).
	DeviceAuto DeviceType = "auto"

	// DeviceCUDA uses NVIDIA CUDA GPU.
	DeviceCUDA DeviceType = "cuda"

	// DeviceCPU forces CPU-only inference.
	DeviceCPU DeviceType = "cpu"
)

// GPUMode controls how GPU acceleration is enabled.
type GPUMode string

const (
	GPUModeAuto GPUMode = "auto" // Auto-detect GPU availability
	GPUModeCuda GPUMode = "cuda" // Force CUDA
	GPUModeOff  GPUMode = "off"  // CPU only
)

// ToGPUMode converts DeviceType to GPUMode.
func (d DeviceType) ToGPUMode() GPUMode {
	switch d {
	case DeviceCUDA:
		return GPUModeCuda
	case DeviceCPU:
		return GPUModeOff
	default:
		return GPUModeAuto
	}
}

// ModelInputs contains the inputs for a model forward pass.
// Encoder calls set the image fields; decoder calls set InputIDs,
// DecoderMask, and EncoderOutput.
type ModelInputs struct {
	// Token inputs for the decoder [batch, seq].
	InputIDs [][]int32

	// DecoderMask is the causal attention mask for the decoder,
	// flattened row-major with shape MaskShape. Rebuilt from the token
	// sequence on every step.
	DecoderMask []int64
	MaskShape   [2]int

	// Image inputs (vision encoder).
	ImagePixels   []float32 // Preprocessed image data [batch, channels, height, width]
	ImageBatch    int
	ImageChannels int
	ImageHeight   int
	ImageWidth    int

	// EncoderOutput passes the encoded image to the decoder.
	EncoderOutput *EncoderOutput
}

// ModelOutput contains the outputs from a forward pass.
type ModelOutput struct {
	// EncoderOutput is set by encoder calls.
	EncoderOutput *EncoderOutput

	// Logits over the vocabulary for the last position [batch, vocab_size].
	// Set by decoder calls.
	Logits [][]float32
}

// EncoderOutput holds the output of the vision encoder. It is computed once
// per generation call and shared read-only by every decoding step.
type EncoderOutput struct {
	// HiddenStates are the encoder's hidden states [batch, num_patches, hidden].
	HiddenStates []float32
	// Shape holds the tensor dimensions [batch, seq, hidden].
	Shape [3]int
}

// Model is an encoder-decoder model that can encode an image and run
// single decoder steps. Implementations live in the pipelines package.
type Model interface {
	// Forward runs the encoder (image inputs set) or one decoder step
	// (EncoderOutput set).
	Forward(ctx context.Context, inputs *ModelInputs) (*ModelOutput, error)

	// Close releases resources associated with the model.
	Close() error

	// Name returns the model name for logging and debugging.
	Name() string

	// Backend returns the backend type this model uses.
	Backend() BackendType
}

// DecoderConfigProvider is implemented by models that carry decoder
// configuration parsed from their config.json.
type DecoderConfigProvider interface {
	DecoderConfig() *DecoderConfig
}

// ImageConfigProvider is implemented by models that carry image
// preprocessing configuration.
type ImageConfigProvider interface {
	ImageConfig() *ImageConfig
}

// DecoderConfig holds decoder token configuration for generation.
type DecoderConfig struct {
	// VocabSize is the size of the vocabulary.
	VocabSize int
	// MaxLength is the maximum generation length supported by the model.
	MaxLength int
	// EOSTokenID is the end-of-sequence token ID.
	EOSTokenID int32
	// BOSTokenID is the beginning-of-sequence token ID.
	BOSTokenID int32
	// PadTokenID is the padding token ID.
	PadTokenID int32
	// DecoderStartTokenID is the token ID to start decoding with.
	// Falls back to BOSTokenID when the model config does not set it.
	DecoderStartTokenID int32
}

// ImageConfig holds configuration for image preprocessing.
type ImageConfig struct {
	// Width is the target image width.
	Width int
	// Height is the target image height.
	Height int
	// Channels is the number of color channels (typically 3 for RGB).
	Channels int
	// Mean is the per-channel mean for normalization.
	Mean [3]float32
	// Std is the per-channel standard deviation for normalization.
	Std [3]float32
	// RescaleFactor scales pixel values (e.g., 1/255 to convert 0-255 to 0-1).
	RescaleFactor float32
	// DoCenterCrop indicates whether to center crop before resize.
	DoCenterCrop bool
	// CropSize is the size for center cropping (if DoCenterCrop is true).
	CropSize int
}

// DefaultImageConfig returns sensible defaults for image preprocessing.
// These values are typical for ViT-based caption models (ImageNet statistics).
func DefaultImageConfig() *ImageConfig {
	return &ImageConfig{
		Width:         224,
		Height:        224,
		Channels:      3,
		Mean:          [3]float32{0.485, 0.456, 0.406},
		Std:           [3]float32{0.229, 0.224, 0.225},
		RescaleFactor: 1.0 / 255.0,
		DoCenterCrop:  false,
	}
}

// GenerationConfig holds parameters for beam-search caption generation.
type GenerationConfig struct {
	// MaxSteps is the maximum number of decoding steps per generation call.
	MaxSteps int
	// BeamWidth is the number of beams tracked simultaneously.
	// A width of 1 is equivalent to greedy decoding.
	BeamWidth int
	// Diagnostics enables per-step logging of beam state. Observability
	// only: it never affects the generated caption.
	Diagnostics bool
}

// DefaultGenerationConfig returns sensible defaults for caption generation.
func DefaultGenerationConfig() *GenerationConfig {
	return &GenerationConfig{
		MaxSteps:  256,
		BeamWidth: 3,
	}
}
