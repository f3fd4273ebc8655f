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
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antflydb/captioner/pkg/captioner/lib/backends"
)

// solidImage returns a uniform-color RGBA image.
func solidImage(w, h int, c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestImageProcessor_TensorShape(t *testing.T) {
	proc := NewImageProcessor(nil)

	pixels, err := proc.Process(solidImage(64, 48, color.RGBA{R: 128, G: 128, B: 128, A: 255}))
	require.NoError(t, err)

	cfg := proc.Config
	assert.Len(t, pixels, cfg.Channels*cfg.Height*cfg.Width)
}

func TestImageProcessor_Normalization(t *testing.T) {
	cfg := &backends.ImageConfig{
		Width:         4,
		Height:        4,
		Channels:      3,
		Mean:          [3]float32{0.5, 0.5, 0.5},
		Std:           [3]float32{0.5, 0.5, 0.5},
		RescaleFactor: 1.0 / 255.0,
	}
	proc := NewImageProcessor(cfg)

	// Pure white maps to (1.0 - 0.5) / 0.5 = 1.0 on every channel.
	pixels, err := proc.Process(solidImage(4, 4, color.RGBA{R: 255, G: 255, B: 255, A: 255}))
	require.NoError(t, err)
	for _, p := range pixels {
		assert.InDelta(t, 1.0, p, 1e-5)
	}

	// Pure black maps to -1.0.
	pixels, err = proc.Process(solidImage(4, 4, color.RGBA{A: 255}))
	require.NoError(t, err)
	for _, p := range pixels {
		assert.InDelta(t, -1.0, p, 1e-5)
	}
}

func TestImageProcessor_ChannelLayout(t *testing.T) {
	cfg := &backends.ImageConfig{
		Width:         2,
		Height:        2,
		Channels:      3,
		Mean:          [3]float32{0, 0, 0},
		Std:           [3]float32{1, 1, 1},
		RescaleFactor: 1.0 / 255.0,
	}
	proc := NewImageProcessor(cfg)

	// Pure red: channel planes are contiguous, so the first H*W values are
	// the red plane, then green, then blue.
	pixels, err := proc.Process(solidImage(2, 2, color.RGBA{R: 255, A: 255}))
	require.NoError(t, err)
	require.Len(t, pixels, 12)

	for i := 0; i < 4; i++ {
		assert.InDelta(t, 1.0, pixels[i], 1e-5)
	}
	for i := 4; i < 12; i++ {
		assert.InDelta(t, 0.0, pixels[i], 1e-5)
	}
}

func TestImageProcessor_Resize(t *testing.T) {
	resized := resizeImage(solidImage(100, 50, color.RGBA{R: 10, G: 20, B: 30, A: 255}), 224, 224)

	bounds := resized.Bounds()
	assert.Equal(t, 224, bounds.Dx())
	assert.Equal(t, 224, bounds.Dy())

	r, g, b, _ := resized.At(112, 112).RGBA()
	assert.Equal(t, uint32(10), r>>8)
	assert.Equal(t, uint32(20), g>>8)
	assert.Equal(t, uint32(30), b>>8)
}

func TestImageProcessor_CenterCrop(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			// Border is red, the 4x4 center is green.
			if x >= 3 && x < 7 && y >= 3 && y < 7 {
				img.Set(x, y, color.RGBA{G: 255, A: 255})
			} else {
				img.Set(x, y, color.RGBA{R: 255, A: 255})
			}
		}
	}

	cropped := centerCrop(img, 4)
	bounds := cropped.Bounds()
	require.Equal(t, 4, bounds.Dx())
	require.Equal(t, 4, bounds.Dy())

	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			_, g, _, _ := cropped.At(x, y).RGBA()
			assert.Equal(t, uint32(255), g>>8)
		}
	}
}

func TestImageProcessor_ProcessBytes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solidImage(8, 8, color.RGBA{R: 128, G: 64, B: 32, A: 255})))

	proc := NewImageProcessor(nil)
	pixels, err := proc.ProcessBytes(buf.Bytes())
	require.NoError(t, err)
	assert.Len(t, pixels, 3*224*224)

	_, err = proc.ProcessBytes([]byte("not an image"))
	assert.Error(t, err)
}
