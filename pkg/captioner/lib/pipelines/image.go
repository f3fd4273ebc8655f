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
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"io"

	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	_ "golang.org/x/image/webp" // Register WebP decoder

	"github.com/antflydb/captioner/pkg/captioner/lib/backends"
)

// ImageProcessor handles image preprocessing for the vision encoder.
type ImageProcessor struct {
	Config *backends.ImageConfig
}

// NewImageProcessor creates an ImageProcessor with the given configuration.
func NewImageProcessor(config *backends.ImageConfig) *ImageProcessor {
	if config == nil {
		config = backends.DefaultImageConfig()
	}
	return &ImageProcessor{Config: config}
}

// ProcessBytes preprocesses an image from bytes.
// Returns pixel values in NCHW format [channels, height, width] as a flat slice.
func (p *ImageProcessor) ProcessBytes(data []byte) ([]float32, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return p.Process(img)
}

// ProcessReader preprocesses an image from a reader.
func (p *ImageProcessor) ProcessReader(r io.Reader) ([]float32, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return p.Process(img)
}

// Process preprocesses an image.
// Returns pixel values in NCHW format [channels, height, width] as a flat slice.
func (p *ImageProcessor) Process(img image.Image) ([]float32, error) {
	if p.Config.DoCenterCrop && p.Config.CropSize > 0 {
		img = centerCrop(img, p.Config.CropSize)
	}

	img = resizeImage(img, p.Config.Width, p.Config.Height)

	return p.toTensor(img), nil
}

// toTensor converts an image to a normalized float tensor in NCHW format.
func (p *ImageProcessor) toTensor(img image.Image) []float32 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	channels := p.Config.Channels

	pixels := make([]float32, channels*height*width)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := img.At(bounds.Min.X+x, bounds.Min.Y+y)
			r, g, b, _ := c.RGBA()

			// Convert from 0-65535 to 0-255, then apply rescale factor
			rf := float32(r>>8) * p.Config.RescaleFactor
			gf := float32(g>>8) * p.Config.RescaleFactor
			bf := float32(b>>8) * p.Config.RescaleFactor

			rf = (rf - p.Config.Mean[0]) / p.Config.Std[0]
			gf = (gf - p.Config.Mean[1]) / p.Config.Std[1]
			bf = (bf - p.Config.Mean[2]) / p.Config.Std[2]

			pixels[0*height*width+y*width+x] = rf
			pixels[1*height*width+y*width+x] = gf
			pixels[2*height*width+y*width+x] = bf
		}
	}

	return pixels
}

// centerCrop performs center cropping on an image.
func centerCrop(img image.Image, size int) image.Image {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	cropWidth := size
	cropHeight := size
	if width < cropWidth {
		cropWidth = width
	}
	if height < cropHeight {
		cropHeight = height
	}

	left := (width - cropWidth) / 2
	top := (height - cropHeight) / 2

	cropped := image.NewRGBA(image.Rect(0, 0, cropWidth, cropHeight))
	for dy := 0; dy < cropHeight; dy++ {
		for dx := 0; dx < cropWidth; dx++ {
			cropped.Set(dx, dy, img.At(bounds.Min.X+left+dx, bounds.Min.Y+top+dy))
		}
	}
	return cropped
}

// resizeImage performs bilinear interpolation to resize an image.
func resizeImage(img image.Image, targetWidth, targetHeight int) image.Image {
	bounds := img.Bounds()
	srcWidth := bounds.Dx()
	srcHeight := bounds.Dy()

	if srcWidth == targetWidth && srcHeight == targetHeight {
		return img
	}

	resized := image.NewRGBA(image.Rect(0, 0, targetWidth, targetHeight))

	xRatio := float64(srcWidth) / float64(targetWidth)
	yRatio := float64(srcHeight) / float64(targetHeight)

	for y := 0; y < targetHeight; y++ {
		for x := 0; x < targetWidth; x++ {
			c := bilinearInterpolate(img, float64(x)*xRatio, float64(y)*yRatio, bounds)
			resized.Set(x, y, c)
		}
	}

	return resized
}

// bilinearInterpolate samples an image at floating-point coordinates.
func bilinearInterpolate(img image.Image, x, y float64, bounds image.Rectangle) color.Color {
	x0 := int(x)
	y0 := int(y)
	x1 := x0 + 1
	y1 := y0 + 1

	if x0 < bounds.Min.X {
		x0 = bounds.Min.X
	}
	if y0 < bounds.Min.Y {
		y0 = bounds.Min.Y
	}
	if x1 >= bounds.Max.X {
		x1 = bounds.Max.X - 1
	}
	if y1 >= bounds.Max.Y {
		y1 = bounds.Max.Y - 1
	}

	c00 := img.At(x0, y0)
	c01 := img.At(x0, y1)
	c10 := img.At(x1, y0)
	c11 := img.At(x1, y1)

	xWeight := x - float64(x0)
	yWeight := y - float64(y0)

	r00, g00, b00, a00 := c00.RGBA()
	r01, g01, b01, a01 := c01.RGBA()
	r10, g10, b10, a10 := c10.RGBA()
	r11, g11, b11, a11 := c11.RGBA()

	r := interpolate(r00, r01, r10, r11, xWeight, yWeight)
	g := interpolate(g00, g01, g10, g11, xWeight, yWeight)
	b := interpolate(b00, b01, b10, b11, xWeight, yWeight)
	a := interpolate(a00, a01, a10, a11, xWeight, yWeight)

	return color.RGBA64{
		R: uint16(r),
		G: uint16(g),
		B: uint16(b),
		A: uint16(a),
	}
}

// interpolate performs bilinear interpolation on a single channel.
func interpolate(v00, v01, v10, v11 uint32, xWeight, yWeight float64) float64 {
	top := float64(v00)*(1-xWeight) + float64(v10)*xWeight
	bottom := float64(v01)*(1-xWeight) + float64(v11)*xWeight
	return top*(1-yWeight) + bottom*yWeight
}
