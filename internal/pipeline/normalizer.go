package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"math"

	"github.com/dunamismax/linework/internal/domain"
	"github.com/gen2brain/heic"
)

// MaxDimension is the canonical upper bound for the longer raster side.
const MaxDimension = 1000

// Raster is a flattened PNG ready for the vectorizer.
type Raster struct {
	Data   []byte
	Width  int
	Height int
}

type Normalizer interface {
	Normalize(ctx context.Context, item domain.UploadedItem) (Raster, error)
}

// targetSize scales the longer side to MaxDimension, keeping the aspect ratio.
func targetSize(width, height int) (int, int) {
	larger := max(width, height)
	ratio := float64(MaxDimension) / float64(larger)
	return int(math.Round(float64(width) * ratio)), int(math.Round(float64(height) * ratio))
}

// fitWithoutEnlargement returns the resize target, or the source size when the target would
// upscale.
func fitWithoutEnlargement(width, height int) (w, h int, resize bool) {
	tw, th := targetSize(width, height)
	if tw >= width && th >= height {
		return width, height, false
	}
	return max(1, min(tw, width)), max(1, min(th, height)), true
}

type rawPixels struct {
	Data     []byte
	Width    int
	Height   int
	Channels int
}

// decodeHEICRaw decodes HEIC into an RGBA buffer with explicit dimensions.
func decodeHEICRaw(data []byte) (rawPixels, error) {
	img, err := heic.Decode(bytes.NewReader(data))
	if err != nil {
		return rawPixels{}, fmt.Errorf("%w: heic: %w", ErrDecode, err)
	}

	b := img.Bounds()
	rgba := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)

	return rawPixels{
		Data:     rgba.Pix,
		Width:    b.Dx(),
		Height:   b.Dy(),
		Channels: 4,
	}, nil
}

// wrapRaw builds an image from a raw buffer using only the dimensions it carries.
func wrapRaw(raw rawPixels) (*image.NRGBA, error) {
	if raw.Width <= 0 || raw.Height <= 0 {
		return nil, fmt.Errorf("%w: raw buffer has invalid dimensions %dx%d", ErrDecode, raw.Width, raw.Height)
	}
	if raw.Channels != 4 {
		return nil, fmt.Errorf("%w: raw buffer has %d channels, want 4", ErrDecode, raw.Channels)
	}
	if want := raw.Width * raw.Height * raw.Channels; len(raw.Data) != want {
		return nil, fmt.Errorf("%w: raw buffer holds %d bytes, want %d", ErrDecode, len(raw.Data), want)
	}
	return &image.NRGBA{
		Pix:    raw.Data,
		Stride: raw.Width * raw.Channels,
		Rect:   image.Rect(0, 0, raw.Width, raw.Height),
	}, nil
}
