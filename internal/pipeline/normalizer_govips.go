//go:build govips && cgo

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/linework/internal/domain"
)

type govipsNormalizer struct{}

func (n govipsNormalizer) Normalize(ctx context.Context, item domain.UploadedItem) (Raster, error) {
	select {
	case <-ctx.Done():
		return Raster{}, ctx.Err()
	default:
	}

	img, err := loadGovipsImage(item)
	if err != nil {
		return Raster{}, err
	}
	defer img.Close()

	width, height := img.Width(), img.Height()
	if width <= 0 || height <= 0 {
		return Raster{}, fmt.Errorf("%w: source image has invalid dimensions", ErrDecode)
	}

	if img.HasAlpha() {
		if err := img.Flatten(&vips.Color{R: 255, G: 255, B: 255}); err != nil {
			return Raster{}, fmt.Errorf("%w: flatten: %w", ErrDecode, err)
		}
	}

	if w, h, resize := fitWithoutEnlargement(width, height); resize {
		if err := img.ThumbnailWithSize(w, h, vips.InterestingCentre, vips.SizeDown); err != nil {
			return Raster{}, fmt.Errorf("%w: resize: %w", ErrDecode, err)
		}
	}

	data, _, err := img.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return Raster{}, fmt.Errorf("%w: encode png: %w", ErrDecode, err)
	}

	return Raster{
		Data:   data,
		Width:  img.Width(),
		Height: img.Height(),
	}, nil
}

func loadGovipsImage(item domain.UploadedItem) (*vips.ImageRef, error) {
	input := item.Content
	if item.MimeType == MimeHEIC {
		// libvips builds rarely ship libheif, so HEIC is decoded in Go and handed over as PNG.
		raw, err := decodeHEICRaw(item.Content)
		if err != nil {
			return nil, err
		}
		wrapped, err := wrapRaw(raw)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, wrapped); err != nil {
			return nil, fmt.Errorf("%w: heic repack: %w", ErrDecode, err)
		}
		input = buf.Bytes()
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return img, nil
}
