package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/linework/internal/domain"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	_ "golang.org/x/image/webp"
)

type stdlibNormalizer struct{}

func (stdlibNormalizer) Normalize(ctx context.Context, item domain.UploadedItem) (Raster, error) {
	select {
	case <-ctx.Done():
		return Raster{}, ctx.Err()
	default:
	}

	src, err := decodeStd(item)
	if err != nil {
		return Raster{}, err
	}

	bounds := src.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return Raster{}, fmt.Errorf("%w: source image has invalid dimensions", ErrDecode)
	}

	flat := flattenOnWhite(src)

	out := image.Image(flat)
	if w, h, resize := fitWithoutEnlargement(flat.Bounds().Dx(), flat.Bounds().Dy()); resize {
		out = imaging.Fill(flat, w, h, imaging.Center, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG); err != nil {
		return Raster{}, fmt.Errorf("%w: encode png: %w", ErrDecode, err)
	}

	return Raster{
		Data:   buf.Bytes(),
		Width:  out.Bounds().Dx(),
		Height: out.Bounds().Dy(),
	}, nil
}

func decodeStd(item domain.UploadedItem) (image.Image, error) {
	switch item.MimeType {
	case MimeHEIC:
		raw, err := decodeHEICRaw(item.Content)
		if err != nil {
			return nil, err
		}
		return wrapRaw(raw)
	case MimeSVG:
		return rasterizeSVG(item.Content)
	default:
		img, _, err := image.Decode(bytes.NewReader(item.Content))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		return img, nil
	}
}

// rasterizeSVG renders at the intrinsic viewBox size.
func rasterizeSVG(data []byte) (image.Image, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: svg: %w", ErrDecode, err)
	}

	w := int(math.Round(icon.ViewBox.W))
	h := int(math.Round(icon.ViewBox.H))
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: svg has no usable viewBox", ErrDecode)
	}

	icon.SetTarget(0, 0, float64(w), float64(h))
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	scanner := rasterx.NewScannerGV(w, h, rgba, rgba.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1)
	return rgba, nil
}

func flattenOnWhite(src image.Image) *image.NRGBA {
	b := src.Bounds()
	background := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(background, imaging.Clone(src), image.Pt(0, 0), 1.0)
}
