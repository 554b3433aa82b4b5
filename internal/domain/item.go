package domain

import (
	"fmt"
	"strings"
)

// ColorMode selects whether the two-tone reduction runs. It is fixed per batch.
type ColorMode string

const (
	ColorModeColor      ColorMode = "color"
	ColorModeMonochrome ColorMode = "black-and-white"
)

// Algorithm is reported in every batch response.
const Algorithm = "primitive"

func ParseColorMode(in string) (ColorMode, error) {
	switch strings.ToLower(strings.TrimSpace(in)) {
	case string(ColorModeColor):
		return ColorModeColor, nil
	case string(ColorModeMonochrome), "monochrome":
		return ColorModeMonochrome, nil
	default:
		return "", fmt.Errorf("unsupported color mode: %q", in)
	}
}

func (m ColorMode) Valid() bool {
	return m == ColorModeColor || m == ColorModeMonochrome
}

// UploadedItem is one file of a batch. The pipeline only reads it.
type UploadedItem struct {
	Content      []byte
	MimeType     string
	FieldName    string
	OriginalName string
}

type ProcessedResult struct {
	SVG          string `json:"svg"`
	FieldName    string `json:"fieldName"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`
}

type BatchResponse struct {
	Algorithm string            `json:"algorithm"`
	ColorMode ColorMode         `json:"colorMode"`
	Files     []ProcessedResult `json:"files"`
}

func NewBatchResponse(mode ColorMode, files []ProcessedResult) BatchResponse {
	if files == nil {
		files = []ProcessedResult{}
	}
	return BatchResponse{
		Algorithm: Algorithm,
		ColorMode: mode,
		Files:     files,
	}
}
