package pipeline

import (
	"fmt"

	"github.com/dunamismax/linework/internal/domain"
)

const (
	MimeJPG  = "image/jpg"
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimeWebP = "image/webp"
	MimeGIF  = "image/gif"
	MimeSVG  = "image/svg+xml"
	MimeHEIC = "image/heic"
)

var allowedMediaTypes = map[string]struct{}{
	MimeJPG:  {},
	MimeJPEG: {},
	MimePNG:  {},
	MimeWebP: {},
	MimeGIF:  {},
	MimeSVG:  {},
	MimeHEIC: {},
}

// AllowedMediaTypes lists the declared types Validate accepts.
func AllowedMediaTypes() []string {
	return []string{MimeJPG, MimeJPEG, MimePNG, MimeWebP, MimeGIF, MimeSVG, MimeHEIC}
}

// Validate accepts an item by its declared media type only; content is not inspected.
func Validate(item domain.UploadedItem) (domain.UploadedItem, error) {
	if _, ok := allowedMediaTypes[item.MimeType]; !ok {
		return domain.UploadedItem{}, fmt.Errorf("%w: %q", ErrUnsupportedMediaType, item.MimeType)
	}
	return item, nil
}
