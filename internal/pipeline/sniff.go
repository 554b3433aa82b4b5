package pipeline

import (
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DeclaredType returns the media type a client declared for content. A missing or generic
// declaration is replaced by sniffing the bytes. Parameters are dropped.
func DeclaredType(header string, content []byte) string {
	header = strings.TrimSpace(header)
	if header == "" || strings.EqualFold(header, "application/octet-stream") {
		header = mimetype.Detect(content).String()
	}
	if mediaType, _, err := mime.ParseMediaType(header); err == nil {
		return mediaType
	}
	return header
}
