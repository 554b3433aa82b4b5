package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dunamismax/linework/internal/domain"
	"github.com/dunamismax/linework/internal/pipeline"
)

const maxFieldBytes = 4 << 10

var (
	errUploadTooLarge = errors.New("upload exceeds size limit")
	errBadUpload      = errors.New("invalid multipart upload")
)

type upload struct {
	Items  []domain.UploadedItem
	Values map[string]string
}

// readUpload streams the multipart body so files keep the order they were sent in. Parts
// without a filename are form values.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		return upload{}, classifyUploadError(err)
	}

	out := upload{Values: make(map[string]string)}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return upload{}, classifyUploadError(err)
		}

		content, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return upload{}, classifyUploadError(err)
		}

		if part.FileName() == "" {
			if len(content) > maxFieldBytes {
				return upload{}, fmt.Errorf("%w: field %q is too long", errBadUpload, part.FormName())
			}
			out.Values[part.FormName()] = strings.TrimSpace(string(content))
			continue
		}

		out.Items = append(out.Items, domain.UploadedItem{
			Content:      content,
			MimeType:     pipeline.DeclaredType(part.Header.Get("Content-Type"), content),
			FieldName:    part.FormName(),
			OriginalName: part.FileName(),
		})
	}
	return out, nil
}

func classifyUploadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("%w: limit is %d bytes", errUploadTooLarge, tooLarge.Limit)
	}
	return fmt.Errorf("%w: %v", errBadUpload, err)
}
