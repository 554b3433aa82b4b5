package pipeline

import "errors"

var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrDecode               = errors.New("decode image")
	ErrVectorization        = errors.New("vectorize image")
	ErrFilesystem           = errors.New("temp file i/o")
	ErrOptimization         = errors.New("optimize svg")
	ErrInvalidColorMode     = errors.New("invalid color mode")
)

// ErrorKind returns a stable label for err, used for HTTP mapping and metric labels.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrUnsupportedMediaType):
		return "unsupported_media_type"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrVectorization):
		return "vectorization"
	case errors.Is(err, ErrFilesystem):
		return "filesystem"
	case errors.Is(err, ErrOptimization):
		return "optimization"
	case errors.Is(err, ErrInvalidColorMode):
		return "invalid_color_mode"
	default:
		return "internal"
	}
}

// Permanent reports whether retrying err with the same input can never succeed.
func Permanent(err error) bool {
	return errors.Is(err, ErrUnsupportedMediaType) ||
		errors.Is(err, ErrDecode) ||
		errors.Is(err, ErrInvalidColorMode)
}
