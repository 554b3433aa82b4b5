package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/svg"
)

type Optimizer interface {
	Optimize(ctx context.Context, markup string) (string, error)
}

// colorValuePattern matches a paint value in an attribute (fill="...") or a declaration
// (fill:...). Group 3 is the value.
var colorValuePattern = regexp.MustCompile(`(?i)\b(fill|stroke|stop-color|flood-color|lighting-color|color)(=["']?|:)(#[0-9a-f]{6}\b|#[0-9a-f]{3}\b|[a-z]+\b)`)

// namedColors maps each CSS name the minifier may emit to its hex value.
var namedColors = func() map[string]string {
	out := make(map[string]string, len(css.ShortenColorHex))
	for hex, name := range css.ShortenColorHex {
		out[string(name)] = canonicalHex(hex)
	}
	return out
}()

// MinifyOptimizer compacts SVG structure and whitespace. Every color keeps the hex token it
// had in the input: the minifier's color names and short forms are written back.
type MinifyOptimizer struct {
	m *minify.M
}

func NewMinifyOptimizer() *MinifyOptimizer {
	m := minify.New()
	m.Add(MimeSVG, &svg.Minifier{Precision: 0})
	return &MinifyOptimizer{m: m}
}

func (o *MinifyOptimizer) Optimize(ctx context.Context, markup string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	if strings.TrimSpace(markup) == "" {
		return "", fmt.Errorf("%w: empty markup", ErrOptimization)
	}

	out, err := o.m.String(MimeSVG, markup)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrOptimization, err)
	}
	return restoreColorTokens(out, inputColorTokens(markup)), nil
}

// inputColorTokens keys the first spelling of every hex color in markup by its canonical
// value. Spellings of the same color after the first collapse onto it.
func inputColorTokens(markup string) map[string]string {
	tokens := make(map[string]string)
	for _, token := range hexColorPattern.FindAllString(markup, -1) {
		key := canonicalHex(token)
		if _, ok := tokens[key]; !ok {
			tokens[key] = token
		}
	}
	return tokens
}

func restoreColorTokens(minified string, original map[string]string) string {
	if len(original) == 0 {
		return minified
	}
	return colorValuePattern.ReplaceAllStringFunc(minified, func(match string) string {
		parts := colorValuePattern.FindStringSubmatch(match)
		value := parts[3]

		var key string
		if strings.HasPrefix(value, "#") {
			key = canonicalHex(value)
		} else if hex, ok := namedColors[strings.ToLower(value)]; ok {
			key = hex
		} else {
			return match
		}

		token, ok := original[key]
		if !ok || token == value {
			return match
		}
		return parts[1] + parts[2] + token
	})
}

// canonicalHex lowercases a hex color and expands the three-digit form, without the '#'.
func canonicalHex(token string) string {
	hex := strings.ToLower(strings.TrimPrefix(token, "#"))
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	return hex
}
