package pipeline

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	hexWhite = "#FFF"
	hexBlack = "#000"
)

var hexColorPattern = regexp.MustCompile(`(?i)#([a-f0-9]{3}){1,2}\b`)

type colorSample struct {
	token      string
	brightness float64
}

// ReduceToMonochrome rewrites every hex color token in svg to #000 or #FFF.
// Markup without any hex color is returned unchanged.
func ReduceToMonochrome(svg string) string {
	samples := sampleColors(svg)

	var extremes [2]colorSample
	switch n := len(samples); {
	case n == 0:
		return svg
	case n == 1:
		extremes = padSingle(samples[0])
	case n == 2:
		extremes = [2]colorSample{samples[0], samples[1]}
	default:
		extremes, svg = collapseInterior(svg, samples)
	}
	return substituteExtremes(svg, extremes)
}

// sampleColors returns the distinct tokens in first-appearance order. Tokens that differ only
// in case are distinct.
func sampleColors(svg string) []colorSample {
	matches := hexColorPattern.FindAllString(svg, -1)
	seen := make(map[string]struct{}, len(matches))
	samples := make([]colorSample, 0, len(matches))
	for _, token := range matches {
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		samples = append(samples, colorSample{token: token, brightness: brightness(token)})
	}
	return samples
}

// padSingle pairs a lone color with the opposite extreme. Dark colors get white appended,
// light ones get black in front.
func padSingle(only colorSample) [2]colorSample {
	if brighterHalf(only.brightness) < 0.5 {
		return [2]colorSample{only, {token: hexWhite, brightness: 255}}
	}
	return [2]colorSample{{token: hexBlack, brightness: 0}, only}
}

// collapseInterior keeps the darkest and lightest samples and snaps all others to black or
// white by their own brightness.
func collapseInterior(svg string, samples []colorSample) ([2]colorSample, string) {
	sorted := append([]colorSample(nil), samples...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].brightness < sorted[j].brightness
	})

	for _, s := range sorted[1 : len(sorted)-1] {
		svg = strings.ReplaceAll(svg, s.token, snap(s.brightness))
	}
	return [2]colorSample{sorted[0], sorted[len(sorted)-1]}, svg
}

// substituteExtremes maps the lexicographically larger token to white and the smaller to
// black. The comparison is on the raw token strings, not brightness.
func substituteExtremes(svg string, extremes [2]colorSample) string {
	a, b := extremes[0].token, extremes[1].token
	svg = strings.ReplaceAll(svg, a, tokenFor(a > b))
	return strings.ReplaceAll(svg, b, tokenFor(b > a))
}

func snap(b float64) string {
	return tokenFor(brighterHalf(b) != 0)
}

func brighterHalf(b float64) float64 {
	return math.Round(b / 256)
}

func tokenFor(white bool) string {
	if white {
		return hexWhite
	}
	return hexBlack
}

// brightness is the perceived brightness (299R + 587G + 114B) / 1000 on a 0-255 scale.
func brightness(token string) float64 {
	r, g, b := parseHex(token)
	return (float64(r)*299 + float64(g)*587 + float64(b)*114) / 1000
}

func parseHex(token string) (r, g, b uint8) {
	hex := strings.TrimPrefix(token, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return 0, 0, 0
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0
	}
	return uint8(v >> 16), uint8(v >> 8), uint8(v)
}
