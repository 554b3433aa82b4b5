package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const sampleSVG = `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" version="1.1" width="100" height="80">
    <!-- generated -->
    <rect x="0" y="0" width="100" height="80" fill="#123456" />
    <g transform="scale(1.000000) translate(0.5 0.5)" fill-opacity="1.000000">
        <polygon fill="#FFFFFF" points="10,10 50,10 30,40.000000" />
        <ellipse fill="#abcdef" cx="20" cy="20" rx="5" ry="6" />
    </g>
</svg>
`

func TestMinifyOptimizerShrinksAndKeepsColors(t *testing.T) {
	o := NewMinifyOptimizer()
	out, err := o.Optimize(context.Background(), sampleSVG)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if len(out) >= len(sampleSVG) {
		t.Fatalf("expected optimized markup to be smaller: %d >= %d", len(out), len(sampleSVG))
	}
	if strings.Contains(out, "generated") {
		t.Fatal("expected comments to be stripped")
	}

	got := hexColorPattern.FindAllString(out, -1)
	want := hexColorPattern.FindAllString(sampleSVG, -1)
	if !sameTokenSet(got, want) {
		t.Fatalf("expected tokens %v, got %v", want, got)
	}
}

func TestMinifyOptimizerKeepsHexTokensTheMinifierWouldName(t *testing.T) {
	const in = `<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10">
  <rect fill="#ff0000" width="10" height="10"/>
  <rect fill="#000080" width="5" height="5"/>
  <polygon fill="#c0c0c0" points="0,0 5,0 5,5"/>
  <path stroke="#F00" style="fill:#808080" d="M0 0L1 1"/>
  <ellipse fill="#FFF" cx="2" cy="2" rx="1" ry="1"/>
</svg>`

	out, err := NewMinifyOptimizer().Optimize(context.Background(), in)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}

	for _, name := range []string{`"red"`, `"navy"`, `"silver"`, `:gray`} {
		if strings.Contains(out, name) {
			t.Fatalf("expected no color name %s in output: %s", name, out)
		}
	}
	got := hexColorPattern.FindAllString(out, -1)
	// #F00 is the same color as the earlier #ff0000 and takes its spelling.
	want := []string{"#ff0000", "#000080", "#c0c0c0", "#808080", "#FFF"}
	if !sameTokenSet(got, want) {
		t.Fatalf("expected tokens %v, got %v in %s", want, got, out)
	}
}

func TestRestoreColorTokens(t *testing.T) {
	original := inputColorTokens(`<rect fill="#FF0000"/><rect fill="#abcdef"/>`)
	cases := []struct {
		name, in, want string
	}{
		{name: "name back to hex", in: `<rect fill="red"/>`, want: `<rect fill="#FF0000"/>`},
		{name: "short form back to input spelling", in: `<rect fill="#f00"/>`, want: `<rect fill="#FF0000"/>`},
		{name: "declaration", in: `<g style="stroke:red"/>`, want: `<g style="stroke:#FF0000"/>`},
		{name: "color not in input", in: `<rect fill="navy"/>`, want: `<rect fill="navy"/>`},
		{name: "unchanged token", in: `<rect fill="#abcdef"/>`, want: `<rect fill="#abcdef"/>`},
		{name: "non-paint attribute", in: `<rect id="red"/>`, want: `<rect id="red"/>`},
		{name: "paint keyword", in: `<rect fill="none"/>`, want: `<rect fill="none"/>`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := restoreColorTokens(tc.in, original); got != tc.want {
				t.Fatalf("restoreColorTokens(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestMinifyOptimizerIsIdempotent(t *testing.T) {
	o := NewMinifyOptimizer()
	ctx := context.Background()

	for _, in := range []string{sampleSVG, ReduceToMonochrome(sampleSVG)} {
		once, err := o.Optimize(ctx, in)
		if err != nil {
			t.Fatalf("optimize once: %v", err)
		}
		twice, err := o.Optimize(ctx, once)
		if err != nil {
			t.Fatalf("optimize twice: %v", err)
		}
		if once != twice {
			t.Fatalf("optimize is not idempotent\nonce:  %s\ntwice: %s", once, twice)
		}
	}
}

func TestMinifyOptimizerRejectsEmptyMarkup(t *testing.T) {
	if _, err := NewMinifyOptimizer().Optimize(context.Background(), "  \n"); !errors.Is(err, ErrOptimization) {
		t.Fatalf("expected ErrOptimization, got %v", err)
	}
}

func sameTokenSet(got, want []string) bool {
	set := func(tokens []string) map[string]struct{} {
		out := make(map[string]struct{}, len(tokens))
		for _, token := range tokens {
			out[token] = struct{}{}
		}
		return out
	}
	g, w := set(got), set(want)
	if len(g) != len(w) {
		return false
	}
	for token := range w {
		if _, ok := g[token]; !ok {
			return false
		}
	}
	return true
}
