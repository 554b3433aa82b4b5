package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dunamismax/linework/internal/domain"
)

type normalizerFunc func(ctx context.Context, item domain.UploadedItem) (Raster, error)

func (f normalizerFunc) Normalize(ctx context.Context, item domain.UploadedItem) (Raster, error) {
	return f(ctx, item)
}

type vectorizerFunc func(ctx context.Context, raster Raster) (string, error)

func (f vectorizerFunc) Vectorize(ctx context.Context, raster Raster) (string, error) {
	return f(ctx, raster)
}

type optimizerFunc func(ctx context.Context, markup string) (string, error)

func (f optimizerFunc) Optimize(ctx context.Context, markup string) (string, error) {
	return f(ctx, markup)
}

var passthroughOptimizer = optimizerFunc(func(_ context.Context, markup string) (string, error) {
	return markup, nil
})

// echoNormalizer carries the item content through as the raster payload.
var echoNormalizer = normalizerFunc(func(_ context.Context, item domain.UploadedItem) (Raster, error) {
	return Raster{Data: item.Content, Width: 10, Height: 10}, nil
})

func testItems(names ...string) []domain.UploadedItem {
	items := make([]domain.UploadedItem, 0, len(names))
	for i, name := range names {
		items = append(items, domain.UploadedItem{
			Content:      []byte(name),
			MimeType:     MimePNG,
			FieldName:    fmt.Sprintf("file%d", i),
			OriginalName: name + ".png",
		})
	}
	return items
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestProcessPreservesInputOrder(t *testing.T) {
	delays := map[string]time.Duration{"a": 80 * time.Millisecond, "b": 40 * time.Millisecond, "c": 0}

	var (
		mu       sync.Mutex
		finished []string
	)
	vectorizer := vectorizerFunc(func(ctx context.Context, raster Raster) (string, error) {
		name := string(raster.Data)
		time.Sleep(delays[name])
		mu.Lock()
		finished = append(finished, name)
		mu.Unlock()
		return fmt.Sprintf(`<svg><desc>%s</desc></svg>`, name), nil
	})

	p := newProcessor(echoNormalizer, vectorizer, passthroughOptimizer, 0, quietLogger())
	items := testItems("a", "b", "c")
	results, err := p.Process(context.Background(), items, domain.ColorModeColor)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(results) != len(items) {
		t.Fatalf("expected %d results, got %d", len(items), len(results))
	}
	for i, res := range results {
		if res.FieldName != items[i].FieldName || res.OriginalName != items[i].OriginalName || res.MimeType != items[i].MimeType {
			t.Fatalf("result %d does not match input: %+v", i, res)
		}
		name := strings.TrimSuffix(items[i].OriginalName, ".png")
		if !strings.Contains(res.SVG, "<desc>"+name+"</desc>") {
			t.Fatalf("result %d carries svg for another file: %s", i, res.SVG)
		}
	}
	if finished[0] != "c" {
		t.Fatalf("expected c to finish first, finish order was %v", finished)
	}
}

func TestProcessFailsFastWithoutPartialResults(t *testing.T) {
	vectorizer := vectorizerFunc(func(context.Context, Raster) (string, error) {
		return `<svg/>`, nil
	})

	p := newProcessor(echoNormalizer, vectorizer, passthroughOptimizer, 0, quietLogger())
	items := testItems("a", "b", "c")
	items[1].MimeType = "application/pdf"

	results, err := p.Process(context.Background(), items, domain.ColorModeColor)
	if !errors.Is(err, ErrUnsupportedMediaType) {
		t.Fatalf("expected ErrUnsupportedMediaType, got %v", err)
	}
	if results != nil {
		t.Fatalf("expected no results on failure, got %+v", results)
	}
	if !strings.Contains(err.Error(), "file[1]") || !strings.Contains(err.Error(), "b.png") {
		t.Fatalf("expected error to name the failing file, got %v", err)
	}
}

func TestProcessSurfacesStageKind(t *testing.T) {
	cases := []struct {
		name       string
		normalizer Normalizer
		vectorizer Vectorizer
		optimizer  Optimizer
		want       error
	}{
		{
			name: "decode",
			normalizer: normalizerFunc(func(context.Context, domain.UploadedItem) (Raster, error) {
				return Raster{}, fmt.Errorf("%w: corrupt", ErrDecode)
			}),
			vectorizer: vectorizerFunc(func(context.Context, Raster) (string, error) { return "<svg/>", nil }),
			optimizer:  passthroughOptimizer,
			want:       ErrDecode,
		},
		{
			name:       "vectorization",
			normalizer: echoNormalizer,
			vectorizer: vectorizerFunc(func(context.Context, Raster) (string, error) {
				return "", fmt.Errorf("%w: exit status 1", ErrVectorization)
			}),
			optimizer: passthroughOptimizer,
			want:      ErrVectorization,
		},
		{
			name:       "filesystem",
			normalizer: echoNormalizer,
			vectorizer: vectorizerFunc(func(context.Context, Raster) (string, error) {
				return "", fmt.Errorf("%w: disk full", ErrFilesystem)
			}),
			optimizer: passthroughOptimizer,
			want:      ErrFilesystem,
		},
		{
			name:       "optimization",
			normalizer: echoNormalizer,
			vectorizer: vectorizerFunc(func(context.Context, Raster) (string, error) { return "<svg/>", nil }),
			optimizer: optimizerFunc(func(context.Context, string) (string, error) {
				return "", fmt.Errorf("%w: bad markup", ErrOptimization)
			}),
			want: ErrOptimization,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newProcessor(tc.normalizer, tc.vectorizer, tc.optimizer, 0, quietLogger())
			_, err := p.Process(context.Background(), testItems("a", "b"), domain.ColorModeMonochrome)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if kind := ErrorKind(err); kind != tc.name {
				t.Fatalf("expected kind %s, got %s", tc.name, kind)
			}
		})
	}
}

func TestProcessRunsFilesConcurrently(t *testing.T) {
	const n = 4
	var arrived sync.WaitGroup
	arrived.Add(n)
	allIn := make(chan struct{})
	go func() {
		arrived.Wait()
		close(allIn)
	}()

	vectorizer := vectorizerFunc(func(ctx context.Context, raster Raster) (string, error) {
		arrived.Done()
		select {
		case <-allIn:
			return `<svg/>`, nil
		case <-time.After(2 * time.Second):
			return "", errors.New("files were not processed concurrently")
		}
	})

	p := newProcessor(echoNormalizer, vectorizer, passthroughOptimizer, 0, quietLogger())
	if _, err := p.Process(context.Background(), testItems("a", "b", "c", "d"), domain.ColorModeColor); err != nil {
		t.Fatalf("process: %v", err)
	}
}

func TestProcessHonorsMaxConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	vectorizer := vectorizerFunc(func(ctx context.Context, raster Raster) (string, error) {
		now := inFlight.Add(1)
		for {
			old := peak.Load()
			if now <= old || peak.CompareAndSwap(old, now) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return `<svg/>`, nil
	})

	p := newProcessor(echoNormalizer, vectorizer, passthroughOptimizer, 2, quietLogger())
	results, err := p.Process(context.Background(), testItems("a", "b", "c", "d", "e", "f"), domain.ColorModeColor)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}
	if got := peak.Load(); got > 2 {
		t.Fatalf("expected at most 2 files in flight, saw %d", got)
	}
}

func TestProcessMonochromeOnlyWhenRequested(t *testing.T) {
	const colored = `<svg><rect fill="#112233"/><rect fill="#ffffff"/><rect fill="#000000"/><rect fill="#abcabc"/></svg>`
	vectorizer := vectorizerFunc(func(context.Context, Raster) (string, error) { return colored, nil })
	p := newProcessor(echoNormalizer, vectorizer, passthroughOptimizer, 0, quietLogger())

	colorResults, err := p.Process(context.Background(), testItems("a"), domain.ColorModeColor)
	if err != nil {
		t.Fatalf("process color: %v", err)
	}
	if colorResults[0].SVG != colored {
		t.Fatalf("color mode altered the svg: %s", colorResults[0].SVG)
	}

	monoResults, err := p.Process(context.Background(), testItems("a"), domain.ColorModeMonochrome)
	if err != nil {
		t.Fatalf("process monochrome: %v", err)
	}
	want := `<svg><rect fill="#000"/><rect fill="#FFF"/><rect fill="#000"/><rect fill="#FFF"/></svg>`
	if monoResults[0].SVG != want {
		t.Fatalf("unexpected monochrome svg: %s", monoResults[0].SVG)
	}
}

func TestProcessRejectsUnknownColorMode(t *testing.T) {
	called := false
	normalizer := normalizerFunc(func(context.Context, domain.UploadedItem) (Raster, error) {
		called = true
		return Raster{}, nil
	})
	p := newProcessor(normalizer, nil, nil, 0, quietLogger())

	if _, err := p.Process(context.Background(), testItems("a"), "sepia"); !errors.Is(err, ErrInvalidColorMode) {
		t.Fatalf("expected ErrInvalidColorMode, got %v", err)
	}
	if called {
		t.Fatal("expected no work to start for an invalid mode")
	}
}

func TestProcessEmptyBatch(t *testing.T) {
	p := newProcessor(echoNormalizer, nil, passthroughOptimizer, 0, quietLogger())
	results, err := p.Process(context.Background(), nil, domain.ColorModeColor)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestNewProcessorEndToEnd(t *testing.T) {
	binary, root := fakeVectorizer(t, fakePrimitiveOK)
	p, err := NewProcessor(Options{Vectorizer: VectorizerConfig{Binary: binary, TempRoot: root}}, quietLogger())
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	// the default build carries the pure-Go normalizer
	p.normalizer = stdlibNormalizer{}

	items := []domain.UploadedItem{
		{Content: buildTestPNG(t, 1600, 900, 255), MimeType: MimePNG, FieldName: "photos", OriginalName: "wide.png"},
		{Content: buildTestPNG(t, 120, 240, 128), MimeType: MimePNG, FieldName: "photos", OriginalName: "tall.png"},
	}
	results, err := p.Process(context.Background(), items, domain.ColorModeMonochrome)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	for i, res := range results {
		if res.OriginalName != items[i].OriginalName {
			t.Fatalf("result %d is out of order: %s", i, res.OriginalName)
		}
		if !strings.HasPrefix(res.SVG, "<svg") {
			t.Fatalf("result %d is not svg markup: %s", i, res.SVG)
		}
		for _, token := range hexColorPattern.FindAllString(res.SVG, -1) {
			if !strings.EqualFold(token, hexBlack) && !strings.EqualFold(token, hexWhite) {
				t.Fatalf("result %d kept color %s in monochrome mode", i, token)
			}
		}
	}

	assertEmptyDir(t, root)
}
