package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/dunamismax/linework/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Vectorizer VectorizerConfig
	// MaxConcurrency caps in-flight files per batch. Zero runs every file at once.
	MaxConcurrency int
}

type Processor struct {
	normalizer     Normalizer
	vectorizer     Vectorizer
	optimizer      Optimizer
	maxConcurrency int
	logger         *log.Logger
	tracer         trace.Tracer
}

func NewProcessor(opts Options, logger *log.Logger) (*Processor, error) {
	vectorizer, err := NewExecVectorizer(opts.Vectorizer)
	if err != nil {
		return nil, fmt.Errorf("build vectorizer: %w", err)
	}
	return newProcessor(newNormalizer(), vectorizer, NewMinifyOptimizer(), opts.MaxConcurrency, logger), nil
}

func newProcessor(n Normalizer, v Vectorizer, o Optimizer, maxConcurrency int, logger *log.Logger) *Processor {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Processor{
		normalizer:     n,
		vectorizer:     v,
		optimizer:      o,
		maxConcurrency: maxConcurrency,
		logger:         logger,
		tracer:         otel.Tracer("linework/pipeline"),
	}
}

// Process converts every item concurrently. results[i] corresponds to items[i]; the first
// failing item fails the whole batch and no results are returned.
func (p *Processor) Process(ctx context.Context, items []domain.UploadedItem, mode domain.ColorMode) ([]domain.ProcessedResult, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidColorMode, mode)
	}

	results := make([]domain.ProcessedResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	if p.maxConcurrency > 0 {
		g.SetLimit(p.maxConcurrency)
	}

	for i := range items {
		g.Go(func() error {
			res, err := p.processItem(gctx, i, items[i], mode)
			if err != nil {
				return fmt.Errorf("file[%d] %q: %w", i, items[i].OriginalName, err)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *Processor) processItem(ctx context.Context, index int, item domain.UploadedItem, mode domain.ColorMode) (domain.ProcessedResult, error) {
	startedAt := time.Now()
	ctx, span := p.tracer.Start(ctx, "pipeline.convert_file")
	span.SetAttributes(
		attribute.Int("file.index", index),
		attribute.String("file.name", item.OriginalName),
		attribute.String("file.mime_type", item.MimeType),
		attribute.Int("file.bytes", len(item.Content)),
		attribute.String("pipeline.color_mode", string(mode)),
	)
	defer span.End()

	svg, err := p.convert(ctx, item, mode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorKind(err))
		if !errors.Is(err, context.Canceled) {
			p.logger.Printf("convert failed index=%d name=%q kind=%s err=%v", index, item.OriginalName, ErrorKind(err), err)
		}
		return domain.ProcessedResult{}, err
	}

	span.SetStatus(codes.Ok, "converted")
	p.logger.Printf("converted index=%d name=%q mode=%s svg_bytes=%d duration=%s",
		index, item.OriginalName, mode, len(svg), time.Since(startedAt).Round(time.Millisecond))

	return domain.ProcessedResult{
		SVG:          svg,
		FieldName:    item.FieldName,
		OriginalName: item.OriginalName,
		MimeType:     item.MimeType,
	}, nil
}

func (p *Processor) convert(ctx context.Context, item domain.UploadedItem, mode domain.ColorMode) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	valid, err := Validate(item)
	if err != nil {
		return "", fmt.Errorf("validate stage: %w", err)
	}

	raster, err := traced(ctx, p.tracer, "pipeline.normalize", func(ctx context.Context) (Raster, error) {
		return p.normalizer.Normalize(ctx, valid)
	})
	if err != nil {
		return "", fmt.Errorf("normalize stage: %w", err)
	}

	svg, err := traced(ctx, p.tracer, "pipeline.vectorize", func(ctx context.Context) (string, error) {
		return p.vectorizer.Vectorize(ctx, raster)
	})
	if err != nil {
		return "", fmt.Errorf("vectorize stage: %w", err)
	}

	if mode == domain.ColorModeMonochrome {
		svg = ReduceToMonochrome(svg)
	}

	svg, err = traced(ctx, p.tracer, "pipeline.optimize", func(ctx context.Context) (string, error) {
		return p.optimizer.Optimize(ctx, svg)
	})
	if err != nil {
		return "", fmt.Errorf("optimize stage: %w", err)
	}
	return svg, nil
}

func traced[T any](ctx context.Context, tracer trace.Tracer, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := tracer.Start(ctx, name)
	defer span.End()

	out, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorKind(err))
	}
	return out, err
}
