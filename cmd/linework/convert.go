package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dunamismax/linework/internal/config"
	"github.com/dunamismax/linework/internal/domain"
	"github.com/dunamismax/linework/internal/pipeline"
	"github.com/spf13/cobra"
)

type convertOptions struct {
	mode           string
	outDir         string
	binary         string
	shapes         int
	maxConcurrency int
	verbose        bool
}

func newConvertCommand() *cobra.Command {
	opts := convertOptions{}
	cmd := &cobra.Command{
		Use:   "convert [flags] FILE...",
		Short: "Convert image files to SVG",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runConvert(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), opts, args)
		},
	}

	defaults := config.Load().Pipeline
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", string(domain.ColorModeColor), "color mode: color or black-and-white")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", ".", "directory for the generated SVG files")
	cmd.Flags().StringVar(&opts.binary, "primitive", defaults.VectorizerBinary, "path to the primitive binary")
	cmd.Flags().IntVarP(&opts.shapes, "shapes", "n", defaults.Shapes, "number of shapes to fit")
	cmd.Flags().IntVar(&opts.maxConcurrency, "max-concurrency", defaults.MaxConcurrency, "files converted at once, 0 for all")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log each converted file")
	return cmd
}

func runConvert(ctx context.Context, stdout, stderr io.Writer, opts convertOptions, paths []string) error {
	mode, err := domain.ParseColorMode(opts.mode)
	if err != nil {
		return err
	}

	items := make([]domain.UploadedItem, 0, len(paths))
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		items = append(items, domain.UploadedItem{
			Content:      content,
			MimeType:     pipeline.DeclaredType("", content),
			FieldName:    "file",
			OriginalName: filepath.Base(path),
		})
	}

	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	if err := pipeline.Startup(); err != nil {
		return fmt.Errorf("start image runtime: %w", err)
	}
	defer pipeline.Shutdown()

	logOut := io.Discard
	if opts.verbose {
		logOut = stderr
	}
	logger := log.New(logOut, "[linework] ", log.LstdFlags|log.Lmsgprefix)

	pipelineOpts := config.Load().Pipeline
	pipelineOpts.VectorizerBinary = opts.binary
	pipelineOpts.Shapes = opts.shapes
	pipelineOpts.MaxConcurrency = opts.maxConcurrency

	processor, err := pipeline.NewProcessor(pipelineOpts.Options(), logger)
	if err != nil {
		return err
	}

	results, err := processor.Process(ctx, items, mode)
	if err != nil {
		return err
	}

	for i, name := range outputNames(paths) {
		target := filepath.Join(opts.outDir, name)
		if err := os.WriteFile(target, []byte(results[i].SVG), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", target, err)
		}
		fmt.Fprintln(stdout, target)
	}
	return nil
}

// outputNames maps each input to <basename>.svg, suffixing the index when two inputs share a
// basename.
func outputNames(paths []string) []string {
	counts := make(map[string]int, len(paths))
	stems := make([]string, len(paths))
	for i, path := range paths {
		base := filepath.Base(path)
		stems[i] = strings.TrimSuffix(base, filepath.Ext(base))
		counts[stems[i]]++
	}

	names := make([]string, len(paths))
	for i, stem := range stems {
		if counts[stem] > 1 {
			names[i] = fmt.Sprintf("%s-%d.svg", stem, i)
			continue
		}
		names[i] = stem + ".svg"
	}
	return names
}
