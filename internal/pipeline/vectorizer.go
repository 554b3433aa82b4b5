package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultVectorizerBinary = "primitive"
	defaultShapeCount       = 200

	// Mode 0 lets the tool pick a shape type per step; alpha 255 draws opaque shapes.
	shapeModeAny   = 0
	shapeAlphaFull = 255
)

type Vectorizer interface {
	Vectorize(ctx context.Context, raster Raster) (string, error)
}

type VectorizerConfig struct {
	Binary   string
	Shapes   int
	TempRoot string
}

// ExecVectorizer runs the primitive CLI against a temp PNG and reads back its SVG.
type ExecVectorizer struct {
	binary   string
	shapes   int
	tempRoot string
}

func NewExecVectorizer(cfg VectorizerConfig) (*ExecVectorizer, error) {
	if strings.TrimSpace(cfg.TempRoot) == "" {
		return nil, errors.New("vectorizer temp root is required")
	}

	binary := strings.TrimSpace(cfg.Binary)
	if binary == "" {
		binary = defaultVectorizerBinary
	}
	shapes := cfg.Shapes
	if shapes <= 0 {
		shapes = defaultShapeCount
	}

	return &ExecVectorizer{
		binary:   binary,
		shapes:   shapes,
		tempRoot: cfg.TempRoot,
	}, nil
}

func (v *ExecVectorizer) Vectorize(ctx context.Context, raster Raster) (string, error) {
	if len(raster.Data) == 0 {
		return "", fmt.Errorf("%w: empty raster", ErrVectorization)
	}

	paths, err := acquireTempPair(v.tempRoot)
	if err != nil {
		return "", err
	}
	defer paths.release()

	if err := os.WriteFile(paths.input, raster.Data, 0o644); err != nil {
		return "", fmt.Errorf("%w: write raster: %w", ErrFilesystem, err)
	}

	cmd := exec.CommandContext(ctx, v.binary, v.args(paths, raster)...)
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: %s: %w: %s", ErrVectorization, v.binary, err, strings.TrimSpace(stderr.String()))
	}

	svg, err := os.ReadFile(paths.output)
	if err != nil {
		return "", fmt.Errorf("%w: read svg: %w", ErrFilesystem, err)
	}
	if len(bytes.TrimSpace(svg)) == 0 {
		return "", fmt.Errorf("%w: %s produced an empty svg", ErrVectorization, v.binary)
	}
	return string(svg), nil
}

func (v *ExecVectorizer) args(paths tempPair, raster Raster) []string {
	args := []string{
		"-i", paths.input,
		"-o", paths.output,
		"-n", strconv.Itoa(v.shapes),
		"-m", strconv.Itoa(shapeModeAny),
		"-a", strconv.Itoa(shapeAlphaFull),
	}
	if size := max(raster.Width, raster.Height); size > 0 {
		args = append(args, "-s", strconv.Itoa(size))
	}
	return args
}

// tempPair is the input/output file pair of one vectorize call. Both paths share an id and
// are removed together.
type tempPair struct {
	input  string
	output string
}

func acquireTempPair(root string) (tempPair, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return tempPair{}, fmt.Errorf("%w: create temp root: %w", ErrFilesystem, err)
	}

	id := uuid.NewString()
	return tempPair{
		input:  filepath.Join(root, id+".png"),
		output: filepath.Join(root, id+".svg"),
	}, nil
}

func (p tempPair) release() {
	_ = removeIfExists(p.input)
	_ = removeIfExists(p.output)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
