package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
)

const fakePrimitive = `#!/bin/sh
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift 2 ;;
    *) shift ;;
  esac
done
printf '<svg xmlns="http://www.w3.org/2000/svg"><rect fill="#336699"/><rect fill="#eeeeee"/></svg>' > "$out"
`

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.NRGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write png: %v", err)
	}
}

func TestOutputNames(t *testing.T) {
	got := outputNames([]string{"in/cat.png", "dog.jpeg", "other/cat.gif", "noext"})
	want := []string{"cat-0.svg", "dog.svg", "cat-2.svg", "noext.svg"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("outputNames = %v, want %v", got, want)
	}
}

func TestRunConvertWritesSVGs(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake primitive needs a POSIX shell")
	}
	dir := t.TempDir()
	t.Setenv("LINEWORK_TMP_DIR", filepath.Join(dir, "tmp"))

	binary := filepath.Join(dir, "primitive")
	if err := os.WriteFile(binary, []byte(fakePrimitive), 0o755); err != nil {
		t.Fatalf("write fake primitive: %v", err)
	}
	input := filepath.Join(dir, "photo.png")
	writePNG(t, input)

	var stdout, stderr bytes.Buffer
	outDir := filepath.Join(dir, "out")
	err := runConvert(context.Background(), &stdout, &stderr, convertOptions{
		mode:   "black-and-white",
		outDir: outDir,
		binary: binary,
		shapes: 10,
	}, []string{input})
	if err != nil {
		t.Fatalf("run convert: %v", err)
	}

	svg, err := os.ReadFile(filepath.Join(outDir, "photo.svg"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if strings.Contains(string(svg), "336699") || strings.Contains(string(svg), "eeeeee") {
		t.Fatalf("expected colors to be reduced, got %s", svg)
	}
	if !strings.Contains(stdout.String(), "photo.svg") {
		t.Fatalf("expected output path on stdout, got %q", stdout.String())
	}
}

func TestRunConvertRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LINEWORK_TMP_DIR", filepath.Join(dir, "tmp"))

	var out bytes.Buffer
	if err := runConvert(context.Background(), &out, &out, convertOptions{mode: "sepia", outDir: dir}, []string{"x.png"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}

	text := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(text, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := runConvert(context.Background(), &out, &out, convertOptions{mode: "color", outDir: dir, binary: "primitive"}, []string{text})
	if err == nil || !strings.Contains(err.Error(), "unsupported media type") {
		t.Fatalf("expected unsupported media type, got %v", err)
	}
}

func TestConvertCommandRequiresFiles(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"convert"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	if err := root.Execute(); err == nil {
		t.Fatal("expected error without files")
	}
}
