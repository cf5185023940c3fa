package main

import (
	"archive/zip"
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dunamismax/cleanframe/internal/domain"
)

func runCLI(t *testing.T, args []string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestPNG(t *testing.T, path string, width, height int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / width), G: uint8(y * 255 / height), B: 140, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestExportReportsProgressFromStart(t *testing.T) {
	t.Setenv("CLEANFRAME_CLEANUP_URL", "")

	dir := t.TempDir()
	src := filepath.Join(dir, "photo.png")
	writeTestPNG(t, src, 96, 64)
	out := filepath.Join(dir, "batch.zip")

	stdout, _, err := runCLI(t, []string{"export", src, "--preset", domain.PresetYTThumbnail, "--out", out})
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	first := strings.Index(stdout, "processed 0/1")
	if first < 0 {
		t.Fatalf("expected the run to announce itself before the first image settles, got %q", stdout)
	}
	if settled := strings.Index(stdout, "processed 1/1"); settled < first {
		t.Fatalf("expected per-image progress after the opening line, got %q", stdout)
	}
	requireContains(t, stdout, "completed: exported 1 images to")

	zr, err := zip.OpenReader(out)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer zr.Close()
	if len(zr.File) != 1 {
		t.Fatalf("expected one archive entry, got %d", len(zr.File))
	}
	if got := zr.File[0].Name; got != "photo-thumbnail.jpg" {
		t.Fatalf("expected photo-thumbnail.jpg in the archive, got %s", got)
	}
}
