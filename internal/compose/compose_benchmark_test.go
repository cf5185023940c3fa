package compose

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/dunamismax/cleanframe/internal/domain"
)

func BenchmarkCompositeContainBlur(b *testing.B) {
	c, err := New()
	if err != nil {
		b.Fatalf("new compositor: %v", err)
	}
	source := benchmarkPNG(b, 1920, 1080)
	opts := Options{
		FitMode: domain.FitContainBlur,
		Width:   1280,
		Height:  720,
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Composite(context.Background(), source, opts); err != nil {
			b.Fatalf("composite: %v", err)
		}
	}
}

func BenchmarkCompositeCover(b *testing.B) {
	c, err := New()
	if err != nil {
		b.Fatalf("new compositor: %v", err)
	}
	source := benchmarkPNG(b, 1920, 1080)
	opts := Options{
		FitMode: domain.FitCover,
		Width:   1280,
		Height:  720,
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Composite(context.Background(), source, opts); err != nil {
			b.Fatalf("composite: %v", err)
		}
	}
}

func BenchmarkCompositeEnhanced(b *testing.B) {
	c, err := New()
	if err != nil {
		b.Fatalf("new compositor: %v", err)
	}
	source := benchmarkPNG(b, 1920, 1080)
	opts := Options{
		FitMode: domain.FitContainBlack,
		Width:   1280,
		Height:  720,
		Enhance: true,
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Composite(context.Background(), source, opts); err != nil {
			b.Fatalf("composite: %v", err)
		}
	}
}

func benchmarkPNG(b *testing.B, w, h int) []byte {
	b.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		b.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}
