package compose

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/cleanframe/internal/domain"
	"github.com/dunamismax/cleanframe/internal/geometry"
)

// Backdrop and enhancement tuning. These values are part of the output
// contract: changing any of them changes every exported byte.
const (
	backdropBlurSigma = 20.0
	backdropDarken    = -35.0
	enhanceSaturation = 25.0
	enhanceContrast   = 12.0
)

type imagingCompositor struct{}

func (c imagingCompositor) Composite(ctx context.Context, input []byte, opts Options) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	src, _, err := Decode(input)
	if err != nil {
		return nil, err
	}

	srcW := src.Bounds().Dx()
	srcH := src.Bounds().Dy()

	var canvas *image.NRGBA
	switch opts.FitMode {
	case domain.FitCover:
		canvas = composeOnto(src, srcW, srcH, opts, blackCanvas(opts), geometry.CoverPlacement)
	case domain.FitContainBlack:
		canvas = composeOnto(src, srcW, srcH, opts, blackCanvas(opts), geometry.ContainPlacement)
	case domain.FitContainBlur:
		canvas = composeOnto(src, srcW, srcH, opts, blurredBackdrop(src, srcW, srcH, opts), geometry.ContainPlacement)
	default:
		return nil, fmt.Errorf("unsupported fit mode: %q", opts.FitMode)
	}

	if opts.Enhance {
		canvas = enhance(canvas)
	}

	return EncodeJPEG(canvas)
}

func composeOnto(src image.Image, srcW, srcH int, opts Options, backdrop *image.NRGBA, place func(int, int, int, int) geometry.Placement) *image.NRGBA {
	p := place(srcW, srcH, opts.Width, opts.Height)
	scaled := imaging.Resize(src, p.Width, p.Height, imaging.Lanczos)
	return imaging.Overlay(backdrop, scaled, image.Pt(p.X, p.Y), 1.0)
}

// blurredBackdrop fills the canvas with a cover-scaled copy of the source,
// heavily blurred and darkened, so letterbox bars carry the image's own
// palette instead of dead black.
func blurredBackdrop(src image.Image, srcW, srcH int, opts Options) *image.NRGBA {
	p := geometry.CoverPlacement(srcW, srcH, opts.Width, opts.Height)
	scaled := imaging.Resize(src, p.Width, p.Height, imaging.Lanczos)
	backdrop := imaging.Paste(blackCanvas(opts), scaled, image.Pt(p.X, p.Y))
	backdrop = imaging.Blur(backdrop, backdropBlurSigma)
	return imaging.AdjustBrightness(backdrop, backdropDarken)
}

func blackCanvas(opts Options) *image.NRGBA {
	return imaging.New(opts.Width, opts.Height, color.NRGBA{A: 255})
}

// enhance applies the color pass, saturation then contrast.
func enhance(img *image.NRGBA) *image.NRGBA {
	img = imaging.AdjustSaturation(img, enhanceSaturation)
	return imaging.AdjustContrast(img, enhanceContrast)
}
