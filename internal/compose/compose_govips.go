//go:build govips && cgo

package compose

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/cleanframe/internal/domain"
	"github.com/dunamismax/cleanframe/internal/geometry"
)

type govipsCompositor struct{}

func (c govipsCompositor) Composite(ctx context.Context, input []byte, opts Options) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	defer img.Close()

	srcW := img.Width()
	srcH := img.Height()
	if srcW < 1 || srcH < 1 {
		return nil, fmt.Errorf("%w: image has no pixels", ErrInvalidImage)
	}

	var out *vips.ImageRef
	switch opts.FitMode {
	case domain.FitCover:
		err = coverGovips(img, srcW, srcH, opts)
		out = img
	case domain.FitContainBlack:
		err = containGovips(img, srcW, srcH, opts)
		out = img
	case domain.FitContainBlur:
		out, err = containBlurGovips(img, input, srcW, srcH, opts)
	default:
		err = fmt.Errorf("unsupported fit mode: %q", opts.FitMode)
	}
	if err != nil {
		return nil, err
	}
	if out != img {
		defer out.Close()
	}

	if opts.Enhance {
		if err := enhanceGovips(out); err != nil {
			return nil, err
		}
	}

	if out.HasAlpha() {
		if err := out.Flatten(&vips.Color{}); err != nil {
			return nil, fmt.Errorf("flatten alpha: %w", err)
		}
	}

	params := vips.NewJpegExportParams()
	params.Quality = jpegQuality
	data, _, err := out.ExportJpeg(params)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return data, nil
}

func resizeGovips(img *vips.ImageRef, width, height int) error {
	hs := float64(width) / float64(img.Width())
	vs := float64(height) / float64(img.Height())
	if err := img.ResizeWithVScale(hs, vs, vips.KernelLanczos3); err != nil {
		return fmt.Errorf("resize image: %w", err)
	}
	return nil
}

func coverGovips(img *vips.ImageRef, srcW, srcH int, opts Options) error {
	p := geometry.CoverPlacement(srcW, srcH, opts.Width, opts.Height)
	if err := resizeGovips(img, p.Width, p.Height); err != nil {
		return err
	}
	// Offsets recomputed from the post-resize dimensions so the crop stays
	// in bounds even if the kernel rounds differently than the placement.
	left := -geometry.CenterOffset(opts.Width, img.Width())
	top := -geometry.CenterOffset(opts.Height, img.Height())
	if err := img.ExtractArea(left, top, opts.Width, opts.Height); err != nil {
		return fmt.Errorf("crop overhang: %w", err)
	}
	return nil
}

func containGovips(img *vips.ImageRef, srcW, srcH int, opts Options) error {
	p := geometry.ContainPlacement(srcW, srcH, opts.Width, opts.Height)
	if err := resizeGovips(img, p.Width, p.Height); err != nil {
		return err
	}
	x := geometry.CenterOffset(opts.Width, img.Width())
	y := geometry.CenterOffset(opts.Height, img.Height())
	if err := img.Embed(x, y, opts.Width, opts.Height, vips.ExtendBlack); err != nil {
		return fmt.Errorf("embed on canvas: %w", err)
	}
	return nil
}

func containBlurGovips(img *vips.ImageRef, input []byte, srcW, srcH int, opts Options) (*vips.ImageRef, error) {
	backdrop, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	ok := false
	defer func() {
		if !ok {
			backdrop.Close()
		}
	}()

	if err := coverGovips(backdrop, srcW, srcH, opts); err != nil {
		return nil, err
	}
	if backdrop.HasAlpha() {
		if err := backdrop.Flatten(&vips.Color{}); err != nil {
			return nil, fmt.Errorf("flatten backdrop: %w", err)
		}
	}
	if err := backdrop.GaussianBlur(backdropBlurSigma); err != nil {
		return nil, fmt.Errorf("blur backdrop: %w", err)
	}
	if err := backdrop.Linear1(1, backdropDarken*255/100); err != nil {
		return nil, fmt.Errorf("darken backdrop: %w", err)
	}

	p := geometry.ContainPlacement(srcW, srcH, opts.Width, opts.Height)
	if err := resizeGovips(img, p.Width, p.Height); err != nil {
		return nil, err
	}
	x := geometry.CenterOffset(opts.Width, img.Width())
	y := geometry.CenterOffset(opts.Height, img.Height())
	if err := backdrop.Composite(img, vips.BlendModeOver, x, y); err != nil {
		return nil, fmt.Errorf("composite foreground: %w", err)
	}

	ok = true
	return backdrop, nil
}

func enhanceGovips(img *vips.ImageRef) error {
	if err := img.Modulate(1, 1+enhanceSaturation/100, 0); err != nil {
		return fmt.Errorf("adjust saturation: %w", err)
	}
	k := 1 + enhanceContrast/100
	if err := img.Linear1(k, 128*(1-k)); err != nil {
		return fmt.Errorf("adjust contrast: %w", err)
	}
	return nil
}
