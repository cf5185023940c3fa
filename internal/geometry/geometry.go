// Package geometry holds the fit and placement math shared by the
// compositing backends. Everything here is pure integer-in integer-out so
// both backends place pixels identically.
package geometry

import "math"

// ContainScale returns the factor that fits a srcW x srcH image entirely
// inside a canvasW x canvasH canvas while preserving aspect ratio.
func ContainScale(srcW, srcH, canvasW, canvasH int) float64 {
	return math.Min(float64(canvasW)/float64(srcW), float64(canvasH)/float64(srcH))
}

// CoverScale returns the factor at which a srcW x srcH image fully covers a
// canvasW x canvasH canvas while preserving aspect ratio.
func CoverScale(srcW, srcH, canvasW, canvasH int) float64 {
	return math.Max(float64(canvasW)/float64(srcW), float64(canvasH)/float64(srcH))
}

// ScaledSize applies a scale factor to source dimensions, rounding to the
// nearest pixel and never collapsing below 1x1.
func ScaledSize(srcW, srcH int, scale float64) (int, int) {
	w := int(math.Round(float64(srcW) * scale))
	h := int(math.Round(float64(srcH) * scale))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// CenterOffset returns the leading coordinate that centers a scaled span on
// a canvas span. The division floors rather than truncating, so when the
// scaled span overhangs the canvas the extra pixel lands on the trailing
// edge, same as when it fits.
func CenterOffset(canvas, scaled int) int {
	return floorDiv(canvas-scaled, 2)
}

// Placement is a scaled size plus the centered top-left offset on a canvas.
type Placement struct {
	Width  int
	Height int
	X      int
	Y      int
}

// ContainPlacement centers the largest aspect-preserving fit of the source
// inside the canvas.
func ContainPlacement(srcW, srcH, canvasW, canvasH int) Placement {
	w, h := ScaledSize(srcW, srcH, ContainScale(srcW, srcH, canvasW, canvasH))
	return Placement{
		Width:  w,
		Height: h,
		X:      CenterOffset(canvasW, w),
		Y:      CenterOffset(canvasH, h),
	}
}

// CoverPlacement centers the smallest aspect-preserving cover of the canvas.
// Offsets are zero or negative; the overhang is cropped by the caller.
func CoverPlacement(srcW, srcH, canvasW, canvasH int) Placement {
	w, h := ScaledSize(srcW, srcH, CoverScale(srcW, srcH, canvasW, canvasH))
	return Placement{
		Width:  w,
		Height: h,
		X:      CenterOffset(canvasW, w),
		Y:      CenterOffset(canvasH, h),
	}
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
