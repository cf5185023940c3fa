// Package compose renders source images onto fixed-size canvases. Two
// backends implement the same placement math: a pure-Go path built on
// disintegration/imaging, and a libvips path compiled in with the govips
// build tag.
package compose

import (
	"context"
	"errors"
	"fmt"

	"github.com/dunamismax/cleanframe/internal/domain"
)

var ErrInvalidImage = errors.New("invalid source image")

// Options describes one composite: the target canvas, how the source is fit
// onto it, and whether the enhancement pass runs before encoding.
type Options struct {
	FitMode domain.FitMode
	Width   int
	Height  int
	Enhance bool
}

func (o Options) validate() error {
	if !o.FitMode.Valid() {
		return fmt.Errorf("unsupported fit mode: %q", o.FitMode)
	}
	if o.Width < 1 || o.Height < 1 {
		return fmt.Errorf("canvas dimensions must be positive, got %dx%d", o.Width, o.Height)
	}
	return nil
}

// Compositor renders one source image to a finished JPEG. Implementations
// are deterministic: the same input bytes and options always produce the
// same output bytes.
type Compositor interface {
	Composite(ctx context.Context, input []byte, opts Options) ([]byte, error)
}

// New returns the compositor backend selected at build time.
func New() (Compositor, error) {
	return newCompositor()
}
