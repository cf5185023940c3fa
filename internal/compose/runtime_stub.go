//go:build !govips || !cgo

package compose

func Startup() error {
	return nil
}

func Shutdown() {}

// Accelerated reports whether the libvips backend is compiled in.
func Accelerated() bool { return false }

func newCompositor() (Compositor, error) {
	return imagingCompositor{}, nil
}
