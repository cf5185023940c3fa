package compose

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// jpegQuality is fixed so repeated exports of the same batch stay
// byte-identical.
const jpegQuality = 92

// Decode parses any supported input format (jpeg, png, gif, webp, bmp,
// tiff) and rejects empty or zero-pixel images.
func Decode(input []byte) (image.Image, string, error) {
	if len(input) == 0 {
		return nil, "", fmt.Errorf("%w: empty input", ErrInvalidImage)
	}
	img, format, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	bounds := img.Bounds()
	if bounds.Dx() < 1 || bounds.Dy() < 1 {
		return nil, "", fmt.Errorf("%w: image has no pixels", ErrInvalidImage)
	}
	return img, format, nil
}

// EncodeJPEG writes the finished canvas at the pipeline's fixed quality.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
