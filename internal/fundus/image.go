// Package fundus loads eye fundus photographs and prepares them for the
// classifier.
package fundus

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// ErrInput reports an image file that is missing or cannot be decoded.
var ErrInput = errors.New("input error")

// Extensions lists the file extensions recognized as images, lower case.
var Extensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tiff"}

// IsImageFile reports whether name has a recognized image extension.
func IsImageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Image is a fundus photograph at native resolution.
type Image struct {
	Path string      // Original file path
	RGBA *image.RGBA // Decoded pixels, origin at (0,0)
}

// Load decodes the image at path.
func Load(path string) (*Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open image: %w", ErrInput, err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode image %s: %w", ErrInput, path, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: image %s has no pixels", ErrInput, path)
	}
	return &Image{Path: path, RGBA: toRGBA(img)}, nil
}

// FromImage wraps an already decoded image.
func FromImage(path string, img image.Image) *Image {
	return &Image{Path: path, RGBA: toRGBA(img)}
}

// Width returns the image width in pixels.
func (im *Image) Width() int {
	return im.RGBA.Bounds().Dx()
}

// Height returns the image height in pixels.
func (im *Image) Height() int {
	return im.RGBA.Bounds().Dy()
}

// BaseName returns the file name without directory or extension.
func (im *Image) BaseName() string {
	base := filepath.Base(im.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// toRGBA returns img as a tightly packed RGBA image whose bounds start at
// the origin, copying when needed.
func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) && rgba.Stride == 4*b.Dx() {
		return rgba
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
