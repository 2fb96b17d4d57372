// Package images maintains the WebP derivatives of product images and records
// product image uploads.
package images

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/webp"
)

const (
	// MaxDimension bounds both sides of a derivative.
	MaxDimension = 1000
	// DerivativeQuality is the WebP quality of derivatives.
	DerivativeQuality = 80
	// EncodeMethod trades encode speed for size (0 fast, 6 slow).
	EncodeMethod = 4

	// UploadByteBudget caps manually uploaded images.
	UploadByteBudget = 300 * 1024
	// UploadStartQuality is the first quality tried for manual uploads.
	UploadStartQuality = 90
	// UploadQualityStep is subtracted after every oversized attempt.
	UploadQualityStep = 10
	// UploadMinQuality is the quality floor.
	UploadMinQuality = 1
)

// ErrDecode indicates bytes that are not a supported image.
var ErrDecode = errors.New("images: unsupported image")

// DerivativeName replaces the extension of an original object name with .webp,
// keeping the base name untouched.
func DerivativeName(original string) string {
	ext := path.Ext(original)
	return strings.TrimSuffix(original, ext) + ".webp"
}

// Decode reads an image, honouring EXIF orientation.
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

// Derivative fits the image inside MaxDimension square and encodes it as WebP.
// Smaller images are not enlarged.
func Derivative(data []byte) ([]byte, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	fitted := imaging.Fit(img, MaxDimension, MaxDimension, imaging.Lanczos)
	return encode(fitted, DerivativeQuality)
}

// Compress re-encodes img at decreasing quality until the output fits budget.
// When even the floor quality is too large the smallest attempt is returned
// with fits set to false.
func Compress(img image.Image, budget int) (out []byte, quality int, fits bool, err error) {
	quality = UploadStartQuality
	for {
		out, err = encode(img, quality)
		if err != nil {
			return nil, 0, false, err
		}
		if len(out) < budget {
			return out, quality, true, nil
		}
		if quality == UploadMinQuality {
			return out, quality, false, nil
		}
		quality = max(quality-UploadQualityStep, UploadMinQuality)
	}
}

func encode(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, webp.Options{Quality: quality, Method: EncodeMethod}); err != nil {
		return nil, fmt.Errorf("images: encode webp: %w", err)
	}
	return buf.Bytes(), nil
}
