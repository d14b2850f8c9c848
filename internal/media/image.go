package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"

	"github.com/disintegration/imaging"

	"smart-gallery/internal/logging"
)

const (
	// MaxImageDimension is the largest side decoded at full size by the
	// pure-Go path. Larger images are downscaled right after decode.
	MaxImageDimension = 4096

	// MaxImagePixels caps width*height for the pure-Go path (~80MB RGBA).
	MaxImagePixels = 20_000_000
)

// loadConstrained decodes an image file with EXIF orientation applied and
// shrinks it when it exceeds MaxImageDimension or MaxImagePixels.
func loadConstrained(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		img, err = decodeImageFile(path)
		if err != nil {
			return nil, err
		}
	}
	return constrain(img, path), nil
}

func constrain(img image.Image, name string) image.Image {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w <= MaxImageDimension && h <= MaxImageDimension && w*h <= MaxImagePixels {
		return img
	}

	img = imaging.Fit(img, MaxImageDimension, MaxImageDimension, imaging.Box)
	w, h = img.Bounds().Dx(), img.Bounds().Dy()
	if w*h > MaxImagePixels {
		scale := float64(MaxImagePixels) / float64(w*h)
		img = imaging.Resize(img, int(float64(w)*scale), 0, imaging.Box)
	}

	logging.Info("Constrained large image %s to %dx%d", name, img.Bounds().Dx(), img.Bounds().Dy())
	return img
}

func decodeImageFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	logging.Debug("Decoded %s as %s", path, format)
	return img, nil
}

// encodeImage fits img within width x 2*width without enlarging it and
// encodes it as JPEG. The pure-Go path has no WebP encoder.
func encodeImage(img image.Image, width, quality int) (*Thumbnail, error) {
	thumb := imaging.Fit(img, width, 2*width, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}

	return &Thumbnail{
		Data:   buf.Bytes(),
		Format: FormatJPEG,
		Width:  thumb.Bounds().Dx(),
		Height: thumb.Bounds().Dy(),
	}, nil
}
