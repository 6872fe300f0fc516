package filehandler

import (
	"image"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// DefaultThumbnailMaxDimension is the maximum dimension (width or height) for previews.
const DefaultThumbnailMaxDimension = 256

// GeneratePreview downsizes a tile or source image so neither side exceeds
// maxDimension and returns it as PNG. Images that already fit are re-encoded
// without resampling.
func GeneratePreview(data []byte, maxDimension int) ([]byte, error) {
	img, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	origWidth := bounds.Dx()
	origHeight := bounds.Dy()

	if origWidth <= maxDimension && origHeight <= maxDimension {
		return EncodePNG(img)
	}

	newWidth, newHeight := calculateThumbnailDimensions(origWidth, origHeight, maxDimension)
	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	out, err := EncodePNG(resized)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Int("orig_width", origWidth).
		Int("orig_height", origHeight).
		Int("new_width", newWidth).
		Int("new_height", newHeight).
		Int("output_size", len(out)).
		Msg("Preview generated")

	return out, nil
}

// calculateThumbnailDimensions scales the longer side down to maxDimension,
// keeping the aspect ratio and never returning a zero side.
func calculateThumbnailDimensions(width, height, maxDimension int) (int, int) {
	if width <= maxDimension && height <= maxDimension {
		return width, height
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxDimension
		newHeight = height * maxDimension / width
	} else {
		newHeight = maxDimension
		newWidth = width * maxDimension / height
	}

	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}
	return newWidth, newHeight
}
