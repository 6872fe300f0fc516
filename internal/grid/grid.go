// Package grid partitions a source image into a rows x cols grid of PNG tiles.
//
// Tile size is the naive division of the source dimensions: tileW = W/cols and
// tileH = H/rows as real numbers. Each tile is rendered onto a fresh surface of
// int(tileW) x int(tileH) pixels, copying the source at 1:1 scale from
// (col*tileW, row*tileH). Pixel-aligned origins are exact crops; fractional
// origins are resampled bilinearly. Remainder pixels are not redistributed, so
// up to one pixel per tile boundary may be dropped when W or H is not evenly
// divisible.
package grid

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/boxtvstar/ai-split-hd/internal/filehandler"
	"github.com/boxtvstar/ai-split-hd/internal/metrics"
)

// Cell is one partitioned tile. ID is 1-based in row-major order.
type Cell struct {
	ID     int
	Row    int
	Col    int
	Width  int
	Height int
	Data   []byte // PNG
}

// InvalidGridError is returned when the requested grid cannot be applied:
// rows or cols below 1, or a grid so fine that a tile would be narrower or
// shorter than one pixel.
type InvalidGridError struct {
	Rows   int
	Cols   int
	Reason string
}

func (e *InvalidGridError) Error() string {
	return fmt.Sprintf("invalid grid %dx%d: %s", e.Rows, e.Cols, e.Reason)
}

// DecodeError is returned when the source image cannot be decoded.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "decode source image: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

var errZeroDimensions = errors.New("image has zero width or height")

// ID returns the 1-based row-major tile ID for (row, col).
func ID(row, col, cols int) int {
	return row*cols + col + 1
}

// Split decodes src and returns exactly rows*cols cells in row-major order.
// The result is all-or-nothing: any failure returns a nil slice.
func Split(ctx context.Context, src []byte, rows, cols int) ([]Cell, error) {
	if rows < 1 || cols < 1 {
		return nil, &InvalidGridError{Rows: rows, Cols: cols, Reason: "rows and cols must be at least 1"}
	}

	img, err := filehandler.DecodeImage(src)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, &DecodeError{Err: errZeroDimensions}
	}

	start := time.Now()
	tileW := float64(bounds.Dx()) / float64(cols)
	tileH := float64(bounds.Dy()) / float64(rows)
	outW, outH := int(tileW), int(tileH)
	if outW < 1 || outH < 1 {
		return nil, &InvalidGridError{
			Rows:   rows,
			Cols:   cols,
			Reason: fmt.Sprintf("grid is finer than the %dx%d image", bounds.Dx(), bounds.Dy()),
		}
	}

	log.Debug().
		Int("rows", rows).
		Int("cols", cols).
		Int("image_width", bounds.Dx()).
		Int("image_height", bounds.Dy()).
		Float64("tile_width", tileW).
		Float64("tile_height", tileH).
		Msg("Splitting image into grid")

	cells := make([]Cell, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			id := ID(r, c, cols)
			tile := renderCell(img, float64(c)*tileW, float64(r)*tileH, outW, outH)
			data, err := filehandler.EncodePNG(tile)
			if err != nil {
				return nil, fmt.Errorf("encode tile %d: %w", id, err)
			}

			cells = append(cells, Cell{
				ID:     id,
				Row:    r,
				Col:    c,
				Width:  outW,
				Height: outH,
				Data:   data,
			})
		}
	}

	elapsed := time.Since(start)
	metrics.New("AiSplitHD").
		Dimension("Operation", "split").
		Metric("SplitMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Metric("TileCount", float64(len(cells)), metrics.UnitCount).
		Flush()

	log.Info().
		Int("tiles", len(cells)).
		Int("tile_width", outW).
		Int("tile_height", outH).
		Dur("duration", elapsed).
		Msg("Grid split complete")

	return cells, nil
}

// renderCell copies an outW x outH window of src whose top-left corner sits at
// (x0, y0) relative to the source bounds.
func renderCell(src image.Image, x0, y0 float64, outW, outH int) image.Image {
	b := src.Bounds()
	if x0 == math.Trunc(x0) && y0 == math.Trunc(y0) {
		minX := b.Min.X + int(x0)
		minY := b.Min.Y + int(y0)
		return imaging.Crop(src, image.Rect(minX, minY, minX+outW, minY+outH))
	}

	dst := image.NewNRGBA(image.Rect(0, 0, outW, outH))
	// src->dst is a pure translation.
	s2d := f64.Aff3{
		1, 0, -(float64(b.Min.X) + x0),
		0, 1, -(float64(b.Min.Y) + y0),
	}
	draw.BiLinear.Transform(dst, s2d, src, b, draw.Src, nil)
	return dst
}
