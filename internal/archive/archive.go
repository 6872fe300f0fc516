// Package archive packages tiles for download: a single PNG per tile, or all
// tiles bundled into one zip.
//
// Each tile contributes its enhanced image when one exists and its original
// otherwise, named tile-{id}-hd.png or tile-{id}-orig.png.
package archive

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/boxtvstar/ai-split-hd/internal/metrics"
)

// Method selects the zip compression method for archive entries.
type Method string

const (
	// MethodDeflate is readable by every unzip tool.
	MethodDeflate Method = "deflate"
	// MethodZstd is smaller and faster but needs a zstd-aware extractor.
	MethodZstd Method = "zstd"
	// MethodStore writes entries uncompressed. PNG is already compressed.
	MethodStore Method = "store"
)

// zipMethodZstd is the ZIP compression method ID for Zstandard (APPNOTE 6.3.7).
const zipMethodZstd uint16 = 93

// Entry is the exporter's view of a tile.
type Entry struct {
	ID       int
	Original []byte
	Enhanced []byte
}

// ArchiveError is returned when an archive cannot be built. No partial
// archive is ever returned alongside it.
type ArchiveError struct {
	Entry string
	Err   error
}

func (e *ArchiveError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("build archive: %s: %v", e.Entry, e.Err)
	}
	return "build archive: " + e.Err.Error()
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// ParseMethod validates a configured method name. Empty means deflate.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case "", MethodDeflate:
		return MethodDeflate, nil
	case MethodZstd, MethodStore:
		return Method(s), nil
	default:
		return "", fmt.Errorf("unknown archive method %q (want deflate, zstd, or store)", s)
	}
}

// FileName returns the export name for a tile: tile-{id}-hd.png when enhanced,
// tile-{id}-orig.png otherwise.
func FileName(id int, enhanced bool) string {
	if enhanced {
		return fmt.Sprintf("tile-%d-hd.png", id)
	}
	return fmt.Sprintf("tile-%d-orig.png", id)
}

// ArchiveName returns the download name for a bundle created at t.
func ArchiveName(t time.Time) string {
	return fmt.Sprintf("split-images-%d.zip", t.UnixMilli())
}

// ExportSingle picks the enhanced image if present, else the original.
func ExportSingle(e Entry) (string, []byte) {
	if len(e.Enhanced) > 0 {
		return FileName(e.ID, true), e.Enhanced
	}
	return FileName(e.ID, false), e.Original
}

// Exporter builds zip archives with a fixed compression method.
type Exporter struct {
	method Method
}

// NewExporter creates an Exporter. Unknown methods fall back to deflate.
func NewExporter(method Method) *Exporter {
	if _, err := ParseMethod(string(method)); err != nil {
		log.Warn().Str("method", string(method)).Msg("Unknown archive method, using deflate")
		method = MethodDeflate
	}
	return &Exporter{method: method}
}

// ExportAll writes every entry, in the given order, into a single zip.
func (x *Exporter) ExportAll(entries []Entry) ([]byte, error) {
	if len(entries) == 0 {
		return nil, &ArchiveError{Err: fmt.Errorf("no tiles to export")}
	}

	var buf bytes.Buffer
	if err := x.WriteAll(&buf, entries); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteAll streams the archive to w. On error w may hold a partial archive;
// use ExportAll when atomicity matters.
func (x *Exporter) WriteAll(w io.Writer, entries []Entry) error {
	start := time.Now()
	counter := &countingWriter{w: w}
	zw := zip.NewWriter(counter)
	x.registerCompressor(zw)

	enhanced := 0
	for _, e := range entries {
		name, data := ExportSingle(e)
		if len(data) == 0 {
			zw.Close()
			return &ArchiveError{Entry: name, Err: fmt.Errorf("tile %d has no image data", e.ID)}
		}
		if len(e.Enhanced) > 0 {
			enhanced++
		}

		header := &zip.FileHeader{
			Name:   name,
			Method: x.zipMethod(),
		}
		header.SetModTime(start)

		fw, err := zw.CreateHeader(header)
		if err != nil {
			zw.Close()
			return &ArchiveError{Entry: name, Err: err}
		}
		if _, err := fw.Write(data); err != nil {
			zw.Close()
			return &ArchiveError{Entry: name, Err: err}
		}
	}

	if err := zw.Close(); err != nil {
		return &ArchiveError{Err: fmt.Errorf("close zip writer: %w", err)}
	}

	elapsed := time.Since(start)
	metrics.New("AiSplitHD").
		Dimension("Operation", "export").
		Dimension("Method", string(x.method)).
		Metric("ArchiveBytes", float64(counter.n), metrics.UnitBytes).
		Metric("ArchiveMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Metric("ArchiveEntries", float64(len(entries)), metrics.UnitCount).
		Flush()

	log.Info().
		Int("entries", len(entries)).
		Int("enhanced", enhanced).
		Int64("bytes", counter.n).
		Str("method", string(x.method)).
		Dur("duration", elapsed).
		Msg("Archive created")

	return nil
}

func (x *Exporter) zipMethod() uint16 {
	switch x.method {
	case MethodZstd:
		return zipMethodZstd
	case MethodStore:
		return zip.Store
	default:
		return zip.Deflate
	}
}

// registerCompressor installs the compressor on this writer only, so the
// package-level registry is left alone.
func (x *Exporter) registerCompressor(zw *zip.Writer) {
	switch x.method {
	case MethodZstd:
		zw.RegisterCompressor(zipMethodZstd, func(w io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		})
	case MethodDeflate:
		zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(w, flate.BestSpeed)
		})
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
