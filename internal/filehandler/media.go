// Package filehandler loads source images from disk and converts rasters to
// and from the PNG buffers and data URLs that move through a split session.
//
// Decoding goes through disintegration/imaging so JPEG sources are rotated
// according to their EXIF orientation before they are partitioned. WebP is
// registered from golang.org/x/image/webp.
package filehandler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// SupportedImageExtensions defines the file extensions accepted as split sources.
var SupportedImageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// SourceFile is an image loaded from disk, ready to be handed to a session.
type SourceFile struct {
	Path     string
	MIMEType string
	Size     int64
	Data     []byte
	Metadata *ImageMetadata
}

// IsImage returns true if the extension is a supported source image.
func IsImage(ext string) bool {
	_, ok := SupportedImageExtensions[strings.ToLower(ext)]
	return ok
}

// SupportedExtensionList returns the supported extensions in sorted order.
func SupportedExtensionList() []string {
	exts := make([]string, 0, len(SupportedImageExtensions))
	for ext := range SupportedImageExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// GetMIMEType returns the MIME type for a supported extension.
func GetMIMEType(ext string) (string, bool) {
	mime, ok := SupportedImageExtensions[strings.ToLower(ext)]
	return mime, ok
}

// LoadSourceFile reads an image from disk. EXIF metadata is attached when the
// file carries any; missing metadata is not an error.
func LoadSourceFile(filePath string) (*SourceFile, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", filePath)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	mimeType, ok := GetMIMEType(ext)
	if !ok {
		return nil, fmt.Errorf("unsupported image format: %s", ext)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	src := &SourceFile{
		Path:     filePath,
		MIMEType: mimeType,
		Size:     info.Size(),
		Data:     data,
	}

	meta, err := ExtractImageMetadata(data)
	if err != nil {
		log.Debug().Err(err).Str("path", filePath).Msg("No EXIF metadata in source image")
	} else {
		src.Metadata = meta
	}

	log.Debug().
		Str("path", filePath).
		Str("mime_type", mimeType).
		Int64("size", src.Size).
		Msg("Source image loaded")

	return src, nil
}
