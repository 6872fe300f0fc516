package filehandler

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// MIMETypePNG is the content type of every tile buffer.
const MIMETypePNG = "image/png"

// ErrEmptyImage is returned when a zero-length buffer is decoded.
var ErrEmptyImage = errors.New("empty image data")

// DecodeImage decodes PNG, JPEG, GIF, or WebP bytes. JPEG EXIF orientation
// is applied so the returned raster is upright.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// EncodePNG encodes a raster as lossless PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// NormalizePNG returns data unchanged if it is already a complete PNG,
// otherwise decodes and re-encodes it so stored buffers always match their
// .png names. Truncated or corrupt input is an error.
func NormalizePNG(data []byte) ([]byte, error) {
	if DetectMIME(data) == MIMETypePNG {
		if _, err := png.Decode(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
		return data, nil
	}
	img, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	return EncodePNG(img)
}

// DetectMIME sniffs the image format from the header bytes. Unknown data
// yields "application/octet-stream".
func DetectMIME(data []byte) string {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "application/octet-stream"
	}
	return "image/" + format
}

// ToDataURL encodes data as a base64 data URL.
func ToDataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// FromDataURL decodes a base64 data URL. A bare base64 payload without the
// "data:...;base64," prefix is accepted and reported with an empty MIME type.
func FromDataURL(s string) (string, []byte, error) {
	mimeType := ""
	payload := s
	if strings.HasPrefix(s, "data:") {
		header, rest, ok := strings.Cut(s, ",")
		if !ok {
			return "", nil, fmt.Errorf("malformed data URL: missing ','")
		}
		if !strings.HasSuffix(header, ";base64") {
			return "", nil, fmt.Errorf("malformed data URL: only base64 payloads are supported")
		}
		mimeType = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		payload = rest
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode base64 payload: %w", err)
	}
	return mimeType, data, nil
}
