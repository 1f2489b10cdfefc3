// Package media handles the binary artifacts a browsing session produces.
// It optimizes screenshots (resize, compress) down to transport limits and
// detects MIME types of downloaded files from magic bytes rather than
// extensions.
package media

import (
	"encoding/base64"

	"github.com/gabriel-vasile/mimetype"
)

// Transport limits for screenshots handed back to callers. Width and height
// are capped separately: full-page captures are legitimately much taller
// than they are wide.
const (
	MaxWidth  = 2000
	MaxHeight = 8000
	MaxBytes  = 5 * 1024 * 1024

	MinQuality = 35 // floor of the JPEG quality ladder
	MaxQuality = 85 // top of the ladder, tried first
)

// decodable lists the image types the optimizer knows how to re-encode.
var decodable = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Image is one encoded capture plus the facts a caller needs to ship it.
type Image struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
}

// Base64 encodes the payload for JSON transport.
func (img *Image) Base64() string {
	return base64.StdEncoding.EncodeToString(img.Data)
}

// Size is the payload size in bytes.
func (img *Image) Size() int {
	return len(img.Data)
}

// IsWithinLimits reports whether the capture fits every transport cap.
func (img *Image) IsWithinLimits() bool {
	return img.Width <= MaxWidth && img.Height <= MaxHeight && len(img.Data) <= MaxBytes
}

// DetectMIME sniffs content magic bytes. Extensions never enter into it.
func DetectMIME(data []byte) string {
	return mimetype.Detect(data).String()
}

// DetectMIMEFile sniffs a file on disk. Used for completed downloads, where
// the browser-assigned extension is not trustworthy.
func DetectMIMEFile(path string) (string, error) {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	return m.String(), nil
}

// IsSupported reports whether the optimizer can decode this MIME type.
func IsSupported(mimeType string) bool {
	return decodable[mimeType]
}
