// Package imaging validates uploaded images by their leading bytes and
// provides the local contrast/threshold enhancement used when the remote
// transform is unavailable.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"mime"
	"strings"

	"github.com/gabrielee5/grafo-sub000/internal/domain"
)

const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
	MIMEWebP = "image/webp"
)

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
)

// Detect returns the image type implied by the leading bytes, or "" when the
// signature is not JPEG, PNG or WebP.
func Detect(data []byte) string {
	switch {
	case bytes.HasPrefix(data, jpegMagic):
		return MIMEJPEG
	case bytes.HasPrefix(data, pngMagic):
		return MIMEPNG
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return MIMEWebP
	}
	return ""
}

// DefaultMaxPixels caps width*height when a Validator leaves MaxPixels unset,
// and always bounds the local enhancement.
const DefaultMaxPixels int64 = 40_000_000

// Validator enforces the upload constraints.
type Validator struct {
	MaxBytes int64
	// MaxPixels bounds the decoded dimensions; zero means DefaultMaxPixels.
	MaxPixels int64
	Allowed   []string
}

// Validate checks size, signature and the declared type. The returned string
// is the detected type. A declared type that disagrees with the signature is
// rejected rather than corrected.
func (v Validator) Validate(data []byte, declared string) (string, error) {
	if len(data) == 0 {
		return "", domain.NewValidationError(domain.CodeEmptyFile, "image is empty")
	}
	if v.MaxBytes > 0 && int64(len(data)) > v.MaxBytes {
		return "", domain.NewValidationError(domain.CodeFileTooLarge,
			fmt.Sprintf("image is %d bytes, limit is %d", len(data), v.MaxBytes))
	}
	detected := Detect(data)
	if detected == "" || !v.allowed(detected) {
		return "", domain.NewValidationError(domain.CodeUnsupportedType, "only JPEG, PNG and WebP images are accepted")
	}
	if claim := NormalizeMIME(declared); claim != "" && claim != "application/octet-stream" && claim != detected {
		return "", domain.NewValidationError(domain.CodeTypeMismatch,
			fmt.Sprintf("declared %s but content is %s", claim, detected))
	}
	if w, h, ok := dimensions(data); ok && int64(w)*int64(h) > v.maxPixels() {
		return "", domain.NewValidationError(domain.CodeFileTooLarge,
			fmt.Sprintf("image is %dx%d pixels, limit is %d", w, h, v.maxPixels()))
	}
	return detected, nil
}

func (v Validator) maxPixels() int64 {
	if v.MaxPixels > 0 {
		return v.MaxPixels
	}
	return DefaultMaxPixels
}

// dimensions reads only the image header. ok is false when the header cannot
// be parsed; such images are left to the decoders downstream.
func dimensions(data []byte) (int, int, bool) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}

func (v Validator) allowed(mimeType string) bool {
	if len(v.Allowed) == 0 {
		return true
	}
	for _, a := range v.Allowed {
		if NormalizeMIME(a) == mimeType {
			return true
		}
	}
	return false
}

// NormalizeMIME lowercases a content type, drops parameters and folds aliases.
func NormalizeMIME(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(value); err == nil {
		value = mt
	}
	value = strings.ToLower(value)
	if value == "image/jpg" || value == "image/pjpeg" {
		return MIMEJPEG
	}
	return value
}
