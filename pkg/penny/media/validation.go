// Package media validates generated images before they are attached to a
// message.
package media

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// MaxImageSize bounds an image Penny will download or attach (20MB).
const MaxImageSize = 20 << 20

var (
	// ErrNotImage is returned when the bytes are not a supported image.
	ErrNotImage = errors.New("not a supported image")

	// ErrTooLarge is returned when an image exceeds MaxImageSize.
	ErrTooLarge = errors.New("image too large")
)

// imageExtensions maps the accepted image MIME types to file extensions.
var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Image describes validated image bytes.
type Image struct {
	MimeType  string
	Extension string
	Size      int
}

// InspectImage sniffs data and checks it is an accepted image within the
// size limit.
func InspectImage(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty data: %w", ErrNotImage)
	}
	if len(data) > MaxImageSize {
		return nil, fmt.Errorf("%d bytes exceeds %d: %w", len(data), MaxImageSize, ErrTooLarge)
	}

	mimeType := DetectMimeType(data)
	ext, ok := imageExtensions[mimeType]
	if !ok {
		return nil, fmt.Errorf("detected %s: %w", mimeType, ErrNotImage)
	}
	return &Image{MimeType: mimeType, Extension: ext, Size: len(data)}, nil
}

// DetectMimeType returns the sniffed MIME type without parameters.
func DetectMimeType(data []byte) string {
	detected := http.DetectContentType(data)
	detected, _, _ = strings.Cut(detected, ";")
	return strings.TrimSpace(detected)
}
