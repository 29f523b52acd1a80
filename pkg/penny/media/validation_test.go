package media

import (
	"bytes"
	"errors"
	"testing"
)

var (
	pngHeader  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	jpegHeader = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00")
	gifHeader  = []byte("GIF89a\x01\x00\x01\x00")
	webpHeader = []byte("RIFF\x00\x00\x00\x00WEBPVP8 ")
)

func TestInspectImage(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		wantMime string
		wantExt  string
		wantErr  error
	}{
		{"png", pngHeader, "image/png", ".png", nil},
		{"jpeg", jpegHeader, "image/jpeg", ".jpg", nil},
		{"gif", gifHeader, "image/gif", ".gif", nil},
		{"webp", webpHeader, "image/webp", ".webp", nil},
		{"html error page", []byte("<html><body>quota exceeded</body></html>"), "", "", ErrNotImage},
		{"json", []byte(`{"error": "nope"}`), "", "", ErrNotImage},
		{"empty", nil, "", "", ErrNotImage},
		{"too large", append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, MaxImageSize)...), "", "", ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := InspectImage(tt.data)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if img.MimeType != tt.wantMime || img.Extension != tt.wantExt || img.Size != len(tt.data) {
				t.Errorf("got %+v, want %s %s", img, tt.wantMime, tt.wantExt)
			}
		})
	}
}

func TestDetectMimeTypeDropsParameters(t *testing.T) {
	if got := DetectMimeType([]byte("plain words")); got != "text/plain" {
		t.Errorf("DetectMimeType() = %q, want text/plain", got)
	}
}
