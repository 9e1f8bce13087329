// Package upload validates, re-encodes, and stores image attachments. Input
// bytes are never trusted: the format is taken from the leading magic bytes,
// the image is fully decoded, and what lands on disk is re-encoded from the
// decoded pixels so no foreign metadata or trailing payload survives.
package upload

import "bytes"

// Format identifies an admitted image container.
type Format string

// Admitted image formats.
const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
	FormatWebP Format = "webp"
)

// Ext returns the canonical file extension for stored assets.
func (f Format) Ext() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatPNG:
		return "png"
	case FormatGIF:
		return "gif"
	case FormatWebP:
		return "webp"
	}
	return ""
}

// MIME returns the media type served for the format.
func (f Format) MIME() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatGIF:
		return "image/gif"
	case FormatWebP:
		return "image/webp"
	}
	return "application/octet-stream"
}

var (
	magicJPEG = []byte{0xFF, 0xD8, 0xFF}
	magicPNG  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	magicGIF  = []byte("GIF8")
	magicRIFF = []byte("RIFF")
	magicWEBP = []byte("WEBP")
)

// Sniff identifies the image format from leading magic bytes. The declared
// filename and Content-Type are ignored on purpose. Returns ok=false for
// anything outside the admitted set.
func Sniff(raw []byte) (Format, bool) {
	switch {
	case bytes.HasPrefix(raw, magicJPEG):
		return FormatJPEG, true
	case bytes.HasPrefix(raw, magicPNG):
		return FormatPNG, true
	case bytes.HasPrefix(raw, magicGIF):
		return FormatGIF, true
	case len(raw) >= 12 && bytes.HasPrefix(raw, magicRIFF) && bytes.Equal(raw[8:12], magicWEBP):
		return FormatWebP, true
	}
	return "", false
}
