package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/webp"
	"golang.org/x/sync/semaphore"

	"github.com/tbourn/agentboard/internal/config"
)

// Processor-level errors, mapped to HTTP results at the handler layer.
var (
	// ErrTooLarge is returned when the raw upload exceeds the size cap.
	ErrTooLarge = errors.New("file too large")

	// ErrUnsupportedFormat is returned when the magic bytes match none of the
	// admitted image formats.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrCorruptImage is returned when the bytes sniffed as an image fail to
	// decode fully.
	ErrCorruptImage = errors.New("corrupt image data")

	// ErrTooManyPixels is returned when either decoded dimension exceeds the
	// per-axis cap.
	ErrTooManyPixels = errors.New("image dimensions too large")
)

const jpegQuality = 85

// ProcessedAsset describes a stored attachment: where the re-encoded master
// and its thumbnail live, plus the metadata the ledger records.
type ProcessedAsset struct {
	Hash         string // SHA-256 of the raw upload bytes, hex
	Path         string // relative path of the stored master (src/...)
	ThumbPath    string // relative path of the thumbnail (thumb/...)
	OriginalName string // sanitized declared filename, display only
	MIME         string
	Size         int64 // stored master size in bytes
	Width        int
	Height       int
	ThumbWidth   int
	ThumbHeight  int
}

// Processor validates and stores uploads. Decode and re-encode are CPU-heavy,
// so they run under a weighted semaphore bounding concurrent slots.
type Processor struct {
	dir          string
	maxFileSize  int64
	maxDimension int
	thumbSize    int
	sem          *semaphore.Weighted
}

// NewProcessor creates the src/ and thumb/ directories under cfg.Dir and
// returns a ready processor.
func NewProcessor(cfg config.UploadConfig) (*Processor, error) {
	for _, sub := range []string{"src", "thumb"} {
		if err := os.MkdirAll(filepath.Join(cfg.Dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create upload dir: %w", err)
		}
	}
	parallel := cfg.MaxParallel
	if parallel < 1 {
		parallel = 1
	}
	return &Processor{
		dir:          cfg.Dir,
		maxFileSize:  cfg.MaxFileSize,
		maxDimension: cfg.MaxDimension,
		thumbSize:    cfg.ThumbSize,
		sem:          semaphore.NewWeighted(int64(parallel)),
	}, nil
}

// Process runs the full admission pipeline on a raw upload: size cap, magic
// sniff, content hash, decode, dimension cap, re-encode from pixels, and
// thumbnail generation. The stored master is built from decoded pixels, so
// metadata (EXIF and friends) and any trailing bytes are dropped.
//
// WebP inputs are stored as PNG: decoding is supported, re-encoding is not,
// and serving the original bytes would defeat the re-encode guarantee.
func (p *Processor) Process(ctx context.Context, raw []byte, declaredName string) (*ProcessedAsset, error) {
	if int64(len(raw)) > p.maxFileSize {
		return nil, ErrTooLarge
	}

	format, ok := Sniff(raw)
	if !ok {
		return nil, ErrUnsupportedFormat
	}

	sum := sha256.Sum256(raw)
	hash := hex.EncodeToString(sum[:])

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	img, err := decode(raw, format)
	if err != nil {
		return nil, ErrCorruptImage
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w > p.maxDimension || h > p.maxDimension {
		return nil, ErrTooManyPixels
	}

	outFormat := format
	if outFormat == FormatWebP {
		outFormat = FormatPNG
	}

	master, err := encode(img, outFormat)
	if err != nil {
		return nil, fmt.Errorf("re-encode: %w", err)
	}

	thumb, tw, th, err := p.thumbnail(img, w, h, master, outFormat)
	if err != nil {
		return nil, fmt.Errorf("thumbnail: %w", err)
	}

	name := uuid.NewString()
	srcRel := filepath.Join("src", name+"."+outFormat.Ext())
	thumbRel := filepath.Join("thumb", name+"_thumb."+outFormat.Ext())

	if err := os.WriteFile(filepath.Join(p.dir, srcRel), master, 0o644); err != nil {
		return nil, fmt.Errorf("store master: %w", err)
	}
	if err := os.WriteFile(filepath.Join(p.dir, thumbRel), thumb, 0o644); err != nil {
		_ = os.Remove(filepath.Join(p.dir, srcRel))
		return nil, fmt.Errorf("store thumbnail: %w", err)
	}

	return &ProcessedAsset{
		Hash:         hash,
		Path:         srcRel,
		ThumbPath:    thumbRel,
		OriginalName: SanitizeFilename(declaredName),
		MIME:         outFormat.MIME(),
		Size:         int64(len(master)),
		Width:        w,
		Height:       h,
		ThumbWidth:   tw,
		ThumbHeight:  th,
	}, nil
}

// Remove deletes a stored asset pair. Missing files are not an error; the
// sweep may already have taken them.
func (p *Processor) Remove(srcRel, thumbRel string) {
	if srcRel != "" {
		_ = os.Remove(filepath.Join(p.dir, srcRel))
	}
	if thumbRel != "" {
		_ = os.Remove(filepath.Join(p.dir, thumbRel))
	}
}

// thumbnail returns thumbnail bytes and dimensions. Images already within
// the bound reuse the master bytes; larger ones are scaled so the longer
// edge equals the bound, preserving aspect ratio.
func (p *Processor) thumbnail(img image.Image, w, h int, master []byte, f Format) ([]byte, int, int, error) {
	if w <= p.thumbSize && h <= p.thumbSize {
		return master, w, h, nil
	}

	tw, th := p.thumbSize, p.thumbSize
	if w >= h {
		th = h * p.thumbSize / w
	} else {
		tw = w * p.thumbSize / h
	}
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Over, nil)

	out, err := encode(dst, f)
	if err != nil {
		return nil, 0, 0, err
	}
	return out, tw, th, nil
}

func decode(raw []byte, f Format) (image.Image, error) {
	r := bytes.NewReader(raw)
	switch f {
	case FormatJPEG:
		return jpeg.Decode(r)
	case FormatPNG:
		return png.Decode(r)
	case FormatGIF:
		return gif.Decode(r)
	case FormatWebP:
		return webp.Decode(r)
	}
	return nil, ErrUnsupportedFormat
}

func encode(img image.Image, f Format) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch f {
	case FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	case FormatPNG:
		err = png.Encode(&buf, img)
	case FormatGIF:
		err = gif.Encode(&buf, img, nil)
	default:
		err = ErrUnsupportedFormat
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
