package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"golang.org/x/image/draw"
)

var ErrThumbnailUnsupported = errors.New("thumbnail not supported for this type")

// Thumbnailer renders a small preview of an uploaded file. Failures are
// never fatal to the upload.
type Thumbnailer interface {
	Generate(ctx context.Context, r io.Reader, mimeType string) ([]byte, error)
}

// ImageThumbnailer scales JPEG, PNG and GIF images to fit in MaxDim pixels
// and encodes the result as JPEG. Sources whose declared dimensions exceed
// MaxPixels are refused before any pixel data is decoded.
type ImageThumbnailer struct {
	MaxDim         int
	MaxSourceBytes int64
	MaxPixels      int64
}

func NewImageThumbnailer() *ImageThumbnailer {
	return &ImageThumbnailer{MaxDim: 256, MaxSourceBytes: 32 << 20, MaxPixels: 24_000_000}
}

func (t *ImageThumbnailer) Generate(ctx context.Context, r io.Reader, mimeType string) ([]byte, error) {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/png", "image/gif":
	default:
		return nil, ErrThumbnailUnsupported
	}

	raw, err := io.ReadAll(io.LimitReader(r, t.MaxSourceBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > t.MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds pixel budget", ErrThumbnailUnsupported, cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, fit(src, t.MaxDim), &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// fit scales src down to fit in maxDim x maxDim, keeping its aspect ratio.
func fit(src image.Image, maxDim int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return src
	}

	nw, nh := maxDim, maxDim
	if w > h {
		nh = max(h*maxDim/w, 1)
	} else {
		nw = max(w*maxDim/h, 1)
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}
