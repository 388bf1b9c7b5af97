// Package menuimage prepares menu photos for the vision model: decode,
// bound the resolution, re-encode as JPEG.
package menuimage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

const (
	MaxInputBytes = 20 << 20
	MaxDimension  = 2048
	JPEGQuality   = 70
	// MaxPixels caps decoded width*height; decoding allocates per pixel.
	MaxPixels = 40_000_000
)

var ErrInvalidImage = errors.New("invalid image")

// Upload is one file from the analyze form.
type Upload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// NormalizeAll processes every upload concurrently. Any failure fails the
// whole batch; output order matches input order.
func NormalizeAll(ctx context.Context, uploads []Upload) ([][]byte, error) {
	out := make([][]byte, len(uploads))
	g, gctx := errgroup.WithContext(ctx)
	for i, up := range uploads {
		g.Go(func() error {
			b, err := Normalize(gctx, up)
			if err != nil {
				return fmt.Errorf("image %d (%s): %w", i+1, up.FileName, err)
			}
			out[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Normalize decodes one upload and returns it as a JPEG no larger than
// MaxDimension on its longest side.
func Normalize(ctx context.Context, up Upload) ([]byte, error) {
	if len(up.Data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidImage)
	}
	if len(up.Data) > MaxInputBytes {
		return nil, fmt.Errorf("%w: file too large (max %dMB)", ErrInvalidImage, MaxInputBytes/(1024*1024))
	}
	if !looksLikeImage(up) {
		return nil, fmt.Errorf("%w: file type not allowed", ErrInvalidImage)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(up.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > MaxPixels {
		return nil, fmt.Errorf("%w: dimensions %dx%d exceed limit", ErrInvalidImage, cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(up.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dst := flatten(downscale(src, MaxDimension))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func downscale(src image.Image, maxSide int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxSide && h <= maxSide {
		return src
	}
	if w >= h {
		h = max(1, h*maxSide/w)
		w = maxSide
	} else {
		w = max(1, w*maxSide/h)
		h = maxSide
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

// flatten composites transparent images onto white so JPEG encoding does not
// turn transparent regions black.
func flatten(src image.Image) image.Image {
	if opaque, ok := src.(interface{ Opaque() bool }); ok && opaque.Opaque() {
		return src
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

func looksLikeImage(up Upload) bool {
	detected := strings.ToLower(http.DetectContentType(up.Data))
	if isImageType(detected) {
		return true
	}
	// DetectContentType does not sniff every webp variant.
	return isImageType(up.ContentType) || isImageExt(filepath.Ext(up.FileName))
}

func isImageType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return strings.HasPrefix(ct, "image/jpeg") || strings.HasPrefix(ct, "image/png") || strings.HasPrefix(ct, "image/webp") || strings.HasPrefix(ct, "image/gif")
}

func isImageExt(ext string) bool {
	switch strings.ToLower(strings.TrimSpace(ext)) {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif":
		return true
	default:
		return false
	}
}
