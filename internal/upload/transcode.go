package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // decoder registration
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // decoder registration
)

type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	// FormatWebP is accepted but encoded as JPEG; there is no WebP encoder.
	FormatWebP Format = "webp"
)

const (
	ChatImageMaxWidth  = 1920
	ChatImageMaxHeight = 1080
	ChatImageQuality   = 80
)

type TranscodeOptions struct {
	MaxWidth  int
	MaxHeight int
	// Quality is 1..100 and only applies to JPEG.
	Quality int
	Format  Format
}

// ImageTranscoder decodes, downsizes and re-encodes images.
type ImageTranscoder interface {
	Transcode(ctx context.Context, file *File, opts TranscodeOptions) (*File, error)
}

var ErrNotImage = errors.New("file is not a decodable image")

// NativeTranscoder is the pure Go ImageTranscoder.
type NativeTranscoder struct{}

func (NativeTranscoder) Transcode(ctx context.Context, file *File, opts TranscodeOptions) (*File, error) {
	if file == nil || len(file.Data) == 0 {
		return nil, &ValidationError{Code: NoFileSelected, Message: "no file selected"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, _, err := image.Decode(bytes.NewReader(file.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotImage, err)
	}
	bounds := src.Bounds()
	w, h := FitDimensions(bounds.Dx(), bounds.Dy(), opts.MaxWidth, opts.MaxHeight)

	var out image.Image = src
	if w != bounds.Dx() || h != bounds.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)
		out = dst
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mime, ext := mimeJPEG, ".jpg"
	switch opts.Format {
	case FormatPNG:
		mime, ext = mimePNG, ".png"
		err = png.Encode(&buf, out)
	default:
		err = jpeg.Encode(&buf, out, &jpeg.Options{Quality: clampQuality(opts.Quality)})
	}
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	return &File{
		Name:     replaceExt(file.Name, ext),
		MIMEType: mime,
		Data:     buf.Bytes(),
		Width:    w,
		Height:   h,
	}, nil
}

// FitDimensions scales w×h down so the longer edge fits the tighter of the
// two bounds. Aspect ratio is kept and images are never upscaled. A
// non-positive bound is ignored.
func FitDimensions(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}
	limit := maxW
	if limit <= 0 || (maxH > 0 && maxH < limit) {
		limit = maxH
	}
	if limit <= 0 || (w <= limit && h <= limit) {
		return w, h
	}

	if w >= h {
		return limit, max(1, (h*limit+w/2)/w)
	}

	return max(1, (w*limit+h/2)/h), limit
}

func clampQuality(q int) int {
	switch {
	case q <= 0:
		return jpeg.DefaultQuality
	case q > 100:
		return 100
	default:
		return q
	}
}

func replaceExt(name, ext string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" {
		base = "image"
	}

	return base + ext
}
