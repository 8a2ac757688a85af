// Package watermark overlays the brand mark on previews for tiers that have
// not paid for clean output.
package watermark

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"canvaspreview/internal/domain"
	"canvaspreview/internal/infra"
)

const (
	cornerScale   = 0.22
	cornerOpacity = 0.42
	centerScale   = 0.72
	centerOpacity = 0.24
)

// Loader returns the brand mark image.
type Loader func(ctx context.Context) (image.Image, error)

// Options configures a Compositor.
type Options struct {
	// Path of a PNG mark on disk. Ignored when Loader is set; when both are
	// empty a built-in mark is used.
	Path        string
	Loader      Loader
	JPEGQuality int
	Logger      *infra.Logger
}

// Compositor applies the mark. The loaded mark is cached after the first
// successful load; failures are retried on the next call.
type Compositor struct {
	loader  Loader
	quality int
	logger  zerolog.Logger

	mu   sync.Mutex
	mark image.Image
}

func NewCompositor(opts Options) *Compositor {
	c := &Compositor{
		loader:  opts.Loader,
		quality: opts.JPEGQuality,
		logger:  zerolog.Nop(),
	}
	if c.loader == nil {
		if opts.Path != "" {
			c.loader = FileLoader(opts.Path)
		} else {
			c.loader = func(context.Context) (image.Image, error) { return DefaultMark(), nil }
		}
	}
	if c.quality <= 0 || c.quality > 100 {
		c.quality = 90
	}
	if opts.Logger != nil {
		c.logger = infra.NewComponentLogger(*opts.Logger, "watermark")
	}
	return c
}

// FileLoader opens the mark at path.
func FileLoader(path string) Loader {
	return func(context.Context) (image.Image, error) {
		img, err := imaging.Open(path)
		if err != nil {
			return nil, fmt.Errorf("watermark: open %s: %w", path, err)
		}
		return img, nil
	}
}

// Apply is a pass-through for tiers entitled to clean output and marks the
// asset otherwise.
func (c *Compositor) Apply(ctx context.Context, data []byte, tier domain.EntitlementTier) []byte {
	if tier.Unwatermarked() {
		return data
	}
	return c.Mark(ctx, data)
}

// Mark composites the brand mark onto data unconditionally. Any failure
// returns data unchanged.
func (c *Compositor) Mark(ctx context.Context, data []byte) (out []byte) {
	out = data
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("watermark compositing panicked")
			out = data
		}
	}()

	mark, err := c.loadMark(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("watermark unavailable, serving unmarked asset")
		return data
	}
	marked, err := c.composite(data, mark)
	if err != nil {
		c.logger.Warn().Err(err).Msg("watermark compositing failed, serving unmarked asset")
		return data
	}
	return marked
}

func (c *Compositor) loadMark(ctx context.Context) (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mark != nil {
		return c.mark, nil
	}
	mark, err := c.loader(ctx)
	if err != nil {
		return nil, err
	}
	if mark == nil {
		return nil, fmt.Errorf("watermark: loader returned no image")
	}
	c.mark = mark
	return mark, nil
}

func (c *Compositor) composite(data []byte, mark image.Image) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("watermark: decode asset: %w", err)
	}
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	short := min(w, h)

	cornerSize := int(float64(short) * cornerScale)
	centerWidth := int(float64(w) * centerScale)
	if cornerSize < 1 || centerWidth < 1 {
		return nil, fmt.Errorf("watermark: asset too small (%dx%d)", w, h)
	}
	margin := short / 40

	dst := imaging.Clone(src)
	corner := imaging.Resize(mark, cornerSize, 0, imaging.Lanczos)
	cw, ch := corner.Bounds().Dx(), corner.Bounds().Dy()
	for _, pt := range []image.Point{
		{X: margin, Y: margin},
		{X: w - cw - margin, Y: margin},
		{X: margin, Y: h - ch - margin},
		{X: w - cw - margin, Y: h - ch - margin},
	} {
		dst = imaging.Overlay(dst, corner, pt, cornerOpacity)
	}

	center := imaging.Resize(mark, centerWidth, 0, imaging.Lanczos)
	dst = imaging.OverlayCenter(dst, center, centerOpacity)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dst, imaging.JPEG, imaging.JPEGQuality(c.quality)); err != nil {
		return nil, fmt.Errorf("watermark: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// DefaultMark draws the built-in mark: a white ring around a filled dot on a
// transparent square.
func DefaultMark() image.Image {
	const size = 256
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	white := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	c := float64(size) / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)+0.5-c, float64(y)+0.5-c
			d := dx*dx + dy*dy
			switch {
			case d <= 40*40:
				img.SetNRGBA(x, y, white)
			case d >= 100*100 && d <= 120*120:
				img.SetNRGBA(x, y, white)
			}
		}
	}
	return img
}
