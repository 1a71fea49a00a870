// Package imaging decodes image references and fits them into pixel bounds.
package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"strings"

	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/metrics"
	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/remote"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	ErrNotImage       = errors.New("data is not a supported image")
	ErrUnsupportedRef = errors.New("unsupported image reference")
	ErrEmptyImage     = errors.New("image has no pixels")
)

// ResizeObserver is told about every rescale.
type ResizeObserver interface {
	ImageResized(direction string)
}

// Normalizer loads image references and returns RGB images whose area is
// within [minPixels, maxPixels] as far as truncated scaling allows.
type Normalizer struct {
	// ApplyEXIF rotates decoded bytes according to their EXIF orientation.
	ApplyEXIF bool
	// Fetcher resolves http(s) and s3 URIs. Nil disables URI references.
	Fetcher  remote.Fetcher
	Observer ResizeObserver
	Logger   zerolog.Logger
}

// Normalize decodes ref, rescales it and converts it to RGB. ref may be a
// path or URI string, raw bytes, an image.Image, or a map holding "bytes"
// ([]byte or base64 text) or "path". A bound of zero disables that check.
func (n *Normalizer) Normalize(ctx context.Context, ref any, minPixels, maxPixels int) (image.Image, error) {
	img, err := n.load(ctx, ref)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, ErrEmptyImage
	}

	tw, th := w, h
	if maxPixels > 0 && tw*th > maxPixels {
		tw, th = scaleTo(tw, th, maxPixels)
		n.resized(metrics.ResizeDown, w, h, tw, th)
	}
	if minPixels > 0 && tw*th < minPixels {
		pw, ph := tw, th
		tw, th = scaleTo(tw, th, minPixels)
		n.resized(metrics.ResizeUp, pw, ph, tw, th)
	}
	if tw <= 0 || th <= 0 {
		return nil, fmt.Errorf("%w: %dx%d scaled to %dx%d", ErrEmptyImage, w, h, tw, th)
	}
	if tw != w || th != h {
		img = resize(img, tw, th)
	}
	return toRGB(img), nil
}

// scaleTo scales w×h by sqrt(target/(w*h)), truncating both sides.
func scaleTo(w, h, target int) (int, int) {
	f := math.Sqrt(float64(target) / float64(w*h))
	return int(float64(w) * f), int(float64(h) * f)
}

func (n *Normalizer) resized(direction string, w, h, tw, th int) {
	n.Logger.Debug().
		Str("direction", direction).
		Int("width", w).Int("height", h).
		Int("target_width", tw).Int("target_height", th).
		Msg("Resizing image")
	if n.Observer != nil {
		n.Observer.ImageResized(direction)
	}
}

func (n *Normalizer) load(ctx context.Context, ref any) (image.Image, error) {
	switch v := ref.(type) {
	case image.Image:
		return v, nil
	case []byte:
		return n.decode(v)
	case string:
		return n.loadString(ctx, v)
	case map[string]any:
		if raw, ok := v["bytes"]; ok && raw != nil {
			switch b := raw.(type) {
			case []byte:
				return n.decode(b)
			case string:
				data, err := base64.StdEncoding.DecodeString(b)
				if err != nil {
					return nil, fmt.Errorf("%w: bytes field is not base64: %v", ErrUnsupportedRef, err)
				}
				return n.decode(data)
			default:
				return nil, fmt.Errorf("%w: bytes field of type %T", ErrUnsupportedRef, raw)
			}
		}
		for _, key := range []string{"path", "src"} {
			if p, ok := v[key].(string); ok && p != "" {
				return n.loadString(ctx, p)
			}
		}
		return nil, fmt.Errorf("%w: map without bytes or path", ErrUnsupportedRef)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedRef, ref)
	}
}

func (n *Normalizer) loadString(ctx context.Context, s string) (image.Image, error) {
	if remote.IsURI(s) {
		if n.Fetcher == nil {
			return nil, fmt.Errorf("%w: no fetcher for %s", ErrUnsupportedRef, s)
		}
		data, err := n.Fetcher.Fetch(ctx, s)
		if err != nil {
			return nil, err
		}
		return n.decode(data)
	}
	data, err := os.ReadFile(s)
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", s, err)
	}
	return n.decode(data)
}

func (n *Normalizer) decode(data []byte) (image.Image, error) {
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, fmt.Errorf("%w: detected %s", ErrNotImage, mt.String())
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotImage, mt.String(), err)
	}
	if n.ApplyEXIF {
		if o := readOrientation(data); o > 1 {
			n.Logger.Debug().Str("format", format).Int("orientation", o).Msg("Applying EXIF orientation")
			img = orient(img, o)
		}
	}
	return img, nil
}

func resize(src image.Image, w, h int) image.Image {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// toRGB drops alpha and returns an opaque image holding the straight colour
// values.
func toRGB(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			dst.SetRGBA(x, y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
		}
	}
	return dst
}
