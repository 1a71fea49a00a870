package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/metrics"
	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/remote"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver map[string]int

func (c countingObserver) ImageResized(direction string) { c[direction]++ }

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newNormalizer() (*Normalizer, countingObserver) {
	obs := countingObserver{}
	return &Normalizer{Observer: obs, Logger: zerolog.Nop()}, obs
}

func TestNormalizePixelBounds(t *testing.T) {
	tests := []struct {
		name     string
		w, h     int
		min, max int
		wantW    int
		wantH    int
		wantDown int
		wantUp   int
	}{
		{name: "within bounds", w: 40, h: 30, min: 100, max: 5000, wantW: 40, wantH: 30},
		{name: "downscale", w: 100, h: 50, max: 1250, wantW: 50, wantH: 25, wantDown: 1},
		{name: "upscale", w: 10, h: 10, min: 400, wantW: 20, wantH: 20, wantUp: 1},
		{name: "max checked before min", w: 20, h: 20, min: 1000, max: 100, wantW: 31, wantH: 31, wantDown: 1, wantUp: 1},
		{name: "zero bounds disabled", w: 7, h: 3, wantW: 7, wantH: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, obs := newNormalizer()
			out, err := n.Normalize(context.Background(), solid(tt.w, tt.h, color.White), tt.min, tt.max)
			require.NoError(t, err)
			assert.Equal(t, tt.wantW, out.Bounds().Dx())
			assert.Equal(t, tt.wantH, out.Bounds().Dy())
			assert.Equal(t, tt.wantDown, obs[metrics.ResizeDown])
			assert.Equal(t, tt.wantUp, obs[metrics.ResizeUp])
			if tt.max > 0 && tt.min == 0 {
				assert.LessOrEqual(t, out.Bounds().Dx()*out.Bounds().Dy(), tt.max)
			}
		})
	}
}

func TestNormalizeDropsAlpha(t *testing.T) {
	n, _ := newNormalizer()
	src := solid(2, 2, color.NRGBA{R: 200, G: 10, B: 30, A: 0})

	out, err := n.Normalize(context.Background(), src, 0, 0)
	require.NoError(t, err)
	rgba, ok := out.(*image.RGBA)
	require.True(t, ok)
	assert.Equal(t, color.RGBA{R: 200, G: 10, B: 30, A: 255}, rgba.RGBAAt(1, 1))
}

func TestNormalizeReferences(t *testing.T) {
	data := encodePNG(t, solid(8, 4, color.Black))
	path := filepath.Join(t.TempDir(), "img.png")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	defer srv.Close()

	n, _ := newNormalizer()
	n.Fetcher = &remote.Router{HTTP: remote.NewHTTPClient(0, time.Second, zerolog.Nop())}

	refs := map[string]any{
		"bytes":      data,
		"path":       path,
		"map bytes":  map[string]any{"bytes": data},
		"map base64": map[string]any{"bytes": base64.StdEncoding.EncodeToString(data)},
		"map path":   map[string]any{"bytes": nil, "path": path},
		"http uri":   srv.URL + "/img.png",
		"decoded":    solid(8, 4, color.Black),
	}
	for name, ref := range refs {
		t.Run(name, func(t *testing.T) {
			out, err := n.Normalize(context.Background(), ref, 0, 0)
			require.NoError(t, err)
			assert.Equal(t, image.Rect(0, 0, 8, 4), out.Bounds())
		})
	}
}

func TestNormalizeErrors(t *testing.T) {
	n, _ := newNormalizer()
	ctx := context.Background()

	_, err := n.Normalize(ctx, []byte("definitely not an image"), 0, 0)
	assert.ErrorIs(t, err, ErrNotImage)

	truncated := encodePNG(t, solid(8, 8, color.White))[:40]
	_, err = n.Normalize(ctx, truncated, 0, 0)
	assert.ErrorIs(t, err, ErrNotImage)

	_, err = n.Normalize(ctx, 42, 0, 0)
	assert.ErrorIs(t, err, ErrUnsupportedRef)

	_, err = n.Normalize(ctx, map[string]any{"bytes": "%%%"}, 0, 0)
	assert.ErrorIs(t, err, ErrUnsupportedRef)

	_, err = n.Normalize(ctx, "https://example.com/a.png", 0, 0)
	assert.ErrorIs(t, err, ErrUnsupportedRef)

	_, err = n.Normalize(ctx, filepath.Join(t.TempDir(), "missing.png"), 0, 0)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = n.Normalize(ctx, image.NewNRGBA(image.Rect(0, 0, 0, 0)), 0, 0)
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, err = n.Normalize(ctx, solid(100, 1, color.White), 0, 10)
	assert.ErrorIs(t, err, ErrEmptyImage)
}

func TestOrient(t *testing.T) {
	// 2x1: red then blue
	red := color.NRGBA{R: 255, A: 255}
	blue := color.NRGBA{B: 255, A: 255}
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.Set(0, 0, red)
	src.Set(1, 0, blue)

	tests := []struct {
		orientation int
		bounds      image.Rectangle
		at          map[image.Point]color.NRGBA
	}{
		{1, image.Rect(0, 0, 2, 1), map[image.Point]color.NRGBA{{0, 0}: red, {1, 0}: blue}},
		{2, image.Rect(0, 0, 2, 1), map[image.Point]color.NRGBA{{0, 0}: blue, {1, 0}: red}},
		{3, image.Rect(0, 0, 2, 1), map[image.Point]color.NRGBA{{0, 0}: blue, {1, 0}: red}},
		{6, image.Rect(0, 0, 1, 2), map[image.Point]color.NRGBA{{0, 0}: red, {0, 1}: blue}},
		{8, image.Rect(0, 0, 1, 2), map[image.Point]color.NRGBA{{0, 0}: blue, {0, 1}: red}},
	}
	for _, tt := range tests {
		out := orient(src, tt.orientation)
		require.Equal(t, tt.bounds, out.Bounds(), "orientation %d", tt.orientation)
		for p, want := range tt.at {
			got := color.NRGBAModel.Convert(out.At(p.X, p.Y)).(color.NRGBA)
			assert.Equal(t, want, got, "orientation %d at %v", tt.orientation, p)
		}
	}
}

func TestReadOrientationWithoutEXIF(t *testing.T) {
	assert.Equal(t, 1, readOrientation(encodePNG(t, solid(1, 1, color.White))))
	assert.Equal(t, 1, readOrientation([]byte("garbage")))
}
