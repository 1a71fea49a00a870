// Package processor turns rendered prompts and normalized images into token
// ids, attention masks, image grids and position ids.
package processor

import (
	"errors"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/chat"
	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/tokenizer"
)

var (
	ErrImageCountMismatch = errors.New("number of image placeholders does not match number of images")
	ErrImageTooSmall      = errors.New("image is smaller than the patch factor")
	ErrAspectRatio        = errors.New("image aspect ratio is too extreme")
	ErrInvalidConfig      = errors.New("invalid processor configuration")
)

// maxAspectRatio bounds max(h,w)/min(h,w) for vision inputs.
const maxAspectRatio = 200

// Config mirrors the vision settings of a Qwen2-VL style processor.
type Config struct {
	PatchSize int
	MergeSize int
	MinPixels int
	MaxPixels int
}

// Grid is the (temporal, height, width) patch grid of one image.
type Grid [3]int

// Tokens returns how many prompt tokens the grid occupies after merging.
func (g Grid) Tokens(mergeSize int) int {
	return g[0] * g[1] * g[2] / (mergeSize * mergeSize)
}

// Encoding is the combined text and image encoding of one prompt.
type Encoding struct {
	InputIDs      []int
	AttentionMask []int
	ImageGridTHW  []Grid
}

// Processor is safe for concurrent use once constructed.
type Processor struct {
	tok tokenizer.Tokenizer
	cfg Config
}

func New(tok tokenizer.Tokenizer, cfg Config) (*Processor, error) {
	if tok == nil {
		return nil, fmt.Errorf("%w: tokenizer is nil", ErrInvalidConfig)
	}
	if cfg.PatchSize <= 0 || cfg.MergeSize <= 0 {
		return nil, fmt.Errorf("%w: patch_size=%d merge_size=%d", ErrInvalidConfig, cfg.PatchSize, cfg.MergeSize)
	}
	return &Processor{tok: tok, cfg: cfg}, nil
}

func (p *Processor) Tokenizer() tokenizer.Tokenizer { return p.tok }

// EncodeText tokenizes prompt with an all-ones attention mask.
func (p *Processor) EncodeText(prompt string) ([]int, []int, error) {
	ids, err := p.tok.Encode(prompt)
	if err != nil {
		return nil, nil, err
	}
	return ids, ones(len(ids)), nil
}

// ImageGrid computes the patch grid the image occupies after SmartResize.
func (p *Processor) ImageGrid(img image.Image) (Grid, error) {
	b := img.Bounds()
	factor := p.cfg.PatchSize * p.cfg.MergeSize
	h, w, err := SmartResize(b.Dy(), b.Dx(), factor, p.cfg.MinPixels, p.cfg.MaxPixels)
	if err != nil {
		return Grid{}, err
	}
	return Grid{1, h / p.cfg.PatchSize, w / p.cfg.PatchSize}, nil
}

// EncodeMultimodal expands every image pad marker in prompt to the number of
// tokens its image occupies, then tokenizes the result.
func (p *Processor) EncodeMultimodal(images []image.Image, prompt string) (*Encoding, error) {
	segments := strings.Split(prompt, chat.ImagePad)
	if len(segments)-1 != len(images) {
		return nil, fmt.Errorf("%w: %d placeholders, %d images", ErrImageCountMismatch, len(segments)-1, len(images))
	}

	grids := make([]Grid, len(images))
	var sb strings.Builder
	sb.WriteString(segments[0])
	for i, img := range images {
		g, err := p.ImageGrid(img)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		grids[i] = g
		sb.WriteString(strings.Repeat(chat.ImagePad, g.Tokens(p.cfg.MergeSize)))
		sb.WriteString(segments[i+1])
	}

	ids, mask, err := p.EncodeText(sb.String())
	if err != nil {
		return nil, err
	}
	return &Encoding{InputIDs: ids, AttentionMask: mask, ImageGridTHW: grids}, nil
}

// SmartResize picks the dimensions closest to h×w that are multiples of
// factor and whose area lies within [minPixels, maxPixels]. Zero bounds are
// ignored.
func SmartResize(h, w, factor, minPixels, maxPixels int) (int, int, error) {
	if h < factor || w < factor {
		return 0, 0, fmt.Errorf("%w: %dx%d with factor %d", ErrImageTooSmall, w, h, factor)
	}
	if float64(max(h, w))/float64(min(h, w)) > maxAspectRatio {
		return 0, 0, fmt.Errorf("%w: %dx%d", ErrAspectRatio, w, h)
	}
	f := float64(factor)
	hBar := max(factor, int(math.RoundToEven(float64(h)/f))*factor)
	wBar := max(factor, int(math.RoundToEven(float64(w)/f))*factor)
	switch {
	case maxPixels > 0 && hBar*wBar > maxPixels:
		beta := math.Sqrt(float64(h*w) / float64(maxPixels))
		hBar = max(factor, int(math.Floor(float64(h)/beta/f))*factor)
		wBar = max(factor, int(math.Floor(float64(w)/beta/f))*factor)
	case minPixels > 0 && hBar*wBar < minPixels:
		beta := math.Sqrt(float64(minPixels) / float64(h*w))
		hBar = int(math.Ceil(float64(h)*beta/f)) * factor
		wBar = int(math.Ceil(float64(w)*beta/f)) * factor
	}
	return hBar, wBar, nil
}

func ones(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
