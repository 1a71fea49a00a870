// Package dataset turns raw records into fixed-length, model-ready examples
// and batches them for training.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"image"
	"slices"

	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/chat"
	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/imaging"
	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/metrics"
	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/processor"
	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/sequence"
	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/source"

	"github.com/rs/zerolog"
)

// Output field names.
const (
	KeyInputIDs       = "input_ids"
	KeyAttentionMask  = "attention_mask"
	KeyPositionIDs    = "position_ids"
	KeyRawPromptIDs   = "raw_prompt_ids"
	KeyMultiModalData = "multi_modal_data"
	KeyGroundTruth    = "ground_truth"
)

var ErrInvalidField = errors.New("record field has an unexpected type")

// Example is one processed record.
type Example map[string]any

// Config holds the transformation options. It is not modified after New.
type Config struct {
	PromptKey       string
	AnswerKey       string
	ImageKey        string
	MaxPromptLength int
	Truncation      sequence.Truncation
	MinPixels       int
	MaxPixels       int
	PositionIDs     processor.PositionIDStrategy
	FormatPrompt    *chat.FormatPrompt

	// FilterOverlong drops records whose rendered prompt is longer than
	// MaxPromptLength once, at construction.
	FilterOverlong bool
	FilterWorkers  int
}

// Dataset is an indexable view of processed examples. Get is safe for
// concurrent use.
type Dataset struct {
	src      source.RecordSource
	cfg      Config
	proc     *processor.Processor
	renderer chat.Renderer
	images   *imaging.Normalizer
	metrics  *metrics.Collector
	logger   zerolog.Logger
}

// Option customizes a Dataset.
type Option func(*Dataset)

func WithNormalizer(n *imaging.Normalizer) Option {
	return func(d *Dataset) { d.images = n }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(d *Dataset) { d.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(d *Dataset) { d.logger = l }
}

// New builds a Dataset over src, filtering overlong prompts first when
// cfg.FilterOverlong is set.
func New(ctx context.Context, src source.RecordSource, proc *processor.Processor, renderer chat.Renderer, cfg Config, opts ...Option) (*Dataset, error) {
	if src == nil || proc == nil || renderer == nil {
		return nil, errors.New("dataset needs a source, a processor and a renderer")
	}
	if cfg.MaxPromptLength <= 0 {
		return nil, fmt.Errorf("max_prompt_length must be positive, got %d", cfg.MaxPromptLength)
	}
	if _, err := sequence.ParseTruncation(string(cfg.Truncation)); err != nil {
		return nil, err
	}

	d := &Dataset{
		src:      src,
		cfg:      cfg,
		proc:     proc,
		renderer: renderer,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.images == nil {
		d.images = &imaging.Normalizer{Logger: d.logger}
	}

	if cfg.FilterOverlong {
		filtered, err := source.FilterOverlong(ctx, src, d.fitsPrompt, cfg.FilterWorkers, d.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to filter overlong prompts: %w", err)
		}
		d.metrics.RecordsFiltered(filtered.Dropped())
		d.src = filtered
	}
	return d, nil
}

func (d *Dataset) Len() int { return d.src.Len() }

// Get transforms the record at index.
func (d *Dataset) Get(index int) (Example, error) {
	return d.GetContext(context.Background(), index)
}

// GetContext is Get with a context for remote image references.
func (d *Dataset) GetContext(ctx context.Context, index int) (Example, error) {
	ex, err := d.transform(ctx, index)
	if err != nil {
		d.metrics.TransformFailed()
		return nil, fmt.Errorf("example %d: %w", index, err)
	}
	return ex, nil
}

// fitsPrompt reports whether the rendered prompt, generation prompt
// included, tokenizes to at most MaxPromptLength ids.
func (d *Dataset) fitsPrompt(rec source.Record) (bool, error) {
	messages, err := d.buildMessages(rec)
	if err != nil {
		return false, err
	}
	prompt, err := d.renderer.Render(messages, true)
	if err != nil {
		return false, err
	}
	ids, err := d.proc.Tokenizer().Encode(prompt)
	if err != nil {
		return false, err
	}
	return len(ids) <= d.cfg.MaxPromptLength, nil
}

func (d *Dataset) buildMessages(rec source.Record) ([]chat.Message, error) {
	raw, ok := rec[d.cfg.PromptKey]
	if !ok {
		return nil, fmt.Errorf("%w: %q", source.ErrMissingField, d.cfg.PromptKey)
	}
	prompt, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %q is %T, want string", ErrInvalidField, d.cfg.PromptKey, raw)
	}
	_, hasImages := rec[d.cfg.ImageKey]
	return chat.BuildMessages(prompt, d.cfg.FormatPrompt, hasImages)
}

func (d *Dataset) transform(ctx context.Context, index int) (Example, error) {
	rec, err := d.src.Get(index)
	if err != nil {
		return nil, err
	}
	messages, err := d.buildMessages(rec)
	if err != nil {
		return nil, err
	}
	prompt, err := d.renderer.Render(messages, true)
	if err != nil {
		return nil, err
	}

	var (
		ids, mask []int
		grids     []processor.Grid
		refs      []any
	)
	rawImages, hasImages := rec[d.cfg.ImageKey]
	if hasImages {
		delete(rec, d.cfg.ImageKey)
		refs = imageRefs(rawImages)
		images := make([]image.Image, len(refs))
		for i, ref := range refs {
			img, err := d.images.Normalize(ctx, ref, d.cfg.MinPixels, d.cfg.MaxPixels)
			if err != nil {
				return nil, fmt.Errorf("image %d: %w", i, err)
			}
			images[i] = img
		}
		enc, err := d.proc.EncodeMultimodal(images, prompt)
		if err != nil {
			return nil, err
		}
		ids, mask, grids = enc.InputIDs, enc.AttentionMask, enc.ImageGridTHW
	} else {
		ids, mask, err = d.proc.EncodeText(prompt)
		if err != nil {
			return nil, err
		}
	}
	promptTokens := len(ids)

	positions, err := d.proc.Positions(d.cfg.PositionIDs, ids, grids, mask)
	if err != nil {
		return nil, err
	}
	padID := d.proc.Tokenizer().PadTokenID()
	ids, mask, positions, err = sequence.PostProcess(ids, mask, positions, d.cfg.MaxPromptLength, padID, true, d.cfg.Truncation)
	if err != nil {
		return nil, err
	}

	rawIDs, err := d.proc.Tokenizer().Encode(prompt)
	if err != nil {
		return nil, err
	}
	rawIDs, err = sequence.Truncate(rawIDs, d.cfg.MaxPromptLength, d.cfg.Truncation)
	if err != nil {
		return nil, err
	}

	answer, ok := rec[d.cfg.AnswerKey]
	if !ok {
		return nil, fmt.Errorf("%w: %q", source.ErrMissingField, d.cfg.AnswerKey)
	}
	delete(rec, d.cfg.AnswerKey)

	ex := Example(rec)
	ex[KeyInputIDs] = ids
	ex[KeyAttentionMask] = mask
	ex[KeyPositionIDs] = positions
	ex[KeyRawPromptIDs] = rawIDs
	ex[KeyGroundTruth] = answer
	if hasImages {
		ex[KeyMultiModalData] = map[string]any{"image": refs}
	}

	d.metrics.ExampleTransformed(promptTokens)
	return ex, nil
}

// imageRefs returns the image references held by an image field, which is
// either a list or a single reference.
func imageRefs(v any) []any {
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		return slices.Clone(x)
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case [][]byte:
		out := make([]any, len(x))
		for i, b := range x {
			out[i] = b
		}
		return out
	default:
		return []any{v}
	}
}
