package dataset

import (
	"context"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/chat"
	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/config"
	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/imaging"
	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/metrics"
	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/processor"
	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/remote"
	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/sequence"
	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/source"
	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/tokenizer"

	"github.com/rs/zerolog"
)

// Open wires every collaborator described by cfg and returns the dataset
// behind locator. The overlong filter never runs on annotation sources.
func Open(ctx context.Context, cfg *config.Config, locator string, m *metrics.Collector, logger zerolog.Logger) (*Dataset, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	renderer := chat.NewChatMLRenderer(cfg.Processor.SystemPrompt)
	tok, err := tokenizer.New(tokenizer.Config{
		Backend:       cfg.Tokenizer.Backend,
		Path:          cfg.Tokenizer.Path,
		Encoding:      cfg.Tokenizer.Encoding,
		PadToken:      cfg.Tokenizer.PadToken,
		PadID:         cfg.Tokenizer.PadID,
		SpecialTokens: renderer.SpecialTokens(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	proc, err := processor.New(tok, processor.Config{
		PatchSize: cfg.Processor.PatchSize,
		MergeSize: cfg.Processor.MergeSize,
		MinPixels: cfg.Processor.MinPixels,
		MaxPixels: cfg.Processor.MaxPixels,
	})
	if err != nil {
		return nil, err
	}
	strategy, err := processor.ParsePositionIDStrategy(cfg.Processor.PositionIDs)
	if err != nil {
		return nil, err
	}
	trunc, err := sequence.ParseTruncation(cfg.Dataset.Truncation)
	if err != nil {
		return nil, err
	}
	tmpl, err := chat.LoadFormatPrompt(cfg.Dataset.FormatPrompt)
	if err != nil {
		return nil, err
	}

	fetcher, err := newFetcher(cfg, logger)
	if err != nil {
		return nil, err
	}
	src, err := source.Open(ctx, locator, source.Options{
		Annotation:     cfg.Dataset.Annotation,
		ImageRoot:      cfg.Dataset.ImageRoot,
		HTTP:           fetcher.HTTP,
		S3:             fetcher.S3,
		CacheDir:       cfg.Storage.CacheDir,
		RemoteEndpoint: cfg.Remote.Endpoint,
		RemoteConfig:   cfg.Remote.Config,
		PageSize:       cfg.Remote.PageSize,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	normalizer := &imaging.Normalizer{
		ApplyEXIF: cfg.Dataset.ApplyEXIFOrientation,
		Fetcher:   fetcher,
		Logger:    logger,
	}
	if m != nil {
		normalizer.Observer = m
	}

	return New(ctx, src, proc, renderer, Config{
		PromptKey:       cfg.Dataset.PromptKey,
		AnswerKey:       cfg.Dataset.AnswerKey,
		ImageKey:        cfg.Dataset.ImageKey,
		MaxPromptLength: cfg.Dataset.MaxPromptLength,
		Truncation:      trunc,
		MinPixels:       cfg.Dataset.MinPixels,
		MaxPixels:       cfg.Dataset.MaxPixels,
		PositionIDs:     strategy,
		FormatPrompt:    tmpl,
		FilterOverlong:  cfg.Dataset.FilterOverlongPrompts && !cfg.Dataset.Annotation,
		FilterWorkers:   cfg.Loader.Workers,
	}, WithNormalizer(normalizer), WithMetrics(m), WithLogger(logger))
}

// newFetcher builds the URI router. Object storage is only wired when an
// endpoint is configured.
func newFetcher(cfg *config.Config, logger zerolog.Logger) (*remote.Router, error) {
	r := &remote.Router{
		HTTP: remote.NewHTTPClient(cfg.Remote.RetryMax, time.Duration(cfg.Remote.TimeoutSeconds)*time.Second, logger),
	}
	if cfg.Storage.Endpoint != "" {
		s3, err := remote.NewS3Client(remote.S3Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Region:    cfg.Storage.Region,
			Secure:    cfg.Storage.Secure,
		})
		if err != nil {
			return nil, err
		}
		r.S3 = s3
	}
	return r, nil
}

// NewLoaderFromConfig returns a Loader with cfg's batching options.
func NewLoaderFromConfig(ds *Dataset, cfg config.LoaderConfig) *Loader {
	return NewLoader(ds, LoaderConfig{
		BatchSize: cfg.BatchSize,
		Workers:   cfg.Workers,
		Shuffle:   cfg.Shuffle,
		Seed:      cfg.Seed,
		DropLast:  cfg.DropLast,
	})
}
