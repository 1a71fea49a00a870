// Package source resolves dataset locators into indexable record sources.
package source

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	internal "github.com/ZanzyTHEbar/rlhf-datasets/rlds"
	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/remote"

	"github.com/rs/zerolog"
	ignore "github.com/sabhiram/go-gitignore"
)

var (
	ErrLocatorNotFound   = errors.New("dataset locator not found")
	ErrUnsupportedFormat = errors.New("unsupported dataset format")
	ErrMissingField      = errors.New("record is missing a required field")
	ErrIndexOutOfRange   = errors.New("record index out of range")
)

// DefaultSplit is used when a locator carries no @split suffix.
const DefaultSplit = "train"

// Record is one raw dataset row.
type Record map[string]any

// RecordSource is an indexable, finite collection of records. Get returns a
// shallow copy, so callers may add or delete keys freely.
type RecordSource interface {
	Len() int
	Get(index int) (Record, error)
}

// Options control how Open resolves a locator.
type Options struct {
	// Annotation treats the locator as a JSON annotation file.
	Annotation bool
	// ImageRoot is joined with annotation image ids.
	ImageRoot string

	// HTTP fetches remote dataset pages; S3 fetches s3:// objects.
	HTTP remote.Fetcher
	S3   remote.Fetcher
	// CacheDir receives s3:// objects when S3 is also a Downloader. Cached
	// objects are reused on later opens.
	CacheDir string

	RemoteEndpoint string
	RemoteConfig   string
	PageSize       int

	Logger zerolog.Logger
}

// Downloader writes a remote object to a local file.
type Downloader interface {
	Download(ctx context.Context, uri, path string) error
}

// ParseLocator splits "path_or_id@split". Only the first '@' separates.
func ParseLocator(locator string) (string, string) {
	p, split, ok := strings.Cut(locator, "@")
	if !ok || split == "" {
		return p, DefaultSplit
	}
	return p, split
}

// Open resolves locator in order: annotation file (when configured), local
// directory, local file, s3:// object, remote dataset identifier.
func Open(ctx context.Context, locator string, opts Options) (RecordSource, error) {
	p, split := ParseLocator(locator)
	logger := opts.Logger.With().Str("locator", p).Str("split", split).Logger()

	if opts.Annotation {
		logger.Debug().Msg("Loading annotation file")
		return LoadAnnotations(p, opts.ImageRoot)
	}

	if info, err := os.Stat(p); err == nil {
		if info.IsDir() {
			logger.Debug().Msg("Loading dataset directory")
			return loadDir(p, logger)
		}
		logger.Debug().Msg("Loading dataset file")
		return loadFile(p)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat %s: %w", p, err)
	}

	if strings.HasPrefix(p, "s3://") {
		if opts.S3 == nil {
			return nil, fmt.Errorf("%w: no object storage configured for %s", ErrLocatorNotFound, p)
		}
		if d, ok := opts.S3.(Downloader); ok && opts.CacheDir != "" {
			local, err := cachedObject(ctx, d, opts.CacheDir, p, logger)
			if err != nil {
				return nil, err
			}
			return loadFile(local)
		}
		logger.Debug().Msg("Fetching dataset object")
		data, err := opts.S3.Fetch(ctx, p)
		if err != nil {
			return nil, err
		}
		return parseTabular(path.Ext(p), data, p)
	}

	if opts.HTTP == nil || looksLikePath(p) {
		return nil, fmt.Errorf("%w: %s", ErrLocatorNotFound, p)
	}
	logger.Debug().Msg("Fetching remote dataset")
	return loadRemote(ctx, opts, p, split, logger)
}

// looksLikePath reports whether p is clearly a filesystem path rather than a
// hub identifier such as "org/name". Identifiers may contain dots
// ("org/model-1.0"), so only dataset file extensions count.
func looksLikePath(p string) bool {
	return p == "" || filepath.IsAbs(p) || strings.HasPrefix(p, ".") || isTabular(p)
}

// cachedObject returns the local copy of an s3:// object under
// cacheDir/s3/bucket/key, downloading it first when absent.
func cachedObject(ctx context.Context, d Downloader, cacheDir, uri string, logger zerolog.Logger) (string, error) {
	bucket, key, err := remote.ParseS3URI(uri)
	if err != nil {
		return "", err
	}
	key = filepath.FromSlash(key)
	if !filepath.IsLocal(bucket) || !filepath.IsLocal(key) {
		return "", fmt.Errorf("%w: %s", remote.ErrInvalidS3URI, uri)
	}
	local := filepath.Join(cacheDir, "s3", bucket, key)
	if _, err := os.Stat(local); err == nil {
		logger.Debug().Str("path", local).Msg("Using cached dataset object")
		return local, nil
	}

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}
	logger.Debug().Str("path", local).Msg("Downloading dataset object")
	if err := d.Download(ctx, uri, local); err != nil {
		return "", err
	}
	return local, nil
}

func loadDir(dir string, logger zerolog.Logger) (RecordSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var ignored *ignore.GitIgnore
	ignorePath := filepath.Join(dir, internal.DefaultIgnoreFile)
	if _, err := os.Stat(ignorePath); err == nil {
		ignored, err = ignore.CompileIgnoreFile(ignorePath)
		if err != nil {
			return nil, fmt.Errorf("error reading %s: %w", ignorePath, err)
		}
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == internal.DefaultIgnoreFile {
			continue
		}
		if ignored != nil && ignored.MatchesPath(name) {
			logger.Debug().Str("file", name).Msg("Skipping ignored file")
			continue
		}
		if !isTabular(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no dataset files in %s", ErrLocatorNotFound, dir)
	}

	var records []Record
	for _, name := range names {
		src, err := loadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		records = append(records, src.records...)
	}
	logger.Debug().Int("files", len(names)).Int("records", len(records)).Msg("Loaded dataset directory")
	return &memSource{records: records}, nil
}

// memSource holds fully materialized records.
type memSource struct {
	records []Record
}

// NewMemory wraps records as a RecordSource.
func NewMemory(records []Record) RecordSource {
	return &memSource{records: records}
}

func (m *memSource) Len() int { return len(m.records) }

func (m *memSource) Get(index int) (Record, error) {
	if index < 0 || index >= len(m.records) {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(m.records))
	}
	return maps.Clone(m.records[index]), nil
}
