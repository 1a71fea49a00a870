package source

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// KeepFunc decides whether a record stays in the dataset.
type KeepFunc func(Record) (bool, error)

// Filtered is a view over the kept records of a parent source.
type Filtered struct {
	parent RecordSource
	kept   *roaring.Bitmap
}

// FilterOverlong evaluates keep for every record of src with at most workers
// goroutines and returns the kept records in their original order. Any
// predicate or read error aborts the filter.
func FilterOverlong(ctx context.Context, src RecordSource, keep KeepFunc, workers int, logger zerolog.Logger) (*Filtered, error) {
	if workers <= 0 {
		workers = 1
	}
	n := src.Len()
	decisions := make([]bool, n)

	p := pool.New().WithMaxGoroutines(workers).WithContext(ctx).WithCancelOnError()
	for i := 0; i < n; i++ {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := src.Get(i)
			if err != nil {
				return err
			}
			ok, err := keep(rec)
			if err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
			decisions[i] = ok
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	kept := roaring.New()
	for i, ok := range decisions {
		if ok {
			kept.Add(uint32(i))
		}
	}
	logger.Debug().
		Int("total", n).
		Uint64("kept", kept.GetCardinality()).
		Msg("Filtered overlong prompts")
	return &Filtered{parent: src, kept: kept}, nil
}

func (f *Filtered) Len() int { return int(f.kept.GetCardinality()) }

// Dropped returns how many parent records were filtered out.
func (f *Filtered) Dropped() int { return f.parent.Len() - f.Len() }

func (f *Filtered) Get(index int) (Record, error) {
	if index < 0 || index >= f.Len() {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, f.Len())
	}
	parentIdx, err := f.kept.Select(uint32(index))
	if err != nil {
		return nil, err
	}
	return f.parent.Get(int(parentIdx))
}
