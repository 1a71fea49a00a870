package dataset

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/sourcegraph/conc/pool"
)

// LoaderConfig controls batching.
type LoaderConfig struct {
	BatchSize int
	Workers   int
	Shuffle   bool
	Seed      int64
	DropLast  bool
}

// Loader yields collated batches of a Dataset. It implements train.Dataset;
// inputs are input_ids, attention_mask and position_ids, and the spec value
// is the full *Batch.
type Loader struct {
	ds  *Dataset
	cfg LoaderConfig

	mu    sync.Mutex
	rng   *rand.Rand
	order []int
	next  int
}

var _ train.Dataset = (*Loader)(nil)

func NewLoader(ds *Dataset, cfg LoaderConfig) *Loader {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	l := &Loader{ds: ds, cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
	l.Reset()
	return l
}

// Name implements train.Dataset.
func (l *Loader) Name() string { return "rlds" }

// Reset implements train.Dataset. With shuffling on, every epoch draws a new
// permutation from the seeded generator.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.ds.Len()
	if l.cfg.Shuffle {
		l.order = l.rng.Perm(n)
	} else {
		l.order = make([]int, n)
		for i := range l.order {
			l.order[i] = i
		}
	}
	l.next = 0
}

// Yield implements train.Dataset.
func (l *Loader) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	b, err := l.Next(context.Background())
	if err != nil {
		return nil, nil, nil, err
	}
	inputs = []*tensors.Tensor{b.Tensors[KeyInputIDs], b.Tensors[KeyAttentionMask], b.Tensors[KeyPositionIDs]}
	return b, inputs, nil, nil
}

// Next returns the next batch, or io.EOF at the end of the epoch.
func (l *Loader) Next(ctx context.Context) (*Batch, error) {
	indices := l.claim()
	if indices == nil {
		return nil, io.EOF
	}

	examples := make([]Example, len(indices))
	p := pool.New().WithMaxGoroutines(l.cfg.Workers).WithContext(ctx).WithCancelOnError()
	for slot, idx := range indices {
		p.Go(func(ctx context.Context) error {
			ex, err := l.ds.GetContext(ctx, idx)
			if err != nil {
				return err
			}
			examples[slot] = ex
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	b, err := Collate(examples)
	if err != nil {
		return nil, fmt.Errorf("failed to collate batch: %w", err)
	}
	return b, nil
}

// claim reserves the indices of the next batch.
func (l *Loader) claim() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	remaining := len(l.order) - l.next
	if remaining <= 0 || (l.cfg.DropLast && remaining < l.cfg.BatchSize) {
		return nil
	}
	end := l.next + min(l.cfg.BatchSize, remaining)
	indices := l.order[l.next:end]
	l.next = end
	return indices
}
