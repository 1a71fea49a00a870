package dataset

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/sequence"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

var ErrShapeMismatch = errors.New("batch fields have mismatched shapes")

// objectFields are kept per example even though they hold arrays: their
// lengths vary between examples.
var objectFields = map[string]bool{
	KeyRawPromptIDs: true,
}

// Batch holds collated examples. Array fields are stacked into tensors with
// a leading batch axis; every other field keeps one value per example.
type Batch struct {
	Size    int
	Tensors map[string]*tensors.Tensor
	Objects map[string][]any
}

// Collate groups examples by field. Integer arrays become int64 tensors,
// float arrays keep their precision, and position ids of shape (axes, n)
// become (batch, axes, n), or (batch, n) for a single axis. raw_prompt_ids
// is never stacked.
func Collate(examples []Example) (*Batch, error) {
	b := &Batch{
		Size:    len(examples),
		Tensors: make(map[string]*tensors.Tensor),
		Objects: make(map[string][]any),
	}
	if len(examples) == 0 {
		return b, nil
	}

	keys := make([]string, 0, len(examples[0]))
	for k := range examples[0] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, ex := range examples[1:] {
		if len(ex) != len(keys) {
			return nil, fmt.Errorf("%w: example %d has %d fields, example 0 has %d", ErrShapeMismatch, i+1, len(ex), len(keys))
		}
	}

	for _, key := range keys {
		values := make([]any, len(examples))
		for i, ex := range examples {
			v, ok := ex[key]
			if !ok {
				return nil, fmt.Errorf("%w: example %d lacks %q", ErrShapeMismatch, i, key)
			}
			values[i] = v
		}
		if objectFields[key] {
			b.Objects[key] = values
			continue
		}

		t, isArray, err := stack(values)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		if isArray {
			b.Tensors[key] = t
		} else {
			b.Objects[key] = values
		}
	}
	return b, nil
}

func stack(values []any) (*tensors.Tensor, bool, error) {
	switch values[0].(type) {
	case []int:
		flat, dims, err := stackInts(values)
		if err != nil {
			return nil, true, err
		}
		return tensors.FromFlatDataAndDimensions(flat, dims...), true, nil
	case sequence.Positions:
		flat, dims, err := stackPositions(values)
		if err != nil {
			return nil, true, err
		}
		return tensors.FromFlatDataAndDimensions(flat, dims...), true, nil
	case []float32:
		flat, dims, err := stackFlat[float32](values)
		if err != nil {
			return nil, true, err
		}
		return tensors.FromFlatDataAndDimensions(flat, dims...), true, nil
	case []float64:
		flat, dims, err := stackFlat[float64](values)
		if err != nil {
			return nil, true, err
		}
		return tensors.FromFlatDataAndDimensions(flat, dims...), true, nil
	case []int64:
		flat, dims, err := stackFlat[int64](values)
		if err != nil {
			return nil, true, err
		}
		return tensors.FromFlatDataAndDimensions(flat, dims...), true, nil
	default:
		return nil, false, nil
	}
}

func stackInts(values []any) ([]int64, []int, error) {
	n := -1
	var flat []int64
	for i, v := range values {
		row, ok := v.([]int)
		if !ok {
			return nil, nil, fmt.Errorf("%w: example %d holds %T", ErrShapeMismatch, i, v)
		}
		if n < 0 {
			n = len(row)
			flat = make([]int64, 0, n*len(values))
		} else if len(row) != n {
			return nil, nil, fmt.Errorf("%w: example %d has length %d, want %d", ErrShapeMismatch, i, len(row), n)
		}
		for _, x := range row {
			flat = append(flat, int64(x))
		}
	}
	return flat, []int{len(values), n}, nil
}

func stackFlat[T float32 | float64 | int64](values []any) ([]T, []int, error) {
	n := -1
	var flat []T
	for i, v := range values {
		row, ok := v.([]T)
		if !ok {
			return nil, nil, fmt.Errorf("%w: example %d holds %T", ErrShapeMismatch, i, v)
		}
		if n < 0 {
			n = len(row)
			flat = make([]T, 0, n*len(values))
		} else if len(row) != n {
			return nil, nil, fmt.Errorf("%w: example %d has length %d, want %d", ErrShapeMismatch, i, len(row), n)
		}
		flat = append(flat, row...)
	}
	return flat, []int{len(values), n}, nil
}

func stackPositions(values []any) ([]int64, []int, error) {
	axes, n := -1, -1
	var flat []int64
	for i, v := range values {
		pos, ok := v.(sequence.Positions)
		if !ok {
			return nil, nil, fmt.Errorf("%w: example %d holds %T", ErrShapeMismatch, i, v)
		}
		if axes < 0 {
			axes, n = pos.Axes(), pos.Len()
			flat = make([]int64, 0, axes*n*len(values))
		} else if pos.Axes() != axes || pos.Len() != n {
			return nil, nil, fmt.Errorf("%w: example %d has shape %dx%d, want %dx%d", ErrShapeMismatch, i, pos.Axes(), pos.Len(), axes, n)
		}
		for _, x := range pos.Flat() {
			flat = append(flat, int64(x))
		}
	}
	if axes == 1 {
		return flat, []int{len(values), n}, nil
	}
	return flat, []int{len(values), axes, n}, nil
}
