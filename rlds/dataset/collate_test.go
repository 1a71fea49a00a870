package dataset

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/sequence"
	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollateStacksArrays(t *testing.T) {
	examples := []Example{
		{KeyInputIDs: []int{0, 1, 2}, KeyPositionIDs: sequence.Positions{{0, 0, 1}}, KeyGroundTruth: "a", "score": []float32{0.5}},
		{KeyInputIDs: []int{3, 4, 5}, KeyPositionIDs: sequence.Positions{{0, 1, 2}}, KeyGroundTruth: "b", "score": []float32{1.5}},
	}
	b, err := Collate(examples)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Size)

	ids := b.Tensors[KeyInputIDs]
	require.NotNil(t, ids)
	assert.Equal(t, []int{2, 3}, ids.Shape().Dimensions)
	assert.Equal(t, [][]int64{{0, 1, 2}, {3, 4, 5}}, ids.Value())

	pos := b.Tensors[KeyPositionIDs]
	assert.Equal(t, []int{2, 3}, pos.Shape().Dimensions)

	assert.Equal(t, [][]float32{{0.5}, {1.5}}, b.Tensors["score"].Value())
	assert.Equal(t, []any{"a", "b"}, b.Objects[KeyGroundTruth])
	assert.NotContains(t, b.Objects, KeyInputIDs)
}

func TestCollateKeepsRawPromptIDsPerExample(t *testing.T) {
	examples := []Example{
		{KeyInputIDs: []int{0, 1, 2}, KeyRawPromptIDs: []int{1, 2}},
		{KeyInputIDs: []int{3, 4, 5}, KeyRawPromptIDs: []int{3, 4, 5}},
	}
	b, err := Collate(examples)
	require.NoError(t, err)
	assert.Equal(t, []any{[]int{1, 2}, []int{3, 4, 5}}, b.Objects[KeyRawPromptIDs])
	assert.NotContains(t, b.Tensors, KeyRawPromptIDs)
	assert.Contains(t, b.Tensors, KeyInputIDs)
}

func TestCollateRotaryPositions(t *testing.T) {
	p := sequence.Positions{{0, 1}, {0, 1}, {0, 1}}
	b, err := Collate([]Example{{KeyPositionIDs: p}, {KeyPositionIDs: p.Clone()}})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 2}, b.Tensors[KeyPositionIDs].Shape().Dimensions)
}

func TestCollateObjectsKeepOrder(t *testing.T) {
	mm := map[string]any{"image": []any{"a.png"}}
	b, err := Collate([]Example{{KeyMultiModalData: mm, "location": nil}, {KeyMultiModalData: nil, "location": []any{1.0}}})
	require.NoError(t, err)
	assert.Equal(t, []any{mm, nil}, b.Objects[KeyMultiModalData])
	assert.Equal(t, []any{nil, []any{1.0}}, b.Objects["location"])
	assert.Empty(t, b.Tensors)
}

func TestCollateShapeMismatch(t *testing.T) {
	tests := map[string][]Example{
		"length":      {{KeyInputIDs: []int{1, 2}}, {KeyInputIDs: []int{1}}},
		"axes":        {{KeyPositionIDs: sequence.Positions{{0}}}, {KeyPositionIDs: sequence.Positions{{0}, {0}, {0}}}},
		"type":        {{KeyInputIDs: []int{1}}, {KeyInputIDs: "x"}},
		"missing key": {{KeyInputIDs: []int{1}, "a": 1}, {KeyInputIDs: []int{1}, "b": 1}},
		"extra key":   {{KeyInputIDs: []int{1}}, {KeyInputIDs: []int{1}, "b": 1}},
	}
	for name, examples := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Collate(examples)
			assert.ErrorIs(t, err, ErrShapeMismatch)
		})
	}
}

func TestCollateEmpty(t *testing.T) {
	b, err := Collate(nil)
	require.NoError(t, err)
	assert.Zero(t, b.Size)
}

func loaderDataset(t *testing.T, n int) *Dataset {
	t.Helper()
	records := make([]source.Record, n)
	for i := range records {
		records[i] = source.Record{"prompt": "2+2=", "answer": fmt.Sprint(i)}
	}
	return newDataset(t, records, baseConfig(8, sequence.TruncateError))
}

func epochAnswers(t *testing.T, l *Loader) ([]int, []any) {
	t.Helper()
	var sizes []int
	var answers []any
	for {
		b, err := l.Next(context.Background())
		if err == io.EOF {
			return sizes, answers
		}
		require.NoError(t, err)
		sizes = append(sizes, b.Size)
		answers = append(answers, b.Objects[KeyGroundTruth]...)
	}
}

func TestLoaderBatches(t *testing.T) {
	l := NewLoader(loaderDataset(t, 5), LoaderConfig{BatchSize: 2, Workers: 3})
	sizes, answers := epochAnswers(t, l)
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []any{"0", "1", "2", "3", "4"}, answers)

	l.Reset()
	sizes, _ = epochAnswers(t, l)
	assert.Equal(t, []int{2, 2, 1}, sizes)
}

func TestLoaderMixedPromptLengths(t *testing.T) {
	records := []source.Record{
		{"prompt": "2+2=", "answer": "4"},
		{"prompt": "2+2", "answer": "4"},
		{"prompt": "2", "answer": "2"},
	}
	ds := newDataset(t, records, baseConfig(8, sequence.TruncateError))
	l := NewLoader(ds, LoaderConfig{BatchSize: 3})

	b, err := l.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{3, 8}, b.Tensors[KeyInputIDs].Shape().Dimensions)
	assert.Equal(t, []any{[]int{1, 2, 1, 3}, []int{1, 2, 1}, []int{1}}, b.Objects[KeyRawPromptIDs])
}

func TestLoaderDropLast(t *testing.T) {
	l := NewLoader(loaderDataset(t, 5), LoaderConfig{BatchSize: 2, DropLast: true})
	sizes, _ := epochAnswers(t, l)
	assert.Equal(t, []int{2, 2}, sizes)
}

func TestLoaderShuffleIsSeeded(t *testing.T) {
	ds := loaderDataset(t, 8)
	_, a := epochAnswers(t, NewLoader(ds, LoaderConfig{BatchSize: 3, Shuffle: true, Seed: 7}))
	_, b := epochAnswers(t, NewLoader(ds, LoaderConfig{BatchSize: 3, Shuffle: true, Seed: 7}))
	assert.Equal(t, a, b)
	assert.ElementsMatch(t, []any{"0", "1", "2", "3", "4", "5", "6", "7"}, a)
}

func TestLoaderYield(t *testing.T) {
	l := NewLoader(loaderDataset(t, 3), LoaderConfig{BatchSize: 2})
	assert.Equal(t, "rlds", l.Name())

	spec, inputs, labels, err := l.Yield()
	require.NoError(t, err)
	require.Len(t, inputs, 3)
	assert.Nil(t, labels)
	assert.Equal(t, []int{2, 8}, inputs[0].Shape().Dimensions)
	assert.Equal(t, []int{2, 8}, inputs[1].Shape().Dimensions)
	assert.Equal(t, []int{2, 8}, inputs[2].Shape().Dimensions)
	batch, ok := spec.(*Batch)
	require.True(t, ok)
	assert.Equal(t, 2, batch.Size)

	_, _, _, err = l.Yield()
	require.NoError(t, err)
	_, _, _, err = l.Yield()
	assert.ErrorIs(t, err, io.EOF)
}

func TestLoaderPropagatesErrors(t *testing.T) {
	ds := newDataset(t, []source.Record{{"prompt": "2+2="}}, baseConfig(8, sequence.TruncateError))
	l := NewLoader(ds, LoaderConfig{BatchSize: 1})
	_, err := l.Next(context.Background())
	assert.ErrorIs(t, err, source.ErrMissingField)
}
