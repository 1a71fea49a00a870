// Package sequence pads, truncates and indexes token sequences so every
// example leaves the transformer with the same fixed length.
package sequence

import (
	"errors"
	"fmt"
)

// Truncation decides what happens to a sequence longer than the budget.
type Truncation string

const (
	TruncateLeft  Truncation = "left"
	TruncateRight Truncation = "right"
	TruncateError Truncation = "error"
)

var (
	ErrPromptTooLong     = errors.New("prompt is longer than the maximum length")
	ErrUnknownTruncation = errors.New("unknown truncation policy")
	ErrLengthMismatch    = errors.New("sequence lengths differ")
)

// ParseTruncation validates a configured truncation policy.
func ParseTruncation(s string) (Truncation, error) {
	switch t := Truncation(s); t {
	case TruncateLeft, TruncateRight, TruncateError:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTruncation, s)
	}
}

// Positions holds position ids as rows: one row for causal indexing, three
// rows (temporal, height, width) for multimodal rotary indexing. Every row
// has the same length.
type Positions [][]int

// Axes returns the number of rows.
func (p Positions) Axes() int { return len(p) }

// Len returns the length of each row.
func (p Positions) Len() int {
	if len(p) == 0 {
		return 0
	}
	return len(p[0])
}

// Clone returns a deep copy.
func (p Positions) Clone() Positions {
	out := make(Positions, len(p))
	for i, row := range p {
		out[i] = append([]int(nil), row...)
	}
	return out
}

// Flat returns the rows concatenated in row-major order.
func (p Positions) Flat() []int {
	out := make([]int, 0, p.Axes()*p.Len())
	for _, row := range p {
		out = append(out, row...)
	}
	return out
}

// CausalPositions derives clip(cumsum(mask) - 1, 0) as a single row.
func CausalPositions(mask []int) Positions {
	row := make([]int, len(mask))
	sum := 0
	for i, m := range mask {
		sum += m
		row[i] = max(sum-1, 0)
	}
	return Positions{row}
}

// Pad returns seq extended to length with value. Left padding inserts the
// values before the existing content. Sequences already at or above length
// are returned unchanged.
func Pad(seq []int, length, value int, leftPad bool) []int {
	if len(seq) >= length {
		return seq
	}
	out := make([]int, length)
	n := length - len(seq)
	if leftPad {
		for i := 0; i < n; i++ {
			out[i] = value
		}
		copy(out[n:], seq)
		return out
	}
	copy(out, seq)
	for i := len(seq); i < length; i++ {
		out[i] = value
	}
	return out
}

// Truncate cuts seq down to maxLen according to policy. A sequence that fits
// is returned unchanged.
func Truncate(seq []int, maxLen int, policy Truncation) ([]int, error) {
	if len(seq) <= maxLen {
		return seq, nil
	}
	switch policy {
	case TruncateLeft:
		return seq[len(seq)-maxLen:], nil
	case TruncateRight:
		return seq[:maxLen], nil
	case TruncateError:
		return nil, fmt.Errorf("%w: prompt length %d is longer than %d", ErrPromptTooLong, len(seq), maxLen)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTruncation, policy)
	}
}

// PostProcess brings input ids, attention mask and position ids to exactly
// maxLen. Shorter sequences are padded (ids with padID, mask and positions
// with 0); longer ones are truncated per policy. Positions keep their number
// of rows.
func PostProcess(inputIDs, attentionMask []int, positions Positions, maxLen, padID int, leftPad bool, policy Truncation) ([]int, []int, Positions, error) {
	n := len(inputIDs)
	if len(attentionMask) != n || positions.Len() != n {
		return nil, nil, nil, fmt.Errorf("%w: input_ids=%d attention_mask=%d position_ids=%d",
			ErrLengthMismatch, n, len(attentionMask), positions.Len())
	}

	switch {
	case n < maxLen:
		ids := Pad(inputIDs, maxLen, padID, leftPad)
		mask := Pad(attentionMask, maxLen, 0, leftPad)
		pos := make(Positions, len(positions))
		for i, row := range positions {
			pos[i] = Pad(row, maxLen, 0, leftPad)
		}
		return ids, mask, pos, nil
	case n > maxLen:
		if policy == TruncateError {
			return nil, nil, nil, fmt.Errorf("%w: sequence length %d is larger than %d", ErrPromptTooLong, n, maxLen)
		}
		ids, err := Truncate(inputIDs, maxLen, policy)
		if err != nil {
			return nil, nil, nil, err
		}
		mask, _ := Truncate(attentionMask, maxLen, policy)
		pos := make(Positions, len(positions))
		for i, row := range positions {
			pos[i], _ = Truncate(row, maxLen, policy)
		}
		return ids, mask, pos, nil
	default:
		return inputIDs, attentionMask, positions, nil
	}
}
