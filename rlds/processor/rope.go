package processor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/chat"
	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/sequence"
)

var (
	ErrUnknownPositionIDs = errors.New("unknown position id strategy")
	ErrGridMismatch       = errors.New("image grids do not match image tokens")
	ErrMissingVisionToken = errors.New("tokenizer lacks vision marker tokens")
)

// PositionIDStrategy selects how position ids are derived.
type PositionIDStrategy int

const (
	// Standard uses clip(cumsum(mask)-1, 0) as a single row.
	Standard PositionIDStrategy = iota
	// MultimodalRotary uses three-axis rotary indices (temporal, height,
	// width) as Qwen2-VL does.
	MultimodalRotary
)

func (s PositionIDStrategy) String() string {
	switch s {
	case Standard:
		return "standard"
	case MultimodalRotary:
		return "mrope"
	default:
		return fmt.Sprintf("PositionIDStrategy(%d)", int(s))
	}
}

// ParsePositionIDStrategy accepts "standard" (or empty) and "mrope".
func ParsePositionIDStrategy(s string) (PositionIDStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard":
		return Standard, nil
	case "mrope", "multimodal_rotary":
		return MultimodalRotary, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPositionIDs, s)
	}
}

// Positions computes position ids for ids under strategy s.
func (p *Processor) Positions(s PositionIDStrategy, ids []int, grids []Grid, mask []int) (sequence.Positions, error) {
	switch s {
	case Standard:
		return sequence.CausalPositions(mask), nil
	case MultimodalRotary:
		return p.RopeIndex(ids, grids, mask)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownPositionIDs, s)
	}
}

// RopeIndex returns 3×len(ids) rotary position ids. Text tokens advance all
// three axes together; the tokens of an image take their temporal, row and
// column coordinate in the merged grid, offset past the preceding text.
// Masked positions hold 1. Without grids the causal rule is repeated on all
// three axes.
func (p *Processor) RopeIndex(ids []int, grids []Grid, mask []int) (sequence.Positions, error) {
	n := len(ids)
	if mask == nil {
		mask = ones(n)
	}
	if len(mask) != n {
		return nil, fmt.Errorf("%w: input_ids=%d attention_mask=%d", sequence.ErrLengthMismatch, n, len(mask))
	}

	pos := make(sequence.Positions, 3)
	for a := range pos {
		pos[a] = ones(n)
	}

	if len(grids) == 0 {
		cum := 0
		for i, m := range mask {
			cum += m
			if m == 0 {
				continue
			}
			for a := range pos {
				pos[a][i] = cum - 1
			}
		}
		return pos, nil
	}

	visionStart, ok1 := p.tok.TokenID(chat.VisionStart)
	imagePad, ok2 := p.tok.TokenID(chat.ImagePad)
	if !ok1 || !ok2 {
		return nil, ErrMissingVisionToken
	}

	kept := make([]int, 0, n)
	tokens := make([]int, 0, n)
	for i, m := range mask {
		if m == 1 {
			kept = append(kept, i)
			tokens = append(tokens, ids[i])
		}
	}

	images := 0
	for j := 0; j+1 < len(tokens); j++ {
		if tokens[j] == visionStart && tokens[j+1] == imagePad {
			images++
		}
	}
	if images > len(grids) {
		return nil, fmt.Errorf("%w: %d images, %d grids", ErrGridMismatch, images, len(grids))
	}

	var rows [3][]int
	appendText := func(start, length int) {
		for i := 0; i < length; i++ {
			for a := range rows {
				rows[a] = append(rows[a], start+i)
			}
		}
	}

	st, next := 0, 0
	merge := p.cfg.MergeSize
	for k := 0; k < images; k++ {
		ed := indexFrom(tokens, imagePad, st)
		if ed < 0 {
			return nil, fmt.Errorf("%w: image %d has no pad token", ErrGridMismatch, k)
		}
		t, h, w := grids[k][0], grids[k][1]/merge, grids[k][2]/merge
		if t <= 0 || h <= 0 || w <= 0 {
			return nil, fmt.Errorf("%w: grid %v", ErrGridMismatch, grids[k])
		}

		textLen := ed - st
		appendText(next, textLen)
		base := next + textLen
		for ti := 0; ti < t; ti++ {
			for hi := 0; hi < h; hi++ {
				for wi := 0; wi < w; wi++ {
					rows[0] = append(rows[0], base+ti)
					rows[1] = append(rows[1], base+hi)
					rows[2] = append(rows[2], base+wi)
				}
			}
		}
		next = base + max(t, h, w)
		st = ed + t*h*w
	}
	if st < len(tokens) {
		appendText(next, len(tokens)-st)
	}

	if len(rows[0]) != len(kept) {
		return nil, fmt.Errorf("%w: %d positions for %d tokens", ErrGridMismatch, len(rows[0]), len(kept))
	}
	for j, i := range kept {
		for a := range pos {
			pos[a][i] = rows[a][j]
		}
	}
	return pos, nil
}

func indexFrom(s []int, v, from int) int {
	for i := from; i < len(s); i++ {
		if s[i] == v {
			return i
		}
	}
	return -1
}
