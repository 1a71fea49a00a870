package tokenizer

import (
	"fmt"
	"sync"

	"github.com/armon/go-radix"
	"github.com/pkoukk/tiktoken-go"
	tiktokenloader "github.com/pkoukk/tiktoken-go-loader"
)

const defaultEncoding = "cl100k_base"

// vocabulary sizes including the encoding's own specials; extra specials are
// numbered from here.
var encodingSizes = map[string]int{
	"cl100k_base": 100277,
	"o200k_base":  200019,
	"p50k_base":   50281,
	"p50k_edit":   50284,
	"r50k_base":   50257,
}

var loaderOnce sync.Once

// Tiktoken wraps a BPE encoding from tiktoken-go. Specials unknown to the
// encoding get ids past the end of its vocabulary in registration order.
type Tiktoken struct {
	enc      *tiktoken.Tiktoken
	specials *radix.Tree
	ids      map[string]int
	padID    int
}

// NewTiktoken loads encoding from the embedded offline BPE files.
func NewTiktoken(encoding string, specials []string, padToken string, padID int) (*Tiktoken, error) {
	if encoding == "" {
		encoding = defaultEncoding
	}
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktokenloader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding %s: %w", encoding, err)
	}

	t := &Tiktoken{enc: enc, specials: radix.New(), ids: make(map[string]int)}
	next := encodingSizes[encoding]
	register := append([]string{padToken}, specials...)
	for _, s := range register {
		if s == "" {
			continue
		}
		if _, seen := t.ids[s]; seen {
			continue
		}
		if native := enc.Encode(s, []string{"all"}, nil); len(native) == 1 && len(enc.Encode(s, nil, nil)) > 1 {
			t.ids[s] = native[0]
		} else {
			t.ids[s] = next
			next++
		}
		t.specials.Insert(s, t.ids[s])
	}
	t.padID = resolvePad(t, padToken, padID)
	return t, nil
}

func (t *Tiktoken) Encode(text string) ([]int, error) {
	var ids []int
	start := 0
	for i := 0; i < len(text); {
		if prefix, val, ok := t.specials.LongestPrefix(text[i:]); ok && prefix != "" {
			if start < i {
				ids = append(ids, t.enc.Encode(text[start:i], nil, nil)...)
			}
			ids = append(ids, val.(int))
			i += len(prefix)
			start = i
			continue
		}
		i++
	}
	if start < len(text) {
		ids = append(ids, t.enc.Encode(text[start:], nil, nil)...)
	}
	return ids, nil
}

func (t *Tiktoken) TokenID(token string) (int, bool) {
	id, ok := t.ids[token]
	return id, ok
}

func (t *Tiktoken) PadTokenID() int { return t.padID }
