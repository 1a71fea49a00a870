package tokenizer

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/armon/go-radix"
)

// Vocab is a greedy longest-prefix tokenizer over a flat vocabulary: at each
// position it emits the longest vocabulary entry that prefixes the remaining
// text. Runes with no entry map to the unknown id.
type Vocab struct {
	tree  *radix.Tree
	ids   map[string]int
	unkID int
	padID int
}

// LoadVocab reads one token per line; a token's id is its line number.
// Escapes \n, \t and \s (space) let whitespace tokens live in the file.
func LoadVocab(path string, specials []string, padToken string, padID int) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tokens []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		tokens = append(tokens, unescapeToken(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocab %s: %w", path, err)
	}
	return NewVocab(tokens, specials, padToken, padID)
}

// NewVocab builds a tokenizer from tokens ordered by id. Specials missing
// from tokens are appended.
func NewVocab(tokens []string, specials []string, padToken string, padID int) (*Vocab, error) {
	if len(tokens) == 0 {
		return nil, ErrNoVocab
	}
	v := &Vocab{tree: radix.New(), ids: make(map[string]int, len(tokens)+len(specials)), unkID: -1}
	for _, tok := range tokens {
		v.add(tok)
	}
	for _, tok := range specials {
		v.add(tok)
	}
	for _, unk := range []string{"[UNK]", "<unk>", "<|unk|>"} {
		if id, ok := v.ids[unk]; ok {
			v.unkID = id
			break
		}
	}
	v.padID = resolvePad(v, padToken, padID)
	return v, nil
}

func (v *Vocab) add(tok string) {
	if _, exists := v.ids[tok]; exists {
		return
	}
	id := len(v.ids)
	v.ids[tok] = id
	v.tree.Insert(tok, id)
}

func (v *Vocab) Encode(text string) ([]int, error) {
	ids := make([]int, 0, len(text)/2+1)
	for len(text) > 0 {
		prefix, val, ok := v.tree.LongestPrefix(text)
		if ok && prefix != "" {
			ids = append(ids, val.(int))
			text = text[len(prefix):]
			continue
		}
		_, size := utf8.DecodeRuneInString(text)
		if v.unkID < 0 {
			return nil, fmt.Errorf("%w: no token covers %q and the vocabulary has no unknown token", ErrUnsupported, text[:size])
		}
		ids = append(ids, v.unkID)
		text = text[size:]
	}
	return ids, nil
}

func (v *Vocab) TokenID(token string) (int, bool) {
	id, ok := v.ids[token]
	return id, ok
}

func (v *Vocab) PadTokenID() int { return v.padID }

// Size returns the number of entries.
func (v *Vocab) Size() int { return len(v.ids) }

func unescapeToken(s string) string {
	switch s {
	case `\n`:
		return "\n"
	case `\t`:
		return "\t"
	case `\s`:
		return " "
	}
	return s
}
