package tokenizer

import (
	"fmt"
	"os"
	"path/filepath"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// Sugar wraps a sugarme/tokenizer pipeline.
type Sugar struct {
	t     *tk.Tokenizer
	padID int
}

// NewHF loads a Hugging Face tokenizer.json (or a directory holding one) and
// registers specials so chat markers encode atomically.
func NewHF(path string, specials []string, padToken string, padID int) (*Sugar, error) {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = filepath.Join(path, "tokenizer.json")
	}
	t, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer %s: %w", path, err)
	}
	if len(specials) > 0 {
		added := make([]tk.AddedToken, 0, len(specials))
		for _, s := range specials {
			added = append(added, tk.NewAddedToken(s, true))
		}
		t.AddSpecialTokens(added)
	}
	s := &Sugar{t: t}
	s.padID = resolvePad(s, padToken, padID)
	return s, nil
}

// NewSugarWordPiece loads vocab.txt (or a directory holding one) and builds a
// BERT WordPiece tokenizer.
func NewSugarWordPiece(vocabPath string, padToken string, padID int) (*Sugar, error) {
	if fi, err := os.Stat(vocabPath); err == nil && fi.IsDir() {
		vocabPath = filepath.Join(vocabPath, "vocab.txt")
	}
	if _, err := os.Stat(vocabPath); err != nil {
		return nil, fmt.Errorf("failed to open vocab %s: %w", vocabPath, err)
	}

	// Prefer initializing WordPiece from a vocab file to avoid nil-map panics
	wp, err := wordpiece.NewWordPieceFromFile(vocabPath, "[UNK]")
	if err != nil {
		wp = wordpiece.NewWordPieceBuilder().Files(vocabPath).Build()
	}

	t := tk.NewTokenizer(wp)
	t.WithNormalizer(normalizer.NewBertNormalizer(true, true, true, true))
	t.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())

	if padToken == "" {
		padToken = "[PAD]"
	}
	s := &Sugar{t: t}
	s.padID = resolvePad(s, padToken, padID)
	return s, nil
}

func (s *Sugar) Encode(text string) ([]int, error) {
	enc, err := s.t.Encode(tk.NewSingleEncodeInput(tk.NewInputSequence(text)), false)
	if err != nil {
		return nil, err
	}
	ids := enc.GetIds()
	out := make([]int, len(ids))
	copy(out, ids)
	return out, nil
}

func (s *Sugar) TokenID(token string) (int, bool) {
	return s.t.TokenToId(token)
}

func (s *Sugar) PadTokenID() int { return s.padID }
