package tokenizer

import (
	"errors"
	"fmt"
	"strings"
)

// Tokenizer converts raw text to token ids. Encode never adds BOS/CLS style
// special tokens; chat markers already present in the text are encoded as
// single ids when they were registered as special tokens.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	TokenID(token string) (int, bool)
	PadTokenID() int
}

// Config holds basic tokenizer settings
type Config struct {
	Backend  string
	Path     string
	Encoding string
	PadToken string
	PadID    int

	// SpecialTokens are markers that must encode atomically, e.g. ChatML tags.
	SpecialTokens []string
}

var (
	// ErrUnsupported indicates the tokenizer could not be initialized
	ErrUnsupported = errors.New("unsupported tokenizer configuration")
	ErrNoVocab     = errors.New("tokenizer vocabulary is empty")
)

// New selects a tokenizer backend by name ("hf", "wordpiece", "tiktoken",
// "vocab").
func New(cfg Config) (Tokenizer, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Backend))
	switch name {
	case "hf", "huggingface", "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("%w: hf backend needs a tokenizer.json path", ErrUnsupported)
		}
		return NewHF(cfg.Path, cfg.SpecialTokens, cfg.PadToken, cfg.PadID)
	case "wordpiece", "bert":
		if cfg.Path == "" {
			return nil, fmt.Errorf("%w: wordpiece backend needs a vocab path", ErrUnsupported)
		}
		return NewSugarWordPiece(cfg.Path, cfg.PadToken, cfg.PadID)
	case "tiktoken":
		return NewTiktoken(cfg.Encoding, cfg.SpecialTokens, cfg.PadToken, cfg.PadID)
	case "vocab":
		if cfg.Path == "" {
			return nil, fmt.Errorf("%w: vocab backend needs a vocab path", ErrUnsupported)
		}
		return LoadVocab(cfg.Path, cfg.SpecialTokens, cfg.PadToken, cfg.PadID)
	default:
		return nil, fmt.Errorf("%w: backend %q", ErrUnsupported, cfg.Backend)
	}
}

// resolvePad returns the id of padToken when the tokenizer knows it, else
// fallback.
func resolvePad(t interface{ TokenID(string) (int, bool) }, padToken string, fallback int) int {
	if padToken != "" {
		if id, ok := t.TokenID(padToken); ok {
			return id
		}
	}
	return fallback
}
