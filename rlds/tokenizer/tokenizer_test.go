package tokenizer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var chatSpecials = []string{"<|im_start|>", "<|im_end|>", "<|vision_start|>", "<|vision_end|>", "<|image_pad|>"}

func TestVocabLongestPrefix(t *testing.T) {
	v, err := NewVocab([]string{"<pad>", "<unk>", "2", "+", "=", "2+", "hello", "hell", " "}, nil, "<pad>", 99)
	require.NoError(t, err)

	ids, err := v.Encode("2+2=")
	require.NoError(t, err)
	assert.Equal(t, []int{5, 2, 4}, ids)

	ids, err = v.Encode("hello hellx")
	require.NoError(t, err)
	assert.Equal(t, []int{6, 8, 7, 1}, ids)

	assert.Equal(t, 0, v.PadTokenID())
}

func TestVocabSpecialsAreAtomic(t *testing.T) {
	v, err := NewVocab([]string{"<unk>", "<", "|", "a"}, chatSpecials, "", 0)
	require.NoError(t, err)

	start, ok := v.TokenID("<|im_start|>")
	require.True(t, ok)

	ids, err := v.Encode("<|im_start|>a<|")
	require.NoError(t, err)
	assert.Equal(t, []int{start, 3, 1, 2}, ids)
}

func TestVocabWithoutUnknown(t *testing.T) {
	v, err := NewVocab([]string{"a"}, nil, "", 7)
	require.NoError(t, err)

	_, err = v.Encode("ab")
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, 7, v.PadTokenID())

	_, err = NewVocab(nil, nil, "", 0)
	assert.ErrorIs(t, err, ErrNoVocab)
}

func TestLoadVocab(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.txt")
	require.NoError(t, os.WriteFile(path, []byte("<pad>\n<unk>\n\\s\n\\n\nab\n"), 0o644))

	v, err := LoadVocab(path, nil, "<pad>", 0)
	require.NoError(t, err)
	assert.Equal(t, 5, v.Size())

	ids, err := v.Encode("ab ab\n")
	require.NoError(t, err)
	assert.Equal(t, []int{4, 2, 4, 3}, ids)

	_, err = LoadVocab(filepath.Join(t.TempDir(), "missing.txt"), nil, "", 0)
	assert.Error(t, err)
}

func TestTiktoken(t *testing.T) {
	tok, err := NewTiktoken("cl100k_base", chatSpecials, "<|endoftext|>", 0)
	require.NoError(t, err)

	assert.Equal(t, 100257, tok.PadTokenID())

	ids, err := tok.Encode("hello world")
	require.NoError(t, err)
	assert.Equal(t, []int{15339, 1917}, ids)

	imStart, ok := tok.TokenID("<|im_start|>")
	require.True(t, ok)
	imEnd, _ := tok.TokenID("<|im_end|>")
	assert.Equal(t, 100277, imStart)
	assert.Equal(t, 100278, imEnd)

	ids, err = tok.Encode("<|im_start|>hello world<|im_end|>")
	require.NoError(t, err)
	assert.Equal(t, []int{imStart, 15339, 1917, imEnd}, ids)
}

func TestNewSelectsBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.txt")
	require.NoError(t, os.WriteFile(path, []byte("<unk>\nx\n"), 0o644))

	tok, err := New(Config{Backend: "vocab", Path: path})
	require.NoError(t, err)
	assert.IsType(t, &Vocab{}, tok)

	tok, err = New(Config{Backend: "tiktoken"})
	require.NoError(t, err)
	assert.IsType(t, &Tiktoken{}, tok)

	_, err = New(Config{Backend: "sentencepiece"})
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = New(Config{Backend: "hf"})
	assert.ErrorIs(t, err, ErrUnsupported)
}
