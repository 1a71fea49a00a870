package chat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessagesTextOnly(t *testing.T) {
	prompts := []string{"2+2=", "", "no <image> marker handling here", "  spaced  "}

	for _, prompt := range prompts {
		msgs, err := BuildMessages(prompt, nil, false)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, RoleUser, msgs[0].Role)

		text, ok := msgs[0].Text()
		require.True(t, ok, "content should be a plain string")
		assert.Equal(t, prompt, text)
	}
}

func TestBuildMessagesWithImages(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		want   []ContentPart
	}{
		{
			name:   "LeadingMarker",
			prompt: "<image>describe",
			want:   []ContentPart{ImagePart{}, TextPart{Text: "describe"}},
		},
		{
			name:   "NoMarker",
			prompt: "describe",
			want:   []ContentPart{TextPart{Text: "describe"}},
		},
		{
			name:   "Interleaved",
			prompt: "compare <image> with <image>.",
			want: []ContentPart{
				TextPart{Text: "compare "},
				ImagePart{},
				TextPart{Text: " with "},
				ImagePart{},
				TextPart{Text: "."},
			},
		},
		{
			name:   "AdjacentMarkers",
			prompt: "<image><image>",
			want:   []ContentPart{ImagePart{}, ImagePart{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := BuildMessages(tt.prompt, nil, true)
			require.NoError(t, err)
			require.Len(t, msgs, 1)

			parts, ok := msgs[0].Parts()
			require.True(t, ok)
			assert.Equal(t, tt.want, parts)
			assert.Equal(t, strings.Count(tt.prompt, "<image>"), CountImages(msgs))
		})
	}
}

func TestBuildMessagesAppliesTemplate(t *testing.T) {
	tmpl, err := ParseFormatPrompt("\n{{ content }} Put the final answer in \\boxed{}.\n")
	require.NoError(t, err)

	msgs, err := BuildMessages("2+2=", tmpl, false)
	require.NoError(t, err)
	text, _ := msgs[0].Text()
	assert.Equal(t, "2+2= Put the final answer in \\boxed{}.", text)

	msgs, err = BuildMessages("<image>Find x.", tmpl, true)
	require.NoError(t, err)
	parts, _ := msgs[0].Parts()
	assert.Equal(t, []ContentPart{
		ImagePart{},
		TextPart{Text: "Find x. Put the final answer in \\boxed{}."},
	}, parts)
}

func TestLoadFormatPrompt(t *testing.T) {
	tmpl, err := LoadFormatPrompt("")
	require.NoError(t, err)
	assert.Nil(t, tmpl)

	path := filepath.Join(t.TempDir(), "format.jinja")
	require.NoError(t, os.WriteFile(path, []byte("Q: {{content}}\n"), 0o644))

	tmpl, err = LoadFormatPrompt(path)
	require.NoError(t, err)
	out, err := tmpl.Render("why?")
	require.NoError(t, err)
	assert.Equal(t, "Q: why?", out)

	_, err = LoadFormatPrompt(filepath.Join(t.TempDir(), "missing.jinja"))
	assert.Error(t, err)

	_, err = ParseFormatPrompt("{{ content ")
	assert.ErrorIs(t, err, ErrTemplate)
}

func TestFormatPromptJinjaFilters(t *testing.T) {
	tmpl, err := ParseFormatPrompt("{{ content | trim }} You FIRST think about the reasoning process.")
	require.NoError(t, err)
	out, err := tmpl.Render("  2+2=\n")
	require.NoError(t, err)
	assert.Equal(t, "2+2= You FIRST think about the reasoning process.", out)

	tmpl, err = ParseFormatPrompt("{% if content %}{{ content | upper }}{% else %}empty{% endif %}")
	require.NoError(t, err)
	out, err = tmpl.Render("abc")
	require.NoError(t, err)
	assert.Equal(t, "ABC", out)
	out, err = tmpl.Render("")
	require.NoError(t, err)
	assert.Equal(t, "empty", out)
}

func TestChatMLRenderer(t *testing.T) {
	r := NewChatMLRenderer("You are a helpful assistant.")

	msgs, err := BuildMessages("<image>describe", nil, true)
	require.NoError(t, err)

	out, err := r.Render(msgs, true)
	require.NoError(t, err)
	assert.Equal(t,
		"<|im_start|>system\nYou are a helpful assistant.<|im_end|>\n"+
			"<|im_start|>user\n<|vision_start|><|image_pad|><|vision_end|>describe<|im_end|>\n"+
			"<|im_start|>assistant\n",
		out)

	bare := NewChatMLRenderer("")
	out, err = bare.Render([]Message{{Role: RoleUser, Content: "hi"}}, false)
	require.NoError(t, err)
	assert.Equal(t, "<|im_start|>user\nhi<|im_end|>\n", out)

	_, err = bare.Render([]Message{{Role: RoleUser, Content: 42}}, false)
	assert.ErrorIs(t, err, ErrUnsupportedContent)
}
