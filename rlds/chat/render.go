package chat

import (
	"errors"
	"fmt"
	"strings"
)

// ChatML markers used by Qwen2-VL style models.
const (
	IMStart     = "<|im_start|>"
	IMEnd       = "<|im_end|>"
	VisionStart = "<|vision_start|>"
	VisionEnd   = "<|vision_end|>"
	ImagePad    = "<|image_pad|>"
)

var ErrUnsupportedContent = errors.New("unsupported message content")

// Renderer converts structured messages into the exact prompt string a model
// was trained on.
type Renderer interface {
	Render(messages []Message, addGenerationPrompt bool) (string, error)
}

// ChatMLRenderer renders messages in the ChatML layout. When SystemPrompt is
// set and the conversation has no system turn, a system turn is prepended.
type ChatMLRenderer struct {
	SystemPrompt string
}

// NewChatMLRenderer returns a renderer with the given default system prompt.
func NewChatMLRenderer(systemPrompt string) *ChatMLRenderer {
	return &ChatMLRenderer{SystemPrompt: systemPrompt}
}

// SpecialTokens lists the markers the renderer may emit. Tokenizers register
// them so each encodes to a single id.
func (r *ChatMLRenderer) SpecialTokens() []string {
	return []string{IMStart, IMEnd, VisionStart, VisionEnd, ImagePad}
}

func (r *ChatMLRenderer) Render(messages []Message, addGenerationPrompt bool) (string, error) {
	var sb strings.Builder

	if r.SystemPrompt != "" && (len(messages) == 0 || messages[0].Role != "system") {
		writeTurn(&sb, "system", r.SystemPrompt)
	}

	for i, m := range messages {
		switch content := m.Content.(type) {
		case string:
			writeTurn(&sb, m.Role, content)
		case []ContentPart:
			var body strings.Builder
			for _, part := range content {
				switch p := part.(type) {
				case TextPart:
					body.WriteString(p.Text)
				case ImagePart:
					body.WriteString(VisionStart + ImagePad + VisionEnd)
				default:
					return "", fmt.Errorf("%w: message %d part %q", ErrUnsupportedContent, i, part.ContentType())
				}
			}
			writeTurn(&sb, m.Role, body.String())
		default:
			return "", fmt.Errorf("%w: message %d has %T", ErrUnsupportedContent, i, m.Content)
		}
	}

	if addGenerationPrompt {
		sb.WriteString(IMStart + "assistant\n")
	}
	return sb.String(), nil
}

func writeTurn(sb *strings.Builder, role, content string) {
	sb.WriteString(IMStart)
	sb.WriteString(role)
	sb.WriteString("\n")
	sb.WriteString(content)
	sb.WriteString(IMEnd)
	sb.WriteString("\n")
}
