package chat

import (
	"strings"

	internal "github.com/ZanzyTHEbar/rlhf-datasets/rlds"
)

// RoleUser is the only role the message builder emits.
const RoleUser = "user"

// ContentPart represents one typed piece of a multimodal message.
type ContentPart interface {
	// ContentType returns the type identifier for this content part.
	ContentType() string
}

// TextPart holds text content.
type TextPart struct {
	Text string `json:"text"`
}

// ContentType returns the type identifier for TextPart.
func (TextPart) ContentType() string { return "text" }

// ImagePart marks the position of one image. The image itself travels
// separately, in record order.
type ImagePart struct{}

// ContentType returns the type identifier for ImagePart.
func (ImagePart) ContentType() string { return "image" }

// Message is one chat turn. Content is either a string or a []ContentPart.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// Text returns the content when it is a plain string.
func (m Message) Text() (string, bool) {
	s, ok := m.Content.(string)
	return s, ok
}

// Parts returns the content when it is a part list.
func (m Message) Parts() ([]ContentPart, bool) {
	p, ok := m.Content.([]ContentPart)
	return p, ok
}

// BuildMessages turns a raw prompt into the chat message list. The optional
// template is applied first. When the record carries images the prompt is
// split on the image placeholder and every placeholder becomes an ImagePart,
// with non-empty text segments kept between them.
func BuildMessages(prompt string, tmpl *FormatPrompt, hasImages bool) ([]Message, error) {
	if tmpl != nil {
		rendered, err := tmpl.Render(prompt)
		if err != nil {
			return nil, err
		}
		prompt = rendered
	}

	if !hasImages {
		return []Message{{Role: RoleUser, Content: prompt}}, nil
	}

	segments := strings.Split(prompt, internal.ImagePlaceholder)
	parts := make([]ContentPart, 0, 2*len(segments))
	for i, segment := range segments {
		if i != 0 {
			parts = append(parts, ImagePart{})
		}
		if segment != "" {
			parts = append(parts, TextPart{Text: segment})
		}
	}
	return []Message{{Role: RoleUser, Content: parts}}, nil
}

// CountImages returns the number of ImagePart entries across messages.
func CountImages(messages []Message) int {
	n := 0
	for _, m := range messages {
		parts, ok := m.Parts()
		if !ok {
			continue
		}
		for _, p := range parts {
			if _, isImage := p.(ImagePart); isImage {
				n++
			}
		}
	}
	return n
}
