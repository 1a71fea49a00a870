package chat

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/nikolalohinski/gonja/v2"
	"github.com/nikolalohinski/gonja/v2/exec"
)

var ErrTemplate = errors.New("invalid format prompt")

// FormatPrompt is a Jinja prompt template that receives the raw prompt as
// the content variable.
type FormatPrompt struct {
	tmpl *exec.Template
}

// ParseFormatPrompt compiles src. Surrounding whitespace is trimmed before
// parsing.
func ParseFormatPrompt(src string) (*FormatPrompt, error) {
	tmpl, err := gonja.FromString(strings.TrimSpace(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplate, err)
	}
	return &FormatPrompt{tmpl: tmpl}, nil
}

// LoadFormatPrompt reads and compiles a template file. An empty path yields
// a nil template.
func LoadFormatPrompt(path string) (*FormatPrompt, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read format prompt %s: %w", path, err)
	}
	return ParseFormatPrompt(string(data))
}

// Render substitutes prompt into the content variable.
func (f *FormatPrompt) Render(prompt string) (string, error) {
	out, err := f.tmpl.ExecuteToString(exec.NewContext(map[string]interface{}{
		"content": prompt,
	}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplate, err)
	}
	return out, nil
}
