package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	internal "github.com/ZanzyTHEbar/rlhf-datasets/rlds"
)

// annotationFields are read from every annotation entry.
var annotationFields = []string{"img_id", "question", "answer", "location"}

// LoadAnnotations reads a JSON array of {img_id, question, answer, location}
// entries and maps each to a record with "images", "problem", "answer" and
// "location" fields. Image paths are imageRoot/<img_id>_origin.png. Every
// entry must carry all four keys; answer and location may be null.
func LoadAnnotations(p, imageRoot string) (RecordSource, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrLocatorNotFound, p)
		}
		return nil, fmt.Errorf("failed to read annotations %s: %w", p, err)
	}

	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse annotations %s: %w", p, err)
	}

	records := make([]Record, len(entries))
	for i, e := range entries {
		for _, field := range annotationFields {
			if _, ok := e[field]; !ok {
				return nil, fmt.Errorf("%w: entry %d has no %s", ErrMissingField, i, field)
			}
		}
		id, err := pythonString(e["img_id"])
		if err != nil {
			return nil, fmt.Errorf("entry %d img_id: %w", i, err)
		}
		if isNull(e["question"]) {
			return nil, fmt.Errorf("%w: entry %d question is null", ErrMissingField, i)
		}
		var question string
		if err := json.Unmarshal(e["question"], &question); err != nil {
			return nil, fmt.Errorf("entry %d question: %w", i, err)
		}
		answer, err := pythonString(e["answer"])
		if err != nil {
			return nil, fmt.Errorf("entry %d answer: %w", i, err)
		}
		var location any
		if err := json.Unmarshal(e["location"], &location); err != nil {
			return nil, fmt.Errorf("entry %d location: %w", i, err)
		}
		records[i] = Record{
			"images":   []any{filepath.Join(imageRoot, id+"_origin.png")},
			"problem":  internal.ImagePlaceholder + question,
			"answer":   answer,
			"location": location,
		}
	}
	return &memSource{records: records}, nil
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// pythonString renders a JSON value the way Python's str() renders the
// value json.loads would produce: 0 -> "0", 33.7 -> "33.7", 1.0 -> "1.0",
// true -> "True", null -> "None", [1, "a"] -> "[1, 'a']".
func pythonString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if isNull(raw) {
		return "None", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case 't':
		return "True", nil
	case 'f':
		return "False", nil
	case '[', '{':
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var sb strings.Builder
		if err := pythonRepr(&sb, dec); err != nil {
			return "", err
		}
		return sb.String(), nil
	}
	return pythonNumber(string(raw))
}

// pythonRepr writes the next value of dec in Python repr form. Object keys
// keep their document order.
func pythonRepr(sb *strings.Builder, dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	switch t := tok.(type) {
	case json.Delim:
		isObject := t == '{'
		if isObject {
			sb.WriteByte('{')
		} else {
			sb.WriteByte('[')
		}
		for i := 0; dec.More(); i++ {
			if i > 0 {
				sb.WriteString(", ")
			}
			if isObject {
				key, err := dec.Token()
				if err != nil {
					return err
				}
				sb.WriteString(pythonQuote(key.(string)))
				sb.WriteString(": ")
			}
			if err := pythonRepr(sb, dec); err != nil {
				return err
			}
		}
		if _, err := dec.Token(); err != nil {
			return err
		}
		if isObject {
			sb.WriteByte('}')
		} else {
			sb.WriteByte(']')
		}
	case string:
		sb.WriteString(pythonQuote(t))
	case json.Number:
		n, err := pythonNumber(t.String())
		if err != nil {
			return err
		}
		sb.WriteString(n)
	case bool:
		if t {
			sb.WriteString("True")
		} else {
			sb.WriteString("False")
		}
	case nil:
		sb.WriteString("None")
	}
	return nil
}

// pythonQuote formats s like Python's str repr: single quotes unless s
// holds a single quote and no double quote.
func pythonQuote(s string) string {
	quote := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		quote = '"'
	}
	var sb strings.Builder
	sb.WriteByte(quote)
	for _, r := range s {
		switch {
		case r == '\\':
			sb.WriteString(`\\`)
		case r == rune(quote):
			sb.WriteByte('\\')
			sb.WriteRune(r)
		case r == '\n':
			sb.WriteString(`\n`)
		case r == '\r':
			sb.WriteString(`\r`)
		case r == '\t':
			sb.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&sb, `\x%02x`, r)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte(quote)
	return sb.String()
}

// pythonNumber renders a JSON number literal: integers stay exact, floats
// use Python's repr.
func pythonNumber(num string) (string, error) {
	if !strings.ContainsAny(num, ".eE") {
		if _, err := strconv.ParseInt(num, 10, 64); err == nil {
			return num, nil
		}
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return "", fmt.Errorf("invalid number %q: %w", num, err)
	}
	if !strings.ContainsAny(num, ".eE") {
		// integers beyond int64 stay exact in Python
		return num, nil
	}
	return pythonFloat(f), nil
}

// pythonFloat formats f like Python's float repr.
func pythonFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	e := strconv.FormatFloat(f, 'e', -1, 64)
	exp, _ := strconv.Atoi(e[strings.LastIndexByte(e, 'e')+1:])
	if exp < -4 || exp >= 16 {
		return e
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
