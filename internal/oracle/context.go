package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	contextOpen  = "<context>"
	contextClose = "</context>"
)

// ContextBlock renders the structured context of a step as a tagged JSON
// block that prompts embed verbatim.
func ContextBlock(step string, fields map[string]any) (string, error) {
	payload := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		payload[k] = v
	}
	payload["step"] = step
	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s context: %w", step, err)
	}
	return contextOpen + "\n" + string(b) + "\n" + contextClose, nil
}

// ParseContextBlock decodes the first context block found in text. Numbers
// are kept as json.Number.
func ParseContextBlock(text string) (map[string]any, error) {
	start := strings.Index(text, contextOpen)
	if start < 0 {
		return nil, fmt.Errorf("%w: no context block", ErrMalformed)
	}
	rest := text[start+len(contextOpen):]
	end := strings.Index(rest, contextClose)
	if end < 0 {
		return nil, fmt.Errorf("%w: unterminated context block", ErrMalformed)
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(rest[:end])))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return out, nil
}
