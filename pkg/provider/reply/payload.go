package reply

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractText pulls the reply text out of a JSON payload. The recognised
// shapes are tried in priority order:
//
//  1. an array whose first element is an object with a string "output";
//  2. an object with a string "reply";
//  3. an object with a string "message".
//
// A field only counts when it is a string that is non-empty after trimming.
// Valid JSON that matches no shape yields [ErrNoReply]. Invalid JSON and the
// literal null yield a decode error.
func ExtractText(data []byte) (string, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return "", fmt.Errorf("reply: decode payload: %w", err)
	}
	if v == nil {
		return "", fmt.Errorf("reply: decode payload: null body")
	}

	switch p := v.(type) {
	case []any:
		if len(p) > 0 {
			if first, ok := p[0].(map[string]any); ok {
				if s, ok := stringField(first, "output"); ok {
					return s, nil
				}
			}
		}
	case map[string]any:
		if s, ok := stringField(p, "reply"); ok {
			return s, nil
		}
		if s, ok := stringField(p, "message"); ok {
			return s, nil
		}
	}
	return "", ErrNoReply
}

// stringField returns obj[key] when it is a non-blank string.
func stringField(obj map[string]any, key string) (string, bool) {
	s, ok := obj[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}
