package reasoning

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// ExtractJSON returns the first JSON object in model output, looking inside
// markdown code fences first.
func ExtractJSON(text string) (string, error) {
	candidates := []string{}
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, text)

	for _, c := range candidates {
		if obj, ok := firstObject(c); ok {
			return obj, nil
		}
	}
	return "", fmt.Errorf("%w: no JSON object found", ErrMalformedOutput)
}

// firstObject scans for a balanced {...} that parses as JSON.
func firstObject(s string) (string, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		depth, inString, escaped := 0, false, false
		for i := start; i < len(s); i++ {
			c := s[i]
			switch {
			case escaped:
				escaped = false
			case inString && c == '\\':
				escaped = true
			case c == '"':
				inString = !inString
			case inString:
			case c == '{':
				depth++
			case c == '}':
				depth--
				if depth == 0 {
					candidate := s[start : i+1]
					if json.Valid([]byte(candidate)) {
						return candidate, true
					}
					i = len(s)
				}
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// DecodeJSON extracts the first JSON object from text into v.
func DecodeJSON(text string, v any) error {
	obj, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}
