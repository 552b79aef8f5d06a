package aggregator

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```.*?```")

// stripJSON removes every JSON object, and every array of objects or
// strings, from s. Citation markers such as "[1]" survive.
func stripJSON(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] == '{' || (s[i] == '[' && structuredArray(s[i+1:])) {
			if end := jsonEnd(s, i); end > 0 && json.Valid([]byte(s[i:end])) {
				i = end
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

// jsonEnd returns the index just past the bracket that closes s[start],
// or -1 when it is unbalanced.
func jsonEnd(s string, start int) int {
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
		case c == '{' || c == '[':
			depth++
		case c == '}' || c == ']':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

func structuredArray(rest string) bool {
	rest = strings.TrimLeft(rest, " \t\r\n")
	return rest != "" && (rest[0] == '{' || rest[0] == '"')
}
