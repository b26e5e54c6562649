package reconcile

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// parseObject turns a synthesis model's raw text into a decoded JSON object,
// working through progressively more forgiving extraction stages: direct
// parse, fenced code block, first-to-last brace substring, and finally a
// structural repair pass.
func parseObject(raw string) (map[string]any, error) {
	candidates := []string{strings.TrimSpace(raw)}

	if fenced := extractFenced(raw); fenced != "" {
		candidates = append(candidates, fenced)
	}
	if braced := extractBraced(raw); braced != "" {
		candidates = append(candidates, braced)
	}

	var lastErr error
	for _, c := range candidates {
		var doc map[string]any
		if err := json.Unmarshal([]byte(c), &doc); err == nil {
			return doc, nil
		} else {
			lastErr = err
		}
	}

	// Last resort: repair the most promising candidate and parse once more.
	repaired := RepairJSON(candidates[len(candidates)-1])
	var doc map[string]any
	if err := json.Unmarshal([]byte(repaired), &doc); err != nil {
		return nil, eris.Wrapf(lastErr, "reconcile: unparseable model output (%d chars)", len(raw))
	}
	return doc, nil
}

// extractFenced returns the contents of the first fenced code block, or "".
func extractFenced(raw string) string {
	start := strings.Index(raw, "```")
	if start < 0 {
		return ""
	}
	rest := raw[start+3:]
	// Skip a language tag like "json" on the fence line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		first := strings.TrimSpace(rest[:nl])
		if len(first) <= 10 && !strings.ContainsAny(first, "{}") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}

// extractBraced returns the substring between the first '{' and the last '}',
// or everything from the first '{' when no closing brace exists.
func extractBraced(raw string) string {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return ""
	}
	end := strings.LastIndexByte(raw, '}')
	if end <= start {
		return strings.TrimSpace(raw[start:])
	}
	return strings.TrimSpace(raw[start : end+1])
}

// RepairJSON is a best-effort structural repair for truncated model output.
// It walks the text character by character tracking string-literal and escape
// state, then appends whatever is needed to balance: a closing quote for a
// dangling string, a null for a dangling key, and the minimum closing
// brackets and braces in reverse nesting order. It never rewrites content
// that is already balanced.
func RepairJSON(s string) string {
	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(s)

	if inString {
		if escaped {
			// Drop a trailing lone backslash so the closing quote is real.
			trimmed := b.String()
			b.Reset()
			b.WriteString(trimmed[:len(trimmed)-1])
		}
		b.WriteByte('"')
	}

	// A dangling comma or colon would make the balanced result invalid.
	out := strings.TrimRight(b.String(), " \t\r\n")
	if strings.HasSuffix(out, ",") {
		out = out[:len(out)-1]
	} else if strings.HasSuffix(out, ":") {
		out += " null"
	}

	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			out += "}"
		} else {
			out += "]"
		}
	}
	return out
}
