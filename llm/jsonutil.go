package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

// fencePattern matches the body of a markdown code block: ```json ... ```
var fencePattern = regexp.MustCompile("(?s)```(?:json)?[ \\t]*\\n?(.*?)```")

// JSONCandidates returns every top-level JSON object or array found in an
// LLM response, in order of appearance, with the bodies of markdown code
// blocks first. Documents that are already valid JSON are returned
// byte-for-byte. Others are repaired with cleanJSON and dropped if that
// does not make them valid.
func JSONCandidates(content string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		for _, doc := range scanJSON(s) {
			if !seen[doc] {
				seen[doc] = true
				out = append(out, doc)
			}
		}
	}
	for _, m := range fencePattern.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	add(content)
	return out
}

// ExtractJSON extracts the first JSON object from an LLM response string.
// It handles markdown code blocks, JavaScript-style comments, and trailing commas.
func ExtractJSON(content string) string {
	return firstCandidate(JSONCandidates(content), '{')
}

// ExtractJSONArray extracts the first JSON array from an LLM response string.
func ExtractJSONArray(content string) string {
	return firstCandidate(JSONCandidates(content), '[')
}

// ExtractJSONValue extracts the document most likely meant as the answer:
// the first object if there is one, otherwise the first array. Prose often
// carries bracketed fragments such as "[1]" that are valid JSON arrays.
func ExtractJSONValue(content string) string {
	return preferredCandidate(JSONCandidates(content))
}

func preferredCandidate(candidates []string) string {
	if obj := firstCandidate(candidates, '{'); obj != "" {
		return obj
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return ""
}

func firstCandidate(candidates []string, open byte) string {
	for _, c := range candidates {
		if c[0] == open {
			return c
		}
	}
	return ""
}

// scanJSON finds balanced {...} and [...] spans in s and keeps those that
// are, or can be repaired into, valid JSON. Nested values of a kept span are
// not reported separately.
func scanJSON(s string) []string {
	var out []string
	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		end := matchingClose(s, i)
		if end < 0 {
			continue
		}
		if doc, ok := repairJSON(s[i : end+1]); ok {
			out = append(out, doc)
			i = end
		}
	}
	return out
}

// matchingClose returns the index of the bracket closing the one at start,
// or -1 if brackets are unbalanced. String literals and // comments are
// skipped.
func matchingClose(s string, start int) int {
	var stack []byte
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '/':
			if i+1 < len(s) && s[i+1] == '/' {
				nl := strings.IndexByte(s[i:], '\n')
				if nl < 0 {
					return -1
				}
				i += nl
			}
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != ch {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}

func repairJSON(span string) (string, bool) {
	if json.Valid([]byte(span)) {
		return span, true
	}
	cleaned := cleanJSON(span)
	if json.Valid([]byte(cleaned)) {
		return cleaned, true
	}
	return "", false
}

// cleanJSON removes JavaScript-style comments and trailing commas from JSON.
// LLMs commonly produce these invalid JSON artifacts. Valid JSON and the
// contents of string literals are left untouched.
func cleanJSON(raw string) string {
	if json.Valid([]byte(raw)) {
		return raw
	}
	lines := strings.Split(raw, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		cleaned = append(cleaned, stripLineComment(line))
	}
	return stripTrailingCommas(strings.Join(cleaned, "\n"))
}

// stripTrailingCommas drops commas that directly precede a closing bracket,
// ignoring string literals.
//
//	["a", "b",]        → ["a", "b"]
//	{"v": "up, ]"}     → unchanged
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			b.WriteByte(ch)
			continue
		}
		if ch == '"' {
			inString = true
		}
		if ch == ',' {
			rest := strings.TrimLeft(s[i+1:], " \t\r\n")
			if rest != "" && (rest[0] == '}' || rest[0] == ']') {
				continue
			}
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// stripLineComment removes a // comment from a JSON line, respecting string values.
//
//	"path/to/file.js",          // comment  → "path/to/file.js",
//	"url": "http://example.com"             → unchanged
func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}

	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/' {
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}
