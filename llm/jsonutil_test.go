package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantKey string // if non-empty, check this key exists in parsed JSON
		wantErr bool
	}{
		{
			name:    "plain JSON",
			input:   `{"verdict": "approved"}`,
			wantKey: "verdict",
		},
		{
			name:    "markdown code block",
			input:   "```json\n{\"verdict\": \"approved\"}\n```",
			wantKey: "verdict",
		},
		{
			name:    "markdown block with trailing text",
			input:   "```json\n{\"verdict\": \"approved\"}\n```\n\n**Reasoning follows**",
			wantKey: "verdict",
		},
		{
			name:    "leading prose",
			input:   "Sure! Here is the result:\n{\"score\": 7}",
			wantKey: "score",
		},
		{
			name:    "JS comments and trailing commas",
			input:   "```json\n{\n  \"sources\": [\n    \"a.md\",  // first\n    \"b.md\",  // second\n  ]\n}\n```",
			wantKey: "sources",
		},
		{
			name:    "URL in string with comment after",
			input:   "{\"url\": \"http://example.com/path\"} // trailing",
			wantKey: "url",
		},
		{
			name:    "empty input",
			input:   "",
			wantErr: true,
		},
		{
			name:    "no JSON at all",
			input:   "This is just text with no JSON.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractJSON(tt.input)
			if tt.wantErr {
				assert.Empty(t, result)
				return
			}
			require.NotEmpty(t, result)

			var parsed map[string]any
			require.NoError(t, json.Unmarshal([]byte(result), &parsed), "result: %s", result)
			if tt.wantKey != "" {
				assert.Contains(t, parsed, tt.wantKey)
			}
		})
	}
}

func TestExtractJSONArray(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantLen int
	}{
		{name: "plain array", input: `["one", "two"]`, wantLen: 2},
		{name: "markdown code block array", input: "```json\n[\"one\", \"two\"]\n```", wantLen: 2},
		{name: "array with comments", input: "```json\n[\n  \"one\",  // first\n  \"two\"   // second\n]\n```", wantLen: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractJSONArray(tt.input)
			require.NotEmpty(t, result)

			var parsed []any
			require.NoError(t, json.Unmarshal([]byte(result), &parsed), "result: %s", result)
			assert.Len(t, parsed, tt.wantLen)
		})
	}
}

func TestExtractJSONValue(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "object", input: `{"a": 1}`, want: `{"a": 1}`},
		{name: "array", input: `[1, 2, 3]`, want: `[1, 2, 3]`},
		{name: "array containing objects", input: "```json\n[{\"a\": 1}, {\"a\": 2}]\n```", want: `[{"a": 1}, {"a": 2}]`},
		{name: "object containing array", input: `{"items": [1, 2]}`, want: `{"items": [1, 2]}`},
		{name: "bracketed prose before object", input: `See [citation]: {"a": 1}`, want: `{"a": 1}`},
		{name: "citation marker before object", input: `According to [1], the answer is {"verdict": "up"}`, want: `{"verdict": "up"}`},
		{name: "citation marker after object", input: `{"verdict": "up"} [1]`, want: `{"verdict": "up"}`},
		{name: "delimiters inside strings", input: `{"verdict": "up, ]"}`, want: `{"verdict": "up, ]"}`},
		{name: "nothing", input: "no json", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractJSONValue(tt.input)
			if tt.want == "" {
				assert.Empty(t, got)
				return
			}
			assert.JSONEq(t, tt.want, got)
		})
	}
}

func TestExtractJSONValue_ValidJSONUnchanged(t *testing.T) {
	input := `{"verdict": "up, ]",  "note": "a,}"}`
	assert.Equal(t, input, ExtractJSONValue("Answer: "+input))
}

func TestJSONCandidates(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "citations and object in order",
			input: `Per [1] and [2]: {"a": 1}`,
			want:  []string{`[1]`, `[2]`, `{"a": 1}`},
		},
		{
			name:  "fenced block first",
			input: "See [3].\n```json\n{\"a\": 1}\n```",
			want:  []string{`{"a": 1}`, `[3]`},
		},
		{
			name:  "nested values are not separate candidates",
			input: `{"items": [{"b": 2}]}`,
			want:  []string{`{"items": [{"b": 2}]}`},
		},
		{
			name:  "unbalanced prose brackets skipped",
			input: `a ] b { c [ {"a": 1}`,
			want:  []string{`{"a": 1}`},
		},
		{
			name:  "brackets inside strings do not end a span",
			input: `{"s": "} ] {"} trailing`,
			want:  []string{`{"s": "} ] {"}`},
		},
		{
			name:  "none",
			input: "plain text",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, JSONCandidates(tt.input))
		})
	}
}

func TestStripTrailingCommas(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "array", input: `["a", "b",]`, expected: `["a", "b"]`},
		{name: "object with whitespace", input: "{\"a\": 1,\n}", expected: "{\"a\": 1\n}"},
		{name: "comma and bracket inside string", input: `{"v": "up, ]",}`, expected: `{"v": "up, ]"}`},
		{name: "escaped quote in string", input: `{"v": "a\", }",}`, expected: `{"v": "a\", }"}`},
		{name: "nothing to strip", input: `{"a": [1, 2]}`, expected: `{"a": [1, 2]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, stripTrailingCommas(tt.input))
		})
	}
}

func TestStripLineComment(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "no comment", input: `  "key": "value",`, expected: `  "key": "value",`},
		{name: "trailing comment", input: `  "key": "value",  // a comment`, expected: `  "key": "value",`},
		{name: "URL in string preserved", input: `  "url": "http://example.com",`, expected: `  "url": "http://example.com",`},
		{name: "URL with trailing comment", input: `  "url": "http://example.com",  // the url`, expected: `  "url": "http://example.com",`},
		{name: "whole line comment", input: `  // This is a comment`, expected: ``},
		{name: "escaped quote in string", input: `  "path": "a\"b//c",  // comment`, expected: `  "path": "a\"b//c",`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, stripLineComment(tt.input))
		})
	}
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "trailing comma in array", input: `{"items": ["one", "two",]}`},
		{name: "trailing comma in object", input: `{"a": 1, "b": 2,}`},
		{name: "comments and trailing commas", input: "{\n  \"items\": [\n    \"one\",  // first\n    \"two\",  // second\n  ]\n}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := cleanJSON(tt.input)
			assert.True(t, json.Valid([]byte(result)), "cleaned JSON is invalid: %s", result)
		})
	}
}

func TestCleanJSON_LeavesValidJSONAlone(t *testing.T) {
	for _, input := range []string{
		`{"verdict": "up, ]"}`,
		`{"path": "a//b", "list": ["x,}"]}`,
	} {
		assert.Equal(t, input, cleanJSON(input))
	}
}
