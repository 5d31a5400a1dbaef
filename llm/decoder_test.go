package llm

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type summary struct {
	Title string   `json:"title"`
	Tags  []string `json:"tags,omitempty"`
}

func TestDecoderFor(t *testing.T) {
	assert.IsType(t, StructuredDecoder{}, DecoderFor(ModeStructured))
	assert.IsType(t, TextDecoder{}, DecoderFor(ModeText))
	assert.IsType(t, TextDecoder{}, DecoderFor(""))
}

func TestStructuredDecoder(t *testing.T) {
	schema := MustSchemaFor[summary]("summary")

	tests := []struct {
		name    string
		resp    *Response
		want    string
		wantErr string
	}{
		{
			name: "passes parsed output through",
			resp: &Response{Content: `{"title":"x"}`, Structured: json.RawMessage(`{"title":"x"}`)},
			want: `{"title":"x"}`,
		},
		{
			name:    "nil response",
			resp:    nil,
			wantErr: "empty response",
		},
		{
			name:    "refusal",
			resp:    &Response{Refusal: "I can't help with that"},
			wantErr: "provider refused",
		},
		{
			name:    "no structured output",
			resp:    &Response{Content: "plain text"},
			wantErr: "no structured output",
		},
		{
			name:    "invalid structured bytes",
			resp:    &Response{Structured: json.RawMessage(`{"title":`)},
			wantErr: "not valid JSON",
		},
		{
			name:    "payload ignoring the schema",
			resp:    &Response{Content: `{"wrong": 42}`, Structured: json.RawMessage(`{"wrong": 42}`)},
			wantErr: "title is required",
		},
		{
			name:    "payload with wrong field type",
			resp:    &Response{Structured: json.RawMessage(`{"title": 7}`)},
			wantErr: "title",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StructuredDecoder{}.Decode(tt.resp, schema)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, IsSchemaMismatch(err))
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Contains(t, err.Error(), "summary")
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestTextDecoder(t *testing.T) {
	schema := MustSchemaFor[summary]("summary")

	tests := []struct {
		name    string
		content string
		schema  Schema
		want    string
		wantErr string
	}{
		{
			name:    "fenced JSON",
			content: "Here it is:\n```json\n{\"title\": \"Release notes\", \"tags\": [\"go\"]}\n```",
			schema:  schema,
			want:    `{"title": "Release notes", "tags": ["go"]}`,
		},
		{
			name:    "trailing comma cleaned",
			content: `{"title": "x",}`,
			schema:  schema,
			want:    `{"title": "x"}`,
		},
		{
			name:    "no JSON",
			content: "I could not find anything.",
			schema:  schema,
			wantErr: "no JSON found",
		},
		{
			name:    "missing required field",
			content: `{"tags": ["a"]}`,
			schema:  schema,
			wantErr: "title",
		},
		{
			name:    "wrong type",
			content: `{"title": 12}`,
			schema:  schema,
			wantErr: "title",
		},
		{
			name:    "unparseable JSON",
			content: `{"title": "x" "tags": 1}`,
			schema:  schema,
			wantErr: "no JSON found",
		},
		{
			name:    "citation marker before the answer",
			content: `According to [1], the summary is {"title": "Release notes"}`,
			schema:  schema,
			want:    `{"title": "Release notes"}`,
		},
		{
			name:    "citation marker before the answer without schema",
			content: `According to [1] and [2], the summary is {"title": "Release notes"}`,
			want:    `{"title": "Release notes"}`,
		},
		{
			name:    "array answer after citation when schema wants an array",
			content: `Per [1]: ["a", "b"]`,
			schema:  MustSchemaFor[[]string]("tags"),
			want:    `["a", "b"]`,
		},
		{
			name:    "delimiters inside strings of valid JSON",
			content: `{"title": "up, ]", "tags": ["a, }", "b,]"]}`,
			schema:  schema,
			want:    `{"title": "up, ]", "tags": ["a, }", "b,]"]}`,
		},
		{
			name:    "repair keeps string contents",
			content: "{\"title\": \"x, }\", // note\n \"tags\": [\"a\",],}",
			schema:  schema,
			want:    `{"title": "x, }", "tags": ["a"]}`,
		},
		{
			name:    "nil schema accepts any JSON",
			content: `[{"n": 1}]`,
			want:    `[{"n": 1}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TextDecoder{}.Decode(&Response{Content: tt.content}, tt.schema)
			if tt.wantErr != "" {
				require.Error(t, err)
				var mismatch *SchemaMismatch
				require.True(t, errors.As(err, &mismatch))
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestTextDecoder_Refusal(t *testing.T) {
	_, err := TextDecoder{}.Decode(&Response{Content: `{"title":"x"}`, Refusal: "no"}, nil)
	require.Error(t, err)
	assert.True(t, IsSchemaMismatch(err))
	assert.Contains(t, err.Error(), "provider refused")
}

type plainSchema struct{ err error }

func (plainSchema) Name() string               { return "plain" }
func (plainSchema) Definition() map[string]any { return map[string]any{} }
func (s plainSchema) Validate([]byte) error    { return s.err }

func TestTextDecoder_WrapsForeignValidationErrors(t *testing.T) {
	_, err := TextDecoder{}.Decode(&Response{Content: `{"a":1}`}, plainSchema{err: errors.New("custom rule failed")})
	require.Error(t, err)
	var mismatch *SchemaMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "plain", mismatch.Schema)
	assert.Contains(t, err.Error(), "custom rule failed")
}
