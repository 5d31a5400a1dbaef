package llm

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Decoder turns a raw provider response into a schema-conformant JSON
// document. Decoders never retry; their errors count as attempt failures.
type Decoder interface {
	Decode(resp *Response, schema Schema) (json.RawMessage, error)
}

// DecoderFor returns the decoder variant for a mode. Unknown modes decode as text.
func DecoderFor(mode Mode) Decoder {
	if mode == ModeStructured {
		return StructuredDecoder{}
	}
	return TextDecoder{}
}

// StructuredDecoder passes through output the provider parsed against the
// schema, after checking it. Compatible servers may ignore response_format.
type StructuredDecoder struct{}

// Decode implements Decoder.
func (StructuredDecoder) Decode(resp *Response, schema Schema) (json.RawMessage, error) {
	name := schemaName(schema)
	if resp == nil {
		return nil, &SchemaMismatch{Schema: name, Err: errors.New("empty response")}
	}
	if resp.Refusal != "" {
		return nil, &SchemaMismatch{Schema: name, Raw: resp.Content, Err: fmt.Errorf("provider refused: %s", resp.Refusal)}
	}
	if len(resp.Structured) == 0 {
		return nil, &SchemaMismatch{Schema: name, Raw: resp.Content, Err: errors.New("no structured output in response")}
	}
	if !json.Valid(resp.Structured) {
		return nil, &SchemaMismatch{Schema: name, Raw: string(resp.Structured), Err: errors.New("structured output is not valid JSON")}
	}
	if err := validate(schema, resp.Structured); err != nil {
		return nil, err
	}
	return resp.Structured, nil
}

// TextDecoder extracts JSON from free-text output and validates it. Every
// JSON document in the text is a candidate; the first that satisfies the
// schema wins, so bracketed citations like "[1]" do not shadow the answer.
type TextDecoder struct{}

// Decode implements Decoder.
func (TextDecoder) Decode(resp *Response, schema Schema) (json.RawMessage, error) {
	name := schemaName(schema)
	if resp == nil {
		return nil, &SchemaMismatch{Schema: name, Err: errors.New("empty response")}
	}
	if resp.Refusal != "" {
		return nil, &SchemaMismatch{Schema: name, Raw: resp.Content, Err: fmt.Errorf("provider refused: %s", resp.Refusal)}
	}

	candidates := JSONCandidates(resp.Content)
	if len(candidates) == 0 {
		return nil, &SchemaMismatch{Schema: name, Raw: resp.Content, Err: errors.New("no JSON found in response")}
	}
	if schema == nil {
		return json.RawMessage(preferredCandidate(candidates)), nil
	}

	for _, c := range candidates {
		if validate(schema, []byte(c)) == nil {
			return json.RawMessage(c), nil
		}
	}
	// Report the problems of the document most likely meant as the answer.
	return nil, validate(schema, []byte(preferredCandidate(candidates)))
}

// validate checks doc against schema and reports failures as *SchemaMismatch.
// A nil schema accepts any document.
func validate(schema Schema, doc []byte) error {
	if schema == nil {
		return nil
	}
	err := schema.Validate(doc)
	if err == nil {
		return nil
	}
	var mismatch *SchemaMismatch
	if errors.As(err, &mismatch) {
		return mismatch
	}
	return &SchemaMismatch{Schema: schema.Name(), Raw: string(doc), Err: err}
}

func schemaName(s Schema) string {
	if s == nil {
		return ""
	}
	return s.Name()
}
