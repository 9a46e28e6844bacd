// Package paper decodes and validates parsed question papers and mark
// schemes, whether they come from the AI gateway or from a local bundle file.
package paper

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/pavelanni/mockexam/internal/model"
)

//go:embed schema/*.json
var schemaFS embed.FS

var (
	schemaOnce   sync.Once
	schemaErr    error
	paperSchema  *gojsonschema.Schema
	schemeSchema *gojsonschema.Schema
)

// Bundle is a pre-parsed paper: questions, metadata and an optional mark scheme.
type Bundle struct {
	Questions  []model.Question    `json:"questions" yaml:"questions"`
	Metadata   model.PaperMetadata `json:"metadata" yaml:"metadata"`
	MarkScheme model.MarkScheme    `json:"markScheme,omitempty" yaml:"markScheme,omitempty"`
}

func loadSchemas() error {
	schemaOnce.Do(func() {
		compile := func(name string) (*gojsonschema.Schema, error) {
			data, err := schemaFS.ReadFile("schema/" + name)
			if err != nil {
				return nil, err
			}
			return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
		}
		if paperSchema, schemaErr = compile("paper.json"); schemaErr != nil {
			return
		}
		schemeSchema, schemaErr = compile("markscheme.json")
	})
	return schemaErr
}

func validate(schema *gojsonschema.Schema, what string, doc []byte) error {
	res, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return &model.ParseError{What: what, Raw: string(doc), Err: err}
	}
	if !res.Valid() {
		var msgs []string
		for i, e := range res.Errors() {
			if i == 5 {
				msgs = append(msgs, fmt.Sprintf("and %d more", len(res.Errors())-5))
				break
			}
			msgs = append(msgs, e.String())
		}
		return &model.ParseError{What: what, Raw: string(doc), Err: fmt.Errorf("schema: %s", strings.Join(msgs, "; "))}
	}
	return nil
}

// DecodeParsedPaper validates and decodes a JSON paper document. Markdown code
// fences around the JSON are tolerated.
func DecodeParsedPaper(data []byte) (Bundle, error) {
	if err := loadSchemas(); err != nil {
		return Bundle{}, fmt.Errorf("load paper schema: %w", err)
	}
	doc := StripCodeFence(data)
	if err := validate(paperSchema, "paper", doc); err != nil {
		return Bundle{}, err
	}
	var b Bundle
	if err := json.Unmarshal(doc, &b); err != nil {
		return Bundle{}, &model.ParseError{What: "paper", Raw: string(doc), Err: err}
	}
	b.Questions = normalizeQuestions(b.Questions)
	return b, nil
}

// DecodeMarkScheme validates and decodes a JSON mark scheme. A whole bundle is
// also accepted, in which case its markScheme field is returned.
func DecodeMarkScheme(data []byte) (model.MarkScheme, error) {
	if err := loadSchemas(); err != nil {
		return nil, fmt.Errorf("load mark scheme schema: %w", err)
	}
	doc := StripCodeFence(data)

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(doc, &probe); err != nil {
		return nil, &model.ParseError{What: "mark scheme", Raw: string(doc), Err: err}
	}
	if _, isBundle := probe["questions"]; isBundle {
		b, err := DecodeParsedPaper(doc)
		if err != nil {
			return nil, err
		}
		if b.MarkScheme == nil {
			return model.MarkScheme{}, nil
		}
		return b.MarkScheme, nil
	}

	if err := validate(schemeSchema, "mark scheme", doc); err != nil {
		return nil, err
	}
	var ms model.MarkScheme
	if err := json.Unmarshal(doc, &ms); err != nil {
		return nil, &model.ParseError{What: "mark scheme", Raw: string(doc), Err: err}
	}
	return ms, nil
}

// StripCodeFence removes a surrounding ```json fence if present.
func StripCodeFence(data []byte) []byte {
	s := bytes.TrimSpace(data)
	if !bytes.HasPrefix(s, []byte("```")) {
		return s
	}
	if nl := bytes.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = s[3:]
	}
	s = bytes.TrimSuffix(bytes.TrimSpace(s), []byte("```"))
	return bytes.TrimSpace(s)
}

// ToJSON converts a YAML or JSON document into JSON.
func ToJSON(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[' || trimmed[0] == '`') {
		return trimmed, nil
	}
	var v any
	if err := yaml.Unmarshal(trimmed, &v); err != nil {
		return nil, &model.ParseError{What: "yaml", Raw: string(trimmed), Err: err}
	}
	out, err := json.Marshal(stringKeys(v))
	if err != nil {
		return nil, &model.ParseError{What: "yaml", Raw: string(trimmed), Err: err}
	}
	return out, nil
}

// stringKeys converts YAML mappings with non-string keys (question numbers
// such as 1 or 2) into JSON-compatible maps, and stringifies scalar ids.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = stringKeys(val)
		}
		if id, ok := t["id"]; ok && id != nil {
			if _, isStr := id.(string); !isStr {
				t["id"] = fmt.Sprint(id)
			}
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = stringKeys(val)
		}
		return stringKeys(out)
	case []any:
		for i, val := range t {
			t[i] = stringKeys(val)
		}
		return t
	default:
		return v
	}
}

// LoadBundle reads a JSON or YAML bundle file.
func LoadBundle(path string) (Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Bundle{}, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := ToJSON(data)
	if err != nil {
		return Bundle{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	b, err := DecodeParsedPaper(doc)
	if err != nil {
		return Bundle{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return b, nil
}

// normalizeQuestions trims text, enforces positive marks and makes IDs
// unique. The first occurrence of an id keeps it.
func normalizeQuestions(qs []model.Question) []model.Question {
	out := make([]model.Question, 0, len(qs))
	seen := make(map[string]int)
	for _, q := range qs {
		q.ID = strings.TrimSpace(q.ID)
		q.Text = strings.TrimSpace(q.Text)
		q.MarkingRegex = strings.TrimSpace(q.MarkingRegex)
		if q.Marks < 1 {
			q.Marks = 1
		}
		if n := seen[q.ID]; n > 0 {
			seen[q.ID] = n + 1
			renamed := fmt.Sprintf("%s-%d", q.ID, n+1)
			// Mark scheme entries stay keyed by the original id, so the
			// renamed question is graded without a scheme.
			slog.Warn("duplicate question id renamed", "id", q.ID, "renamed", renamed)
			q.ID = renamed
		} else {
			seen[q.ID] = 1
		}
		out = append(out, q)
	}
	return out
}

// LocalParser parses pre-structured JSON or YAML documents without any
// remote call.
type LocalParser struct{}

// ExtractQuestions decodes a bundle. The insert, if given, is attached to the
// metadata as plain text.
func (LocalParser) ExtractQuestions(_ context.Context, paper, insert []byte) (model.ParsedPaper, error) {
	doc, err := ToJSON(paper)
	if err != nil {
		return model.ParsedPaper{}, err
	}
	b, err := DecodeParsedPaper(doc)
	if err != nil {
		return model.ParsedPaper{}, err
	}
	meta := b.Metadata
	if len(insert) > 0 {
		meta.Insert = string(insert)
	}
	return model.ParsedPaper{Questions: b.Questions, Metadata: meta}, nil
}

// ParseMarkScheme decodes a bare mark scheme or the scheme embedded in a bundle.
func (LocalParser) ParseMarkScheme(_ context.Context, scheme []byte) (model.MarkScheme, error) {
	if len(bytes.TrimSpace(scheme)) == 0 {
		return model.MarkScheme{}, nil
	}
	doc, err := ToJSON(scheme)
	if err != nil {
		return nil, err
	}
	return DecodeMarkScheme(doc)
}
