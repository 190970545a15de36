package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Document is the structured extraction: two groups of free-text fields.
type Document = map[string]any

const (
	MandatoryGroup = "mandatory_fields"
	CrucialGroup   = "crucial_fields"

	// NotSpecified marks a field the document does not mention.
	NotSpecified = "Not specified in the document"
)

var MandatoryFields = []string{
	"parties",
	"monetary_values",
	"main_obligations",
	"contract_object",
	"term",
	"termination_clause",
}

var CrucialFields = []string{
	"jurisdiction",
	"price_adjustment",
	"guarantees",
	"penalties",
	"confidentiality",
	"renewal",
}

var documentSchema = map[string]any{
	"type":     "object",
	"required": []string{MandatoryGroup, CrucialGroup},
	"properties": map[string]any{
		MandatoryGroup: map[string]any{"type": "object"},
		CrucialGroup:   map[string]any{"type": "object"},
	},
}

var (
	compiledOnce   sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func schemaValidator() (*jsonschema.Schema, error) {
	compiledOnce.Do(func() {
		b, err := json.Marshal(documentSchema)
		if err != nil {
			compileErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("contract_document.json", bytes.NewReader(b)); err != nil {
			compileErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile("contract_document.json")
	})
	return compiledSchema, compileErr
}

// StripMarkdownCodeBlock removes a surrounding ```json fence if present.
func StripMarkdownCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "```json"):
		s = strings.TrimPrefix(s, "```json")
	case strings.HasPrefix(s, "```"):
		s = strings.TrimPrefix(s, "```")
	default:
		return s
	}
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

// ParseDocument decodes a model reply into a Document, checks the two-group
// shape and fills missing mandatory fields with NotSpecified.
func ParseDocument(reply string) (Document, error) {
	raw := []byte(StripMarkdownCodeBlock(reply))
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	sch, err := schemaValidator()
	if err != nil {
		return nil, err
	}
	if err := sch.Validate(v); err != nil {
		return nil, fmt.Errorf("json does not match schema: %w", err)
	}
	doc := v.(map[string]any)
	fillMandatory(doc)
	return doc, nil
}

func fillMandatory(doc Document) {
	group, _ := doc[MandatoryGroup].(map[string]any)
	for _, field := range MandatoryFields {
		val, ok := group[field]
		if !ok || val == nil {
			group[field] = NotSpecified
			continue
		}
		if s, isStr := val.(string); isStr && strings.TrimSpace(s) == "" {
			group[field] = NotSpecified
		}
	}
}
