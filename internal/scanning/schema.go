package scanning

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ReceiptJSONSchema returns the response contract as a JSON Schema document.
// Ollama takes it verbatim as its "format"; locally it backs validateReceipt.
func ReceiptJSONSchema(maxItems int) map[string]any {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	nullableString := map[string]any{"type": []any{"string", "null"}}
	nullableNumber := map[string]any{"type": []any{"number", "null"}}

	item := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"name":           map[string]any{"type": "string"},
			"normalizedName": map[string]any{"type": "string"},
			"price":          map[string]any{"type": "number"},
			"quantity":       nullableNumber,
			"unit":           nullableString,
			"category":       nullableString,
		},
		"required": []any{"name", "normalizedName", "price"},
	}

	return map[string]any{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"schemaVersion": map[string]any{"type": "integer", "const": SchemaVersion},
			"shopName":      map[string]any{"type": "string"},
			"date":          nullableString,
			"items": map[string]any{
				"type":     "array",
				"items":    item,
				"maxItems": maxItems,
			},
			"total": nullableNumber,
		},
		"required": []any{"schemaVersion", "shopName", "items"},
	}
}

// receiptGenaiSchema mirrors ReceiptJSONSchema in Gemini's schema dialect,
// which has no const or maxItems; both are enforced locally after the call.
func receiptGenaiSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"schemaVersion": {Type: genai.TypeInteger, Description: fmt.Sprintf("always %d", SchemaVersion)},
			"shopName":      {Type: genai.TypeString},
			"date":          {Type: genai.TypeString, Nullable: true},
			"items": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"name":           {Type: genai.TypeString},
						"normalizedName": {Type: genai.TypeString},
						"price":          {Type: genai.TypeNumber},
						"quantity":       {Type: genai.TypeNumber, Nullable: true},
						"unit":           {Type: genai.TypeString, Nullable: true},
						"category":       {Type: genai.TypeString, Nullable: true},
					},
					Required: []string{"name", "normalizedName", "price"},
				},
			},
			"total": {Type: genai.TypeNumber, Nullable: true},
		},
		Required: []string{"schemaVersion", "shopName", "items"},
	}
}

// validateReceipt checks a decoded response document against the schema.
func validateReceipt(doc any, maxItems int) error {
	raw, err := json.Marshal(ReceiptJSONSchema(maxItems))
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("receipt.json", bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("receipt.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("response does not match schema v%d: %w", SchemaVersion, err)
	}
	return nil
}
