package providers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/straighten/internal/rectify"
)

// cornerSchema is the JSON document a detector must return. Coordinates are
// not range-checked: corners slightly outside the frame are corrected by the
// crop clamp, not rejected.
const cornerSchema = `{
  "type": "object",
  "required": ["top_left", "top_right", "bottom_left", "bottom_right"],
  "properties": {
    "top_left":     {"$ref": "#/$defs/point"},
    "top_right":    {"$ref": "#/$defs/point"},
    "bottom_left":  {"$ref": "#/$defs/point"},
    "bottom_right": {"$ref": "#/$defs/point"}
  },
  "$defs": {
    "point": {
      "type": "object",
      "required": ["x", "y"],
      "properties": {
        "x": {"type": "number"},
        "y": {"type": "number"}
      }
    }
  }
}`

var compiledCornerSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("corners.json", bytes.NewReader([]byte(cornerSchema))); err != nil {
		return nil, fmt.Errorf("failed to load corner schema: %w", err)
	}
	return compiler.Compile("corners.json")
})

// cornerSchemaDoc is cornerSchema decoded for the request's response format.
var cornerSchemaDoc = sync.OnceValues(func() (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(cornerSchema), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode corner schema: %w", err)
	}
	return doc, nil
})

// parseCorners recovers the corner JSON from model output, validates it and
// converts it to a Quad.
func parseCorners(content string) (rectify.Quad, json.RawMessage, error) {
	parsed, err := parseStructuredJSON(content)
	if err != nil {
		return rectify.Quad{}, nil, err
	}
	if err := validateStructuredJSON(parsed); err != nil {
		return rectify.Quad{}, parsed, err
	}

	var cs rectify.CornerSet
	if err := json.Unmarshal(parsed, &cs); err != nil {
		return rectify.Quad{}, parsed, fmt.Errorf("failed to decode corners: %w", err)
	}
	q, err := cs.Quad()
	if err != nil {
		return rectify.Quad{}, parsed, err
	}
	return q, parsed, nil
}

// parseStructuredJSON parses JSON from model output, with lightweight recovery
// for markdown code fences and surrounding text.
func parseStructuredJSON(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty structured output")
	}

	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" && stripped != content {
		candidates = append(candidates, stripped)
	}
	if extracted := extractJSONObject(content); extracted != "" && extracted != content {
		candidates = append(candidates, extracted)
	}

	for _, candidate := range candidates {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
			continue
		}
		normalized, err := json.Marshal(parsed)
		if err != nil {
			return nil, fmt.Errorf("failed to normalize structured output: %w", err)
		}
		return normalized, nil
	}
	return nil, fmt.Errorf("failed to parse structured JSON")
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func extractJSONObject(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(content[start : end+1])
}

// validateStructuredJSON validates parsed JSON against the corner schema.
func validateStructuredJSON(parsed json.RawMessage) error {
	schema, err := compiledCornerSchema()
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(parsed, &doc); err != nil {
		return fmt.Errorf("failed to decode structured JSON for validation: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("structured output does not match schema: %w", err)
	}
	return nil
}
