package llm

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"

	"github.com/pbaille/govpulse/internal/domain"
)

//go:embed schema/extraction.json
var extractionSchemaJSON []byte

var extractionSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(extractionSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile extraction schema: %w", err)
	}
	return schema, nil
})

// Extraction is the decoded answer of a model
type Extraction struct {
	EventType     string   `json:"event_type"`
	EventDate     string   `json:"event_date"`
	Locations     []string `json:"locations"`
	People        []string `json:"people"`
	Organizations []string `json:"organizations"`
	Schemes       []string `json:"schemes"`
	Confidence    float64  `json:"confidence"`
}

// ParseExtraction strips markdown fences and surrounding prose, validates
// the JSON against the extraction schema and decodes it. Every failure
// wraps domain.ErrLayerMalformedOutput.
func ParseExtraction(resp string) (*Extraction, error) {
	resp = stripFences(resp)
	if resp == "" {
		return nil, fmt.Errorf("%w: empty response", domain.ErrLayerMalformedOutput)
	}

	schema, err := extractionSchema()
	if err != nil {
		return nil, err
	}
	result := schema.ValidateJSON([]byte(resp))
	if !result.IsValid() {
		return nil, fmt.Errorf("%w: schema validation failed: %v", domain.ErrLayerMalformedOutput, result.Errors)
	}

	var ex Extraction
	if err := json.Unmarshal([]byte(resp), &ex); err != nil {
		return nil, fmt.Errorf("%w: parse json: %v (response: %s)", domain.ErrLayerMalformedOutput, err, truncate(resp, 200))
	}
	return &ex, nil
}

func stripFences(resp string) string {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	resp = strings.TrimSpace(resp)

	// Models sometimes wrap the object in a sentence
	if !strings.HasPrefix(resp, "{") {
		start, end := strings.Index(resp, "{"), strings.LastIndex(resp, "}")
		if start >= 0 && end > start {
			resp = resp[start : end+1]
		}
	}
	return resp
}
