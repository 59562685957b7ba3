package tooldef

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quadpoint/toolengine/internal/tool"
)

// Parse decodes a YAML or JSON tool definition without validating it.
func Parse(data []byte) (*tool.Tool, error) {
	t, _, err := decode(data)
	return t, err
}

// Load reads a tool definition file, validates it, and returns the decoded
// tool. All violations found are returned as one ValidationErrors value.
func Load(path string) (*tool.Tool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tool definition: %w", err)
	}
	if errs := Validate(data); len(errs) > 0 {
		return nil, errs
	}
	return Parse(data)
}

// decode parses YAML (or JSON, which YAML subsumes) into both the raw map
// handed to the CUE schema and the typed tool the engine consumes. Going
// through JSON keeps the field names aligned with the stored document
// shape.
func decode(data []byte) (*tool.Tool, map[string]any, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("parsing tool definition: %w", err)
	}
	if raw == nil {
		return nil, nil, fmt.Errorf("parsing tool definition: empty document")
	}

	jsonBytes, err := json.Marshal(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding tool definition: %w", err)
	}
	var t tool.Tool
	if err := json.Unmarshal(jsonBytes, &t); err != nil {
		return nil, nil, fmt.Errorf("decoding tool definition: %w", err)
	}
	return &t, raw, nil
}
