package common

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// familiesSchema describes the OCR_FAMILIES_FILE document.
const familiesSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["families"],
  "additionalProperties": false,
  "properties": {
    "families": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name"],
        "additionalProperties": false,
        "properties": {
          "name":       {"type": "string", "enum": ["docrepo", "project", "attachment"]},
          "enabled":    {"type": "boolean"},
          "interval":   {"type": "string", "pattern": "^[0-9]+(ms|s|m|h)$"},
          "batch_size": {"type": "integer", "minimum": 1, "maximum": 50},
          "backoff":    {"type": "string", "pattern": "^[0-9]+(ms|s|m|h)$"}
        }
      }
    }
  }
}`

type familiesFile struct {
	Families []struct {
		Name      string `json:"name"`
		Enabled   *bool  `json:"enabled"`
		Interval  string `json:"interval"`
		BatchSize int    `json:"batch_size"`
		Backoff   string `json:"backoff"`
	} `json:"families"`
}

// LoadFamiliesFile reads and validates a families file. Unset fields fall back to
// the OCR_POLL_* defaults; a family is enabled unless it says otherwise.
func LoadFamiliesFile(path string) ([]FamilyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseFamilies(data)
}

// ParseFamilies validates data against the families schema and decodes it.
func ParseFamilies(data []byte) ([]FamilyConfig, error) {
	if err := ValidateJSONAgainstSchema(familiesSchema, data); err != nil {
		return nil, err
	}
	var ff familiesFile
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("decode families: %w", err)
	}

	defaults := make(map[string]FamilyConfig)
	for _, d := range defaultFamilies() {
		defaults[d.Name] = d
	}

	out := make([]FamilyConfig, 0, len(ff.Families))
	seen := make(map[string]bool)
	for _, f := range ff.Families {
		if seen[f.Name] {
			return nil, fmt.Errorf("family %q listed twice", f.Name)
		}
		seen[f.Name] = true

		fc := defaults[f.Name]
		fc.Name = f.Name
		fc.Enabled = true
		if f.Enabled != nil {
			fc.Enabled = *f.Enabled
		}
		if f.BatchSize > 0 {
			fc.BatchSize = f.BatchSize
		}
		if f.Interval != "" {
			d, err := time.ParseDuration(f.Interval)
			if err != nil {
				return nil, fmt.Errorf("family %q interval: %w", f.Name, err)
			}
			fc.Interval = d
		}
		if f.Backoff != "" {
			d, err := time.ParseDuration(f.Backoff)
			if err != nil {
				return nil, fmt.Errorf("family %q backoff: %w", f.Name, err)
			}
			fc.Backoff = d
		}
		out = append(out, fc)
	}
	return out, nil
}

// ValidateJSONAgainstSchema validates "data" against the JSON schema text "schema".
func ValidateJSONAgainstSchema(schema string, data []byte) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(schema)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := compiled.Validate(v); err != nil {
		return fmt.Errorf("families file does not match schema: %w", err)
	}
	return nil
}
