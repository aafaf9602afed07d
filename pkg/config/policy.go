package config

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Policy is the operator-authored algorithm-selection override document
// consulted first in the plan catalog's selection fallback order (spec
// section 4.1: "explicit algorithm override (config)"). Documents are
// authored as YAML, parsed with yaml.v3, then schema-validated before the
// CEL expressions in each rule are compiled — the same "parse then
// schema-validate" two-step the teacher's pkg/config/profile_loader.go and
// pkg/policyloader use.
type Policy struct {
	Overrides []OverrideRule `yaml:"overrides" json:"overrides"`
}

// OverrideRule pins one collective type to an algorithm whenever its CEL
// Expr evaluates true against the collective's visible parameters
// (msg_size, group_size, is_power_of_two, root).
type OverrideRule struct {
	Collective string `yaml:"collective" json:"collective"`
	Expr       string `yaml:"expr" json:"expr"`
	Algorithm  string `yaml:"algorithm" json:"algorithm"`
}

// policySchema is the JSON Schema every policy document must satisfy before
// its rules are trusted. Kept minimal: shape validation only, not CEL
// syntax validation (the plan catalog compiles and rejects bad expressions
// at load time).
const policySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["overrides"],
  "properties": {
    "overrides": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["collective", "expr", "algorithm"],
        "properties": {
          "collective": {"type": "string", "minLength": 1},
          "expr": {"type": "string", "minLength": 1},
          "algorithm": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

var compiledPolicySchema = mustCompilePolicySchema()

func mustCompilePolicySchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://ucg.internal/schema/policy.schema.json"
	if err := c.AddResource(url, strings.NewReader(policySchema)); err != nil {
		panic(fmt.Sprintf("policy schema is malformed: %v", err))
	}
	schema, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("policy schema failed to compile: %v", err))
	}
	return schema
}

// LoadPolicy parses and schema-validates a YAML policy document.
func LoadPolicy(data []byte) (*Policy, error) {
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("parse policy yaml: %w", err)
	}
	generic = normalizeForSchema(generic)

	if err := compiledPolicySchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("policy document failed schema validation: %w", err)
	}

	var policy Policy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&policy); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	return &policy, nil
}

// normalizeForSchema converts yaml.v3's map[string]interface{} output (which
// jsonschema accepts) recursively so that nested map[interface{}]interface{}
// values some YAML decoders still produce never reach the validator.
func normalizeForSchema(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, val := range vv {
			out[k] = normalizeForSchema(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(vv))
		for k, val := range vv {
			out[fmt.Sprint(k)] = normalizeForSchema(val)
		}
		return out
	case []any:
		out := make([]any, len(vv))
		for i, val := range vv {
			out[i] = normalizeForSchema(val)
		}
		return out
	default:
		return v
	}
}
