// Package schema validates task parameters and attempt extra_data against
// JSON Schemas keyed by task_type. Schemas are compiled-in constants
// registered at startup rather than loaded from disk, since the set of task
// types a coordinator binary understands is fixed at build time.
package schema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ValidationError describes one schema violation.
type ValidationError struct {
	Field       string `json:"field"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ValidationResult is the outcome of validating one document against one
// schema.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Validator compiles and caches JSON Schemas by name (typically a
// task_type string).
type Validator struct {
	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
	raw     map[string]string
}

// NewValidator creates an empty validator. Use Register to add schemas.
func NewValidator() *Validator {
	return &Validator{
		schemas: make(map[string]*gojsonschema.Schema),
		raw:     make(map[string]string),
	}
}

// Register compiles and stores a schema under name, overwriting any
// previous schema with the same name.
func (v *Validator) Register(name string, schemaJSON string) error {
	if name == "" {
		return fmt.Errorf("schema name cannot be empty")
	}

	loader := gojsonschema.NewStringLoader(schemaJSON)
	compiled, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return fmt.Errorf("compile schema %q: %w", name, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.schemas[name] = compiled
	v.raw[name] = schemaJSON
	return nil
}

// Validate validates jsonData against the named schema. If no schema is
// registered under name, validation passes vacuously — unrecognised
// task_type values are persisted verbatim rather than rejected.
func (v *Validator) Validate(name string, jsonData []byte) (*ValidationResult, error) {
	v.mu.RLock()
	compiled, ok := v.schemas[name]
	v.mu.RUnlock()
	if !ok {
		return &ValidationResult{Valid: true}, nil
	}

	if len(jsonData) == 0 {
		jsonData = []byte("{}")
	}

	var doc interface{}
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Field: "(root)", Type: "invalid_json", Description: fmt.Sprintf("invalid JSON: %v", err)},
			},
		}, nil
	}

	result, err := compiled.Validate(gojsonschema.NewBytesLoader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("validate against %q: %w", name, err)
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, e := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{Field: e.Field(), Type: e.Type(), Description: e.Description()})
	}
	return out, nil
}

// ValidateStrict is Validate collapsed to a single error, for call sites
// that only care whether validation passed.
func (v *Validator) ValidateStrict(name string, jsonData []byte) error {
	result, err := v.Validate(name, jsonData)
	if err != nil {
		return err
	}
	if !result.Valid {
		return fmt.Errorf("validation failed: %d errors", len(result.Errors))
	}
	return nil
}

// Registered reports whether a schema is registered under name.
func (v *Validator) Registered(name string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.schemas[name]
	return ok
}

// Names returns every registered schema name.
func (v *Validator) Names() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	names := make([]string, 0, len(v.schemas))
	for name := range v.schemas {
		names = append(names, name)
	}
	return names
}
