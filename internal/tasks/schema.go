package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/transcribee/coordinator/internal/model"
	"github.com/transcribee/coordinator/pkg/schema"
)

// Well-known schemas for the coordinator's built-in task types. Unknown
// task_type strings have no registered schema, so Validator.Validate treats
// them as vacuously valid rather than rejecting them outright.
const (
	transcribeParametersSchema = `{
		"type": "object",
		"properties": {
			"model": {"type": "string"},
			"lang": {"type": "string"}
		},
		"required": ["model", "lang"]
	}`

	speakerIdentificationParametersSchema = `{
		"type": "object",
		"properties": {
			"number_of_speakers": {"type": ["integer", "null"], "minimum": 0}
		}
	}`
)

func parametersSchemaName(taskType string) string { return taskType + ".task_parameters" }
func extraDataSchemaName(taskType string) string  { return taskType + ".extra_data" }

// RegisterDefaultSchemas binds the well-known task types' parameter shapes
// into v. Called once from the composition root before the dispatcher
// starts accepting requests.
func RegisterDefaultSchemas(v *schema.Validator) error {
	schemas := map[string]string{
		parametersSchemaName(string(model.TaskTranscribe)):       transcribeParametersSchema,
		parametersSchemaName(string(model.TaskIdentifySpeakers)): speakerIdentificationParametersSchema,
	}
	for name, raw := range schemas {
		if err := v.Register(name, raw); err != nil {
			return fmt.Errorf("register schema %s: %w", name, err)
		}
	}
	return nil
}

// ValidateTaskParameters checks parameters against task_type's registered
// schema, if any. Task creation does not call it.
func ValidateTaskParameters(v *schema.Validator, taskType string, parameters json.RawMessage) error {
	return validateAgainst(v, parametersSchemaName(taskType), parameters)
}

// ValidateExtraData checks extraData against task_type's registered
// schema, if any, called on mark_completed/mark_failed.
func ValidateExtraData(v *schema.Validator, taskType string, extraData json.RawMessage) error {
	return validateAgainst(v, extraDataSchemaName(taskType), extraData)
}

func validateAgainst(v *schema.Validator, name string, payload json.RawMessage) error {
	if !v.Registered(name) {
		return nil
	}
	return v.ValidateStrict(name, payload)
}
