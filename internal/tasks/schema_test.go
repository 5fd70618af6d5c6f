package tasks

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transcribee/coordinator/internal/model"
	"github.com/transcribee/coordinator/pkg/schema"
)

func TestRegisterDefaultSchemas(t *testing.T) {
	v := schema.NewValidator()
	require.NoError(t, RegisterDefaultSchemas(v))
	assert.True(t, v.Registered(parametersSchemaName(string(model.TaskTranscribe))))
	assert.True(t, v.Registered(parametersSchemaName(string(model.TaskIdentifySpeakers))))
}

func TestValidateTaskParametersRejectsMissingFields(t *testing.T) {
	v := schema.NewValidator()
	require.NoError(t, RegisterDefaultSchemas(v))

	err := ValidateTaskParameters(v, string(model.TaskTranscribe), json.RawMessage(`{"model":"tiny"}`))
	assert.Error(t, err)

	err = ValidateTaskParameters(v, string(model.TaskTranscribe), json.RawMessage(`{"model":"tiny","lang":"en"}`))
	assert.NoError(t, err)
}

func TestValidateTaskParametersVacuousForUnknownType(t *testing.T) {
	v := schema.NewValidator()
	require.NoError(t, RegisterDefaultSchemas(v))

	err := ValidateTaskParameters(v, "SOME_FUTURE_WORKER", json.RawMessage(`{"anything": true}`))
	assert.NoError(t, err)
}

func TestValidateExtraDataVacuousWhenUnregistered(t *testing.T) {
	v := schema.NewValidator()
	err := ValidateExtraData(v, string(model.TaskTranscribe), json.RawMessage(`{"whatever":1}`))
	assert.NoError(t, err)
}
