package schema

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"id": {"type": "string"},
		"name": {"type": "string"},
		"email": {"type": "string", "format": "email"},
		"age": {"type": "integer", "minimum": 0}
	},
	"required": ["id", "email"]
}`

const chatSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"chat": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"type": {"type": "string", "enum": ["user", "assistant", "system"]},
					"text": {"type": "string"}
				},
				"required": ["type", "text"]
			}
		}
	},
	"required": ["chat"]
}`

func TestRegister(t *testing.T) {
	v := NewValidator()

	require.NoError(t, v.Register("user.v1", userSchema))
	assert.True(t, v.Registered("user.v1"))
	assert.Contains(t, v.Names(), "user.v1")

	t.Run("empty name rejected", func(t *testing.T) {
		err := v.Register("", userSchema)
		assert.ErrorContains(t, err, "cannot be empty")
	})

	t.Run("invalid schema rejected", func(t *testing.T) {
		err := v.Register("broken", "{not json")
		assert.Error(t, err)
	})

	t.Run("re-registering overwrites", func(t *testing.T) {
		require.NoError(t, v.Register("swap", userSchema))
		require.NoError(t, v.Register("swap", chatSchema))

		result, err := v.Validate("swap", []byte(`{"chat": [{"type": "user", "text": "hi"}]}`))
		require.NoError(t, err)
		assert.True(t, result.Valid)
	})
}

func TestValidate(t *testing.T) {
	v := NewValidator()
	require.NoError(t, v.Register("user.v1", userSchema))

	t.Run("valid data passes", func(t *testing.T) {
		result, err := v.Validate("user.v1", []byte(`{"id":"1","email":"a@b.com","age":30}`))
		require.NoError(t, err)
		assert.True(t, result.Valid)
		assert.Empty(t, result.Errors)
	})

	t.Run("missing required field fails", func(t *testing.T) {
		result, err := v.Validate("user.v1", []byte(`{"id":"1"}`))
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.NotEmpty(t, result.Errors)
	})

	t.Run("wrong type fails", func(t *testing.T) {
		result, err := v.Validate("user.v1", []byte(`{"id":"1","email":"a@b.com","age":"thirty"}`))
		require.NoError(t, err)
		assert.False(t, result.Valid)
	})

	t.Run("invalid email format fails", func(t *testing.T) {
		result, err := v.Validate("user.v1", []byte(`{"id":"1","email":"not-an-email"}`))
		require.NoError(t, err)
		assert.False(t, result.Valid)
	})

	t.Run("malformed JSON surfaces as a validation error, not a Go error", func(t *testing.T) {
		result, err := v.Validate("user.v1", []byte(`{invalid}`))
		require.NoError(t, err)
		assert.False(t, result.Valid)
		require.NotEmpty(t, result.Errors)
		assert.Equal(t, "invalid_json", result.Errors[0].Type)
	})

	t.Run("empty payload treated as empty object", func(t *testing.T) {
		result, err := v.Validate("user.v1", nil)
		require.NoError(t, err)
		assert.False(t, result.Valid)
	})

	t.Run("unregistered schema name validates vacuously", func(t *testing.T) {
		result, err := v.Validate("does.not.exist", []byte(`{"anything": true}`))
		require.NoError(t, err)
		assert.True(t, result.Valid)
	})
}

func TestValidateStrict(t *testing.T) {
	v := NewValidator()
	require.NoError(t, v.Register("user.v1", userSchema))

	assert.NoError(t, v.ValidateStrict("user.v1", []byte(`{"id":"1","email":"a@b.com"}`)))

	err := v.ValidateStrict("user.v1", []byte(`{"id":"1"}`))
	assert.ErrorContains(t, err, "validation failed")
}

func TestChatSchemaValidation(t *testing.T) {
	v := NewValidator()
	require.NoError(t, v.Register("chat.v1", chatSchema))

	t.Run("valid chat", func(t *testing.T) {
		result, err := v.Validate("chat.v1", []byte(`{"chat":[{"type":"user","text":"hi"},{"type":"assistant","text":"hello"}]}`))
		require.NoError(t, err)
		assert.True(t, result.Valid)
	})

	t.Run("rejects unknown enum value", func(t *testing.T) {
		result, err := v.Validate("chat.v1", []byte(`{"chat":[{"type":"robot","text":"hi"}]}`))
		require.NoError(t, err)
		assert.False(t, result.Valid)
	})
}

func TestConcurrentValidation(t *testing.T) {
	v := NewValidator()
	require.NoError(t, v.Register("user.v1", userSchema))

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			data := []byte(fmt.Sprintf(`{"id":"u%d","email":"a@b.com"}`, id))
			result, err := v.Validate("user.v1", data)
			if err != nil {
				errs <- err
				return
			}
			if !result.Valid {
				errs <- fmt.Errorf("unexpected invalid for id %d", id)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}
