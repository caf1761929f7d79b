package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuleapp/shule/core"
)

func TestNewMessageValidateReportsTranslatedFieldErrors(t *testing.T) {
	validate, translator := core.NewValidator()

	tests := []struct {
		name  string
		nm    NewMessage
		field string
		text  string
	}{
		{"missing body", NewMessage{To: "t1"}, "message", "this field is required"},
		{"blank body", NewMessage{To: "t1", Body: "   "}, "message", "this field is required"},
		{"missing recipient", NewMessage{Body: "hi"}, "to", "this field is required"},
		{"body too long", NewMessage{To: "t1", Body: strings.Repeat("a", 2001)}, "message", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.nm.Validate(validate, translator)
			require.Error(t, err)

			vErr, ok := err.(*core.ValidationError)
			require.True(t, ok, "want *core.ValidationError, got %T", err)
			require.NotEmpty(t, vErr.Fields)
			assert.Equal(t, tt.field, vErr.Fields[0].Field)
			if tt.text != "" {
				assert.Equal(t, tt.text, vErr.Fields[0].Error)
			} else {
				assert.NotEmpty(t, vErr.Fields[0].Error)
			}
		})
	}
}

func TestNewMessageValidateCleansInput(t *testing.T) {
	validate, translator := core.NewValidator()

	nm := NewMessage{To: "  t1 ", Body: "  hello  ", Subject: " greetings "}
	require.NoError(t, nm.Validate(validate, translator))
	assert.Equal(t, "t1", nm.To)
	assert.Equal(t, "hello", nm.Body)
	assert.Equal(t, "greetings", nm.Subject)
}
