package flow

import (
	"testing"
	"time"

	"github.com/BTreeMap/FlowDesk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepValidators(t *testing.T) {
	at := time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		fn    StepValidator
		input string
		want  string
		ok    bool
	}{
		{"name ok", ValidateName, "  maría   josé  pérez ", "María José Pérez", true},
		{"name single word", ValidateName, "Jane", "", false},
		{"name digits", ValidateName, "Jane D0e", "", false},
		{"name empty", ValidateName, "", "", false},
		{"phone spaced", ValidatePhone, "+57 300 111 2233", "+573001112233", true},
		{"phone dashed no plus", ValidatePhone, "1-555-010-9999", "+15550109999", true},
		{"phone short", ValidatePhone, "12345", "", false},
		{"phone letters", ValidatePhone, "call me", "", false},
		{"email ok", ValidateEmail, " Jane@Example.COM ", "jane@example.com", true},
		{"email no domain", ValidateEmail, "jane@", "", false},
		{"email plain", ValidateEmail, "jane", "", false},
		{"birth ok", ValidateBirthDate, "25/12/1990", "1990-12-25", true},
		{"birth today", ValidateBirthDate, "09/06/2025", "2025-06-09", true},
		{"birth future", ValidateBirthDate, "10/06/2025", "", false},
		{"birth us format", ValidateBirthDate, "12/25/1990", "", false},
		{"birth iso", ValidateBirthDate, "1990-12-25", "", false},
		{"birth ancient", ValidateBirthDate, "01/01/1850", "", false},
		{"about ok", ValidateAbout, "  I like deep house and espresso  ", "I like deep house and espresso", true},
		{"about short", ValidateAbout, "house music", "", false},
		{"about padded short", ValidateAbout, "   short text here    ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn(tt.input, at)
			if !tt.ok {
				require.Error(t, err)
				assert.ErrorIs(t, err, models.ErrInvalidStepInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultStepsTable(t *testing.T) {
	steps := DefaultSteps()
	require.NoError(t, ValidateSteps(steps))
	fields := make([]string, len(steps))
	for i, s := range steps {
		fields[i] = s.Field
		assert.NotEmpty(t, s.Retry, s.Field)
		assert.NotEmpty(t, s.Label, s.Field)
	}
	assert.Equal(t, []string{FieldName, FieldPhone, FieldEmail, FieldBirthDate, FieldAbout}, fields)
	assert.Equal(t, "What is your full name?", steps[0].Prompt)

	steps[0].Prompt = "changed"
	assert.Equal(t, "What is your full name?", DefaultSteps()[0].Prompt)
}

func TestValidateStepsDuplicateField(t *testing.T) {
	steps := DefaultSteps()
	steps[1].Field = steps[0].Field
	assert.Error(t, ValidateSteps(steps))
}
