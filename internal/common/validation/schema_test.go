package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func alertSchema() Schema {
	return Schema{
		Fields: map[string]Field{
			"severity": {Type: "string", Enum: []string{"info", "warning", "critical"}},
			"message":  {Type: "string", MinLength: intPtr(1), MaxLength: intPtr(500)},
			"minutes":  {Type: "number", Minimum: floatPtr(0), Maximum: floatPtr(180)},
			"lines":    {Type: "array"},
			"urgent":   {Type: "boolean"},
			"alert_id": {Type: "string", Pattern: `^alert-\d+$`},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		data      map[string]interface{}
		wantValid bool
		wantCode  string
	}{
		{
			name: "conforming payload",
			data: map[string]interface{}{
				"severity": "warning",
				"message":  "Line 4 suspended",
				"minutes":  float64(30),
				"lines":    []interface{}{"4", "7"},
				"urgent":   true,
				"alert_id": "alert-42",
			},
			wantValid: true,
		},
		{
			name:      "empty payload passes when nothing is required",
			data:      nil,
			wantValid: true,
		},
		{
			name:      "unknown fields pass through",
			data:      map[string]interface{}{"experimental_flag": 1},
			wantValid: true,
		},
		{
			name:      "wrong type",
			data:      map[string]interface{}{"severity": 3},
			wantValid: false,
			wantCode:  "INVALID_TYPE",
		},
		{
			name:      "enum violation",
			data:      map[string]interface{}{"severity": "catastrophic"},
			wantValid: false,
			wantCode:  "INVALID_ENUM_VALUE",
		},
		{
			name:      "below minimum",
			data:      map[string]interface{}{"minutes": -5},
			wantValid: false,
			wantCode:  "MINIMUM_VIOLATION",
		},
		{
			name:      "integers accepted as numbers",
			data:      map[string]interface{}{"minutes": 15},
			wantValid: true,
		},
		{
			name:      "pattern mismatch",
			data:      map[string]interface{}{"alert_id": "42"},
			wantValid: false,
			wantCode:  "PATTERN_MISMATCH",
		},
		{
			name:      "too short",
			data:      map[string]interface{}{"message": ""},
			wantValid: false,
			wantCode:  "MIN_LENGTH_VIOLATION",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Validate(tt.data, alertSchema())
			assert.Equal(t, tt.wantValid, result.Valid)
			if tt.wantCode != "" {
				require.NotEmpty(t, result.Errors)
				assert.Equal(t, tt.wantCode, result.Errors[0].Code)
			}
		})
	}
}

func TestValidate_RequiredFields(t *testing.T) {
	schema := Schema{
		Fields:   map[string]Field{"message": {Type: "string"}},
		Required: []string{"message"},
	}

	result := Validate(map[string]interface{}{}, schema)

	require.False(t, result.Valid)
	assert.Equal(t, "REQUIRED_FIELD_MISSING", result.Errors[0].Code)
	assert.Equal(t, "message", result.Errors[0].Field)
}

func TestValidate_AccumulatesAllErrors(t *testing.T) {
	result := Validate(map[string]interface{}{
		"severity": "catastrophic",
		"minutes":  float64(999),
	}, alertSchema())

	assert.False(t, result.Valid)
	assert.Len(t, result.Errors, 2)
}
