// Package validation checks notification data payloads against per-type
// schemas. Schemas constrain the shape of values a client may attach to a
// template; fields the schema does not mention pass through untouched, so a
// schema never blocks new payload keys.
package validation

import (
	"fmt"
	"regexp"
)

// Schema describes the accepted shape of a template's data map.
type Schema struct {
	Fields   map[string]Field `json:"fields"`
	Required []string         `json:"required,omitempty"`
}

// Field constrains a single payload value. Zero-value constraints are not
// enforced.
type Field struct {
	Type      string   `json:"type"` // string, number, boolean, array
	Enum      []string `json:"enum,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	Minimum   *float64 `json:"minimum,omitempty"`
	Maximum   *float64 `json:"maximum,omitempty"`
	MinLength *int     `json:"minLength,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty"`
}

// Result carries the per-field findings of one validation pass.
type Result struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Validate checks data against the schema. Missing required fields and
// constraint violations accumulate; validation never stops at the first
// finding.
func Validate(data map[string]interface{}, schema Schema) *Result {
	var errs []FieldError

	for _, required := range schema.Required {
		if _, ok := data[required]; !ok {
			errs = append(errs, FieldError{
				Field:   required,
				Message: "required field missing",
				Code:    "REQUIRED_FIELD_MISSING",
			})
		}
	}

	for name, value := range data {
		field, ok := schema.Fields[name]
		if !ok {
			continue
		}
		errs = append(errs, validateField(name, value, field)...)
	}

	return &Result{Valid: len(errs) == 0, Errors: errs}
}

func validateField(name string, value interface{}, field Field) []FieldError {
	if err := validateType(value, field.Type); err != nil {
		// A wrong type makes the remaining constraints meaningless.
		return []FieldError{{Field: name, Message: err.Error(), Code: "INVALID_TYPE"}}
	}

	var errs []FieldError
	if strVal, ok := value.(string); ok {
		if field.MinLength != nil && len(strVal) < *field.MinLength {
			errs = append(errs, FieldError{
				Field:   name,
				Message: fmt.Sprintf("value must be at least %d characters", *field.MinLength),
				Code:    "MIN_LENGTH_VIOLATION",
			})
		}
		if field.MaxLength != nil && len(strVal) > *field.MaxLength {
			errs = append(errs, FieldError{
				Field:   name,
				Message: fmt.Sprintf("value must be at most %d characters", *field.MaxLength),
				Code:    "MAX_LENGTH_VIOLATION",
			})
		}
		if field.Pattern != "" {
			matched, err := regexp.MatchString(field.Pattern, strVal)
			if err != nil || !matched {
				errs = append(errs, FieldError{
					Field:   name,
					Message: fmt.Sprintf("value must match pattern %s", field.Pattern),
					Code:    "PATTERN_MISMATCH",
				})
			}
		}
		if len(field.Enum) > 0 && !contains(field.Enum, strVal) {
			errs = append(errs, FieldError{
				Field:   name,
				Message: fmt.Sprintf("value must be one of %v", field.Enum),
				Code:    "INVALID_ENUM_VALUE",
			})
		}
	}

	if numVal, ok := asNumber(value); ok {
		if field.Minimum != nil && numVal < *field.Minimum {
			errs = append(errs, FieldError{
				Field:   name,
				Message: fmt.Sprintf("value must be >= %g", *field.Minimum),
				Code:    "MINIMUM_VIOLATION",
			})
		}
		if field.Maximum != nil && numVal > *field.Maximum {
			errs = append(errs, FieldError{
				Field:   name,
				Message: fmt.Sprintf("value must be <= %g", *field.Maximum),
				Code:    "MAXIMUM_VIOLATION",
			})
		}
	}
	return errs
}

func validateType(value interface{}, expected string) error {
	if expected == "" || value == nil {
		return nil
	}
	switch expected {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
	case "number":
		if _, ok := asNumber(value); !ok {
			return fmt.Errorf("expected number, got %T", value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}
	case "array":
		if _, ok := value.([]interface{}); !ok {
			return fmt.Errorf("expected array, got %T", value)
		}
	}
	return nil
}

// asNumber accepts the numeric types JSON decoding and Go callers produce.
func asNumber(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
