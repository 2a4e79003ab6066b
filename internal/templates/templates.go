// Package templates holds the closed set of notification templates. Every
// supported notification type is a Template implementation registered at init;
// Register admits extensions explicitly instead of accepting arbitrary
// payload-driven formats.
package templates

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"transit-notifications/internal/common/errors"
	"transit-notifications/internal/common/validation"
	"transit-notifications/internal/models"
)

// Android accent colors shared by the templates.
const (
	ColorDefault = "#2196F3"
	ColorSuccess = "#4CAF50"
	ColorWarning = "#FF9800"
	ColorError   = "#F44336"
	ColorInfo    = "#00BCD4"
)

// Known template types.
const (
	TypeBusArrival   = "bus_arrival"
	TypeBusDelay     = "bus_delay"
	TypeTripStart    = "trip_start"
	TypeTripEnd      = "trip_end"
	TypeRouteChange  = "route_change"
	TypeServiceAlert = "service_alert"
	TypeMaintenance  = "maintenance"
	TypePromotional  = "promotional"
)

// Template renders one notification type from a data map. Icon and Color take
// the data map because some templates (service alerts) vary with severity.
type Template interface {
	Type() string
	Title(data map[string]interface{}) string
	Body(data map[string]interface{}) string
	Icon(data map[string]interface{}) string
	Color(data map[string]interface{}) string
	ChannelID() string
	Payload(data map[string]interface{}) *models.DataPayload
}

var (
	mu       sync.RWMutex
	registry = map[string]Template{}
)

func init() {
	Register(busArrivalTemplate{})
	Register(busDelayTemplate{})
	Register(tripStartTemplate{})
	Register(tripEndTemplate{})
	Register(routeChangeTemplate{})
	Register(serviceAlertTemplate{})
	Register(maintenanceTemplate{})
	Register(promotionalTemplate{})
}

// Register adds or replaces a template. Lookup is case-insensitive.
func Register(t Template) {
	mu.Lock()
	registry[strings.ToLower(t.Type())] = t
	mu.Unlock()
}

// Get returns the template for templateType or an UNKNOWN_TEMPLATE error.
func Get(templateType string) (Template, error) {
	mu.RLock()
	t, ok := registry[strings.ToLower(templateType)]
	mu.RUnlock()
	if !ok {
		return nil, errors.NewUnknownTemplateError(templateType)
	}
	return t, nil
}

// Available returns the registered template types, sorted.
func Available() []string {
	mu.RLock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	mu.RUnlock()
	sort.Strings(out)
	return out
}

// SchemaProvider is implemented by templates that constrain their data map.
// Templates without a schema accept any payload.
type SchemaProvider interface {
	Schema() validation.Schema
}

// Validate checks the data map against the template's schema, if it has one.
func Validate(t Template, data map[string]interface{}) error {
	provider, ok := t.(SchemaProvider)
	if !ok {
		return nil
	}
	result := validation.Validate(data, provider.Schema())
	if result.Valid {
		return nil
	}
	details := make([]string, 0, len(result.Errors))
	for _, fieldErr := range result.Errors {
		details = append(details, fmt.Sprintf("%s: %s", fieldErr.Field, fieldErr.Message))
	}
	return errors.NewInvalidPayloadError(strings.Join(details, "; "))
}

// Render builds the push display content for a template and data map.
func Render(t Template, data map[string]interface{}) models.PushContent {
	return models.PushContent{
		Title:     t.Title(data),
		Body:      t.Body(data),
		Icon:      t.Icon(data),
		Color:     t.Color(data),
		Sound:     "default",
		ChannelID: t.ChannelID(),
	}
}

// str reads a string field from the data map, tolerating missing keys and
// non-string values.
func str(data map[string]interface{}, key string) string {
	if data == nil {
		return ""
	}
	switch v := data[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// intval reads a numeric field from the data map; JSON decoding yields
// float64, callers may also pass int directly.
func intval(data map[string]interface{}, key string) int {
	if data == nil {
		return 0
	}
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func strSlice(data map[string]interface{}, key string) []string {
	if data == nil {
		return nil
	}
	switch v := data[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	default:
		return nil
	}
}

func pick(data map[string]interface{}, keys ...string) map[string]interface{} {
	out := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		if data != nil {
			out[k] = data[k]
		} else {
			out[k] = nil
		}
	}
	return out
}
