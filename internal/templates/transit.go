// internal/templates/transit.go
package templates

import (
	"fmt"
	"strings"

	"transit-notifications/internal/common/validation"
	"transit-notifications/internal/models"
)

func floatPtr(v float64) *float64 { return &v }

type busArrivalTemplate struct{}

func (busArrivalTemplate) Type() string { return TypeBusArrival }

func (busArrivalTemplate) Title(data map[string]interface{}) string {
	return fmt.Sprintf("Bus %s Arriving", str(data, "bus_number"))
}

func (busArrivalTemplate) Body(data map[string]interface{}) string {
	busNumber := str(data, "bus_number")
	stopName := str(data, "stop_name")
	minutes := intval(data, "minutes")
	if minutes <= 1 {
		return fmt.Sprintf("Bus %s is arriving now at %s", busNumber, stopName)
	}
	return fmt.Sprintf("Bus %s will arrive at %s in %d minutes", busNumber, stopName, minutes)
}

func (busArrivalTemplate) Icon(map[string]interface{}) string  { return "ic_bus_arrival" }
func (busArrivalTemplate) Color(map[string]interface{}) string { return ColorInfo }
func (busArrivalTemplate) ChannelID() string                   { return "bus_arrivals" }

func (busArrivalTemplate) Payload(data map[string]interface{}) *models.DataPayload {
	return &models.DataPayload{
		Action: "open_bus_details",
		Screen: "BusDetailsScreen",
		Data:   pick(data, "bus_id", "stop_id", "line_id", "estimated_arrival"),
	}
}

func (busArrivalTemplate) Schema() validation.Schema {
	return validation.Schema{
		Fields: map[string]validation.Field{
			"bus_number": {Type: "string"},
			"stop_name":  {Type: "string"},
			"minutes":    {Type: "number", Minimum: floatPtr(0)},
		},
	}
}

type busDelayTemplate struct{}

func (busDelayTemplate) Type() string { return TypeBusDelay }

func (busDelayTemplate) Title(data map[string]interface{}) string {
	return fmt.Sprintf("Bus Delay - Line %s", str(data, "line_name"))
}

func (busDelayTemplate) Body(data map[string]interface{}) string {
	busNumber := str(data, "bus_number")
	delay := intval(data, "delay_minutes")
	if reason := str(data, "reason"); reason != "" {
		return fmt.Sprintf("Bus %s is delayed by %d minutes. Reason: %s", busNumber, delay, reason)
	}
	return fmt.Sprintf("Bus %s is delayed by %d minutes", busNumber, delay)
}

func (busDelayTemplate) Icon(map[string]interface{}) string  { return "ic_bus_delay" }
func (busDelayTemplate) Color(map[string]interface{}) string { return ColorWarning }
func (busDelayTemplate) ChannelID() string                   { return "bus_delays" }

func (busDelayTemplate) Payload(data map[string]interface{}) *models.DataPayload {
	return &models.DataPayload{
		Action: "open_line_details",
		Screen: "LineDetailsScreen",
		Data:   pick(data, "bus_id", "line_id", "delay_minutes", "reason"),
	}
}

func (busDelayTemplate) Schema() validation.Schema {
	return validation.Schema{
		Fields: map[string]validation.Field{
			"bus_number":    {Type: "string"},
			"line_name":     {Type: "string"},
			"delay_minutes": {Type: "number", Minimum: floatPtr(0)},
			"reason":        {Type: "string"},
		},
	}
}

type tripStartTemplate struct{}

func (tripStartTemplate) Type() string                         { return TypeTripStart }
func (tripStartTemplate) Title(map[string]interface{}) string  { return "Trip Started" }
func (tripStartTemplate) Icon(map[string]interface{}) string   { return "ic_trip_start" }
func (tripStartTemplate) Color(map[string]interface{}) string  { return ColorSuccess }
func (tripStartTemplate) ChannelID() string                    { return "trip_updates" }

func (tripStartTemplate) Body(data map[string]interface{}) string {
	return fmt.Sprintf("Bus %s started its journey on line %s",
		str(data, "bus_number"), str(data, "line_name"))
}

func (tripStartTemplate) Payload(data map[string]interface{}) *models.DataPayload {
	return &models.DataPayload{
		Action: "track_bus",
		Screen: "BusTrackingScreen",
		Data:   pick(data, "bus_id", "trip_id", "line_id"),
	}
}

type tripEndTemplate struct{}

func (tripEndTemplate) Type() string                        { return TypeTripEnd }
func (tripEndTemplate) Title(map[string]interface{}) string { return "Trip Completed" }
func (tripEndTemplate) Icon(map[string]interface{}) string  { return "ic_trip_end" }
func (tripEndTemplate) Color(map[string]interface{}) string { return ColorSuccess }
func (tripEndTemplate) ChannelID() string                   { return "trip_updates" }

func (tripEndTemplate) Body(data map[string]interface{}) string {
	return fmt.Sprintf("Bus %s completed its journey on line %s",
		str(data, "bus_number"), str(data, "line_name"))
}

func (tripEndTemplate) Payload(data map[string]interface{}) *models.DataPayload {
	return &models.DataPayload{
		Action: "view_trip_summary",
		Screen: "TripSummaryScreen",
		Data:   pick(data, "trip_id", "bus_id", "line_id"),
	}
}

type routeChangeTemplate struct{}

func (routeChangeTemplate) Type() string { return TypeRouteChange }

func (routeChangeTemplate) Title(data map[string]interface{}) string {
	return fmt.Sprintf("Route Change - Line %s", str(data, "line_name"))
}

func (routeChangeTemplate) Body(data map[string]interface{}) string {
	return strings.TrimSpace(fmt.Sprintf("Route has been temporarily changed. %s", str(data, "reason")))
}

func (routeChangeTemplate) Icon(map[string]interface{}) string  { return "ic_route_change" }
func (routeChangeTemplate) Color(map[string]interface{}) string { return ColorWarning }
func (routeChangeTemplate) ChannelID() string                   { return "route_updates" }

func (routeChangeTemplate) Payload(data map[string]interface{}) *models.DataPayload {
	return &models.DataPayload{
		Action: "view_route_changes",
		Screen: "RouteUpdatesScreen",
		Data:   pick(data, "line_id", "reason"),
	}
}

type serviceAlertTemplate struct{}

func (serviceAlertTemplate) Type() string { return TypeServiceAlert }

func severity(data map[string]interface{}) string {
	s := strings.ToLower(str(data, "severity"))
	if s == "" {
		return "info"
	}
	return s
}

func (serviceAlertTemplate) Title(data map[string]interface{}) string {
	switch severity(data) {
	case "critical":
		return "Critical Service Alert"
	case "warning":
		return "Service Alert"
	default:
		return "Service Information"
	}
}

func (serviceAlertTemplate) Body(data map[string]interface{}) string {
	message := str(data, "message")
	if lines := strSlice(data, "affected_lines"); len(lines) > 0 {
		return fmt.Sprintf("%s Affected lines: %s", message, strings.Join(lines, ", "))
	}
	return message
}

func (serviceAlertTemplate) Icon(data map[string]interface{}) string {
	return "ic_alert_" + severity(data)
}

func (serviceAlertTemplate) Color(data map[string]interface{}) string {
	switch severity(data) {
	case "critical":
		return ColorError
	case "warning":
		return ColorWarning
	default:
		return ColorInfo
	}
}

func (serviceAlertTemplate) ChannelID() string { return "service_alerts" }

func (serviceAlertTemplate) Payload(data map[string]interface{}) *models.DataPayload {
	return &models.DataPayload{
		Action: "view_service_alerts",
		Screen: "ServiceAlertsScreen",
		Data:   pick(data, "alert_id", "severity", "affected_lines"),
	}
}

func (serviceAlertTemplate) Schema() validation.Schema {
	return validation.Schema{
		Fields: map[string]validation.Field{
			"severity":       {Type: "string", Enum: []string{"info", "warning", "critical"}},
			"message":        {Type: "string"},
			"affected_lines": {Type: "array"},
		},
	}
}

type maintenanceTemplate struct{}

func (maintenanceTemplate) Type() string                        { return TypeMaintenance }
func (maintenanceTemplate) Title(map[string]interface{}) string { return "Scheduled Maintenance" }
func (maintenanceTemplate) Icon(map[string]interface{}) string  { return "ic_maintenance" }
func (maintenanceTemplate) Color(map[string]interface{}) string { return ColorWarning }
func (maintenanceTemplate) ChannelID() string                   { return "maintenance" }

func (maintenanceTemplate) Body(data map[string]interface{}) string {
	return strings.TrimSpace(fmt.Sprintf("Scheduled maintenance from %s to %s. %s",
		str(data, "start_time"), str(data, "end_time"), str(data, "affected_services")))
}

func (maintenanceTemplate) Payload(data map[string]interface{}) *models.DataPayload {
	return &models.DataPayload{
		Action: "view_maintenance_info",
		Screen: "MaintenanceScreen",
		Data:   pick(data, "maintenance_id", "start_time", "end_time"),
	}
}

type promotionalTemplate struct{}

func (promotionalTemplate) Type() string { return TypePromotional }

func (promotionalTemplate) Title(data map[string]interface{}) string {
	if title := str(data, "title"); title != "" {
		return title
	}
	return "Special Offer"
}

func (promotionalTemplate) Body(data map[string]interface{}) string {
	if message := str(data, "message"); message != "" {
		return message
	}
	return "Check out our latest offers!"
}

func (promotionalTemplate) Icon(map[string]interface{}) string  { return "ic_promotion" }
func (promotionalTemplate) Color(map[string]interface{}) string { return ColorSuccess }
func (promotionalTemplate) ChannelID() string                   { return "promotions" }

func (promotionalTemplate) Payload(data map[string]interface{}) *models.DataPayload {
	return &models.DataPayload{
		Action: "view_promotion",
		Screen: "PromotionsScreen",
		Data:   pick(data, "promotion_id", "deep_link"),
	}
}
