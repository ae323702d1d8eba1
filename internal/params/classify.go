package params

import "strings"

// Platform is the presentation class of a parameter.
type Platform string

const (
	PlatformSensor       Platform = "sensor"
	PlatformBinarySensor Platform = "binary_sensor"
	PlatformSelect       Platform = "select"
	PlatformNumber       Platform = "number"
	PlatformSwitch       Platform = "switch"
	PlatformButton       Platform = "button"
)

// Platform infers how a parameter is best presented. Status symbols are
// binary sensors, read-only symbols sensors, writable enums selects and
// bounded writable values numbers; the component type decides the rest.
func (p *Parameter) Platform() Platform {
	symbol := strings.ToUpper(p.Symbol)
	component := strings.ToLower(p.ComponentType)

	if strings.HasPrefix(symbol, "STATUS_") || strings.Contains(component, "status") {
		return PlatformBinarySensor
	}
	if !p.Writable() {
		return PlatformSensor
	}
	if p.Conversion == ConversionEnum {
		return PlatformSelect
	}
	if p.Bounds.Min != nil && p.Bounds.Max != nil {
		return PlatformNumber
	}
	if strings.Contains(component, "button") || strings.Contains(component, "action") {
		return PlatformButton
	}
	return PlatformSwitch
}

// Summary counts the loaded parameters for diagnostics.
type Summary struct {
	ProfileID  string           `json:"profile_id"`
	Modules    []string         `json:"modules"`
	Total      int              `json:"total"`
	Writable   int              `json:"writable"`
	EnumMapped int              `json:"enum_mapped"`
	Numeric    int              `json:"numeric"`
	Platforms  map[Platform]int `json:"platforms"`
	Routes     map[string]int   `json:"routes"`
}

func (r *Registry) Summary() Summary {
	s := Summary{
		ProfileID: r.profile.ID,
		Modules:   r.Modules(),
		Total:     len(r.order),
		Platforms: make(map[Platform]int),
		Routes:    make(map[string]int),
	}
	for _, p := range r.Parameters() {
		if p.Writable() {
			s.Writable++
		}
		switch p.Conversion {
		case ConversionEnum:
			s.EnumMapped++
		case ConversionNumeric:
			s.Numeric++
		}
		s.Platforms[p.Platform()]++
		s.Routes[p.Route.String()]++
	}
	return s
}
