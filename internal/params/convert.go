package params

import "strings"

// ToRaw converts a caller supplied display value into the raw value the
// backend stores. Enum symbols accept a label or one of their raw values.
func (p *Parameter) ToRaw(display any) (any, error) {
	switch p.Conversion {
	case ConversionEnum:
		if label, ok := display.(string); ok {
			if raw, found := p.Enum.RawFor(label); found {
				return raw, nil
			}
		}
		for _, e := range p.Enum.entries {
			if Equal(e.Raw, display) {
				return e.Raw, nil
			}
		}
		return nil, newError(KindInvalidEnumLabel, p.Symbol, display, "")

	case ConversionNumeric:
		f, ok := numeric(display)
		if !ok {
			return nil, newError(KindInvalidValue, p.Symbol, display, "expected a number")
		}
		return tidy(p.Transform.Inverse(f)), nil

	default:
		if s, isString := display.(string); isString && p.booleanValued() {
			if b, ok := parseBool(s); ok {
				return b, nil
			}
		}
		v, ok := Normalize(display)
		if !ok {
			return nil, newError(KindInvalidValue, p.Symbol, display, "unsupported type")
		}
		return v, nil
	}
}

// CheckBounds returns raw in the form it is sent. A bounded symbol only
// takes numbers; numeric strings are coerced first.
func (p *Parameter) CheckBounds(raw any) (any, error) {
	if !p.Bounds.Bounded() {
		return raw, nil
	}
	f, ok := numeric(raw)
	if !ok {
		return nil, newError(KindInvalidValue, p.Symbol, raw, "expected a number within bounds")
	}
	if limit, ok := p.Bounds.Check(f); !ok {
		return nil, &ValidationError{Kind: KindOutOfBounds, Symbol: p.Symbol, Value: raw, Limit: limit}
	}
	if n, ok := Normalize(raw); ok {
		if _, isNum := asFloat(n); isNum {
			return n, nil
		}
	}
	return snap(f), nil
}

func (p *Parameter) booleanValued() bool {
	component := strings.ToLower(p.ComponentType)
	return strings.Contains(component, "switch") || strings.Contains(component, "binary_sensor")
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true":
		return true, true
	case "off", "false":
		return false, true
	}
	return false, false
}

// ToDisplay converts a raw backend value for presentation. A raw value
// outside an enum table yields KindUnmappedEnumValue.
func (p *Parameter) ToDisplay(raw any) (any, error) {
	switch p.Conversion {
	case ConversionEnum:
		if label, ok := p.Enum.LabelFor(raw); ok {
			return label, nil
		}
		return nil, newError(KindUnmappedEnumValue, p.Symbol, raw, "")

	case ConversionNumeric:
		f, ok := numeric(raw)
		if !ok {
			return nil, newError(KindInvalidValue, p.Symbol, raw, "expected a number")
		}
		return tidy(p.Transform.Forward(f)), nil

	default:
		v, ok := Normalize(raw)
		if !ok {
			return nil, newError(KindInvalidValue, p.Symbol, raw, "unsupported type")
		}
		return v, nil
	}
}
