package params

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// maxExactInt is the largest magnitude a float64 represents without gaps.
const maxExactInt = 1 << 53

// Normalize brings a raw or display value into the canonical set of
// bool, int64, float64 and string. Integral floats become int64 so that
// 2 and 2.0 compare equal in enum tables and command rules.
func Normalize(v any) (any, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		return x, true
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return float64(x), true
		}
		return int64(x), true
	case float32:
		return snap(float64(x)), true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, false
		}
		return snap(x), true
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, true
		}
		if f, err := x.Float64(); err == nil {
			return snap(f), true
		}
		return nil, false
	default:
		return nil, false
	}
}

// Equal compares two values after normalisation. Numbers compare by value
// regardless of int/float representation.
func Equal(a, b any) bool {
	na, ok := Normalize(a)
	if !ok {
		return false
	}
	nb, ok := Normalize(b)
	if !ok {
		return false
	}
	fa, aNum := asFloat(na)
	fb, bNum := asFloat(nb)
	if aNum && bNum {
		return fa == fb
	}
	return na == nb
}

// ParseInput interprets a textual payload (MQTT, query strings) as the most
// specific value it spells: bool, number, or the trimmed string itself.
func ParseInput(s string) any {
	t := strings.TrimSpace(s)
	if b, ok := parseBool(t); ok {
		return b
	}
	if i, err := strconv.ParseInt(t, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(t, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return snap(f)
	}
	return t
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

// numeric accepts numbers and numeric strings; booleans are rejected.
func numeric(v any) (float64, bool) {
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	n, ok := Normalize(v)
	if !ok {
		return 0, false
	}
	return asFloat(n)
}

// snap turns floats that are integral within rounding noise into int64.
func snap(f float64) any {
	if math.Abs(f) >= maxExactInt {
		return f
	}
	r := math.Round(f)
	if math.Abs(f-r) <= 1e-9*math.Max(1, math.Abs(f)) {
		return int64(r)
	}
	return f
}

// tidy drops binary noise below nine decimal places, then snaps.
func tidy(f float64) any {
	if math.Abs(f) >= maxExactInt {
		return f
	}
	return snap(math.Round(f*1e9) / 1e9)
}
