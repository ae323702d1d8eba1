package params

import (
	"fmt"
	"strings"

	"github.com/KevinKickass/BragerSync/internal/types"
)

// ConversionKind selects how display values map to raw values.
type ConversionKind int

const (
	ConversionPassthrough ConversionKind = iota
	ConversionEnum
	ConversionNumeric
)

func (k ConversionKind) String() string {
	switch k {
	case ConversionEnum:
		return "enum"
	case ConversionNumeric:
		return "numeric"
	default:
		return "passthrough"
	}
}

// RouteKind is the backend command shape a symbol is written with.
type RouteKind int

const (
	RouteUnroutable RouteKind = iota
	RouteDirectWrite
	RouteRawCommand
)

func (r RouteKind) String() string {
	switch r {
	case RouteDirectWrite:
		return "direct_write"
	case RouteRawCommand:
		return "raw_command"
	default:
		return "unroutable"
	}
}

func (r RouteKind) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// EnumMapping is a bijection between raw values and labels, kept in
// declaration order.
type EnumMapping struct {
	entries []types.EnumEntry
}

func (m *EnumMapping) Entries() []types.EnumEntry {
	out := make([]types.EnumEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *EnumMapping) Labels() []string {
	labels := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		labels = append(labels, e.Label)
	}
	return labels
}

func (m *EnumMapping) RawFor(label string) (any, bool) {
	for _, e := range m.entries {
		if e.Label == label {
			return e.Raw, true
		}
	}
	trimmed := strings.TrimSpace(label)
	for _, e := range m.entries {
		if strings.EqualFold(e.Label, trimmed) {
			return e.Raw, true
		}
	}
	return nil, false
}

func (m *EnumMapping) LabelFor(raw any) (string, bool) {
	for _, e := range m.entries {
		if Equal(e.Raw, raw) {
			return e.Label, true
		}
	}
	return "", false
}

// NumericTransform maps raw to display as raw*Scale + Offset.
type NumericTransform struct {
	Scale  float64
	Offset float64
}

func (t NumericTransform) Forward(raw float64) float64 {
	return raw*t.Scale + t.Offset
}

func (t NumericTransform) Inverse(display float64) float64 {
	return (display - t.Offset) / t.Scale
}

// Bounds limit the raw value accepted for transmission.
type Bounds struct {
	Min *float64
	Max *float64
}

func (b Bounds) Bounded() bool {
	return b.Min != nil || b.Max != nil
}

// Check returns the violated limit, if any.
func (b Bounds) Check(f float64) (float64, bool) {
	if b.Min != nil && f < *b.Min {
		return *b.Min, false
	}
	if b.Max != nil && f > *b.Max {
		return *b.Max, false
	}
	return 0, true
}

// Parameter is the immutable metadata of one symbol.
type Parameter struct {
	Symbol        string
	Label         string
	Unit          string
	Module        string
	Access        types.AccessType
	ComponentType string
	Address       *types.ParameterAddress
	Source        *types.ParameterAddress
	Conversion    ConversionKind
	Enum          *EnumMapping
	Transform     *NumericTransform
	Bounds        Bounds
	Rules         []types.CommandRule
	Route         RouteKind
}

func (p *Parameter) Writable() bool {
	return p.Access == types.AccessTypeReadWrite
}

// ReadAddress is where values for this symbol arrive from the backend.
func (p *Parameter) ReadAddress() *types.ParameterAddress {
	if p.Source != nil {
		return p.Source
	}
	return p.Address
}

// Registry holds the parameter tables of a loaded device profile. It is
// immutable after NewRegistry and safe for concurrent use.
type Registry struct {
	profile    types.DeviceProfileInfo
	modules    []string
	order      []string
	parameters map[string]*Parameter
	addresses  map[string]string
}

func NewRegistry(def *types.DeviceProfileDefinition) (*Registry, error) {
	r := &Registry{
		profile:    def.DeviceProfile,
		modules:    append([]string(nil), def.Modules...),
		parameters: make(map[string]*Parameter, len(def.Parameters)),
		addresses:  make(map[string]string),
	}

	for _, pd := range def.Parameters {
		p, err := buildParameter(pd, def.Modules)
		if err != nil {
			return nil, err
		}
		if _, exists := r.parameters[p.Symbol]; exists {
			return nil, fmt.Errorf("duplicate symbol %q", p.Symbol)
		}
		for _, addr := range []*types.ParameterAddress{p.Address, p.Source} {
			if addr == nil {
				continue
			}
			key := AddressKey(p.Module, addr.Pool, addr.Parameter())
			if owner, taken := r.addresses[key]; taken && owner != p.Symbol {
				return nil, fmt.Errorf("address %s of %q already used by %q", key, p.Symbol, owner)
			}
			r.addresses[key] = p.Symbol
		}
		r.parameters[p.Symbol] = p
		r.order = append(r.order, p.Symbol)
	}

	return r, nil
}

func buildParameter(pd types.ParameterDefinition, modules []string) (*Parameter, error) {
	symbol := strings.TrimSpace(pd.Symbol)
	if symbol == "" {
		return nil, fmt.Errorf("parameter without symbol")
	}

	p := &Parameter{
		Symbol:        symbol,
		Label:         pd.Label,
		Unit:          pd.Unit,
		Module:        pd.Module,
		Access:        pd.Access,
		ComponentType: pd.ComponentType,
		Address:       pd.Address,
		Source:        pd.Source,
		Bounds:        Bounds{Min: pd.Min, Max: pd.Max},
	}
	if p.Access == "" {
		p.Access = types.AccessTypeReadOnly
	}
	if p.Module == "" && len(modules) == 1 {
		p.Module = modules[0]
	}

	if len(pd.Enum) > 0 && pd.Transform != nil {
		return nil, fmt.Errorf("%s: enum and transform are mutually exclusive", symbol)
	}

	switch {
	case len(pd.Enum) > 0:
		mapping, err := buildEnum(symbol, pd.Enum)
		if err != nil {
			return nil, err
		}
		p.Conversion = ConversionEnum
		p.Enum = mapping
	case pd.Transform != nil:
		if pd.Transform.Scale == 0 {
			return nil, fmt.Errorf("%s: transform scale must not be zero", symbol)
		}
		p.Conversion = ConversionNumeric
		p.Transform = &NumericTransform{Scale: pd.Transform.Scale, Offset: pd.Transform.Offset}
	}

	if pd.Min != nil && pd.Max != nil && *pd.Min > *pd.Max {
		return nil, fmt.Errorf("%s: min %v exceeds max %v", symbol, *pd.Min, *pd.Max)
	}

	for _, rule := range pd.CommandRules {
		if strings.TrimSpace(rule.Command) == "" {
			return nil, fmt.Errorf("%s: command rule without command", symbol)
		}
		if rule.Value != nil {
			v, ok := Normalize(rule.Value)
			if !ok {
				return nil, fmt.Errorf("%s: command rule %s has unsupported value %v", symbol, rule.Command, rule.Value)
			}
			rule.Value = v
		}
		rule.Logic = strings.ToLower(strings.TrimSpace(rule.Logic))
		p.Rules = append(p.Rules, rule)
	}

	switch {
	case p.Address != nil:
		if p.Module == "" {
			return nil, fmt.Errorf("%s: address requires a module", symbol)
		}
		p.Route = RouteDirectWrite
	case len(p.Rules) > 0:
		if p.Module == "" {
			return nil, fmt.Errorf("%s: command rules require a module", symbol)
		}
		p.Route = RouteRawCommand
	}

	return p, nil
}

func buildEnum(symbol string, entries []types.EnumEntry) (*EnumMapping, error) {
	m := &EnumMapping{}
	for _, e := range entries {
		raw, ok := Normalize(e.Raw)
		if !ok {
			return nil, fmt.Errorf("%s: enum raw %v has unsupported type", symbol, e.Raw)
		}
		label := strings.TrimSpace(e.Label)
		if label == "" {
			return nil, fmt.Errorf("%s: enum raw %v has empty label", symbol, raw)
		}
		for _, seen := range m.entries {
			if Equal(seen.Raw, raw) {
				return nil, fmt.Errorf("%s: duplicate enum raw %v", symbol, raw)
			}
			if strings.EqualFold(seen.Label, label) {
				return nil, fmt.Errorf("%s: duplicate enum label %q", symbol, label)
			}
		}
		m.entries = append(m.entries, types.EnumEntry{Raw: raw, Label: label})
	}
	return m, nil
}

// AddressKey identifies a backend value location, e.g. "FTTCTBSLCE:P4.v1".
func AddressKey(module, pool, parameter string) string {
	return module + ":" + pool + "." + parameter
}

func (r *Registry) Profile() types.DeviceProfileInfo {
	return r.profile
}

func (r *Registry) Modules() []string {
	return append([]string(nil), r.modules...)
}

func (r *Registry) Lookup(symbol string) (*Parameter, bool) {
	p, ok := r.parameters[symbol]
	return p, ok
}

func (r *Registry) Has(symbol string) bool {
	_, ok := r.parameters[symbol]
	return ok
}

// Parameters returns all parameters in profile order.
func (r *Registry) Parameters() []*Parameter {
	out := make([]*Parameter, 0, len(r.order))
	for _, s := range r.order {
		out = append(out, r.parameters[s])
	}
	return out
}

func (r *Registry) Len() int {
	return len(r.order)
}

// SymbolAt resolves a backend address to the symbol reading it.
func (r *Registry) SymbolAt(module, pool, parameter string) (string, bool) {
	s, ok := r.addresses[AddressKey(module, pool, parameter)]
	return s, ok
}

func (r *Registry) ToRaw(symbol string, display any) (any, error) {
	p, ok := r.parameters[symbol]
	if !ok {
		return nil, newError(KindUnknownSymbol, symbol, display, "")
	}
	return p.ToRaw(display)
}

func (r *Registry) ToDisplay(symbol string, raw any) (any, error) {
	p, ok := r.parameters[symbol]
	if !ok {
		return nil, newError(KindUnknownSymbol, symbol, raw, "")
	}
	return p.ToDisplay(raw)
}
