package types

import "fmt"

// DeviceProfileDefinition describes one BragerOne controller installation:
// the modules it exposes and every parameter symbol the service knows about.
type DeviceProfileDefinition struct {
	DeviceProfile DeviceProfileInfo     `json:"device_profile" yaml:"device_profile"`
	Modules       []string              `json:"modules" yaml:"modules"`
	Parameters    []ParameterDefinition `json:"parameters" yaml:"parameters"`
}

type DeviceProfileInfo struct {
	ID          string `json:"id" yaml:"id"`
	Vendor      string `json:"vendor" yaml:"vendor"`
	Model       string `json:"model" yaml:"model"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type ParameterDefinition struct {
	Symbol        string               `json:"symbol" yaml:"symbol"`
	Label         string               `json:"label,omitempty" yaml:"label,omitempty"`
	Unit          string               `json:"unit,omitempty" yaml:"unit,omitempty"`
	Module        string               `json:"module,omitempty" yaml:"module,omitempty"`
	Access        AccessType           `json:"access" yaml:"access"`
	ComponentType string               `json:"component_type,omitempty" yaml:"component_type,omitempty"`
	Address       *ParameterAddress    `json:"address,omitempty" yaml:"address,omitempty"`
	Source        *ParameterAddress    `json:"source,omitempty" yaml:"source,omitempty"`
	Enum          []EnumEntry          `json:"enum,omitempty" yaml:"enum,omitempty"`
	Transform     *TransformDefinition `json:"transform,omitempty" yaml:"transform,omitempty"`
	Min           *float64             `json:"min,omitempty" yaml:"min,omitempty"`
	Max           *float64             `json:"max,omitempty" yaml:"max,omitempty"`
	CommandRules  []CommandRule        `json:"command_rules,omitempty" yaml:"command_rules,omitempty"`
}

// ParameterAddress locates a value inside a module: pool "P4", chan "v", idx 1.
type ParameterAddress struct {
	Pool string `json:"pool" yaml:"pool"`
	Chan string `json:"chan" yaml:"chan"`
	Idx  int    `json:"idx" yaml:"idx"`
}

// Parameter returns the chan+idx form the backend expects, e.g. "v1".
func (a ParameterAddress) Parameter() string {
	return fmt.Sprintf("%s%d", a.Chan, a.Idx)
}

func (a ParameterAddress) String() string {
	return a.Pool + "." + a.Parameter()
}

type EnumEntry struct {
	Raw   any    `json:"raw" yaml:"raw"`
	Label string `json:"label" yaml:"label"`
}

type TransformDefinition struct {
	Scale  float64 `json:"scale" yaml:"scale"`
	Offset float64 `json:"offset" yaml:"offset"`
}

type CommandRule struct {
	Command string `json:"command" yaml:"command"`
	Value   any    `json:"value,omitempty" yaml:"value,omitempty"`
	Logic   string `json:"logic,omitempty" yaml:"logic,omitempty"`
}

type AccessType string

const (
	AccessTypeReadOnly  AccessType = "read_only"
	AccessTypeReadWrite AccessType = "read_write"
)
