// Package testutil holds fixtures shared by package tests.
package testutil

import "github.com/KevinKickass/BragerSync/internal/types"

const Module = "FTTCTBSLCE"

func float(v float64) *float64 { return &v }

// Profile returns a small boiler profile covering every conversion kind
// and route.
func Profile() *types.DeviceProfileDefinition {
	return &types.DeviceProfileDefinition{
		DeviceProfile: types.DeviceProfileInfo{
			ID:      "brager-boiler-test",
			Vendor:  "Brager",
			Model:   "PellPlus",
			Version: "1.0",
		},
		Modules: []string{Module},
		Parameters: []types.ParameterDefinition{
			{
				Symbol:  "Mode",
				Label:   "Operating mode",
				Access:  types.AccessTypeReadWrite,
				Address: &types.ParameterAddress{Pool: "P6", Chan: "v", Idx: 2},
				Enum: []types.EnumEntry{
					{Raw: 1, Label: "Comfort"},
					{Raw: 2, Label: "Eco"},
					{Raw: 3, Label: "Antifreeze"},
				},
			},
			{
				Symbol:    "Temperature",
				Label:     "Set temperature",
				Unit:      "°C",
				Access:    types.AccessTypeReadWrite,
				Address:   &types.ParameterAddress{Pool: "P4", Chan: "v", Idx: 1},
				Transform: &types.TransformDefinition{Scale: 0.1},
				Min:       float(0),
				Max:       float(400),
			},
			{
				Symbol:    "BoilerTemp",
				Label:     "Boiler temperature",
				Unit:      "°C",
				Access:    types.AccessTypeReadOnly,
				Address:   &types.ParameterAddress{Pool: "P5", Chan: "v", Idx: 3},
				Transform: &types.TransformDefinition{Scale: 0.1, Offset: -10},
			},
			{
				Symbol: "STATUS_PUMP",
				Access: types.AccessTypeReadOnly,
				Source: &types.ParameterAddress{Pool: "P5", Chan: "s", Idx: 40},
			},
			{
				Symbol:        "HeatingSwitch",
				Access:        types.AccessTypeReadWrite,
				ComponentType: "switch",
				Source:        &types.ParameterAddress{Pool: "P6", Chan: "s", Idx: 5},
				CommandRules: []types.CommandRule{
					{Command: "MODULE_HEATING_ON", Logic: "on", Value: 1},
					{Command: "MODULE_HEATING_OFF", Logic: "off", Value: 0},
				},
			},
			{
				Symbol: "Orphan",
				Access: types.AccessTypeReadWrite,
			},
		},
	}
}
