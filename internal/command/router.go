package command

import (
	"fmt"
	"strings"

	"github.com/KevinKickass/BragerSync/internal/params"
	"github.com/KevinKickass/BragerSync/internal/types"
	"github.com/google/uuid"
)

// OutboundCommand is a fully resolved backend write. It carries everything
// the transport needs and no reference back into the registry.
type OutboundCommand struct {
	ID        uuid.UUID        `json:"id"`
	Symbol    string           `json:"symbol"`
	Route     params.RouteKind `json:"route"`
	Module    string           `json:"devid"`
	Pool      string           `json:"pool,omitempty"`
	Parameter string           `json:"parameter,omitempty"`
	Command   string           `json:"command,omitempty"`
	Value     any              `json:"value"`
}

func (c OutboundCommand) String() string {
	if c.Route == params.RouteRawCommand {
		return fmt.Sprintf("%s %s=%v", c.Module, c.Command, c.Value)
	}
	return fmt.Sprintf("%s %s.%s=%v", c.Module, c.Pool, c.Parameter, c.Value)
}

// Router resolves a symbol and raw value into an OutboundCommand. It has
// no state besides the id source.
type Router struct {
	newID func() uuid.UUID
}

func NewRouter() *Router {
	return &Router{newID: uuid.New}
}

func (r *Router) Route(p *params.Parameter, raw any) (OutboundCommand, error) {
	cmd := OutboundCommand{
		ID:     r.newID(),
		Symbol: p.Symbol,
		Route:  p.Route,
		Module: p.Module,
		Value:  raw,
	}

	switch p.Route {
	case params.RouteDirectWrite:
		cmd.Pool = p.Address.Pool
		cmd.Parameter = p.Address.Parameter()
		return cmd, nil

	case params.RouteRawCommand:
		rule, ok := SelectRule(p.Rules, raw)
		if !ok {
			return OutboundCommand{}, params.NewUnroutableError(p.Symbol, raw, "no command rule matches value")
		}
		cmd.Command = rule.Command
		if rule.Value != nil {
			cmd.Value = rule.Value
		}
		return cmd, nil

	default:
		return OutboundCommand{}, params.NewUnroutableError(p.Symbol, raw, "no address or command rule")
	}
}

// SelectRule picks the command rule for a raw value. On/off rules match
// booleans, fixed-value rules match equal values, and a rule without a
// value accepts anything. ok is false when nothing matches.
func SelectRule(rules []types.CommandRule, raw any) (types.CommandRule, bool) {
	if logic, ok := logicOf(raw); ok {
		for _, rule := range rules {
			if rule.Logic == logic {
				return rule, true
			}
		}
	}
	for _, rule := range rules {
		if rule.Value != nil && params.Equal(rule.Value, raw) {
			return rule, true
		}
	}
	for _, rule := range rules {
		if rule.Value == nil && rule.Logic == "" {
			return rule, true
		}
	}
	return types.CommandRule{}, false
}

func logicOf(raw any) (string, bool) {
	switch v := raw.(type) {
	case bool:
		if v {
			return "on", true
		}
		return "off", true
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		if s == "on" || s == "off" {
			return s, true
		}
	}
	return "", false
}
