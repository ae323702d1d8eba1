package service

import (
	"context"
	"time"

	"github.com/KevinKickass/BragerSync/internal/params"
	"github.com/KevinKickass/BragerSync/internal/pipeline"
	"github.com/KevinKickass/BragerSync/internal/session"
	"github.com/KevinKickass/BragerSync/internal/state"
	"go.uber.org/zap"
)

// Writer is the write side of the service.
type Writer interface {
	Write(ctx context.Context, symbol string, value any) (*pipeline.Result, error)
}

// Service is the caller-facing surface over registry, store, write
// pipeline and session.
type Service struct {
	registry *params.Registry
	store    *state.Store
	writer   Writer
	session  *session.Manager
	journal  *pipeline.Journal
	logger   *zap.Logger
}

func New(registry *params.Registry, store *state.Store, writer Writer, manager *session.Manager, journal *pipeline.Journal, logger *zap.Logger) *Service {
	return &Service{
		registry: registry,
		store:    store,
		writer:   writer,
		session:  manager,
		journal:  journal,
		logger:   logger,
	}
}

func (s *Service) Registry() *params.Registry {
	return s.registry
}

func (s *Service) Write(ctx context.Context, symbol string, value any) (*pipeline.Result, error) {
	return s.writer.Write(ctx, symbol, value)
}

// ReadDisplay returns the display value of symbol. ok is false when the
// symbol is unknown or no value has been observed.
func (s *Service) ReadDisplay(symbol string) (any, bool) {
	v, ok := s.store.Read(symbol)
	if !ok {
		return nil, false
	}
	return s.Display(symbol, v.Raw), true
}

// Display converts a raw value for presentation. Values the registry
// cannot convert are logged and passed through unchanged.
func (s *Service) Display(symbol string, raw any) any {
	display, err := s.registry.ToDisplay(symbol, raw)
	if err != nil {
		s.logger.Warn("Raw value has no display form",
			zap.String("symbol", symbol),
			zap.Any("raw", raw),
			zap.Error(err))
		return raw
	}
	return display
}

func (s *Service) AddListener(l session.Listener) {
	s.session.AddListener(l)
}

func (s *Service) SessionStatus() session.Status {
	return s.session.Status()
}

// ParameterView is the presentation of one symbol with its current value.
type ParameterView struct {
	Symbol     string          `json:"symbol"`
	Label      string          `json:"label,omitempty"`
	Unit       string          `json:"unit,omitempty"`
	Platform   params.Platform `json:"platform"`
	Writable   bool            `json:"writable"`
	Route      string          `json:"route"`
	Conversion string          `json:"conversion"`
	Options    []string        `json:"options,omitempty"`
	Min        any             `json:"min,omitempty"`
	Max        any             `json:"max,omitempty"`
	Known      bool            `json:"known"`
	Value      any             `json:"value"`
	Raw        any             `json:"raw,omitempty"`
	Revision   int64           `json:"revision,omitempty"`
	UpdatedAt  *time.Time      `json:"updated_at,omitempty"`
}

func (s *Service) Parameters() []ParameterView {
	out := make([]ParameterView, 0, s.registry.Len())
	for _, p := range s.registry.Parameters() {
		out = append(out, s.view(p))
	}
	return out
}

func (s *Service) Parameter(symbol string) (ParameterView, bool) {
	p, ok := s.registry.Lookup(symbol)
	if !ok {
		return ParameterView{}, false
	}
	return s.view(p), true
}

func (s *Service) view(p *params.Parameter) ParameterView {
	v := ParameterView{
		Symbol:     p.Symbol,
		Label:      p.Label,
		Unit:       p.Unit,
		Platform:   p.Platform(),
		Writable:   p.Writable(),
		Route:      p.Route.String(),
		Conversion: p.Conversion.String(),
	}
	if p.Enum != nil {
		v.Options = p.Enum.Labels()
	}
	if p.Bounds.Min != nil {
		v.Min = s.boundDisplay(p, *p.Bounds.Min)
	}
	if p.Bounds.Max != nil {
		v.Max = s.boundDisplay(p, *p.Bounds.Max)
	}

	if cur, ok := s.store.Read(p.Symbol); ok {
		updated := cur.UpdatedAt
		v.Known = true
		v.Raw = cur.Raw
		v.Value = s.Display(p.Symbol, cur.Raw)
		v.Revision = cur.Revision
		v.UpdatedAt = &updated
	}
	return v
}

// boundDisplay shows raw limits in display units where a transform exists.
func (s *Service) boundDisplay(p *params.Parameter, limit float64) any {
	if p.Conversion != params.ConversionNumeric {
		return limit
	}
	display, err := p.ToDisplay(limit)
	if err != nil {
		return limit
	}
	return display
}

// Diagnostics summarises the loaded profile and the session.
type Diagnostics struct {
	Profile      params.Summary   `json:"profile"`
	Session      session.Status   `json:"session"`
	KnownValues  int              `json:"known_values"`
	RecentWrites []pipeline.Entry `json:"recent_writes"`
}

func (s *Service) Diagnostics() Diagnostics {
	d := Diagnostics{
		Profile:     s.registry.Summary(),
		Session:     s.session.Status(),
		KnownValues: s.store.Len(),
	}
	if s.journal != nil {
		d.RecentWrites = s.journal.Recent()
	}
	return d
}
