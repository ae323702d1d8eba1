package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/KevinKickass/BragerSync/internal/bragerone"
	"github.com/KevinKickass/BragerSync/internal/command"
	"github.com/KevinKickass/BragerSync/internal/params"
	"go.uber.org/zap"
)

const defaultWriteTimeout = 10 * time.Second

// Submitter delivers a resolved command to the backend.
type Submitter interface {
	Submit(ctx context.Context, cmd command.OutboundCommand) error
}

// Result describes an accepted write.
type Result struct {
	Symbol   string                  `json:"symbol"`
	Input    any                     `json:"input"`
	Raw      any                     `json:"raw"`
	Command  command.OutboundCommand `json:"command"`
	Duration time.Duration           `json:"duration"`
}

// Pipeline validates, converts, routes and submits caller writes. It never
// touches the state store: values change only when the backend reports
// them back.
type Pipeline struct {
	registry  *params.Registry
	router    *command.Router
	submitter Submitter
	timeout   time.Duration
	recorders []Recorder
	logger    *zap.Logger
}

func New(registry *params.Registry, router *command.Router, submitter Submitter, timeout time.Duration, logger *zap.Logger, recorders ...Recorder) *Pipeline {
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return &Pipeline{
		registry:  registry,
		router:    router,
		submitter: submitter,
		timeout:   timeout,
		recorders: recorders,
		logger:    logger,
	}
}

// Write sends a display value for symbol to the backend. Validation
// failures return *params.ValidationError and never reach the transport;
// delivery failures return *bragerone.TransportError.
func (p *Pipeline) Write(ctx context.Context, symbol string, value any) (*Result, error) {
	start := time.Now()
	entry := Entry{Time: start, Symbol: symbol, Input: value}

	res, err := p.write(ctx, symbol, value, &entry)

	entry.Duration = time.Since(start)
	switch {
	case err == nil:
		entry.Outcome = OutcomeSent
		res.Duration = entry.Duration
	case errors.Is(err, params.ErrValidation):
		entry.Outcome = OutcomeValidationError
		var verr *params.ValidationError
		if errors.As(err, &verr) {
			entry.Reason = string(verr.Kind)
		}
		entry.Error = err.Error()
	default:
		entry.Outcome = OutcomeTransportError
		var terr *bragerone.TransportError
		if errors.As(err, &terr) && terr.Timeout {
			entry.Reason = "timeout"
		}
		entry.Error = err.Error()
	}
	p.emit(entry)

	return res, err
}

func (p *Pipeline) write(ctx context.Context, symbol string, value any, entry *Entry) (*Result, error) {
	param, ok := p.registry.Lookup(symbol)
	if !ok {
		return nil, &params.ValidationError{Kind: params.KindUnknownSymbol, Symbol: symbol, Value: value}
	}
	entry.Route = param.Route.String()

	if !param.Writable() {
		return nil, &params.ValidationError{Kind: params.KindReadOnly, Symbol: symbol, Value: value}
	}

	raw, err := param.ToRaw(value)
	if err != nil {
		return nil, err
	}
	entry.Raw = raw

	raw, err = param.CheckBounds(raw)
	if err != nil {
		return nil, err
	}
	entry.Raw = raw

	cmd, err := p.router.Route(param, raw)
	if err != nil {
		return nil, err
	}
	entry.CommandID = cmd.ID.String()

	submitCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.submitter.Submit(submitCtx, cmd); err != nil {
		terr := bragerone.AsTransportError("submit command", err)
		if !terr.Timeout && errors.Is(submitCtx.Err(), context.DeadlineExceeded) {
			terr.Timeout = true
		}
		return nil, terr
	}

	return &Result{Symbol: symbol, Input: value, Raw: raw, Command: cmd}, nil
}

func (p *Pipeline) emit(e Entry) {
	fields := []zap.Field{
		zap.String("symbol", e.Symbol),
		zap.Any("input", e.Input),
		zap.Any("raw", e.Raw),
		zap.String("route", e.Route),
		zap.String("outcome", string(e.Outcome)),
		zap.Duration("duration", e.Duration),
	}
	if e.CommandID != "" {
		fields = append(fields, zap.String("command_id", e.CommandID))
	}

	switch e.Outcome {
	case OutcomeSent:
		p.logger.Info("Parameter write sent", fields...)
	case OutcomeValidationError:
		p.logger.Warn("Parameter write rejected", append(fields, zap.String("reason", e.Reason), zap.String("error", e.Error))...)
	default:
		p.logger.Error("Parameter write failed", append(fields, zap.String("reason", e.Reason), zap.String("error", e.Error))...)
	}

	for _, r := range p.recorders {
		r.RecordWrite(e)
	}
}
