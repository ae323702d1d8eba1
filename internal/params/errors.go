package params

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a rejected write or conversion.
type ErrorKind string

const (
	KindUnknownSymbol     ErrorKind = "unknown_symbol"
	KindInvalidEnumLabel  ErrorKind = "invalid_enum_label"
	KindUnmappedEnumValue ErrorKind = "unmapped_enum_value"
	KindInvalidValue      ErrorKind = "invalid_value"
	KindOutOfBounds       ErrorKind = "out_of_bounds"
	KindUnroutableSymbol  ErrorKind = "unroutable_symbol"
	KindReadOnly          ErrorKind = "read_only"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrUnknownSymbol     = errors.New("unknown symbol")
	ErrInvalidEnumLabel  = errors.New("invalid enum label")
	ErrUnmappedEnumValue = errors.New("unmapped enum value")
	ErrInvalidValue      = errors.New("invalid value")
	ErrOutOfBounds       = errors.New("value out of bounds")
	ErrUnroutableSymbol  = errors.New("unroutable symbol")
	ErrReadOnly          = errors.New("symbol is read-only")
)

var kindErrors = map[ErrorKind]error{
	KindUnknownSymbol:     ErrUnknownSymbol,
	KindInvalidEnumLabel:  ErrInvalidEnumLabel,
	KindUnmappedEnumValue: ErrUnmappedEnumValue,
	KindInvalidValue:      ErrInvalidValue,
	KindOutOfBounds:       ErrOutOfBounds,
	KindUnroutableSymbol:  ErrUnroutableSymbol,
	KindReadOnly:          ErrReadOnly,
}

// ValidationError is returned for every input rejected before it reaches
// the backend. Limit is set for KindOutOfBounds.
type ValidationError struct {
	Kind   ErrorKind `json:"kind"`
	Symbol string    `json:"symbol"`
	Value  any       `json:"value,omitempty"`
	Limit  any       `json:"limit,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Symbol, kindErrors[e.Kind])
	if e.Value != nil {
		msg += fmt.Sprintf(" (value %v)", e.Value)
	}
	if e.Limit != nil {
		msg += fmt.Sprintf(" (limit %v)", e.Limit)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation || target == kindErrors[e.Kind]
}

func newError(kind ErrorKind, symbol string, value any, detail string) *ValidationError {
	return &ValidationError{Kind: kind, Symbol: symbol, Value: value, Detail: detail}
}

// NewUnroutableError reports a symbol the router cannot turn into a command.
func NewUnroutableError(symbol string, value any, detail string) *ValidationError {
	return newError(KindUnroutableSymbol, symbol, value, detail)
}
