package bragerone

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrTransport    = errors.New("backend transport error")
	ErrUnauthorized = errors.New("backend rejected credentials")
)

// TransportError wraps every failure talking to the BragerOne backend.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Timeout    bool
	Err        error
}

func (e *TransportError) Error() string {
	msg := "bragerone " + e.Op
	switch {
	case e.Timeout:
		msg += ": timed out"
	case e.StatusCode != 0:
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// AsTransportError wraps err unless it already is a TransportError.
// Deadline errors are flagged as timeouts.
func AsTransportError(op string, err error) *TransportError {
	var te *TransportError
	if errors.As(err, &te) {
		if !te.Timeout && errors.Is(err, context.DeadlineExceeded) {
			te.Timeout = true
		}
		return te
	}
	return &TransportError{
		Op:      op,
		Timeout: errors.Is(err, context.DeadlineExceeded),
		Err:     err,
	}
}
