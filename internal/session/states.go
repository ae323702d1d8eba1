package session

import (
	"fmt"
	"time"
)

type State int

const (
	StateDisconnected State = iota
	StatePriming
	StateLive
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StatePriming:
		return "PRIMING"
	case StateLive:
		return "LIVE"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time view of the session.
type Status struct {
	State      State     `json:"state"`
	Since      time.Time `json:"since"`
	LastError  string    `json:"last_error,omitempty"`
	Primes     int       `json:"primes"`
	Reconnects int       `json:"reconnects"`
	LastPrime  time.Time `json:"last_prime,omitempty"`
}

func ValidateTransition(from, to State) error {
	validTransitions := map[State][]State{
		StateDisconnected: {StatePriming, StateStopped},
		StatePriming:      {StateLive, StateDisconnected, StateStopped},
		StateLive:         {StateDisconnected, StateStopped},
		StateStopped:      {StateDisconnected},
	}

	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("invalid current state: %s", from)
	}

	for _, validTo := range allowed {
		if validTo == to {
			return nil
		}
	}

	return fmt.Errorf("invalid state transition: %s -> %s", from, to)
}
