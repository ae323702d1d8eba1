package session

import "github.com/KevinKickass/BragerSync/internal/state"

// Listener is notified of session transitions and of every value the store
// accepted, from snapshots and deltas alike. Callbacks run on the session
// goroutine and must not block.
type Listener interface {
	OnStateChange(from, to State, cause error)
	OnUpdate(update state.Update)
}

// DeltaObserver is an optional Listener extension receiving the outcome of
// every delta, including dropped ones.
type DeltaObserver interface {
	ObserveDelta(update state.Update, outcome state.Outcome)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
// Disconnected fires on every drop into Disconnected, including a failed
// subscribe during Priming, and when a Live session stops.
type ListenerFuncs struct {
	Live         func()
	Disconnected func(cause error)
	Update       func(update state.Update)
}

func (f ListenerFuncs) OnStateChange(from, to State, cause error) {
	switch {
	case to == StateLive && f.Live != nil:
		f.Live()
	case f.Disconnected == nil:
	case to == StateDisconnected && from != StateStopped,
		to == StateStopped && from == StateLive:
		f.Disconnected(cause)
	}
}

func (f ListenerFuncs) OnUpdate(update state.Update) {
	if f.Update != nil {
		f.Update(update)
	}
}
