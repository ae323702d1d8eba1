package session

import (
	"context"
	"sync"
	"time"

	"github.com/KevinKickass/BragerSync/internal/state"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Source is the backend side of a session: a full-state snapshot and a
// delta subscription.
type Source interface {
	Snapshot(ctx context.Context) ([]state.Update, error)
	Subscribe(ctx context.Context) (state.Stream, error)
}

type Config struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// StableAfter is how long a silent stream must stay Live before the
	// reconnect backoff starts over.
	StableAfter time.Duration
}

// Manager runs the prime/subscribe/reconnect loop for one device session
// and feeds everything it receives into the store.
type Manager struct {
	source Source
	store  *state.Store
	cfg    Config
	jitter float64
	logger *zap.Logger

	mu     sync.RWMutex
	status Status

	listenersMu sync.RWMutex
	listeners   []Listener
}

func NewManager(source Source, store *state.Store, cfg Config, logger *zap.Logger) *Manager {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = 60 * time.Second
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = 30 * time.Second
	}
	return &Manager{
		source: source,
		store:  store,
		cfg:    cfg,
		jitter: backoff.DefaultRandomizationFactor,
		logger: logger,
		status: Status{State: StateDisconnected, Since: time.Now()},
	}
}

func (m *Manager) AddListener(l Listener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.State
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.InitialBackoff
	b.MaxInterval = m.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.RandomizationFactor = m.jitter
	b.Reset()
	return b
}

// Run drives the session until ctx is cancelled. Deltas are only consumed
// after the snapshot of the same connection cycle has been applied.
func (m *Manager) Run(ctx context.Context) error {
	if m.State() == StateStopped {
		m.transition(StateDisconnected, nil)
	}
	defer func() {
		m.transition(StateStopped, nil)
		m.logger.Info("Session stopped")
	}()

	// The reconnect backoff spans cycles. Only a stream that delivered
	// data or stayed up for StableAfter starts it over.
	reconnect := m.newBackOff()

	for {
		m.transition(StatePriming, nil)

		updates, err := m.prime(ctx)
		if err != nil || ctx.Err() != nil {
			return nil
		}
		applied := m.store.ApplySnapshot(updates)
		m.recordPrime()
		for _, u := range applied {
			m.notifyUpdate(u)
		}

		stream, err := m.source.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.logger.Warn("Delta subscription failed", zap.Error(err))
			m.transition(StateDisconnected, err)
			if !m.wait(ctx, reconnect) {
				return nil
			}
			continue
		}

		m.transition(StateLive, nil)
		liveSince := time.Now()

		delivered, err := m.consume(ctx, stream)
		stream.Close()
		if ctx.Err() != nil {
			return nil
		}

		if delivered > 0 || time.Since(liveSince) >= m.cfg.StableAfter {
			reconnect.Reset()
		}

		m.logger.Warn("Delta stream lost", zap.Error(err), zap.Int("delivered", delivered))
		m.transition(StateDisconnected, err)
		m.mu.Lock()
		m.status.Reconnects++
		m.mu.Unlock()

		if !m.wait(ctx, reconnect) {
			return nil
		}
	}
}

// prime fetches a snapshot, retrying with its own backoff while staying in
// Priming. It only fails when ctx is cancelled.
func (m *Manager) prime(ctx context.Context) ([]state.Update, error) {
	op := func() ([]state.Update, error) {
		return m.source.Snapshot(ctx)
	}
	notify := func(err error, next time.Duration) {
		m.logger.Warn("Prime failed, retrying",
			zap.Error(err),
			zap.Duration("retry_in", next))
		m.setLastError(err)
	}
	return backoff.RetryNotifyWithData(op, backoff.WithContext(m.newBackOff(), ctx), notify)
}

// consume feeds deltas into the store until the stream fails and reports
// how many it received.
func (m *Manager) consume(ctx context.Context, stream state.Stream) (int, error) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			stream.Close()
		case <-stop:
		}
	}()

	delivered := 0
	for {
		u, err := stream.Recv()
		if err != nil {
			return delivered, err
		}
		delivered++
		outcome := m.store.ApplyDelta(u)
		m.observeDelta(u, outcome)
		if outcome == state.Applied {
			m.notifyUpdate(u)
		}
	}
}

// wait sleeps for the next backoff interval. It returns false if ctx was
// cancelled first.
func (m *Manager) wait(ctx context.Context, b backoff.BackOff) bool {
	d := b.NextBackOff()
	if d == backoff.Stop {
		d = m.cfg.MaxBackoff
	}
	m.logger.Info("Reconnecting", zap.Duration("delay", d))

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *Manager) transition(to State, cause error) {
	m.mu.Lock()
	from := m.status.State
	if from == to {
		m.mu.Unlock()
		return
	}
	if err := ValidateTransition(from, to); err != nil {
		m.mu.Unlock()
		m.logger.Error("Rejected session transition", zap.Error(err))
		return
	}
	m.status.State = to
	m.status.Since = time.Now()
	if cause != nil {
		m.status.LastError = cause.Error()
	}
	m.mu.Unlock()

	m.logger.Info("Session state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to))

	for _, l := range m.snapshotListeners() {
		l.OnStateChange(from, to, cause)
	}
}

func (m *Manager) recordPrime() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Primes++
	m.status.LastPrime = time.Now()
	m.status.LastError = ""
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.LastError = err.Error()
}

func (m *Manager) notifyUpdate(u state.Update) {
	for _, l := range m.snapshotListeners() {
		l.OnUpdate(u)
	}
}

func (m *Manager) observeDelta(u state.Update, outcome state.Outcome) {
	for _, l := range m.snapshotListeners() {
		if o, ok := l.(DeltaObserver); ok {
			o.ObserveDelta(u, outcome)
		}
	}
}

func (m *Manager) snapshotListeners() []Listener {
	m.listenersMu.RLock()
	defer m.listenersMu.RUnlock()
	return append([]Listener(nil), m.listeners...)
}
