package state

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Update is one value observation for a symbol. Revisions order updates of
// the same symbol; a higher revision is newer.
type Update struct {
	Symbol   string `json:"symbol"`
	Raw      any    `json:"raw"`
	Revision int64  `json:"revision"`
}

// Value is the stored state of one symbol.
type Value struct {
	Raw       any       `json:"raw"`
	Revision  int64     `json:"revision"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Outcome reports what ApplyDelta did with an update.
type Outcome int

const (
	Applied Outcome = iota
	DroppedUnknown
	DroppedStale
	DroppedUnprimed
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case DroppedUnknown:
		return "unknown_symbol"
	case DroppedStale:
		return "stale"
	case DroppedUnprimed:
		return "unprimed"
	default:
		return "unknown"
	}
}

// SymbolSet tells the store which symbols belong to the device profile.
type SymbolSet interface {
	Has(symbol string) bool
}

// Store merges snapshot and delta updates by revision. All access goes
// through one lock that is never held across I/O.
type Store struct {
	mu     sync.RWMutex
	known  SymbolSet
	values map[string]Value
	primed bool
	logger *zap.Logger
	now    func() time.Time
}

func NewStore(known SymbolSet, logger *zap.Logger) *Store {
	return &Store{
		known:  known,
		values: make(map[string]Value),
		logger: logger,
		now:    time.Now,
	}
}

// ApplySnapshot merges a full-state prime atomically. A value replaces the
// stored one unless the stored revision is newer. Symbols missing from the
// snapshot keep their value. It returns the updates that took effect.
func (s *Store) ApplySnapshot(updates []Update) []Update {
	applied := make([]Update, 0, len(updates))
	var skipped []string

	s.mu.Lock()
	now := s.now()
	for _, u := range updates {
		if !s.known.Has(u.Symbol) {
			skipped = append(skipped, u.Symbol)
			continue
		}
		if cur, ok := s.values[u.Symbol]; ok && cur.Revision > u.Revision {
			continue
		}
		s.values[u.Symbol] = Value{Raw: u.Raw, Revision: u.Revision, UpdatedAt: now}
		applied = append(applied, u)
	}
	s.primed = true
	s.mu.Unlock()

	if len(skipped) > 0 {
		s.logger.Debug("Snapshot entries without symbol skipped",
			zap.Strings("symbols", skipped))
	}
	s.logger.Info("Snapshot applied",
		zap.Int("received", len(updates)),
		zap.Int("applied", len(applied)))

	return applied
}

// ApplyDelta applies a single change if it is strictly newer than the
// stored value. Unknown symbols and deltas arriving before the first
// snapshot are dropped.
func (s *Store) ApplyDelta(u Update) Outcome {
	if !s.known.Has(u.Symbol) {
		s.logger.Warn("Delta for unknown symbol dropped",
			zap.String("symbol", u.Symbol),
			zap.Any("raw", u.Raw),
			zap.Int64("revision", u.Revision))
		return DroppedUnknown
	}

	s.mu.Lock()
	if !s.primed {
		s.mu.Unlock()
		s.logger.Debug("Delta before prime dropped", zap.String("symbol", u.Symbol))
		return DroppedUnprimed
	}
	if cur, ok := s.values[u.Symbol]; ok && cur.Revision >= u.Revision {
		s.mu.Unlock()
		s.logger.Debug("Stale delta dropped",
			zap.String("symbol", u.Symbol),
			zap.Int64("revision", u.Revision),
			zap.Int64("stored_revision", cur.Revision))
		return DroppedStale
	}
	s.values[u.Symbol] = Value{Raw: u.Raw, Revision: u.Revision, UpdatedAt: s.now()}
	s.mu.Unlock()

	return Applied
}

// Read returns the current value of a symbol. ok is false when no value
// has been observed yet.
func (s *Store) Read(symbol string) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[symbol]
	return v, ok
}

func (s *Store) Primed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primed
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Values returns a copy of all stored values.
func (s *Store) Values() map[string]Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Value, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Stream yields delta updates in arrival order until it fails or is closed.
type Stream interface {
	Recv() (Update, error)
	Close() error
}
