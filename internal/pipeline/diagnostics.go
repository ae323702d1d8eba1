package pipeline

import (
	"sync"
	"time"
)

// Outcome of a write attempt.
type Outcome string

const (
	OutcomeSent            Outcome = "sent"
	OutcomeValidationError Outcome = "validation_error"
	OutcomeTransportError  Outcome = "transport_error"
)

// Entry is the diagnostic record emitted for every write attempt.
type Entry struct {
	Time      time.Time     `json:"time"`
	Symbol    string        `json:"symbol"`
	Input     any           `json:"input"`
	Raw       any           `json:"raw,omitempty"`
	Route     string        `json:"route,omitempty"`
	CommandID string        `json:"command_id,omitempty"`
	Outcome   Outcome       `json:"outcome"`
	Reason    string        `json:"reason,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Recorder receives diagnostic entries. Implementations must not block.
type Recorder interface {
	RecordWrite(Entry)
}

// Journal keeps the most recent write entries in a ring.
type Journal struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

func NewJournal(size int) *Journal {
	if size <= 0 {
		size = 1
	}
	return &Journal{entries: make([]Entry, size)}
}

func (j *Journal) RecordWrite(e Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[j.next] = e
	j.next = (j.next + 1) % len(j.entries)
	if j.next == 0 {
		j.full = true
	}
}

// Recent returns entries newest first.
func (j *Journal) Recent() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	n := j.next
	if j.full {
		n = len(j.entries)
	}
	out := make([]Entry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (j.next - i + len(j.entries)) % len(j.entries)
		out = append(out, j.entries[idx])
	}
	return out
}
