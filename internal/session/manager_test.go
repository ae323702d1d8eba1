package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/BragerSync/internal/state"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type symbols map[string]bool

func (s symbols) Has(symbol string) bool { return s[symbol] }

var errStreamClosed = errors.New("stream closed")

type fakeStream struct {
	deltas    chan state.Update
	fail      chan error
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		deltas: make(chan state.Update, 16),
		fail:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

func (s *fakeStream) Recv() (state.Update, error) {
	select {
	case u := <-s.deltas:
		return u, nil
	case err := <-s.fail:
		return state.Update{}, err
	case <-s.done:
		return state.Update{}, errStreamClosed
	}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

type fakeSource struct {
	t     *testing.T
	store *state.Store

	mu            sync.Mutex
	snapshotFails int
	snapshots     int
	subscribes    int
	streams       chan *fakeStream
	snapshot      []state.Update
	blockNext     bool
	entered       chan struct{}
}

func (f *fakeSource) Snapshot(ctx context.Context) ([]state.Update, error) {
	f.mu.Lock()
	f.snapshots++
	if f.blockNext {
		f.blockNext = false
		f.mu.Unlock()
		f.entered <- struct{}{}
		<-ctx.Done()
		return []state.Update{{Symbol: "Mode", Raw: int64(9), Revision: 99}}, ctx.Err()
	}
	defer f.mu.Unlock()
	if f.snapshotFails > 0 {
		f.snapshotFails--
		return nil, errors.New("backend unavailable")
	}
	return f.snapshot, nil
}

func (f *fakeSource) Subscribe(ctx context.Context) (state.Stream, error) {
	assert.True(f.t, f.store.Primed(), "subscribe before prime")
	f.mu.Lock()
	f.subscribes++
	f.mu.Unlock()
	s := newFakeStream()
	f.streams <- s
	return s, nil
}

func (f *fakeSource) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots, f.subscribes
}

type recorder struct {
	mu          sync.Mutex
	transitions []State
	updates     []state.Update
	outcomes    []state.Outcome
}

func (r *recorder) OnStateChange(from, to State, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, to)
}

func (r *recorder) OnUpdate(u state.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) ObserveDelta(u state.Update, o state.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.transitions...)
}

type harness struct {
	store   *state.Store
	source  *fakeSource
	manager *Manager
	rec     *recorder
	cancel  context.CancelFunc
	done    chan error
}

func start(t *testing.T, snapshotFails int) *harness {
	t.Helper()
	store := state.NewStore(symbols{"Mode": true, "Temperature": true}, zap.NewNop())
	source := &fakeSource{
		t:             t,
		store:         store,
		snapshotFails: snapshotFails,
		streams:       make(chan *fakeStream, 4),
		entered:       make(chan struct{}, 1),
		snapshot: []state.Update{
			{Symbol: "Mode", Raw: int64(1), Revision: 1},
			{Symbol: "Temperature", Raw: int64(215), Revision: 1},
		},
	}
	m := NewManager(source, store, Config{InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}, zap.NewNop())
	rec := &recorder{}
	m.AddListener(rec)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{store: store, source: source, manager: m, rec: rec, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) nextStream(t *testing.T) *fakeStream {
	t.Helper()
	select {
	case s := <-h.source.streams:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription")
		return nil
	}
}

// waitStates blocks until the listener has seen exactly the given transitions.
func (h *harness) waitStates(t *testing.T, want ...State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, h.rec.states())
	}, 2*time.Second, time.Millisecond, "transitions: %v", h.rec.states())
}

func TestPrimeThenLive(t *testing.T) {
	h := start(t, 0)
	h.nextStream(t)
	h.waitStates(t, StatePriming, StateLive)

	v, ok := h.store.Read("Temperature")
	require.True(t, ok)
	assert.Equal(t, int64(215), v.Raw)
	assert.Equal(t, 1, h.manager.Status().Primes)
}

func TestPrimeRetriesWhilePriming(t *testing.T) {
	h := start(t, 3)
	h.nextStream(t)
	h.waitStates(t, StatePriming, StateLive)

	snapshots, _ := h.source.counts()
	assert.Equal(t, 4, snapshots)
}

func TestDeltasAppliedInOrderAndUnknownDropped(t *testing.T) {
	h := start(t, 0)
	stream := h.nextStream(t)

	stream.deltas <- state.Update{Symbol: "Ghost", Raw: int64(1), Revision: 2}
	stream.deltas <- state.Update{Symbol: "Mode", Raw: int64(2), Revision: 3}
	stream.deltas <- state.Update{Symbol: "Mode", Raw: int64(3), Revision: 2}

	require.Eventually(t, func() bool {
		h.rec.mu.Lock()
		defer h.rec.mu.Unlock()
		return len(h.rec.outcomes) == 3
	}, time.Second, time.Millisecond)

	v, _ := h.store.Read("Mode")
	assert.Equal(t, int64(2), v.Raw)

	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	assert.Equal(t, []state.Outcome{state.DroppedUnknown, state.Applied, state.DroppedStale}, h.rec.outcomes)
	assert.Len(t, h.rec.updates, 3, "two snapshot values and one delta")
}

func TestReconnectReprimes(t *testing.T) {
	h := start(t, 0)
	first := h.nextStream(t)

	first.fail <- errors.New("connection reset")
	h.nextStream(t)
	h.waitStates(t, StatePriming, StateLive, StateDisconnected, StatePriming, StateLive)

	snapshots, subscribes := h.source.counts()
	assert.Equal(t, 2, snapshots)
	assert.Equal(t, 2, subscribes)

	status := h.manager.Status()
	assert.Equal(t, 1, status.Reconnects)
	assert.Equal(t, 2, status.Primes)
}

func TestCancelStops(t *testing.T) {
	h := start(t, 0)
	h.nextStream(t)
	h.waitStates(t, StatePriming, StateLive)

	h.cancel()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	h.done <- nil

	assert.Equal(t, StateStopped, h.manager.State())
}

func TestCancelDuringPrimeBackoff(t *testing.T) {
	h := start(t, 1000)
	require.Eventually(t, func() bool {
		snapshots, _ := h.source.counts()
		return snapshots > 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, StatePriming, h.manager.State())

	h.cancel()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	h.done <- nil
	assert.Equal(t, StateStopped, h.manager.State())
}

func TestCancelDuringBlockedReprime(t *testing.T) {
	h := start(t, 0)
	first := h.nextStream(t)
	h.waitStates(t, StatePriming, StateLive)

	h.source.mu.Lock()
	h.source.blockNext = true
	h.source.mu.Unlock()
	first.fail <- errors.New("connection reset")

	select {
	case <-h.source.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot not requested")
	}
	assert.Equal(t, StatePriming, h.manager.State())

	h.cancel()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	h.done <- nil

	assert.Equal(t, StateStopped, h.manager.State())
	v, ok := h.store.Read("Mode")
	require.True(t, ok)
	assert.Equal(t, int64(1), v.Raw)
	assert.Equal(t, int64(1), v.Revision)
	assert.Equal(t, 1, h.manager.Status().Primes)

	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	assert.Len(t, h.rec.updates, 2, "only the first snapshot reaches listeners")
}

// timedSource serves snapshots and records when each subscribe happens.
type timedSource struct {
	mu       sync.Mutex
	attempts []time.Time
	mode     string
}

func (s *timedSource) Snapshot(ctx context.Context) ([]state.Update, error) {
	return []state.Update{{Symbol: "Mode", Raw: int64(1), Revision: 1}}, nil
}

func (s *timedSource) Subscribe(ctx context.Context) (state.Stream, error) {
	s.mu.Lock()
	s.attempts = append(s.attempts, time.Now())
	s.mu.Unlock()

	switch s.mode {
	case "refused":
		return nil, errors.New("websocket handshake failed")
	case "delta then drop":
		return &scriptedStream{deltas: []state.Update{{Symbol: "Mode", Raw: int64(2), Revision: 2}}}, nil
	}
	return &scriptedStream{}, nil
}

// scriptedStream yields its deltas and then fails.
type scriptedStream struct {
	deltas []state.Update
}

func (s *scriptedStream) Recv() (state.Update, error) {
	if len(s.deltas) == 0 {
		return state.Update{}, errors.New("connection reset")
	}
	u := s.deltas[0]
	s.deltas = s.deltas[1:]
	return u, nil
}

func (s *scriptedStream) Close() error { return nil }

func (s *timedSource) gaps() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []time.Duration
	for i := 1; i < len(s.attempts); i++ {
		out = append(out, s.attempts[i].Sub(s.attempts[i-1]))
	}
	return out
}

func runSteady(t *testing.T, source Source, cfg Config) {
	t.Helper()
	store := state.NewStore(symbols{"Mode": true}, zap.NewNop())
	m := NewManager(source, store, cfg, zap.NewNop())
	m.jitter = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitGaps(t *testing.T, s *timedSource, n int) []time.Duration {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(s.gaps()) >= n
	}, 10*time.Second, 5*time.Millisecond)
	return s.gaps()[:n]
}

func TestReconnectBackoffGrows(t *testing.T) {
	for _, mode := range []string{"refused", "dropped at once"} {
		t.Run(mode, func(t *testing.T) {
			src := &timedSource{mode: mode}
			runSteady(t, src, Config{InitialBackoff: 10 * time.Millisecond, MaxBackoff: 5 * time.Second})

			want := float64(10 * time.Millisecond)
			for i, gap := range waitGaps(t, src, 7) {
				assert.GreaterOrEqual(t, gap, time.Duration(want), "gap %d", i)
				want *= backoff.DefaultMultiplier
			}
		})
	}
}

func TestReconnectBackoffCapped(t *testing.T) {
	src := &timedSource{mode: "refused"}
	runSteady(t, src, Config{InitialBackoff: 10 * time.Millisecond, MaxBackoff: 40 * time.Millisecond})

	gaps := waitGaps(t, src, 10)
	for i, gap := range gaps[4:] {
		assert.GreaterOrEqual(t, gap, 40*time.Millisecond, "gap %d", i+4)
		assert.Less(t, gap, 250*time.Millisecond, "gap %d", i+4)
	}
}

func TestReconnectBackoffResetsAfterData(t *testing.T) {
	src := &timedSource{mode: "delta then drop"}
	runSteady(t, src, Config{InitialBackoff: 10 * time.Millisecond, MaxBackoff: 5 * time.Second})

	gaps := waitGaps(t, src, 8)
	assert.Less(t, gaps[7], 100*time.Millisecond)
}

func TestValidateTransition(t *testing.T) {
	assert.NoError(t, ValidateTransition(StateDisconnected, StatePriming))
	assert.NoError(t, ValidateTransition(StatePriming, StateLive))
	assert.NoError(t, ValidateTransition(StateLive, StateDisconnected))
	assert.Error(t, ValidateTransition(StateDisconnected, StateLive))
	assert.Error(t, ValidateTransition(StateLive, StatePriming))
}

func TestListenerFuncs(t *testing.T) {
	var live, down int
	l := ListenerFuncs{
		Live:         func() { live++ },
		Disconnected: func(error) { down++ },
	}

	l.OnStateChange(StatePriming, StateLive, nil)
	l.OnStateChange(StateLive, StateDisconnected, errors.New("x"))
	l.OnStateChange(StatePriming, StateDisconnected, errors.New("subscribe failed"))
	l.OnStateChange(StateStopped, StateDisconnected, nil)
	l.OnStateChange(StateDisconnected, StatePriming, nil)
	l.OnUpdate(state.Update{})

	assert.Equal(t, 1, live)
	assert.Equal(t, 2, down)

	l.OnStateChange(StateLive, StateStopped, nil)
	assert.Equal(t, 3, down)
}
