package state

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type symbols map[string]bool

func (s symbols) Has(symbol string) bool { return s[symbol] }

func newTestStore() *Store {
	return NewStore(symbols{"Mode": true, "Temperature": true, "BoilerTemp": true}, zap.NewNop())
}

func TestReadUnknownBeforePrime(t *testing.T) {
	s := newTestStore()

	_, ok := s.Read("Mode")
	assert.False(t, ok)
	assert.False(t, s.Primed())
}

func TestSnapshotThenRead(t *testing.T) {
	assert := assert.New(t)
	s := newTestStore()

	applied := s.ApplySnapshot([]Update{
		{Symbol: "Mode", Raw: int64(2), Revision: 1},
		{Symbol: "Temperature", Raw: int64(215), Revision: 1},
		{Symbol: "Ghost", Raw: int64(7), Revision: 1},
	})

	assert.Len(applied, 2)
	assert.True(s.Primed())

	v, ok := s.Read("Mode")
	require.True(t, ok)
	assert.Equal(int64(2), v.Raw)

	_, ok = s.Read("Ghost")
	assert.False(ok)

	_, ok = s.Read("BoilerTemp")
	assert.False(ok, "absent symbols stay unknown")
}

func TestDeltaRevisionOrdering(t *testing.T) {
	assert := assert.New(t)
	s := newTestStore()
	s.ApplySnapshot([]Update{{Symbol: "Temperature", Raw: int64(200), Revision: 5}})

	assert.Equal(DroppedStale, s.ApplyDelta(Update{Symbol: "Temperature", Raw: int64(100), Revision: 4}))
	assert.Equal(DroppedStale, s.ApplyDelta(Update{Symbol: "Temperature", Raw: int64(150), Revision: 5}))
	v, _ := s.Read("Temperature")
	assert.Equal(int64(200), v.Raw)

	assert.Equal(Applied, s.ApplyDelta(Update{Symbol: "Temperature", Raw: int64(250), Revision: 6}))
	v, _ = s.Read("Temperature")
	assert.Equal(int64(250), v.Raw)
	assert.Equal(int64(6), v.Revision)
}

func TestSnapshotDoesNotOverwriteNewerValue(t *testing.T) {
	assert := assert.New(t)
	s := newTestStore()
	s.ApplySnapshot([]Update{{Symbol: "Mode", Raw: int64(1), Revision: 1}})
	s.ApplyDelta(Update{Symbol: "Mode", Raw: int64(3), Revision: 10})

	s.ApplySnapshot([]Update{
		{Symbol: "Mode", Raw: int64(2), Revision: 8},
		{Symbol: "Temperature", Raw: int64(300), Revision: 8},
	})

	v, _ := s.Read("Mode")
	assert.Equal(int64(3), v.Raw)
	v, _ = s.Read("Temperature")
	assert.Equal(int64(300), v.Raw)

	s.ApplySnapshot([]Update{{Symbol: "Mode", Raw: int64(2), Revision: 10}})
	v, _ = s.Read("Mode")
	assert.Equal(int64(2), v.Raw, "equal revision snapshot replaces")
}

func TestUnknownDeltaDroppedAndLaterDeltasApply(t *testing.T) {
	assert := assert.New(t)
	s := newTestStore()
	s.ApplySnapshot([]Update{{Symbol: "Mode", Raw: int64(1), Revision: 1}})

	assert.Equal(DroppedUnknown, s.ApplyDelta(Update{Symbol: "Ghost", Raw: int64(1), Revision: 2}))
	assert.Equal(Applied, s.ApplyDelta(Update{Symbol: "Mode", Raw: int64(2), Revision: 3}))

	v, _ := s.Read("Mode")
	assert.Equal(int64(2), v.Raw)
	assert.Equal(1, s.Len())
}

func TestDeltaBeforePrimeDropped(t *testing.T) {
	s := newTestStore()

	assert.Equal(t, DroppedUnprimed, s.ApplyDelta(Update{Symbol: "Mode", Raw: int64(1), Revision: 1}))
	_, ok := s.Read("Mode")
	assert.False(t, ok)
}

func TestConcurrentDeltas(t *testing.T) {
	s := newTestStore()
	s.ApplySnapshot(nil)

	var wg sync.WaitGroup
	for i := int64(1); i <= 200; i++ {
		wg.Add(1)
		go func(rev int64) {
			defer wg.Done()
			s.ApplyDelta(Update{Symbol: "Temperature", Raw: rev, Revision: rev})
			s.Read("Temperature")
		}(i)
	}
	wg.Wait()

	v, ok := s.Read("Temperature")
	require.True(t, ok)
	assert.Equal(t, int64(200), v.Revision)
	assert.Equal(t, int64(200), v.Raw)
}
