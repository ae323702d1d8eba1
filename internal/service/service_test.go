package service

import (
	"context"
	"testing"

	"github.com/KevinKickass/BragerSync/internal/params"
	"github.com/KevinKickass/BragerSync/internal/pipeline"
	"github.com/KevinKickass/BragerSync/internal/session"
	"github.com/KevinKickass/BragerSync/internal/state"
	"github.com/KevinKickass/BragerSync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubWriter struct {
	symbol string
	value  any
}

func (w *stubWriter) Write(ctx context.Context, symbol string, value any) (*pipeline.Result, error) {
	w.symbol, w.value = symbol, value
	return &pipeline.Result{Symbol: symbol, Input: value}, nil
}

func newService(t *testing.T) (*Service, *state.Store, *stubWriter) {
	t.Helper()
	reg, err := params.NewRegistry(testutil.Profile())
	require.NoError(t, err)
	store := state.NewStore(reg, zap.NewNop())
	manager := session.NewManager(nil, store, session.Config{}, zap.NewNop())
	w := &stubWriter{}
	journal := pipeline.NewJournal(4)
	return New(reg, store, w, manager, journal, zap.NewNop()), store, w
}

func TestReadDisplayAfterPrime(t *testing.T) {
	assert := assert.New(t)
	svc, store, _ := newService(t)

	_, ok := svc.ReadDisplay("Mode")
	assert.False(ok, "unknown before prime")

	store.ApplySnapshot([]state.Update{
		{Symbol: "Mode", Raw: int64(2), Revision: 1},
		{Symbol: "Temperature", Raw: int64(215), Revision: 1},
		{Symbol: "STATUS_PUMP", Raw: true, Revision: 1},
	})

	v, ok := svc.ReadDisplay("Mode")
	assert.True(ok)
	assert.Equal("Eco", v)

	v, ok = svc.ReadDisplay("Temperature")
	assert.True(ok)
	assert.Equal(21.5, v)

	v, ok = svc.ReadDisplay("STATUS_PUMP")
	assert.True(ok)
	assert.Equal(true, v)

	_, ok = svc.ReadDisplay("BoilerTemp")
	assert.False(ok)
}

func TestReadDisplayUnmappedEnumFallsBackToRaw(t *testing.T) {
	svc, store, _ := newService(t)
	store.ApplySnapshot([]state.Update{{Symbol: "Mode", Raw: int64(9), Revision: 1}})

	v, ok := svc.ReadDisplay("Mode")
	assert.True(t, ok)
	assert.Equal(t, int64(9), v)
}

func TestWriteDelegates(t *testing.T) {
	svc, _, w := newService(t)

	_, err := svc.Write(context.Background(), "Mode", "Eco")
	require.NoError(t, err)
	assert.Equal(t, "Mode", w.symbol)
	assert.Equal(t, "Eco", w.value)
}

func TestParameterViews(t *testing.T) {
	assert := assert.New(t)
	svc, store, _ := newService(t)
	store.ApplySnapshot([]state.Update{{Symbol: "Temperature", Raw: int64(300), Revision: 4}})

	views := svc.Parameters()
	require.Len(t, views, 6)
	assert.Equal("Mode", views[0].Symbol)
	assert.Equal([]string{"Comfort", "Eco", "Antifreeze"}, views[0].Options)
	assert.False(views[0].Known)

	temp, ok := svc.Parameter("Temperature")
	require.True(t, ok)
	assert.True(temp.Known)
	assert.Equal(int64(30), temp.Value)
	assert.Equal(int64(0), temp.Min)
	assert.Equal(int64(40), temp.Max)
	assert.Equal(params.PlatformNumber, temp.Platform)
	assert.Equal(int64(4), temp.Revision)

	_, ok = svc.Parameter("Nope")
	assert.False(ok)
}

func TestDiagnostics(t *testing.T) {
	svc, _, _ := newService(t)

	d := svc.Diagnostics()
	assert.Equal(t, "brager-boiler-test", d.Profile.ProfileID)
	assert.Equal(t, session.StateDisconnected, d.Session.State)
	assert.Empty(t, d.RecentWrites)
}
