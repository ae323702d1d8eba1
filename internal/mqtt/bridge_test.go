package mqtt

import (
	"context"
	"sync"
	"testing"

	"github.com/KevinKickass/BragerSync/internal/config"
	"github.com/KevinKickass/BragerSync/internal/pipeline"
	"github.com/KevinKickass/BragerSync/internal/state"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type recordingWriter struct {
	mu     sync.Mutex
	writes map[string]any
	ctxErr []error
}

func (w *recordingWriter) Write(ctx context.Context, symbol string, value any) (*pipeline.Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes[symbol] = value
	w.ctxErr = append(w.ctxErr, ctx.Err())
	return &pipeline.Result{Symbol: symbol, Input: value}, nil
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "bragerone/bridge/state", BridgeStateTopic("bragerone"))
	assert.Equal(t, "bragerone/Mode/state", StateTopic("bragerone", "Mode"))
	assert.Equal(t, "bragerone/+/set", CommandTopic("bragerone"))
}

func TestParseCommandTopic(t *testing.T) {
	re := commandExtractor("home/boiler")

	symbol, ok := ParseCommandTopic(re, "home/boiler/Temperature/set")
	assert.True(t, ok)
	assert.Equal(t, "Temperature", symbol)

	for _, topic := range []string{
		"home/boiler/Temperature/state",
		"home/boiler/bridge/set",
		"other/Temperature/set",
		"home/boiler/a/b/set",
	} {
		_, ok := ParseCommandTopic(re, topic)
		assert.False(t, ok, topic)
	}
}

func TestFormatPayload(t *testing.T) {
	assert.Equal(t, "on", FormatPayload(true))
	assert.Equal(t, "off", FormatPayload(false))
	assert.Equal(t, "Eco", FormatPayload("Eco"))
	assert.Equal(t, "42", FormatPayload(int64(42)))
	assert.Equal(t, "21.5", FormatPayload(21.5))
	assert.Equal(t, "", FormatPayload(nil))
}

func TestHandleCommandParsesPayload(t *testing.T) {
	w := &recordingWriter{writes: map[string]any{}}
	b := NewBridge(config.MQTTConfig{Host: "localhost", Port: 1883, ClientID: "test", BaseTopic: "bragerone"}, w, nil, zap.NewNop())
	ctx := context.Background()

	b.handleCommand(ctx, "bragerone/Temperature/set", []byte("21.5"))
	b.handleCommand(ctx, "bragerone/HeatingSwitch/set", []byte("ON"))
	b.handleCommand(ctx, "bragerone/Mode/set", []byte("Eco"))
	b.handleCommand(ctx, "bragerone/Mode/state", []byte("ignored"))

	assert.Equal(t, map[string]any{
		"Temperature":   21.5,
		"HeatingSwitch": true,
		"Mode":          "Eco",
	}, w.writes)
}

func TestDispatchUsesRunContext(t *testing.T) {
	w := &recordingWriter{writes: map[string]any{}}
	b := NewBridge(config.MQTTConfig{Host: "localhost", Port: 1883, ClientID: "test", BaseTopic: "bragerone"}, w, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.setContext(ctx)
	}()
	go func() {
		defer wg.Done()
		b.dispatch("bragerone/Mode/set", []byte("Eco"))
	}()
	wg.Wait()

	b.dispatch("bragerone/Temperature/set", []byte("20"))

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Len(t, w.ctxErr, 2)
	assert.ErrorIs(t, w.ctxErr[1], context.Canceled)
}

func TestOnUpdateWithoutConnectionIsNoop(t *testing.T) {
	b := NewBridge(config.MQTTConfig{Host: "localhost", Port: 1883, ClientID: "test", BaseTopic: "bragerone"}, nil, nil, zap.NewNop())
	assert.NotPanics(t, func() {
		b.OnUpdate(state.Update{Symbol: "Mode", Raw: int64(2), Revision: 1})
	})
}
