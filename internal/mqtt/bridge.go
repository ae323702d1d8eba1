package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/KevinKickass/BragerSync/internal/config"
	"github.com/KevinKickass/BragerSync/internal/params"
	"github.com/KevinKickass/BragerSync/internal/pipeline"
	"github.com/KevinKickass/BragerSync/internal/session"
	"github.com/KevinKickass/BragerSync/internal/state"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
	PayloadOn      = "on"
	PayloadOff     = "off"

	connectTimeout = 10 * time.Second
	publishTimeout = 2 * time.Second
)

// Writer submits a caller write.
type Writer interface {
	Write(ctx context.Context, symbol string, value any) (*pipeline.Result, error)
}

// Displayer converts raw values for presentation.
type Displayer interface {
	Display(symbol string, raw any) any
}

// Bridge mirrors parameter values to MQTT and turns messages on
// {base}/{symbol}/set into writes.
type Bridge struct {
	client   pahomqtt.Client
	cfg      config.MQTTConfig
	writer   Writer
	display  Displayer
	logger   *zap.Logger
	commands *regexp.Regexp

	ctxMu sync.RWMutex
	ctx   context.Context
}

func OptsFromConfig(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetWill(BridgeStateTopic(cfg.BaseTopic), PayloadOffline, 1, true)
	return opts
}

func NewBridge(cfg config.MQTTConfig, writer Writer, display Displayer, logger *zap.Logger) *Bridge {
	b := &Bridge{
		cfg:      cfg,
		writer:   writer,
		display:  display,
		logger:   logger.With(zap.String("component", "mqtt")),
		commands: commandExtractor(cfg.BaseTopic),
		ctx:      context.Background(),
	}

	opts := OptsFromConfig(cfg)
	opts.OnConnect = b.onConnect
	opts.OnConnectionLost = func(_ pahomqtt.Client, err error) {
		b.logger.Warn("MQTT connection lost", zap.Error(err))
	}
	b.client = pahomqtt.NewClient(opts)
	return b
}

// Run connects to the broker and blocks until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	b.setContext(ctx)

	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return errors.New("MQTT connect timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT connect: %w", err)
	}

	<-ctx.Done()

	b.publish(BridgeStateTopic(b.cfg.BaseTopic), PayloadOffline, true)
	b.client.Disconnect(uint(publishTimeout.Milliseconds()))
	b.logger.Info("MQTT bridge stopped")
	return nil
}

// onConnect runs on every (re)connect; subscriptions do not survive a
// clean session.
func (b *Bridge) onConnect(c pahomqtt.Client) {
	b.logger.Info("MQTT connected", zap.String("base_topic", b.cfg.BaseTopic))

	token := c.Subscribe(CommandTopic(b.cfg.BaseTopic), 1, func(_ pahomqtt.Client, m pahomqtt.Message) {
		go b.dispatch(m.Topic(), m.Payload())
	})
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			b.logger.Warn("MQTT subscribe timed out")
			return
		}
		if err := token.Error(); err != nil {
			b.logger.Error("MQTT subscribe failed", zap.Error(err))
		}
	}()
}

func (b *Bridge) setContext(ctx context.Context) {
	b.ctxMu.Lock()
	defer b.ctxMu.Unlock()
	b.ctx = ctx
}

func (b *Bridge) runContext() context.Context {
	b.ctxMu.RLock()
	defer b.ctxMu.RUnlock()
	return b.ctx
}

// dispatch handles a command with the context of the running bridge.
func (b *Bridge) dispatch(topic string, payload []byte) {
	b.handleCommand(b.runContext(), topic, payload)
}

func (b *Bridge) handleCommand(ctx context.Context, topic string, payload []byte) {
	symbol, ok := ParseCommandTopic(b.commands, topic)
	if !ok {
		return
	}

	value := params.ParseInput(string(payload))
	res, err := b.writer.Write(ctx, symbol, value)
	if err != nil {
		b.logger.Warn("MQTT write rejected",
			zap.String("symbol", symbol),
			zap.Any("value", value),
			zap.Error(err))
		return
	}
	b.logger.Debug("MQTT write sent",
		zap.String("symbol", symbol),
		zap.Any("raw", res.Raw))
}

// OnStateChange implements session.Listener. Availability follows the
// session: online only while live.
func (b *Bridge) OnStateChange(from, to session.State, cause error) {
	payload := PayloadOffline
	if to == session.StateLive {
		payload = PayloadOnline
	}
	b.publish(BridgeStateTopic(b.cfg.BaseTopic), payload, true)
}

// OnUpdate implements session.Listener.
func (b *Bridge) OnUpdate(u state.Update) {
	display := u.Raw
	if b.display != nil {
		display = b.display.Display(u.Symbol, u.Raw)
	}
	b.publish(StateTopic(b.cfg.BaseTopic, u.Symbol), FormatPayload(display), true)
}

func (b *Bridge) publish(topic, payload string, retain bool) {
	if !b.client.IsConnectionOpen() {
		return
	}
	token := b.client.Publish(topic, 0, retain, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			b.logger.Warn("MQTT publish timed out", zap.String("topic", topic))
			return
		}
		if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish failed", zap.String("topic", topic), zap.Error(err))
		}
	}()
}

func BridgeStateTopic(base string) string {
	return fmt.Sprintf("%s/bridge/state", base)
}

func StateTopic(base, symbol string) string {
	return fmt.Sprintf("%s/%s/state", base, symbol)
}

func CommandTopic(base string) string {
	return fmt.Sprintf("%s/+/set", base)
}

func commandExtractor(base string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^%s/([^/]+)/set$", regexp.QuoteMeta(base)))
}

// ParseCommandTopic extracts the symbol from {base}/{symbol}/set.
func ParseCommandTopic(re *regexp.Regexp, topic string) (string, bool) {
	m := re.FindStringSubmatch(topic)
	if len(m) != 2 || m[1] == "bridge" {
		return "", false
	}
	return m[1], true
}

// FormatPayload renders a display value as an MQTT payload.
func FormatPayload(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case bool:
		if x {
			return PayloadOn
		}
		return PayloadOff
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	}
}
