package bragerone

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/KevinKickass/BragerSync/internal/state"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a control frame to the backend
	writeWait = 10 * time.Second

	// Time allowed between frames (data or pong) from the backend
	pongWait = 60 * time.Second

	// Ping period, must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Largest frame accepted from the backend
	maxFrameSize = 1 << 20
)

type subscribeMessage struct {
	Type    string   `json:"type"`
	Modules []string `json:"modules"`
}

// Subscribe opens the delta socket and subscribes to the configured
// modules. The stream closes itself when ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context) (state.Stream, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, AsTransportError("subscribe", err)
	}

	u, err := url.Parse(c.cfg.WSURL)
	if err != nil {
		return nil, &TransportError{Op: "subscribe", Err: fmt.Errorf("invalid websocket url: %w", err)}
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.RequestTimeout,
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		terr := AsTransportError("subscribe", err)
		if resp != nil {
			terr.StatusCode = resp.StatusCode
			if resp.StatusCode == http.StatusUnauthorized {
				c.invalidateToken(ctx)
			}
		}
		return nil, terr
	}

	conn.SetReadLimit(maxFrameSize)
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(subscribeMessage{Type: "subscribe", Modules: c.cfg.Modules}); err != nil {
		conn.Close()
		return nil, &TransportError{Op: "subscribe", Err: err}
	}

	s := &Stream{
		conn:   conn,
		book:   c.book,
		seq:    c.seq,
		logger: c.logger,
		done:   make(chan struct{}),
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go s.keepalive(ctx)

	c.logger.Info("Delta stream connected",
		zap.String("url", c.cfg.WSURL),
		zap.Strings("modules", c.cfg.Modules))

	return s, nil
}

// Stream is a live delta subscription. Recv must be called from a single
// goroutine.
type Stream struct {
	conn    *websocket.Conn
	book    AddressBook
	seq     *Sequencer
	logger  *zap.Logger
	pending []state.Update

	closeOnce sync.Once
	done      chan struct{}
}

// Recv blocks until the next delta. Malformed messages are logged and
// skipped; they never surface as updates.
func (s *Stream) Recv() (state.Update, error) {
	for {
		if len(s.pending) > 0 {
			u := s.pending[0]
			s.pending = s.pending[1:]
			return u, nil
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return state.Update{}, &TransportError{Op: "stream", Err: context.Canceled}
			default:
			}
			return state.Update{}, &TransportError{Op: "stream", Err: err}
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		msgs, err := decodeFrame(data)
		if err != nil {
			s.logger.Warn("Dropping malformed frame", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		for _, m := range msgs {
			s.handle(m)
		}
	}
}

func (s *Stream) handle(m wireMessage) {
	switch m.Type {
	case messageParamUpdate:
		u, err := m.update(s.book, s.seq.Next())
		if err != nil {
			s.logger.Warn("Dropping malformed update", zap.Error(err))
			return
		}
		s.pending = append(s.pending, u)
	case messagePing:
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteJSON(map[string]string{"type": messagePong}); err != nil {
			s.logger.Debug("Failed to answer ping", zap.Error(err))
		}
	case messagePong, messageSubscribed:
	default:
		s.logger.Debug("Ignoring message", zap.String("type", m.Type))
	}
}

func (s *Stream) keepalive(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					s.logger.Debug("Ping failed", zap.Error(err))
				}
			}
		}
	}
}

func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		err = s.conn.Close()
	})
	return err
}
