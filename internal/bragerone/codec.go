package bragerone

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/KevinKickass/BragerSync/internal/params"
	"github.com/KevinKickass/BragerSync/internal/state"
)

// AddressBook resolves backend addresses to profile symbols.
type AddressBook interface {
	SymbolAt(module, pool, parameter string) (string, bool)
}

// Sequencer hands out revisions in arrival order. Snapshot entries share
// one revision; each delta takes the next.
type Sequencer struct {
	n atomic.Int64
}

func (s *Sequencer) Next() int64 {
	return s.n.Add(1)
}

const (
	messageParamUpdate = "param_update"
	messagePing        = "ping"
	messagePong        = "pong"
	messageSubscribed  = "subscribed"
)

var errMalformed = errors.New("malformed message")

// wireMessage is the tagged union received on the delta socket.
type wireMessage struct {
	Type      string          `json:"type"`
	Symbol    string          `json:"symbol,omitempty"`
	DevID     string          `json:"devid,omitempty"`
	Pool      string          `json:"pool,omitempty"`
	Chan      string          `json:"chan,omitempty"`
	Idx       *int            `json:"idx,omitempty"`
	Parameter string          `json:"parameter,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
}

// decodeFrame accepts a single message object or an array of them.
func decodeFrame(data []byte) ([]wireMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", errMalformed)
	}
	if data[0] == '[' {
		var msgs []wireMessage
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformed, err)
		}
		return msgs, nil
	}
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	return []wireMessage{msg}, nil
}

// symbol resolves the message target. Unresolvable addresses come back as
// their address key so the store can report them as unknown.
func (m wireMessage) symbol(book AddressBook) (string, error) {
	if m.Symbol != "" {
		return m.Symbol, nil
	}
	parameter := m.Parameter
	if parameter == "" && m.Chan != "" && m.Idx != nil {
		parameter = m.Chan + strconv.Itoa(*m.Idx)
	}
	if m.DevID == "" || m.Pool == "" || parameter == "" {
		return "", fmt.Errorf("%w: update without symbol or address", errMalformed)
	}
	if s, ok := book.SymbolAt(m.DevID, m.Pool, parameter); ok {
		return s, nil
	}
	return params.AddressKey(m.DevID, m.Pool, parameter), nil
}

func (m wireMessage) update(book AddressBook, rev int64) (state.Update, error) {
	symbol, err := m.symbol(book)
	if err != nil {
		return state.Update{}, err
	}
	raw, ok := decodeScalar(m.Value)
	if !ok {
		return state.Update{}, fmt.Errorf("%w: %s has no usable value", errMalformed, symbol)
	}
	return state.Update{Symbol: symbol, Raw: raw, Revision: rev}, nil
}

// decodeScalar reads a value that is either a scalar or an object with a
// "value" field. null and nested structures are rejected.
func decodeScalar(raw json.RawMessage) (any, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if obj, ok := v.(map[string]any); ok {
		inner, found := obj["value"]
		if !found {
			return nil, false
		}
		v = inner
	}
	return params.Normalize(v)
}

// decodeSnapshot parses {"<devid>": {"<pool>": {"<chan><idx>": value}}}.
// Entries at addresses outside the profile are counted, not returned.
func decodeSnapshot(body []byte, book AddressBook, rev int64) ([]state.Update, int, error) {
	var tree map[string]map[string]map[string]json.RawMessage
	if err := json.Unmarshal(body, &tree); err != nil {
		return nil, 0, fmt.Errorf("%w: snapshot: %v", errMalformed, err)
	}

	var updates []state.Update
	unresolved := 0
	for devid, pools := range tree {
		for pool, entries := range pools {
			for parameter, rawValue := range entries {
				symbol, ok := book.SymbolAt(devid, pool, parameter)
				if !ok {
					unresolved++
					continue
				}
				v, ok := decodeScalar(rawValue)
				if !ok {
					unresolved++
					continue
				}
				updates = append(updates, state.Update{Symbol: symbol, Raw: v, Revision: rev})
			}
		}
	}
	return updates, unresolved, nil
}
