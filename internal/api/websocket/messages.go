package websocket

import (
	"time"

	"github.com/KevinKickass/BragerSync/internal/state"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Parameter messages
	MessageTypeSnapshot        MessageType = "snapshot"
	MessageTypeParameterUpdate MessageType = "parameter_update"

	// Session messages
	MessageTypeSessionState MessageType = "session_state"

	// Replies to client messages
	MessageTypePong  MessageType = "pong"
	MessageTypeError MessageType = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data,omitempty"`
}

type ParameterUpdateData struct {
	Symbol   string `json:"symbol"`
	Value    any    `json:"value"`
	Raw      any    `json:"raw"`
	Revision int64  `json:"revision"`
}

type SessionStateData struct {
	State    string `json:"state"`
	Previous string `json:"previous_state"`
	Error    string `json:"error,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewParameterUpdateMessage(u state.Update, display any) Message {
	return NewMessage(MessageTypeParameterUpdate, ParameterUpdateData{
		Symbol:   u.Symbol,
		Value:    display,
		Raw:      u.Raw,
		Revision: u.Revision,
	})
}

func NewSessionStateMessage(newState, previousState string, cause error) Message {
	data := SessionStateData{State: newState, Previous: previousState}
	if cause != nil {
		data.Error = cause.Error()
	}
	return NewMessage(MessageTypeSessionState, data)
}
