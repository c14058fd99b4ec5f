package server

import (
	"net/http"

	"github.com/npezzotti/chat-relay/internal/types"
)

const (
	TypeJoinRoom    = "join_room"
	TypeChatMessage = "chat_message"
	TypeNewMessage  = "new_message"
	TypeError       = "error"
)

// ClientMessage is the inbound wire envelope. Exactly one message kind is
// expressed by Type; the remaining fields are populated per kind.
type ClientMessage struct {
	Type           string `json:"type"`
	OrganizationId string `json:"organizationId,omitempty"`
	ChatId         string `json:"chatId,omitempty"`
	Data           string `json:"data,omitempty"`
	Sender         string `json:"sender,omitempty"`
	CorrelationId  string `json:"correlationId,omitempty"`

	client *Client
}

// RoomKey builds the room key a join message addresses.
func (m *ClientMessage) RoomKey() types.RoomKey {
	return types.RoomKey{OrganizationId: m.OrganizationId, ChatId: m.ChatId}
}

// ServerMessage is the outbound wire envelope. Data is set for new_message,
// Code and Error for error.
type ServerMessage struct {
	Type  string         `json:"type"`
	Data  *types.Message `json:"data,omitempty"`
	Code  int            `json:"code,omitempty"`
	Error string         `json:"error,omitempty"`
}

func NewMessage(msg types.Message) *ServerMessage {
	return &ServerMessage{
		Type: TypeNewMessage,
		Data: &msg,
	}
}

func ErrInvalidMessage() *ServerMessage {
	return &ServerMessage{
		Type:  TypeError,
		Code:  http.StatusBadRequest,
		Error: "invalid message format",
	}
}

func ErrNotAuthenticated() *ServerMessage {
	return &ServerMessage{
		Type:  TypeError,
		Code:  http.StatusUnauthorized,
		Error: "not authenticated",
	}
}

func ErrNotJoined() *ServerMessage {
	return &ServerMessage{
		Type:  TypeError,
		Code:  http.StatusConflict,
		Error: "not joined to a room",
	}
}

func ErrServiceUnavailable() *ServerMessage {
	return &ServerMessage{
		Type:  TypeError,
		Code:  http.StatusServiceUnavailable,
		Error: "service unavailable",
	}
}
