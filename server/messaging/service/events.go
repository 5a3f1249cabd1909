package service

import (
	"encoding/json"
	"time"

	"jobtalk/server/messaging/domain"
)

// EventVersion is stamped on every live frame so clients can reject shapes they do not know.
const EventVersion = 1

// Server to client.
const (
	EventPresenceUpdate   = "presence:update"
	EventMessageNew       = "message:new"
	EventMessageSent      = "message:sent"
	EventMessageDelivered = "message:delivered"
	EventNotificationNew  = "notification:new"
	EventSessionConnected = "session:connected"
	EventError            = "error"
)

// Client to server.
const (
	ClientMessageReceived = "message:received"
	ClientMessageSend     = "message:send"
)

type Event struct {
	Type    string `json:"type"`
	Version int    `json:"version"`
	Data    any    `json:"data"`
}

func newEvent(eventType string, data any) Event {
	return Event{Type: eventType, Version: EventVersion, Data: data}
}

// ClientEnvelope is an inbound frame; Data is decoded once Type is known.
type ClientEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type PresencePayload struct {
	Users []string `json:"users"`
}

type MessagePayload struct {
	ConversationID string         `json:"conversationId"`
	Message        domain.Message `json:"message"`
}

type DeliveredPayload struct {
	MessageID string `json:"messageId"`
}

type NotificationPayload struct {
	Notification domain.Notification `json:"notification"`
}

type SessionConnectedPayload struct {
	SessionID   string    `json:"sessionId"`
	UserID      string    `json:"userId"`
	ConnectedAt time.Time `json:"connectedAt"`
}

type ErrorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type ReceiptPayload struct {
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
}
