package realtime

import (
	"encoding/json"
	"time"
)

// Client-issued destinations. Everything else arriving on the socket is
// rejected with an error frame on the connection's error topic.
const (
	DestSend          = "chat.send"
	DestMarkRead      = "chat.markRead"
	DestSubscribe     = "chat.subscribe"
	DestList          = "chat.list"
	DestHistory       = "chat.history"
	DestCreatePrivate = "chat.createPrivate"
	DestCreate        = "chat.create"
)

// Frame is the wire unit in both directions. Inbound, Destination selects
// the operation; outbound, it carries the topic the payload belongs to.
type Frame struct {
	Destination string          `json:"destination"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// EncodeFrame marshals an outbound frame for a topic.
func EncodeFrame(destination string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Destination: destination, Payload: raw})
}

type sendPayload struct {
	ConversationID string `json:"conversationId"`
	// UserID is optional; when present it must match the authenticated
	// connection identity.
	UserID  string `json:"userId,omitempty"`
	Content string `json:"content"`
	Kind    string `json:"kind,omitempty"`
}

type conversationPayload struct {
	ConversationID string `json:"conversationId"`
}

type createPrivatePayload struct {
	UserID string `json:"userId"`
}

type createPayload struct {
	Kind         string   `json:"kind"`
	Name         string   `json:"name,omitempty"`
	Participants []string `json:"participants"`
}

// ErrorPayload is delivered on conn.{id}.errors.
type ErrorPayload struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// ReadReceiptPayload is broadcast on chat.{id}.read after a successful
// mark-read pass.
type ReadReceiptPayload struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	MessageIDs     []string  `json:"messageIds"`
	At             time.Time `json:"at"`
}

// PresencePayload is broadcast on chat.{id}.presence.
type PresencePayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	State          string `json:"state"`
}

// NotificationPayload is delivered on user.{id}.notifications when a
// message arrives in one of the user's conversations.
type NotificationPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	SenderID       string `json:"senderId"`
	SenderName     string `json:"senderName"`
	Preview        string `json:"preview"`
}
