package chat

import "time"

// MessageDTO always carries plaintext content; ciphertext never leaves the
// store boundary.
type MessageDTO struct {
	MessageID      string      `json:"messageId"`
	ConversationID string      `json:"conversationId"`
	UserID         string      `json:"userId"`
	Username       string      `json:"username"`
	Content        string      `json:"content"`
	Kind           MessageKind `json:"kind"`
	SentAt         time.Time   `json:"sentAt"`
	Read           bool        `json:"read"`
}

type ParticipantDTO struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	Skin     string    `json:"skin"`
	Admin    bool      `json:"admin"`
	JoinedAt time.Time `json:"joinedAt"`
}

type ConversationDTO struct {
	ConversationID string           `json:"conversationId"`
	Name           string           `json:"name"`
	Kind           ConversationKind `json:"kind"`
	CreatedAt      time.Time        `json:"createdAt"`
	Participants   []ParticipantDTO `json:"participants"`
	LastMessage    *MessageDTO      `json:"lastMessage,omitempty"`
	UnreadCount    int64            `json:"unreadCount"`
}
