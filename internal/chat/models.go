package chat

import (
	"fmt"
	"time"
)

type ConversationKind string

const (
	KindPrivate ConversationKind = "PRIVATE"
	KindGroup   ConversationKind = "GROUP"
)

type MessageKind string

const (
	MessageText  MessageKind = "TEXT"
	MessageImage MessageKind = "IMAGE"
	MessageAudio MessageKind = "AUDIO"
)

func ParseMessageKind(s string) (MessageKind, error) {
	switch MessageKind(s) {
	case MessageText, MessageImage, MessageAudio:
		return MessageKind(s), nil
	default:
		return "", fmt.Errorf("unsupported message kind %q", s)
	}
}

// Conversation is a private or group chat container. Memberships and
// messages reference it by id; there are no live back-pointers.
type Conversation struct {
	ID   string           `gorm:"primaryKey;size:36"`
	Name string           `gorm:"size:100;not null"`
	Kind ConversationKind `gorm:"size:16;not null"`
	// PairKey is "<minUserID>:<maxUserID>" for private conversations and nil
	// for groups. Its unique index serializes concurrent private-chat
	// creation for the same pair.
	PairKey   *string `gorm:"size:80;uniqueIndex"`
	CreatedAt time.Time
}

// Membership links one user to one conversation. The composite unique index
// rejects duplicate (conversation, user) pairs at the store level.
type Membership struct {
	ID             string `gorm:"primaryKey;size:36"`
	ConversationID string `gorm:"size:36;not null;uniqueIndex:idx_conversation_user"`
	UserID         string `gorm:"size:36;not null;uniqueIndex:idx_conversation_user"`
	Admin          bool   `gorm:"not null;default:false"`
	JoinedAt       time.Time
}

// Message stores the body as ciphertext. Read is monotonic: once true it is
// never reset, and ReadAt is set exactly once at that transition.
type Message struct {
	ID             string      `gorm:"primaryKey;size:36"`
	ConversationID string      `gorm:"size:36;not null;index"`
	UserID         string      `gorm:"size:36;not null"`
	Body           string      `gorm:"type:text;not null"`
	Kind           MessageKind `gorm:"size:16;not null"`
	SentAt         time.Time   `gorm:"index"`
	Read           bool        `gorm:"not null;default:false"`
	ReadAt         *time.Time
}

// PairKeyFor builds the canonical dedup key for a private conversation,
// independent of argument order.
func PairKeyFor(userA, userB string) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}
