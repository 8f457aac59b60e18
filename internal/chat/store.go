package chat

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicate is returned by create operations that trip a uniqueness
// constraint (private pair key, (conversation, user) membership).
var ErrDuplicate = errors.New("duplicate record")

// ErrNoRecord is returned by lookups that find nothing. The service layer
// translates it into the caller-facing NotFound taxonomy.
var ErrNoRecord = errors.New("record not found")

// Store is the persistence contract for conversations, memberships and
// messages. Each call is atomic; multi-step business operations run inside
// Transact so partial application is never observable.
type Store interface {
	// Transact runs fn against a store view bound to one transaction.
	// Returning an error rolls everything back.
	Transact(ctx context.Context, fn func(Store) error) error

	CreateConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	// FindPrivateConversation is order-independent in its user arguments.
	FindPrivateConversation(ctx context.Context, userA, userB string) (*Conversation, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]Conversation, error)
	RenameConversation(ctx context.Context, id, name string) error
	// DeleteConversation removes the conversation and everything it owns.
	DeleteConversation(ctx context.Context, id string) error

	CreateMembership(ctx context.Context, m *Membership) error
	GetMembership(ctx context.Context, conversationID, userID string) (*Membership, error)
	ListMemberships(ctx context.Context, conversationID string) ([]Membership, error)
	DeleteMembership(ctx context.Context, conversationID, userID string) error
	SetMembershipAdmin(ctx context.Context, conversationID, userID string, admin bool) error

	CreateMessage(ctx context.Context, m *Message) error
	// ListMessages orders by send time, ascending unless newestFirst.
	ListMessages(ctx context.Context, conversationID string, newestFirst bool) ([]Message, error)
	ListUnreadForUser(ctx context.Context, userID string) ([]Message, error)
	CountUnread(ctx context.Context, conversationID, userID string) (int64, error)
	// MarkMessageRead flips the read flag and stamps ReadAt; it is a no-op on
	// messages already read, keeping the flag monotonic.
	MarkMessageRead(ctx context.Context, messageID string, at time.Time) error
}
