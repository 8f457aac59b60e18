package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"gameconnect/internal/database"
)

// GormStore is the Postgres-backed Store. Uniqueness invariants (private
// pair dedup, one membership per user per conversation) are enforced by the
// schema's unique indexes, not by check-then-insert.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *database.Database) *GormStore {
	return &GormStore{db: db.DB}
}

// Models returns the entities this store migrates.
func (s *GormStore) Models() []any {
	return []any{&Conversation{}, &Membership{}, &Message{}}
}

func (s *GormStore) Transact(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func (s *GormStore) CreateConversation(ctx context.Context, c *Conversation) error {
	return translate(s.db.WithContext(ctx).Create(c).Error)
}

func (s *GormStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (s *GormStore) FindPrivateConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	var c Conversation
	err := s.db.WithContext(ctx).
		First(&c, "kind = ? AND pair_key = ?", KindPrivate, PairKeyFor(userA, userB)).Error
	if err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (s *GormStore) ListConversationsForUser(ctx context.Context, userID string) ([]Conversation, error) {
	var out []Conversation
	err := s.db.WithContext(ctx).
		Joins("JOIN memberships ON memberships.conversation_id = conversations.id").
		Where("memberships.user_id = ?", userID).
		Order("conversations.created_at ASC").
		Find(&out).Error
	return out, translate(err)
}

func (s *GormStore) RenameConversation(ctx context.Context, id, name string) error {
	res := s.db.WithContext(ctx).Model(&Conversation{}).Where("id = ?", id).Update("name", name)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNoRecord
	}
	return nil
}

func (s *GormStore) DeleteConversation(ctx context.Context, id string) error {
	// The conversation owns its memberships and messages; all three rowsets
	// go in one transaction.
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&Message{}).Error; err != nil {
			return translate(err)
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&Membership{}).Error; err != nil {
			return translate(err)
		}
		return translate(tx.Where("id = ?", id).Delete(&Conversation{}).Error)
	})
}

func (s *GormStore) CreateMembership(ctx context.Context, m *Membership) error {
	return translate(s.db.WithContext(ctx).Create(m).Error)
}

func (s *GormStore) GetMembership(ctx context.Context, conversationID, userID string) (*Membership, error) {
	var m Membership
	err := s.db.WithContext(ctx).
		First(&m, "conversation_id = ? AND user_id = ?", conversationID, userID).Error
	if err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (s *GormStore) ListMemberships(ctx context.Context, conversationID string) ([]Membership, error) {
	var out []Membership
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("joined_at ASC, id ASC").
		Find(&out).Error
	return out, translate(err)
}

func (s *GormStore) DeleteMembership(ctx context.Context, conversationID, userID string) error {
	res := s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Delete(&Membership{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNoRecord
	}
	return nil
}

func (s *GormStore) SetMembershipAdmin(ctx context.Context, conversationID, userID string, admin bool) error {
	res := s.db.WithContext(ctx).Model(&Membership{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Update("admin", admin)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNoRecord
	}
	return nil
}

func (s *GormStore) CreateMessage(ctx context.Context, m *Message) error {
	return translate(s.db.WithContext(ctx).Create(m).Error)
}

func (s *GormStore) ListMessages(ctx context.Context, conversationID string, newestFirst bool) ([]Message, error) {
	order := "sent_at ASC, id ASC"
	if newestFirst {
		order = "sent_at DESC, id DESC"
	}
	var out []Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order(order).
		Find(&out).Error
	return out, translate(err)
}

func (s *GormStore) ListUnreadForUser(ctx context.Context, userID string) ([]Message, error) {
	var out []Message
	err := s.db.WithContext(ctx).
		Joins("JOIN memberships ON memberships.conversation_id = messages.conversation_id").
		Where("memberships.user_id = ? AND messages.read = ? AND messages.user_id <> ?", userID, false, userID).
		Order("messages.sent_at ASC, messages.id ASC").
		Find(&out).Error
	return out, translate(err)
}

func (s *GormStore) CountUnread(ctx context.Context, conversationID, userID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Message{}).
		Where("conversation_id = ? AND read = ? AND user_id <> ?", conversationID, false, userID).
		Count(&n).Error
	return n, translate(err)
}

func (s *GormStore) MarkMessageRead(ctx context.Context, messageID string, at time.Time) error {
	// The read = false guard keeps the flag monotonic and ReadAt write-once
	// even under concurrent readers.
	return translate(s.db.WithContext(ctx).Model(&Message{}).
		Where("id = ? AND read = ?", messageID, false).
		Updates(map[string]any{"read": true, "read_at": at}).Error)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNoRecord
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	default:
		return fmt.Errorf("chat store: %w", err)
	}
}
