package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"gameconnect/infrastructure"
	"gameconnect/internal/user"
)

// memStore is an in-memory Store used by the service tests. It enforces the
// same uniqueness constraints as the real schema.
type memStore struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	memberships   map[string]*Membership
	messages      map[string]*Message
}

func newMemStore() *memStore {
	return &memStore{
		conversations: make(map[string]*Conversation),
		memberships:   make(map[string]*Membership),
		messages:      make(map[string]*Message),
	}
}

func (s *memStore) Transact(ctx context.Context, fn func(Store) error) error {
	return fn(s)
}

func (s *memStore) CreateConversation(ctx context.Context, c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.PairKey != nil {
		for _, existing := range s.conversations {
			if existing.PairKey != nil && *existing.PairKey == *c.PairKey {
				return ErrDuplicate
			}
		}
	}
	cp := *c
	s.conversations[c.ID] = &cp
	return nil
}

func (s *memStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNoRecord
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) FindPrivateConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := PairKeyFor(userA, userB)
	for _, c := range s.conversations {
		if c.PairKey != nil && *c.PairKey == key {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNoRecord
}

func (s *memStore) ListConversationsForUser(ctx context.Context, userID string) ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Conversation
	for _, m := range s.memberships {
		if m.UserID != userID {
			continue
		}
		if c, ok := s.conversations[m.ConversationID]; ok {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) RenameConversation(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return ErrNoRecord
	}
	c.Name = name
	return nil
}

func (s *memStore) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
	for k, m := range s.memberships {
		if m.ConversationID == id {
			delete(s.memberships, k)
		}
	}
	for k, m := range s.messages {
		if m.ConversationID == id {
			delete(s.messages, k)
		}
	}
	return nil
}

func (s *memStore) CreateMembership(ctx context.Context, m *Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.memberships {
		if existing.ConversationID == m.ConversationID && existing.UserID == m.UserID {
			return ErrDuplicate
		}
	}
	cp := *m
	s.memberships[m.ID] = &cp
	return nil
}

func (s *memStore) GetMembership(ctx context.Context, conversationID, userID string) (*Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.memberships {
		if m.ConversationID == conversationID && m.UserID == userID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrNoRecord
}

func (s *memStore) ListMemberships(ctx context.Context, conversationID string) ([]Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Membership
	for _, m := range s.memberships {
		if m.ConversationID == conversationID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memStore) DeleteMembership(ctx context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, m := range s.memberships {
		if m.ConversationID == conversationID && m.UserID == userID {
			delete(s.memberships, k)
			return nil
		}
	}
	return ErrNoRecord
}

func (s *memStore) SetMembershipAdmin(ctx context.Context, conversationID, userID string, admin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.memberships {
		if m.ConversationID == conversationID && m.UserID == userID {
			m.Admin = admin
			return nil
		}
	}
	return ErrNoRecord
}

func (s *memStore) CreateMessage(ctx context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.messages[m.ID] = &cp
	return nil
}

func (s *memStore) ListMessages(ctx context.Context, conversationID string, newestFirst bool) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].SentAt.After(out[j].SentAt)
		}
		return out[i].SentAt.Before(out[j].SentAt)
	})
	return out, nil
}

func (s *memStore) ListUnreadForUser(ctx context.Context, userID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	member := make(map[string]bool)
	for _, m := range s.memberships {
		if m.UserID == userID {
			member[m.ConversationID] = true
		}
	}
	var out []Message
	for _, m := range s.messages {
		if member[m.ConversationID] && !m.Read && m.UserID != userID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out, nil
}

func (s *memStore) CountUnread(ctx context.Context, conversationID, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if m.ConversationID == conversationID && !m.Read && m.UserID != userID {
			n++
		}
	}
	return n, nil
}

func (s *memStore) MarkMessageRead(ctx context.Context, messageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok || m.Read {
		return nil
	}
	m.Read = true
	readAt := at
	m.ReadAt = &readAt
	return nil
}

// memDirectory resolves users from a fixed map.
type memDirectory struct {
	users map[string]*user.User
}

func (d *memDirectory) Resolve(ctx context.Context, id string) (*user.User, error) {
	if u, ok := d.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, infrastructure.NotFound("user %s not found", id)
}
