package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"gameconnect/infrastructure"
	"gameconnect/internal/chat/codec"
	"gameconnect/internal/user"
)

// MaxGroupNameLength bounds group names at creation and rename, counted in
// characters, not bytes.
const MaxGroupNameLength = 50

// Service owns every business invariant of the messaging core. All identity
// is passed explicitly; nothing is read from ambient state. Multi-step writes
// run inside a single store transaction.
type Service struct {
	store Store
	codec codec.Codec
	users user.Directory
	log   *logrus.Entry
}

func NewService(store Store, c codec.Codec, users user.Directory, log *logrus.Entry) *Service {
	return &Service{store: store, codec: c, users: users, log: log}
}

// CreatePrivateChat returns the existing private conversation between the
// two users, or creates one with exactly two non-admin memberships. The
// store's pair-key uniqueness serializes concurrent calls for the same pair:
// the loser of the race re-fetches the winner's conversation.
func (s *Service) CreatePrivateChat(ctx context.Context, userA, userB string) (*ConversationDTO, error) {
	if userA == userB {
		return nil, infrastructure.Validation("a private chat requires two distinct users")
	}

	a, err := s.users.Resolve(ctx, userA)
	if err != nil {
		return nil, err
	}
	b, err := s.users.Resolve(ctx, userB)
	if err != nil {
		return nil, err
	}

	if existing, err := s.store.FindPrivateConversation(ctx, userA, userB); err == nil {
		return s.conversationDTO(ctx, s.store, existing, userA)
	} else if !errors.Is(err, ErrNoRecord) {
		return nil, infrastructure.Internal(err, "failed to look up private conversation")
	}

	pairKey := PairKeyFor(userA, userB)
	conv := &Conversation{
		ID:        uuid.NewString(),
		Name:      a.Username + " - " + b.Username,
		Kind:      KindPrivate,
		PairKey:   &pairKey,
		CreatedAt: time.Now().UTC(),
	}

	err = s.store.Transact(ctx, func(tx Store) error {
		if err := tx.CreateConversation(ctx, conv); err != nil {
			return err
		}
		for _, id := range []string{userA, userB} {
			m := &Membership{
				ID:             uuid.NewString(),
				ConversationID: conv.ID,
				UserID:         id,
				JoinedAt:       conv.CreatedAt,
			}
			if err := tx.CreateMembership(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, ErrDuplicate) {
		existing, ferr := s.store.FindPrivateConversation(ctx, userA, userB)
		if ferr != nil {
			return nil, infrastructure.Internal(ferr, "failed to resolve concurrent private chat creation")
		}
		return s.conversationDTO(ctx, s.store, existing, userA)
	}
	if err != nil {
		return nil, infrastructure.Internal(err, "failed to create private conversation")
	}

	s.log.WithFields(logrus.Fields{
		"conversation": conv.ID,
		"users":        pairKey,
	}).Info("private conversation created")

	return s.conversationDTO(ctx, s.store, conv, userA)
}

// CreateGroupChat creates a group conversation with the creator as admin.
// Participant ids that do not resolve are skipped rather than failing the
// whole operation: clients batch-add friend lists and a single stale id must
// not abort group creation.
func (s *Service) CreateGroupChat(ctx context.Context, name string, participantIDs []string, creatorID string) (*ConversationDTO, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, infrastructure.Validation("a group name is required")
	}
	if utf8.RuneCountInString(name) > MaxGroupNameLength {
		return nil, infrastructure.Validation("the group name must not exceed %d characters", MaxGroupNameLength)
	}
	if len(participantIDs) == 0 {
		return nil, infrastructure.Validation("a group requires at least one participant")
	}

	if _, err := s.users.Resolve(ctx, creatorID); err != nil {
		return nil, err
	}

	conv := &Conversation{
		ID:        uuid.NewString(),
		Name:      name,
		Kind:      KindGroup,
		CreatedAt: time.Now().UTC(),
	}

	err := s.store.Transact(ctx, func(tx Store) error {
		if err := tx.CreateConversation(ctx, conv); err != nil {
			return err
		}
		creator := &Membership{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			UserID:         creatorID,
			Admin:          true,
			JoinedAt:       conv.CreatedAt,
		}
		if err := tx.CreateMembership(ctx, creator); err != nil {
			return err
		}
		for _, id := range participantIDs {
			if id == creatorID {
				continue
			}
			if _, err := s.users.Resolve(ctx, id); err != nil {
				if infrastructure.KindOf(err) == infrastructure.KindNotFound {
					s.log.WithField("user", id).Warn("skipping unknown participant in group creation")
					continue
				}
				return err
			}
			m := &Membership{
				ID:             uuid.NewString(),
				ConversationID: conv.ID,
				UserID:         id,
				JoinedAt:       conv.CreatedAt,
			}
			err := tx.CreateMembership(ctx, m)
			if errors.Is(err, ErrDuplicate) {
				// Same id listed twice.
				continue
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var taxonomy *infrastructure.Error
		if errors.As(err, &taxonomy) {
			return nil, taxonomy
		}
		return nil, infrastructure.Internal(err, "failed to create group conversation")
	}

	s.log.WithFields(logrus.Fields{
		"conversation": conv.ID,
		"creator":      creatorID,
	}).Info("group conversation created")

	return s.conversationDTO(ctx, s.store, conv, creatorID)
}

// CreateConversation dispatches on the declared kind. PRIVATE requires
// exactly two participant ids, one of which is the creator.
func (s *Service) CreateConversation(ctx context.Context, kind, name string, participantIDs []string, creatorID string) (*ConversationDTO, error) {
	switch ConversationKind(strings.ToUpper(strings.TrimSpace(kind))) {
	case KindPrivate:
		if len(participantIDs) != 2 {
			return nil, infrastructure.Validation("a private chat requires exactly two participants")
		}
		other := ""
		for _, id := range participantIDs {
			if id != creatorID {
				other = id
			}
		}
		if other == "" {
			return nil, infrastructure.Validation("the second participant is not valid")
		}
		if participantIDs[0] != creatorID && participantIDs[1] != creatorID {
			return nil, infrastructure.Validation("the creator must be one of the participants")
		}
		return s.CreatePrivateChat(ctx, creatorID, other)
	case KindGroup:
		return s.CreateGroupChat(ctx, name, participantIDs, creatorID)
	default:
		return nil, infrastructure.Validation("unsupported conversation kind %q", kind)
	}
}

// SendMessage persists an encrypted message and returns a DTO that carries
// the original plaintext, never the stored ciphertext.
func (s *Service) SendMessage(ctx context.Context, conversationID, userID, content string, kind MessageKind) (*MessageDTO, error) {
	if _, err := s.getConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	sender, err := s.users.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetMembership(ctx, conversationID, userID); err != nil {
		if errors.Is(err, ErrNoRecord) {
			return nil, infrastructure.Authorization("user %s is not a participant of this conversation", userID)
		}
		return nil, infrastructure.Internal(err, "failed to check membership")
	}

	body, err := s.codec.Encode(content)
	if err != nil {
		return nil, infrastructure.Internal(err, "failed to encrypt message body")
	}

	msg := &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		UserID:         userID,
		Body:           body,
		Kind:           kind,
		SentAt:         time.Now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, infrastructure.Internal(err, "failed to persist message")
	}

	return &MessageDTO{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		UserID:         msg.UserID,
		Username:       sender.Username,
		Content:        content,
		Kind:           msg.Kind,
		SentAt:         msg.SentAt,
		Read:           false,
	}, nil
}

// MarkRead flips every unread message authored by other users to read, all
// stamped with one shared timestamp, and returns the affected message ids.
// A second call with no new messages returns an empty list.
func (s *Service) MarkRead(ctx context.Context, conversationID, userID string) ([]string, error) {
	if _, err := s.getConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var ids []string
	err := s.store.Transact(ctx, func(tx Store) error {
		msgs, err := tx.ListMessages(ctx, conversationID, false)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if m.UserID == userID || m.Read {
				continue
			}
			if err := tx.MarkMessageRead(ctx, m.ID, now); err != nil {
				return err
			}
			ids = append(ids, m.ID)
		}
		return nil
	})
	if err != nil {
		return nil, infrastructure.Internal(err, "failed to mark messages read")
	}
	return ids, nil
}

// ListMessages returns the conversation's messages oldest-first with decoded
// content.
func (s *Service) ListMessages(ctx context.Context, conversationID string) ([]MessageDTO, error) {
	if _, err := s.getConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, conversationID, false)
	if err != nil {
		return nil, infrastructure.Internal(err, "failed to list messages")
	}
	return s.messageDTOs(ctx, msgs), nil
}

// ListUnreadForUser returns unread messages authored by others across every
// conversation the user participates in.
func (s *Service) ListUnreadForUser(ctx context.Context, userID string) ([]MessageDTO, error) {
	if _, err := s.users.Resolve(ctx, userID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListUnreadForUser(ctx, userID)
	if err != nil {
		return nil, infrastructure.Internal(err, "failed to list unread messages")
	}
	return s.messageDTOs(ctx, msgs), nil
}

func (s *Service) CountUnread(ctx context.Context, conversationID, userID string) (int64, error) {
	if _, err := s.getConversation(ctx, conversationID); err != nil {
		return 0, err
	}
	n, err := s.store.CountUnread(ctx, conversationID, userID)
	if err != nil {
		return 0, infrastructure.Internal(err, "failed to count unread messages")
	}
	return n, nil
}

func (s *Service) ListConversations(ctx context.Context, userID string) ([]ConversationDTO, error) {
	if _, err := s.users.Resolve(ctx, userID); err != nil {
		return nil, err
	}
	convs, err := s.store.ListConversationsForUser(ctx, userID)
	if err != nil {
		return nil, infrastructure.Internal(err, "failed to list conversations")
	}
	out := make([]ConversationDTO, 0, len(convs))
	for i := range convs {
		dto, err := s.conversationDTO(ctx, s.store, &convs[i], userID)
		if err != nil {
			return nil, err
		}
		out = append(out, *dto)
	}
	return out, nil
}

// GetConversation returns the conversation view for a participant; callers
// that are not members get an Authorization failure.
func (s *Service) GetConversation(ctx context.Context, conversationID, userID string) (*ConversationDTO, error) {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	member, err := s.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, infrastructure.Authorization("user %s is not a participant of this conversation", userID)
	}
	return s.conversationDTO(ctx, s.store, conv, userID)
}

func (s *Service) ListParticipants(ctx context.Context, conversationID string) ([]ParticipantDTO, error) {
	if _, err := s.getConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	members, err := s.store.ListMemberships(ctx, conversationID)
	if err != nil {
		return nil, infrastructure.Internal(err, "failed to list memberships")
	}
	return s.participantDTOs(ctx, members), nil
}

func (s *Service) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	_, err := s.store.GetMembership(ctx, conversationID, userID)
	if errors.Is(err, ErrNoRecord) {
		return false, nil
	}
	if err != nil {
		return false, infrastructure.Internal(err, "failed to check membership")
	}
	return true, nil
}

func (s *Service) IsAdmin(ctx context.Context, conversationID, userID string) (bool, error) {
	m, err := s.store.GetMembership(ctx, conversationID, userID)
	if errors.Is(err, ErrNoRecord) {
		return false, nil
	}
	if err != nil {
		return false, infrastructure.Internal(err, "failed to check membership")
	}
	return m.Admin, nil
}

func (s *Service) ListAdmins(ctx context.Context, conversationID string) ([]string, error) {
	members, err := s.store.ListMemberships(ctx, conversationID)
	if err != nil {
		return nil, infrastructure.Internal(err, "failed to list memberships")
	}
	var out []string
	for _, m := range members {
		if m.Admin {
			out = append(out, m.UserID)
		}
	}
	return out, nil
}

// LastMessage returns the newest message of the conversation, or nil when it
// has none.
func (s *Service) LastMessage(ctx context.Context, conversationID string) (*MessageDTO, error) {
	if _, err := s.getConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, conversationID, true)
	if err != nil {
		return nil, infrastructure.Internal(err, "failed to list messages")
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	dtos := s.messageDTOs(ctx, msgs[:1])
	return &dtos[0], nil
}

// AddParticipant adds userID to a group on behalf of an admin.
func (s *Service) AddParticipant(ctx context.Context, conversationID, userID, requestingAdminID string) error {
	if err := s.requireGroupAdmin(ctx, conversationID, requestingAdminID, "add participants"); err != nil {
		return err
	}
	if _, err := s.store.GetMembership(ctx, conversationID, userID); err == nil {
		return infrastructure.Validation("user %s is already a participant", userID)
	} else if !errors.Is(err, ErrNoRecord) {
		return infrastructure.Internal(err, "failed to check membership")
	}
	if _, err := s.users.Resolve(ctx, userID); err != nil {
		return err
	}

	m := &Membership{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		UserID:         userID,
		JoinedAt:       time.Now().UTC(),
	}
	err := s.store.CreateMembership(ctx, m)
	if errors.Is(err, ErrDuplicate) {
		return infrastructure.Validation("user %s is already a participant", userID)
	}
	if err != nil {
		return infrastructure.Internal(err, "failed to add participant")
	}
	return nil
}

// RemoveParticipant removes userID from a group on behalf of an admin.
// Admins cannot remove themselves; departure goes through LeaveGroup so
// admin succession applies.
func (s *Service) RemoveParticipant(ctx context.Context, conversationID, userID, requestingAdminID string) error {
	if err := s.requireGroupAdmin(ctx, conversationID, requestingAdminID, "remove participants"); err != nil {
		return err
	}
	if userID == requestingAdminID {
		return infrastructure.Validation("you cannot remove yourself; leave the group instead")
	}
	err := s.store.DeleteMembership(ctx, conversationID, userID)
	if errors.Is(err, ErrNoRecord) {
		return infrastructure.NotFound("participant %s not found", userID)
	}
	if err != nil {
		return infrastructure.Internal(err, "failed to remove participant")
	}
	return nil
}

// LeaveGroup removes the caller's membership. When the departing member is
// the sole admin and others remain, the earliest-joined remaining member is
// promoted in the same transaction; when nobody remains the conversation is
// deleted. Promotion and removal commit together or not at all.
func (s *Service) LeaveGroup(ctx context.Context, conversationID, userID string) error {
	err := s.store.Transact(ctx, func(tx Store) error {
		conv, err := tx.GetConversation(ctx, conversationID)
		if errors.Is(err, ErrNoRecord) {
			return infrastructure.NotFound("conversation %s not found", conversationID)
		}
		if err != nil {
			return err
		}
		if conv.Kind != KindGroup {
			return infrastructure.Validation("only group conversations can be left")
		}

		member, err := tx.GetMembership(ctx, conversationID, userID)
		if errors.Is(err, ErrNoRecord) {
			return infrastructure.NotFound("user %s is not a participant of the group", userID)
		}
		if err != nil {
			return err
		}

		members, err := tx.ListMemberships(ctx, conversationID)
		if err != nil {
			return err
		}

		admins := 0
		for _, m := range members {
			if m.Admin {
				admins++
			}
		}

		if member.Admin && admins == 1 {
			// Members come back ordered by join time; the first one that is
			// not the departing user succeeds as admin.
			for _, m := range members {
				if m.UserID == userID {
					continue
				}
				if err := tx.SetMembershipAdmin(ctx, conversationID, m.UserID, true); err != nil {
					return err
				}
				s.log.WithFields(logrus.Fields{
					"conversation": conversationID,
					"promoted":     m.UserID,
					"departed":     userID,
				}).Info("admin succession")
				break
			}
		}

		if err := tx.DeleteMembership(ctx, conversationID, userID); err != nil {
			return err
		}

		if len(members) == 1 {
			return tx.DeleteConversation(ctx, conversationID)
		}
		return nil
	})
	if err != nil {
		var taxonomy *infrastructure.Error
		if errors.As(err, &taxonomy) {
			return taxonomy
		}
		return infrastructure.Internal(err, "failed to leave group")
	}
	return nil
}

// RenameGroup sets a group's display name. The name is trimmed and bounded.
func (s *Service) RenameGroup(ctx context.Context, conversationID, newName string) error {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Kind != KindGroup {
		return infrastructure.Validation("only group conversations can be renamed")
	}
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return infrastructure.Validation("the group name cannot be blank")
	}
	if utf8.RuneCountInString(newName) > MaxGroupNameLength {
		return infrastructure.Validation("the group name must not exceed %d characters", MaxGroupNameLength)
	}
	if err := s.store.RenameConversation(ctx, conversationID, newName); err != nil {
		return infrastructure.Internal(err, "failed to rename group")
	}
	return nil
}

// PromoteAdmin grants admin to an existing non-admin member of a group.
func (s *Service) PromoteAdmin(ctx context.Context, conversationID, userID string) error {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Kind != KindGroup {
		return infrastructure.Validation("admins exist only in group conversations")
	}
	m, err := s.store.GetMembership(ctx, conversationID, userID)
	if errors.Is(err, ErrNoRecord) {
		return infrastructure.NotFound("user %s is not a participant of the group", userID)
	}
	if err != nil {
		return infrastructure.Internal(err, "failed to check membership")
	}
	if m.Admin {
		return infrastructure.Validation("user %s is already an administrator", userID)
	}
	if err := s.store.SetMembershipAdmin(ctx, conversationID, userID, true); err != nil {
		return infrastructure.Internal(err, "failed to promote admin")
	}
	return nil
}

func (s *Service) getConversation(ctx context.Context, id string) (*Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if errors.Is(err, ErrNoRecord) {
		return nil, infrastructure.NotFound("conversation %s not found", id)
	}
	if err != nil {
		return nil, infrastructure.Internal(err, "failed to load conversation")
	}
	return conv, nil
}

func (s *Service) requireGroupAdmin(ctx context.Context, conversationID, adminID, action string) error {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Kind != KindGroup {
		return infrastructure.Validation("only group conversations have participant management")
	}
	m, err := s.store.GetMembership(ctx, conversationID, adminID)
	if errors.Is(err, ErrNoRecord) {
		return infrastructure.NotFound("administrator %s not found in the group", adminID)
	}
	if err != nil {
		return infrastructure.Internal(err, "failed to check membership")
	}
	if !m.Admin {
		return infrastructure.Authorization("only administrators can %s", action)
	}
	return nil
}

// conversationDTO assembles the caller-facing view: participants, decoded
// last message, and the viewer's unread count.
func (s *Service) conversationDTO(ctx context.Context, store Store, conv *Conversation, viewerID string) (*ConversationDTO, error) {
	members, err := store.ListMemberships(ctx, conv.ID)
	if err != nil {
		return nil, infrastructure.Internal(err, "failed to list memberships")
	}

	dto := &ConversationDTO{
		ConversationID: conv.ID,
		Name:           conv.Name,
		Kind:           conv.Kind,
		CreatedAt:      conv.CreatedAt,
		Participants:   s.participantDTOs(ctx, members),
	}

	newest, err := store.ListMessages(ctx, conv.ID, true)
	if err != nil {
		return nil, infrastructure.Internal(err, "failed to load last message")
	}
	if len(newest) > 0 {
		last := s.messageDTOs(ctx, newest[:1])
		dto.LastMessage = &last[0]
	}

	if viewerID != "" {
		n, err := store.CountUnread(ctx, conv.ID, viewerID)
		if err != nil {
			return nil, infrastructure.Internal(err, "failed to count unread messages")
		}
		dto.UnreadCount = n
	}
	return dto, nil
}

func (s *Service) participantDTOs(ctx context.Context, members []Membership) []ParticipantDTO {
	out := make([]ParticipantDTO, 0, len(members))
	for _, m := range members {
		p := ParticipantDTO{
			UserID:   m.UserID,
			Admin:    m.Admin,
			JoinedAt: m.JoinedAt,
		}
		if u, err := s.users.Resolve(ctx, m.UserID); err == nil {
			p.Username = u.Username
			p.Skin = u.Skin
		}
		out = append(out, p)
	}
	return out
}

func (s *Service) messageDTOs(ctx context.Context, msgs []Message) []MessageDTO {
	usernames := make(map[string]string)
	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		content, err := s.codec.Decode(m.Body)
		if err != nil {
			// The codec fails open; an error here is key trouble, not data.
			s.log.WithField("message", m.ID).WithError(err).Error("failed to decode message body")
			content = ""
		}
		name, ok := usernames[m.UserID]
		if !ok {
			if u, uerr := s.users.Resolve(ctx, m.UserID); uerr == nil {
				name = u.Username
			}
			usernames[m.UserID] = name
		}
		out = append(out, MessageDTO{
			MessageID:      m.ID,
			ConversationID: m.ConversationID,
			UserID:         m.UserID,
			Username:       name,
			Content:        content,
			Kind:           m.Kind,
			SentAt:         m.SentAt,
			Read:           m.Read,
		})
	}
	return out
}
