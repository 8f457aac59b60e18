package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"gameconnect/infrastructure"
	"gameconnect/internal/chat"
	"gameconnect/internal/user"
	"gameconnect/pkg/jwt"
)

// ChatService is the slice of the messaging core the gateway drives.
type ChatService interface {
	SendMessage(ctx context.Context, conversationID, userID, content string, kind chat.MessageKind) (*chat.MessageDTO, error)
	MarkRead(ctx context.Context, conversationID, userID string) ([]string, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	ListConversations(ctx context.Context, userID string) ([]chat.ConversationDTO, error)
	ListMessages(ctx context.Context, conversationID string) ([]chat.MessageDTO, error)
	ListParticipants(ctx context.Context, conversationID string) ([]chat.ParticipantDTO, error)
	CreatePrivateChat(ctx context.Context, userA, userB string) (*chat.ConversationDTO, error)
	CreateConversation(ctx context.Context, kind, name string, participantIDs []string, creatorID string) (*chat.ConversationDTO, error)
}

// Notifier turns domain events into topic publications.
type Notifier interface {
	MessageSent(ctx context.Context, msg *chat.MessageDTO, participants []chat.ParticipantDTO)
	MessagesRead(ctx context.Context, conversationID, readerID string, messageIDs []string)
	Presence(ctx context.Context, conversationID, userID, state string)
	ConversationCreated(ctx context.Context, conv *chat.ConversationDTO)
	Error(ctx context.Context, connectionID string, err error)
}

// Gateway is the websocket entry point. The handshake authenticates the
// token before the upgrade; after that, the connection identity is the only
// identity, and frames claiming another user are rejected per frame.
type Gateway struct {
	upgrader websocket.Upgrader
	auth     *jwt.Validator
	users    user.Directory
	svc      ChatService
	hub      *Hub
	notify   Notifier
	log      *logrus.Entry
}

func NewGateway(auth *jwt.Validator, users user.Directory, svc ChatService, hub *Hub, notify Notifier, log *logrus.Entry) *Gateway {
	return &Gateway{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		auth:   auth,
		users:  users,
		svc:    svc,
		hub:    hub,
		notify: notify,
		log:    log,
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := jwt.TokenFromRequest(r)
	if token == "" {
		http.Error(w, "missing access token", http.StatusUnauthorized)
		return
	}
	claims, err := g.auth.ValidateToken(token)
	if err != nil {
		http.Error(w, "invalid access token", http.StatusUnauthorized)
		return
	}
	if _, err := g.users.Resolve(r.Context(), claims.UserID); err != nil {
		http.Error(w, "unknown user", http.StatusUnauthorized)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	conn := NewConnection(claims.UserID, ws)
	conn.configureRead()
	g.hub.Attach(conn)
	defer func() {
		g.hub.Detach(conn)
		conn.Close(websocket.CloseNormalClosure, "bye")
	}()

	ctx := r.Context()
	for {
		frame, err := conn.ReadFrame()
		if errors.Is(err, errMalformedFrame) {
			g.notify.Error(ctx, conn.ID, infrastructure.Validation("malformed frame"))
			continue
		}
		if err != nil {
			return
		}
		g.dispatch(ctx, conn, frame)
	}
}

func (g *Gateway) dispatch(ctx context.Context, conn *Connection, frame *Frame) {
	var err error
	switch frame.Destination {
	case DestSend:
		err = g.handleSend(ctx, conn, frame.Payload)
	case DestMarkRead:
		err = g.handleMarkRead(ctx, conn, frame.Payload)
	case DestSubscribe:
		err = g.handleSubscribe(ctx, conn, frame.Payload)
	case DestList:
		err = g.handleList(ctx, conn)
	case DestHistory:
		err = g.handleHistory(ctx, conn, frame.Payload)
	case DestCreatePrivate:
		err = g.handleCreatePrivate(ctx, conn, frame.Payload)
	case DestCreate:
		err = g.handleCreate(ctx, conn, frame.Payload)
	default:
		err = infrastructure.Validation("unknown destination %q", frame.Destination)
	}
	if err != nil {
		g.notify.Error(ctx, conn.ID, err)
	}
}

func (g *Gateway) handleSend(ctx context.Context, conn *Connection, raw json.RawMessage) error {
	var p sendPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return infrastructure.Validation("malformed send payload")
	}
	// The connection identity was resolved through the user directory at the
	// handshake. A declared sender equal to it needs no second lookup, and
	// any other id is rejected before touching the directory.
	if p.UserID != "" && p.UserID != conn.UserID {
		return infrastructure.Authorization("frame sender does not match connection identity")
	}
	kind := chat.MessageText
	if p.Kind != "" {
		parsed, err := chat.ParseMessageKind(p.Kind)
		if err != nil {
			return infrastructure.Validation("unsupported message kind %q", p.Kind)
		}
		kind = parsed
	}

	msg, err := g.svc.SendMessage(ctx, p.ConversationID, conn.UserID, p.Content, kind)
	if err != nil {
		return err
	}

	participants, err := g.svc.ListParticipants(ctx, p.ConversationID)
	if err != nil {
		g.log.WithError(err).Warn("participant lookup failed after send")
		participants = nil
	}
	g.notify.MessageSent(ctx, msg, participants)
	return nil
}

func (g *Gateway) handleMarkRead(ctx context.Context, conn *Connection, raw json.RawMessage) error {
	var p conversationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return infrastructure.Validation("malformed markRead payload")
	}
	if err := g.requireMembership(ctx, conn, p.ConversationID); err != nil {
		return err
	}
	ids, err := g.svc.MarkRead(ctx, p.ConversationID, conn.UserID)
	if err != nil {
		return err
	}
	g.notify.MessagesRead(ctx, p.ConversationID, conn.UserID, ids)
	return nil
}

func (g *Gateway) handleSubscribe(ctx context.Context, conn *Connection, raw json.RawMessage) error {
	var p conversationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return infrastructure.Validation("malformed subscribe payload")
	}
	if err := g.requireMembership(ctx, conn, p.ConversationID); err != nil {
		return err
	}
	g.hub.Subscribe(conn, ConversationMessagesTopic(p.ConversationID))
	g.hub.Subscribe(conn, ConversationReadTopic(p.ConversationID))
	g.hub.Subscribe(conn, ConversationPresenceTopic(p.ConversationID))
	g.notify.Presence(ctx, p.ConversationID, conn.UserID, "active")

	// Opening a conversation implies reading it.
	ids, err := g.svc.MarkRead(ctx, p.ConversationID, conn.UserID)
	if err != nil {
		return err
	}
	g.notify.MessagesRead(ctx, p.ConversationID, conn.UserID, ids)
	return nil
}

func (g *Gateway) handleList(ctx context.Context, conn *Connection) error {
	convs, err := g.svc.ListConversations(ctx, conn.UserID)
	if err != nil {
		return err
	}
	return conn.SendFrame(UserQueueTopic(conn.UserID), convs)
}

func (g *Gateway) handleHistory(ctx context.Context, conn *Connection, raw json.RawMessage) error {
	var p conversationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return infrastructure.Validation("malformed history payload")
	}
	if err := g.requireMembership(ctx, conn, p.ConversationID); err != nil {
		return err
	}
	msgs, err := g.svc.ListMessages(ctx, p.ConversationID)
	if err != nil {
		return err
	}
	return conn.SendFrame(UserQueueTopic(conn.UserID), map[string]any{
		"conversationId": p.ConversationID,
		"messages":       msgs,
	})
}

func (g *Gateway) handleCreatePrivate(ctx context.Context, conn *Connection, raw json.RawMessage) error {
	var p createPrivatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return infrastructure.Validation("malformed createPrivate payload")
	}
	conv, err := g.svc.CreatePrivateChat(ctx, conn.UserID, p.UserID)
	if err != nil {
		return err
	}
	g.notify.ConversationCreated(ctx, conv)
	return nil
}

func (g *Gateway) handleCreate(ctx context.Context, conn *Connection, raw json.RawMessage) error {
	var p createPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return infrastructure.Validation("malformed create payload")
	}
	conv, err := g.svc.CreateConversation(ctx, p.Kind, p.Name, p.Participants, conn.UserID)
	if err != nil {
		return err
	}
	g.notify.ConversationCreated(ctx, conv)
	return nil
}

func (g *Gateway) requireMembership(ctx context.Context, conn *Connection, conversationID string) error {
	ok, err := g.svc.IsParticipant(ctx, conversationID, conn.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return infrastructure.Authorization("not a participant of conversation %s", conversationID)
	}
	return nil
}
