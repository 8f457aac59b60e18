package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"gameconnect/infrastructure"
	"gameconnect/internal/chat"
	"gameconnect/internal/realtime"
)

const previewLength = 50

// Publisher fans an encoded frame out to a topic's subscribers.
type Publisher interface {
	Publish(topic string, payload []byte) int
}

// Dispatcher translates domain events into topic publications and push
// enqueues. Delivery is best effort: a failed publish or enqueue is logged
// and never propagated back to the operation that triggered it.
type Dispatcher struct {
	pub  Publisher
	push *Enqueuer
	log  *logrus.Entry
}

// NewDispatcher wires the dispatcher. push may be nil when no queue backend
// is configured; phone notifications are then skipped.
func NewDispatcher(pub Publisher, push *Enqueuer, log *logrus.Entry) *Dispatcher {
	return &Dispatcher{pub: pub, push: push, log: log}
}

// MessageSent broadcasts the message on its conversation topic and drops a
// preview notification on every other participant's personal queue.
func (d *Dispatcher) MessageSent(ctx context.Context, msg *chat.MessageDTO, participants []chat.ParticipantDTO) {
	d.publish(realtime.ConversationMessagesTopic(msg.ConversationID), msg)

	note := realtime.NotificationPayload{
		ConversationID: msg.ConversationID,
		MessageID:      msg.MessageID,
		SenderID:       msg.UserID,
		SenderName:     msg.Username,
		Preview:        preview(msg.Content),
	}
	for _, p := range participants {
		if p.UserID == msg.UserID {
			continue
		}
		topic := realtime.UserNotificationsTopic(p.UserID)
		d.publish(topic, note)
		if d.push != nil {
			if err := d.push.EnqueuePush(ctx, p.UserID, note); err != nil {
				d.log.WithError(err).WithField("user", p.UserID).Warn("push enqueue failed")
			}
		}
	}
}

// MessagesRead broadcasts a read receipt. Empty receipts are suppressed so
// an idempotent re-read produces no traffic.
func (d *Dispatcher) MessagesRead(ctx context.Context, conversationID, readerID string, messageIDs []string) {
	if len(messageIDs) == 0 {
		return
	}
	topic := realtime.ConversationReadTopic(conversationID)
	d.publish(topic, realtime.ReadReceiptPayload{
		ConversationID: conversationID,
		UserID:         readerID,
		MessageIDs:     messageIDs,
		At:             time.Now().UTC(),
	})
}

// Presence broadcasts a presence state change on the conversation topic.
func (d *Dispatcher) Presence(ctx context.Context, conversationID, userID, state string) {
	topic := realtime.ConversationPresenceTopic(conversationID)
	d.publish(topic, realtime.PresencePayload{
		ConversationID: conversationID,
		UserID:         userID,
		State:          state,
	})
}

// ConversationCreated tells every participant about the new conversation on
// their personal conversations queue.
func (d *Dispatcher) ConversationCreated(ctx context.Context, conv *chat.ConversationDTO) {
	for _, p := range conv.Participants {
		topic := realtime.UserConversationsTopic(p.UserID)
		d.publish(topic, conv)
	}
}

// Error delivers a taxonomy-shaped error frame to one connection's error
// topic. Errors are never broadcast.
func (d *Dispatcher) Error(ctx context.Context, connectionID string, err error) {
	topic := realtime.ConnectionErrorsTopic(connectionID)
	d.publish(topic, realtime.ErrorPayload{
		Kind:    infrastructure.KindOf(err).String(),
		Message: err.Error(),
		At:      time.Now().UTC(),
	})
}

func (d *Dispatcher) publish(topic string, payload any) {
	raw, err := realtime.EncodeFrame(topic, payload)
	if err != nil {
		d.log.WithError(err).WithField("topic", topic).Error("failed to encode frame")
		return
	}
	d.pub.Publish(topic, raw)
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLength {
		return content
	}
	return string(runes[:previewLength]) + "..."
}
