package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"gameconnect/internal/realtime"
)

// TypePush is the asynq task type for phone notification delivery.
const TypePush = "notify:push"

// PushClient talks to a platform push service. The messaging core only
// knows the user id; token lookup and platform selection live behind this
// interface.
type PushClient interface {
	Send(ctx context.Context, userID, title, body string) error
}

// LogPushClient is the default client when no provider is configured. It
// records the delivery instead of performing it.
type LogPushClient struct {
	Log *logrus.Entry
}

func (c *LogPushClient) Send(ctx context.Context, userID, title, body string) error {
	c.Log.WithFields(logrus.Fields{
		"user":  userID,
		"title": title,
	}).Info("push delivery (log only)")
	return nil
}

type pushTask struct {
	UserID       string                       `json:"userId"`
	Notification realtime.NotificationPayload `json:"notification"`
}

// Enqueuer hands push deliveries to the queue so a socket send never waits
// on a push provider.
type Enqueuer struct {
	client *asynq.Client
}

func NewEnqueuer(client *asynq.Client) *Enqueuer {
	return &Enqueuer{client: client}
}

func (e *Enqueuer) EnqueuePush(ctx context.Context, userID string, note realtime.NotificationPayload) error {
	payload, err := json.Marshal(pushTask{UserID: userID, Notification: note})
	if err != nil {
		return fmt.Errorf("encode push task: %w", err)
	}
	task := asynq.NewTask(TypePush, payload)
	if _, err := e.client.EnqueueContext(ctx, task, asynq.MaxRetry(3), asynq.Queue("notify")); err != nil {
		return fmt.Errorf("enqueue push task: %w", err)
	}
	return nil
}

// Worker consumes push tasks and delivers them through the push client.
type Worker struct {
	push PushClient
	log  *logrus.Entry
}

func NewWorker(push PushClient, log *logrus.Entry) *Worker {
	return &Worker{push: push, log: log}
}

// Register mounts the worker's handlers on the asynq mux.
func (w *Worker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypePush, w.handlePush)
}

func (w *Worker) handlePush(ctx context.Context, task *asynq.Task) error {
	var t pushTask
	if err := json.Unmarshal(task.Payload(), &t); err != nil {
		return fmt.Errorf("decode push task: %w", err)
	}
	title := t.Notification.SenderName
	if title == "" {
		title = "New message"
	}
	if err := w.push.Send(ctx, t.UserID, title, t.Notification.Preview); err != nil {
		return fmt.Errorf("push delivery for %s: %w", t.UserID, err)
	}
	return nil
}
