package realtime

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const channelPrefix = "gc:topic:"

type relayEnvelope struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

// RedisBridge mirrors hub publishes across nodes through redis pub/sub.
// Every published frame goes out on the channel for its topic tagged with
// this node's id; frames received with a foreign origin are replayed into
// the local hub.
type RedisBridge struct {
	node   string
	client *redis.Client
	hub    *Hub
	log    *logrus.Entry
	cancel context.CancelFunc
}

func NewRedisBridge(client *redis.Client, hub *Hub, log *logrus.Entry) *RedisBridge {
	return &RedisBridge{
		node:   uuid.NewString(),
		client: client,
		hub:    hub,
		log:    log,
	}
}

// Relay publishes the frame to the topic's redis channel.
func (b *RedisBridge) Relay(topic string, payload []byte) {
	env, err := json.Marshal(relayEnvelope{Origin: b.node, Payload: payload})
	if err != nil {
		b.log.WithError(err).Error("failed to encode relay envelope")
		return
	}
	if err := b.client.Publish(context.Background(), channelPrefix+topic, env).Err(); err != nil {
		b.log.WithError(err).WithField("topic", topic).Warn("relay publish failed")
	}
}

// Run subscribes to every topic channel and replays foreign frames into the
// hub until the context is canceled.
func (b *RedisBridge) Run(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	sub := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handle(msg)
		}
	}
}

// Stop ends the Run loop.
func (b *RedisBridge) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}

func (b *RedisBridge) handle(msg *redis.Message) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		b.log.WithError(err).Warn("dropping malformed relay envelope")
		return
	}
	if env.Origin == b.node {
		return
	}
	topic := strings.TrimPrefix(msg.Channel, channelPrefix)
	b.hub.PublishLocal(topic, env.Payload)
}
