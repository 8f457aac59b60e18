package realtime

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Relay mirrors published frames to other nodes. The hub calls it after
// local fan-out; frames arriving from the relay re-enter through
// PublishLocal so they are never re-relayed.
type Relay interface {
	Relay(topic string, payload []byte)
}

// Hub tracks live connections and their topic subscriptions and fans
// published frames out to every local subscriber. Each connection is
// automatically subscribed to its personal topics on Attach.
type Hub struct {
	mu         sync.RWMutex
	conns      map[string]*Connection
	topics     map[string]map[string]*Connection
	connTopics map[string]map[string]struct{}

	relay Relay
	log   *logrus.Entry
}

func NewHub(log *logrus.Entry) *Hub {
	return &Hub{
		conns:      make(map[string]*Connection),
		topics:     make(map[string]map[string]*Connection),
		connTopics: make(map[string]map[string]struct{}),
		log:        log,
	}
}

// SetRelay wires the cross-node relay. Call before the hub starts taking
// connections.
func (h *Hub) SetRelay(r Relay) { h.relay = r }

// Attach registers the connection, subscribes its personal topics and
// starts its write loop.
func (h *Hub) Attach(c *Connection) {
	h.mu.Lock()
	h.conns[c.ID] = c
	h.connTopics[c.ID] = make(map[string]struct{})
	h.mu.Unlock()

	h.Subscribe(c, UserNotificationsTopic(c.UserID))
	h.Subscribe(c, UserConversationsTopic(c.UserID))
	h.Subscribe(c, UserQueueTopic(c.UserID))
	h.Subscribe(c, ConnectionErrorsTopic(c.ID))

	c.Start()

	h.log.WithFields(logrus.Fields{
		"connection": c.ID,
		"user":       c.UserID,
	}).Info("connection attached")
}

// Detach drops the connection and all of its subscriptions.
func (h *Hub) Detach(c *Connection) {
	h.mu.Lock()
	for topic := range h.connTopics[c.ID] {
		h.unsubscribeLocked(topic, c.ID)
	}
	delete(h.connTopics, c.ID)
	delete(h.conns, c.ID)
	h.mu.Unlock()

	h.log.WithFields(logrus.Fields{
		"connection": c.ID,
		"user":       c.UserID,
	}).Info("connection detached")
}

// Subscribe adds the connection to a topic. Callers are responsible for
// authorization; the hub only routes.
func (h *Hub) Subscribe(c *Connection, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.ID]; !ok {
		return
	}
	subs := h.topics[topic]
	if subs == nil {
		subs = make(map[string]*Connection)
		h.topics[topic] = subs
	}
	subs[c.ID] = c
	h.connTopics[c.ID][topic] = struct{}{}
}

// Unsubscribe removes the connection from a topic.
func (h *Hub) Unsubscribe(c *Connection, topic string) {
	h.mu.Lock()
	h.unsubscribeLocked(topic, c.ID)
	h.mu.Unlock()
}

// Publish fans payload out to local subscribers of topic and mirrors it to
// the relay. It returns the local delivery count.
func (h *Hub) Publish(topic string, payload []byte) int {
	n := h.PublishLocal(topic, payload)
	if h.relay != nil {
		h.relay.Relay(topic, payload)
	}
	return n
}

// PublishLocal delivers to local subscribers only. The redis relay calls
// this for frames that originated on other nodes.
func (h *Hub) PublishLocal(topic string, payload []byte) int {
	h.mu.RLock()
	subs := h.topics[topic]
	targets := make([]*Connection, 0, len(subs))
	for _, c := range subs {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if err := c.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// Close tears down every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*Connection)
	h.topics = make(map[string]map[string]*Connection)
	h.connTopics = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, c := range conns {
		c.Close(1001, "server shutdown")
	}
}

func (h *Hub) unsubscribeLocked(topic, connID string) {
	subs := h.topics[topic]
	if subs == nil {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
	if topics, ok := h.connTopics[connID]; ok {
		delete(topics, topic)
	}
}
