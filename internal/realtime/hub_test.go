package realtime

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// socketPair upgrades one websocket and hands back both ends.
func socketPair(t *testing.T, userID string) (*Connection, *websocket.Conn) {
	t.Helper()

	serverSide := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverSide <- ws
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	conn := NewConnection(userID, <-serverSide)
	t.Cleanup(func() { conn.Close(websocket.CloseNormalClosure, "test done") })
	return conn, client
}

func readFrame(t *testing.T, client *websocket.Conn) []byte {
	t.Helper()
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := client.ReadMessage()
	require.NoError(t, err)
	return raw
}

func TestHubPublishReachesSubscribers(t *testing.T) {
	hub := NewHub(discardLogger())
	conn, client := socketPair(t, "u1")
	hub.Attach(conn)

	hub.Subscribe(conn, "chat.c1.messages")
	n := hub.Publish("chat.c1.messages", []byte(`{"destination":"chat.c1.messages"}`))
	assert.Equal(t, 1, n)

	raw := readFrame(t, client)
	assert.Contains(t, string(raw), "chat.c1.messages")
}

func TestHubPersonalTopicsAutoSubscribed(t *testing.T) {
	hub := NewHub(discardLogger())
	conn, client := socketPair(t, "u1")
	hub.Attach(conn)

	n := hub.Publish(UserNotificationsTopic("u1"), []byte(`{}`))
	assert.Equal(t, 1, n)
	readFrame(t, client)

	n = hub.Publish(ConnectionErrorsTopic(conn.ID), []byte(`{}`))
	assert.Equal(t, 1, n)
	readFrame(t, client)

	// Another user's personal topic is not delivered here.
	n = hub.Publish(UserNotificationsTopic("u2"), []byte(`{}`))
	assert.Zero(t, n)
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub(discardLogger())
	conn, _ := socketPair(t, "u1")
	hub.Attach(conn)

	hub.Subscribe(conn, "chat.c1.messages")
	hub.Unsubscribe(conn, "chat.c1.messages")

	n := hub.Publish("chat.c1.messages", []byte(`{}`))
	assert.Zero(t, n)
}

func TestHubDetachDropsAllSubscriptions(t *testing.T) {
	hub := NewHub(discardLogger())
	conn, _ := socketPair(t, "u1")
	hub.Attach(conn)
	hub.Subscribe(conn, "chat.c1.messages")

	hub.Detach(conn)

	assert.Zero(t, hub.Publish("chat.c1.messages", []byte(`{}`)))
	assert.Zero(t, hub.Publish(UserNotificationsTopic("u1"), []byte(`{}`)))
}

func TestHubSubscribeIgnoresUnattachedConnections(t *testing.T) {
	hub := NewHub(discardLogger())
	conn, _ := socketPair(t, "u1")

	hub.Subscribe(conn, "chat.c1.messages")
	assert.Zero(t, hub.Publish("chat.c1.messages", []byte(`{}`)))
}

func TestHubFanOutAcrossConnections(t *testing.T) {
	hub := NewHub(discardLogger())
	first, firstClient := socketPair(t, "u1")
	second, secondClient := socketPair(t, "u2")
	hub.Attach(first)
	hub.Attach(second)
	hub.Subscribe(first, "chat.c1.messages")
	hub.Subscribe(second, "chat.c1.messages")

	n := hub.Publish("chat.c1.messages", []byte(`{"destination":"chat.c1.messages"}`))
	assert.Equal(t, 2, n)
	readFrame(t, firstClient)
	readFrame(t, secondClient)
}
