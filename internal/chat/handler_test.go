package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gameconnect/internal/user"
	"gameconnect/pkg/jwt"
)

var handlerSecret = []byte("handler-test-secret")

func signToken(t *testing.T, userID string) string {
	t.Helper()
	claims := jwt.Claims{
		UserID: userID,
		RegisteredClaims: gojwt.RegisteredClaims{
			ExpiresAt: gojwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(handlerSecret)
	require.NoError(t, err)
	return signed
}

func newTestRouter(t *testing.T, users ...*user.User) (*mux.Router, *Service) {
	t.Helper()
	svc, _ := newTestService(t, users...)
	h := NewHandler(svc, jwt.NewValidator(handlerSecret), testLogger())
	r := mux.NewRouter()
	h.Register(r)
	return r, svc
}

func doJSON(t *testing.T, r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandlerRequiresToken(t *testing.T) {
	r, _ := newTestRouter(t, &user.User{ID: "u1", Username: "alice"})

	w := doJSON(t, r, http.MethodGet, "/api/chats/user/u1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/chats/user/u1", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlerAcceptsQueryToken(t *testing.T) {
	r, _ := newTestRouter(t, &user.User{ID: "u1", Username: "alice"})
	token := signToken(t, "u1")

	req := httptest.NewRequest(http.MethodGet, "/api/chats/user/u1?token="+token, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandlerPrivateChatFlow(t *testing.T) {
	alice := &user.User{ID: "u1", Username: "alice"}
	bob := &user.User{ID: "u2", Username: "bob"}
	r, _ := newTestRouter(t, alice, bob)
	aliceToken := signToken(t, "u1")
	bobToken := signToken(t, "u2")

	w := doJSON(t, r, http.MethodPost, "/api/chats/private", aliceToken, map[string]string{"userId": "u2"})
	require.Equal(t, http.StatusCreated, w.Code)
	var conv ConversationDTO
	require.NoError(t, json.NewDecoder(w.Body).Decode(&conv))
	assert.Equal(t, "alice - bob", conv.Name)

	w = doJSON(t, r, http.MethodPost, "/api/chats/"+conv.ConversationID+"/messages", aliceToken,
		map[string]string{"content": "gg", "kind": "TEXT"})
	require.Equal(t, http.StatusCreated, w.Code)
	var msg MessageDTO
	require.NoError(t, json.NewDecoder(w.Body).Decode(&msg))
	assert.Equal(t, "gg", msg.Content)

	w = doJSON(t, r, http.MethodGet, "/api/chats/"+conv.ConversationID+"/messages", bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var msgs []MessageDTO
	require.NoError(t, json.NewDecoder(w.Body).Decode(&msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "gg", msgs[0].Content)

	w = doJSON(t, r, http.MethodPut, "/api/chats/"+conv.ConversationID+"/messages/read", bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var read struct {
		MessageIDs []string `json:"messageIds"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&read))
	assert.Equal(t, []string{msg.MessageID}, read.MessageIDs)
}

func TestHandlerStatusMapping(t *testing.T) {
	alice := &user.User{ID: "u1", Username: "alice"}
	bob := &user.User{ID: "u2", Username: "bob"}
	eve := &user.User{ID: "u3", Username: "eve"}
	r, svc := newTestRouter(t, alice, bob, eve)
	ctx := context.Background()

	conv, err := svc.CreatePrivateChat(ctx, "u1", "u2")
	require.NoError(t, err)

	// Unknown conversation maps to 404.
	w := doJSON(t, r, http.MethodGet, "/api/chats/missing", signToken(t, "u1"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Outsider access maps to 400.
	w = doJSON(t, r, http.MethodGet, "/api/chats/"+conv.ConversationID, signToken(t, "u3"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Listing another user's conversations maps to 400.
	w = doJSON(t, r, http.MethodGet, "/api/chats/user/u2", signToken(t, "u1"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Missing required body field maps to 400.
	w = doJSON(t, r, http.MethodPost, "/api/chats/private", signToken(t, "u1"), map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerGroupManagement(t *testing.T) {
	alice := &user.User{ID: "u1", Username: "alice"}
	bob := &user.User{ID: "u2", Username: "bob"}
	carol := &user.User{ID: "u3", Username: "carol"}
	r, _ := newTestRouter(t, alice, bob, carol)
	aliceToken := signToken(t, "u1")
	bobToken := signToken(t, "u2")

	w := doJSON(t, r, http.MethodPost, "/api/chats/group", aliceToken,
		map[string]any{"name": "guild", "participants": []string{"u2"}})
	require.Equal(t, http.StatusCreated, w.Code)
	var conv ConversationDTO
	require.NoError(t, json.NewDecoder(w.Body).Decode(&conv))

	// Non-admin cannot add a participant.
	w = doJSON(t, r, http.MethodPost, "/api/chats/"+conv.ConversationID+"/participants", bobToken,
		map[string]string{"userId": "u3"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/chats/"+conv.ConversationID+"/participants", aliceToken,
		map[string]string{"userId": "u3"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/chats/"+conv.ConversationID+"/participants/u3/check", aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var check map[string]bool
	require.NoError(t, json.NewDecoder(w.Body).Decode(&check))
	assert.True(t, check["participant"])

	w = doJSON(t, r, http.MethodPut, "/api/chats/"+conv.ConversationID+"/name", aliceToken,
		map[string]string{"name": "renamed"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/api/chats/"+conv.ConversationID+"/leave", bobToken, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
