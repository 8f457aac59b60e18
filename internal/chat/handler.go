package chat

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"gameconnect/infrastructure"
	"gameconnect/pkg/jwt"
)

type contextKey int

const callerKey contextKey = iota

// CallerID returns the authenticated user id placed on the request context
// by the handler's auth middleware.
func CallerID(ctx context.Context) string {
	id, _ := ctx.Value(callerKey).(string)
	return id
}

// Handler exposes the messaging operations over plain HTTP for clients
// without a live socket. Every route requires a valid bearer token; the
// token subject is the caller for all identity-sensitive operations.
type Handler struct {
	svc      *Service
	auth     *jwt.Validator
	validate *validator.Validate
	log      *logrus.Entry
}

func NewHandler(svc *Service, auth *jwt.Validator, log *logrus.Entry) *Handler {
	return &Handler{
		svc:      svc,
		auth:     auth,
		validate: validator.New(),
		log:      log,
	}
}

// Register mounts the chat routes under /api/chats.
func (h *Handler) Register(r *mux.Router) {
	chats := r.PathPrefix("/api/chats").Subrouter()
	chats.Use(h.authenticate)

	chats.HandleFunc("", h.createConversation).Methods(http.MethodPost)
	chats.HandleFunc("/private", h.createPrivate).Methods(http.MethodPost)
	chats.HandleFunc("/group", h.createGroup).Methods(http.MethodPost)
	chats.HandleFunc("/user/{userId}", h.listConversations).Methods(http.MethodGet)
	chats.HandleFunc("/user/{userId}/unread", h.listUnread).Methods(http.MethodGet)
	chats.HandleFunc("/{chatId}", h.getConversation).Methods(http.MethodGet)
	chats.HandleFunc("/{chatId}/messages", h.listMessages).Methods(http.MethodGet)
	chats.HandleFunc("/{chatId}/messages", h.sendMessage).Methods(http.MethodPost)
	chats.HandleFunc("/{chatId}/messages/read", h.markRead).Methods(http.MethodPut)
	chats.HandleFunc("/{chatId}/unread/count", h.countUnread).Methods(http.MethodGet)
	chats.HandleFunc("/{chatId}/last-message", h.lastMessage).Methods(http.MethodGet)
	chats.HandleFunc("/{chatId}/participants", h.listParticipants).Methods(http.MethodGet)
	chats.HandleFunc("/{chatId}/participants", h.addParticipant).Methods(http.MethodPost)
	chats.HandleFunc("/{chatId}/participants/{userId}", h.removeParticipant).Methods(http.MethodDelete)
	chats.HandleFunc("/{chatId}/participants/{userId}/check", h.checkParticipant).Methods(http.MethodGet)
	chats.HandleFunc("/{chatId}/admins", h.promoteAdmin).Methods(http.MethodPost)
	chats.HandleFunc("/{chatId}/name", h.renameGroup).Methods(http.MethodPut)
	chats.HandleFunc("/{chatId}/leave", h.leaveGroup).Methods(http.MethodDelete)
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := jwt.TokenFromRequest(r)
		if token == "" {
			h.writeError(w, infrastructure.Authentication("missing bearer token"))
			return
		}
		claims, err := h.auth.ValidateToken(token)
		if err != nil {
			h.writeError(w, infrastructure.Authentication("invalid bearer token"))
			return
		}
		ctx := context.WithValue(r.Context(), callerKey, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type createConversationRequest struct {
	Kind         string   `json:"kind" validate:"required"`
	Name         string   `json:"name"`
	Participants []string `json:"participants" validate:"required,min=1"`
}

func (h *Handler) createConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if !h.decode(w, r, &req) {
		return
	}
	dto, err := h.svc.CreateConversation(r.Context(), req.Kind, req.Name, req.Participants, CallerID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, dto)
}

type createPrivateRequest struct {
	UserID string `json:"userId" validate:"required"`
}

func (h *Handler) createPrivate(w http.ResponseWriter, r *http.Request) {
	var req createPrivateRequest
	if !h.decode(w, r, &req) {
		return
	}
	dto, err := h.svc.CreatePrivateChat(r.Context(), CallerID(r.Context()), req.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, dto)
}

type createGroupRequest struct {
	Name         string   `json:"name" validate:"required"`
	Participants []string `json:"participants" validate:"required,min=1"`
}

func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if !h.decode(w, r, &req) {
		return
	}
	dto, err := h.svc.CreateGroupChat(r.Context(), req.Name, req.Participants, CallerID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, dto)
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if userID != CallerID(r.Context()) {
		h.writeError(w, infrastructure.Authorization("cannot list another user's conversations"))
		return
	}
	dtos, err := h.svc.ListConversations(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) listUnread(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if userID != CallerID(r.Context()) {
		h.writeError(w, infrastructure.Authorization("cannot list another user's unread messages"))
		return
	}
	dtos, err := h.svc.ListUnreadForUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) getConversation(w http.ResponseWriter, r *http.Request) {
	dto, err := h.svc.GetConversation(r.Context(), mux.Vars(r)["chatId"], CallerID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["chatId"]
	if err := h.requireParticipant(r, chatID); err != nil {
		h.writeError(w, err)
		return
	}
	dtos, err := h.svc.ListMessages(r.Context(), chatID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required"`
	Kind    string `json:"kind"`
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	kind := MessageText
	if req.Kind != "" {
		parsed, err := ParseMessageKind(req.Kind)
		if err != nil {
			h.writeError(w, infrastructure.Validation("unsupported message kind %q", req.Kind))
			return
		}
		kind = parsed
	}
	dto, err := h.svc.SendMessage(r.Context(), mux.Vars(r)["chatId"], CallerID(r.Context()), req.Content, kind)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, dto)
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["chatId"]
	if err := h.requireParticipant(r, chatID); err != nil {
		h.writeError(w, err)
		return
	}
	ids, err := h.svc.MarkRead(r.Context(), chatID, CallerID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"messageIds": ids})
}

func (h *Handler) countUnread(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.CountUnread(r.Context(), mux.Vars(r)["chatId"], CallerID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (h *Handler) lastMessage(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["chatId"]
	if err := h.requireParticipant(r, chatID); err != nil {
		h.writeError(w, err)
		return
	}
	dto, err := h.svc.LastMessage(r.Context(), chatID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if dto == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) listParticipants(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["chatId"]
	if err := h.requireParticipant(r, chatID); err != nil {
		h.writeError(w, err)
		return
	}
	dtos, err := h.svc.ListParticipants(r.Context(), chatID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

type participantRequest struct {
	UserID string `json:"userId" validate:"required"`
}

func (h *Handler) addParticipant(w http.ResponseWriter, r *http.Request) {
	var req participantRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.svc.AddParticipant(r.Context(), mux.Vars(r)["chatId"], req.UserID, CallerID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeParticipant(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	err := h.svc.RemoveParticipant(r.Context(), vars["chatId"], vars["userId"], CallerID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) checkParticipant(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ok, err := h.svc.IsParticipant(r.Context(), vars["chatId"], vars["userId"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"participant": ok})
}

func (h *Handler) promoteAdmin(w http.ResponseWriter, r *http.Request) {
	var req participantRequest
	if !h.decode(w, r, &req) {
		return
	}
	chatID := mux.Vars(r)["chatId"]
	admin, err := h.svc.IsAdmin(r.Context(), chatID, CallerID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !admin {
		h.writeError(w, infrastructure.Authorization("only administrators can promote admins"))
		return
	}
	if err := h.svc.PromoteAdmin(r.Context(), chatID, req.UserID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type renameRequest struct {
	Name string `json:"name" validate:"required"`
}

func (h *Handler) renameGroup(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if !h.decode(w, r, &req) {
		return
	}
	chatID := mux.Vars(r)["chatId"]
	admin, err := h.svc.IsAdmin(r.Context(), chatID, CallerID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !admin {
		h.writeError(w, infrastructure.Authorization("only administrators can rename the group"))
		return
	}
	if err := h.svc.RenameGroup(r.Context(), chatID, req.Name); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) leaveGroup(w http.ResponseWriter, r *http.Request) {
	err := h.svc.LeaveGroup(r.Context(), mux.Vars(r)["chatId"], CallerID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) requireParticipant(r *http.Request, chatID string) error {
	ok, err := h.svc.IsParticipant(r.Context(), chatID, CallerID(r.Context()))
	if err != nil {
		return err
	}
	if !ok {
		return infrastructure.Authorization("not a participant of this conversation")
	}
	return nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, infrastructure.Validation("malformed request body"))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, infrastructure.Validation("invalid request: %v", err))
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WithError(err).Error("failed to write response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	kind := infrastructure.KindOf(err)
	status := http.StatusInternalServerError
	message := err.Error()

	switch kind {
	case infrastructure.KindAuthentication:
		status = http.StatusUnauthorized
	case infrastructure.KindAuthorization, infrastructure.KindValidation:
		status = http.StatusBadRequest
	case infrastructure.KindNotFound:
		status = http.StatusNotFound
	case infrastructure.KindInternal, infrastructure.KindUnknown:
		message = "internal error"
		h.log.WithError(err).Error("request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   kind.String(),
		"message": message,
	})
}
