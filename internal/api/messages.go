// ABOUTME: Message send and catch-up list endpoints
// ABOUTME: Send persists before broadcasting; list is the reconciler's poll source

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/stingtao/chat/internal/auth"
	"github.com/stingtao/chat/internal/gateway"
	"github.com/stingtao/chat/internal/metrics"
	"github.com/stingtao/chat/internal/notify"
	"github.com/stingtao/chat/internal/room"
	"github.com/stingtao/chat/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type sendMessageRequest struct {
	TenantID   string `json:"tenantId"`
	Content    string `json:"content"`
	ReceiverID string `json:"receiverId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
	Type       string `json:"type,omitempty"`
	FileURL    string `json:"fileUrl,omitempty"`
}

// SendMessage persists a message and then broadcasts it to the conversation
// room. The order is load-bearing: a client must never observe a push for a
// message it cannot also retrieve via catch-up, so the append happens
// strictly before the publish.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	ident := auth.FromContext(r.Context())

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, gateway.CodeMissingParameters, "invalid request body")
		return
	}
	if req.TenantID == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, gateway.CodeMissingParameters, "tenantId and content are required")
		return
	}
	hasReceiver := req.ReceiverID != ""
	hasGroup := req.GroupID != ""
	if hasReceiver == hasGroup {
		writeError(w, http.StatusBadRequest, gateway.CodeMissingParameters, "either receiverId or groupId is required")
		return
	}

	kind, conversationID := room.KindDirect, req.ReceiverID
	if hasGroup {
		kind, conversationID = room.KindGroup, req.GroupID
	}

	key, rej, err := gateway.Authorize(r.Context(), h.store, ident.SubjectID, req.TenantID, kind, conversationID)
	if err != nil {
		h.logger.Error("authorization check failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if rej != nil {
		writeError(w, rej.Status, rej.Code, rej.Reason)
		return
	}

	msg := &store.Message{
		ID:         store.NewMessageID(),
		TenantID:   req.TenantID,
		SenderID:   ident.SubjectID,
		ReceiverID: req.ReceiverID,
		GroupID:    req.GroupID,
		Content:    req.Content,
		Type:       req.Type,
		FileURL:    req.FileURL,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.store.AppendMessage(r.Context(), msg); err != nil {
		h.logger.Error("persisting message failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to send message")
		return
	}

	env, err := room.NewEnvelope(room.KindNewMessage, msg)
	if err == nil {
		// Server-originated publish: all sessions, including the
		// sender's own tabs, receive it and dedupe by id.
		h.rooms.Publish(key, env, "")
	}
	metrics.MessagesPosted.WithLabelValues(string(kind)).Inc()

	h.notifyOffline(r.Context(), key, msg)

	writeJSON(w, http.StatusCreated, msg)
}

// notifyOffline hands a push event to the notifier for every conversation
// participant without a live session. Failures are logged, never surfaced:
// the message is already durable and broadcast.
func (h *Handler) notifyOffline(ctx context.Context, key room.Key, msg *store.Message) {
	var recipients []string
	if msg.GroupID != "" {
		members, err := h.store.ListGroupMembers(ctx, msg.GroupID)
		if err != nil {
			h.logger.Warn("listing group members for push failed", "error", err)
			return
		}
		recipients = members
	} else {
		recipients = []string{msg.ReceiverID}
	}

	present := make(map[string]bool)
	for _, subject := range h.rooms.Present(key) {
		present[subject] = true
	}

	offline := recipients[:0:0]
	for _, id := range recipients {
		if id != msg.SenderID && !present[id] {
			offline = append(offline, id)
		}
	}
	if len(offline) == 0 {
		return
	}

	payload, _ := json.Marshal(msg)
	err := h.notifier.Publish(ctx, &notify.Event{
		Kind:       notify.KindMessage,
		TenantID:   msg.TenantID,
		Recipients: offline,
		Payload:    payload,
	})
	if err != nil {
		h.logger.Warn("publishing push event failed", "error", err)
	}
}

// ListMessages is the catch-up read: newest-first, capped, optionally
// restricted to ids after the caller's cursor. Safe to call on any
// schedule; this is what the reconciler polls.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	ident := auth.FromContext(r.Context())
	q := r.URL.Query()

	tenantID := q.Get("tenantId")
	receiverID := q.Get("receiverId")
	groupID := q.Get("groupId")
	sinceID := q.Get("since")

	if tenantID == "" {
		writeError(w, http.StatusBadRequest, gateway.CodeMissingParameters, "tenantId is required")
		return
	}
	hasReceiver := receiverID != ""
	hasGroup := groupID != ""
	if hasReceiver == hasGroup {
		writeError(w, http.StatusBadRequest, gateway.CodeMissingParameters, "either receiverId or groupId is required")
		return
	}

	limit := defaultListLimit
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, gateway.CodeMissingParameters, "invalid limit")
			return
		}
		limit = min(parsed, maxListLimit)
	}

	kind, conversationID := room.KindDirect, receiverID
	if hasGroup {
		kind, conversationID = room.KindGroup, groupID
	}

	_, rej, err := gateway.Authorize(r.Context(), h.store, ident.SubjectID, tenantID, kind, conversationID)
	if err != nil {
		h.logger.Error("authorization check failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if rej != nil {
		writeError(w, rej.Status, rej.Code, rej.Reason)
		return
	}

	var messages []*store.Message
	if hasGroup {
		messages, err = h.store.ListGroupMessages(r.Context(), tenantID, groupID, sinceID, limit)
	} else {
		messages, err = h.store.ListDirectMessages(r.Context(), tenantID, ident.SubjectID, receiverID, sinceID, limit)
	}
	if err != nil {
		h.logger.Error("listing messages failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to list messages")
		return
	}

	if messages == nil {
		messages = []*store.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}
