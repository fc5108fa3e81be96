// ABOUTME: Friend request and acceptance endpoints
// ABOUTME: Publishes friend-request/friend-accepted envelopes and push events

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/stingtao/chat/internal/auth"
	"github.com/stingtao/chat/internal/gateway"
	"github.com/stingtao/chat/internal/notify"
	"github.com/stingtao/chat/internal/room"
	"github.com/stingtao/chat/internal/store"
)

type friendRequestBody struct {
	TenantID   string `json:"tenantId"`
	ReceiverID string `json:"receiverId"`
}

// CreateFriendRequest records a pending friendship from the caller to the
// receiver and notifies the receiver.
func (h *Handler) CreateFriendRequest(w http.ResponseWriter, r *http.Request) {
	ident := auth.FromContext(r.Context())

	var req friendRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, gateway.CodeMissingParameters, "invalid request body")
		return
	}
	if req.TenantID == "" || req.ReceiverID == "" {
		writeError(w, http.StatusBadRequest, gateway.CodeMissingParameters, "tenantId and receiverId are required")
		return
	}
	if req.ReceiverID == ident.SubjectID {
		writeError(w, http.StatusBadRequest, gateway.CodeInvalidConversation, "cannot befriend yourself")
		return
	}

	if rej := h.requireTenantPair(w, r, req.TenantID, ident.SubjectID, req.ReceiverID); rej {
		return
	}

	f := &store.Friendship{
		ID:         uuid.NewString(),
		TenantID:   req.TenantID,
		SenderID:   ident.SubjectID,
		ReceiverID: req.ReceiverID,
		Status:     store.FriendshipPending,
	}
	if err := h.store.CreateFriendRequest(r.Context(), f); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "duplicate", "friendship already exists")
			return
		}
		h.logger.Error("creating friend request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to create friend request")
		return
	}

	h.publishFriendEvent(r, room.KindFriendRequest, notify.KindFriendRequest, f)
	writeJSON(w, http.StatusCreated, f)
}

type friendAcceptBody struct {
	TenantID string `json:"tenantId"`
	SenderID string `json:"senderId"`
}

// AcceptFriendRequest flips a pending request addressed to the caller to
// accepted, which is what authorizes the pair's direct conversation.
func (h *Handler) AcceptFriendRequest(w http.ResponseWriter, r *http.Request) {
	ident := auth.FromContext(r.Context())

	var req friendAcceptBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, gateway.CodeMissingParameters, "invalid request body")
		return
	}
	if req.TenantID == "" || req.SenderID == "" {
		writeError(w, http.StatusBadRequest, gateway.CodeMissingParameters, "tenantId and senderId are required")
		return
	}

	err := h.store.AcceptFriendRequest(r.Context(), req.TenantID, req.SenderID, ident.SubjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not-found", "no pending friend request")
			return
		}
		h.logger.Error("accepting friend request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to accept friend request")
		return
	}

	f := &store.Friendship{
		TenantID:   req.TenantID,
		SenderID:   req.SenderID,
		ReceiverID: ident.SubjectID,
		Status:     store.FriendshipAccepted,
	}
	h.publishFriendEvent(r, room.KindFriendAccepted, notify.KindFriendAccepted, f)
	writeJSON(w, http.StatusOK, f)
}

// requireTenantPair rejects unless both subjects belong to the tenant.
// Returns true when a rejection was written.
func (h *Handler) requireTenantPair(w http.ResponseWriter, r *http.Request, tenantID, subjectID, otherID string) bool {
	member, err := h.store.IsTenantMember(r.Context(), tenantID, subjectID)
	if err != nil {
		h.logger.Error("membership check failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return true
	}
	if !member {
		writeError(w, http.StatusForbidden, gateway.CodeNotAMember, "not a member of this workspace")
		return true
	}

	other, err := h.store.IsTenantMember(r.Context(), tenantID, otherID)
	if err != nil {
		h.logger.Error("membership check failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return true
	}
	if !other {
		writeError(w, http.StatusNotFound, gateway.CodeConversationNotFound, "recipient not in workspace")
		return true
	}
	return false
}

// publishFriendEvent pushes a friendship transition to the affected
// counterpart: realtime into whatever rooms they currently occupy, and
// through the offline-push notifier otherwise. The pair's direct room is
// not usable for this; nobody can be admitted to it before acceptance.
func (h *Handler) publishFriendEvent(r *http.Request, kind room.EnvelopeKind, pushKind string, f *store.Friendship) {
	payload, _ := json.Marshal(f)

	recipient := f.ReceiverID
	if kind == room.KindFriendAccepted {
		recipient = f.SenderID
	}

	if env, err := room.NewEnvelope(kind, f); err == nil {
		h.rooms.NotifySubject(f.TenantID, recipient, env)
	}

	err := h.notifier.Publish(r.Context(), &notify.Event{
		Kind:       pushKind,
		TenantID:   f.TenantID,
		Recipients: []string{recipient},
		Payload:    payload,
	})
	if err != nil {
		h.logger.Warn("publishing push event failed", "error", err)
	}
}
