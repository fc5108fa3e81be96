// ABOUTME: Conversation authorization shared by the websocket gateway and REST handlers
// ABOUTME: Maps membership/friendship checks to the rejection codes surfaced to clients

package gateway

import (
	"context"
	"net/http"

	"github.com/stingtao/chat/internal/room"
)

// Rejection reason codes surfaced to clients. Every refused connection
// carries exactly one of these.
const (
	CodeMissingParameters    = "missing-parameters"
	CodeUnauthenticated      = "unauthenticated"
	CodeNotAMember           = "not-a-member"
	CodeInvalidConversation  = "invalid-conversation"
	CodeConversationNotFound = "conversation-not-found"
	CodeNotAuthorized        = "not-authorized-for-conversation"
)

// Rejection is a terminal refusal: the connection is closed and never
// retried server-side.
type Rejection struct {
	Status int
	Code   string
	Reason string
}

func reject(status int, code, reason string) *Rejection {
	return &Rejection{Status: status, Code: code, Reason: reason}
}

// Directory answers the membership questions the gateway needs. Implemented
// by store.Store; the gateway itself holds no authorization data.
type Directory interface {
	IsTenantMember(ctx context.Context, tenantID, userID string) (bool, error)
	GroupExists(ctx context.Context, tenantID, groupID string) (bool, error)
	IsGroupMember(ctx context.Context, groupID, userID string) (bool, error)
	AreFriends(ctx context.Context, tenantID, userA, userB string) (bool, error)
}

// Authorize runs the full conversation authorization sequence for an
// already-authenticated subject and resolves the room key on success.
// A non-nil Rejection is a policy refusal; a non-nil error is a collaborator
// failure (the caller should answer 500).
func Authorize(ctx context.Context, dir Directory, subjectID, tenantID string, kind room.Kind, conversationID string) (room.Key, *Rejection, error) {
	member, err := dir.IsTenantMember(ctx, tenantID, subjectID)
	if err != nil {
		return "", nil, err
	}
	if !member {
		return "", reject(http.StatusForbidden, CodeNotAMember, "not a member of this workspace"), nil
	}

	switch kind {
	case room.KindGroup:
		exists, err := dir.GroupExists(ctx, tenantID, conversationID)
		if err != nil {
			return "", nil, err
		}
		if !exists {
			return "", reject(http.StatusNotFound, CodeConversationNotFound, "group not found"), nil
		}
		inGroup, err := dir.IsGroupMember(ctx, conversationID, subjectID)
		if err != nil {
			return "", nil, err
		}
		if !inGroup {
			return "", reject(http.StatusForbidden, CodeNotAuthorized, "not a member of this group"), nil
		}

	case room.KindDirect:
		if conversationID == subjectID {
			return "", reject(http.StatusBadRequest, CodeInvalidConversation, "direct conversation with yourself"), nil
		}
		counterpart, err := dir.IsTenantMember(ctx, tenantID, conversationID)
		if err != nil {
			return "", nil, err
		}
		if !counterpart {
			return "", reject(http.StatusNotFound, CodeConversationNotFound, "recipient not in workspace"), nil
		}
		friends, err := dir.AreFriends(ctx, tenantID, subjectID, conversationID)
		if err != nil {
			return "", nil, err
		}
		if !friends {
			return "", reject(http.StatusForbidden, CodeNotAuthorized, "not friends with this user"), nil
		}

	default:
		return "", reject(http.StatusBadRequest, CodeInvalidConversation, "unknown conversation kind"), nil
	}

	key, err := room.Resolve(tenantID, kind, conversationID, subjectID)
	if err != nil {
		return "", reject(http.StatusBadRequest, CodeInvalidConversation, "invalid conversation"), nil
	}
	return key, nil, nil
}
