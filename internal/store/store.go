// ABOUTME: Store interface and data types for chat persistence
// ABOUTME: Messages plus the directory data (membership, groups, friendships)

package store

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when creating an entity that already exists,
// such as a second friend request for the same pair.
var ErrDuplicate = errors.New("already exists")

// MessageType constants for message content types.
const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeFile   = "file"
	MessageTypeSystem = "system"
)

// Friendship status values.
const (
	FriendshipPending  = "pending"
	FriendshipAccepted = "accepted"
)

// Message is one persisted chat message. Exactly one of ReceiverID (direct)
// or GroupID (group) is set. IDs are ULIDs, so lexicographic id order is
// creation order and the reconciler's cursor comparison works on ids alone.
type Message struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenantId"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId,omitempty"`
	GroupID    string    `json:"groupId,omitempty"`
	Content    string    `json:"content"`
	Type       string    `json:"type"`
	FileURL    string    `json:"fileUrl,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Group is a named multi-party conversation inside a tenant.
type Group struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// Friendship links two subjects inside a tenant. Only an accepted
// friendship authorizes a direct conversation.
type Friendship struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenantId"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NewMessageID returns a fresh ULID for a message.
func NewMessageID() string {
	return ulid.Make().String()
}

// Store is the persistence interface. Both SQLiteStore and PostgresStore
// implement it.
type Store interface {
	// Messages. List operations return newest-first, capped at limit;
	// a non-empty sinceID restricts results to ids greater than it.
	AppendMessage(ctx context.Context, msg *Message) error
	ListDirectMessages(ctx context.Context, tenantID, userA, userB, sinceID string, limit int) ([]*Message, error)
	ListGroupMessages(ctx context.Context, tenantID, groupID, sinceID string, limit int) ([]*Message, error)

	// Tenant membership
	AddTenantMember(ctx context.Context, tenantID, userID string) error
	IsTenantMember(ctx context.Context, tenantID, userID string) (bool, error)

	// Groups
	CreateGroup(ctx context.Context, group *Group) error
	GroupExists(ctx context.Context, tenantID, groupID string) (bool, error)
	AddGroupMember(ctx context.Context, groupID, userID string) error
	IsGroupMember(ctx context.Context, groupID, userID string) (bool, error)
	ListGroupMembers(ctx context.Context, groupID string) ([]string, error)

	// Friendships
	CreateFriendRequest(ctx context.Context, f *Friendship) error
	AcceptFriendRequest(ctx context.Context, tenantID, senderID, receiverID string) error
	AreFriends(ctx context.Context, tenantID, userA, userB string) (bool, error)

	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
