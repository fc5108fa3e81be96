// ABOUTME: PostgreSQL implementation of the Store interface using pgx
// ABOUTME: Production deployments; schema created automatically on startup

package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface backed by PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects to the database at databaseURL and ensures the
// schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	logger := slog.Default().With("component", "store")

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Debug("postgres store opened")
	return s, nil
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		receiver_id TEXT,
		group_id TEXT,
		content TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'text',
		file_url TEXT,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_direct
		ON messages(tenant_id, sender_id, receiver_id, id);
	CREATE INDEX IF NOT EXISTS idx_messages_group
		ON messages(tenant_id, group_id, id);

	CREATE TABLE IF NOT EXISTS tenant_members (
		tenant_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS groups (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS group_members (
		group_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (group_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS friendships (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (tenant_id, sender_id, receiver_id)
	);
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// AppendMessage persists one message.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Type == "" {
		msg.Type = MessageTypeText
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, tenant_id, sender_id, receiver_id, group_id, content, type, file_url, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, NULLIF($8, ''), $9)`,
		msg.ID, msg.TenantID, msg.SenderID, msg.ReceiverID, msg.GroupID,
		msg.Content, msg.Type, msg.FileURL, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// ListDirectMessages returns messages between two subjects, newest-first.
func (s *PostgresStore) ListDirectMessages(ctx context.Context, tenantID, userA, userB, sinceID string, limit int) ([]*Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, sender_id, COALESCE(receiver_id, ''), COALESCE(group_id, ''),
		       content, type, COALESCE(file_url, ''), created_at
		FROM messages
		WHERE tenant_id = $1
		  AND ((sender_id = $2 AND receiver_id = $3) OR (sender_id = $3 AND receiver_id = $2))
		  AND id > $4
		ORDER BY id DESC
		LIMIT $5`,
		tenantID, userA, userB, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying direct messages: %w", err)
	}
	defer rows.Close()
	return scanPgxMessages(rows)
}

// ListGroupMessages returns a group's messages, newest-first.
func (s *PostgresStore) ListGroupMessages(ctx context.Context, tenantID, groupID, sinceID string, limit int) ([]*Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, sender_id, COALESCE(receiver_id, ''), COALESCE(group_id, ''),
		       content, type, COALESCE(file_url, ''), created_at
		FROM messages
		WHERE tenant_id = $1 AND group_id = $2 AND id > $3
		ORDER BY id DESC
		LIMIT $4`,
		tenantID, groupID, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying group messages: %w", err)
	}
	defer rows.Close()
	return scanPgxMessages(rows)
}

func scanPgxMessages(rows pgx.Rows) ([]*Message, error) {
	var out []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.TenantID, &m.SenderID, &m.ReceiverID, &m.GroupID,
			&m.Content, &m.Type, &m.FileURL, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// AddTenantMember records a subject's membership in a tenant.
func (s *PostgresStore) AddTenantMember(ctx context.Context, tenantID, userID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenant_members (tenant_id, user_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`,
		tenantID, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inserting tenant member: %w", err)
	}
	return nil
}

// IsTenantMember reports whether a subject belongs to a tenant.
func (s *PostgresStore) IsTenantMember(ctx context.Context, tenantID, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tenant_members WHERE tenant_id = $1 AND user_id = $2)`,
		tenantID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("querying tenant member: %w", err)
	}
	return exists, nil
}

// CreateGroup persists a group.
func (s *PostgresStore) CreateGroup(ctx context.Context, group *Group) error {
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO groups (id, tenant_id, name, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		group.ID, group.TenantID, group.Name, group.CreatedBy, group.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting group: %w", err)
	}
	return nil
}

// GroupExists reports whether a group exists in a tenant.
func (s *PostgresStore) GroupExists(ctx context.Context, tenantID, groupID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM groups WHERE id = $1 AND tenant_id = $2)`,
		groupID, tenantID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("querying group: %w", err)
	}
	return exists, nil
}

// AddGroupMember records a subject's membership in a group.
func (s *PostgresStore) AddGroupMember(ctx context.Context, groupID, userID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO group_members (group_id, user_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`,
		groupID, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inserting group member: %w", err)
	}
	return nil
}

// IsGroupMember reports whether a subject belongs to a group.
func (s *PostgresStore) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)`,
		groupID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("querying group member: %w", err)
	}
	return exists, nil
}

// ListGroupMembers returns the subject ids of a group's members.
func (s *PostgresStore) ListGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM group_members WHERE group_id = $1 ORDER BY user_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("querying group members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning group member: %w", err)
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

// CreateFriendRequest inserts a pending friendship. Returns ErrDuplicate if
// a friendship already exists between the pair in either direction.
func (s *PostgresStore) CreateFriendRequest(ctx context.Context, f *Friendship) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM friendships
			WHERE tenant_id = $1
			  AND ((sender_id = $2 AND receiver_id = $3) OR (sender_id = $3 AND receiver_id = $2))
		)`,
		f.TenantID, f.SenderID, f.ReceiverID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("querying friendship: %w", err)
	}
	if exists {
		return ErrDuplicate
	}

	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if f.Status == "" {
		f.Status = FriendshipPending
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO friendships (id, tenant_id, sender_id, receiver_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		f.ID, f.TenantID, f.SenderID, f.ReceiverID, f.Status, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting friendship: %w", err)
	}
	return nil
}

// AcceptFriendRequest flips a pending request to accepted. Returns
// ErrNotFound if no pending request from sender to receiver exists.
func (s *PostgresStore) AcceptFriendRequest(ctx context.Context, tenantID, senderID, receiverID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE friendships SET status = $1
		WHERE tenant_id = $2 AND sender_id = $3 AND receiver_id = $4 AND status = $5`,
		FriendshipAccepted, tenantID, senderID, receiverID, FriendshipPending)
	if err != nil {
		return fmt.Errorf("updating friendship: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AreFriends reports whether an accepted friendship exists between the two
// subjects in this tenant, in either direction.
func (s *PostgresStore) AreFriends(ctx context.Context, tenantID, userA, userB string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM friendships
			WHERE tenant_id = $1 AND status = $2
			  AND ((sender_id = $3 AND receiver_id = $4) OR (sender_id = $4 AND receiver_id = $3))
		)`,
		tenantID, FriendshipAccepted, userA, userB).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("querying friendship: %w", err)
	}
	return exists, nil
}

// Ping verifies the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
