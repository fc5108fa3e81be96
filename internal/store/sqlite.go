// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Single-file deployments and tests; schema created automatically

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a SQLite store at the given path (":memory:" for
// an in-memory database). The schema is created if it doesn't exist and
// parent directories are created as needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("sqlite store opened", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
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
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_direct
		ON messages(tenant_id, sender_id, receiver_id, id);
	CREATE INDEX IF NOT EXISTS idx_messages_group
		ON messages(tenant_id, group_id, id);

	CREATE TABLE IF NOT EXISTS tenant_members (
		tenant_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (tenant_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS groups (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_by TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS group_members (
		group_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (group_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS friendships (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP NOT NULL,
		UNIQUE (tenant_id, sender_id, receiver_id)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// AppendMessage persists one message.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Type == "" {
		msg.Type = MessageTypeText
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, tenant_id, sender_id, receiver_id, group_id, content, type, file_url, created_at)
		VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, NULLIF(?, ''), ?)`,
		msg.ID, msg.TenantID, msg.SenderID, msg.ReceiverID, msg.GroupID,
		msg.Content, msg.Type, msg.FileURL, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// ListDirectMessages returns messages between two subjects, newest-first.
func (s *SQLiteStore) ListDirectMessages(ctx context.Context, tenantID, userA, userB, sinceID string, limit int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, sender_id, COALESCE(receiver_id, ''), COALESCE(group_id, ''),
		       content, type, COALESCE(file_url, ''), created_at
		FROM messages
		WHERE tenant_id = ?
		  AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
		  AND id > ?
		ORDER BY id DESC
		LIMIT ?`,
		tenantID, userA, userB, userB, userA, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying direct messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListGroupMessages returns a group's messages, newest-first.
func (s *SQLiteStore) ListGroupMessages(ctx context.Context, tenantID, groupID, sinceID string, limit int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, sender_id, COALESCE(receiver_id, ''), COALESCE(group_id, ''),
		       content, type, COALESCE(file_url, ''), created_at
		FROM messages
		WHERE tenant_id = ? AND group_id = ? AND id > ?
		ORDER BY id DESC
		LIMIT ?`,
		tenantID, groupID, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying group messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
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
func (s *SQLiteStore) AddTenantMember(ctx context.Context, tenantID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO tenant_members (tenant_id, user_id, created_at)
		VALUES (?, ?, ?)`,
		tenantID, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inserting tenant member: %w", err)
	}
	return nil
}

// IsTenantMember reports whether a subject belongs to a tenant.
func (s *SQLiteStore) IsTenantMember(ctx context.Context, tenantID, userID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM tenant_members WHERE tenant_id = ? AND user_id = ?`,
		tenantID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("querying tenant member: %w", err)
	}
	return n > 0, nil
}

// CreateGroup persists a group.
func (s *SQLiteStore) CreateGroup(ctx context.Context, group *Group) error {
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO groups (id, tenant_id, name, created_by, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		group.ID, group.TenantID, group.Name, group.CreatedBy, group.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting group: %w", err)
	}
	return nil
}

// GroupExists reports whether a group exists in a tenant.
func (s *SQLiteStore) GroupExists(ctx context.Context, tenantID, groupID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM groups WHERE id = ? AND tenant_id = ?`,
		groupID, tenantID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("querying group: %w", err)
	}
	return n > 0, nil
}

// AddGroupMember records a subject's membership in a group.
func (s *SQLiteStore) AddGroupMember(ctx context.Context, groupID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO group_members (group_id, user_id, created_at)
		VALUES (?, ?, ?)`,
		groupID, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inserting group member: %w", err)
	}
	return nil
}

// IsGroupMember reports whether a subject belongs to a group.
func (s *SQLiteStore) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM group_members WHERE group_id = ? AND user_id = ?`,
		groupID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("querying group member: %w", err)
	}
	return n > 0, nil
}

// ListGroupMembers returns the subject ids of a group's members.
func (s *SQLiteStore) ListGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM group_members WHERE group_id = ? ORDER BY user_id`, groupID)
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
func (s *SQLiteStore) CreateFriendRequest(ctx context.Context, f *Friendship) error {
	exists, err := s.friendshipExists(ctx, f.TenantID, f.SenderID, f.ReceiverID)
	if err != nil {
		return err
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
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO friendships (id, tenant_id, sender_id, receiver_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.TenantID, f.SenderID, f.ReceiverID, f.Status, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting friendship: %w", err)
	}
	return nil
}

// AcceptFriendRequest flips a pending request to accepted. Returns
// ErrNotFound if no pending request from sender to receiver exists.
func (s *SQLiteStore) AcceptFriendRequest(ctx context.Context, tenantID, senderID, receiverID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE friendships SET status = ?
		WHERE tenant_id = ? AND sender_id = ? AND receiver_id = ? AND status = ?`,
		FriendshipAccepted, tenantID, senderID, receiverID, FriendshipPending)
	if err != nil {
		return fmt.Errorf("updating friendship: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating friendship: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AreFriends reports whether an accepted friendship exists between the two
// subjects in this tenant, in either direction.
func (s *SQLiteStore) AreFriends(ctx context.Context, tenantID, userA, userB string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM friendships
		WHERE tenant_id = ? AND status = ?
		  AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))`,
		tenantID, FriendshipAccepted, userA, userB, userB, userA).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("querying friendship: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) friendshipExists(ctx context.Context, tenantID, userA, userB string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM friendships
		WHERE tenant_id = ?
		  AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))`,
		tenantID, userA, userB, userB, userA).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("querying friendship: %w", err)
	}
	return n > 0, nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
