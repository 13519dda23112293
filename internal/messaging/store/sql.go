package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/dylanneve1/agent-bridge/internal/common/apperr"
	"github.com/dylanneve1/agent-bridge/internal/common/clock"
	"github.com/dylanneve1/agent-bridge/internal/common/ids"
	"github.com/dylanneve1/agent-bridge/internal/common/stringutil"
	"github.com/dylanneve1/agent-bridge/internal/common/tracing"
	"github.com/dylanneve1/agent-bridge/internal/db"
	"github.com/dylanneve1/agent-bridge/internal/db/dialect"
	"github.com/dylanneve1/agent-bridge/internal/messaging/models"
)

// SQLStore provides conversation and message storage on SQLite or PostgreSQL.
type SQLStore struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

var _ Repository = (*SQLStore)(nil)

// New creates the store, initializes its schema and reconciles legacy
// messages that predate conversations.
func New(writer, reader *sqlx.DB) (*SQLStore, error) {
	s := &SQLStore{db: writer, ro: reader}
	ctx := context.Background()
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize messaging schema: %w", err)
	}
	if err := s.migrateLegacyMessages(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate legacy messages: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	ts := dialect.Real(s.db.DriverName())
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'group',
			created_by TEXT NOT NULL DEFAULT '',
			created_at %s NOT NULL
		)`, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS conversation_members (
			conversation_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			joined_at %s NOT NULL,
			PRIMARY KEY (conversation_id, agent_id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		)`, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT,
			from_agent TEXT NOT NULL,
			to_agent TEXT,
			content TEXT NOT NULL,
			timestamp %s NOT NULL,
			read INTEGER NOT NULL DEFAULT 0
		)`, ts),
		// One DM per unordered pair: the canonical sorted name is unique.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_dm_name ON conversations(name) WHERE type = 'dm'`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_from ON messages(from_agent)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	// Databases created before conversations existed lack the column.
	hasColumn, err := dialect.ColumnExists(ctx, s.db, "messages", "conversation_id")
	if err != nil {
		return err
	}
	if !hasColumn {
		if _, err := s.db.ExecContext(ctx, `ALTER TABLE messages ADD COLUMN conversation_id TEXT`); err != nil {
			return err
		}
	}
	return nil
}

// migrateLegacyMessages synthesizes DM conversations for point-to-point
// messages that have no conversation_id, one per distinct unordered pair,
// in a single transaction.
func (s *SQLStore) migrateLegacyMessages(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT from_agent, to_agent FROM messages
		WHERE conversation_id IS NULL AND to_agent IS NOT NULL
	`)
	if err != nil {
		return db.Rollback(tx, err)
	}
	var pairs [][2]string
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			rows.Close()
			return db.Rollback(tx, err)
		}
		pairs = append(pairs, [2]string{from, to})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return db.Rollback(tx, err)
	}
	rows.Close()

	for _, pair := range pairs {
		a, b := sortPair(pair[0], pair[1])
		convID, err := findDM(ctx, tx, s.db.Rebind, a, b)
		if err != nil {
			return db.Rollback(tx, err)
		}
		if convID == "" {
			convID = ids.New()
			now := clock.Now()
			if _, err := tx.ExecContext(ctx, s.db.Rebind(`
				INSERT INTO conversations (id, name, type, created_at) VALUES (?, ?, 'dm', ?)
			`), convID, dmName(a, b), now); err != nil {
				return db.Rollback(tx, err)
			}
			for _, agent := range []string{a, b} {
				if _, err := tx.ExecContext(ctx, s.db.Rebind(`
					INSERT INTO conversation_members (conversation_id, agent_id, joined_at)
					VALUES (?, ?, ?) ON CONFLICT DO NOTHING
				`), convID, agent, now); err != nil {
					return db.Rollback(tx, err)
				}
			}
		}
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`
			UPDATE messages SET conversation_id = ?
			WHERE conversation_id IS NULL
			AND ((from_agent = ? AND to_agent = ?) OR (from_agent = ? AND to_agent = ?))
		`), convID, pair[0], pair[1], pair[1], pair[0]); err != nil {
			return db.Rollback(tx, err)
		}
	}
	return tx.Commit()
}

func sortPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

func dmName(a, b string) string {
	return fmt.Sprintf("%s ↔ %s", a, b)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func findDM(ctx context.Context, q rowQuerier, rebind func(string) string, a, b string) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, rebind(`
		SELECT c.id FROM conversations c
		JOIN conversation_members m1 ON c.id = m1.conversation_id AND m1.agent_id = ?
		JOIN conversation_members m2 ON c.id = m2.conversation_id AND m2.agent_id = ?
		WHERE c.type = 'dm'
	`), a, b).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// FindOrCreateDM returns the unique DM conversation for the unordered pair,
// creating it on first use. A concurrent create for the same pair loses on
// the canonical-name index and adopts the winner's conversation.
func (s *SQLStore) FindOrCreateDM(ctx context.Context, creator, other string) (string, error) {
	a, b := sortPair(creator, other)
	if id, err := findDM(ctx, s.ro, s.ro.Rebind, a, b); err != nil || id != "" {
		return id, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	convID := ids.New()
	now := clock.Now()
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO conversations (id, name, type, created_by, created_at) VALUES (?, ?, 'dm', ?, ?)
	`), convID, dmName(a, b), creator, now); err != nil {
		if db.IsUniqueViolation(err) {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				return "", fmt.Errorf("failed to rollback: %w", rollbackErr)
			}
			return findDM(ctx, s.db, s.db.Rebind, a, b)
		}
		return "", db.Rollback(tx, err)
	}
	for _, agent := range []string{a, b} {
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO conversation_members (conversation_id, agent_id, joined_at)
			VALUES (?, ?, ?) ON CONFLICT DO NOTHING
		`), convID, agent, now); err != nil {
			return "", db.Rollback(tx, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return convID, nil
}

// CreateConversation inserts a group conversation with the creator plus any
// initial members in one transaction.
func (s *SQLStore) CreateConversation(ctx context.Context, conv *models.Conversation, members []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO conversations (id, name, type, created_by, created_at) VALUES (?, ?, ?, ?, ?)
	`), conv.ID, conv.Name, conv.Type, conv.CreatedBy, conv.CreatedAt); err != nil {
		return db.Rollback(tx, err)
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO conversation_members (conversation_id, agent_id, joined_at) VALUES (?, ?, ?)
	`), conv.ID, conv.CreatedBy, conv.CreatedAt); err != nil {
		return db.Rollback(tx, err)
	}
	for _, member := range members {
		if member == conv.CreatedBy {
			continue
		}
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO conversation_members (conversation_id, agent_id, joined_at)
			VALUES (?, ?, ?) ON CONFLICT DO NOTHING
		`), conv.ID, member, conv.CreatedAt); err != nil {
			return db.Rollback(tx, err)
		}
	}
	return tx.Commit()
}

// GetConversation retrieves a conversation by id.
func (s *SQLStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT id, name, type, created_by, created_at FROM conversations WHERE id = ?
	`), id).Scan(&conv.ID, &conv.Name, &conv.Type, &conv.CreatedBy, &conv.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("conversation not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversationsFor returns the agent's conversations with aggregate
// counts, most recently active first. A conversation without messages ranks
// by its creation time.
func (s *SQLStore) ListConversationsFor(ctx context.Context, agent string) ([]*models.ConversationSummary, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(fmt.Sprintf(`
		SELECT c.id, c.name, c.type, c.created_by, c.created_at,
			(SELECT COUNT(*) FROM conversation_members WHERE conversation_id = c.id) AS member_count,
			(SELECT COUNT(*) FROM messages WHERE conversation_id = c.id) AS message_count,
			(SELECT COUNT(*) FROM messages WHERE conversation_id = c.id AND read = 0) AS unread_count,
			(SELECT MAX(timestamp) FROM messages WHERE conversation_id = c.id) AS last_message_at
		FROM conversations c
		JOIN conversation_members cm ON c.id = cm.conversation_id AND cm.agent_id = ?
		ORDER BY %s(c.created_at, COALESCE((SELECT MAX(timestamp) FROM messages WHERE conversation_id = c.id), 0)) DESC
	`, dialect.Greatest(s.ro.DriverName()))), agent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*models.ConversationSummary
	for rows.Next() {
		summary := &models.ConversationSummary{}
		var lastMessage sql.NullFloat64
		if err := rows.Scan(&summary.ID, &summary.Name, &summary.Type, &summary.CreatedBy,
			&summary.CreatedAt, &summary.MemberCount, &summary.MessageCount,
			&summary.UnreadCount, &lastMessage); err != nil {
			return nil, err
		}
		if lastMessage.Valid {
			summary.LastMessageAt = &lastMessage.Float64
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// ListMembers returns the membership rows of a conversation.
func (s *SQLStore) ListMembers(ctx context.Context, conversationID string) ([]*models.Member, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT agent_id, joined_at FROM conversation_members WHERE conversation_id = ? ORDER BY joined_at ASC
	`), conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*models.Member
	for rows.Next() {
		member := &models.Member{}
		if err := rows.Scan(&member.Agent, &member.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// IsMember reports whether the agent belongs to the conversation.
func (s *SQLStore) IsMember(ctx context.Context, conversationID, agent string) (bool, error) {
	var one int
	err := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT 1 FROM conversation_members WHERE conversation_id = ? AND agent_id = ?
	`), conversationID, agent).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AddMember inserts a membership row; re-adding is a no-op.
func (s *SQLStore) AddMember(ctx context.Context, conversationID, agent string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO conversation_members (conversation_id, agent_id, joined_at)
		VALUES (?, ?, ?) ON CONFLICT DO NOTHING
	`), conversationID, agent, clock.Now())
	return err
}

// RemoveMember deletes a membership row; removing a non-member is a no-op.
func (s *SQLStore) RemoveMember(ctx context.Context, conversationID, agent string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM conversation_members WHERE conversation_id = ? AND agent_id = ?
	`), conversationID, agent)
	return err
}

// InsertMessage appends a message to its conversation.
func (s *SQLStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	toAgent := sql.NullString{String: msg.ToAgent, Valid: msg.ToAgent != ""}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO messages (id, conversation_id, from_agent, to_agent, content, timestamp, read)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`), msg.ID, msg.ConversationID, msg.FromAgent, toAgent, msg.Content, msg.Timestamp)
	return err
}

// MarkRead sets the global read flag. The caller's relationship to the
// message is deliberately not checked.
func (s *SQLStore) MarkRead(ctx context.Context, messageID string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE messages SET read = 1 WHERE id = ?
	`), messageID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperr.NotFound("message not found: %s", messageID)
	}
	return nil
}

// Inbox returns unread messages from others in the agent's conversations,
// oldest first. since filters strictly after a timestamp.
func (s *SQLStore) Inbox(ctx context.Context, agent string, since float64, limit int) ([]*models.Message, error) {
	ctx, span := tracing.Tracer("bridge-db").Start(ctx, "db.Inbox")
	defer span.End()
	query := `
		SELECT m.id, m.conversation_id, m.from_agent, m.to_agent, m.content, m.timestamp, m.read
		FROM messages m
		JOIN conversation_members cm ON m.conversation_id = cm.conversation_id AND cm.agent_id = ?
		WHERE m.from_agent != ? AND m.read = 0`
	args := []interface{}{agent, agent}
	if since > 0 {
		query += ` AND m.timestamp > ?`
		args = append(args, since)
	}
	query += ` ORDER BY m.timestamp ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// History returns recent messages involving the agent, newest first. With
// withAgent set, only direct messages between the pair are returned.
func (s *SQLStore) History(ctx context.Context, agent, withAgent string, limit int) ([]*models.Message, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if withAgent != "" {
		rows, err = s.ro.QueryContext(ctx, s.ro.Rebind(`
			SELECT id, conversation_id, from_agent, to_agent, content, timestamp, read FROM messages
			WHERE (from_agent = ? AND to_agent = ?) OR (from_agent = ? AND to_agent = ?)
			ORDER BY timestamp DESC LIMIT ?
		`), agent, withAgent, withAgent, agent, limit)
	} else {
		rows, err = s.ro.QueryContext(ctx, s.ro.Rebind(`
			SELECT id, conversation_id, from_agent, to_agent, content, timestamp, read FROM messages
			WHERE from_agent = ? OR to_agent = ?
			ORDER BY timestamp DESC LIMIT ?
		`), agent, agent, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ConversationMessages returns up to limit messages of a conversation in
// ascending order. before excludes messages at or after a timestamp.
func (s *SQLStore) ConversationMessages(ctx context.Context, conversationID string, limit int, before float64) ([]*models.Message, error) {
	query := `
		SELECT id, conversation_id, from_agent, to_agent, content, timestamp, read FROM messages
		WHERE conversation_id = ?`
	args := []interface{}{conversationID}
	if before > 0 {
		query += ` AND timestamp < ?`
		args = append(args, before)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	// The query walks newest-first to honor the limit; callers read oldest
	// first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// CountMessages returns total and unread message counts.
func (s *SQLStore) CountMessages(ctx context.Context) (int, int, error) {
	var total, unread int
	err := s.ro.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN read = 0 THEN 1 ELSE 0 END), 0) FROM messages
	`).Scan(&total, &unread)
	return total, unread, err
}

// CountConversations returns the number of conversations.
func (s *SQLStore) CountConversations(ctx context.Context) (int, error) {
	var count int
	err := s.ro.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}

// BrowseConversations returns every conversation with counts, member names
// and a last-message preview, most recently active first. A conversation
// without messages ranks by its creation time.
func (s *SQLStore) BrowseConversations(ctx context.Context) ([]*models.BrowseConversation, error) {
	rows, err := s.ro.QueryContext(ctx, fmt.Sprintf(`
		SELECT c.id, c.name, c.type, c.created_by, c.created_at,
			(SELECT COUNT(*) FROM conversation_members WHERE conversation_id = c.id) AS member_count,
			(SELECT COUNT(*) FROM messages WHERE conversation_id = c.id) AS message_count,
			(SELECT COUNT(*) FROM messages WHERE conversation_id = c.id AND read = 0) AS unread_count,
			(SELECT MAX(timestamp) FROM messages WHERE conversation_id = c.id) AS last_activity
		FROM conversations c
		ORDER BY %s(c.created_at, COALESCE((SELECT MAX(timestamp) FROM messages WHERE conversation_id = c.id), 0)) DESC
	`, dialect.Greatest(s.ro.DriverName())))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []*models.BrowseConversation
	for rows.Next() {
		conv := &models.BrowseConversation{Members: []string{}}
		var lastActivity sql.NullFloat64
		if err := rows.Scan(&conv.ID, &conv.Name, &conv.Type, &conv.CreatedBy, &conv.CreatedAt,
			&conv.MemberCount, &conv.MessageCount, &conv.UnreadCount, &lastActivity); err != nil {
			return nil, err
		}
		if lastActivity.Valid {
			conv.LastActivity = &lastActivity.Float64
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, conv := range convs {
		members, err := s.ListMembers(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			conv.Members = append(conv.Members, m.Agent)
		}
		var from, content string
		err = s.ro.QueryRowContext(ctx, s.ro.Rebind(`
			SELECT from_agent, content FROM messages
			WHERE conversation_id = ? ORDER BY timestamp DESC LIMIT 1
		`), conv.ID).Scan(&from, &content)
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return nil, err
		default:
			conv.LastMessage = &models.MessagePeek{From: from, Text: stringutil.TruncateStringWithEllipsis(content, 100)}
		}
	}
	return convs, nil
}

// ConversationTranscript returns the oldest limit messages of a conversation
// in ascending order, for the public browser.
func (s *SQLStore) ConversationTranscript(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT id, conversation_id, from_agent, to_agent, content, timestamp, read FROM messages
		WHERE conversation_id = ? ORDER BY timestamp ASC LIMIT ?
	`), conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// AgentMessageStats aggregates per-agent traffic across every registered
// agent, ordered by name.
func (s *SQLStore) AgentMessageStats(ctx context.Context) ([]*models.AgentMessageStats, error) {
	rows, err := s.ro.QueryContext(ctx, `
		SELECT a.name,
			(SELECT COUNT(*) FROM messages WHERE from_agent = a.name) AS sent,
			(SELECT COUNT(*) FROM messages m
				JOIN conversation_members cm ON m.conversation_id = cm.conversation_id AND cm.agent_id = a.name
				WHERE m.from_agent != a.name) AS received,
			(SELECT COUNT(*) FROM messages m
				JOIN conversation_members cm ON m.conversation_id = cm.conversation_id AND cm.agent_id = a.name
				WHERE m.from_agent != a.name AND m.read = 0) AS unread
		FROM agents a
		ORDER BY a.name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []*models.AgentMessageStats
	for rows.Next() {
		entry := &models.AgentMessageStats{}
		if err := rows.Scan(&entry.Agent, &entry.Sent, &entry.Received, &entry.Unread); err != nil {
			return nil, err
		}
		stats = append(stats, entry)
	}
	return stats, rows.Err()
}

func scanMessages(rows *sql.Rows) ([]*models.Message, error) {
	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		var conversationID, toAgent sql.NullString
		if err := rows.Scan(&msg.ID, &conversationID, &msg.FromAgent, &toAgent,
			&msg.Content, &msg.Timestamp, &msg.Read); err != nil {
			return nil, err
		}
		msg.ConversationID = conversationID.String
		msg.ToAgent = toAgent.String
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
