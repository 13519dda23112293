package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/dylanneve1/agent-bridge/internal/common/apperr"
	"github.com/dylanneve1/agent-bridge/internal/db"
	"github.com/dylanneve1/agent-bridge/internal/db/dialect"
	"github.com/dylanneve1/agent-bridge/internal/files/models"
)

// SQLStore provides file metadata storage on SQLite or PostgreSQL.
type SQLStore struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

var _ Repository = (*SQLStore)(nil)

// New creates the store and initializes its schema.
func New(writer, reader *sqlx.DB) (*SQLStore, error) {
	s := &SQLStore{db: writer, ro: reader}
	if err := s.initSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize files schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	ts := dialect.Real(s.db.DriverName())
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS files (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			original_name TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			size INTEGER NOT NULL,
			sha256 TEXT NOT NULL,
			uploaded_by TEXT NOT NULL,
			uploaded_at %s NOT NULL,
			conversation_id TEXT,
			message_id TEXT,
			description TEXT
		)`, ts),
		`CREATE INDEX IF NOT EXISTS idx_files_uploader ON files(uploaded_by)`,
		`CREATE INDEX IF NOT EXISTS idx_files_conversation ON files(conversation_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const insertFileSQL = `
	INSERT INTO files (id, filename, original_name, mime_type, size, sha256,
		uploaded_by, uploaded_at, conversation_id, message_id, description)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func fileArgs(file *models.File) []interface{} {
	conversationID := sql.NullString{String: file.ConversationID, Valid: file.ConversationID != ""}
	messageID := sql.NullString{String: file.MessageID, Valid: file.MessageID != ""}
	description := sql.NullString{String: file.Description, Valid: file.Description != ""}
	return []interface{}{
		file.ID, file.StoredFilename, file.OriginalName, file.MimeType, file.Size,
		file.SHA256, file.UploadedBy, file.UploadedAt, conversationID, messageID, description,
	}
}

// Insert records the metadata row for an uploaded blob.
func (s *SQLStore) Insert(ctx context.Context, file *models.File) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(insertFileSQL), fileArgs(file)...)
	return err
}

// InsertWithMessage records the file row, the DM message announcing it, and
// the file-to-message back-link in one transaction.
func (s *SQLStore) InsertWithMessage(ctx context.Context, file *models.File, msg *MessageRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	file.MessageID = msg.ID
	if _, err := tx.ExecContext(ctx, s.db.Rebind(insertFileSQL), fileArgs(file)...); err != nil {
		return db.Rollback(tx, err)
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO messages (id, conversation_id, from_agent, to_agent, content, timestamp, read)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`), msg.ID, msg.ConversationID, msg.FromAgent, msg.ToAgent, msg.Content, msg.Timestamp); err != nil {
		return db.Rollback(tx, err)
	}
	return tx.Commit()
}

// Get retrieves file metadata by id.
func (s *SQLStore) Get(ctx context.Context, id string) (*models.File, error) {
	file := &models.File{}
	var conversationID, messageID, description sql.NullString
	err := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT id, filename, original_name, mime_type, size, sha256,
			uploaded_by, uploaded_at, conversation_id, message_id, description
		FROM files WHERE id = ?
	`), id).Scan(&file.ID, &file.StoredFilename, &file.OriginalName, &file.MimeType,
		&file.Size, &file.SHA256, &file.UploadedBy, &file.UploadedAt,
		&conversationID, &messageID, &description)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("File not found")
	}
	if err != nil {
		return nil, err
	}
	file.ConversationID = conversationID.String
	file.MessageID = messageID.String
	file.Description = description.String
	return file, nil
}

// List returns file rows newest first, optionally filtered by conversation or
// uploader.
func (s *SQLStore) List(ctx context.Context, conversationID, uploadedBy string, limit int) ([]*models.File, error) {
	query := `
		SELECT id, filename, original_name, mime_type, size, sha256,
			uploaded_by, uploaded_at, conversation_id, message_id, description
		FROM files WHERE 1=1`
	var args []interface{}
	if conversationID != "" {
		query += ` AND conversation_id = ?`
		args = append(args, conversationID)
	}
	if uploadedBy != "" {
		query += ` AND uploaded_by = ?`
		args = append(args, uploadedBy)
	}
	query += ` ORDER BY uploaded_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*models.File
	for rows.Next() {
		file := &models.File{}
		var convID, messageID, description sql.NullString
		if err := rows.Scan(&file.ID, &file.StoredFilename, &file.OriginalName, &file.MimeType,
			&file.Size, &file.SHA256, &file.UploadedBy, &file.UploadedAt,
			&convID, &messageID, &description); err != nil {
			return nil, err
		}
		file.ConversationID = convID.String
		file.MessageID = messageID.String
		file.Description = description.String
		files = append(files, file)
	}
	return files, rows.Err()
}

// Delete removes a file row.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM files WHERE id = ?`), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperr.NotFound("File not found")
	}
	return nil
}

// Stats aggregates storage totals, the largest file and per-agent usage.
// Disk usage is filled in by the service, which knows the blob directory.
func (s *SQLStore) Stats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{}
	err := s.ro.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(size), 0) FROM files
	`).Scan(&stats.TotalFiles, &stats.TotalSizeBytes)
	if err != nil {
		return nil, err
	}
	stats.TotalSizeHuman = models.HumanSize(stats.TotalSizeBytes)

	largest := &models.LargestFile{}
	err = s.ro.QueryRowContext(ctx, `
		SELECT original_name, size, uploaded_by FROM files ORDER BY size DESC LIMIT 1
	`).Scan(&largest.OriginalName, &largest.Size, &largest.UploadedBy)
	if err == nil {
		stats.LargestFile = largest
	} else if err != sql.ErrNoRows {
		return nil, err
	}

	rows, err := s.ro.QueryContext(ctx, `
		SELECT uploaded_by, COUNT(*), COALESCE(SUM(size), 0)
		FROM files GROUP BY uploaded_by ORDER BY uploaded_by ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	stats.FilesByAgent = []*models.AgentUsage{}
	for rows.Next() {
		usage := &models.AgentUsage{}
		if err := rows.Scan(&usage.UploadedBy, &usage.FileCount, &usage.TotalSize); err != nil {
			return nil, err
		}
		stats.FilesByAgent = append(stats.FilesByAgent, usage)
	}
	return stats, rows.Err()
}
