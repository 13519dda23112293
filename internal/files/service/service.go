package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/dylanneve1/agent-bridge/internal/common/apperr"
	"github.com/dylanneve1/agent-bridge/internal/common/clock"
	"github.com/dylanneve1/agent-bridge/internal/common/ids"
	"github.com/dylanneve1/agent-bridge/internal/common/logger"
	"github.com/dylanneve1/agent-bridge/internal/events"
	"github.com/dylanneve1/agent-bridge/internal/events/bus"
	"github.com/dylanneve1/agent-bridge/internal/files/models"
	"github.com/dylanneve1/agent-bridge/internal/files/store"
)

// DefaultListLimit caps unpaginated file listings.
const DefaultListLimit = 50

// Conversations is the slice of the messaging store the files component
// needs: membership checks for scoped uploads and DM resolution for
// send-with-attachment.
type Conversations interface {
	IsMember(ctx context.Context, conversationID, agent string) (bool, error)
	FindOrCreateDM(ctx context.Context, creator, other string) (string, error)
}

// Service implements the content-addressed blob store: uploads, downloads,
// listings, deletion and the combined DM-with-attachment operation.
type Service struct {
	repo          store.Repository
	conversations Conversations
	dir           string
	eventBus      bus.EventBus
	logger        *logger.Logger
}

// NewService creates the service and ensures the blob directory exists.
func NewService(repo store.Repository, conversations Conversations, dir string, eventBus bus.EventBus, log *logger.Logger) (*Service, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create files directory: %w", err)
	}
	return &Service{
		repo:          repo,
		conversations: conversations,
		dir:           dir,
		eventBus:      eventBus,
		logger:        log.WithFields(zap.String("component", "files-service")),
	}, nil
}

// Dir returns the blob directory path.
func (s *Service) Dir() string { return s.dir }

// Upload describes one incoming file: the full body is already in memory by
// the time the service sees it, so no transaction spans the network read.
type Upload struct {
	Uploader       string
	OriginalName   string
	MimeType       string
	Description    string
	ConversationID string
	Data           []byte
}

func (u *Upload) validate() error {
	if int64(len(u.Data)) > models.MaxFileSize {
		return apperr.TooLarge("File too large (%d bytes). Max: %d bytes (50MB)", len(u.Data), models.MaxFileSize)
	}
	if len(u.Data) == 0 {
		return apperr.Validation("Empty file")
	}
	return nil
}

// resolve fills server-side fields: fresh id, content hash, stored name and
// effective mime type.
func (u *Upload) resolve() *models.File {
	name := u.OriginalName
	if name == "" {
		name = "unnamed"
	}
	ext := strings.ToLower(filepath.Ext(name))
	mimeType := u.MimeType
	if mimeType == "" {
		mimeType = mime.TypeByExtension(ext)
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	sum := sha256.Sum256(u.Data)
	id := ids.New()
	return &models.File{
		ID:             id,
		StoredFilename: id + ext,
		OriginalName:   name,
		MimeType:       mimeType,
		Size:           int64(len(u.Data)),
		SHA256:         hex.EncodeToString(sum[:]),
		UploadedBy:     u.Uploader,
		UploadedAt:     clock.Now(),
		ConversationID: u.ConversationID,
		Description:    u.Description,
	}
}

// writeBlob persists the bytes, mapping full-disk to 507 so clients can tell
// capacity exhaustion from other write failures.
func (s *Service) writeBlob(path string, data []byte) error {
	err := os.WriteFile(path, data, 0o644)
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ENOSPC) {
		return apperr.InsufficientStorage("Server disk is full, cannot store file")
	}
	return fmt.Errorf("file write failed: %w", err)
}

// removeBlob deletes the on-disk bytes best-effort; a missing blob is fine.
func (s *Service) removeBlob(storedFilename string) {
	if err := os.Remove(filepath.Join(s.dir, storedFilename)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("could not delete blob from disk",
			zap.String("filename", storedFilename), zap.Error(err))
	}
}

// Store validates the upload, writes the blob, then records the metadata row.
// On insert failure the blob is removed so no orphans accumulate.
func (s *Service) Store(ctx context.Context, up *Upload) (*models.File, error) {
	if err := up.validate(); err != nil {
		return nil, err
	}
	if up.ConversationID != "" {
		member, err := s.conversations.IsMember(ctx, up.ConversationID, up.Uploader)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, apperr.Forbidden("Not a member of that conversation")
		}
	}

	file := up.resolve()
	if err := s.writeBlob(filepath.Join(s.dir, file.StoredFilename), up.Data); err != nil {
		return nil, err
	}
	if err := s.repo.Insert(ctx, file); err != nil {
		s.removeBlob(file.StoredFilename)
		return nil, err
	}

	s.publish(ctx, events.FileUploaded, map[string]interface{}{
		"file_id":     file.ID,
		"name":        file.OriginalName,
		"size":        file.Size,
		"uploaded_by": file.UploadedBy,
	})
	return file, nil
}

// SendWithFile uploads the attachment and appends a DM announcing it; the
// message and file rows land in one transaction, back-linked to each other.
func (s *Service) SendWithFile(ctx context.Context, from, to, content string, up *Upload) (*models.File, string, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return nil, "", apperr.Validation("to is required")
	}
	if err := up.validate(); err != nil {
		return nil, "", err
	}

	conversationID, err := s.conversations.FindOrCreateDM(ctx, from, to)
	if err != nil {
		return nil, "", err
	}

	file := up.resolve()
	file.ConversationID = conversationID
	if err := s.writeBlob(filepath.Join(s.dir, file.StoredFilename), up.Data); err != nil {
		return nil, "", err
	}

	if content == "" {
		content = fmt.Sprintf("📎 %s", file.OriginalName)
	}
	content += fmt.Sprintf("\n\n📁 File: %s (%d bytes)\n🔗 %s",
		file.OriginalName, file.Size, file.DownloadURL())

	msg := &store.MessageRow{
		ID:             ids.New(),
		ConversationID: conversationID,
		FromAgent:      from,
		ToAgent:        to,
		Content:        content,
		Timestamp:      clock.Now(),
	}
	if err := s.repo.InsertWithMessage(ctx, file, msg); err != nil {
		s.removeBlob(file.StoredFilename)
		return nil, "", err
	}

	s.publish(ctx, events.FileUploaded, map[string]interface{}{
		"file_id":     file.ID,
		"message_id":  msg.ID,
		"name":        file.OriginalName,
		"uploaded_by": from,
	})
	return file, msg.ID, nil
}

// Get returns file metadata.
func (s *Service) Get(ctx context.Context, id string) (*models.File, error) {
	return s.repo.Get(ctx, id)
}

// OpenBlob resolves a download: metadata plus the on-disk path, verified to
// exist.
func (s *Service) OpenBlob(ctx context.Context, id string) (*models.File, string, error) {
	file, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	path := filepath.Join(s.dir, file.StoredFilename)
	if _, err := os.Stat(path); err != nil {
		return nil, "", apperr.NotFound("File data missing from disk")
	}
	return file, path, nil
}

// List returns files newest first. Filtering by conversation requires
// membership.
func (s *Service) List(ctx context.Context, agent, conversationID, uploadedBy string, limit int) ([]*models.File, error) {
	if conversationID != "" {
		member, err := s.conversations.IsMember(ctx, conversationID, agent)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, apperr.Forbidden("Not a member of that conversation")
		}
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.repo.List(ctx, conversationID, uploadedBy, limit)
}

// Delete removes a file; only the uploader may do so. The blob removal is
// best-effort, the row removal is not.
func (s *Service) Delete(ctx context.Context, agent, id string) error {
	file, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if file.UploadedBy != agent {
		return apperr.Forbidden("Only the uploader can delete this file")
	}
	s.removeBlob(file.StoredFilename)
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, events.FileDeleted, map[string]interface{}{
		"file_id":    id,
		"deleted_by": agent,
	})
	return nil
}

// Stats returns storage totals plus disk usage of the blob directory.
func (s *Service) Stats(ctx context.Context) (*models.Stats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, err
	}
	if disk, err := diskUsage(s.dir); err == nil {
		stats.Disk = disk
	}
	return stats, nil
}

func diskUsage(path string) (*models.DiskInfo, error) {
	var fs syscall.Statfs_t
	if err := syscall.Statfs(path, &fs); err != nil {
		return nil, err
	}
	bsize := uint64(fs.Bsize)
	info := &models.DiskInfo{
		TotalBytes: uint64(fs.Blocks) * bsize,
		FreeBytes:  uint64(fs.Bavail) * bsize,
	}
	info.UsedBytes = info.TotalBytes - uint64(fs.Bfree)*bsize
	if info.TotalBytes > 0 {
		info.UsedPct = math.Round(float64(info.UsedBytes)/float64(info.TotalBytes)*1000) / 10
	}
	return info, nil
}

func (s *Service) publish(ctx context.Context, subject string, data map[string]interface{}) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.Publish(ctx, subject, bus.NewEvent(subject, "files-service", data)); err != nil {
		s.logger.Error("failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}
