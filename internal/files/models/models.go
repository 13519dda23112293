package models

import "fmt"

// MaxFileSize is the upload ceiling: 50 MiB.
const MaxFileSize = 50 * 1024 * 1024

// File is the metadata row for one stored blob. StoredFilename is the on-disk
// name (id + original extension); OriginalName is what the uploader called it.
type File struct {
	ID             string  `json:"id"`
	StoredFilename string  `json:"filename"`
	OriginalName   string  `json:"original_name"`
	MimeType       string  `json:"mime_type"`
	Size           int64   `json:"size"`
	SHA256         string  `json:"sha256"`
	UploadedBy     string  `json:"uploaded_by"`
	UploadedAt     float64 `json:"uploaded_at"`
	ConversationID string  `json:"conversation_id,omitempty"`
	MessageID      string  `json:"message_id,omitempty"`
	Description    string  `json:"description,omitempty"`
}

// DownloadURL returns the canonical download path for the file.
func (f *File) DownloadURL() string {
	return fmt.Sprintf("/files/%s/%s", f.ID, f.OriginalName)
}

// AgentUsage is one row of the per-agent storage breakdown.
type AgentUsage struct {
	UploadedBy string `json:"uploaded_by"`
	FileCount  int    `json:"file_count"`
	TotalSize  int64  `json:"total_size"`
}

// LargestFile identifies the biggest stored blob.
type LargestFile struct {
	OriginalName string `json:"original_name"`
	Size         int64  `json:"size"`
	UploadedBy   string `json:"uploaded_by"`
}

// DiskInfo reports filesystem usage of the blob directory.
type DiskInfo struct {
	TotalBytes uint64  `json:"total_bytes"`
	UsedBytes  uint64  `json:"used_bytes"`
	FreeBytes  uint64  `json:"free_bytes"`
	UsedPct    float64 `json:"used_pct"`
}

// Stats summarizes blob storage usage across the database and the disk.
type Stats struct {
	TotalFiles     int           `json:"total_files"`
	TotalSizeBytes int64         `json:"total_size_bytes"`
	TotalSizeHuman string        `json:"total_size_human"`
	LargestFile    *LargestFile  `json:"largest_file"`
	FilesByAgent   []*AgentUsage `json:"files_by_agent"`
	Disk           *DiskInfo     `json:"disk,omitempty"`
}

// HumanSize renders a byte count with one decimal: "1.5 MB", "12.0 KB".
func HumanSize(n int64) string {
	size := float64(n)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if size < 1024 {
			return fmt.Sprintf("%.1f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.1f TB", size)
}
