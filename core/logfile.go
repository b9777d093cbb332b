package core

import (
	"fmt"
	"time"
)

// Log file processing statuses.
const (
	FileStatusPending    = "pending"
	FileStatusProcessing = "processing"
	FileStatusCompleted  = "completed"
	FileStatusFailed     = "failed"
)

// LogFile represents one upload session record.
type LogFile struct {
	ID           string     `json:"id"`
	Filename     string     `json:"filename"`
	OriginalName string     `json:"originalName"`
	FileSize     int64      `json:"fileSize"`
	Status       string     `json:"status"`
	UploadedAt   time.Time  `json:"uploadedAt"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"`
	TotalEntries int        `json:"totalEntries,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// ValidFileStatus reports whether s is a known log file status.
func ValidFileStatus(s string) bool {
	switch s {
	case FileStatusPending, FileStatusProcessing, FileStatusCompleted, FileStatusFailed:
		return true
	}
	return false
}

// ValidateFileTransition checks a status transition against the lifecycle
// pending -> processing -> {completed, failed}; failed may be retried,
// restarting at processing.
func ValidateFileTransition(from, to string) error {
	allowed := map[string][]string{
		FileStatusPending:    {FileStatusProcessing},
		FileStatusProcessing: {FileStatusCompleted, FileStatusFailed},
		FileStatusFailed:     {FileStatusProcessing},
		FileStatusCompleted:  {},
	}
	for _, next := range allowed[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("invalid log file status transition: %s -> %s", from, to)
}
