package domain

import "time"

// Asset is an uploaded monster model as seen by the matchmaking core.
// Upload and validation live outside this service.
type Asset struct {
	ID         AssetID    `json:"model_id"`
	FileName   string     `json:"file_name"`
	FilePath   string     `json:"file_path"`
	FileSize   int64      `json:"file_size"`
	MimeType   string     `json:"mime_type"`
	UploadedAt time.Time  `json:"uploaded_at"`
	InUse      bool       `json:"is_used"`
	SessionID  *SessionID `json:"session_id,omitempty"`
}
