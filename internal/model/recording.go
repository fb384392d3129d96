package model

import "time"

// CallRecording is a PBX recording attached to a conversation.
type CallRecording struct {
	ID               string    `json:"id"`
	WorkspaceID      int64     `json:"workspace_id"`
	ConversationID   string    `json:"conversation_id"`
	Direction        Direction `json:"direction"`
	Filename         string    `json:"filename"`
	FileSize         int64     `json:"file_size"`
	MimeType         string    `json:"mime_type"`
	PublicURL        string    `json:"public_url"`
	RecordedAt       time.Time `json:"recorded_at"`
	ProcessingStatus string    `json:"processing_status"`
	CreatedAt        time.Time `json:"created_at"`
}

// CallRecordingRequest is the PBX upload notification.
type CallRecordingRequest struct {
	Filename string `json:"filename"`
	Bucket   string `json:"bucket"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}
