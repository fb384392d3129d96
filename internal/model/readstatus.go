package model

import "time"

// ReadStatus is one user's read marker on one conversation.
type ReadStatus struct {
	UserID         string     `json:"user_id"`
	ConversationID string     `json:"conversation_id"`
	WorkspaceID    int64      `json:"workspace_id"`
	UnreadCount    int        `json:"unread_count"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Version        int64      `json:"version"`
}

// UnreadCountsResponse maps conversation ids to the caller's unread count.
type UnreadCountsResponse struct {
	Success bool           `json:"success"`
	Counts  map[string]int `json:"counts"`
}
