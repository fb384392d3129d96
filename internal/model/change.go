package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Table names a row family on the change feed.
type Table string

const (
	TableConversations      Table = "conversations"
	TableGroupConversations Table = "group_conversations"
	TableMessages           Table = "messages"
	TableReadStatus         Table = "read_status"
	TableCallRecordings     Table = "call_recordings"
)

// Operation is the kind of committed mutation.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Change is one committed mutation pushed to a workspace's subscribers.
type Change struct {
	Table       Table           `json:"table"`
	Operation   Operation       `json:"operation"`
	WorkspaceID int64           `json:"workspaceId"`
	RowID       string          `json:"rowId"`
	Version     int64           `json:"version"`
	Row         json.RawMessage `json:"row"`
	CommittedAt time.Time       `json:"committedAt"`
}

// NewChange encodes row into a change record.
func NewChange(table Table, op Operation, workspaceID int64, rowID string, version int64, row any) (Change, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return Change{}, fmt.Errorf("failed to marshal %s row: %w", table, err)
	}
	return Change{
		Table:       table,
		Operation:   op,
		WorkspaceID: workspaceID,
		RowID:       rowID,
		Version:     version,
		Row:         data,
		CommittedAt: time.Now().UTC(),
	}, nil
}

// DedupID identifies this exact row version for transport-level dedup.
func (c Change) DedupID() string {
	return fmt.Sprintf("%s:%s:%d", c.Table, c.RowID, c.Version)
}

// Decode unmarshals the row into dst.
func (c Change) Decode(dst any) error {
	return json.Unmarshal(c.Row, dst)
}
