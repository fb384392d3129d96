package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/capitalize-ai/messaging-platform/internal/model"
)

const postgresOperationTimeout = 5 * time.Second

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStore is the production Store. Natural-key writes are
// INSERT ... ON CONFLICT statements and status changes are conditional
// UPDATEs, so concurrent deliveries never race on read-then-write.
type PostgresStore struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgresStore creates a store for dsn. The connection and schema are
// set up on first use.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresStore{dsn: dsn, openDB: sql.Open}, nil
}

func (s *PostgresStore) conn() (*sql.DB, error) {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 4*postgresOperationTimeout)
		defer cancel()
		for _, stmt := range schema {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				s.initErr = fmt.Errorf("failed to apply schema: %w", err)
				return
			}
		}
		s.db = db
	})
	return s.db, s.initErr
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	return db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Workspaces

func (s *PostgresStore) PutWorkspace(ctx context.Context, ws *model.Workspace) error {
	if ws == nil || ws.ID == 0 {
		return ErrInvalidInput
	}
	db, err := s.conn()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	_, err = db.ExecContext(ctx, `
		INSERT INTO workspaces (id, name, numbers, members)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id)
		DO UPDATE SET name = EXCLUDED.name, numbers = EXCLUDED.numbers, members = EXCLUDED.members`,
		ws.ID, ws.Name, pq.Array(ws.Numbers), pq.Array(ws.Members))
	return err
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, id int64) (*model.Workspace, error) {
	list, err := s.queryWorkspaces(ctx, "WHERE id = $1", id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return &list[0], nil
}

func (s *PostgresStore) WorkspacesByNumber(ctx context.Context, number string) ([]model.Workspace, error) {
	return s.queryWorkspaces(ctx, "WHERE $1 = ANY(numbers)", number)
}

func (s *PostgresStore) WorkspacesByNumberSuffix(ctx context.Context, suffix string) ([]model.Workspace, error) {
	return s.queryWorkspaces(ctx, "WHERE EXISTS (SELECT 1 FROM unnest(numbers) n WHERE n LIKE '%' || $1)", suffix)
}

func (s *PostgresStore) queryWorkspaces(ctx context.Context, where string, args ...any) ([]model.Workspace, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	rows, err := db.QueryContext(ctx, "SELECT id, name, numbers, members FROM workspaces "+where+" ORDER BY id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Workspace
	for rows.Next() {
		var ws model.Workspace
		if err := rows.Scan(&ws.ID, &ws.Name, pq.Array(&ws.Numbers), pq.Array(&ws.Members)); err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

// Webhook events

const eventColumns = `id, event_type, message_id, raw_payload, processed, outcome, detail, attempts, received_at, claimed_at, processed_at`

func scanEvent(row interface{ Scan(...any) error }) (*model.WebhookEvent, error) {
	var (
		ev        model.WebhookEvent
		raw       []byte
		outcome   string
		claimed   sql.NullTime
		processed sql.NullTime
	)
	if err := row.Scan(&ev.ID, &ev.EventType, &ev.MessageID, &raw, &ev.Processed, &outcome, &ev.Detail,
		&ev.Attempts, &ev.ReceivedAt, &claimed, &processed); err != nil {
		return nil, err
	}
	ev.RawPayload = raw
	ev.Outcome = model.Outcome(outcome)
	ev.ClaimedAt = nullTime(claimed)
	ev.ProcessedAt = nullTime(processed)
	return &ev, nil
}

func (s *PostgresStore) RecordEvent(ctx context.Context, ev *model.WebhookEvent) (bool, error) {
	if ev == nil || ev.ID == "" {
		return false, ErrInvalidInput
	}
	db, err := s.conn()
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	receivedAt := ev.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, event_type, message_id, raw_payload, processed, outcome, detail, attempts, received_at, claimed_at)
		VALUES ($1, $2, $3, $4, FALSE, '', '', 1, $5, NOW())
		ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.EventType, ev.MessageID, nullJSON(ev.RawPayload), receivedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresStore) ClaimEvent(ctx context.Context, id string, lease time.Duration) (bool, error) {
	db, err := s.conn()
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	res, err := db.ExecContext(ctx, `
		UPDATE webhook_events
		SET claimed_at = NOW(), attempts = attempts + 1
		WHERE id = $1 AND NOT processed
		  AND (claimed_at IS NULL OR claimed_at < NOW() - make_interval(secs => $2))`,
		id, lease.Seconds())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetEvent(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) CompleteEvent(ctx context.Context, id string, outcome model.Outcome, detail string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	processed := outcome != model.OutcomeError
	res, err := db.ExecContext(ctx, `
		UPDATE webhook_events
		SET outcome = $2, detail = $3, processed = $4,
		    processed_at = CASE WHEN $4 THEN NOW() ELSE NULL END,
		    claimed_at = CASE WHEN $4 THEN claimed_at ELSE NULL END
		WHERE id = $1`,
		id, string(outcome), detail, processed)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*model.WebhookEvent, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	ev, err := scanEvent(db.QueryRowContext(ctx, "SELECT "+eventColumns+" FROM webhook_events WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ev, err
}

func (s *PostgresStore) ListEvents(ctx context.Context, filter EventFilter) ([]model.WebhookEvent, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := "SELECT " + eventColumns + " FROM webhook_events"
	args := []any{limit}
	if filter.Outcome != model.OutcomePending {
		query += " WHERE outcome = $2"
		args = append(args, string(filter.Outcome))
	}
	query += " ORDER BY received_at ASC LIMIT $1"
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.WebhookEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

// Conversations

const conversationColumns = `id, workspace_id, from_number, to_number, contact_name, last_message_preview, last_message_at, status, created_at, updated_at, version`

func scanConversation(row interface{ Scan(...any) error }, extra ...any) (*model.Conversation, error) {
	var (
		conv    model.Conversation
		contact sql.NullString
		status  string
	)
	dest := []any{&conv.ID, &conv.WorkspaceID, &conv.FromNumber, &conv.ToNumber, &contact,
		&conv.LastMessagePreview, &conv.LastMessageAt, &status, &conv.CreatedAt, &conv.UpdatedAt, &conv.Version}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	conv.ContactName = nullString(contact)
	conv.Status = model.ConversationStatus(status)
	return &conv, nil
}

func (s *PostgresStore) TouchConversation(ctx context.Context, t ConversationTouch) (*model.Conversation, bool, error) {
	if t.WorkspaceID == 0 || t.FromNumber == "" || t.ToNumber == "" {
		return nil, false, ErrInvalidInput
	}
	db, err := s.conn()
	if err != nil {
		return nil, false, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	var inserted bool
	conv, err := scanConversation(db.QueryRowContext(ctx, `
		INSERT INTO conversations AS c (id, workspace_id, from_number, to_number, last_message_preview, last_message_at, status, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, 'primary', NOW(), NOW(), 1)
		ON CONFLICT (workspace_id, from_number, to_number)
		DO UPDATE SET
			last_message_preview = CASE WHEN EXCLUDED.last_message_at >= c.last_message_at
				THEN EXCLUDED.last_message_preview ELSE c.last_message_preview END,
			last_message_at = GREATEST(c.last_message_at, EXCLUDED.last_message_at),
			updated_at = NOW(),
			version = c.version + 1
		RETURNING `+conversationColumns+`, (xmax = 0)`,
		uuid.Must(uuid.NewV7()).String(), t.WorkspaceID, t.FromNumber, t.ToNumber, t.Preview, t.At), &inserted)
	if err != nil {
		return nil, false, err
	}
	return conv, inserted, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	conv, err := scanConversation(db.QueryRowContext(ctx, "SELECT "+conversationColumns+" FROM conversations WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return conv, err
}

func (s *PostgresStore) ListConversations(ctx context.Context, workspaceID int64) ([]model.Conversation, error) {
	return s.queryConversations(ctx, "WHERE workspace_id = $1 ORDER BY last_message_at DESC", workspaceID)
}

func (s *PostgresStore) FindConversationsByNumberSuffix(ctx context.Context, workspaceIDs []int64, a, b string) ([]model.Conversation, error) {
	if a == "" || b == "" {
		return nil, ErrInvalidInput
	}
	if len(workspaceIDs) == 0 {
		return nil, nil
	}
	return s.queryConversations(ctx, `
		WHERE workspace_id = ANY($3)
		  AND ((from_number LIKE '%' || $1 AND to_number LIKE '%' || $2)
		    OR (from_number LIKE '%' || $2 AND to_number LIKE '%' || $1))
		ORDER BY created_at ASC`, a, b, pq.Array(workspaceIDs))
}

func (s *PostgresStore) queryConversations(ctx context.Context, tail string, args ...any) ([]model.Conversation, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	rows, err := db.QueryContext(ctx, "SELECT "+conversationColumns+" FROM conversations "+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *conv)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateConversation(ctx context.Context, id string, req *model.UpdateConversationRequest) (*model.Conversation, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	var status, contact sql.NullString
	if req.Status != nil {
		status = sql.NullString{String: string(*req.Status), Valid: true}
	}
	if req.ContactName != nil {
		contact = sql.NullString{String: *req.ContactName, Valid: true}
	}
	conv, err := scanConversation(db.QueryRowContext(ctx, `
		UPDATE conversations
		SET status = COALESCE($2, status),
		    contact_name = CASE WHEN $3::text IS NULL THEN contact_name ELSE NULLIF($3, '') END,
		    updated_at = NOW(),
		    version = version + 1
		WHERE id = $1
		RETURNING `+conversationColumns, id, status, contact))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return conv, err
}

const groupColumns = `id, group_key, workspace_id, participants, last_message_preview, last_message_at, created_at, updated_at, version`

func scanGroup(row interface{ Scan(...any) error }, extra ...any) (*model.GroupConversation, error) {
	var g model.GroupConversation
	dest := []any{&g.ID, &g.GroupKey, &g.WorkspaceID, pq.Array(&g.Participants), &g.LastMessagePreview,
		&g.LastMessageAt, &g.CreatedAt, &g.UpdatedAt, &g.Version}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *PostgresStore) TouchGroupConversation(ctx context.Context, t GroupTouch) (*model.GroupConversation, bool, error) {
	if t.GroupKey == "" || t.WorkspaceID == 0 {
		return nil, false, ErrInvalidInput
	}
	db, err := s.conn()
	if err != nil {
		return nil, false, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	var inserted bool
	g, err := scanGroup(db.QueryRowContext(ctx, `
		INSERT INTO group_conversations AS g (id, group_key, workspace_id, participants, last_message_preview, last_message_at, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW(), 1)
		ON CONFLICT (group_key)
		DO UPDATE SET
			workspace_id = EXCLUDED.workspace_id,
			participants = EXCLUDED.participants,
			last_message_preview = CASE WHEN EXCLUDED.last_message_at >= g.last_message_at
				THEN EXCLUDED.last_message_preview ELSE g.last_message_preview END,
			last_message_at = GREATEST(g.last_message_at, EXCLUDED.last_message_at),
			updated_at = NOW(),
			version = g.version + 1
		RETURNING `+groupColumns+`, (xmax = 0)`,
		uuid.Must(uuid.NewV7()).String(), t.GroupKey, t.WorkspaceID, pq.Array(t.Participants), t.Preview, t.At), &inserted)
	if err != nil {
		return nil, false, err
	}
	return g, inserted, nil
}

func (s *PostgresStore) GetGroupConversation(ctx context.Context, idOrKey string) (*model.GroupConversation, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	g, err := scanGroup(db.QueryRowContext(ctx, "SELECT "+groupColumns+" FROM group_conversations WHERE id = $1 OR group_key = $1", idOrKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return g, err
}

func (s *PostgresStore) ListGroupConversations(ctx context.Context, workspaceID int64) ([]model.GroupConversation, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	rows, err := db.QueryContext(ctx, "SELECT "+groupColumns+" FROM group_conversations WHERE workspace_id = $1 ORDER BY last_message_at DESC", workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.GroupConversation
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// Messages

const messageColumns = `id, carrier_message_id, conversation_id, workspace_id, group_key, direction, from_number, to_number, body,
	message_type, media_files, status, failure_reason, client_token, created_at, updated_at, delivered_at, raw_provider_event, version`

func scanMessage(row interface{ Scan(...any) error }, extra ...any) (*model.Message, error) {
	var (
		msg                         model.Message
		carrierID, convID, groupKey sql.NullString
		failure, token              sql.NullString
		direction, msgType, status  string
		media, raw                  []byte
		delivered                   sql.NullTime
	)
	dest := []any{&msg.ID, &carrierID, &convID, &msg.WorkspaceID, &groupKey, &direction, &msg.FromNumber, &msg.ToNumber,
		&msg.Body, &msgType, &media, &status, &failure, &token, &msg.CreatedAt, &msg.UpdatedAt, &delivered, &raw, &msg.Version}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	msg.CarrierMessageID = nullString(carrierID)
	msg.ConversationID = nullString(convID)
	msg.GroupKey = nullString(groupKey)
	msg.FailureReason = nullString(failure)
	msg.ClientToken = nullString(token)
	msg.Direction = model.Direction(direction)
	msg.MessageType = model.MessageType(msgType)
	msg.Status = model.MessageStatus(status)
	msg.DeliveredAt = nullTime(delivered)
	if len(media) > 0 {
		if err := json.Unmarshal(media, &msg.MediaFiles); err != nil {
			return nil, fmt.Errorf("failed to decode media files: %w", err)
		}
	}
	if len(raw) > 0 {
		msg.RawProviderEvent = raw
	}
	return &msg, nil
}

func messageArgs(msg *model.Message) ([]any, error) {
	var media any
	if len(msg.MediaFiles) > 0 {
		data, err := json.Marshal(msg.MediaFiles)
		if err != nil {
			return nil, err
		}
		media = string(data)
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return []any{msg.ID, msg.CarrierMessageID, msg.ConversationID, msg.WorkspaceID, msg.GroupKey, string(msg.Direction),
		msg.FromNumber, msg.ToNumber, msg.Body, string(msg.MessageType), media, string(msg.Status), msg.FailureReason,
		msg.ClientToken, createdAt, nullJSON(msg.RawProviderEvent)}, nil
}

const insertMessage = `
	INSERT INTO messages AS m (id, carrier_message_id, conversation_id, workspace_id, group_key, direction, from_number, to_number, body,
		message_type, media_files, status, failure_reason, client_token, created_at, updated_at, raw_provider_event, version)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), $16, 1)`

func (s *PostgresStore) CreateMessage(ctx context.Context, msg *model.Message) error {
	if msg == nil || msg.ID == "" {
		return ErrInvalidInput
	}
	db, err := s.conn()
	if err != nil {
		return err
	}
	args, err := messageArgs(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	stored, err := scanMessage(db.QueryRowContext(ctx, insertMessage+" RETURNING "+messageColumns, args...))
	if err != nil {
		return err
	}
	*msg = *stored
	return nil
}

func (s *PostgresStore) UpsertInboundMessage(ctx context.Context, msg *model.Message) (*model.Message, bool, error) {
	if msg == nil || msg.ID == "" || msg.CarrierMessageID == nil || *msg.CarrierMessageID == "" {
		return nil, false, ErrInvalidInput
	}
	db, err := s.conn()
	if err != nil {
		return nil, false, err
	}
	args, err := messageArgs(msg)
	if err != nil {
		return nil, false, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	// The conflict branch only fires for an unattached row, so no returned
	// row means the stored message was left as it was.
	stored, err := scanMessage(db.QueryRowContext(opCtx, insertMessage+`
		ON CONFLICT (carrier_message_id)
		DO UPDATE SET
			conversation_id = EXCLUDED.conversation_id,
			workspace_id = EXCLUDED.workspace_id,
			group_key = EXCLUDED.group_key,
			updated_at = NOW(),
			version = m.version + 1
		WHERE m.conversation_id IS NULL AND EXCLUDED.conversation_id IS NOT NULL
		RETURNING `+messageColumns, args...))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}
	existing, err := s.GetMessage(ctx, MessageRef{CarrierMessageID: *msg.CarrierMessageID})
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func refClause(ref MessageRef) (string, string, error) {
	switch {
	case ref.ID != "":
		return "id = $1", ref.ID, nil
	case ref.CarrierMessageID != "":
		return "carrier_message_id = $1", ref.CarrierMessageID, nil
	default:
		return "", "", ErrInvalidInput
	}
}

func (s *PostgresStore) GetMessage(ctx context.Context, ref MessageRef) (*model.Message, error) {
	clause, key, err := refClause(ref)
	if err != nil {
		return nil, err
	}
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	msg, err := scanMessage(db.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE "+clause, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return msg, err
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	return s.queryMessages(ctx, "conversation_id = $1", conversationID)
}

func (s *PostgresStore) ListGroupMessages(ctx context.Context, groupKey string) ([]model.Message, error) {
	return s.queryMessages(ctx, "group_key = $1", groupKey)
}

func (s *PostgresStore) queryMessages(ctx context.Context, where, key string) ([]model.Message, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	rows, err := db.QueryContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE "+where+" ORDER BY created_at ASC, id ASC", key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *msg)
	}
	return out, rows.Err()
}

func (s *PostgresStore) TransitionMessage(ctx context.Context, ref MessageRef, t model.Transition) (*model.Message, error) {
	clause, key, err := refClause(ref)
	if err != nil {
		return nil, err
	}
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	from := model.AllowedFrom(t.To)
	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}
	var delivered any
	if t.DeliveredAt != nil {
		delivered = *t.DeliveredAt
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	msg, err := scanMessage(db.QueryRowContext(opCtx, `
		UPDATE messages
		SET status = $2,
		    carrier_message_id = COALESCE(NULLIF($3, ''), carrier_message_id),
		    failure_reason = COALESCE(NULLIF($4, ''), failure_reason),
		    delivered_at = COALESCE($5::timestamptz, delivered_at),
		    raw_provider_event = COALESCE($6::jsonb, raw_provider_event),
		    updated_at = NOW(),
		    version = version + 1
		WHERE `+clause+` AND status = ANY($7)
		RETURNING `+messageColumns,
		key, string(t.To), t.CarrierMessageID, t.FailureReason, delivered, nullJSON(t.RawProviderEvent), pq.Array(allowed)))
	if err == nil {
		return msg, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	current, err := s.GetMessage(ctx, ref)
	if err != nil {
		return nil, err
	}
	return current, ErrInvalidTransition
}

// Read status

const readStatusColumns = `user_id, conversation_id, workspace_id, unread_count, last_read_at, updated_at, version`

func scanReadStatus(row interface{ Scan(...any) error }) (*model.ReadStatus, error) {
	var (
		rs       model.ReadStatus
		lastRead sql.NullTime
	)
	if err := row.Scan(&rs.UserID, &rs.ConversationID, &rs.WorkspaceID, &rs.UnreadCount, &lastRead, &rs.UpdatedAt, &rs.Version); err != nil {
		return nil, err
	}
	rs.LastReadAt = nullTime(lastRead)
	return &rs, nil
}

func (s *PostgresStore) IncrementUnread(ctx context.Context, workspaceID int64, conversationID string, userIDs []string) ([]model.ReadStatus, error) {
	if conversationID == "" {
		return nil, ErrInvalidInput
	}
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	out := make([]model.ReadStatus, 0, len(userIDs))
	for _, userID := range userIDs {
		rs, err := scanReadStatus(tx.QueryRowContext(ctx, `
			INSERT INTO read_status AS r (user_id, conversation_id, workspace_id, unread_count, updated_at, version)
			VALUES ($1, $2, $3, 1, NOW(), 1)
			ON CONFLICT (user_id, conversation_id)
			DO UPDATE SET unread_count = r.unread_count + 1, updated_at = NOW(), version = r.version + 1
			RETURNING `+readStatusColumns, userID, conversationID, workspaceID))
		if err != nil {
			return nil, err
		}
		out = append(out, *rs)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return out, nil
}

func (s *PostgresStore) MarkRead(ctx context.Context, workspaceID int64, conversationID, userID string, at time.Time) (*model.ReadStatus, error) {
	if conversationID == "" || userID == "" {
		return nil, ErrInvalidInput
	}
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	return scanReadStatus(db.QueryRowContext(ctx, `
		INSERT INTO read_status AS r (user_id, conversation_id, workspace_id, unread_count, last_read_at, updated_at, version)
		VALUES ($1, $2, $3, 0, $4, NOW(), 1)
		ON CONFLICT (user_id, conversation_id)
		DO UPDATE SET unread_count = 0, last_read_at = EXCLUDED.last_read_at, updated_at = NOW(), version = r.version + 1
		RETURNING `+readStatusColumns, userID, conversationID, workspaceID, at))
}

func (s *PostgresStore) UnreadCounts(ctx context.Context, workspaceID int64, userID string) (map[string]int, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	rows, err := db.QueryContext(ctx, "SELECT conversation_id, unread_count FROM read_status WHERE workspace_id = $1 AND user_id = $2", workspaceID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateCallRecording(ctx context.Context, rec *model.CallRecording) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidInput
	}
	db, err := s.conn()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	return db.QueryRowContext(ctx, `
		INSERT INTO call_recordings (id, workspace_id, conversation_id, direction, filename, file_size, mime_type, public_url, recorded_at, processing_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		RETURNING created_at`,
		rec.ID, rec.WorkspaceID, rec.ConversationID, string(rec.Direction), rec.Filename, rec.FileSize, rec.MimeType,
		rec.PublicURL, rec.RecordedAt, rec.ProcessingStatus).Scan(&rec.CreatedAt)
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

// nullJSON passes JSONB as text; lib/pq would encode []byte as bytea.
func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
