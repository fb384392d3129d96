package realtime

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
	"github.com/capitalize-ai/messaging-platform/pkg/metrics"
)

// PublishingStore wraps a Store and emits a change record after every
// successful mutation. A failed publish is logged and never undoes the
// write; clients recover by refetching. Rows not yet attached to a
// workspace are not published.
type PublishingStore struct {
	store.Store
	feed   Feed
	logger *logger.Logger
}

// NewPublishingStore decorates s so its writes reach feed.
func NewPublishingStore(s store.Store, feed Feed, log *logger.Logger) *PublishingStore {
	return &PublishingStore{Store: s, feed: feed, logger: log}
}

func (p *PublishingStore) publish(ctx context.Context, table model.Table, op model.Operation, workspaceID int64, rowID string, version int64, row any) {
	if workspaceID == 0 {
		return
	}
	change, err := model.NewChange(table, op, workspaceID, rowID, version, row)
	if err != nil {
		p.logger.Error("Failed to encode change", zap.String("table", string(table)), zap.String("row_id", rowID), zap.Error(err))
		return
	}
	if err := p.feed.Publish(ctx, change); err != nil {
		metrics.RecordChange(string(table), string(op), "error")
		p.logger.Warn("Failed to publish change",
			zap.String("table", string(table)),
			zap.String("row_id", rowID),
			zap.Int64("version", version),
			zap.Error(err),
		)
		return
	}
	metrics.RecordChange(string(table), string(op), "ok")
}

func opFor(inserted bool) model.Operation {
	if inserted {
		return model.OpInsert
	}
	return model.OpUpdate
}

func (p *PublishingStore) TouchConversation(ctx context.Context, t store.ConversationTouch) (*model.Conversation, bool, error) {
	conv, inserted, err := p.Store.TouchConversation(ctx, t)
	if err != nil {
		return nil, false, err
	}
	p.publish(ctx, model.TableConversations, opFor(inserted), conv.WorkspaceID, conv.ID, conv.Version, conv)
	return conv, inserted, nil
}

func (p *PublishingStore) UpdateConversation(ctx context.Context, id string, req *model.UpdateConversationRequest) (*model.Conversation, error) {
	conv, err := p.Store.UpdateConversation(ctx, id, req)
	if err != nil {
		return nil, err
	}
	p.publish(ctx, model.TableConversations, model.OpUpdate, conv.WorkspaceID, conv.ID, conv.Version, conv)
	return conv, nil
}

func (p *PublishingStore) TouchGroupConversation(ctx context.Context, t store.GroupTouch) (*model.GroupConversation, bool, error) {
	g, inserted, err := p.Store.TouchGroupConversation(ctx, t)
	if err != nil {
		return nil, false, err
	}
	p.publish(ctx, model.TableGroupConversations, opFor(inserted), g.WorkspaceID, g.ID, g.Version, g)
	return g, inserted, nil
}

func (p *PublishingStore) CreateMessage(ctx context.Context, msg *model.Message) error {
	if err := p.Store.CreateMessage(ctx, msg); err != nil {
		return err
	}
	p.publish(ctx, model.TableMessages, model.OpInsert, msg.WorkspaceID, msg.ID, msg.Version, msg)
	return nil
}

func (p *PublishingStore) UpsertInboundMessage(ctx context.Context, msg *model.Message) (*model.Message, bool, error) {
	stored, changed, err := p.Store.UpsertInboundMessage(ctx, msg)
	if err != nil {
		return nil, false, err
	}
	if changed {
		p.publish(ctx, model.TableMessages, opFor(stored.Version == 1), stored.WorkspaceID, stored.ID, stored.Version, stored)
	}
	return stored, changed, nil
}

func (p *PublishingStore) TransitionMessage(ctx context.Context, ref store.MessageRef, t model.Transition) (*model.Message, error) {
	msg, err := p.Store.TransitionMessage(ctx, ref, t)
	if err != nil {
		return msg, err
	}
	p.publish(ctx, model.TableMessages, model.OpUpdate, msg.WorkspaceID, msg.ID, msg.Version, msg)
	return msg, nil
}

func (p *PublishingStore) IncrementUnread(ctx context.Context, workspaceID int64, conversationID string, userIDs []string) ([]model.ReadStatus, error) {
	list, err := p.Store.IncrementUnread(ctx, workspaceID, conversationID, userIDs)
	if err != nil {
		return nil, err
	}
	for i := range list {
		rs := &list[i]
		p.publish(ctx, model.TableReadStatus, model.OpUpdate, rs.WorkspaceID, readStatusRowID(rs), rs.Version, rs)
	}
	return list, nil
}

func (p *PublishingStore) MarkRead(ctx context.Context, workspaceID int64, conversationID, userID string, at time.Time) (*model.ReadStatus, error) {
	rs, err := p.Store.MarkRead(ctx, workspaceID, conversationID, userID, at)
	if err != nil {
		return nil, err
	}
	p.publish(ctx, model.TableReadStatus, model.OpUpdate, rs.WorkspaceID, readStatusRowID(rs), rs.Version, rs)
	return rs, nil
}

func (p *PublishingStore) CreateCallRecording(ctx context.Context, rec *model.CallRecording) error {
	if err := p.Store.CreateCallRecording(ctx, rec); err != nil {
		return err
	}
	p.publish(ctx, model.TableCallRecordings, model.OpInsert, rec.WorkspaceID, rec.ID, 1, rec)
	return nil
}

func readStatusRowID(rs *model.ReadStatus) string {
	return rs.UserID + ":" + rs.ConversationID
}
