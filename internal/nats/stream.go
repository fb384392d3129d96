package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/pkg/metrics"
)

const (
	// StreamName is the name of the change stream.
	StreamName = "CHANGES"

	// SubjectPrefix is the prefix for all change subjects.
	SubjectPrefix = "chg"

	// duplicateWindow bounds Nats-Msg-Id dedup of republished row versions.
	duplicateWindow = 2 * time.Minute
)

// ChangeFeed publishes committed row changes to JetStream and fans them
// out to per-workspace ordered consumers.
type ChangeFeed struct {
	client *Client
}

// NewChangeFeed creates a change feed on client.
func NewChangeFeed(client *Client) *ChangeFeed {
	return &ChangeFeed{client: client}
}

// EnsureStream creates or updates the change stream.
func (f *ChangeFeed) EnsureStream(ctx context.Context) error {
	_, err := f.client.JetStream().CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024, // 10GB
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Duplicates:  duplicateWindow,
		Compression: jetstream.S2Compression,
		Description: "Committed conversation, message and read-status changes",
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream: %w", err)
	}
	return nil
}

// ChangeSubject returns the subject for a change.
func ChangeSubject(workspaceID int64, table model.Table) string {
	return fmt.Sprintf("%s.%d.%s", SubjectPrefix, workspaceID, table)
}

// WorkspaceFilter returns the filter subject for every change in a workspace.
func WorkspaceFilter(workspaceID int64) string {
	return fmt.Sprintf("%s.%d.>", SubjectPrefix, workspaceID)
}

// Publish sends change with its row version as the dedup id.
func (f *ChangeFeed) Publish(ctx context.Context, change model.Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}
	_, err = f.client.JetStream().Publish(ctx, ChangeSubject(change.WorkspaceID, change.Table), data,
		jetstream.WithMsgID(change.DedupID()))
	if err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	return nil
}

// Subscribe attaches an ordered consumer that delivers new changes for
// workspaceID. A full channel blocks the consumer; ordered consumers are
// flow-controlled by the server.
func (f *ChangeFeed) Subscribe(ctx context.Context, workspaceID int64) (<-chan model.Change, func(), error) {
	consumer, err := f.client.JetStream().OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{WorkspaceFilter(workspaceID)},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	out := make(chan model.Change, 64)
	subCtx, cancel := context.WithCancel(ctx)
	var (
		mu     sync.Mutex
		closed bool
	)
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var change model.Change
		if err := json.Unmarshal(msg.Data(), &change); err != nil {
			f.client.logger.Warn("Dropping undecodable change", zap.String("subject", msg.Subject()), zap.Error(err))
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- change:
		case <-subCtx.Done():
		}
	}, jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		if !errors.Is(err, context.Canceled) {
			f.client.logger.Warn("Change consumer error", zap.Int64("workspace_id", workspaceID), zap.Error(err))
		}
	}))
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to consume changes: %w", err)
	}

	go func() {
		<-subCtx.Done()
		cc.Stop()
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()
	return out, cancel, nil
}

// Ping reports whether the connection is up and refreshes stream gauges.
func (f *ChangeFeed) Ping(ctx context.Context) error {
	if !f.client.IsConnected() {
		return errors.New("nats is not connected")
	}
	stream, err := f.client.JetStream().Stream(ctx, StreamName)
	if err != nil {
		return fmt.Errorf("failed to look up stream: %w", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stream info: %w", err)
	}
	metrics.NATSStreamMessages.WithLabelValues(StreamName).Set(float64(info.State.Msgs))
	metrics.NATSStreamBytes.WithLabelValues(StreamName).Set(float64(info.State.Bytes))
	return nil
}
