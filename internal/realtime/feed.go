// Package realtime pushes committed row changes to workspace subscribers.
package realtime

import (
	"context"
	"sync"

	"github.com/capitalize-ai/messaging-platform/internal/model"
)

// Feed carries change records from the write path to connected clients.
type Feed interface {
	Publish(ctx context.Context, change model.Change) error
	// Subscribe delivers changes for one workspace until ctx ends or the
	// returned cancel func is called. The channel is closed on exit.
	Subscribe(ctx context.Context, workspaceID int64) (<-chan model.Change, func(), error)
}

const subscriberBuffer = 64

type subscriber struct {
	ch   chan model.Change
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Hub is the in-process Feed used when no NATS server is configured.
// A subscriber that falls a full buffer behind is disconnected and is
// expected to resubscribe and refetch.
type Hub struct {
	mu   sync.RWMutex
	subs map[int64]map[*subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int64]map[*subscriber]struct{})}
}

func (h *Hub) Publish(ctx context.Context, change model.Change) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[change.WorkspaceID] {
		select {
		case sub.ch <- change:
		default:
			delete(h.subs[change.WorkspaceID], sub)
			sub.close()
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, workspaceID int64) (<-chan model.Change, func(), error) {
	sub := &subscriber{ch: make(chan model.Change, subscriberBuffer)}
	h.mu.Lock()
	if h.subs[workspaceID] == nil {
		h.subs[workspaceID] = make(map[*subscriber]struct{})
	}
	h.subs[workspaceID][sub] = struct{}{}
	h.mu.Unlock()

	done := make(chan struct{})
	var stopOnce sync.Once
	cancel := func() {
		stopOnce.Do(func() {
			close(done)
			h.mu.Lock()
			if set, ok := h.subs[workspaceID]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(h.subs, workspaceID)
				}
			}
			sub.close()
			h.mu.Unlock()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return sub.ch, cancel, nil
}

// Subscribers returns the live subscriber count for a workspace.
func (h *Hub) Subscribers(workspaceID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[workspaceID])
}
