package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/llm"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
	"github.com/capitalize-ai/messaging-platform/pkg/metrics"
)

const (
	draftHistory = 20

	draftSystemPrompt = "You draft SMS replies for a legal team. Reply with the message text only, " +
		"in a professional and concise tone, under 320 characters. Never give legal advice or make promises."
)

// DraftService proposes replies for a conversation through an LLM.
type DraftService struct {
	store  store.Store
	client llm.Client
	logger *logger.Logger
}

// NewDraftService creates a draft service. client may be nil, in which
// case drafting reports ErrUnavailable.
func NewDraftService(s store.Store, client llm.Client, log *logger.Logger) *DraftService {
	return &DraftService{store: s, client: client, logger: log}
}

// Draft returns a proposed reply built from the latest messages of the
// conversation and the user's instructions.
func (s *DraftService) Draft(ctx context.Context, userID, conversationID, instructions string) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("%w: no llm configured", ErrUnavailable)
	}
	thread, err := ResolveThread(ctx, s.store, userID, conversationID)
	if err != nil {
		return "", err
	}
	var msgs []model.Message
	if thread.GroupKey != "" {
		msgs, err = s.store.ListGroupMessages(ctx, thread.GroupKey)
	} else {
		msgs, err = s.store.ListMessages(ctx, thread.ConversationID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load history: %w", err)
	}
	if len(msgs) > draftHistory {
		msgs = msgs[len(msgs)-draftHistory:]
	}

	start := time.Now()
	resp, err := s.client.Complete(ctx, &llm.CompletionRequest{
		System:      draftSystemPrompt,
		Messages:    []llm.ChatMessage{{Role: "user", Content: DraftPrompt(msgs, instructions)}},
		Temperature: 0.4,
	})
	if err != nil {
		metrics.RecordLLM(s.client.Name(), "error", time.Since(start).Seconds(), 0, 0)
		s.logger.Warn("Draft generation failed", zap.String("conversation_id", conversationID), zap.Error(err))
		return "", fmt.Errorf("failed to generate draft: %w", err)
	}
	metrics.RecordLLM(s.client.Name(), "ok", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)
	return strings.TrimSpace(resp.Content), nil
}

// DraftPrompt renders the transcript and instructions into one prompt.
func DraftPrompt(msgs []model.Message, instructions string) string {
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	if len(msgs) == 0 {
		b.WriteString("(no messages yet)\n")
	}
	for _, m := range msgs {
		who := "Contact"
		if m.Direction == model.DirectionOutbound {
			who = "Us"
		}
		body := m.Body
		if body == "" && len(m.MediaFiles) > 0 {
			body = fmt.Sprintf("[%d attachment(s)]", len(m.MediaFiles))
		}
		fmt.Fprintf(&b, "%s: %s\n", who, body)
	}
	if instructions = strings.TrimSpace(instructions); instructions != "" {
		fmt.Fprintf(&b, "\nInstructions: %s\n", instructions)
	}
	b.WriteString("\nDraft the next message from us.")
	return b.String()
}
