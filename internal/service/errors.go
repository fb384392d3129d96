// Package service implements conversation resolution, the message
// lifecycle, read-status bookkeeping and the user-facing operations built
// on them.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
)

var (
	// ErrValidation marks malformed or incomplete requests.
	ErrValidation = errors.New("validation failed")
	// ErrUnresolved marks inbound traffic that matches no single workspace.
	ErrUnresolved = errors.New("unresolved workspace")
	// ErrForbidden marks requests from users outside the owning workspace.
	ErrForbidden = errors.New("forbidden")
	// ErrCarrier marks a send the carrier rejected or did not answer.
	ErrCarrier = errors.New("carrier error")
	// ErrUnavailable marks an optional collaborator that is not configured.
	ErrUnavailable = errors.New("service unavailable")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// authorize loads the workspace and checks that userID is a member.
func authorize(ctx context.Context, st store.Store, workspaceID int64, userID string) (*model.Workspace, error) {
	ws, err := st.GetWorkspace(ctx, workspaceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: workspace %d", ErrForbidden, workspaceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace: %w", err)
	}
	if !ws.HasMember(userID) {
		return nil, fmt.Errorf("%w: user is not a member of workspace %d", ErrForbidden, workspaceID)
	}
	return ws, nil
}
