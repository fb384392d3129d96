package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

// Client reads the REST API and the realtime websocket of one server
// with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *logger.Logger
}

// NewClient creates a client for baseURL (e.g. http://localhost:8080).
func NewClient(baseURL, token string, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  log,
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, dst any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func workspaceQuery(workspaceID int64) url.Values {
	return url.Values{"workspaceId": {strconv.FormatInt(workspaceID, 10)}}
}

func (c *Client) FetchConversations(ctx context.Context, workspaceID int64) ([]model.ConversationSummary, error) {
	var resp model.ListConversationsResponse
	if err := c.get(ctx, "/api/v1/conversations", workspaceQuery(workspaceID), &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

func (c *Client) FetchMessages(ctx context.Context, threadID string) ([]model.Message, error) {
	var resp model.ListMessagesResponse
	if err := c.get(ctx, "/api/v1/messages/"+url.PathEscape(threadID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) FetchUnreadCounts(ctx context.Context, workspaceID int64) (map[string]int, error) {
	var resp model.UnreadCountsResponse
	if err := c.get(ctx, "/api/v1/conversations/unread", workspaceQuery(workspaceID), &resp); err != nil {
		return nil, err
	}
	if resp.Counts == nil {
		resp.Counts = map[string]int{}
	}
	return resp.Counts, nil
}

// Subscribe opens the workspace's realtime websocket. The returned
// channel is closed when the connection ends or ctx is done.
func (c *Client) Subscribe(ctx context.Context, workspaceID int64) (<-chan model.Change, error) {
	u, err := url.Parse(c.baseURL + "/api/v1/realtime/ws")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = workspaceQuery(workspaceID).Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to open realtime feed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to open realtime feed: %w", err)
	}

	out := make(chan model.Change)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var ch model.Change
			if err := conn.ReadJSON(&ch); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Warn("Realtime feed closed", zap.Error(err))
				}
				return
			}
			select {
			case out <- ch:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
