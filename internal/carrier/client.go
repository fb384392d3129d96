// Package carrier sends outbound messages through the carrier's REST API.
package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrTimeout means the carrier did not answer within the client timeout.
// The send outcome is unknown to the carrier's caller.
var ErrTimeout = errors.New("carrier timeout")

// OutboundMessage is one send request.
type OutboundMessage struct {
	From      string   `json:"from"`
	To        string   `json:"to"`
	Text      string   `json:"text,omitempty"`
	MediaURLs []string `json:"media_urls,omitempty"`
}

// SendResult is the carrier's acceptance of a message.
type SendResult struct {
	ID  string
	Raw json.RawMessage
}

// Client sends messages. Implementations must honor ctx cancellation.
type Client interface {
	Send(ctx context.Context, msg *OutboundMessage) (*SendResult, error)
}

// Error is a carrier rejection.
type Error struct {
	StatusCode int
	Detail     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("carrier rejected message (status %d): %s", e.StatusCode, e.Detail)
}

// Options configures the HTTP client.
type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPClient talks to the Telnyx v2 messaging API. Sends are not
// retried: a request that reached the carrier may already be delivered.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient creates a carrier client.
func NewHTTPClient(opts Options) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.telnyx.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{baseURL: baseURL, apiKey: strings.TrimSpace(opts.APIKey), httpClient: httpClient}
}

type sendResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

type errorResponse struct {
	Errors []struct {
		Code   string `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (c *HTTPClient) Send(ctx context.Context, msg *OutboundMessage) (*SendResult, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("carrier api key is not configured")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("carrier request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if isTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("failed to read carrier response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{StatusCode: resp.StatusCode, Detail: errorDetail(respBody)}
	}

	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode carrier response: %w", err)
	}
	if parsed.Data.ID == "" {
		return nil, &Error{StatusCode: resp.StatusCode, Detail: "response carried no message id"}
	}
	return &SendResult{ID: parsed.Data.ID, Raw: respBody}, nil
}

const maxDetailRunes = 200

func errorDetail(body []byte) string {
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Errors) > 0 {
		e := parsed.Errors[0]
		switch {
		case e.Detail != "":
			return e.Detail
		case e.Title != "":
			return e.Title
		}
	}
	text := strings.TrimSpace(string(body))
	if r := []rune(text); len(r) > maxDetailRunes {
		text = string(r[:maxDetailRunes])
	}
	if text == "" {
		return "empty response"
	}
	return text
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
