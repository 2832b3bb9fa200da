// Package whatsapp is the Cloud API adapter used by the dispatch engine.
// Every send resolves to success, a retryable failure (timeout, connection
// error, rate limit) or a permanent API error; the worker's retry policy is
// driven entirely by that classification.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type Client struct {
	Token   string
	PhoneID string
	BaseURL string
	HTTP    *http.Client
}

type SendRequest struct {
	To       string
	MediaURL string
	Title    string
	Body     string
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send delivers one message and returns the provider message id.
// Failures are returned as *SendError carrying the outcome classification.
func (c *Client) Send(ctx context.Context, req SendRequest) (string, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                req.To,
	}
	if req.MediaURL != "" {
		payload["type"] = "image"
		payload["image"] = map[string]string{
			"link":    req.MediaURL,
			"caption": req.Title + "\n\n" + req.Body,
		}
	} else {
		payload["type"] = "text"
		payload["text"] = map[string]string{"body": req.Body}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", &SendError{Kind: KindAPIError, Message: err.Error()}
	}

	endpoint := strings.TrimRight(c.BaseURL, "/") + "/" + c.PhoneID + "/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &SendError{Kind: KindAPIError, Message: err.Error()}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.Token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return "", classifyTransport(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &SendError{
			Kind:       KindRateLimited,
			Message:    "rate limit exceeded",
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var out sendResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := out.Error.Message
		if msg == "" {
			msg = "whatsapp send failed: http " + strconv.Itoa(resp.StatusCode)
		}
		return "", &SendError{Kind: KindAPIError, Message: msg}
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", &SendError{Kind: KindAPIError, Message: "response missing message id"}
	}
	return out.Messages[0].ID, nil
}

func classifyTransport(err error) *SendError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &SendError{Kind: KindTimeout, Message: "request timeout"}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &SendError{Kind: KindTimeout, Message: "request timeout"}
	}
	return &SendError{Kind: KindConnection, Message: err.Error()}
}

func parseRetryAfter(h string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || secs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(secs) * time.Second
}
