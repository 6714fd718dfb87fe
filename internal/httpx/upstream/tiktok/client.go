package tiktok

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultBaseURL = "https://open.tiktokapis.com"
	defaultTimeout = 30 * time.Second
)

// Client is a TikTok Content Posting API client
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption is a function that configures the Client
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

// New creates a new TikTok API client
func New(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError represents an error from the TikTok API
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	LogID      string `json:"log_id"`
	HTTPStatus int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tiktok API error: %s (%s)", e.Message, e.Code)
}

// InitPublishInput represents input for initializing a video publish
type InitPublishInput struct {
	AccessToken string
	VideoURL    string
	Caption     string
	// ClientPostID is echoed back by TikTok and deduplicates repeated init
	// calls for the same logical post
	ClientPostID string
}

// InitPublishOutput represents the created publish handle
type InitPublishOutput struct {
	PublishID string `json:"publish_id"`
	ShareURL  string `json:"share_url,omitempty"`
}

// InitPublish starts a pull-from-URL video publish
func (c *Client) InitPublish(ctx context.Context, in InitPublishInput) (*InitPublishOutput, error) {
	payload := map[string]interface{}{
		"post_info": map[string]interface{}{
			"title":          in.Caption,
			"client_post_id": in.ClientPostID,
		},
		"source_info": map[string]interface{}{
			"source":    "PULL_FROM_URL",
			"video_url": in.VideoURL,
		},
	}
	var out InitPublishOutput
	if err := c.post(ctx, "/v2/post/publish/video/init/", in.AccessToken, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PublishStatus represents the processing state of a publish
type PublishStatus struct {
	Status       string `json:"status"` // PROCESSING_DOWNLOAD, PROCESSING_UPLOAD, PUBLISH_COMPLETE, FAILED
	PostID       string `json:"post_id,omitempty"`
	FailReason   string `json:"fail_reason,omitempty"`
	ViewCount    int64  `json:"view_count"`
	LikeCount    int64  `json:"like_count"`
	CommentCount int64  `json:"comment_count"`
}

// FetchStatus checks the state of an in-flight or published post
func (c *Client) FetchStatus(ctx context.Context, accessToken, publishID string) (*PublishStatus, error) {
	payload := map[string]interface{}{"publish_id": publishID}
	var out PublishStatus
	if err := c.post(ctx, "/v2/post/publish/status/fetch/", accessToken, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path, accessToken string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	// TikTok wraps every response in {"data": ..., "error": ...}; code "ok"
	// signals success regardless of payload shape.
	var envelope struct {
		Data  json.RawMessage `json:"data"`
		Error APIError        `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decoding response (status %d): %s", resp.StatusCode, string(raw))
	}
	if resp.StatusCode >= 400 || (envelope.Error.Code != "" && envelope.Error.Code != "ok") {
		envelope.Error.HTTPStatus = resp.StatusCode
		return &envelope.Error
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decoding response data: %w", err)
		}
	}
	return nil
}
