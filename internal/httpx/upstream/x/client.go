package x

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
	defaultBaseURL = "https://api.x.com"
	defaultTimeout = 15 * time.Second
)

// Client is an X (Twitter) API v2 client
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

// New creates a new X API client
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

// APIError represents an error from the X API
type APIError struct {
	Title      string `json:"title"`
	Detail     string `json:"detail"`
	HTTPStatus int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("x API error: %s: %s", e.Title, e.Detail)
}

// CreateTweetInput represents input for creating a post
type CreateTweetInput struct {
	AccessToken string
	Text        string
	// IdempotencyKey is sent as X-Client-Transaction-Id so retried creates
	// resolve to the same post
	IdempotencyKey string
}

// Tweet represents a created post
type Tweet struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// CreateTweet creates a post
func (c *Client) CreateTweet(ctx context.Context, in CreateTweetInput) (*Tweet, error) {
	body, err := json.Marshal(map[string]string{"text": in.Text})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/2/tweets", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+in.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	if in.IdempotencyKey != "" {
		req.Header.Set("X-Client-Transaction-Id", in.IdempotencyKey)
	}

	var out struct {
		Data Tweet `json:"data"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// TweetMetrics represents public engagement counts for a post
type TweetMetrics struct {
	ImpressionCount int64 `json:"impression_count"`
	LikeCount       int64 `json:"like_count"`
	ReplyCount      int64 `json:"reply_count"`
}

// GetTweetMetrics retrieves public metrics for a post
func (c *Client) GetTweetMetrics(ctx context.Context, accessToken, tweetID string) (*TweetMetrics, error) {
	url := fmt.Sprintf("%s/2/tweets/%s?tweet.fields=public_metrics", c.baseURL, tweetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var out struct {
		Data struct {
			PublicMetrics TweetMetrics `json:"public_metrics"`
		} `json:"data"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out.Data.PublicMetrics, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr APIError
		if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Title == "" {
			return &APIError{Title: http.StatusText(resp.StatusCode), Detail: string(body), HTTPStatus: resp.StatusCode}
		}
		apiErr.HTTPStatus = resp.StatusCode
		return &apiErr
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
