package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://oauth.reddit.com"
	defaultTimeout = 15 * time.Second
)

// Client is a Reddit API client for link and self post submission
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// ClientOption is a function that configures the Client
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = url }
}

// WithUserAgent sets the User-Agent reddit requires from API clients
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

// New creates a new Reddit API client
func New(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		userAgent:  "crosspost/1.0",
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError represents an error from the Reddit API
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("reddit API error: %s (%s)", e.Message, e.Code)
}

// SubmitInput represents input for submitting a post
type SubmitInput struct {
	AccessToken string
	Subreddit   string
	Title       string
	Text        string
	MediaURL    string
}

// SubmitOutput represents the created submission
type SubmitOutput struct {
	Name string `json:"name"` // fullname, e.g. t3_abc123
	URL  string `json:"url"`
}

// Submit creates a link or self post in a subreddit
func (c *Client) Submit(ctx context.Context, in SubmitInput) (*SubmitOutput, error) {
	form := url.Values{}
	form.Set("sr", in.Subreddit)
	form.Set("title", in.Title)
	form.Set("api_type", "json")
	if in.MediaURL != "" {
		form.Set("kind", "link")
		form.Set("url", in.MediaURL)
	} else {
		form.Set("kind", "self")
		form.Set("text", in.Text)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/submit", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+in.AccessToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)

	var out struct {
		JSON struct {
			Errors [][]string   `json:"errors"`
			Data   SubmitOutput `json:"data"`
		} `json:"json"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if len(out.JSON.Errors) > 0 {
		e := out.JSON.Errors[0]
		apiErr := &APIError{Code: e[0], HTTPStatus: http.StatusOK}
		if len(e) > 1 {
			apiErr.Message = e[1]
		}
		return nil, apiErr
	}
	return &out.JSON.Data, nil
}

// PostInfo represents score and comment counts for a submission
type PostInfo struct {
	Score       int64 `json:"score"`
	NumComments int64 `json:"num_comments"`
}

// GetPostInfo retrieves score and comment counts for a submission fullname
func (c *Client) GetPostInfo(ctx context.Context, accessToken, fullname string) (*PostInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/info?id="+url.QueryEscape(fullname), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", c.userAgent)

	var out struct {
		Data struct {
			Children []struct {
				Data PostInfo `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if len(out.Data.Children) == 0 {
		return nil, fmt.Errorf("submission %s not found", fullname)
	}
	return &out.Data.Children[0].Data, nil
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
		if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Message == "" {
			apiErr = APIError{Code: "http_error", Message: string(body)}
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
