package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultBaseURL    = "https://graph.instagram.com"
	defaultAPIVersion = "v21.0"
	defaultTimeout    = 30 * time.Second
)

// Client is an Instagram Graph API client for content publishing
type Client struct {
	baseURL    string
	apiVersion string
	httpClient *http.Client
}

// ClientOption is a function that configures the Client
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = url }
}

// WithAPIVersion sets the API version
func WithAPIVersion(version string) ClientOption {
	return func(c *Client) { c.apiVersion = version }
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

// New creates a new Instagram API client
func New(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		apiVersion: defaultAPIVersion,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError represents an error from the Instagram API
type APIError struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
	HTTPStatus   int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("instagram API error: %s (code: %d, subcode: %d)", e.Message, e.Code, e.ErrorSubcode)
}

type errorResponse struct {
	Error APIError `json:"error"`
}

// CreateContainerInput represents input for creating a media container
type CreateContainerInput struct {
	UserID      string
	AccessToken string
	ImageURL    string
	VideoURL    string
	Caption     string
	LocationID  string
}

// CreateContainerOutput represents the created container reference
type CreateContainerOutput struct {
	ID string `json:"id"`
}

// CreateContainer creates a media container, step 1 of the publish flow
func (c *Client) CreateContainer(ctx context.Context, in CreateContainerInput) (*CreateContainerOutput, error) {
	endpoint := fmt.Sprintf("%s/%s/%s/media", c.baseURL, c.apiVersion, in.UserID)

	params := url.Values{}
	params.Set("access_token", in.AccessToken)
	if in.ImageURL != "" {
		params.Set("image_url", in.ImageURL)
	}
	if in.VideoURL != "" {
		params.Set("video_url", in.VideoURL)
		params.Set("media_type", "REELS")
	}
	if in.Caption != "" {
		params.Set("caption", in.Caption)
	}
	if in.LocationID != "" {
		params.Set("location_id", in.LocationID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	var out CreateContainerOutput
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ContainerStatus represents the processing state of a media container
type ContainerStatus struct {
	ID           string `json:"id"`
	Status       string `json:"status_code"` // FINISHED, IN_PROGRESS, ERROR, EXPIRED, PUBLISHED
	ErrorMessage string `json:"error_message,omitempty"`
}

// GetContainerStatus checks whether a container is ready for publishing
func (c *Client) GetContainerStatus(ctx context.Context, containerID, accessToken string) (*ContainerStatus, error) {
	endpoint := fmt.Sprintf("%s/%s/%s", c.baseURL, c.apiVersion, containerID)

	params := url.Values{}
	params.Set("access_token", accessToken)
	params.Set("fields", "status_code,error_message")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	var out ContainerStatus
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PublishContainer publishes a finished container and returns the media ID
func (c *Client) PublishContainer(ctx context.Context, userID, accessToken, containerID string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/%s/media_publish", c.baseURL, c.apiVersion, userID)

	params := url.Values{}
	params.Set("access_token", accessToken)
	params.Set("creation_id", containerID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// MediaInsights represents engagement numbers for a published media
type MediaInsights struct {
	ID            string `json:"id"`
	Permalink     string `json:"permalink,omitempty"`
	LikeCount     int64  `json:"like_count"`
	CommentsCount int64  `json:"comments_count"`
}

// GetMediaInsights retrieves permalink and engagement counts for a media
func (c *Client) GetMediaInsights(ctx context.Context, mediaID, accessToken string) (*MediaInsights, error) {
	endpoint := fmt.Sprintf("%s/%s/%s", c.baseURL, c.apiVersion, mediaID)

	params := url.Values{}
	params.Set("access_token", accessToken)
	params.Set("fields", "id,permalink,like_count,comments_count")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	var out MediaInsights
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do executes an HTTP request and decodes the response
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
		var errResp errorResponse
		if err := json.Unmarshal(body, &errResp); err != nil {
			return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
		}
		errResp.Error.HTTPStatus = resp.StatusCode
		return &errResp.Error
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
