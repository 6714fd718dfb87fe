package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
)

const (
	baseURL   = "http://localhost:8080/api/v1"
	accountID = "7"
	tokenID   = "tok-7"
	imageURL  = "https://s3.sevendev.uz/media/2025/12/24/0eb0ad1e-9f02-4f69-bbf1-ec57b82939bf.png"
)

type SubmitRequest struct {
	Platform       string   `json:"platform"`
	AccountID      string   `json:"account_id"`
	TokenID        string   `json:"token_id"`
	MediaRef       string   `json:"media_ref,omitempty"`
	Caption        string   `json:"caption"`
	Hashtags       []string `json:"hashtags,omitempty"`
	ScheduleAt     *string  `json:"schedule_at,omitempty"`
	PostID         string   `json:"post_id"`
	CreatorID      string   `json:"creator_id"`
	IdempotencyKey string   `json:"idempotency_key"`
}

type SubmitResponse struct {
	Key      string        `json:"key"`
	Attached bool          `json:"attached"`
	State    WorkflowState `json:"state"`
}

type WorkflowState struct {
	Key        string `json:"key"`
	Step       string `json:"step"`
	RetryCount int    `json:"retry_count"`
	Error      string `json:"error,omitempty"`
	RemoteID   string `json:"remote_id,omitempty"`
}

type ProgressResponse struct {
	Step            string `json:"step"`
	ProgressPercent int    `json:"progress_percent"`
}

func submitPublish(t *testing.T, req SubmitRequest) SubmitResponse {
	t.Helper()

	body, _ := json.Marshal(req)
	resp, err := http.Post(baseURL+"/publish", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("submitting publish: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var out SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return out
}

func testRequest(postID string) SubmitRequest {
	return SubmitRequest{
		Platform:       "instagram",
		AccountID:      accountID,
		TokenID:        tokenID,
		MediaRef:       imageURL,
		Caption:        "e2e publish",
		Hashtags:       []string{"test"},
		PostID:         postID,
		CreatorID:      "e2e",
		IdempotencyKey: uuid.New().String(),
	}
}

func TestPublishSubmit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	out := submitPublish(t, testRequest(uuid.New().String()))
	if out.Key == "" {
		t.Fatal("expected a workflow key")
	}
	if out.Attached {
		t.Fatal("fresh post id must start a new workflow")
	}
}

func TestPublishSubmitAttaches(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	// Schedule far out so the first run is still suspended when the second
	// submit arrives.
	scheduleAt := time.Now().Add(time.Hour).Format(time.RFC3339)
	req := testRequest(uuid.New().String())
	req.ScheduleAt = &scheduleAt

	first := submitPublish(t, req)
	second := submitPublish(t, req)

	if second.Key != first.Key {
		t.Fatalf("expected same key, got %s and %s", first.Key, second.Key)
	}
	if !second.Attached {
		t.Fatal("second submit with the same key must attach")
	}
}

func TestPublishStateAndProgress(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	scheduleAt := time.Now().Add(time.Hour).Format(time.RFC3339)
	req := testRequest(uuid.New().String())
	req.ScheduleAt = &scheduleAt
	out := submitPublish(t, req)

	resp, err := http.Get(fmt.Sprintf("%s/publish/%s/state", baseURL, out.Key))
	if err != nil {
		t.Fatalf("getting state: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var state WorkflowState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	if state.Key != out.Key {
		t.Fatalf("state key mismatch: %s", state.Key)
	}

	resp, err = http.Get(fmt.Sprintf("%s/publish/%s/progress", baseURL, out.Key))
	if err != nil {
		t.Fatalf("getting progress: %v", err)
	}
	defer resp.Body.Close()
	var progress ProgressResponse
	if err := json.NewDecoder(resp.Body).Decode(&progress); err != nil {
		t.Fatalf("decoding progress: %v", err)
	}
	if progress.ProgressPercent < 0 || progress.ProgressPercent > 100 {
		t.Fatalf("progress out of range: %d", progress.ProgressPercent)
	}
}

func TestPublishCancelScheduled(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	scheduleAt := time.Now().Add(time.Hour).Format(time.RFC3339)
	req := testRequest(uuid.New().String())
	req.ScheduleAt = &scheduleAt
	out := submitPublish(t, req)

	body, _ := json.Marshal(map[string]string{"reason": "e2e cancel"})
	resp, err := http.Post(fmt.Sprintf("%s/publish/%s/cancel", baseURL, out.Key),
		"application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("cancelling: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	// Cancel is cooperative, give the run a moment to observe it.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		stateResp, err := http.Get(fmt.Sprintf("%s/publish/%s/state", baseURL, out.Key))
		if err != nil {
			t.Fatalf("getting state: %v", err)
		}
		var state WorkflowState
		json.NewDecoder(stateResp.Body).Decode(&state)
		stateResp.Body.Close()
		if state.Step == "cancelled" {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatal("workflow never reached cancelled")
}

func TestPublishUnknownKey(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	resp, err := http.Get(baseURL + "/publish/instagram:nope:nope/state")
	if err != nil {
		t.Fatalf("getting state: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestWebhookIngestUnknownMapping(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	body, _ := json.Marshal(map[string]interface{}{
		"event_id":   uuid.New().String(),
		"event_type": "video.publish.complete",
		"payload":    map[string]string{"post_id": "never-published"},
	})
	resp, err := http.Post(baseURL+"/webhooks/tiktok", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("posting webhook: %v", err)
	}
	defer resp.Body.Close()

	// Correlation misses are dropped, not errors.
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
