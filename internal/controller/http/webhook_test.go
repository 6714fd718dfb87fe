package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/sevendev/crosspost/internal/domain/webhook/entity"
)

type stubCorrelator struct {
	err  error
	seen *entity.Event
}

func (s *stubCorrelator) Handle(_ context.Context, event *entity.Event) error {
	s.seen = event
	return s.err
}

func postWebhook(t *testing.T, correlator *stubCorrelator, provider, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	NewWebhookHandler(correlator).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+provider, strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestWebhookAcceptedDelivery(t *testing.T) {
	correlator := &stubCorrelator{}
	rec := postWebhook(t, correlator, "tiktok",
		`{"event_id":"evt-1","event_type":"video.publish.complete","platform_id":"rm-1","payload":{}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "accepted")
	require.NotNil(t, correlator.seen)
	require.Equal(t, entity.ProviderTikTok, correlator.seen.Provider)
	require.Equal(t, "evt-1", correlator.seen.EventID)
}

func TestWebhookMalformedBodyIsBadRequest(t *testing.T) {
	rec := postWebhook(t, &stubCorrelator{}, "tiktok", `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookUnknownProviderIsAcknowledged(t *testing.T) {
	// A 4xx would make the provider redeliver forever; well-formed but
	// unroutable deliveries are acknowledged and dropped.
	correlator := &stubCorrelator{err: entity.ErrUnknownProvider}
	rec := postWebhook(t, correlator, "youtube",
		`{"event_id":"evt-1","event_type":"upload.complete","payload":{}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ignored")
}

func TestWebhookEmptyEventIDIsAcknowledged(t *testing.T) {
	correlator := &stubCorrelator{err: entity.ErrEmptyEventID}
	rec := postWebhook(t, correlator, "meta", `{"event_type":"comments","payload":{}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ignored")
}

func TestWebhookProcessingFailureIsServerError(t *testing.T) {
	correlator := &stubCorrelator{err: context.DeadlineExceeded}
	rec := postWebhook(t, correlator, "tiktok",
		`{"event_id":"evt-1","event_type":"video.publish.complete","payload":{}}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
