package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	pubdao "github.com/sevendev/crosspost/internal/domain/publish/dao"
	pubentity "github.com/sevendev/crosspost/internal/domain/publish/entity"
	"github.com/sevendev/crosspost/internal/domain/webhook/entity"
	"github.com/sevendev/crosspost/internal/workflow"
)

type memEventRepo struct {
	events map[string]*entity.Event // by id
	seen   map[string]bool          // provider:eventID dedup
}

func newMemEventRepo() *memEventRepo {
	return &memEventRepo{events: make(map[string]*entity.Event), seen: make(map[string]bool)}
}

func (m *memEventRepo) Insert(_ context.Context, event *entity.Event) error {
	dedup := string(event.Provider) + ":" + event.EventID
	if m.seen[dedup] {
		return entity.ErrDuplicateEvent
	}
	m.seen[dedup] = true
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	event.Status = entity.StatusReceived
	clone := *event
	m.events[event.ID] = &clone
	return nil
}

func (m *memEventRepo) UpdateStatus(_ context.Context, id string, status entity.Status, attempts int, lastError string, nextAttemptAt *time.Time) error {
	ev, ok := m.events[id]
	if !ok {
		return fmt.Errorf("no event %s", id)
	}
	ev.Status = status
	ev.Attempts = attempts
	ev.LastError = lastError
	ev.NextAttemptAt = nextAttemptAt
	return nil
}

func (m *memEventRepo) ListDue(_ context.Context, now time.Time, limit int) ([]entity.Event, error) {
	var due []entity.Event
	for _, ev := range m.events {
		if ev.Status == entity.StatusProcessing && ev.NextAttemptAt != nil && !ev.NextAttemptAt.After(now) {
			due = append(due, *ev)
			if len(due) == limit {
				break
			}
		}
	}
	return due, nil
}

func (m *memEventRepo) byEventID(eventID string) *entity.Event {
	for _, ev := range m.events {
		if ev.EventID == eventID {
			return ev
		}
	}
	return nil
}

type memResolver struct {
	mappings map[string]pubdao.RemotePost // platform:remoteID
	err      error
}

func (m *memResolver) Resolve(_ context.Context, platform pubentity.Platform, remoteID string) (pubdao.RemotePost, bool, error) {
	if m.err != nil {
		return pubdao.RemotePost{}, false, m.err
	}
	post, ok := m.mappings[string(platform)+":"+remoteID]
	return post, ok, nil
}

type sentSignal struct {
	Key    string
	Signal workflow.Signal
}

type memSignaler struct{ sent []sentSignal }

func (m *memSignaler) Signal(key string, s workflow.Signal) {
	m.sent = append(m.sent, sentSignal{Key: key, Signal: s})
}

type recordedStatus struct {
	PostID   string
	Status   pubentity.PostStatus
	ErrMsg   string
	Metadata pubentity.Metadata
}

type memStatuses struct {
	writes []recordedStatus
	err    error
}

func (m *memStatuses) UpdatePostStatus(_ context.Context, postID string, status pubentity.PostStatus, _ int, errMsg string, metadata pubentity.Metadata) error {
	if m.err != nil {
		return m.err
	}
	m.writes = append(m.writes, recordedStatus{PostID: postID, Status: status, ErrMsg: errMsg, Metadata: metadata})
	return nil
}

type correlatorEnv struct {
	corr     *Correlator
	repo     *memEventRepo
	resolver *memResolver
	signaler *memSignaler
	statuses *memStatuses
}

func newCorrelatorEnv(cfg Config) *correlatorEnv {
	e := &correlatorEnv{
		repo:     newMemEventRepo(),
		resolver: &memResolver{mappings: make(map[string]pubdao.RemotePost)},
		signaler: &memSignaler{},
		statuses: &memStatuses{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e.corr = NewCorrelator(e.repo, e.resolver, e.signaler, e.statuses, nil, cfg, logger)
	return e
}

func (e *correlatorEnv) mapPost(platform pubentity.Platform, remoteID, postID, key string) {
	e.resolver.mappings[string(platform)+":"+remoteID] = pubdao.RemotePost{PostID: postID, WorkflowKey: key}
}

func tiktokEvent(eventType, platformID string, payload string) *entity.Event {
	return &entity.Event{
		Provider:   entity.ProviderTikTok,
		EventID:    "evt-" + uuid.New().String(),
		EventType:  eventType,
		PlatformID: platformID,
		Payload:    []byte(payload),
	}
}

func TestHandleRejectsUnknownProvider(t *testing.T) {
	e := newCorrelatorEnv(Config{})
	err := e.corr.Handle(context.Background(), &entity.Event{Provider: "youtube", EventID: "evt-1"})
	require.ErrorIs(t, err, entity.ErrUnknownProvider)
}

func TestHandleRejectsEmptyEventID(t *testing.T) {
	e := newCorrelatorEnv(Config{})
	err := e.corr.Handle(context.Background(), &entity.Event{Provider: entity.ProviderTikTok})
	require.ErrorIs(t, err, entity.ErrEmptyEventID)
}

func TestDuplicateDeliveryIsAcknowledgedOnce(t *testing.T) {
	e := newCorrelatorEnv(Config{})
	e.mapPost(pubentity.PlatformTikTok, "rm-1", "post-1", "tiktok:acc:post-1")

	ev := tiktokEvent("video.publish.complete", "rm-1", `{}`)
	require.NoError(t, e.corr.Handle(context.Background(), ev))

	dup := *ev
	dup.ID = ""
	require.NoError(t, e.corr.Handle(context.Background(), &dup))

	require.Len(t, e.signaler.sent, 1, "duplicate delivery must not signal twice")
}

func TestTikTokCompleteSignalsAck(t *testing.T) {
	e := newCorrelatorEnv(Config{})
	e.mapPost(pubentity.PlatformTikTok, "rm-1", "post-1", "tiktok:acc:post-1")

	ev := tiktokEvent("video.publish.complete", "rm-1", `{}`)
	require.NoError(t, e.corr.Handle(context.Background(), ev))

	require.Len(t, e.signaler.sent, 1)
	sent := e.signaler.sent[0]
	require.Equal(t, "tiktok:acc:post-1", sent.Key)
	require.Equal(t, workflow.SignalAck, sent.Signal.Kind)
	require.NotNil(t, sent.Signal.Metrics)
	require.Equal(t, "webhook", sent.Signal.Metrics.Source)

	stored := e.repo.byEventID(ev.EventID)
	require.NotNil(t, stored)
	require.Equal(t, entity.StatusCompleted, stored.Status)
}

func TestTikTokCompleteResolvesIDFromPayload(t *testing.T) {
	e := newCorrelatorEnv(Config{})
	e.mapPost(pubentity.PlatformTikTok, "rm-9", "post-9", "tiktok:acc:post-9")

	ev := tiktokEvent("video.publish.complete", "", `{"publish_id":"rm-9"}`)
	require.NoError(t, e.corr.Handle(context.Background(), ev))
	require.Len(t, e.signaler.sent, 1)
	require.Equal(t, "tiktok:acc:post-9", e.signaler.sent[0].Key)
}

func TestTikTokFailedMarksPostFailed(t *testing.T) {
	e := newCorrelatorEnv(Config{})
	e.mapPost(pubentity.PlatformTikTok, "rm-1", "post-1", "tiktok:acc:post-1")

	ev := tiktokEvent("video.publish.failed", "rm-1", `{"reason":"spam detected"}`)
	require.NoError(t, e.corr.Handle(context.Background(), ev))

	require.Empty(t, e.signaler.sent)
	require.Len(t, e.statuses.writes, 1)
	w := e.statuses.writes[0]
	require.Equal(t, "post-1", w.PostID)
	require.Equal(t, pubentity.PostStatusFailed, w.Status)
	require.Equal(t, "spam detected", w.ErrMsg)
	em, ok := w.Metadata.(pubentity.ErrorMetadata)
	require.True(t, ok)
	require.Equal(t, "content_policy", em.Reason)
}

func TestTikTokModerationUpdateNormalizesDecision(t *testing.T) {
	cases := []struct {
		status   string
		decision string
	}{
		{"approved", "approved"},
		{"visible", "approved"},
		{"rejected", "rejected"},
		{"removed", "rejected"},
		{"limited_visibility", "restricted"},
	}
	for _, tc := range cases {
		t.Run(tc.status, func(t *testing.T) {
			e := newCorrelatorEnv(Config{})
			e.mapPost(pubentity.PlatformTikTok, "rm-1", "post-1", "tiktok:acc:post-1")

			payload := fmt.Sprintf(`{"moderation_status":%q}`, tc.status)
			ev := tiktokEvent("video.moderation.update", "rm-1", payload)
			require.NoError(t, e.corr.Handle(context.Background(), ev))

			require.Len(t, e.statuses.writes, 1)
			w := e.statuses.writes[0]
			require.Equal(t, pubentity.PostStatusModerated, w.Status)
			mm, ok := w.Metadata.(pubentity.ModerationMetadata)
			require.True(t, ok)
			require.Equal(t, tc.decision, mm.Decision)
		})
	}
}

func TestUnmappedPlatformIDIsDropped(t *testing.T) {
	e := newCorrelatorEnv(Config{})

	ev := tiktokEvent("video.publish.complete", "rm-unknown", `{}`)
	require.NoError(t, e.corr.Handle(context.Background(), ev))

	require.Empty(t, e.signaler.sent)
	require.Empty(t, e.statuses.writes)
	require.Equal(t, entity.StatusCompleted, e.repo.byEventID(ev.EventID).Status)
}

func TestUnrecognizedEventTypeIsIgnored(t *testing.T) {
	e := newCorrelatorEnv(Config{})

	ev := tiktokEvent("video.something.new", "rm-1", `{}`)
	require.NoError(t, e.corr.Handle(context.Background(), ev))
	require.Equal(t, entity.StatusCompleted, e.repo.byEventID(ev.EventID).Status)
}

func TestMetaEngagementSignalsAck(t *testing.T) {
	e := newCorrelatorEnv(Config{})
	e.mapPost(pubentity.PlatformInstagram, "media-1", "post-1", "instagram:acc:post-1")

	for _, eventType := range []string{"comments", "mentions"} {
		ev := &entity.Event{
			Provider:  entity.ProviderMeta,
			EventID:   "evt-" + eventType,
			EventType: eventType,
			Payload:   []byte(`{"media_id":"media-1"}`),
		}
		require.NoError(t, e.corr.Handle(context.Background(), ev))
	}

	require.Len(t, e.signaler.sent, 2)
	for _, s := range e.signaler.sent {
		require.Equal(t, "instagram:acc:post-1", s.Key)
		require.Equal(t, workflow.SignalAck, s.Signal.Kind)
	}
}

func TestMetaMessagesAreLogOnly(t *testing.T) {
	e := newCorrelatorEnv(Config{})

	ev := &entity.Event{
		Provider:  entity.ProviderMeta,
		EventID:   "evt-msg",
		EventType: "messages",
		Payload:   []byte(`{"text":"hello"}`),
	}
	require.NoError(t, e.corr.Handle(context.Background(), ev))

	require.Empty(t, e.signaler.sent)
	require.Empty(t, e.statuses.writes)
	require.Equal(t, entity.StatusCompleted, e.repo.byEventID(ev.EventID).Status)
}

func TestHandlerFailureSchedulesBoundedRetry(t *testing.T) {
	e := newCorrelatorEnv(Config{MaxAttempts: 3, BaseBackoff: time.Second})
	e.resolver.err = fmt.Errorf("store unavailable")

	ev := tiktokEvent("video.publish.complete", "rm-1", `{}`)
	require.NoError(t, e.corr.Handle(context.Background(), ev))

	stored := e.repo.byEventID(ev.EventID)
	require.Equal(t, entity.StatusProcessing, stored.Status)
	require.Equal(t, 1, stored.Attempts)
	require.Contains(t, stored.LastError, "store unavailable")
	require.NotNil(t, stored.NextAttemptAt)
	require.True(t, stored.NextAttemptAt.After(time.Now()))
}

func TestRetryBackoffDoubles(t *testing.T) {
	e := newCorrelatorEnv(Config{MaxAttempts: 5, BaseBackoff: time.Second})
	e.resolver.err = fmt.Errorf("store unavailable")

	ev := tiktokEvent("video.publish.complete", "rm-1", `{}`)
	require.NoError(t, e.corr.Handle(context.Background(), ev))
	stored := e.repo.byEventID(ev.EventID)

	first := *stored.NextAttemptAt

	// Force the event due and run the cron entry point.
	past := time.Now().UTC().Add(-time.Minute)
	stored.NextAttemptAt = &past
	require.NoError(t, e.corr.ProcessDue(context.Background()))

	stored = e.repo.byEventID(ev.EventID)
	require.Equal(t, 2, stored.Attempts)
	second := stored.NextAttemptAt.Sub(time.Now().UTC())
	require.Greater(t, second, first.Sub(time.Now().UTC()), "backoff must grow between attempts")
}

func TestRetriesExhaustedMarksEventFailed(t *testing.T) {
	e := newCorrelatorEnv(Config{MaxAttempts: 2, BaseBackoff: time.Millisecond})
	e.resolver.err = fmt.Errorf("store unavailable")

	ev := tiktokEvent("video.publish.complete", "rm-1", `{}`)
	require.NoError(t, e.corr.Handle(context.Background(), ev))

	stored := e.repo.byEventID(ev.EventID)
	past := time.Now().UTC().Add(-time.Minute)
	stored.NextAttemptAt = &past
	require.NoError(t, e.corr.ProcessDue(context.Background()))

	stored = e.repo.byEventID(ev.EventID)
	require.Equal(t, entity.StatusFailed, stored.Status)
	require.Equal(t, 2, stored.Attempts)
	require.Nil(t, stored.NextAttemptAt)

	// A failed event is never picked up again.
	require.NoError(t, e.corr.ProcessDue(context.Background()))
	require.Equal(t, 2, e.repo.byEventID(ev.EventID).Attempts)
}

func TestMalformedPayloadRetriesNotDrops(t *testing.T) {
	e := newCorrelatorEnv(Config{MaxAttempts: 3, BaseBackoff: time.Second})

	ev := tiktokEvent("video.publish.complete", "rm-1", `{not json`)
	require.NoError(t, e.corr.Handle(context.Background(), ev))

	stored := e.repo.byEventID(ev.EventID)
	require.Equal(t, entity.StatusProcessing, stored.Status)
	require.Contains(t, stored.LastError, "decoding tiktok payload")
}
