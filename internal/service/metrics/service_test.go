package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/splax/streamhealth/internal/domain"
	"github.com/splax/streamhealth/internal/repository"
)

type stubSessionRepo struct {
	mu        sync.Mutex
	sessions  map[string]domain.Session
	updates   []domain.SessionUpdate
	getErr    error
	updateErr error
}

func newStubSessionRepo(sessions ...domain.Session) *stubSessionRepo {
	repo := &stubSessionRepo{sessions: make(map[string]domain.Session)}
	for _, s := range sessions {
		repo.sessions[s.ChannelID+"/"+s.SessionID] = s
	}
	return repo
}

func (r *stubSessionRepo) GetSession(_ context.Context, channelID, sessionID string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	s, ok := r.sessions[channelID+"/"+sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := s
	clone.MetricsCache = make(map[string]json.RawMessage, len(s.MetricsCache))
	for k, v := range s.MetricsCache {
		clone.MetricsCache[k] = v
	}
	return &clone, nil
}

func (r *stubSessionRepo) UpdateSessionAttributes(_ context.Context, channelID, sessionID string, update domain.SessionUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
	if r.updateErr != nil {
		return r.updateErr
	}
	key := channelID + "/" + sessionID
	s, ok := r.sessions[key]
	if !ok {
		return repository.ErrNotFound
	}
	if s.MetricsCache == nil {
		s.MetricsCache = make(map[string]json.RawMessage)
	}
	for k, v := range update.MetricsCache {
		if _, exists := s.MetricsCache[k]; !exists {
			s.MetricsCache[k] = v
		}
	}
	if update.IngestConfiguration != nil {
		cfg := *update.IngestConfiguration
		s.IngestConfiguration = &cfg
	}
	if update.TruncatedEvents != nil {
		s.TruncatedEvents = update.TruncatedEvents
	}
	r.sessions[key] = s
	return nil
}

func (r *stubSessionRepo) setEndTime(channelID, sessionID string, end time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := channelID + "/" + sessionID
	s := r.sessions[key]
	s.EndTime = &end
	r.sessions[key] = s
}

func (r *stubSessionRepo) updatesSnapshot() []domain.SessionUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.SessionUpdate(nil), r.updates...)
}

type stubProvider struct {
	mu      sync.Mutex
	calls   int
	windows [][2]time.Time
	respond func(queries []MetricQuery, start, end time.Time) []QueryResult
	err     error
}

func (p *stubProvider) QueryMetrics(_ context.Context, queries []MetricQuery, start, end time.Time) ([]QueryResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.windows = append(p.windows, [2]time.Time{start, end})
	if p.err != nil {
		return nil, p.err
	}
	if p.respond == nil {
		return nil, nil
	}
	return p.respond(queries, start, end), nil
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type stubChannelService struct {
	mu      sync.Mutex
	calls   int
	details *domain.StreamSessionDetails
	err     error
}

func (c *stubChannelService) GetStreamSession(context.Context, string, string) (*domain.StreamSessionDetails, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.details, c.err
}

// framerateSeries answers with a filled framerate series of n points.
func framerateSeries(n int) func([]MetricQuery, time.Time, time.Time) []QueryResult {
	return func(queries []MetricQuery, start, _ time.Time) []QueryResult {
		period := queries[0].Period.Duration()
		ts := make([]time.Time, n)
		values := make([]float64, n)
		for i := 0; i < n; i++ {
			ts[i] = start.Add(time.Duration(i) * period)
			values[i] = 30
		}
		return []QueryResult{
			{ID: queryID("IngestFramerate", QueryFilled), Label: "IngestFramerateFilled", Timestamps: ts, Values: values},
			{ID: queryID("IngestFramerate", QueryAverage), Label: "IngestFramerateAvg", Timestamps: ts[:1], Values: []float64{30}},
			{ID: queryID("IngestFramerate", QueryMaximum), Label: "IngestFramerateMax", Timestamps: ts[:1], Values: []float64{30}},
		}
	}
}

var testNow = time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC)

func newTestService(repo repository.SessionRepository, provider Provider, channels ChannelService) *Service {
	return New(repo, provider, channels, nil, Options{Clock: clockwork.NewFakeClockAt(testNow)})
}

func TestResolveSessionMetricsLiveSession(t *testing.T) {
	start := testNow.Add(-5 * time.Minute)
	repo := newStubSessionRepo(domain.Session{ChannelID: "chan-1", SessionID: "sess-1", StartTime: &start})
	provider := &stubProvider{respond: framerateSeries(56)}
	svc := newTestService(repo, provider, nil)

	result, err := svc.ResolveSessionMetrics(context.Background(), "chan-1", "sess-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !result.Live {
		t.Fatalf("expected session to be live")
	}
	if result.Period != domain.Period5s {
		t.Fatalf("expected 5 second period, got %d", result.Period)
	}
	if !result.AlignedStartTime.Equal(start) || !result.AlignedEndTime.Equal(testNow) {
		t.Fatalf("unexpected window %s - %s", result.AlignedStartTime, result.AlignedEndTime)
	}
	if len(result.Metrics) != 1 {
		t.Fatalf("expected 1 metric, got %d", len(result.Metrics))
	}
	metric := result.Metrics[0]
	if metric.Label != "IngestFramerate" || len(metric.Data) != 56 {
		t.Fatalf("expected 56 IngestFramerate points, got %s with %d", metric.Label, len(metric.Data))
	}
	if len(repo.updatesSnapshot()) != 0 {
		t.Fatalf("expected live sessions not to be cached")
	}
}

func TestResolveSessionMetricsLiveSessionNeverHitsCache(t *testing.T) {
	start := testNow.Add(-5 * time.Minute)
	key := CacheKey(domain.Period5s, start, testNow)
	stale, err := encodeMetrics([]domain.FormattedMetric{{Label: "Stale", Data: []domain.DataPoint{}}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	repo := newStubSessionRepo(domain.Session{
		ChannelID:    "chan-1",
		SessionID:    "sess-1",
		StartTime:    &start,
		MetricsCache: map[string]json.RawMessage{key: stale},
	})
	provider := &stubProvider{respond: framerateSeries(3)}
	svc := newTestService(repo, provider, nil)

	for i := 0; i < 2; i++ {
		result, err := svc.ResolveSessionMetrics(context.Background(), "chan-1", "sess-1")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if result.Cached || result.Metrics[0].Label == "Stale" {
			t.Fatalf("expected live session to bypass the cache")
		}
	}
	if provider.callCount() != 2 {
		t.Fatalf("expected 2 provider calls, got %d", provider.callCount())
	}
}

func TestResolveSessionMetricsLiveLookbackClipsWindow(t *testing.T) {
	start := testNow.Add(-48 * time.Hour)
	repo := newStubSessionRepo(domain.Session{ChannelID: "chan-1", SessionID: "sess-1", StartTime: &start})
	provider := &stubProvider{}
	svc := New(repo, provider, nil, nil, Options{Clock: clockwork.NewFakeClockAt(testNow), LiveLookback: time.Hour})

	result, err := svc.ResolveSessionMetrics(context.Background(), "chan-1", "sess-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Period != domain.Period5s {
		t.Fatalf("expected the clipped window to use 5 second periods, got %d", result.Period)
	}
	if want := testNow.Add(-time.Hour); !result.AlignedStartTime.Equal(want) {
		t.Fatalf("expected window to start at %s, got %s", want, result.AlignedStartTime)
	}
	if !result.StartTime.Equal(start) {
		t.Fatalf("expected the reported start time to stay unclipped")
	}
}

func TestResolveSessionMetricsCachesCompletedSession(t *testing.T) {
	start := testNow.Add(-5 * time.Minute)
	repo := newStubSessionRepo(domain.Session{ChannelID: "chan-1", SessionID: "sess-1", StartTime: &start})
	provider := &stubProvider{respond: framerateSeries(2)}
	svc := newTestService(repo, provider, nil)

	if _, err := svc.ResolveSessionMetrics(context.Background(), "chan-1", "sess-1"); err != nil {
		t.Fatalf("resolve live: %v", err)
	}
	repo.setEndTime("chan-1", "sess-1", start.Add(5*time.Second))

	first, err := svc.ResolveSessionMetrics(context.Background(), "chan-1", "sess-1")
	if err != nil {
		t.Fatalf("resolve completed: %v", err)
	}
	if first.Live || first.Cached {
		t.Fatalf("expected a fresh result for the completed session")
	}
	if first.Period != domain.Period5s {
		t.Fatalf("expected 5 second period, got %d", first.Period)
	}
	if updates := repo.updatesSnapshot(); len(updates) != 1 || len(updates[0].MetricsCache) != 1 {
		t.Fatalf("expected exactly one cache write, got %+v", updates)
	}

	second, err := svc.ResolveSessionMetrics(context.Background(), "chan-1", "sess-1")
	if err != nil {
		t.Fatalf("resolve cached: %v", err)
	}
	if !second.Cached {
		t.Fatalf("expected cached result on second call")
	}
	if provider.callCount() != 2 {
		t.Fatalf("expected no provider call for the cached window, got %d calls", provider.callCount())
	}
	firstJSON, _ := json.Marshal(first.Metrics)
	secondJSON, _ := json.Marshal(second.Metrics)
	if !bytes.Equal(firstJSON, secondJSON) {
		t.Fatalf("cached metrics differ:\n%s\n%s", firstJSON, secondJSON)
	}
}

func TestResolveSessionMetricsCacheWriteFailureIsNotFatal(t *testing.T) {
	start := testNow.Add(-time.Hour)
	end := testNow.Add(-30 * time.Minute)
	repo := newStubSessionRepo(domain.Session{ChannelID: "chan-1", SessionID: "sess-1", StartTime: &start, EndTime: &end})
	repo.updateErr = errors.New("conditional check failed")
	provider := &stubProvider{respond: framerateSeries(4)}
	svc := newTestService(repo, provider, nil)

	result, err := svc.ResolveSessionMetrics(context.Background(), "chan-1", "sess-1")
	if err != nil {
		t.Fatalf("expected cache write failure to be swallowed, got %v", err)
	}
	if len(result.Metrics) != 1 || len(result.Metrics[0].Data) != 4 {
		t.Fatalf("expected computed metrics to be returned, got %+v", result.Metrics)
	}
	if len(repo.updatesSnapshot()) != 1 {
		t.Fatalf("expected a single write attempt")
	}
}

func TestResolveSessionMetricsEmptyProviderResponse(t *testing.T) {
	start := testNow.Add(-time.Hour)
	end := testNow.Add(-30 * time.Minute)
	repo := newStubSessionRepo(domain.Session{ChannelID: "chan-1", SessionID: "sess-1", StartTime: &start, EndTime: &end})
	svc := newTestService(repo, &stubProvider{}, nil)

	result, err := svc.ResolveSessionMetrics(context.Background(), "chan-1", "sess-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Metrics == nil || len(result.Metrics) != 0 {
		t.Fatalf("expected an empty metrics list, got %v", result.Metrics)
	}
}

func TestResolveSessionMetricsErrors(t *testing.T) {
	start := testNow.Add(-time.Hour)
	cases := []struct {
		name     string
		repo     *stubSessionRepo
		provider *stubProvider
		channel  string
		want     error
	}{
		{
			name:     "missing session",
			repo:     newStubSessionRepo(),
			provider: &stubProvider{},
			channel:  "chan-1",
			want:     ErrSessionNotFound,
		},
		{
			name:     "blank identifiers",
			repo:     newStubSessionRepo(),
			provider: &stubProvider{},
			channel:  " ",
			want:     ErrSessionNotFound,
		},
		{
			name:     "missing start time",
			repo:     newStubSessionRepo(domain.Session{ChannelID: "chan-1", SessionID: "sess-1"}),
			provider: &stubProvider{},
			channel:  "chan-1",
			want:     ErrInvalidSessionState,
		},
		{
			name:     "provider outage",
			repo:     newStubSessionRepo(domain.Session{ChannelID: "chan-1", SessionID: "sess-1", StartTime: &start}),
			provider: &stubProvider{err: errors.New("throttled")},
			channel:  "chan-1",
			want:     ErrProviderFailure,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestService(tc.repo, tc.provider, nil)
			result, err := svc.ResolveSessionMetrics(context.Background(), tc.channel, "sess-1")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if !errors.Is(err, ErrMetricsUnavailable) {
				t.Fatalf("expected error to wrap ErrMetricsUnavailable, got %v", err)
			}
			if result != nil {
				t.Fatalf("expected no partial result, got %+v", result)
			}
		})
	}
}

func TestResolveSessionMetricsStoreFailureKeepsCause(t *testing.T) {
	repo := newStubSessionRepo()
	repo.getErr = errors.New("connection reset")
	svc := newTestService(repo, &stubProvider{}, nil)
	_, err := svc.ResolveSessionMetrics(context.Background(), "chan-1", "sess-1")
	if !errors.Is(err, ErrSessionNotFound) || !errors.Is(err, repo.getErr) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func completeIngestConfiguration() *domain.IngestConfiguration {
	return &domain.IngestConfiguration{
		Audio: domain.AudioConfiguration{Channels: 2, Codec: "mp4a.40.2", SampleRate: 48000, TargetBitrate: 160000},
		Video: domain.VideoConfiguration{
			AvcLevel:        "4.1",
			AvcProfile:      "Main",
			Codec:           "avc1.4D4029",
			Encoder:         "obs-output module (libobs version 30.0.0)",
			TargetBitrate:   6000000,
			TargetFramerate: 60,
			VideoHeight:     1080,
			VideoWidth:      1920,
		},
	}
}

func TestResolveSessionMetricsResolvesIngestConfiguration(t *testing.T) {
	start := testNow.Add(-time.Minute)
	repo := newStubSessionRepo(domain.Session{ChannelID: "chan-1", ChannelARN: "arn:aws:ivs:us-west-2:123:channel/chan-1", SessionID: "sess-1", StartTime: &start})
	events := []domain.StreamEvent{{Name: "Stream Start", Type: "IVS Stream State Change", EventTime: start}}
	channels := &stubChannelService{details: &domain.StreamSessionDetails{IngestConfiguration: completeIngestConfiguration(), TruncatedEvents: events}}
	svc := newTestService(repo, &stubProvider{}, channels)

	result, err := svc.ResolveSessionMetrics(context.Background(), "chan-1", "sess-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.IngestConfiguration == nil || result.IngestConfiguration.Video.VideoWidth != 1920 {
		t.Fatalf("expected resolved ingest configuration, got %+v", result.IngestConfiguration)
	}
	if len(result.TruncatedEvents) != 1 {
		t.Fatalf("expected truncated events to be attached, got %v", result.TruncatedEvents)
	}
	updates := repo.updatesSnapshot()
	if len(updates) != 1 || updates[0].IngestConfiguration == nil {
		t.Fatalf("expected the configuration to be persisted, got %+v", updates)
	}

	if _, err := svc.ResolveSessionMetrics(context.Background(), "chan-1", "sess-1"); err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if channels.calls != 1 {
		t.Fatalf("expected persisted configuration to be reused, got %d lookups", channels.calls)
	}
}

func TestResolveSessionMetricsIgnoresIncompleteIngestConfiguration(t *testing.T) {
	start := testNow.Add(-time.Minute)
	partial := completeIngestConfiguration()
	partial.Audio.Codec = ""
	repo := newStubSessionRepo(domain.Session{ChannelID: "chan-1", ChannelARN: "arn:channel/chan-1", SessionID: "sess-1", StartTime: &start})
	svc := newTestService(repo, &stubProvider{}, &stubChannelService{details: &domain.StreamSessionDetails{IngestConfiguration: partial}})

	result, err := svc.ResolveSessionMetrics(context.Background(), "chan-1", "sess-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.IngestConfiguration != nil {
		t.Fatalf("expected partial configuration to be withheld")
	}
	if len(repo.updatesSnapshot()) != 0 {
		t.Fatalf("expected partial configuration not to be persisted")
	}
}

func TestResolveSessionMetricsIngestLookupFailureIsNotFatal(t *testing.T) {
	start := testNow.Add(-time.Minute)
	repo := newStubSessionRepo(domain.Session{ChannelID: "chan-1", ChannelARN: "arn:channel/chan-1", SessionID: "sess-1", StartTime: &start})
	provider := &stubProvider{respond: framerateSeries(5)}
	svc := newTestService(repo, provider, &stubChannelService{err: errors.New("resource not found")})

	result, err := svc.ResolveSessionMetrics(context.Background(), "chan-1", "sess-1")
	if err != nil {
		t.Fatalf("expected lookup failure to be absorbed, got %v", err)
	}
	if result.IngestConfiguration != nil || len(result.Metrics) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
}
