package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/streamhealth/internal/domain"
	"github.com/splax/streamhealth/internal/repository"
)

const defaultLiveLookback = 3 * time.Hour

// ErrMetricsUnavailable is the caller-visible failure of a metrics request.
// Every error returned by ResolveSessionMetrics wraps it.
var ErrMetricsUnavailable = errors.New("could not compute session metrics")

var (
	// ErrSessionNotFound reports a session that is missing or could not be loaded.
	ErrSessionNotFound = fmt.Errorf("%w: session not found", ErrMetricsUnavailable)
	// ErrInvalidSessionState reports a session record without a start time.
	ErrInvalidSessionState = fmt.Errorf("%w: session has no start time", ErrMetricsUnavailable)
	// ErrProviderFailure reports a failed metrics provider call.
	ErrProviderFailure = fmt.Errorf("%w: metrics provider failed", ErrMetricsUnavailable)
)

// Provider runs a batch of metric queries over a window in a single call.
type Provider interface {
	QueryMetrics(ctx context.Context, queries []MetricQuery, start, end time.Time) ([]QueryResult, error)
}

// ChannelService looks up a session as seen by the video channel service.
type ChannelService interface {
	GetStreamSession(ctx context.Context, channelARN, sessionID string) (*domain.StreamSessionDetails, error)
}

// Options tunes a Service. Zero values select defaults.
type Options struct {
	// LiveLookback bounds how far back a live session window reaches.
	LiveLookback time.Duration
	Metrics      []TrackedMetric
	Clock        clockwork.Clock
	Registerer   prometheus.Registerer
}

// Service resolves stream health metrics for sessions.
type Service struct {
	sessions     repository.SessionRepository
	provider     Provider
	channels     ChannelService
	logger       *slog.Logger
	clock        clockwork.Clock
	liveLookback time.Duration
	tracked      []TrackedMetric
	metrics      *instrumentation
}

// New constructs a Service. channels may be nil, in which case ingest
// configurations are only served from the session record.
func New(sessions repository.SessionRepository, provider Provider, channels ChannelService, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	lookback := opts.LiveLookback
	if lookback <= 0 {
		lookback = defaultLiveLookback
	}
	tracked := opts.Metrics
	if len(tracked) == 0 {
		tracked = DefaultTrackedMetrics
	}
	return &Service{
		sessions:     sessions,
		provider:     provider,
		channels:     channels,
		logger:       logger.With("component", "session_metrics"),
		clock:        clock,
		liveLookback: lookback,
		tracked:      append([]TrackedMetric(nil), tracked...),
		metrics:      newInstrumentation(opts.Registerer),
	}
}

// ResolveSessionMetrics computes the health metrics of a session.
//
// Completed sessions are served from the session's metrics cache when the
// same aligned window was computed before; fresh results for completed
// sessions are written back on a best-effort basis. Live sessions are always
// recomputed.
func (s *Service) ResolveSessionMetrics(ctx context.Context, channelID, sessionID string) (*domain.SessionMetrics, error) {
	channelID = strings.TrimSpace(channelID)
	sessionID = strings.TrimSpace(sessionID)
	log := s.logger.With("channel_id", channelID, "session_id", sessionID)
	if channelID == "" || sessionID == "" {
		return nil, fmt.Errorf("%w: channel and session id required", ErrSessionNotFound)
	}

	session, err := s.sessions.GetSession(ctx, channelID, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Warn("session not found")
		} else {
			log.Error("failed to load session", "error", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrSessionNotFound, err)
	}
	if session == nil {
		log.Warn("session not found")
		return nil, ErrSessionNotFound
	}
	if session.StartTime == nil || session.StartTime.IsZero() {
		log.Error("session has no start time")
		return nil, ErrInvalidSessionState
	}

	now := s.clock.Now().UTC()
	live := session.IsLive()
	window := s.queryWindow(*session, now)
	result := &domain.SessionMetrics{
		ChannelID:        channelID,
		SessionID:        sessionID,
		StartTime:        session.StartTime,
		EndTime:          session.EndTime,
		Live:             live,
		Period:           window.Period,
		AlignedStartTime: window.Start,
		AlignedEndTime:   window.End,
	}
	key := CacheKey(window.Period, window.Start, window.End)

	if live {
		s.metrics.cacheLookup("bypass")
	} else if cached, ok := s.lookupCache(log, session, key); ok {
		result.Metrics = cached
		result.Cached = true
		s.attachIngestConfiguration(ctx, log, session, result)
		return result, nil
	}

	queries := ComposeQueries(channelID, window.Period, s.tracked)
	started := s.clock.Now()
	results, err := s.provider.QueryMetrics(ctx, queries, window.Start, window.End)
	if err != nil {
		s.metrics.providerQuery("error", s.clock.Since(started))
		log.Error("metrics provider query failed", "error", err, "period", int(window.Period))
		return nil, fmt.Errorf("%w: %w", ErrProviderFailure, err)
	}
	s.metrics.providerQuery("ok", s.clock.Since(started))

	result.Metrics = FormatResults(queries, results, window.Start, window.Period)
	if !live {
		s.storeCache(ctx, log, channelID, sessionID, key, result.Metrics)
	}
	s.attachIngestConfiguration(ctx, log, session, result)
	return result, nil
}

// queryWindow derives the aligned window of a session. Live windows end now
// and start no earlier than the live lookback.
func (s *Service) queryWindow(session domain.Session, now time.Time) Window {
	start := session.StartTime.UTC()
	end := now
	if session.IsLive() {
		if cutoff := now.Add(-s.liveLookback); start.Before(cutoff) {
			start = cutoff
		}
	} else {
		end = session.EndTime.UTC()
	}
	return AlignWindow(start, end, now)
}

func (s *Service) lookupCache(log *slog.Logger, session *domain.Session, key string) ([]domain.FormattedMetric, bool) {
	raw, ok := session.MetricsCache[key]
	if !ok || len(raw) == 0 {
		s.metrics.cacheLookup("miss")
		return nil, false
	}
	cached, err := decodeMetrics(raw)
	if err != nil {
		s.metrics.cacheLookup("corrupt")
		log.Warn("discarding unreadable metrics cache entry", "cache_key", key, "error", err)
		return nil, false
	}
	s.metrics.cacheLookup("hit")
	return cached, true
}

// storeCache makes a single attempt to persist formatted metrics. Failures
// are logged and never reach the caller.
func (s *Service) storeCache(ctx context.Context, log *slog.Logger, channelID, sessionID, key string, metrics []domain.FormattedMetric) {
	raw, err := encodeMetrics(metrics)
	if err != nil {
		s.metrics.cacheWrite("error")
		log.Warn("failed to encode metrics cache entry", "cache_key", key, "error", err)
		return
	}
	update := domain.SessionUpdate{MetricsCache: map[string]json.RawMessage{key: raw}}
	if err := s.sessions.UpdateSessionAttributes(ctx, channelID, sessionID, update); err != nil {
		s.metrics.cacheWrite("error")
		log.Warn("failed to persist metrics cache entry", "cache_key", key, "error", err)
		return
	}
	s.metrics.cacheWrite("ok")
}
