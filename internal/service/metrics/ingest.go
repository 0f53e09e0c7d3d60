package metrics

import (
	"context"
	"log/slog"
	"strings"

	"github.com/splax/streamhealth/internal/domain"
)

func (s *Service) attachIngestConfiguration(ctx context.Context, log *slog.Logger, session *domain.Session, result *domain.SessionMetrics) {
	cfg, events := s.resolveIngestConfiguration(ctx, log, session, result.ChannelID, result.SessionID)
	result.IngestConfiguration = cfg
	result.TruncatedEvents = events
}

// resolveIngestConfiguration returns the ingest configuration of a session,
// fetching it from the channel service on first use. A configuration is only
// persisted once both the audio and the video descriptors are complete.
// Lookup failures leave the configuration unresolved.
func (s *Service) resolveIngestConfiguration(ctx context.Context, log *slog.Logger, session *domain.Session, channelID, sessionID string) (*domain.IngestConfiguration, []domain.StreamEvent) {
	if session.IngestConfiguration != nil {
		s.metrics.ingestLookup("stored")
		return session.IngestConfiguration, session.TruncatedEvents
	}
	channelARN := strings.TrimSpace(session.ChannelARN)
	if s.channels == nil || channelARN == "" {
		s.metrics.ingestLookup("skipped")
		return nil, session.TruncatedEvents
	}

	details, err := s.channels.GetStreamSession(ctx, channelARN, sessionID)
	if err != nil {
		s.metrics.ingestLookup("error")
		log.Warn("ingest configuration lookup failed", "channel_arn", channelARN, "error", err)
		return nil, session.TruncatedEvents
	}
	if details == nil || details.IngestConfiguration == nil || !details.IngestConfiguration.Complete() {
		s.metrics.ingestLookup("unavailable")
		return nil, session.TruncatedEvents
	}

	cfg := *details.IngestConfiguration
	update := domain.SessionUpdate{IngestConfiguration: &cfg, TruncatedEvents: details.TruncatedEvents}
	if err := s.sessions.UpdateSessionAttributes(ctx, channelID, sessionID, update); err != nil {
		log.Warn("failed to persist ingest configuration", "error", err)
	}
	s.metrics.ingestLookup("resolved")
	return &cfg, details.TruncatedEvents
}
