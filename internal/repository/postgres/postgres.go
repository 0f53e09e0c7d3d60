package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/streamhealth/internal/domain"
	"github.com/splax/streamhealth/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.SessionRepository = (*Repository)(nil)
	_ repository.SessionWriter     = (*Repository)(nil)
)

const (
	sessionSelect = `SELECT
		channel_id,
		channel_arn,
		session_id,
		start_time,
		end_time,
		ingest_configuration,
		truncated_events,
		metrics_cache,
		created_at,
		updated_at
	FROM stream_sessions
	WHERE channel_id = $1 AND session_id = $2`

	sessionUpsert = `INSERT INTO stream_sessions (
		channel_id,
		session_id,
		channel_arn,
		start_time,
		end_time,
		created_at,
		updated_at
	) VALUES (
		$1,$2,$3,$4,$5,NOW(),NOW()
	) ON CONFLICT (channel_id, session_id)
	DO UPDATE SET
		channel_arn = EXCLUDED.channel_arn,
		start_time = COALESCE(EXCLUDED.start_time, stream_sessions.start_time),
		end_time = COALESCE(EXCLUDED.end_time, stream_sessions.end_time),
		updated_at = NOW()`

	// New cache keys go on the left so existing keys win the merge.
	sessionUpdateAttributes = `UPDATE stream_sessions SET
		metrics_cache = COALESCE($3::jsonb, '{}'::jsonb) || metrics_cache,
		ingest_configuration = COALESCE($4::jsonb, ingest_configuration),
		truncated_events = COALESCE($5::jsonb, truncated_events),
		updated_at = NOW()
	WHERE channel_id = $1 AND session_id = $2`

	sessionEnd = `UPDATE stream_sessions SET end_time = $3, updated_at = NOW()
	WHERE channel_id = $1 AND session_id = $2`
)

// GetSession fetches a session by channel and session identifier.
func (r *Repository) GetSession(ctx context.Context, channelID, sessionID string) (*domain.Session, error) {
	channelID = strings.TrimSpace(channelID)
	sessionID = strings.TrimSpace(sessionID)
	if channelID == "" || sessionID == "" {
		return nil, repository.ErrInvalidArgument
	}
	row := r.pool.QueryRow(ctx, sessionSelect, channelID, sessionID)
	var (
		s         domain.Session
		startTime *time.Time
		endTime   *time.Time
		ingest    []byte
		events    []byte
		cache     []byte
	)
	if err := row.Scan(
		&s.ChannelID,
		&s.ChannelARN,
		&s.SessionID,
		&startTime,
		&endTime,
		&ingest,
		&events,
		&cache,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if startTime != nil {
		value := startTime.UTC()
		s.StartTime = &value
	}
	if endTime != nil {
		value := endTime.UTC()
		s.EndTime = &value
	}
	if len(ingest) > 0 {
		var cfg domain.IngestConfiguration
		if err := json.Unmarshal(ingest, &cfg); err != nil {
			return nil, fmt.Errorf("decode ingest configuration: %w", err)
		}
		s.IngestConfiguration = &cfg
	}
	if len(events) > 0 {
		if err := json.Unmarshal(events, &s.TruncatedEvents); err != nil {
			return nil, fmt.Errorf("decode truncated events: %w", err)
		}
	}
	s.MetricsCache = make(map[string]json.RawMessage)
	if len(cache) > 0 {
		if err := json.Unmarshal(cache, &s.MetricsCache); err != nil {
			return nil, fmt.Errorf("decode metrics cache: %w", err)
		}
	}
	return &s, nil
}

// UpdateSessionAttributes merges derived attributes into a session record.
func (r *Repository) UpdateSessionAttributes(ctx context.Context, channelID, sessionID string, update domain.SessionUpdate) error {
	channelID = strings.TrimSpace(channelID)
	sessionID = strings.TrimSpace(sessionID)
	if channelID == "" || sessionID == "" {
		return repository.ErrInvalidArgument
	}
	if update.Empty() {
		return nil
	}
	var (
		cache  []byte
		ingest []byte
		events []byte
		err    error
	)
	if len(update.MetricsCache) > 0 {
		if cache, err = json.Marshal(update.MetricsCache); err != nil {
			return fmt.Errorf("encode metrics cache: %w", err)
		}
	}
	if update.IngestConfiguration != nil {
		if ingest, err = json.Marshal(update.IngestConfiguration); err != nil {
			return fmt.Errorf("encode ingest configuration: %w", err)
		}
	}
	if update.TruncatedEvents != nil {
		if events, err = json.Marshal(update.TruncatedEvents); err != nil {
			return fmt.Errorf("encode truncated events: %w", err)
		}
	}
	tag, err := r.pool.Exec(ctx, sessionUpdateAttributes, channelID, sessionID, cache, ingest, events)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpsertSession records a session as reported by the ingestion pipeline.
func (r *Repository) UpsertSession(ctx context.Context, session *domain.Session) error {
	if session == nil {
		return repository.ErrInvalidArgument
	}
	channelID := strings.TrimSpace(session.ChannelID)
	sessionID := strings.TrimSpace(session.SessionID)
	if channelID == "" || sessionID == "" {
		return repository.ErrInvalidArgument
	}
	_, err := r.pool.Exec(ctx, sessionUpsert,
		channelID,
		sessionID,
		strings.TrimSpace(session.ChannelARN),
		utcPtr(session.StartTime),
		utcPtr(session.EndTime),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "22007", "22008":
				return repository.ErrInvalidArgument
			}
		}
		return err
	}
	session.ChannelID = channelID
	session.SessionID = sessionID
	return nil
}

// EndSession stamps the end time of a session.
func (r *Repository) EndSession(ctx context.Context, channelID, sessionID string, endTime time.Time) error {
	if endTime.IsZero() {
		return repository.ErrInvalidArgument
	}
	tag, err := r.pool.Exec(ctx, sessionEnd, strings.TrimSpace(channelID), strings.TrimSpace(sessionID), endTime.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	value := t.UTC()
	return &value
}
