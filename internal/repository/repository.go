package repository

import (
	"context"
	"time"

	"github.com/splax/streamhealth/internal/domain"
)

// SessionRepository persists broadcast sessions and their derived attributes.
type SessionRepository interface {
	GetSession(ctx context.Context, channelID, sessionID string) (*domain.Session, error)
	UpdateSessionAttributes(ctx context.Context, channelID, sessionID string, update domain.SessionUpdate) error
}

// SessionWriter is used by the ingestion pipeline to record session lifecycle.
type SessionWriter interface {
	UpsertSession(ctx context.Context, session *domain.Session) error
	EndSession(ctx context.Context, channelID, sessionID string, endTime time.Time) error
}
