package streamaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
)

// MaxMetadataBytes is the largest metadata document a channel accepts.
const MaxMetadataBytes = 1024

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 200 * time.Millisecond
	defaultMaxDelay    = 5 * time.Second
)

var (
	// ErrInvalidAction reports an action that cannot be delivered as is.
	ErrInvalidAction = errors.New("invalid stream action")
	// ErrPayloadTooLarge reports an encoded action above MaxMetadataBytes.
	ErrPayloadTooLarge = errors.New("stream action payload too large")
)

// Publisher inserts timed metadata into a live channel.
type Publisher interface {
	PutMetadata(ctx context.Context, channelARN string, metadata string) error
}

// Action is a named event delivered to viewers of a channel.
type Action struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Options tunes delivery. Zero values select defaults.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable decides whether a failed attempt is repeated. When nil no
	// failure is retried.
	Retryable func(error) bool
	Clock     clockwork.Clock
}

// Service delivers stream actions.
type Service struct {
	publisher   Publisher
	logger      *slog.Logger
	clock       clockwork.Clock
	retryable   func(error) bool
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// New constructs a Service.
func New(publisher Publisher, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Service{
		publisher:   publisher,
		logger:      logger.With("component", "stream_action"),
		clock:       opts.Clock,
		retryable:   opts.Retryable,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		maxDelay:    opts.MaxDelay,
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.retryable == nil {
		s.retryable = func(error) bool { return false }
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxAttempts
	}
	if s.baseDelay <= 0 {
		s.baseDelay = defaultBaseDelay
	}
	if s.maxDelay < s.baseDelay {
		s.maxDelay = defaultMaxDelay
		if s.maxDelay < s.baseDelay {
			s.maxDelay = s.baseDelay
		}
	}
	return s
}

// Send encodes the action and publishes it to the channel, retrying
// retryable failures with exponential delays until the attempts run out or
// ctx is done.
func (s *Service) Send(ctx context.Context, channelARN string, action Action) error {
	channelARN = strings.TrimSpace(channelARN)
	action.Name = strings.TrimSpace(action.Name)
	if channelARN == "" || action.Name == "" {
		return fmt.Errorf("%w: channel and name required", ErrInvalidAction)
	}
	if len(action.Payload) > 0 && !json.Valid(action.Payload) {
		return fmt.Errorf("%w: payload is not valid json", ErrInvalidAction)
	}
	encoded, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("encode stream action: %w", err)
	}
	if len(encoded) > MaxMetadataBytes {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(encoded))
	}

	log := s.logger.With("channel_arn", channelARN, "action", action.Name)
	delays := s.newBackoff()
	for attempt := 1; ; attempt++ {
		err := s.publisher.PutMetadata(ctx, channelARN, string(encoded))
		if err == nil {
			if attempt > 1 {
				log.Info("stream action delivered after retry", "attempt", attempt)
			}
			return nil
		}
		if attempt >= s.maxAttempts || !s.retryable(err) {
			log.Error("stream action delivery failed", "attempt", attempt, "error", err)
			return fmt.Errorf("send stream action: %w", err)
		}

		delay := delays.NextBackOff()
		log.Warn("stream action delivery failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("send stream action: %w", ctx.Err())
		case <-s.clock.After(delay):
		}
	}
}

func (s *Service) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.baseDelay
	b.MaxInterval = s.maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0 // attempts bound the loop
	b.Reset()
	return b
}
