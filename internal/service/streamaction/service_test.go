package streamaction

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

var errThrottled = errors.New("throttled")

type stubPublisher struct {
	mu       sync.Mutex
	calls    int
	metadata []string
	failures []error
}

func (p *stubPublisher) PutMetadata(_ context.Context, _ string, metadata string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.metadata = append(p.metadata, metadata)
	if len(p.failures) > 0 {
		err := p.failures[0]
		p.failures = p.failures[1:]
		return err
	}
	return nil
}

func isThrottled(err error) bool { return errors.Is(err, errThrottled) }

func fastOptions(attempts int) Options {
	return Options{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Retryable: isThrottled}
}

func TestSendEncodesAction(t *testing.T) {
	pub := &stubPublisher{}
	svc := New(pub, nil, fastOptions(3))

	action := Action{Name: "poll", Payload: json.RawMessage(`{"question":"next map?"}`)}
	if err := svc.Send(context.Background(), "arn:channel/abc", action); err != nil {
		t.Fatalf("send: %v", err)
	}
	if pub.calls != 1 {
		t.Fatalf("expected 1 call, got %d", pub.calls)
	}
	var decoded Action
	if err := json.Unmarshal([]byte(pub.metadata[0]), &decoded); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if decoded.Name != "poll" || string(decoded.Payload) != `{"question":"next map?"}` {
		t.Fatalf("unexpected metadata %s", pub.metadata[0])
	}
}

func TestSendRetriesRetryableFailures(t *testing.T) {
	pub := &stubPublisher{failures: []error{errThrottled, errThrottled}}
	svc := New(pub, nil, fastOptions(3))

	if err := svc.Send(context.Background(), "arn", Action{Name: "poll"}); err != nil {
		t.Fatalf("expected delivery on third attempt, got %v", err)
	}
	if pub.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", pub.calls)
	}
}

func TestSendStopsAfterMaxAttempts(t *testing.T) {
	pub := &stubPublisher{failures: []error{errThrottled, errThrottled, errThrottled, errThrottled}}
	svc := New(pub, nil, fastOptions(2))

	err := svc.Send(context.Background(), "arn", Action{Name: "poll"})
	if !errors.Is(err, errThrottled) {
		t.Fatalf("expected throttled error, got %v", err)
	}
	if pub.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", pub.calls)
	}
}

func TestSendDoesNotRetryPermanentFailures(t *testing.T) {
	denied := errors.New("access denied")
	pub := &stubPublisher{failures: []error{denied}}
	svc := New(pub, nil, fastOptions(5))

	if err := svc.Send(context.Background(), "arn", Action{Name: "poll"}); !errors.Is(err, denied) {
		t.Fatalf("expected denied error, got %v", err)
	}
	if pub.calls != 1 {
		t.Fatalf("expected a single call, got %d", pub.calls)
	}
}

func TestSendHonoursCancellation(t *testing.T) {
	pub := &stubPublisher{failures: []error{errThrottled, errThrottled}}
	svc := New(pub, nil, Options{MaxAttempts: 5, BaseDelay: time.Hour, Retryable: isThrottled})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := svc.Send(ctx, "arn", Action{Name: "poll"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if pub.calls != 1 {
		t.Fatalf("expected no retry after cancellation, got %d calls", pub.calls)
	}
}

func TestSendValidatesAction(t *testing.T) {
	cases := []struct {
		name    string
		channel string
		action  Action
		want    error
	}{
		{"missing channel", " ", Action{Name: "poll"}, ErrInvalidAction},
		{"missing name", "arn", Action{}, ErrInvalidAction},
		{"invalid payload", "arn", Action{Name: "poll", Payload: json.RawMessage(`{`)}, ErrInvalidAction},
		{"too large", "arn", Action{Name: "poll", Payload: json.RawMessage(`"` + strings.Repeat("x", MaxMetadataBytes) + `"`)}, ErrPayloadTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pub := &stubPublisher{}
			err := New(pub, nil, fastOptions(3)).Send(context.Background(), tc.channel, tc.action)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if pub.calls != 0 {
				t.Fatalf("expected nothing to be published")
			}
		})
	}
}
