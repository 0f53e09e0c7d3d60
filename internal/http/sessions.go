package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/splax/streamhealth/internal/service/metrics"
	"github.com/splax/streamhealth/internal/service/streamaction"
	"github.com/splax/streamhealth/internal/ws"
)

const maxActionBodyBytes = 4 << 10

func (r *Router) handleSessionMetrics(w http.ResponseWriter, req *http.Request, channelID, sessionID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	result, err := r.metrics.ResolveSessionMetrics(req.Context(), channelID, sessionID)
	if err != nil {
		r.writeMetricsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeMetricsError hides internal causes; only the not found case is
// distinguished from the generic failure.
func (r *Router) writeMetricsError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, metrics.ErrSessionNotFound) {
		status = http.StatusNotFound
	}
	writeError(w, status, metrics.ErrMetricsUnavailable.Error())
}

func (r *Router) handleChannelAction(w http.ResponseWriter, req *http.Request, channelID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if r.actions == nil {
		writeError(w, http.StatusServiceUnavailable, "stream actions unavailable")
		return
	}
	var payload struct {
		ChannelARN string          `json:"channelArn"`
		Name       string          `json:"name"`
		Payload    json.RawMessage `json:"payload"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxActionBodyBytes)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	channelARN := strings.TrimSpace(payload.ChannelARN)
	if channelARN == "" {
		writeError(w, http.StatusBadRequest, "channelArn is required")
		return
	}
	if !strings.HasSuffix(channelARN, "/"+channelID) {
		writeError(w, http.StatusBadRequest, "channelArn does not match channel")
		return
	}
	action := streamaction.Action{Name: payload.Name, Payload: payload.Payload}
	if err := r.actions.Send(req.Context(), channelARN, action); err != nil {
		switch {
		case errors.Is(err, streamaction.ErrPayloadTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, streamaction.ErrInvalidAction):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			r.logger.Error("stream action failed", "channel_id", channelID, "error", err)
			writeError(w, http.StatusBadGateway, "could not deliver stream action")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (r *Router) handleMetricsWS(w http.ResponseWriter, req *http.Request) {
	if _, ok := authInfoFromContext(req.Context()); !ok {
		r.logger.Error("auth context missing for metrics websocket", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	channelID, sessionID, ok := sessionQuery(w, req)
	if !ok {
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.trackLiveStream(1)
	defer r.trackLiveStream(-1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	r.streamSessionMetrics(ctx, client, channelID, sessionID)
}

func (r *Router) handleMetricsSSE(w http.ResponseWriter, req *http.Request) {
	if _, ok := authInfoFromContext(req.Context()); !ok {
		r.logger.Error("auth context missing for metrics stream", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	channelID, sessionID, ok := sessionQuery(w, req)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.trackLiveStream(1)
	defer r.trackLiveStream(-1)
	r.streamSessionMetrics(req.Context(), client, channelID, sessionID)
}

type liveSubscriber interface {
	ws.Subscriber
	Finish()
	Close()
}

// streamSessionMetrics pushes fresh metrics while the session is live and
// finishes the stream after the first frame of the ended session.
func (r *Router) streamSessionMetrics(ctx context.Context, client liveSubscriber, channelID, sessionID string) {
	log := r.logger.With("channel_id", channelID, "session_id", sessionID)
	producer := func(ctx context.Context) ([]byte, bool, error) {
		result, err := r.metrics.ResolveSessionMetrics(ctx, channelID, sessionID)
		if err != nil {
			return nil, false, err
		}
		payload, err := json.Marshal(result)
		if err != nil {
			return nil, false, fmt.Errorf("encode session metrics: %w", err)
		}
		return payload, !result.Live, nil
	}

	err := ws.Stream(ctx, client, r.clock, r.livePush, producer)
	switch {
	case err == nil:
		client.Finish()
	case errors.Is(err, context.Canceled):
		client.Close()
	case errors.Is(err, metrics.ErrMetricsUnavailable):
		log.Warn("live metrics stream stopped", "error", err)
		frame, _ := json.Marshal(map[string]string{"error": metrics.ErrMetricsUnavailable.Error()})
		_ = client.Send(frame)
		client.Finish()
	default:
		log.Warn("live metrics stream closed", "error", err)
		client.Close()
	}
}

func sessionQuery(w http.ResponseWriter, req *http.Request) (string, string, bool) {
	query := req.URL.Query()
	channelID := strings.TrimSpace(query.Get("channel_id"))
	sessionID := strings.TrimSpace(query.Get("session_id"))
	if channelID == "" || sessionID == "" {
		writeError(w, http.StatusBadRequest, "channel_id and session_id query parameters required")
		return "", "", false
	}
	return channelID, sessionID, true
}
