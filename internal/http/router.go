package httpx

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/streamhealth/internal/domain"
	"github.com/splax/streamhealth/internal/service/streamaction"
)

// MetricsResolver computes the health metrics of a stream session.
type MetricsResolver interface {
	ResolveSessionMetrics(ctx context.Context, channelID, sessionID string) (*domain.SessionMetrics, error)
}

// ActionSender delivers stream actions to a live channel.
type ActionSender interface {
	Send(ctx context.Context, channelARN string, action streamaction.Action) error
}

// Options configures a Router. Zero values select defaults.
type Options struct {
	JWTSecret        string
	LivePushInterval time.Duration
	Limiter          RateLimiter
	DBHealth         func(context.Context) error
	// Registerer receives the HTTP collectors; nil keeps them unregistered.
	Registerer prometheus.Registerer
	// Gatherer backs /metrics; nil serves the default registry.
	Gatherer prometheus.Gatherer
	Clock    clockwork.Clock
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux        *http.ServeMux
	logger     *slog.Logger
	metrics    MetricsResolver
	actions    ActionSender
	upgrader   websocket.Upgrader
	limiter    RateLimiter
	jwtSecret  string
	livePush   time.Duration
	dbHealth   func(context.Context) error
	clock      clockwork.Clock
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	liveStreams        prometheus.Gauge
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitUserRead  = 120
	rateLimitUserWrite = 60
	rateLimitRealtime  = 30
	healthCheckTimeout = 2 * time.Second
	defaultLivePush    = 5 * time.Second
	requestIDHeader    = "X-Request-ID"
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, metricsSvc MetricsResolver, actions ActionSender, opts Options) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		metrics: metricsSvc,
		actions: actions,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:    opts.Limiter,
		jwtSecret:  strings.TrimSpace(opts.JWTSecret),
		livePush:   opts.LivePushInterval,
		dbHealth:   opts.DBHealth,
		clock:      opts.Clock,
		registerer: opts.Registerer,
		gatherer:   opts.Gatherer,
	}
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	if r.livePush <= 0 {
		r.livePush = defaultLivePush
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter(r.clock)
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	metricsHandler := promhttp.Handler()
	if r.gatherer != nil {
		metricsHandler = promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
	}
	r.mux.Handle("/metrics", metricsHandler)
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.HandleFunc("/channels/", r.audit("/channels/:id", r.handleChannelSubroutes))
	r.mux.HandleFunc("/ws/metrics", r.audit("/ws/metrics", r.handlerAuthRate("/ws/metrics", rateLimitRealtime, rateWindowRealtime, r.handleMetricsWS)))
	r.mux.HandleFunc("/sse/metrics", r.audit("/sse/metrics", r.handlerAuthRate("/sse/metrics", rateLimitRealtime, rateWindowRealtime, r.handleMetricsSSE)))
}

// handleChannelSubroutes dispatches
// /channels/{channelID}/sessions/{sessionID}/metrics and
// /channels/{channelID}/actions.
func (r *Router) handleChannelSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(req.URL.Path, "/channels/"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 || parts[0] == "" {
		r.notFound(w)
		return
	}
	channelID := parts[0]
	switch {
	case len(parts) == 4 && parts[1] == "sessions" && parts[2] != "" && parts[3] == "metrics":
		sessionID := parts[2]
		r.handlerAuthRate("/channels/:id/sessions/:id/metrics", rateLimitUserRead, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
			r.handleSessionMetrics(w, req, channelID, sessionID)
		})(w, req)
	case len(parts) == 2 && parts[1] == "actions":
		r.handlerAuthRate("/channels/:id/actions", rateLimitUserWrite, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
			r.handleChannelAction(w, req, channelID)
		})(w, req)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  r.clock.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// audit assigns a request ID, logs the request and records its metrics
// under the route template.
func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		reqID := strings.TrimSpace(req.Header.Get(requestIDHeader))
		if reqID == "" {
			reqID = uuid.NewString()
			req.Header.Set(requestIDHeader, reqID)
		}
		w.Header().Set(requestIDHeader, reqID)

		recorder := &statusRecorder{ResponseWriter: w}
		start := r.clock.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := r.clock.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"route", route,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
			"request_id", reqID,
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
			if info.TeamID != "" {
				fields = append(fields, "team_id", info.TeamID)
			}
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		if sr.status == 0 {
			sr.status = http.StatusSwitchingProtocols
		}
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
