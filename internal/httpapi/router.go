package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lukasbauer/medrelay/internal/eventlog"
	"github.com/lukasbauer/medrelay/internal/metrics"
	"github.com/lukasbauer/medrelay/internal/realtime"
	"github.com/lukasbauer/medrelay/internal/relay"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	// Upstream transcription service
	Realtime     realtime.Config
	Instructions string // sent with every commit

	// Client connection limits
	ReadLimit    int64
	WriteTimeout time.Duration

	// Dial overrides the upstream dialer; nil uses relay.DialRealtime.
	Dial relay.DialFunc

	// Gatherer backs GET /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

type Router struct {
	cfg      RouterConfig
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	eventLog *eventlog.Logger
	sessions *SessionRegistry
	mux      *http.ServeMux
}

func NewRouter(cfg RouterConfig, logger zerolog.Logger, m *metrics.Metrics, eventLog *eventlog.Logger, sessions *SessionRegistry) http.Handler {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	if sessions == nil {
		sessions = NewSessionRegistry()
	}

	r := &Router{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		eventLog: eventLog,
		sessions: sessions,
		mux:      http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	// Health checks
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)

	gatherer := r.cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Streaming transcription
	r.mux.HandleFunc("GET /ws/transcribe", r.handleTranscribeWS)
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if r.sessions.IsDraining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string, tags map[string]string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		scope.SetTags(tags)
		sentry.CaptureException(err)
	})
}
