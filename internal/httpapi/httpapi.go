// Package httpapi exposes CacheVoice's HTTP surface (spec §6): POST
// /v1/audio/speech, GET /health, GET /v1/cache/stats, and /metrics.
//
// Grounded on the teacher's internal/health gorilla/mux router plus JSON
// encode-response style, generalized from a health-only listener to the
// full request surface sharing one server.
package httpapi

import (
    "context"
    "encoding/json"
    "net/http"
    "time"

    "github.com/google/uuid"
    "github.com/gorilla/mux"

    "github.com/sametakofficial/cachevoice/internal/health"
    "github.com/sametakofficial/cachevoice/internal/metadatadb"
    "github.com/sametakofficial/cachevoice/internal/metrics"
    "github.com/sametakofficial/cachevoice/internal/pipeline"
    cverrors "github.com/sametakofficial/cachevoice/pkg/errors"
    "github.com/sametakofficial/cachevoice/pkg/logger"
)

// SpeechRequest is the POST /v1/audio/speech body.
type SpeechRequest struct {
    Input          string `json:"input"`
    Voice          string `json:"voice"`
    Model          string `json:"model,omitempty"`
    ResponseFormat string `json:"response_format,omitempty"`
}

// Server wires the Request Pipeline, Metadata DB stats, health tracker,
// and metrics registry onto a gorilla/mux router.
type Server struct {
    router   *mux.Router
    pipeline *pipeline.Pipeline
    db       *metadatadb.DB
    tracker  *health.Tracker
    metrics  *metrics.PrometheusMetrics
    server   *http.Server
}

// New builds the router and wraps it in an *http.Server listening on addr.
func New(addr string, p *pipeline.Pipeline, db *metadatadb.DB, tracker *health.Tracker, m *metrics.PrometheusMetrics) *Server {
    s := &Server{
        router:   mux.NewRouter(),
        pipeline: p,
        db:       db,
        tracker:  tracker,
        metrics:  m,
    }

    s.router.Use(requestIDMiddleware)

    s.router.HandleFunc("/v1/audio/speech", s.handleSpeech).Methods(http.MethodPost)
    s.router.HandleFunc("/health", health.Handler(tracker)).Methods(http.MethodGet)
    s.router.HandleFunc("/v1/cache/stats", s.handleStats).Methods(http.MethodGet)
    if m != nil {
        s.router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
    }

    s.server = &http.Server{
        Addr:         addr,
        Handler:      s.router,
        ReadTimeout:  30 * time.Second,
        WriteTimeout: 30 * time.Second,
    }

    return s
}

// Start blocks serving HTTP until the listener is closed.
func (s *Server) Start() error {
    logger.WithField("addr", s.server.Addr).Info("httpapi: listening")
    err := s.server.ListenAndServe()
    if err == http.ErrServerClosed {
        return nil
    }
    return err
}

// Stop gracefully shuts down within timeout.
func (s *Server) Stop(timeout time.Duration) error {
    ctx, cancel := context.WithTimeout(context.Background(), timeout)
    defer cancel()
    return s.server.Shutdown(ctx)
}

// requestIDMiddleware assigns a UUID per request, echoes it on the response,
// and attaches it to the context so downstream logging calls via
// logger.WithContext pick it up automatically.
func requestIDMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        requestID := uuid.NewString()
        w.Header().Set("X-Request-Id", requestID)
        ctx := logger.ContextWithRequestID(r.Context(), requestID)
        next.ServeHTTP(w, r.WithContext(ctx))
    })
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
    var req SpeechRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeError(w, r, cverrors.New(cverrors.ErrBadFormat, "malformed request body"))
        return
    }
    if req.Input == "" || req.Voice == "" {
        writeError(w, r, cverrors.New(cverrors.ErrBadFormat, "input and voice are required"))
        return
    }

    start := time.Now()
    result, err := s.pipeline.Handle(r.Context(), pipeline.Request{
        Text:           req.Input,
        Voice:          req.Voice,
        Model:          req.Model,
        ResponseFormat: req.ResponseFormat,
    })
    if err != nil {
        writeError(w, r, err)
        return
    }

    if s.metrics != nil {
        s.metrics.IncrementCounter("cache_lookups_total", map[string]string{"reason_code": result.ReasonCode})
        s.metrics.ObserveHistogram("request_duration", time.Since(start).Seconds(), map[string]string{"reason_code": result.ReasonCode})
    }

    w.Header().Set("Content-Type", contentTypeFor(result.Format))
    w.WriteHeader(http.StatusOK)
    w.Write(result.Audio)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
    stats, err := s.db.GetStats(r.Context(), time.Now().Unix())
    if err != nil {
        writeError(w, r, err)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(stats)
}

func contentTypeFor(format string) string {
    switch format {
    case "wav":
        return "audio/wav"
    case "ogg":
        return "audio/ogg"
    case "flac":
        return "audio/flac"
    default:
        return "audio/mpeg"
    }
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
    status := http.StatusInternalServerError
    code := cverrors.ErrInternal
    message := err.Error()

    if appErr, ok := err.(*cverrors.AppError); ok {
        status = appErr.StatusCode
        code = appErr.Code
        message = appErr.Message
    }

    logger.WithContext(r.Context()).WithFields(map[string]interface{}{"status": status, "code": code}).WithError(err).Warn("httpapi: request failed")

    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    json.NewEncoder(w).Encode(map[string]interface{}{
        "error": map[string]interface{}{
            "code":    code,
            "message": message,
        },
    })
}
