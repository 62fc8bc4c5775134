package middleware

import (
	"context"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cartridge/summarizer/internal/metrics"
)

// HeaderCorrelationID carries the request correlation ID.
const HeaderCorrelationID = "X-Correlation-ID"

type ctxKey struct{}

// CorrelationIDFrom returns the correlation ID stored by CorrelationID.
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// CorrelationID reuses the caller's X-Correlation-ID or mints one, echoes it
// on the response and stores it in the request context.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderCorrelationID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderCorrelationID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// RequestLogger logs every request through chi's RequestLogger. A non-nil
// collector also receives one api_request metric per completed request.
func RequestLogger(logger zerolog.Logger, collector *metrics.Collector) func(next http.Handler) http.Handler {
	return chimw.RequestLogger(&formatter{logger: logger, collector: collector})
}

type formatter struct {
	logger    zerolog.Logger
	collector *metrics.Collector
}

func (f *formatter) NewLogEntry(r *http.Request) chimw.LogEntry {
	id := CorrelationIDFrom(r.Context())
	if id == "" {
		id = r.Header.Get(HeaderCorrelationID)
	}
	reqLogger := f.logger.With().
		Str("correlation_id", id).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Logger()
	reqLogger.Debug().Str("remote_addr", r.RemoteAddr).Msg("Request started")

	return &entry{
		logger:    reqLogger,
		collector: f.collector,
		method:    r.Method,
		path:      r.URL.Path,
	}
}

type entry struct {
	logger    zerolog.Logger
	collector *metrics.Collector
	method    string
	path      string
}

func levelFor(status int) zerolog.Level {
	switch {
	case status >= 500:
		return zerolog.ErrorLevel
	case status >= 400:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}

func (e *entry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ interface{}) {
	e.logger.WithLevel(levelFor(status)).
		Int("status", status).
		Int("bytes", bytes).
		Dur("elapsed", elapsed).
		Msg("Request completed")
	if e.collector != nil {
		e.collector.APIRequest(e.method, e.path, status, elapsed)
	}
}

func (e *entry) Panic(v interface{}, stack []byte) {
	e.logger.Error().
		Interface("panic", v).
		Bytes("stack", stack).
		Msg("Request panic")
}
