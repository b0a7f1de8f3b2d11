package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/pinnlo/service_layer/internal/logging"
)

// TracingMiddleware assigns a trace id to every request and logs it on
// completion.
type TracingMiddleware struct {
	logger *logging.Logger
}

// NewTracingMiddleware creates a new tracing middleware.
func NewTracingMiddleware(logger *logging.Logger) *TracingMiddleware {
	if logger == nil {
		logger = logging.NewDefault("http")
	}
	return &TracingMiddleware{
		logger: logger,
	}
}

// Handler returns the tracing middleware handler.
func (m *TracingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" || len(traceID) > 128 {
			traceID = logging.NewTraceID()
		}

		info := &requestInfo{}
		ctx := logging.WithTraceID(r.Context(), traceID)
		ctx = context.WithValue(ctx, requestInfoKey{}, info)
		w.Header().Set("X-Trace-ID", traceID)

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}
		start := time.Now()

		r = r.WithContext(ctx)
		next.ServeHTTP(rw, r)

		logCtx := ctx
		if info.userID != "" {
			logCtx = logging.WithUserID(ctx, info.userID)
		}
		m.logger.LogRequest(logCtx, r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}

type requestInfoKey struct{}

// requestInfo lets inner middleware report the authenticated user back to
// the request log line.
type requestInfo struct {
	userID string
}

func setRequestUser(ctx context.Context, userID string) {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		info.userID = userID
	}
}
