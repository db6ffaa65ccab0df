package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

type loggerKey struct{}

// WithTraceLogger stores a request-scoped logger in the request context. The
// logger carries the request ID, taken from RequestIDHeader or generated,
// and the trace and span IDs when the request is traced.
func WithTraceLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(RequestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, reqID)

			fields := []zap.Field{zap.String("request_id", reqID)}
			fields = append(fields, spanFields(r.Context())...)
			ctx := context.WithValue(r.Context(), loggerKey{}, logger.With(fields...))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func spanFields(ctx context.Context) []zap.Field {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}

// LoggerFromContext returns the logger stored by WithTraceLogger, or fallback
// annotated with the current span when there is none.
func LoggerFromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
		return logger
	}
	if fields := spanFields(ctx); fields != nil {
		return fallback.With(fields...)
	}
	return fallback
}

// LoggerFromRequest is a convenience function to get logger from HTTP request
func LoggerFromRequest(r *http.Request, fallback *zap.Logger) *zap.Logger {
	return LoggerFromContext(r.Context(), fallback)
}
