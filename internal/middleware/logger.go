package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/evbooking/internal/metrics"
)

// RequestIDHeader: заголовок с идентификатором запроса.
const RequestIDHeader = "X-Request-ID"

// Logger логирует каждый запрос и считает HTTP-метрики по шаблону маршрута.
func Logger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqID := r.Header.Get(RequestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, reqID)

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)

			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			code := strconv.Itoa(status)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, code).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route, code).Observe(elapsed.Seconds())

			logger.Info("request",
				zap.String("requestID", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("size", ww.BytesWritten()),
				zap.Duration("duration", elapsed),
			)
		})
	}
}
