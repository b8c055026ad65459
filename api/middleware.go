package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// RequestLogger writes one access log line per request. It must run after
// middleware.RequestID to pick up the request ID.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	log = log.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				fields := []zap.Field{
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
				}
				switch {
				case ww.Status() >= http.StatusInternalServerError:
					log.Error("request", fields...)
				case ww.Status() >= http.StatusBadRequest:
					log.Warn("request", fields...)
				default:
					log.Info("request", fields...)
				}
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
