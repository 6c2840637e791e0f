package server

import (
	"net/http"
	"time"

	tcontext "github.com/tsgd/tsgd/pkg/context"
	"github.com/tsgd/tsgd/pkg/logger"
	"github.com/tsgd/tsgd/pkg/vgpu"
)

// requestIDMiddleware keeps a caller supplied request id, or generates one,
// and stores it in the request context.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := tcontext.WithRequestID(r.Context(), r.Header.Get(vgpu.RequestIDHeader))
		reqID, _ := tcontext.RequestID(ctx)
		w.Header().Set(vgpu.RequestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs each request with its status and duration
func loggingMiddleware(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			logger.WithContext(r.Context(), log).Debug("request",
				logger.WithField("method", r.Method),
				logger.WithField("path", r.URL.Path),
				logger.WithField("status", sw.status),
				logger.WithField("duration", time.Since(start).String()))
		})
	}
}

// statusWriter captures the response status code
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
