package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/tenantcast/pkg/metrics"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// requestLogger logs method, path, status, duration and client ip for every request
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			// Upgraded sockets log their own lifecycle
			if ww.Status() == http.StatusSwitchingProtocols {
				return
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			evt := logger.Debug()
			if status >= http.StatusInternalServerError {
				evt = logger.Warn()
			}
			evt.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Str("ip", clientIP(r)).
				Msg("HTTP request")
		})
	}
}

// requestMetrics records request counts and latency by method
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
	})
}

// clientIP extracts the client IP from the request
func clientIP(r *http.Request) string {
	// Try X-Forwarded-For first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP in the chain
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to RemoteAddr
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
