package httpapi

import (
	"bufio"
	"errors"
	"expvar"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	requestsTotal  = expvar.NewInt("requests_total")
	requestsErrors = expvar.NewInt("requests_errors_total")
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush and Hijack keep sockjs streaming and websocket transports working
// behind the middleware.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

// LoggingMiddleware assigns X-Request-ID when the caller sent none and logs
// one line per request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
			r.Header.Set("X-Request-ID", requestID)
		}
		w.Header().Set("X-Request-ID", requestID)

		writer := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(writer, r)
		duration := time.Since(start)
		requestsTotal.Add(1)
		if writer.status >= http.StatusBadRequest {
			requestsErrors.Add(1)
		}
		logrus.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        logPath(r),
			"status":      writer.status,
			"duration_ms": duration.Milliseconds(),
			"request_id":  requestID,
		}).Info("request")
	})
}

// logPath masks the digest of public ticket paths so logs do not hold
// working ticket links.
func logPath(r *http.Request) string {
	key := ticketPath(r)
	if key == "" {
		return r.URL.Path
	}
	if i := strings.LastIndex(key, "-"); i > 0 {
		return "/api/queue/" + key[:i] + "-********"
	}
	return r.URL.Path
}
