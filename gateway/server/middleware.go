package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// responseRecorder captures the status code and body size a handler
// writes so the request log and metrics can report them.
type responseRecorder struct {
	http.ResponseWriter
	status  int
	written uint64
}

func (rw *responseRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += uint64(n)
	return n, err
}

// logRequests tags every request with an ID and emits one structured
// line per request with its status, duration and response size.
func (s *Service) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.New().String()
		w.Header().Set("X-Request-Id", requestID)
		rw := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		elapsed := time.Since(start)

		s.requests.Incr(1)
		s.served.Incr(int64(rw.written))
		httpBytesServedTotal.Add(float64(rw.written))
		httpRequestLatency.Observe(elapsed.Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rw.status)).Inc()

		log.WithFields(logrus.Fields{
			"requestId": requestID,
			"method":    r.Method,
			"host":      r.Host,
			"path":      r.URL.Path,
			"status":    rw.status,
			"duration":  elapsed,
			"bytes":     rw.written,
		}).Debug("Handled request")
	})
}

// logThroughput emits the rolling one minute serving rate.
func (s *Service) logThroughput() {
	requests := s.requests.Rate()
	if requests == 0 {
		return
	}
	log.WithFields(logrus.Fields{
		"requests":   requests,
		"throughput": humanize.Bytes(uint64(s.served.Rate())) + "/min",
	}).Info("Gateway serving")
}
