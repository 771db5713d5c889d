package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/metrics"
)

// Timeout bounds how long a handler may take before it starts answering.
// Past the deadline the client gets 504 with a JSON error body, the handler's
// context is cancelled and anything it writes afterwards is discarded. A
// handler that has already started its response is allowed to finish.
// m may be nil.
func Timeout(timeout time.Duration, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			dw := &deadlineWriter{w: w, header: make(http.Header)}
			done := make(chan struct{})
			go func() {
				defer close(done)
				next.ServeHTTP(dw, r.WithContext(ctx))
			}()

			select {
			case <-done:
				return
			case <-ctx.Done():
			}
			if !dw.expire() {
				<-done
				return
			}
			if m != nil {
				m.HTTPTimeoutsTotal.WithLabelValues(normalizePath(r.URL.Path)).Inc()
			}
			logger.FromContext(r.Context()).Warn("request timed out",
				"method", r.Method, "path", r.URL.Path, "timeout", timeout)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusGatewayTimeout)
			json.NewEncoder(w).Encode(map[string]string{"error": "request timed out"})
		})
	}
}

// deadlineWriter buffers headers so the handler goroutine never touches the
// real ResponseWriter once the request has timed out.
type deadlineWriter struct {
	mu       sync.Mutex
	w        http.ResponseWriter
	header   http.Header
	wrote    bool
	timedOut bool
}

func (d *deadlineWriter) Header() http.Header { return d.header }

func (d *deadlineWriter) WriteHeader(code int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeHeaderLocked(code)
}

func (d *deadlineWriter) writeHeaderLocked(code int) {
	if d.wrote || d.timedOut {
		return
	}
	d.wrote = true
	dst := d.w.Header()
	for k, v := range d.header {
		dst[k] = v
	}
	d.w.WriteHeader(code)
}

func (d *deadlineWriter) Write(b []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	d.writeHeaderLocked(http.StatusOK)
	return d.w.Write(b)
}

// expire marks the response as timed out. It reports false when the handler
// already started writing.
func (d *deadlineWriter) expire() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.wrote {
		return false
	}
	d.timedOut = true
	return true
}
