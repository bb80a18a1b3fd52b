package server

import (
	"crypto/subtle"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/waweb/pkg/metrics"
	"github.com/entrhq/waweb/pkg/whatsapp"
)

// HeaderAPIKey carries the API key of a request.
const HeaderAPIKey = "X-API-KEY"

// HeaderRequestID carries the request id, generated when the client sends none.
const HeaderRequestID = "X-Request-ID"

// statusRecorder remembers the status code written through it.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(p []byte) (int, error) {
	if !w.written {
		w.status = http.StatusOK
		w.written = true
	}
	return w.ResponseWriter.Write(p)
}

func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusRecorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func record(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

// withRequestID tags every request and response with a request id.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
			r.Header.Set(HeaderRequestID, id)
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r)
	})
}

// withRequestLogging logs one line per request.
func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := record(w)

		next.ServeHTTP(rec, r)

		s.log.Infof("%s %s %d %dms remote=%s request_id=%s",
			r.Method, r.URL.Path, rec.status, time.Since(start).Milliseconds(),
			r.RemoteAddr, r.Header.Get(HeaderRequestID))
	})
}

// withRecovery turns a panicking handler into a 500 JSON failure.
func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := record(w)
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			if p == http.ErrAbortHandler {
				panic(p)
			}
			s.log.Errorf("Panic serving %s %s: %v\n%s", r.Method, r.URL.Path, p, debug.Stack())
			if !rec.written {
				writeJSON(rec, http.StatusInternalServerError, failure{
					Error:     "internal server error",
					DeviceID:  r.PathValue("device_id"),
					Timestamp: s.timestamp(),
				})
			}
		}()
		next.ServeHTTP(rec, r)
	})
}

// requireAPIKey rejects requests without the configured API key. It is a
// no-op when no key is configured.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	if s.opts.APIKey == "" {
		return next
	}
	want := []byte(s.opts.APIKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get(HeaderAPIKey))
		if len(got) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			writeError(w, http.StatusUnauthorized, "Invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireDevice validates the device_id path value and checks it against the
// allow-list.
func (s *Server) requireDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deviceID := r.PathValue("device_id")
		if err := whatsapp.ValidateDeviceID(deviceID); err != nil {
			writeJSON(w, http.StatusBadRequest, failure{Error: err.Error(), DeviceID: deviceID, Timestamp: s.timestamp()})
			return
		}
		if !s.deviceAllowed(deviceID) {
			writeJSON(w, http.StatusForbidden, failure{Error: "device not allowed", DeviceID: deviceID, Timestamp: s.timestamp()})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) deviceAllowed(deviceID string) bool {
	if len(s.opts.AllowedDevices) == 0 {
		return true
	}
	for _, g := range s.opts.AllowedDevices {
		if g.Match(deviceID) {
			return true
		}
	}
	return false
}

// instrument counts requests of route by status code.
func instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := record(w)
		next.ServeHTTP(rec, r)
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}
