package apihttp

import (
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"torrentstream/qbtcontrol/internal/metrics"
	"torrentstream/qbtcontrol/internal/qbt"
)

// routeClass groups endpoints that share logging and limiting rules.
type routeClass int

const (
	routeUnknown routeClass = iota
	// routeInternal covers health and metrics scrapes.
	routeInternal
	routeSearch
	routeStream
	routeCommand
	routeSettings
)

const otherRoute = "/other"

type route struct {
	path    string
	class   routeClass
	handler http.Handler
}

// routeTable maps registered paths to their class. Anything else is reported
// as otherRoute so metric label sets stay bounded.
type routeTable map[string]routeClass

func newRouteTable(routes []route) routeTable {
	table := make(routeTable, len(routes))
	for _, rt := range routes {
		table[rt.path] = rt.class
	}
	return table
}

func (t routeTable) lookup(path string) (string, routeClass) {
	class, ok := t[path]
	if !ok {
		return otherRoute, routeUnknown
	}
	return path, class
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Flush keeps /search/stream working through the recorder.
func (rw *statusRecorder) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// observeMiddleware records request metrics under the registered route and
// writes one log line per request at a level chosen by route class.
func observeMiddleware(logger *slog.Logger, routes routeTable, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		elapsed := time.Since(start)

		name, class := routes.lookup(r.URL.Path)
		if name != "/metrics" {
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, name, strconv.Itoa(rw.status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, name).Observe(elapsed.Seconds())
		}

		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("route", name),
			slog.Int("status", rw.status),
			slog.Int("bytes", rw.size),
			slog.Int64("durationMs", elapsed.Milliseconds()),
			slog.String("clientIP", clientIP(r)),
		}
		if class == routeUnknown {
			attrs = append(attrs, slog.String("path", qbt.CutUTF8(r.URL.Path, 120)))
		}
		if rawQuery := strings.TrimSpace(r.URL.RawQuery); rawQuery != "" && class != routeSettings {
			attrs = append(attrs, slog.String("query", qbt.CutUTF8(rawQuery, 180)))
		}

		message := "http request"
		switch {
		case class == routeStream && rw.status == http.StatusOK:
			message = "search stream closed"
			attrs = append(attrs, slog.Bool("clientGone", r.Context().Err() != nil))
		case class == routeCommand && (rw.status == http.StatusBadGateway || rw.status == http.StatusMultiStatus):
			message = "command not applied by remote"
		}
		logger.LogAttrs(r.Context(), requestLogLevel(class, rw.status), message, attrs...)
	})
}

// requestLogLevel keeps scrapes quiet and treats remote-side failures as
// warnings; only failures of this service log at error.
func requestLogLevel(class routeClass, status int) slog.Level {
	remote := status == http.StatusBadGateway || status == http.StatusGatewayTimeout || status == http.StatusServiceUnavailable
	switch {
	case status >= 500 && !remote:
		return slog.LevelError
	case class == routeInternal:
		return slog.LevelDebug
	case remote, status >= 400, status == http.StatusMultiStatus:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				logger.Error("panic recovered",
					slog.Any("error", recovered),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)
				writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware applies a global token bucket to every route except
// health and metrics. Requests over the limit receive HTTP 429.
func rateLimitMiddleware(rps float64, burst int, routes routeTable, next http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, class := routes.lookup(r.URL.Path); class == routeInternal {
			next.ServeHTTP(w, r)
			return
		}
		if !limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if xRealIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); xRealIP != "" {
		return xRealIP
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
