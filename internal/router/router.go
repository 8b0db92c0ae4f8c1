package router

import (
	"net"
	"net/http"
	"net/url"
	"runtime/debug"
	"time"

	"deploytime/sync-agent/internal/handler"

	"go.uber.org/zap"
)

// Handlers groups the IPC endpoint handlers.
type Handlers struct {
	Timer    *handler.TimerHandler
	Sync     *handler.SyncHandler
	Activity *handler.ActivityHandler
}

func New(h Handlers, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		handler.WriteData(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})

	// Timer endpoints
	mux.HandleFunc("POST /api/v1/timer/start", h.Timer.Start)
	mux.HandleFunc("POST /api/v1/timer/stop", h.Timer.Stop)
	mux.HandleFunc("POST /api/v1/timer/complete", h.Timer.Complete)
	mux.HandleFunc("GET /api/v1/timer/active", h.Timer.Active)
	mux.HandleFunc("GET /api/v1/time-entries", h.Timer.Entries)

	// Sync endpoints
	mux.HandleFunc("POST /api/v1/sync", h.Sync.Sync)
	mux.HandleFunc("GET /api/v1/sync/status", h.Sync.Status)

	// Activity and inactivity endpoints
	if h.Activity != nil {
		mux.HandleFunc("GET /api/v1/activity", h.Activity.Status)
		mux.HandleFunc("POST /api/v1/activity", h.Activity.Ping)
		mux.HandleFunc("POST /api/v1/host-event", h.Activity.HostEvent)
		mux.HandleFunc("GET /api/v1/inactivity/prompt", h.Activity.Prompt)
		mux.HandleFunc("POST /api/v1/inactivity/response", h.Activity.Respond)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		handler.WriteFailure(w, http.StatusNotFound, "no route for "+r.URL.Path)
	})

	return logging(logger, recoverer(logger, localOnly(logger, mux)))
}

// logging logs every request
func logging(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// recoverer turns a panicking handler into a failure envelope.
func recoverer(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("Handler panicked",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.ByteString("stack", debug.Stack()),
				)
				handler.WriteFailure(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// localOnly rejects browser requests coming from non-local pages.
func localOnly(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && !isLocalOrigin(origin) {
			logger.Warn("Rejected cross-origin IPC request", zap.String("origin", origin))
			handler.WriteFailure(w, http.StatusForbidden, "forbidden origin")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLocalOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
