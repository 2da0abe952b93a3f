package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"telestream/internal/api"
	"telestream/internal/auth"
)

type Config struct {
	Addr      string
	RateLimit RateLimitConfig
	Logger    *slog.Logger
}

type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	rateLimiter *rateLimiter
}

func New(handler *api.Handler, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("api handler is required")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handler.Health)
	mux.HandleFunc("/status", handler.Status)
	mux.HandleFunc("/auth/status", handler.AuthStatus)
	mux.HandleFunc("/auth/setup", handler.AuthSetup)
	mux.HandleFunc("/auth/send-code", handler.SendCode)
	mux.HandleFunc("/auth/verify-code", handler.VerifyCode)
	mux.HandleFunc("/auth/verify-password", handler.VerifyPassword)
	mux.HandleFunc("/groups", handler.Groups)
	mux.HandleFunc("/groups/", handler.GroupByID)
	mux.HandleFunc("/files/group/", handler.GroupFiles)
	mux.HandleFunc("/files/", handler.FileStream)

	rl := newRateLimiter(cfg.RateLimit)
	handlerChain := http.Handler(mux)
	handlerChain = authMiddleware(handler.Auth, handlerChain)
	handlerChain = rateLimitMiddleware(rl, cfg.Logger, handlerChain)
	handlerChain = loggingMiddleware(cfg.Logger, handlerChain)

	// WriteTimeout stays zero: media streams legitimately hold responses
	// open for longer than any fixed deadline.
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer:  httpServer,
		logger:      cfg.Logger,
		rateLimiter: rl,
	}, nil
}

func (s *Server) Start() error {
	if s.httpServer == nil {
		return fmt.Errorf("http server is not configured")
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the composed middleware chain for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := newStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(recorder, r)
		duration := time.Since(start)
		logger.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration_ms", duration.Milliseconds(),
			"remote_ip", extractClientIP(r))
	})
}

func rateLimitMiddleware(rl *rateLimiter, logger *slog.Logger, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowRequest() {
			http.Error(w, "global rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		if r.Method == http.MethodPost && isLoginPath(r.URL.Path) {
			ip := extractClientIP(r)
			allowed, retryAfter, err := rl.AllowLogin(r.Context(), ip)
			if err != nil {
				if logger != nil {
					logger.Error("rate limiter failure", "error", err)
				}
				http.Error(w, "rate limit failure", http.StatusServiceUnavailable)
				return
			}
			if !allowed {
				if retryAfter > 0 {
					w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
				}
				http.Error(w, "too many login attempts", http.StatusTooManyRequests)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func isLoginPath(path string) bool {
	switch path {
	case "/auth/send-code", "/auth/verify-code", "/auth/verify-password":
		return true
	}
	return false
}

// authMiddleware gates every route outside the login surface behind an
// authenticated backend session. The connection attempt itself is
// single-flight inside the manager, so a burst of gated requests costs one
// physical connect.
func authMiddleware(manager *auth.Manager, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/healthz" || path == "/status" || strings.HasPrefix(path, "/auth/") {
			next.ServeHTTP(w, r)
			return
		}
		snap, err := manager.EnsureConnected(r.Context())
		if err != nil {
			if errors.Is(err, auth.ErrNotConfigured) {
				api.WriteNeedsAuth(w, "API credentials not configured")
				return
			}
			api.WriteError(w, http.StatusInternalServerError, err)
			return
		}
		if !snap.Authenticated {
			api.WriteNeedsAuth(w, "Not authenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return strings.TrimSpace(xrip)
	}
	return clientIP(r.RemoteAddr)
}

func clientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
