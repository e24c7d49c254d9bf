package sessionruntime

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const EventsPath = "/slack/events"

type RoutesOptions struct {
	Mode          string
	AuthToken     string
	SessionReader SessionReader
	HealthEnabled bool
	// Events receives Slack Events API callbacks when set.
	Events http.Handler
}

func NewRouter(opts RoutesOptions) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	RegisterRoutes(r, opts)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}

func RegisterRoutes(r chi.Router, opts RoutesOptions) {
	if r == nil {
		return
	}
	mode := strings.TrimSpace(opts.Mode)
	authToken := strings.TrimSpace(opts.AuthToken)
	reader := opts.SessionReader

	if opts.HealthEnabled {
		health := func(w http.ResponseWriter, r *http.Request) {
			payload := map[string]any{
				"ok":   true,
				"time": time.Now().Format(time.RFC3339Nano),
			}
			if mode != "" {
				payload["mode"] = mode
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			if r.Method == http.MethodHead {
				return
			}
			_ = json.NewEncoder(w).Encode(payload)
		}
		r.Get("/health", health)
		r.Head("/health", health)
	}

	if opts.Events != nil {
		r.Method(http.MethodPost, EventsPath, opts.Events)
	}

	r.Group(func(r chi.Router) {
		r.Use(requireBearer(authToken))
		r.Get("/sessions", func(w http.ResponseWriter, r *http.Request) {
			if reader == nil {
				http.Error(w, "session reader is unavailable", http.StatusServiceUnavailable)
				return
			}
			status, ok := ParseSessionStatus(r.URL.Query().Get("status"))
			if !ok {
				http.Error(w, "invalid status", http.StatusBadRequest)
				return
			}
			limit := 20
			if rawLimit := strings.TrimSpace(r.URL.Query().Get("limit")); rawLimit != "" {
				parsed, err := strconv.Atoi(rawLimit)
				if err != nil || parsed <= 0 {
					http.Error(w, "invalid limit", http.StatusBadRequest)
					return
				}
				limit = parsed
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"items": reader.List(status, limit)})
		})
		r.Get("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
			if reader == nil {
				http.Error(w, "session reader is unavailable", http.StatusServiceUnavailable)
				return
			}
			info, ok := reader.Get(chi.URLParam(r, "id"))
			if !ok || info == nil {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(info)
		})
	})
}

type ServerOptions struct {
	Listen string
	Routes RoutesOptions
}

func StartServer(ctx context.Context, logger *slog.Logger, opts ServerOptions) (*http.Server, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	listen := strings.TrimSpace(opts.Listen)
	if listen == "" {
		return nil, errors.New("empty server listen address")
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{
		Addr:              listen,
		Handler:           NewRouter(opts.Routes),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("session_server_error", "addr", listen, "error", err.Error())
		}
	}()

	logger.Info("session_server_start",
		"addr", ln.Addr().String(),
		"mode", strings.TrimSpace(opts.Routes.Mode),
		"health_enabled", opts.Routes.HealthEnabled,
		"events_enabled", opts.Routes.Events != nil,
	)
	return srv, nil
}

func requireBearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !checkAuth(r, token) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func checkAuth(r *http.Request, token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	got := strings.TrimSpace(r.Header.Get("Authorization"))
	want := "Bearer " + token
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
