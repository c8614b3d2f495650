package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"rental-admin-sync/middleware/coordination/application"
	"rental-admin-sync/middleware/coordination/domain"
	"rental-admin-sync/middleware/coordination/infra"
)

// Backend de exemplo: guarda quem alterou cada recurso por último e expõe o
// endpoint de última modificação consumido pelo syncwatch.
func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	store := infra.NewStore(5, 10)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	store.StartJanitor(ctx)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(newResources(), store, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}

type resource struct {
	lastModified time.Time
	modifiedBy   string
}

type resources struct {
	mu    sync.RWMutex
	items map[string]resource
}

func newResources() *resources {
	return &resources{items: make(map[string]resource)}
}

func (s *resources) get(id string) (resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.items[id]
	return r, ok
}

func (s *resources) touch(id, by string, at time.Time) resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := resource{lastModified: at, modifiedBy: by}
	s.items[id] = r
	return r
}

type timestampBody struct {
	LastModified *int64  `json:"last_modified"`
	ModifiedBy   *string `json:"modified_by"`
}

func toBody(r resource, ok bool) timestampBody {
	if !ok {
		return timestampBody{}
	}
	ms := r.lastModified.UnixMilli()
	body := timestampBody{LastModified: &ms}
	if r.modifiedBy != "" {
		by := r.modifiedBy
		body.ModifiedBy = &by
	}
	return body
}

func newRouter(res *resources, limiters domain.LimiterStore, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(rateLimit(limiters, time.Second))

	r.Get("/api/resources/{id}/last-modified", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		rec, ok := res.get(id)
		writeJSON(w, http.StatusOK, toBody(rec, ok))
	})

	// simula a alteração feita por outro usuário
	r.Post("/api/resources/{id}/touch", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		by := req.URL.Query().Get("by")
		if by == "" {
			by = "anonymous"
		}
		rec := res.touch(id, by, time.Now())
		logger.Info("resource touched", zap.String("resource_id", id), zap.String("modified_by", by))
		writeJSON(w, http.StatusOK, toBody(rec, true))
	})

	return r
}

// rateLimit responde 429 por IP de origem usando o mesmo token bucket do cliente.
func rateLimit(limiters domain.LimiterStore, retryAfter time.Duration) func(http.Handler) http.Handler {
	throttle := application.Throttle{Store: limiters, RetryAfter: retryAfter}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil || key == "" {
				key = r.RemoteAddr
			}
			dec := throttle.Decide(domain.Key(key))
			if !dec.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(dec.RetryAfter.Seconds())))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
