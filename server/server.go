// Package server exposes the operator HTTP surface: health and readiness
// probes, Prometheus metrics, a read-only view of registered blogs, and an
// admin endpoint to rebuild a blog. Every request carries a correlation ID
// in its context for consistent logging.
package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hypertxt/blogbot/store"
	"github.com/hypertxt/blogbot/telemetry"
)

// BlogReader is the read side of the ownership store.
type BlogReader interface {
	Blogs(ctx context.Context) ([]store.Blog, error)
	Owner(ctx context.Context, subdomain string) (int64, bool, error)
	Posts(ctx context.Context, owner int64) ([]int64, error)
}

// Rebuilder re-runs the site build of one blog.
type Rebuilder interface {
	Rebuild(ctx context.Context, subdomain string) error
}

// Options carries the dependencies of the mux. Ready, when set, is an extra
// readiness check (for example, whether the listeners are subscribed).
type Options struct {
	DB        *sql.DB
	Blogs     BlogReader
	Rebuilder Rebuilder
	Auth      AuthConfig
	AdminRate int
	Ready     func() error
}

// NewMux returns the HTTP handler with all routes.
// The provided context bounds the rate limiter's cleanup goroutine.
func NewMux(ctx context.Context, opts Options) http.Handler {
	h := &Handlers{db: opts.DB, blogs: opts.Blogs, rebuilder: opts.Rebuilder, ready: opts.Ready}
	limiter := newIPRateLimiter(ctx, opts.AdminRate, time.Minute)
	admin := func(next http.HandlerFunc) http.Handler {
		return adminAuth(rateLimitMiddleware(next, limiter), opts.Auth)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.HandleFunc("GET /readyz", h.HandleReadyz)
	mux.HandleFunc("GET /blogs", h.HandleBlogs)
	mux.HandleFunc("GET /blogs/{subdomain}", h.HandleBlog)
	mux.Handle("POST /admin/blogs/{subdomain}/rebuild", admin(h.HandleAdminRebuild))

	return withCorrelation(mux)
}

// withCorrelation injects a correlation ID and a tracing span into each
// request and records the response status on the span.
func withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reuse corr header if provided else generate
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPAttrs(r.Method, r.URL.Path)...)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
	})
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, handler http.Handler, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Minute, // rebuilds run inside the request
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
