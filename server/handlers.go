package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hypertxt/blogbot/message"
	"github.com/hypertxt/blogbot/publish"
	"github.com/hypertxt/blogbot/telemetry"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db        *sql.DB
	blogs     BlogReader
	rebuilder Rebuilder
	ready     func() error
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type readyCheck struct {
	name string
	fn   func(ctx context.Context) error
}

// HandleReadyz checks the database, the schema, and any extra readiness hook.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []readyCheck{
		{"database", h.db.PingContext},
		{"schema", func(ctx context.Context) error {
			var n int
			return h.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM blog_owners").Scan(&n)
		}},
	}
	if h.ready != nil {
		checks = append(checks, readyCheck{"listeners", func(context.Context) error { return h.ready() }})
	}

	for _, check := range checks {
		if err := check.fn(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleBlogs lists registered blogs with their post counts.
func (h *Handlers) HandleBlogs(w http.ResponseWriter, r *http.Request) {
	blogs, err := h.blogs.Blogs(r.Context())
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("list blogs", slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blogs": blogs})
}

type blogDetail struct {
	Subdomain string  `json:"subdomain"`
	OwnerID   int64   `json:"owner_id"`
	Posts     []int64 `json:"posts"`
}

// HandleBlog returns one blog with its ordered post index.
func (h *Handlers) HandleBlog(w http.ResponseWriter, r *http.Request) {
	sub := r.PathValue("subdomain")
	if !message.ValidSubdomain(sub) {
		http.Error(w, "invalid subdomain", http.StatusBadRequest)
		return
	}
	owner, ok, err := h.blogs.Owner(r.Context(), sub)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("lookup blog", slog.String("subdomain", sub), slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	posts, err := h.blogs.Posts(r.Context(), owner)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("list posts", slog.String("subdomain", sub), slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if posts == nil {
		posts = []int64{}
	}
	writeJSON(w, http.StatusOK, blogDetail{Subdomain: sub, OwnerID: owner, Posts: posts})
}

// HandleAdminRebuild re-runs the site build of a registered blog.
func (h *Handlers) HandleAdminRebuild(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "http"))
	sub := r.PathValue("subdomain")
	if !message.ValidSubdomain(sub) {
		http.Error(w, "invalid subdomain", http.StatusBadRequest)
		return
	}
	if _, ok, err := h.blogs.Owner(ctx, sub); err != nil {
		logger.Error("lookup blog", slog.String("subdomain", sub), slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	} else if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if err := h.rebuilder.Rebuild(ctx, sub); err != nil {
		logger.Error("admin rebuild failed", slog.String("subdomain", sub), slog.Any("err", err))
		status := http.StatusInternalServerError
		if errors.Is(err, publish.ErrBuildFailed) {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, map[string]string{"status": "failed", "subdomain": sub, "error": err.Error()})
		return
	}
	logger.Info("admin rebuild", slog.String("subdomain", sub))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "subdomain": sub})
}
