// Command blogbot is the main entrypoint for the HyperTXT blog bot.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the ownership store (Postgres or SQLite) and runs migrations.
//   - Starts three event listeners against the chat platform: direct
//     messages (create a blog), mentions (add a post) and mention edits
//     (update a post).
//   - Exposes a small HTTP server with /healthz, /readyz, /metrics, the
//     blog list and an admin rebuild endpoint.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/hypertxt/blogbot/attachment"
	"github.com/hypertxt/blogbot/bot"
	"github.com/hypertxt/blogbot/chat"
	"github.com/hypertxt/blogbot/config"
	"github.com/hypertxt/blogbot/db"
	"github.com/hypertxt/blogbot/publish"
	"github.com/hypertxt/blogbot/server"
	"github.com/hypertxt/blogbot/store"
	"github.com/hypertxt/blogbot/telemetry"
	"github.com/hypertxt/blogbot/zulip"
)

var version = "dev"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config invalid", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing(cfg.OTLPEndpoint, "blogbot", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	database, dialect, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("running database migrations", slog.String("dialect", string(dialect)), slog.String("component", "db_migrate"))
	if err := db.Setup(ctx, database, dialect); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err), slog.String("component", "db_migrate"))
		os.Exit(1)
	}

	client := &zulip.Client{
		BaseURL:     cfg.ZulipSite,
		Email:       cfg.ZulipEmail,
		APIKey:      cfg.ZulipAPIKey,
		PollTimeout: cfg.PollTimeout,
	}
	if cfg.APIRate > 0 {
		client.Limiter = rate.NewLimiter(rate.Limit(cfg.APIRate), cfg.APIBurst)
	}

	st := store.New(database, dialect, cfg.Reregister)
	pipeline := publish.New(cfg)
	b := &bot.Bot{
		Store:     st,
		Publisher: pipeline,
		Attachments: &attachment.Resolver{
			Fetcher:  client,
			Root:     cfg.UploadsRoot,
			Attempts: cfg.AttachmentAttempts,
		},
		Location: cfg.Location(),
		Mention:  cfg.BotMention,
	}

	status := chat.NewStatus()
	handler := server.NewMux(ctx, server.Options{
		DB:        database,
		Blogs:     st,
		Rebuilder: pipeline,
		Auth:      server.AuthConfig{Username: cfg.AdminUsername, Password: cfg.AdminPassword, Token: cfg.AdminToken},
		AdminRate: cfg.AdminRate,
		Ready:     status.Ready,
	})
	go func() {
		if err := server.Start(ctx, handler, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	slog.Info("starting listeners", slog.String("site", cfg.ZulipSite), slog.String("version", version))
	err = chat.StartListeners(ctx, client, b, chat.ListenerConfig{
		BotMarker:  cfg.BotNameMarker,
		RetryDelay: cfg.RetryDelay,
		Status:     status,
	})
	if err != nil {
		// The remaining listeners ran until shutdown; /readyz reported the gap.
		slog.Error("a listener failed to subscribe", slog.Any("err", err))
	}
	slog.Info("shutting down")
}

// setupLogging configures the default logger from LOG_LEVEL and LOG_FORMAT.
// Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}
