// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required credentials (the Zulip bot account), use Validate.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // embedded zone database for minimal containers
)

// ReregisterPolicy decides what happens when an owner asks again for the
// subdomain it already owns.
type ReregisterPolicy string

const (
	// ReregisterReject answers with an "already registered" error.
	ReregisterReject ReregisterPolicy = "reject"
	// ReregisterAccept treats the request as a successful no-op.
	ReregisterAccept ReregisterPolicy = "accept"
)

type Config struct {
	// Zulip
	ZulipSite     string // e.g. https://recurse.zulipchat.com
	ZulipEmail    string
	ZulipAPIKey   string
	BotNameMarker string // sender display names containing this are ignored
	BotMention    string // stripped from post text

	// Event queue
	PollTimeout time.Duration
	RetryDelay  time.Duration
	APIRate     float64 // requests per second to the Zulip API, 0 = unlimited
	APIBurst    int

	// Blogs
	BlogRoot    string
	ThemesRoot  string
	StaticRoot  string
	UploadsRoot string
	BaseDomain  string
	BuildCmd    string
	TimeZone    string
	Reregister  ReregisterPolicy

	// Attachments
	AttachmentAttempts uint

	// Database
	DBDsn string

	// HTTP
	HTTPAddr   string
	AdminToken string
	// AdminUsername and AdminPassword enable basic auth on admin routes.
	AdminUsername string
	AdminPassword string
	// AdminRate limits admin requests per client IP (per minute).
	AdminRate int

	// Tracing
	OTLPEndpoint string
}

// Load reads environment variables and applies defaults. It doesn't fail if Zulip creds are missing;
// use Validate() before starting the listeners.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.ZulipSite = strings.TrimRight(os.Getenv("ZULIP_SITE"), "/")
	if cfg.ZulipSite == "" {
		cfg.ZulipSite = "https://recurse.zulipchat.com"
	}
	cfg.ZulipEmail = os.Getenv("ZULIP_EMAIL")
	cfg.ZulipAPIKey = os.Getenv("ZULIP_API_KEY")
	if cfg.ZulipAPIKey == "" {
		// legacy name used by the first deployment
		cfg.ZulipAPIKey = os.Getenv("BOT_PASSWORD")
	}
	cfg.BotNameMarker = envOr("BOT_NAME_MARKER", "Blog Bot")
	cfg.BotMention = envOr("BOT_MENTION", "@**Blog Bot (HyperTXT)**")

	var err error
	if cfg.PollTimeout, err = durationEnv("POLL_TIMEOUT", 90*time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryDelay, err = durationEnv("POLL_RETRY_DELAY", 2500*time.Millisecond); err != nil {
		return nil, err
	}
	if v := os.Getenv("ZULIP_API_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return nil, fmt.Errorf("invalid ZULIP_API_RPS %q", v)
		}
		cfg.APIRate = f
	} else {
		cfg.APIRate = 5
	}
	cfg.APIBurst = 5
	if v := os.Getenv("ZULIP_API_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid ZULIP_API_BURST %q", v)
		}
		cfg.APIBurst = n
	}

	cfg.BlogRoot = envOr("BLOG_ROOT", "data/blogs")
	cfg.ThemesRoot = envOr("THEMES_ROOT", "themes")
	cfg.StaticRoot = envOr("STATIC_ROOT", "data/public/sites")
	// Uploads live next to the per-blog output directories so every site can link /user_uploads/.
	cfg.UploadsRoot = os.Getenv("UPLOADS_ROOT")
	if cfg.UploadsRoot == "" {
		cfg.UploadsRoot = filepath.Dir(filepath.Clean(cfg.StaticRoot))
	}
	cfg.BaseDomain = envOr("BLOG_BASE_DOMAIN", "hypertxt.io")
	cfg.BuildCmd = envOr("BUILD_CMD", "zola")
	cfg.TimeZone = envOr("BLOG_TIMEZONE", "America/New_York")
	if _, err := time.LoadLocation(cfg.TimeZone); err != nil {
		return nil, fmt.Errorf("invalid BLOG_TIMEZONE: %w", err)
	}

	switch p := ReregisterPolicy(strings.ToLower(os.Getenv("REREGISTER_POLICY"))); p {
	case "", ReregisterReject:
		cfg.Reregister = ReregisterReject
	case ReregisterAccept:
		cfg.Reregister = ReregisterAccept
	default:
		return nil, fmt.Errorf("invalid REREGISTER_POLICY %q (want reject|accept)", p)
	}

	cfg.AttachmentAttempts = 3
	if v := os.Getenv("ATTACHMENT_ATTEMPTS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("invalid ATTACHMENT_ATTEMPTS %q", v)
		}
		cfg.AttachmentAttempts = uint(n)
	}

	cfg.DBDsn = os.Getenv("DB_DSN")
	if cfg.DBDsn == "" {
		cfg.DBDsn = "data/blogbot.db"
	}

	cfg.HTTPAddr = envOr("HTTP_ADDR", ":8080")
	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	cfg.AdminUsername = os.Getenv("ADMIN_USERNAME")
	cfg.AdminPassword = os.Getenv("ADMIN_PASSWORD")
	cfg.AdminRate = 10
	if v := os.Getenv("RATE_LIMIT_REQUESTS_PER_IP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT_REQUESTS_PER_IP %q", v)
		}
		cfg.AdminRate = n
	}
	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	return cfg, nil
}

// Validate checks the fields required to talk to Zulip.
func (c *Config) Validate() error {
	if c.ZulipSite == "" || c.ZulipEmail == "" || c.ZulipAPIKey == "" {
		return fmt.Errorf("missing zulip env: require ZULIP_SITE, ZULIP_EMAIL, ZULIP_API_KEY")
	}
	if c.BlogRoot == "" || c.StaticRoot == "" {
		return fmt.Errorf("missing blog env: require BLOG_ROOT, STATIC_ROOT")
	}
	return nil
}

// Location returns the time zone used for post dates.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return d, nil
}
