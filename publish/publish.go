// Package publish turns stored posts into a built static site: it scaffolds
// a generator project per blog, writes each post as a Markdown file with
// front matter and runs the site build into a directory keyed by subdomain.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/hypertxt/blogbot/config"
	"github.com/hypertxt/blogbot/message"
	"github.com/hypertxt/blogbot/telemetry"
)

// Pipeline owns the on-disk layout:
//
//	BlogRoot/<sub>/config.toml
//	BlogRoot/<sub>/content/<postID>.md
//	BlogRoot/<sub>/themes -> ThemesRoot
//	StaticRoot/<sub>/        build output
type Pipeline struct {
	BlogRoot   string
	ThemesRoot string
	StaticRoot string
	BaseDomain string
	Builder    Builder
	Logger     *slog.Logger

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// New builds a Pipeline from configuration using the zola builder.
func New(cfg *config.Config) *Pipeline {
	return &Pipeline{
		BlogRoot:   cfg.BlogRoot,
		ThemesRoot: cfg.ThemesRoot,
		StaticRoot: cfg.StaticRoot,
		BaseDomain: cfg.BaseDomain,
		Builder:    ZolaBuilder{Cmd: cfg.BuildCmd},
	}
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default().With(slog.String("component", "publish"))
}

// acquire takes the build slot for subdomain. Builds for one blog run one at
// a time; different blogs build in parallel.
func (p *Pipeline) acquire(ctx context.Context, subdomain string) (func(), error) {
	p.mu.Lock()
	if p.locks == nil {
		p.locks = make(map[string]chan struct{})
	}
	slot, ok := p.locks[subdomain]
	if !ok {
		slot = make(chan struct{}, 1)
		p.locks[subdomain] = slot
	}
	p.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// BlogDir is the generator project directory for subdomain.
func (p *Pipeline) BlogDir(subdomain string) string {
	return filepath.Join(p.BlogRoot, subdomain)
}

// OutputDir is the build output directory for subdomain.
func (p *Pipeline) OutputDir(subdomain string) string {
	return filepath.Join(p.StaticRoot, subdomain)
}

// URL is the public address of a blog.
func (p *Pipeline) URL(subdomain string) string {
	return "https://" + subdomain + "." + p.BaseDomain
}

type siteConfig struct {
	BaseURL          string            `toml:"base_url"`
	Title            string            `toml:"title"`
	CompileSass      bool              `toml:"compile_sass"`
	BuildSearchIndex bool              `toml:"build_search_index"`
	GenerateFeeds    bool              `toml:"generate_feeds"`
	Markdown         map[string]any    `toml:"markdown"`
	Extra            map[string]string `toml:"extra"`
}

// CreateBlog scaffolds the generator project for a new blog and builds it
// once so the site exists before the first post. Existing directories and
// the themes link are left in place.
func (p *Pipeline) CreateBlog(ctx context.Context, subdomain string, meta message.Metadata) error {
	dir := p.BlogDir(subdomain)
	for _, d := range []string{dir, filepath.Join(dir, "content"), filepath.Join(dir, "templates")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}

	themes, err := filepath.Abs(p.ThemesRoot)
	if err != nil {
		return fmt.Errorf("resolve themes root: %w", err)
	}
	link := filepath.Join(dir, "themes")
	if _, err := os.Lstat(link); errors.Is(err, os.ErrNotExist) {
		if err := os.Symlink(themes, link); err != nil {
			return fmt.Errorf("link themes: %w", err)
		}
	}

	title := meta.BlogName()
	if title == "" {
		title = subdomain
	}
	cfg := siteConfig{
		BaseURL:       p.URL(subdomain),
		Title:         title,
		GenerateFeeds: true,
		Markdown:      map[string]any{"highlight_code": true},
		Extra: map[string]string{
			"user_domain": subdomain + "." + p.BaseDomain,
			"blog_name":   meta.BlogName(),
			"author_name": meta.Author(),
		},
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config.toml: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, "config.toml"), data); err != nil {
		return err
	}
	p.logger().Info("blog scaffolded", slog.String("subdomain", subdomain), slog.String("dir", dir))
	return p.Rebuild(ctx, subdomain)
}

type frontMatter struct {
	Title string `yaml:"title"`
	Date  string `yaml:"date"`
}

// PostPath is where the post postID of subdomain is materialized.
func (p *Pipeline) PostPath(subdomain string, postID int64) string {
	return filepath.Join(p.BlogDir(subdomain), "content", strconv.FormatInt(postID, 10)+".md")
}

// MaterializeContent writes the post as Markdown with YAML front matter.
// Writing the same post again replaces the file.
func (p *Pipeline) MaterializeContent(subdomain string, postID int64, post message.Post) (string, error) {
	fm, err := yaml.Marshal(frontMatter{Title: post.Title, Date: post.Date.Format(time.RFC3339)})
	if err != nil {
		return "", fmt.Errorf("encode front matter: %w", err)
	}
	var buf []byte
	buf = append(buf, "---\n"...)
	buf = append(buf, fm...)
	buf = append(buf, "---\n\n"...)
	buf = append(buf, post.Body...)
	buf = append(buf, '\n')

	path := p.PostPath(subdomain, postID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create content dir: %w", err)
	}
	if err := writeFileAtomic(path, buf); err != nil {
		return "", err
	}
	return path, nil
}

// RunBuild invokes the builder for one blog and records its duration.
func (p *Pipeline) RunBuild(ctx context.Context, contentRoot, outputRoot string) error {
	var err error
	d := telemetry.TimeFunc(telemetry.BuildDuration, func() {
		err = p.Builder.Build(ctx, contentRoot, outputRoot)
	})
	if err != nil {
		telemetry.Inc(telemetry.BuildsFailed)
		p.logger().Error("site build failed", slog.String("dir", contentRoot), slog.Duration("took", d), slog.Any("err", err))
		if !errors.Is(err, ErrBuildFailed) {
			err = fmt.Errorf("%w: %v", ErrBuildFailed, err)
		}
		return err
	}
	p.logger().Info("site built", slog.String("dir", contentRoot), slog.String("out", outputRoot), slog.Duration("took", d))
	return nil
}

// Publish materializes the post and rebuilds its blog.
func (p *Pipeline) Publish(ctx context.Context, subdomain string, postID int64, post message.Post) error {
	release, err := p.acquire(ctx, subdomain)
	if err != nil {
		return err
	}
	defer release()
	if _, err := p.MaterializeContent(subdomain, postID, post); err != nil {
		return err
	}
	return p.RunBuild(ctx, p.BlogDir(subdomain), p.OutputDir(subdomain))
}

// Rebuild runs the build for an existing blog without touching content.
func (p *Pipeline) Rebuild(ctx context.Context, subdomain string) error {
	if _, err := os.Stat(filepath.Join(p.BlogDir(subdomain), "config.toml")); err != nil {
		return fmt.Errorf("blog %s not scaffolded: %w", subdomain, err)
	}
	release, err := p.acquire(ctx, subdomain)
	if err != nil {
		return err
	}
	defer release()
	return p.RunBuild(ctx, p.BlogDir(subdomain), p.OutputDir(subdomain))
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
