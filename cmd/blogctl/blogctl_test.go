package main

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/hypertxt/blogbot/config"
	"github.com/hypertxt/blogbot/db"
	"github.com/hypertxt/blogbot/message"
	"github.com/hypertxt/blogbot/publish"
	"github.com/hypertxt/blogbot/store"
)

// seed creates a SQLite database with one blog and two posts and points
// the CLI's environment at it.
func seed(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dsn := filepath.Join(dir, "blogbot.db")
	t.Setenv("DB_DSN", dsn)
	t.Setenv("BLOG_ROOT", filepath.Join(dir, "blogs"))
	t.Setenv("THEMES_ROOT", filepath.Join(dir, "themes"))
	t.Setenv("STATIC_ROOT", filepath.Join(dir, "static"))

	database, dialect, err := db.Connect(dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()
	ctx := context.Background()
	if err := db.Setup(ctx, database, dialect); err != nil {
		t.Fatal(err)
	}
	st := store.New(database, dialect, config.ReregisterReject)
	if err := st.RegisterBlog(ctx, 7, "alice"); err != nil {
		t.Fatal(err)
	}
	for _, id := range []int64{20, 10} {
		if _, err := st.AppendPost(ctx, 7, id, "# Post "+strconv.FormatInt(id, 10)); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBlogsAndPosts(t *testing.T) {
	seed(t)

	out, err := run(t, "blogs")
	if err != nil {
		t.Fatalf("blogs: %v", err)
	}
	if strings.TrimSpace(out) != "alice\t7\t2" {
		t.Errorf("blogs output = %q", out)
	}

	out, err = run(t, "posts", "7")
	if err != nil {
		t.Fatalf("posts: %v", err)
	}
	if out != "20\n10\n" {
		t.Errorf("posts output = %q, want 20 then 10", out)
	}

	out, err = run(t, "post", "10")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if strings.TrimSpace(out) != "# Post 10" {
		t.Errorf("post output = %q", out)
	}
}

func TestArgumentErrors(t *testing.T) {
	seed(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad owner id", []string{"posts", "abc"}, "invalid owner id"},
		{"missing post", []string{"post", "999"}, "not found"},
		{"bad subdomain", []string{"rebuild", "Not_Valid"}, "invalid subdomain"},
		{"sqlite has no versions", []string{"migrate", "version"}, "only used with Postgres"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestRebuild(t *testing.T) {
	dir := seed(t)
	if _, err := run(t, "rebuild", "bob"); !errors.Is(err, errUnknownBlog) {
		t.Errorf("rebuild unknown = %v, want errUnknownBlog", err)
	}

	truePath, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true binary not available")
	}
	t.Setenv("BUILD_CMD", truePath)
	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if err := publish.New(cfg).CreateBlog(context.Background(), "alice", message.Metadata{message.KeySubdomain: "alice"}); err != nil {
		t.Fatalf("scaffold: %v", err)
	}

	out, err := run(t, "rebuild", "alice")
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if !strings.Contains(out, filepath.Join(dir, "static", "alice")) {
		t.Errorf("rebuild output = %q", out)
	}
}

func TestMigrateUp(t *testing.T) {
	seed(t)
	out, err := run(t, "migrate", "up")
	if err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if !strings.Contains(out, "up to date") {
		t.Errorf("output = %q", out)
	}
}
