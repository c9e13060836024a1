package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hypertxt/blogbot/config"
	"github.com/hypertxt/blogbot/publish"
	"github.com/hypertxt/blogbot/store"
	"github.com/hypertxt/blogbot/testutil"
)

type fakeRebuilder struct {
	calls []string
	err   error
}

func (f *fakeRebuilder) Rebuild(_ context.Context, sub string) error {
	f.calls = append(f.calls, sub)
	return f.err
}

func newTestMux(t *testing.T, auth AuthConfig) (http.Handler, *store.Store, *fakeRebuilder) {
	t.Helper()
	database, dialect := testutil.SetupTestDB(t)
	st := store.New(database, dialect, config.ReregisterReject)
	rb := &fakeRebuilder{}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := NewMux(ctx, Options{DB: database, Blogs: st, Rebuilder: rb, Auth: auth, AdminRate: 100})
	return h, st, rb
}

func do(h http.Handler, method, path string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthzOK(t *testing.T) {
	h, _, _ := newTestMux(t, AuthConfig{})
	rr := do(h, http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Body.String(); got != "ok" {
		t.Fatalf("expected ok body, got %q", got)
	}
	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Error("missing X-Correlation-ID header")
	}
}

func TestCorrelationHeaderReused(t *testing.T) {
	h, _, _ := newTestMux(t, AuthConfig{})
	rr := do(h, http.MethodGet, "/healthz", map[string]string{"X-Correlation-ID": "abc-123"})
	if got := rr.Header().Get("X-Correlation-ID"); got != "abc-123" {
		t.Errorf("X-Correlation-ID = %q, want abc-123", got)
	}
}

func TestReadyz(t *testing.T) {
	database, dialect := testutil.SetupTestDB(t)
	st := store.New(database, dialect, config.ReregisterReject)

	tests := []struct {
		name       string
		ready      func() error
		wantStatus int
		wantCheck  string
	}{
		{"ready", nil, http.StatusOK, ""},
		{"listeners down", func() error { return errors.New("not subscribed") }, http.StatusServiceUnavailable, "listeners"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewMux(t.Context(), Options{DB: database, Blogs: st, Ready: tt.ready})
			rr := do(h, http.MethodGet, "/readyz", nil)
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body=%s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			var resp map[string]string
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp["failed_check"] != tt.wantCheck {
				t.Errorf("failed_check = %q, want %q", resp["failed_check"], tt.wantCheck)
			}
		})
	}
}

func TestBlogsEndpoints(t *testing.T) {
	h, st, _ := newTestMux(t, AuthConfig{})
	ctx := context.Background()
	if err := st.RegisterBlog(ctx, 1, "alice"); err != nil {
		t.Fatal(err)
	}
	for _, id := range []int64{30, 10} {
		if _, err := st.AppendPost(ctx, 1, id, "x"); err != nil {
			t.Fatal(err)
		}
	}

	rr := do(h, http.MethodGet, "/blogs", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /blogs = %d", rr.Code)
	}
	var list struct {
		Blogs []store.Blog `json:"blogs"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Blogs) != 1 || list.Blogs[0].Subdomain != "alice" || list.Blogs[0].Posts != 2 {
		t.Errorf("blogs = %+v", list.Blogs)
	}

	rr = do(h, http.MethodGet, "/blogs/alice", nil)
	var detail blogDetail
	if err := json.NewDecoder(rr.Body).Decode(&detail); err != nil {
		t.Fatal(err)
	}
	if detail.OwnerID != 1 || len(detail.Posts) != 2 || detail.Posts[0] != 30 || detail.Posts[1] != 10 {
		t.Errorf("detail = %+v", detail)
	}

	if rr := do(h, http.MethodGet, "/blogs/nobody", nil); rr.Code != http.StatusNotFound {
		t.Errorf("unknown blog = %d, want 404", rr.Code)
	}
	if rr := do(h, http.MethodGet, "/blogs/Bad_Name", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("invalid subdomain = %d, want 400", rr.Code)
	}
}

func TestAdminRebuild(t *testing.T) {
	auth := AuthConfig{Username: "admin", Password: "secret123", Token: "test-token-12345"}
	h, st, rb := newTestMux(t, auth)
	if err := st.RegisterBlog(context.Background(), 1, "alice"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		path       string
		hdr        map[string]string
		basic      bool
		wantStatus int
	}{
		{"no credentials", "/admin/blogs/alice/rebuild", nil, false, http.StatusUnauthorized},
		{"wrong token", "/admin/blogs/alice/rebuild", map[string]string{"X-Admin-Token": "nope"}, false, http.StatusUnauthorized},
		{"token", "/admin/blogs/alice/rebuild", map[string]string{"X-Admin-Token": "test-token-12345"}, false, http.StatusOK},
		{"bearer", "/admin/blogs/alice/rebuild", map[string]string{"Authorization": "Bearer test-token-12345"}, false, http.StatusOK},
		{"basic", "/admin/blogs/alice/rebuild", nil, true, http.StatusOK},
		{"unknown blog", "/admin/blogs/bob/rebuild", map[string]string{"X-Admin-Token": "test-token-12345"}, false, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			for k, v := range tt.hdr {
				req.Header.Set(k, v)
			}
			if tt.basic {
				req.SetBasicAuth("admin", "secret123")
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d, body=%s", rr.Code, tt.wantStatus, rr.Body.String())
			}
		})
	}
	if len(rb.calls) != 3 {
		t.Errorf("rebuild calls = %v, want 3", rb.calls)
	}
}

func TestAdminRebuildFailure(t *testing.T) {
	h, st, rb := newTestMux(t, AuthConfig{})
	if err := st.RegisterBlog(context.Background(), 1, "alice"); err != nil {
		t.Fatal(err)
	}
	rb.err = publish.ErrBuildFailed
	rr := do(h, http.MethodPost, "/admin/blogs/alice/rebuild", nil)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "failed") {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestAdminRouteRejectsGet(t *testing.T) {
	h, _, _ := newTestMux(t, AuthConfig{})
	if rr := do(h, http.MethodGet, "/admin/blogs/alice/rebuild", nil); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET admin rebuild = %d, want 405", rr.Code)
	}
}

func TestStartAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Start(ctx, http.NotFoundHandler(), "127.0.0.1:0") }()

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("server returned error: %v", err)
	}
}
