package zulip

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ResolveUpload exchanges an upload reference (/user_uploads/...) for a
// short-lived URL that serves the file without further redirects.
func (c *Client) ResolveUpload(ctx context.Context, ref string) (string, error) {
	if !strings.HasPrefix(ref, "/user_uploads/") {
		return "", fmt.Errorf("resolve upload: not an upload reference: %q", ref)
	}
	var body struct {
		URL string `json:"url"`
	}
	if err := c.call(ctx, http.MethodGet, ref, nil, &body); err != nil {
		return "", fmt.Errorf("resolve upload %s: %w", ref, err)
	}
	if body.URL == "" {
		return "", fmt.Errorf("resolve upload %s: %w: empty url", ref, ErrMalformedResponse)
	}
	return body.URL, nil
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}

// DownloadUpload resolves ref and streams the file to dst. The bytes land in
// a temporary sibling first so dst never holds a partial download.
func (c *Client) DownloadUpload(ctx context.Context, ref, dst string) (int64, error) {
	tempURL, err := c.ResolveUpload(ctx, ref)
	if err != nil {
		return 0, err
	}
	realm, err := url.Parse(c.BaseURL)
	if err != nil {
		return 0, fmt.Errorf("parse realm url: %w", err)
	}
	target, err := realm.Parse(tempURL)
	if err != nil {
		return 0, fmt.Errorf("download upload %s: %w: bad url %q", ref, ErrMalformedResponse, tempURL)
	}
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return 0, err
	}
	// Signed links may point at an object store; credentials stay on the realm.
	if sameOrigin(realm, target) {
		req.SetBasicAuth(c.Email, c.APIKey)
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return 0, fmt.Errorf("download upload %s: %w", ref, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusUnauthorized {
		return 0, fmt.Errorf("download upload %s: %w", ref, ErrUnauthorized)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download upload %s: %w", ref, &APIError{Status: resp.StatusCode, Msg: resp.Status})
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file for %s: %w", dst, err)
	}
	n, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())
		if copyErr != nil {
			return 0, fmt.Errorf("write %s: %w", dst, copyErr)
		}
		return 0, fmt.Errorf("close %s: %w", dst, closeErr)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, fmt.Errorf("rename into %s: %w", dst, err)
	}
	return n, nil
}
