// Package attachment copies files uploaded to the chat platform into the
// local static tree so published posts can reference them. Fetching is
// best-effort: each reference gets its own outcome and a failure never stops
// the remaining references.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/hypertxt/blogbot/telemetry"
	"github.com/hypertxt/blogbot/zulip"
)

// Fetcher downloads one upload reference to a local path.
type Fetcher interface {
	DownloadUpload(ctx context.Context, ref, dst string) (int64, error)
}

// Status is the result of resolving one reference.
type Status int

const (
	Skipped Status = iota
	Downloaded
	Failed
)

func (s Status) String() string {
	switch s {
	case Skipped:
		return "skipped"
	case Downloaded:
		return "downloaded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome reports what happened to one reference.
type Outcome struct {
	Ref    string
	Path   string
	Status Status
	Bytes  int64
	Err    error
}

// ErrOutsideRoot is returned for references that would land outside Root.
var ErrOutsideRoot = errors.New("upload reference escapes destination root")

// Resolver fetches upload references into Root, mirroring the reference path
// (/user_uploads/1/ab/x.png lands at Root/user_uploads/1/ab/x.png).
type Resolver struct {
	Fetcher  Fetcher
	Root     string
	Attempts uint          // total tries per reference; 0 means 3
	Delay    time.Duration // initial backoff; 0 means 500ms
	Logger   *slog.Logger
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default().With(slog.String("component", "attachment"))
}

// Destination maps ref to its file path under root.
func Destination(root, ref string) (string, error) {
	dst := filepath.Join(root, filepath.FromSlash(strings.TrimLeft(ref, "/")))
	rel, err := filepath.Rel(root, dst)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, ref)
	}
	return dst, nil
}

// Resolve processes refs one after another and returns one outcome per ref in
// the same order.
func (r *Resolver) Resolve(ctx context.Context, refs []string) []Outcome {
	out := make([]Outcome, 0, len(refs))
	for _, ref := range refs {
		out = append(out, r.ResolveOne(ctx, ref))
	}
	return out
}

// ResolveOne fetches ref unless its destination already exists.
func (r *Resolver) ResolveOne(ctx context.Context, ref string) Outcome {
	o := Outcome{Ref: ref}
	dst, err := Destination(r.Root, ref)
	if err != nil {
		return r.fail(o, err)
	}
	o.Path = dst

	if _, err := os.Stat(dst); err == nil {
		o.Status = Skipped
		telemetry.Inc(telemetry.AttachmentsSkipped)
		r.logger().Debug("upload already present", slog.String("ref", ref), slog.String("path", dst))
		return o
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return r.fail(o, fmt.Errorf("create %s: %w", filepath.Dir(dst), err))
	}

	attempts := r.Attempts
	if attempts == 0 {
		attempts = 3
	}
	delay := r.Delay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	err = retry.Do(
		func() error {
			n, err := r.Fetcher.DownloadUpload(ctx, ref, dst)
			if err != nil {
				return err
			}
			o.Bytes = n
			return nil
		},
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.MaxDelay(10*delay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			r.logger().Info("retrying upload download", slog.String("ref", ref), slog.Uint64("attempt", uint64(n)), slog.Any("err", err))
		}),
		retry.RetryIf(func(err error) bool {
			// Bad credentials or a missing upload will not fix themselves.
			if zulip.Classify(err) == zulip.ClassAuth {
				return false
			}
			var apiErr *zulip.APIError
			return !errors.As(err, &apiErr) || apiErr.Status >= 500 || apiErr.Status == 429
		}),
	)
	if err != nil {
		return r.fail(o, err)
	}
	o.Status = Downloaded
	telemetry.Inc(telemetry.AttachmentsFetched)
	r.logger().Info("upload downloaded", slog.String("ref", ref), slog.String("path", dst), slog.Int64("bytes", o.Bytes))
	return o
}

func (r *Resolver) fail(o Outcome, err error) Outcome {
	o.Status = Failed
	o.Err = err
	telemetry.Inc(telemetry.AttachmentsFailed)
	r.logger().Warn("upload fetch failed", slog.String("ref", o.Ref), slog.Any("err", err))
	return o
}

// Failures joins the errors of failed outcomes, or returns nil when every
// reference was skipped or downloaded.
func Failures(outcomes []Outcome) error {
	var errs []error
	for _, o := range outcomes {
		if o.Status == Failed {
			errs = append(errs, fmt.Errorf("%s: %w", o.Ref, o.Err))
		}
	}
	return errors.Join(errs...)
}
