package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrBuildFailed is returned when the site generator exits non-zero or
// cannot be started.
var ErrBuildFailed = errors.New("site build failed")

// Builder renders the site in contentRoot into outputRoot.
type Builder interface {
	Build(ctx context.Context, contentRoot, outputRoot string) error
}

// ZolaBuilder runs `<Cmd> build --force --output-dir <out>` inside the blog
// directory.
type ZolaBuilder struct {
	Cmd string // executable name or path; "" means "zola"
}

// outputTail bounds how much build output is kept in errors.
const outputTail = 2048

func (z ZolaBuilder) Build(ctx context.Context, contentRoot, outputRoot string) error {
	name := z.Cmd
	if name == "" {
		name = "zola"
	}
	cmd := exec.CommandContext(ctx, name, "build", "--force", "--output-dir", outputRoot)
	cmd.Dir = contentRoot
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		tail := strings.TrimSpace(out.String())
		if len(tail) > outputTail {
			tail = "..." + tail[len(tail)-outputTail:]
		}
		if tail == "" {
			return fmt.Errorf("%w: %s: %v", ErrBuildFailed, name, err)
		}
		return fmt.Errorf("%w: %s: %v: %s", ErrBuildFailed, name, err, tail)
	}
	return nil
}
