// Package message parses the free-form chat text the bot receives: blog
// creation metadata, posts, and embedded upload references.
package message

import (
	"errors"
	"fmt"
	"strings"
)

// Metadata keys recognised in a blog creation message.
const (
	KeySubdomain = "SUBDOMAIN"
	KeyBlogName  = "BLOG_NAME"
	KeyAuthor    = "AUTHOR"
)

var (
	// ErrInvalidLine is returned for a metadata line without a ": " separator.
	ErrInvalidLine = errors.New("invalid metadata line")
	// ErrMissingField is returned when a required key is absent.
	ErrMissingField = errors.New("missing metadata field")
	// ErrInvalidSubdomain is returned when SUBDOMAIN is not a usable DNS label.
	ErrInvalidSubdomain = errors.New("invalid subdomain")
)

// Metadata holds the key/value pairs of a blog creation message.
type Metadata map[string]string

// Subdomain returns the requested subdomain.
func (m Metadata) Subdomain() string { return m[KeySubdomain] }

// BlogName returns the blog title, or "" when unset.
func (m Metadata) BlogName() string { return m[KeyBlogName] }

// Author returns the author display name, or "" when unset.
func (m Metadata) Author() string { return m[KeyAuthor] }

// ParseMetadata reads one "KEY: value" pair per line. The key ends at the
// first ": " so values may themselves contain ": ". Every line must have the
// separator and SUBDOMAIN must be present and a valid DNS label.
func ParseMetadata(text string) (Metadata, error) {
	m := Metadata{}
	for i, line := range lines(text) {
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			return nil, fmt.Errorf("line %d %q: %w", i+1, line, ErrInvalidLine)
		}
		m[key] = value
	}
	sub, ok := m[KeySubdomain]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, KeySubdomain)
	}
	if !ValidSubdomain(sub) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSubdomain, sub)
	}
	return m, nil
}

// ValidSubdomain reports whether s is a lowercase DNS label: 1-63 characters
// of a-z, 0-9 and '-', not starting or ending with '-'.
func ValidSubdomain(s string) bool {
	if len(s) == 0 || len(s) > 63 {
		return false
	}
	if s[0] == '-' || s[len(s)-1] == '-' {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-':
		default:
			return false
		}
	}
	return true
}

// lines splits text into lines without their terminators. A final newline
// does not start another line.
func lines(text string) []string {
	if text == "" {
		return nil
	}
	ls := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	for i, l := range ls {
		ls[i] = strings.TrimSuffix(l, "\r")
	}
	return ls
}
