// Package store keeps the durable blog ownership records: which owner holds
// which subdomain (both directions, each unique) and each owner's ordered
// post index with the latest content per post. Every mutating call runs in a
// single transaction.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hypertxt/blogbot/config"
	"github.com/hypertxt/blogbot/db"
)

var (
	// ErrDuplicateOwner means the owner already holds a different subdomain.
	ErrDuplicateOwner = errors.New("owner already has a blog")
	// ErrSubdomainTaken means another owner holds the subdomain.
	ErrSubdomainTaken = errors.New("subdomain already taken")
	// ErrAlreadyRegistered means the exact owner/subdomain pair exists and the
	// store is configured to reject re-registration.
	ErrAlreadyRegistered = errors.New("blog already registered")
	// ErrUnregisteredOwner means the owner has no blog to post to.
	ErrUnregisteredOwner = errors.New("owner has no blog")
)

// Store is the ownership store. It is safe for concurrent use; correctness
// under concurrency comes from transactions plus the tables' unique keys.
type Store struct {
	db      *sql.DB
	dialect db.Dialect
	policy  config.ReregisterPolicy
	now     func() time.Time
}

// New returns a Store over an already migrated database.
func New(database *sql.DB, dialect db.Dialect, policy config.ReregisterPolicy) *Store {
	if policy == "" {
		policy = config.ReregisterReject
	}
	return &Store{db: database, dialect: dialect, policy: policy, now: time.Now}
}

func (s *Store) q(query string) string { return db.Rebind(s.dialect, query) }

type queryRower interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// lookup runs a single-column query and reports whether a row was found.
func lookup[T any](ctx context.Context, qr queryRower, query string, args ...any) (T, bool, error) {
	var v T
	err := qr.QueryRowContext(ctx, query, args...).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	return v, true, nil
}

// RegisterBlog records that owner holds subdomain. Both directions are read
// and written in one transaction so the owner→subdomain and
// subdomain→owner tables never disagree.
func (s *Store) RegisterBlog(ctx context.Context, owner int64, subdomain string) error {
	err := s.registerTx(ctx, owner, subdomain)
	if err == nil || !isConflict(err) {
		return err
	}
	// A concurrent registration won the race between our reads and inserts.
	// The rows it committed explain which rule we broke.
	if cerr := s.classify(ctx, owner, subdomain); cerr != nil {
		return cerr
	}
	return err
}

type conflictError struct{ err error }

func (e *conflictError) Error() string { return "constraint conflict: " + e.err.Error() }
func (e *conflictError) Unwrap() error { return e.err }

func isConflict(err error) bool {
	var ce *conflictError
	return errors.As(err, &ce)
}

func (s *Store) registerTx(ctx context.Context, owner int64, subdomain string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin register: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("rollback failed", slog.Any("err", rbErr), slog.String("component", "store"))
			}
		}
	}()

	if err := s.decide(ctx, tx, owner, subdomain); err != nil {
		if errors.Is(err, errExists) {
			return tx.Commit()
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO blog_owners(owner_id, subdomain) VALUES (?, ?)`), owner, subdomain); err != nil {
		return &conflictError{err: fmt.Errorf("insert blog_owners: %w", err)}
	}
	if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO blog_subdomains(subdomain, owner_id) VALUES (?, ?)`), subdomain, owner); err != nil {
		return &conflictError{err: fmt.Errorf("insert blog_subdomains: %w", err)}
	}
	if err := tx.Commit(); err != nil {
		return &conflictError{err: fmt.Errorf("commit register: %w", err)}
	}
	return nil
}

// errExists signals an accepted re-registration of an existing pair.
var errExists = errors.New("pair exists")

// decide applies the registration rules to the current rows. It returns nil
// when the pair may be inserted.
func (s *Store) decide(ctx context.Context, qr queryRower, owner int64, subdomain string) error {
	existingSub, ownerHas, err := lookup[string](ctx, qr, s.q(`SELECT subdomain FROM blog_owners WHERE owner_id = ?`), owner)
	if err != nil {
		return fmt.Errorf("read owner %d: %w", owner, err)
	}
	existingOwner, subTaken, err := lookup[int64](ctx, qr, s.q(`SELECT owner_id FROM blog_subdomains WHERE subdomain = ?`), subdomain)
	if err != nil {
		return fmt.Errorf("read subdomain %s: %w", subdomain, err)
	}

	switch {
	case ownerHas && existingSub == subdomain && subTaken && existingOwner == owner:
		if s.policy == config.ReregisterAccept {
			return errExists
		}
		return ErrAlreadyRegistered
	case ownerHas:
		return fmt.Errorf("%w: %s", ErrDuplicateOwner, existingSub)
	case subTaken:
		return ErrSubdomainTaken
	}
	return nil
}

func (s *Store) classify(ctx context.Context, owner int64, subdomain string) error {
	err := s.decide(ctx, s.db, owner, subdomain)
	if errors.Is(err, errExists) {
		return nil
	}
	return err
}

// AppendPost records postID under owner and stores its latest content. A new
// id goes to the end of the owner's index; an id already present keeps its
// position so edits do not reorder posts. It returns the owner's subdomain.
func (s *Store) AppendPost(ctx context.Context, owner, postID int64, content string) (subdomain string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin append: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("rollback failed", slog.Any("err", rbErr), slog.String("component", "store"))
			}
		}
	}()

	ownerQuery := `SELECT subdomain FROM blog_owners WHERE owner_id = ?`
	if s.dialect == db.Postgres {
		// Serializes appends for one owner so seq stays strictly increasing.
		ownerQuery += ` FOR UPDATE`
	}
	subdomain, ok, err := lookup[string](ctx, tx, s.q(ownerQuery), owner)
	if err != nil {
		return "", fmt.Errorf("read owner %d: %w", owner, err)
	}
	if !ok {
		return "", ErrUnregisteredOwner
	}

	_, present, err := lookup[int64](ctx, tx, s.q(`SELECT seq FROM owner_posts WHERE owner_id = ? AND post_id = ?`), owner, postID)
	if err != nil {
		return "", fmt.Errorf("read post %d: %w", postID, err)
	}
	if !present {
		var last int64
		if err := tx.QueryRowContext(ctx, s.q(`SELECT COALESCE(MAX(seq), 0) FROM owner_posts WHERE owner_id = ?`), owner).Scan(&last); err != nil {
			return "", fmt.Errorf("read last seq for %d: %w", owner, err)
		}
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO owner_posts(owner_id, post_id, seq) VALUES (?, ?, ?)`), owner, postID, last+1); err != nil {
			return "", fmt.Errorf("append post %d: %w", postID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO post_contents(post_id, owner_id, content, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(post_id) DO UPDATE SET content = excluded.content, owner_id = excluded.owner_id, updated_at = excluded.updated_at`),
		postID, owner, content, s.now().Unix()); err != nil {
		return "", fmt.Errorf("store content %d: %w", postID, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit append: %w", err)
	}
	return subdomain, nil
}
